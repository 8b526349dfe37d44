// ABOUTME: Snapshot data model: business profile, pipeline definition, lead records
// ABOUTME: Snapshots are deep-copy-on-write; holders never mutate one in place

package state

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAgent  Role = "agent"
	RoleLead   Role = "lead"
	RoleSystem Role = "system"
)

// Message is a single conversation entry. Conversations are append-only.
type Message struct {
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// FieldSpec describes one piece of information a stage collects from a lead.
type FieldSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StageSpec is one named step of the pipeline. Ordinals are 1-based and
// contiguous across a PipelineDefinition.
type StageSpec struct {
	Ordinal        int         `json:"ordinal"`
	Name           string      `json:"name"`
	Goal           string      `json:"goal"`
	EntryCondition string      `json:"entryCondition"`
	Tags           []string    `json:"tags"`
	Fields         []FieldSpec `json:"fields"`
}

// PipelineDefinition is the ordered sequence of stages a lead progresses
// through. Once installed, the stage count never changes.
type PipelineDefinition struct {
	Stages    []StageSpec `json:"stages"`
	CreatedAt time.Time   `json:"createdAt"`
}

// StageCount returns the number of stages N; ordinals span 1..N.
func (p *PipelineDefinition) StageCount() int {
	if p == nil {
		return 0
	}
	return len(p.Stages)
}

// Stage returns the stage with the given ordinal, or nil if out of range.
func (p *PipelineDefinition) Stage(ordinal int) *StageSpec {
	if p == nil || ordinal < 1 || ordinal > len(p.Stages) {
		return nil
	}
	return &p.Stages[ordinal-1]
}

// DocumentRef points at an uploaded reference document on disk.
type DocumentRef struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// BusinessProfile holds the owner's business description, uploaded reference
// documents, and the owner's pipeline-building conversation transcript.
// Immutable after the pipeline is ready except by explicit reset.
type BusinessProfile struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Documents   []DocumentRef `json:"documents,omitempty"`
	Transcript  []Message     `json:"transcript,omitempty"`
}

// LeadRecord is one external contact being advanced through the pipeline.
// The ID is assigned at session creation and is stable for the lead's
// lifetime.
type LeadRecord struct {
	ID            string            `json:"id"`
	DisplayName   string            `json:"displayName"`
	Contact       map[string]string `json:"contact"`
	CurrentStage  int               `json:"currentStage"`
	Tags          []string          `json:"tags"`
	CreatedAt     time.Time         `json:"createdAt"`
	LastUpdatedAt time.Time         `json:"lastUpdatedAt"`
	Conversation  []Message         `json:"conversation"`
}

// Snapshot is the complete synchronized state at one instant. It is the unit
// of persistence and the input to every view projection.
type Snapshot struct {
	Profile  BusinessProfile        `json:"businessProfile"`
	Pipeline *PipelineDefinition    `json:"pipelineDefinition"`
	Leads    map[string]*LeadRecord `json:"leads"`
}

// NewSnapshot returns the empty snapshot identical to process start.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Leads: make(map[string]*LeadRecord),
	}
}

// Clone returns a deep copy. The clone shares nothing with the receiver, so
// mutating it cannot be observed through previously handed-out snapshots.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Profile: BusinessProfile{
			Name:        s.Profile.Name,
			Description: s.Profile.Description,
			Documents:   append([]DocumentRef(nil), s.Profile.Documents...),
			Transcript:  cloneMessages(s.Profile.Transcript),
		},
		Pipeline: s.Pipeline.clone(),
		Leads:    make(map[string]*LeadRecord, len(s.Leads)),
	}
	for id, lead := range s.Leads {
		out.Leads[id] = lead.Clone()
	}
	return out
}

func (p *PipelineDefinition) clone() *PipelineDefinition {
	if p == nil {
		return nil
	}
	out := &PipelineDefinition{
		Stages:    make([]StageSpec, len(p.Stages)),
		CreatedAt: p.CreatedAt,
	}
	for i, st := range p.Stages {
		out.Stages[i] = StageSpec{
			Ordinal:        st.Ordinal,
			Name:           st.Name,
			Goal:           st.Goal,
			EntryCondition: st.EntryCondition,
			Tags:           append([]string(nil), st.Tags...),
			Fields:         append([]FieldSpec(nil), st.Fields...),
		}
	}
	return out
}

// Clone returns a deep copy of the lead record.
func (l *LeadRecord) Clone() *LeadRecord {
	if l == nil {
		return nil
	}
	out := &LeadRecord{
		ID:            l.ID,
		DisplayName:   l.DisplayName,
		Contact:       make(map[string]string, len(l.Contact)),
		CurrentStage:  l.CurrentStage,
		Tags:          append([]string(nil), l.Tags...),
		CreatedAt:     l.CreatedAt,
		LastUpdatedAt: l.LastUpdatedAt,
		Conversation:  cloneMessages(l.Conversation),
	}
	for k, v := range l.Contact {
		out.Contact[k] = v
	}
	return out
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{
			Role:      m.Role,
			Text:      m.Text,
			Timestamp: m.Timestamp,
		}
		if m.Payload != nil {
			out[i].Payload = make(map[string]any, len(m.Payload))
			for k, v := range m.Payload {
				out[i].Payload[k] = v
			}
		}
	}
	return out
}
