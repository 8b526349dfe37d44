// ABOUTME: Tagged event variants pushed to observers on every state change
// ABOUTME: Events serialize to {type, data, timestamp} wire messages

package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pipedeck/pipedeck/internal/state"
)

// Event type tags on the wire.
const (
	TypePipelineReady    = "pipeline_ready"
	TypeLeadStageChanged = "lead_stage_changed"
	TypeLeadUpdated      = "lead_updated"
	TypeStateReset       = "state_reset"
)

// Event is one state-delta notification. Exactly one constructor per
// variant; observers receive the envelope rendered by Encode.
type Event struct {
	Type string
	Data any
}

// PipelineReadyData carries the freshly installed pipeline definition.
type PipelineReadyData struct {
	Pipeline *state.PipelineDefinition `json:"pipeline"`
}

// LeadStageChangedData describes a lead moving between stages.
type LeadStageChangedData struct {
	LeadID    string `json:"leadId"`
	FromStage int    `json:"fromStage"`
	ToStage   int    `json:"toStage"`
}

// LeadUpdatedData describes merged lead fields.
type LeadUpdatedData struct {
	LeadID string   `json:"leadId"`
	Fields []string `json:"fields"`
}

// PipelineReady builds the pipeline-installed event.
func PipelineReady(def *state.PipelineDefinition) Event {
	return Event{Type: TypePipelineReady, Data: PipelineReadyData{Pipeline: def}}
}

// LeadStageChanged builds the stage-move event.
func LeadStageChanged(leadID string, from, to int) Event {
	return Event{Type: TypeLeadStageChanged, Data: LeadStageChangedData{LeadID: leadID, FromStage: from, ToStage: to}}
}

// LeadUpdated builds the field-merge event.
func LeadUpdated(leadID string, fields []string) Event {
	return Event{Type: TypeLeadUpdated, Data: LeadUpdatedData{LeadID: leadID, Fields: fields}}
}

// StateReset builds the whole-state-reset event.
func StateReset() Event {
	return Event{Type: TypeStateReset, Data: struct{}{}}
}

// envelope is the wire shape observers receive.
type envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode renders the event as a JSON wire message.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(envelope{Type: e.Type, Data: e.Data, Timestamp: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	return data, nil
}
