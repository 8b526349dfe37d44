// ABOUTME: Store is the single mutable owner of the Snapshot with serialized mutations
// ABOUTME: Every commit swaps in a fresh deep copy; readers hold immutable snapshots

package state

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoPipeline indicates an operation that requires a ready pipeline was
// attempted before one was installed.
var ErrNoPipeline = errors.New("no pipeline installed")

// ErrLeadNotFound indicates the addressed lead does not exist.
var ErrLeadNotFound = errors.New("lead not found")

// Store owns the canonical Snapshot. All writers go through Mutate, which is
// strictly serialized: at most one mutation executes at any instant, and a
// committed mutation publishes a complete new snapshot rather than editing
// the one readers may already hold.
type Store struct {
	mu      sync.RWMutex // guards current
	writeMu sync.Mutex   // serializes Mutate callers
	current *Snapshot
	logger  *slog.Logger
}

// NewStore creates an empty store. Pass nil logger for the default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		current: NewSnapshot(),
		logger:  logger.With("component", "state"),
	}
}

// Read returns the current snapshot. The returned value is immutable by
// convention: holders may read it for arbitrarily long without blocking
// writers, and must never modify it.
func (s *Store) Read() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Mutate runs fn against a deep clone of the current snapshot and, if fn
// returns nil, commits the clone as the new canonical snapshot. An error
// from fn aborts the mutation with no observable change. The committed
// snapshot is returned.
func (s *Store) Mutate(fn func(*Snapshot) error) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Read().Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

// Reset atomically replaces the snapshot with an empty one identical to
// process start.
func (s *Store) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = NewSnapshot()
	s.mu.Unlock()
	s.logger.Info("state reset")
}

// Load seeds the store with a recovered snapshot. Used by persistence on
// startup; the snapshot becomes canonical as-is.
func (s *Store) Load(snap *Snapshot) {
	if snap == nil {
		return
	}
	if snap.Leads == nil {
		snap.Leads = make(map[string]*LeadRecord)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	s.logger.Info("state loaded", "leads", len(snap.Leads), "pipeline_ready", snap.Pipeline != nil)
}

// InstallPipeline atomically replaces the pipeline definition. This is an
// all-or-nothing swap, never a partial merge.
func (s *Store) InstallPipeline(def *PipelineDefinition) (*Snapshot, error) {
	return s.Mutate(func(snap *Snapshot) error {
		snap.Pipeline = def.clone()
		return nil
	})
}

// UpdateProfile merges new business profile values. Empty arguments
// keep the current value, so a partial update cannot erase the other
// field even when callers race.
func (s *Store) UpdateProfile(name, description string) (*Snapshot, error) {
	return s.Mutate(func(snap *Snapshot) error {
		if name != "" {
			snap.Profile.Name = name
		}
		if description != "" {
			snap.Profile.Description = description
		}
		return nil
	})
}

// AddDocument appends an uploaded reference document to the profile.
func (s *Store) AddDocument(doc DocumentRef) (*Snapshot, error) {
	return s.Mutate(func(snap *Snapshot) error {
		snap.Profile.Documents = append(snap.Profile.Documents, doc)
		return nil
	})
}

// CreateLead adds a new lead at stage 1 and returns its record. A lead
// cannot exist before a ready pipeline.
func (s *Store) CreateLead(displayName string) (*LeadRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	snap, err := s.Mutate(func(snap *Snapshot) error {
		if snap.Pipeline.StageCount() == 0 {
			return ErrNoPipeline
		}
		snap.Leads[id] = &LeadRecord{
			ID:            id,
			DisplayName:   displayName,
			Contact:       make(map[string]string),
			CurrentStage:  1,
			CreatedAt:     now,
			LastUpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lead created", "lead_id", id)
	return snap.Leads[id].Clone(), nil
}

// AppendOwnerExchange appends a user message and the agent reply to the
// owner transcript in one mutation. A failed agent call therefore leaves
// no half-written exchange behind.
func (s *Store) AppendOwnerExchange(userMsg, agentMsg Message) (*Snapshot, error) {
	return s.Mutate(func(snap *Snapshot) error {
		snap.Profile.Transcript = append(snap.Profile.Transcript, userMsg, agentMsg)
		return nil
	})
}

// AppendLeadExchange appends a user message and the agent reply to the
// addressed lead's conversation in one mutation.
func (s *Store) AppendLeadExchange(leadID string, userMsg, agentMsg Message) (*Snapshot, error) {
	return s.Mutate(func(snap *Snapshot) error {
		lead, ok := snap.Leads[leadID]
		if !ok {
			return ErrLeadNotFound
		}
		lead.Conversation = append(lead.Conversation, userMsg, agentMsg)
		lead.LastUpdatedAt = agentMsg.Timestamp
		return nil
	})
}
