// ABOUTME: Tests for the Store's serialized mutation, reset, and lead lifecycle
// ABOUTME: Covers copy-on-write isolation and the no-pipeline lead guard

package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoStagePipeline() *PipelineDefinition {
	return &PipelineDefinition{
		Stages: []StageSpec{
			{Ordinal: 1, Name: "New", Goal: "Qualify the lead", Tags: []string{"stage_1", "active"}},
			{Ordinal: 2, Name: "Won", Goal: "Close the deal", Tags: []string{"stage_2", "active"}},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_StartsEmpty(t *testing.T) {
	s := NewStore(nil)

	snap := s.Read()
	assert.Nil(t, snap.Pipeline)
	assert.Empty(t, snap.Leads)
	assert.Empty(t, snap.Profile.Name)
}

func TestStore_MutateCommitsNewSnapshot(t *testing.T) {
	s := NewStore(nil)
	before := s.Read()

	after, err := s.UpdateProfile("Acme Roofing", "Residential roofing in Austin")
	require.NoError(t, err)

	assert.Equal(t, "Acme Roofing", after.Profile.Name)
	assert.Empty(t, before.Profile.Name, "previously read snapshot must be untouched")
	assert.NotSame(t, before, after)
}

func TestStore_MutateErrorLeavesStateUnchanged(t *testing.T) {
	s := NewStore(nil)
	_, err := s.UpdateProfile("Acme", "")
	require.NoError(t, err)

	before := s.Read()
	_, err = s.Mutate(func(snap *Snapshot) error {
		snap.Profile.Name = "Broken"
		return ErrLeadNotFound
	})
	require.ErrorIs(t, err, ErrLeadNotFound)

	assert.Same(t, before, s.Read(), "aborted mutation must not publish a snapshot")
	assert.Equal(t, "Acme", s.Read().Profile.Name)
}

func TestStore_CreateLeadRequiresPipeline(t *testing.T) {
	s := NewStore(nil)

	_, err := s.CreateLead("Jordan")
	assert.ErrorIs(t, err, ErrNoPipeline)
	assert.Empty(t, s.Read().Leads)
}

func TestStore_CreateLeadDefaultsToStageOne(t *testing.T) {
	s := NewStore(nil)
	_, err := s.InstallPipeline(twoStagePipeline())
	require.NoError(t, err)

	lead, err := s.CreateLead("Jordan")
	require.NoError(t, err)

	assert.NotEmpty(t, lead.ID)
	assert.Equal(t, 1, lead.CurrentStage)
	assert.Equal(t, "Jordan", lead.DisplayName)

	stored, ok := s.Read().Leads[lead.ID]
	require.True(t, ok)
	assert.Equal(t, lead.ID, stored.ID)
}

func TestStore_UpdateProfilePreservesUnsetFields(t *testing.T) {
	s := NewStore(nil)
	_, err := s.UpdateProfile("Acme Roofing", "Residential roofing in Austin")
	require.NoError(t, err)

	snap, err := s.UpdateProfile("", "Commercial and residential roofing")
	require.NoError(t, err)
	assert.Equal(t, "Acme Roofing", snap.Profile.Name)
	assert.Equal(t, "Commercial and residential roofing", snap.Profile.Description)

	snap, err = s.UpdateProfile("Acme Roofing LLC", "")
	require.NoError(t, err)
	assert.Equal(t, "Acme Roofing LLC", snap.Profile.Name)
	assert.Equal(t, "Commercial and residential roofing", snap.Profile.Description)
}

func TestStore_AppendLeadExchangeUnknownLead(t *testing.T) {
	s := NewStore(nil)
	msg := Message{Role: RoleLead, Text: "hi", Timestamp: time.Now()}
	_, err := s.AppendLeadExchange("nope", msg, Message{Role: RoleAgent, Text: "hello", Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrLeadNotFound)
}

func TestStore_AppendLeadExchangeCommitsBothMessages(t *testing.T) {
	s := NewStore(nil)
	_, err := s.InstallPipeline(twoStagePipeline())
	require.NoError(t, err)
	lead, err := s.CreateLead("Jordan")
	require.NoError(t, err)

	ts := time.Now().UTC()
	snap, err := s.AppendLeadExchange(lead.ID,
		Message{Role: RoleLead, Text: "hello", Timestamp: ts},
		Message{Role: RoleAgent, Text: "hi there", Timestamp: ts.Add(time.Second)},
	)
	require.NoError(t, err)

	conv := snap.Leads[lead.ID].Conversation
	require.Len(t, conv, 2)
	assert.Equal(t, RoleLead, conv[0].Role)
	assert.Equal(t, RoleAgent, conv[1].Role)
	assert.Equal(t, ts.Add(time.Second), snap.Leads[lead.ID].LastUpdatedAt)
}

func TestStore_AppendOwnerExchangeCommitsBothMessages(t *testing.T) {
	s := NewStore(nil)
	ts := time.Now().UTC()
	snap, err := s.AppendOwnerExchange(
		Message{Role: RoleOwner, Text: "we sell roofs", Timestamp: ts},
		Message{Role: RoleAgent, Text: "noted", Timestamp: ts.Add(time.Second)},
	)
	require.NoError(t, err)

	require.Len(t, snap.Profile.Transcript, 2)
	assert.Equal(t, RoleOwner, snap.Profile.Transcript[0].Role)
	assert.Equal(t, RoleAgent, snap.Profile.Transcript[1].Role)
}

func TestStore_ResetYieldsProcessStartSnapshot(t *testing.T) {
	s := NewStore(nil)
	_, err := s.InstallPipeline(twoStagePipeline())
	require.NoError(t, err)
	_, err = s.CreateLead("Jordan")
	require.NoError(t, err)
	_, err = s.UpdateProfile("Acme", "desc")
	require.NoError(t, err)

	s.Reset()

	snap := s.Read()
	assert.Nil(t, snap.Pipeline)
	assert.Empty(t, snap.Leads)
	assert.Equal(t, BusinessProfile{}, snap.Profile)
}

func TestStore_LoadSeedsCanonicalState(t *testing.T) {
	s := NewStore(nil)

	seeded := NewSnapshot()
	seeded.Pipeline = twoStagePipeline()
	seeded.Profile.Name = "Acme"
	s.Load(seeded)

	assert.Equal(t, "Acme", s.Read().Profile.Name)
	assert.Equal(t, 2, s.Read().Pipeline.StageCount())
}

func TestStore_LoadNormalizesNilLeadMap(t *testing.T) {
	s := NewStore(nil)
	s.Load(&Snapshot{})

	_, err := s.Mutate(func(snap *Snapshot) error {
		require.NotNil(t, snap.Leads)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ConcurrentMutationsAllCommit(t *testing.T) {
	s := NewStore(nil)
	_, err := s.InstallPipeline(twoStagePipeline())
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateLead("lead")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, s.Read().Leads, writers)
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	snap := NewSnapshot()
	snap.Pipeline = twoStagePipeline()
	snap.Profile.Name = "Acme"
	snap.Leads["l1"] = &LeadRecord{
		ID:           "l1",
		Contact:      map[string]string{"email": "a@b.c"},
		CurrentStage: 1,
		Tags:         []string{"stage_1"},
		Conversation: []Message{{Role: RoleLead, Text: "hi", Payload: map[string]any{"k": "v"}}},
	}

	clone := snap.Clone()
	clone.Profile.Name = "Other"
	clone.Pipeline.Stages[0].Name = "Changed"
	clone.Pipeline.Stages[0].Tags[0] = "changed"
	clone.Leads["l1"].Contact["email"] = "x@y.z"
	clone.Leads["l1"].Conversation[0].Payload["k"] = "w"
	clone.Leads["l1"].Tags[0] = "changed"

	assert.Equal(t, "Acme", snap.Profile.Name)
	assert.Equal(t, "New", snap.Pipeline.Stages[0].Name)
	assert.Equal(t, "stage_1", snap.Pipeline.Stages[0].Tags[0])
	assert.Equal(t, "a@b.c", snap.Leads["l1"].Contact["email"])
	assert.Equal(t, "v", snap.Leads["l1"].Conversation[0].Payload["k"])
	assert.Equal(t, "stage_1", snap.Leads["l1"].Tags[0])
}

func TestPipelineDefinition_StageLookup(t *testing.T) {
	p := twoStagePipeline()

	assert.Nil(t, p.Stage(0))
	assert.Nil(t, p.Stage(3))
	require.NotNil(t, p.Stage(2))
	assert.Equal(t, "Won", p.Stage(2).Name)

	var nilDef *PipelineDefinition
	assert.Equal(t, 0, nilDef.StageCount())
	assert.Nil(t, nilDef.Stage(1))
}
