// ABOUTME: Tests for snapshot save/load round-trip and degraded startup paths
// ABOUTME: Covers atomic replacement, missing files, and corrupt files

package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedeck/pipedeck/internal/state"
)

func populatedStore(t *testing.T) *state.Store {
	t.Helper()
	s := state.NewStore(nil)
	_, err := s.UpdateProfile("Acme Roofing", "Residential roofing")
	require.NoError(t, err)
	_, err = s.InstallPipeline(&state.PipelineDefinition{
		Stages: []state.StageSpec{
			{Ordinal: 1, Name: "New", Goal: "Qualify", Tags: []string{"stage_1", "active"}},
			{Ordinal: 2, Name: "Won", Goal: "Close", Tags: []string{"stage_2", "active"}},
		},
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	lead, err := s.CreateLead("Jordan")
	require.NoError(t, err)
	_, err = s.AppendLeadExchange(lead.ID, state.Message{
		Role:      state.RoleLead,
		Text:      "hello",
		Timestamp: time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC),
	}, state.Message{
		Role:      state.RoleAgent,
		Text:      "hi, how can we help?",
		Timestamp: time.Date(2025, 6, 1, 1, 0, 1, 0, time.UTC),
	})
	require.NoError(t, err)
	return s
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	src := populatedStore(t)
	m := New(src, path, 0, nil)

	require.NoError(t, m.Save())

	dst := state.NewStore(nil)
	New(dst, path, 0, nil).LoadInto()

	want := src.Read()
	got := dst.Read()
	assert.Equal(t, want.Profile, got.Profile)
	assert.Equal(t, want.Pipeline, got.Pipeline)
	require.Len(t, got.Leads, len(want.Leads))
	for id, lead := range want.Leads {
		assert.Equal(t, lead, got.Leads[id])
	}
}

func TestManager_SaveWritesValidJSONDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m := New(populatedStore(t), path, 0, nil)
	require.NoError(t, m.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "businessProfile")
	assert.Contains(t, doc, "pipelineDefinition")
	assert.Contains(t, doc, "leads")
}

func TestManager_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	m := New(populatedStore(t), filepath.Join(dir, "state.json"), 0, nil)
	require.NoError(t, m.Save())
	require.NoError(t, m.Save())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestManager_LoadMissingFileStartsEmpty(t *testing.T) {
	s := populatedStore(t)
	New(s, filepath.Join(t.TempDir(), "absent.json"), 0, nil).LoadInto()

	snap := s.Read()
	assert.Nil(t, snap.Pipeline)
	assert.Empty(t, snap.Leads)
}

func TestManager_LoadCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := state.NewStore(nil)
	New(s, path, 0, nil).LoadInto()

	snap := s.Read()
	assert.Nil(t, snap.Pipeline)
	assert.Empty(t, snap.Leads)
}

func TestManager_RunSavesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m := New(populatedStore(t), path, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err := os.Stat(path)
	assert.NoError(t, err, "graceful shutdown must leave a snapshot on disk")
}

func TestManager_SaveOverwritesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := populatedStore(t)
	m := New(s, path, 0, nil)
	require.NoError(t, m.Save())

	s.Reset()
	require.NoError(t, m.Save())

	dst := state.NewStore(nil)
	New(dst, path, 0, nil).LoadInto()
	assert.Empty(t, dst.Read().Leads)
	assert.Nil(t, dst.Read().Pipeline)
}
