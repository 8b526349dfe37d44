// ABOUTME: Periodic and on-shutdown snapshotting of the state store to a JSON file
// ABOUTME: Writes are atomic (temp file + rename); load failures degrade to empty state

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pipedeck/pipedeck/internal/state"
)

// DefaultInterval is how often the store is snapshotted when the config
// does not say otherwise.
const DefaultInterval = 30 * time.Second

// Manager reads the store on a timer independent of the write path and
// serializes snapshots to a single flat file.
type Manager struct {
	store    *state.Store
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Manager writing to path. A non-positive interval falls back
// to DefaultInterval. Pass nil logger for the default.
func New(store *state.Store, path string, interval time.Duration, logger *slog.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		path:     path,
		interval: interval,
		logger:   logger.With("component", "persist"),
	}
}

// Run saves on every tick until ctx is cancelled, then performs a final
// save. Save failures are logged and never stop the loop.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("auto-save started", "path", m.path, "interval", m.interval)
	for {
		select {
		case <-ticker.C:
			if err := m.Save(); err != nil {
				m.logger.Error("snapshot save failed", "error", err)
			}
		case <-ctx.Done():
			if err := m.Save(); err != nil {
				m.logger.Error("final snapshot save failed", "error", err)
			}
			m.logger.Info("auto-save stopped")
			return
		}
	}
}

// Save serializes the current snapshot and atomically replaces the snapshot
// file. A half-written file is never observable: the document is written to
// a temp file in the same directory and renamed over the target.
func (m *Manager) Save() error {
	snap := m.store.Read()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing snapshot file: %w", err)
	}

	m.logger.Debug("snapshot saved", "path", m.path, "bytes", len(data))
	return nil
}

// LoadInto seeds the store from the snapshot file. A missing file starts
// empty silently; a corrupt one is logged and the store starts empty.
// Never returns an error that should abort startup.
func (m *Manager) LoadInto() {
	snap, err := m.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Info("no snapshot file, starting fresh", "path", m.path)
		} else {
			m.logger.Error("snapshot load failed, starting empty", "path", m.path, "error", err)
		}
		m.store.Reset()
		return
	}

	m.store.Reset()
	m.store.Load(snap)
	m.logger.Info("snapshot recovered", "path", m.path, "leads", len(snap.Leads))
}

func (m *Manager) load() (*state.Snapshot, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}

	snap := state.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
