// Package store persists engine state snapshots so the service can restart
// without losing custodial balances or open offers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"offerx/internal/engine"
)

// Snapshots abstracts snapshot persistence. Load returns (nil, nil) when no
// snapshot has been saved yet.
type Snapshots interface {
	Load(ctx context.Context) (*engine.Snapshot, error)
	Save(ctx context.Context, snap *engine.Snapshot) error
}

// MemorySnapshots is mostly for testing.
type MemorySnapshots struct {
	mu   sync.Mutex
	snap *engine.Snapshot
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{}
}

func (m *MemorySnapshots) Load(context.Context) (*engine.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *MemorySnapshots) Save(_ context.Context, snap *engine.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	return nil
}

// FileSnapshots writes the snapshot as JSON to a single file, atomically via
// a rename.
type FileSnapshots struct {
	path string
	mu   sync.Mutex
}

func NewFileSnapshots(path string) *FileSnapshots {
	return &FileSnapshots{path: path}
}

func (f *FileSnapshots) Load(context.Context) (*engine.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, nil
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (f *FileSnapshots) Save(_ context.Context, snap *engine.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
