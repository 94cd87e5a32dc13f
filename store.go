package compensable

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists snapshots of workflow instances.
type Store interface {
	// Save persists snap under id, replacing any previous snapshot.
	Save(ctx context.Context, id string, snap Snapshot) error

	// Load retrieves the snapshot saved under id. It returns an error
	// matching ErrSnapshotNotFound when there is none.
	Load(ctx context.Context, id string) (*Snapshot, error)

	// Delete removes the snapshot saved under id. Deleting a missing
	// snapshot is not an error.
	Delete(ctx context.Context, id string) error

	// List returns the ids of all stored snapshots.
	List(ctx context.Context) ([]string, error)
}

// MemoryStore provides an in-memory implementation of Store for testing
// or hosts that do not need to survive a restart.
type MemoryStore struct {
	snapshots map[string]Snapshot
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
	}
}

// Save stores a copy of the snapshot in memory.
func (m *MemoryStore) Save(ctx context.Context, id string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[id] = copySnapshot(snap)
	return nil
}

// Load retrieves a copy of the snapshot from memory.
func (m *MemoryStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, exists := m.snapshots[id]
	if !exists {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrSnapshotNotFound)
	}

	out := copySnapshot(snap)
	return &out, nil
}

// Delete removes the snapshot from memory.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, id)
	return nil
}

// List returns the stored snapshot ids in lexical order.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// copySnapshot copies the slices of snap so callers cannot modify stored state.
func copySnapshot(snap Snapshot) Snapshot {
	out := snap
	out.Tracker = append([]UnitID(nil), snap.Tracker...)
	out.Units = make([]UnitSnapshot, len(snap.Units))
	for i, us := range snap.Units {
		if us.Parent != nil {
			p := *us.Parent
			us.Parent = &p
		}
		if us.Origin != nil {
			o := *us.Origin
			us.Origin = &o
		}
		out.Units[i] = us
	}
	return out
}
