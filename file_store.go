package compensable

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const snapshotExt = ".json"

// FileStore provides a file-based implementation of Store that persists
// snapshots as JSON files on disk.
type FileStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileStore creates a new file-based store that saves snapshots to the
// specified directory.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		basePath: basePath,
	}, nil
}

// Save persists the snapshot to a JSON file. The file is written next to its
// destination and renamed into place so a crash never leaves half a snapshot.
func (f *FileStore) Save(ctx context.Context, id string, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	filename := f.filename(id)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to move snapshot file into place: %w", err)
	}

	return nil
}

// Load retrieves the snapshot from its JSON file.
func (f *FileStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filename(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s: %w", id, ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// Delete removes the snapshot file.
func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(id)); err != nil {
		if os.IsNotExist(err) {
			// Already deleted, not an error
			return nil
		}
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}

	return nil
}

// List returns the ids of the snapshot files in the base directory.
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), snapshotExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// filename returns the full path for a snapshot file.
func (f *FileStore) filename(id string) string {
	return filepath.Join(f.basePath, id+snapshotExt)
}
