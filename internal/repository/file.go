package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// fileSnapshot is the on-disk form of a FileRegistry.
type fileSnapshot struct {
	Files    []*IndexedFile `json:"files"`
	Metadata *IndexMetadata `json:"metadata,omitempty"`
}

// FileRegistry is a Registry kept in memory and saved to a JSON file after
// every change. Writes hold a file lock; the last writer wins.
type FileRegistry struct {
	*MemoryRegistry

	path string
	lock *flock.Flock
	mu   sync.Mutex // serializes saves within the process
}

// OpenFileRegistry loads the registry at path, or starts empty when the file
// does not exist.
func OpenFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{
		MemoryRegistry: NewMemoryRegistry(),
		path:           path,
		lock:           flock.New(path + ".lock"),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	for _, f := range snap.Files {
		r.files[f.FileID] = *f
	}
	r.md = snap.Metadata
	return r, nil
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string { return r.path }

func (r *FileRegistry) UpsertFile(ctx context.Context, file *IndexedFile) error {
	if err := r.MemoryRegistry.UpsertFile(ctx, file); err != nil {
		return err
	}
	return r.save(ctx)
}

func (r *FileRegistry) DeleteFile(ctx context.Context, fileID string) error {
	if err := r.MemoryRegistry.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	return r.save(ctx)
}

func (r *FileRegistry) SaveMetadata(ctx context.Context, md *IndexMetadata) error {
	if err := r.MemoryRegistry.SaveMetadata(ctx, md); err != nil {
		return err
	}
	return r.save(ctx)
}

func (r *FileRegistry) save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	files, _ := r.MemoryRegistry.ListFiles(ctx)
	md, err := r.MemoryRegistry.GetMetadata(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	data, err := json.MarshalIndent(fileSnapshot{Files: files, Metadata: md}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer func() { _ = r.lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

var _ Registry = (*FileRegistry)(nil)
