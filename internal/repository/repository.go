// Package repository defines the index registry: which source files are
// indexed, with how many chunks, and the metadata of the last index run.
package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// IndexedFile records one source file present in the indexes
type IndexedFile struct {
	FileID       string    `json:"file_id"`
	FileName     string    `json:"file_name"`
	FileType     string    `json:"file_type"`
	ModifiedTime time.Time `json:"modified_time"`
	ChunkCount   int       `json:"chunk_count"`
	IndexedAt    time.Time `json:"indexed_at"`
}

// IndexMetadata describes the most recent index or refresh run
type IndexMetadata struct {
	LastRefreshTime time.Time `json:"last_refresh_time"`
	TotalFiles      int       `json:"total_files"`
	TotalChunks     int       `json:"total_chunks"`
	ChunkSize       int       `json:"chunk_size"`
	ChunkOverlap    int       `json:"chunk_overlap"`
	RerankingModel  string    `json:"reranking_model"`
	IndexedBy       string    `json:"indexed_by"`
	RunID           uuid.UUID `json:"run_id"`
}

// Registry defines operations for index registry persistence
type Registry interface {
	UpsertFile(ctx context.Context, file *IndexedFile) error
	GetFile(ctx context.Context, fileID string) (*IndexedFile, error)
	ListFiles(ctx context.Context) ([]*IndexedFile, error)
	DeleteFile(ctx context.Context, fileID string) error

	GetMetadata(ctx context.Context) (*IndexMetadata, error)
	SaveMetadata(ctx context.Context, md *IndexMetadata) error
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	files map[string]IndexedFile
	md    *IndexMetadata
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{files: make(map[string]IndexedFile)}
}

func (r *MemoryRegistry) UpsertFile(_ context.Context, file *IndexedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[file.FileID] = *file
	return nil
}

func (r *MemoryRegistry) GetFile(_ context.Context, fileID string) (*IndexedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

// ListFiles returns all files ordered by FileID.
func (r *MemoryRegistry) ListFiles(_ context.Context) ([]*IndexedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*IndexedFile, 0, len(r.files))
	for _, f := range r.files {
		f := f
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

func (r *MemoryRegistry) DeleteFile(_ context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[fileID]; !ok {
		return ErrNotFound
	}
	delete(r.files, fileID)
	return nil
}

func (r *MemoryRegistry) GetMetadata(_ context.Context) (*IndexMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.md == nil {
		return nil, ErrNotFound
	}
	md := *r.md
	return &md, nil
}

func (r *MemoryRegistry) SaveMetadata(_ context.Context, md *IndexMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *md
	r.md = &cp
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
