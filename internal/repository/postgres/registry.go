package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/knoguchi/docsearch/internal/repository"
)

// Registry implements repository.Registry
type Registry struct {
	db *DB
}

// NewRegistry creates a new registry backed by db
func NewRegistry(db *DB) *Registry {
	return &Registry{db: db}
}

// UpsertFile inserts or replaces the record of an indexed file
func (r *Registry) UpsertFile(ctx context.Context, file *repository.IndexedFile) error {
	query := `
		INSERT INTO indexed_files (file_id, file_name, file_type, modified_time, chunk_count, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_id) DO UPDATE
		SET file_name = EXCLUDED.file_name, file_type = EXCLUDED.file_type,
		    modified_time = EXCLUDED.modified_time, chunk_count = EXCLUDED.chunk_count,
		    indexed_at = EXCLUDED.indexed_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		file.FileID, file.FileName, file.FileType, file.ModifiedTime, file.ChunkCount, file.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert indexed file: %w", err)
	}
	return nil
}

// GetFile retrieves an indexed file by ID
func (r *Registry) GetFile(ctx context.Context, fileID string) (*repository.IndexedFile, error) {
	query := `
		SELECT file_id, file_name, file_type, modified_time, chunk_count, indexed_at
		FROM indexed_files
		WHERE file_id = $1
	`
	var f repository.IndexedFile
	err := r.db.Pool.QueryRow(ctx, query, fileID).Scan(
		&f.FileID, &f.FileName, &f.FileType, &f.ModifiedTime, &f.ChunkCount, &f.IndexedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get indexed file: %w", err)
	}
	return &f, nil
}

// ListFiles retrieves every indexed file ordered by ID
func (r *Registry) ListFiles(ctx context.Context) ([]*repository.IndexedFile, error) {
	query := `
		SELECT file_id, file_name, file_type, modified_time, chunk_count, indexed_at
		FROM indexed_files
		ORDER BY file_id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed files: %w", err)
	}
	defer rows.Close()

	var files []*repository.IndexedFile
	for rows.Next() {
		var f repository.IndexedFile
		if err := rows.Scan(&f.FileID, &f.FileName, &f.FileType, &f.ModifiedTime, &f.ChunkCount, &f.IndexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan indexed file: %w", err)
		}
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list indexed files: %w", err)
	}
	return files, nil
}

// DeleteFile deletes an indexed file
func (r *Registry) DeleteFile(ctx context.Context, fileID string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM indexed_files WHERE file_id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete indexed file: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetMetadata retrieves the metadata of the last index run
func (r *Registry) GetMetadata(ctx context.Context) (*repository.IndexMetadata, error) {
	query := `
		SELECT last_refresh_time, total_files, total_chunks, chunk_size, chunk_overlap,
		       reranking_model, indexed_by, run_id
		FROM index_metadata
		WHERE id = 1
	`
	var md repository.IndexMetadata
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&md.LastRefreshTime, &md.TotalFiles, &md.TotalChunks, &md.ChunkSize, &md.ChunkOverlap,
		&md.RerankingModel, &md.IndexedBy, &md.RunID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get index metadata: %w", err)
	}
	return &md, nil
}

// SaveMetadata replaces the metadata of the last index run
func (r *Registry) SaveMetadata(ctx context.Context, md *repository.IndexMetadata) error {
	query := `
		INSERT INTO index_metadata (id, last_refresh_time, total_files, total_chunks, chunk_size,
		                            chunk_overlap, reranking_model, indexed_by, run_id)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET last_refresh_time = EXCLUDED.last_refresh_time, total_files = EXCLUDED.total_files,
		    total_chunks = EXCLUDED.total_chunks, chunk_size = EXCLUDED.chunk_size,
		    chunk_overlap = EXCLUDED.chunk_overlap, reranking_model = EXCLUDED.reranking_model,
		    indexed_by = EXCLUDED.indexed_by, run_id = EXCLUDED.run_id
	`
	_, err := r.db.Pool.Exec(ctx, query,
		md.LastRefreshTime, md.TotalFiles, md.TotalChunks, md.ChunkSize, md.ChunkOverlap,
		md.RerankingModel, md.IndexedBy, md.RunID)
	if err != nil {
		return fmt.Errorf("failed to save index metadata: %w", err)
	}
	return nil
}

// Ensure Registry implements the interface
var _ repository.Registry = (*Registry)(nil)
