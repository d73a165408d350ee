// Package service implements the indexing and search operations shared by
// the CLI and the API servers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/docsearch/internal/config"
	"github.com/knoguchi/docsearch/internal/ingestion"
	"github.com/knoguchi/docsearch/internal/ratelimit"
	"github.com/knoguchi/docsearch/internal/repository"
	"github.com/knoguchi/docsearch/internal/vectorstore"
)

// DefaultBatchSize is the number of records sent per upsert call.
const DefaultBatchSize = 96

// ErrIndexing is returned when an index run cannot start or finish.
var ErrIndexing = errors.New("indexing failed")

// IndexOptions selects which source files an index run processes.
type IndexOptions struct {
	Limit     int
	FileTypes []string
	DryRun    bool
}

// RefreshOptions selects the files an incremental refresh processes.
type RefreshOptions struct {
	IndexOptions

	// Since processes files modified at or after this time.
	Since time.Time

	// ForceFull processes every file and skips deleted-file cleanup.
	ForceFull bool
}

// IndexReport summarizes an index or refresh run.
type IndexReport struct {
	RunID     uuid.UUID     `json:"run_id"`
	DryRun    bool          `json:"dry_run"`
	Listed    int           `json:"listed"`
	Planned   []string      `json:"planned"`
	New       int           `json:"new"`
	Modified  int           `json:"modified"`
	Processed int           `json:"processed"`
	Chunks    int           `json:"chunks"`
	Skipped   int           `json:"skipped"`
	Removed   int           `json:"removed"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// IndexStatus describes the indexes and the last run.
type IndexStatus struct {
	DenseIndex     string                    `json:"dense_index"`
	SparseIndex    string                    `json:"sparse_index"`
	DenseCount     uint64                    `json:"dense_count"`
	SparseCount    uint64                    `json:"sparse_count"`
	VectorsMatch   bool                      `json:"vectors_match"`
	Files          int                       `json:"files"`
	RegistryChunks int                       `json:"registry_chunks"`
	Metadata       *repository.IndexMetadata `json:"metadata,omitempty"`
}

// IndexService chunks source files and writes them to both indexes.
type IndexService struct {
	source    ingestion.Source
	pipeline  *ingestion.Pipeline
	dense     vectorstore.TextIndex
	sparse    vectorstore.TextIndex
	registry  repository.Registry
	store     *config.Store
	guard     ratelimit.Guard
	model     string
	indexedBy string
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// IndexOption configures an IndexService.
type IndexOption func(*IndexService)

// WithIndexGuard throttles and retries every index write.
func WithIndexGuard(g ratelimit.Guard) IndexOption {
	return func(s *IndexService) { s.guard = g }
}

// WithStateStore records owner progress in the settings file after each run.
func WithStateStore(st *config.Store) IndexOption {
	return func(s *IndexService) { s.store = st }
}

// WithRerankingModel sets the reranking model recorded in the index metadata.
func WithRerankingModel(model string) IndexOption {
	return func(s *IndexService) { s.model = model }
}

// WithIndexedBy sets the identity recorded in the index metadata.
func WithIndexedBy(who string) IndexOption {
	return func(s *IndexService) { s.indexedBy = who }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) IndexOption {
	return func(s *IndexService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithIndexLogger sets the logger.
func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(s *IndexService) { s.logger = l }
}

// NewIndexService creates an IndexService.
func NewIndexService(
	source ingestion.Source,
	pipeline *ingestion.Pipeline,
	dense, sparse vectorstore.TextIndex,
	registry repository.Registry,
	opts ...IndexOption,
) *IndexService {
	s := &IndexService{
		source:    source,
		pipeline:  pipeline,
		dense:     dense,
		sparse:    sparse,
		registry:  registry,
		indexedBy: "unknown",
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates or validates both indexes.
func (s *IndexService) EnsureIndexes(ctx context.Context) error {
	for _, idx := range []vectorstore.TextIndex{s.dense, s.sparse} {
		if err := idx.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("failed to prepare %s index %s: %w", idx.Kind(), idx.Name(), err)
		}
	}
	return nil
}

// Index processes every listed source file, up to opts.Limit.
func (s *IndexService) Index(ctx context.Context, opts IndexOptions) (*IndexReport, error) {
	start := s.now()
	report := &IndexReport{RunID: uuid.New(), DryRun: opts.DryRun}

	files, err := s.source.List(ctx, opts.FileTypes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexing, err)
	}
	report.Listed = len(files)
	files = limitFiles(files, opts.Limit)

	existing, err := s.indexedFiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		report.Planned = append(report.Planned, f.ID)
		if _, ok := existing[f.ID]; ok {
			report.Modified++
		} else {
			report.New++
		}
	}
	if opts.DryRun {
		report.Duration = s.now().Sub(start)
		return report, nil
	}

	s.logger.Info("index run started",
		slog.String("run_id", report.RunID.String()),
		slog.Int("files", len(files)))

	if err := s.processAll(ctx, files, existing, report); err != nil {
		return report, err
	}
	if err := s.finish(ctx, report, start); err != nil {
		return report, err
	}
	return report, nil
}

// Refresh processes new files and files modified since opts.Since or the
// last refresh, then removes files that disappeared from the source.
func (s *IndexService) Refresh(ctx context.Context, opts RefreshOptions) (*IndexReport, error) {
	start := s.now()
	report := &IndexReport{RunID: uuid.New(), DryRun: opts.DryRun}

	existing, err := s.indexedFiles(ctx)
	if err != nil {
		return nil, err
	}

	var lastRefresh time.Time
	if !opts.ForceFull {
		md, err := s.registry.GetMetadata(ctx)
		switch {
		case err == nil:
			lastRefresh = md.LastRefreshTime
		case errors.Is(err, repository.ErrNotFound):
		default:
			return nil, fmt.Errorf("%w: failed to read index metadata: %w", ErrIndexing, err)
		}
	}

	all, err := s.source.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexing, err)
	}
	report.Listed = len(all)

	var selected []ingestion.DocumentInfo
	for _, f := range all {
		if len(opts.FileTypes) > 0 && !slices.Contains(opts.FileTypes, f.FileType) {
			continue
		}
		if _, known := existing[f.ID]; !known || needsRefresh(f, opts, lastRefresh) {
			selected = append(selected, f)
		}
	}
	selected = limitFiles(selected, opts.Limit)

	for _, f := range selected {
		report.Planned = append(report.Planned, f.ID)
		if _, ok := existing[f.ID]; ok {
			report.Modified++
		} else {
			report.New++
		}
	}
	if opts.DryRun {
		report.Duration = s.now().Sub(start)
		return report, nil
	}

	s.logger.Info("refresh started",
		slog.String("run_id", report.RunID.String()),
		slog.Int("files", len(selected)),
		slog.Bool("force_full", opts.ForceFull))

	if err := s.processAll(ctx, selected, existing, report); err != nil {
		return report, err
	}

	if !opts.ForceFull {
		current := make([]string, len(all))
		for i, f := range all {
			current[i] = f.ID
		}
		removed, err := s.CleanupDeleted(ctx, current)
		report.Removed = removed
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Failed to cleanup deleted files: %v", err))
		}
	}

	if err := s.finish(ctx, report, start); err != nil {
		return report, err
	}
	return report, nil
}

// Reindex replaces the chunks of the given source documents, removing those
// that no longer exist. It serves watch mode.
func (s *IndexService) Reindex(ctx context.Context, ids []string) (*IndexReport, error) {
	start := s.now()
	report := &IndexReport{RunID: uuid.New()}

	existing, err := s.indexedFiles(ctx)
	if err != nil {
		return nil, err
	}

	all, err := s.source.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexing, err)
	}
	report.Listed = len(all)
	byID := make(map[string]ingestion.DocumentInfo, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}

	var changed []ingestion.DocumentInfo
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			if _, indexed := existing[id]; indexed {
				if err := s.removeDocument(ctx, id); err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("Failed to remove %s: %v", id, err))
					continue
				}
				report.Removed++
			}
			continue
		}
		report.Planned = append(report.Planned, id)
		changed = append(changed, f)
	}

	if err := s.processAll(ctx, changed, existing, report); err != nil {
		return report, err
	}
	if err := s.finish(ctx, report, start); err != nil {
		return report, err
	}
	return report, nil
}

// CleanupDeleted removes indexed files whose IDs are not in current and
// returns how many were removed.
func (s *IndexService) CleanupDeleted(ctx context.Context, current []string) (int, error) {
	indexed, err := s.registry.ListFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list indexed files: %w", err)
	}

	keep := make(map[string]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}

	removed := 0
	var errs []error
	for _, f := range indexed {
		if _, ok := keep[f.FileID]; ok {
			continue
		}
		if err := s.removeDocument(ctx, f.FileID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.FileID, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed deleted files", slog.Int("count", removed))
	}
	return removed, errors.Join(errs...)
}

// Status reports index counts and the registry state.
func (s *IndexService) Status(ctx context.Context) (*IndexStatus, error) {
	st := &IndexStatus{DenseIndex: s.dense.Name(), SparseIndex: s.sparse.Name()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.dense.Count(gctx)
		if err != nil {
			return fmt.Errorf("failed to count dense index: %w", err)
		}
		st.DenseCount = n
		return nil
	})
	g.Go(func() error {
		n, err := s.sparse.Count(gctx)
		if err != nil {
			return fmt.Errorf("failed to count sparse index: %w", err)
		}
		st.SparseCount = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	st.VectorsMatch = st.DenseCount == st.SparseCount

	files, err := s.registry.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed files: %w", err)
	}
	st.Files = len(files)
	for _, f := range files {
		st.RegistryChunks += f.ChunkCount
	}

	md, err := s.registry.GetMetadata(ctx)
	switch {
	case err == nil:
		st.Metadata = md
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}
	return st, nil
}

func (s *IndexService) processAll(ctx context.Context, files []ingestion.DocumentInfo, existing map[string]struct{}, report *IndexReport) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, replace := existing[f.ID]
		chunks, err := s.processFile(ctx, f, replace, report)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("Failed to process %s: %v", f.Name, err))
			s.logger.Warn("failed to process file",
				slog.String("file_id", f.ID),
				slog.String("error", err.Error()))
			continue
		}
		if chunks < 0 {
			report.Skipped++
			continue
		}
		report.Processed++
		report.Chunks += chunks
	}
	return nil
}

// processFile indexes one file and returns its chunk count, or -1 when the
// file was skipped with a reason recorded in report.
func (s *IndexService) processFile(ctx context.Context, info ingestion.DocumentInfo, replace bool, report *IndexReport) (int, error) {
	doc, err := s.source.Fetch(ctx, info)
	if err != nil {
		if errors.Is(err, ingestion.ErrNotText) {
			report.Errors = append(report.Errors, fmt.Sprintf("Skipped %s: File is not text", info.Name))
			return -1, nil
		}
		return 0, err
	}
	if strings.TrimSpace(doc.Content) == "" {
		report.Errors = append(report.Errors, fmt.Sprintf("Skipped %s: File has no content", info.Name))
		return -1, nil
	}

	records, skipped := s.pipeline.Build(doc)
	for _, sk := range skipped {
		report.Errors = append(report.Errors, sk.Reason)
	}
	if len(records) == 0 {
		if len(skipped) == 0 {
			report.Errors = append(report.Errors, fmt.Sprintf("Skipped %s: No chunks generated", info.Name))
		}
		return -1, nil
	}

	if replace {
		if err := s.deleteChunks(ctx, info.ID); err != nil {
			return 0, fmt.Errorf("failed to delete old chunks: %w", err)
		}
	}

	batches, err := ingestion.Batch(records, s.batchSize)
	if err != nil {
		return 0, err
	}
	for _, batch := range batches {
		if err := s.upsert(ctx, batch); err != nil {
			return 0, err
		}
	}

	if err := s.registry.UpsertFile(ctx, &repository.IndexedFile{
		FileID:       info.ID,
		FileName:     info.Name,
		FileType:     info.FileType,
		ModifiedTime: info.ModifiedTime,
		ChunkCount:   len(records),
		IndexedAt:    s.now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("failed to record indexed file: %w", err)
	}

	s.logger.Debug("indexed file",
		slog.String("file_id", info.ID),
		slog.Int("chunks", len(records)))
	return len(records), nil
}

func (s *IndexService) upsert(ctx context.Context, batch []vectorstore.Record) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range []vectorstore.TextIndex{s.dense, s.sparse} {
		g.Go(func() error {
			_, err := ratelimit.Call(gctx, s.guard, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, idx.Upsert(ctx, batch)
			})
			if err != nil {
				return fmt.Errorf("failed to upsert into %s index: %w", idx.Kind(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *IndexService) deleteChunks(ctx context.Context, fileID string) error {
	for _, idx := range []vectorstore.TextIndex{s.dense, s.sparse} {
		_, err := ratelimit.Call(ctx, s.guard, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, idx.DeleteByDocument(ctx, fileID)
		})
		if err != nil {
			return fmt.Errorf("failed to delete from %s index: %w", idx.Kind(), err)
		}
	}
	return nil
}

func (s *IndexService) removeDocument(ctx context.Context, fileID string) error {
	if err := s.deleteChunks(ctx, fileID); err != nil {
		return err
	}
	if err := s.registry.DeleteFile(ctx, fileID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to delete indexed file: %w", err)
	}
	return nil
}

func (s *IndexService) indexedFiles(ctx context.Context) (map[string]struct{}, error) {
	files, err := s.registry.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list indexed files: %w", ErrIndexing, err)
	}
	out := make(map[string]struct{}, len(files))
	for _, f := range files {
		out[f.FileID] = struct{}{}
	}
	return out, nil
}

// finish records the run in the registry and, when configured, the settings file.
func (s *IndexService) finish(ctx context.Context, report *IndexReport, start time.Time) error {
	now := s.now().UTC()
	cfg := s.pipeline.Chunker().Config()

	files, err := s.registry.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to list indexed files: %w", ErrIndexing, err)
	}
	totalChunks := 0
	for _, f := range files {
		totalChunks += f.ChunkCount
	}

	md := &repository.IndexMetadata{
		LastRefreshTime: now,
		TotalFiles:      len(files),
		TotalChunks:     totalChunks,
		ChunkSize:       cfg.ChunkSize,
		ChunkOverlap:    cfg.Overlap,
		RerankingModel:  s.model,
		IndexedBy:       s.indexedBy,
		RunID:           report.RunID,
	}
	if err := s.registry.SaveMetadata(ctx, md); err != nil {
		return fmt.Errorf("%w: failed to save index metadata: %w", ErrIndexing, err)
	}

	if s.store != nil {
		err := s.store.Update(func(st *config.State) error {
			if st.Owner == nil {
				return nil
			}
			st.Owner.LastRefreshTime = &now
			st.Owner.TotalFilesIndexed = len(files)
			return nil
		})
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Failed to update settings file: %v", err))
		}
	}

	report.Duration = s.now().Sub(start)
	s.logger.Info("index run finished",
		slog.String("run_id", report.RunID.String()),
		slog.Int("processed", report.Processed),
		slog.Int("chunks", report.Chunks),
		slog.Int("skipped", report.Skipped),
		slog.Int("removed", report.Removed),
		slog.Duration("duration", report.Duration))
	return nil
}

// needsRefresh reports whether a known file is selected by ForceFull, Since or
// the last refresh time.
func needsRefresh(f ingestion.DocumentInfo, opts RefreshOptions, lastRefresh time.Time) bool {
	if opts.ForceFull {
		return true
	}
	if !opts.Since.IsZero() && !f.ModifiedTime.Before(opts.Since) {
		return true
	}
	return !lastRefresh.IsZero() && !f.ModifiedTime.Before(lastRefresh)
}

func limitFiles(files []ingestion.DocumentInfo, limit int) []ingestion.DocumentInfo {
	if limit > 0 && len(files) > limit {
		return files[:limit]
	}
	return files
}

