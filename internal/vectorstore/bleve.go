package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	index "github.com/blevesearch/bleve_index_api"
)

// deletePageSize bounds how many IDs one delete-by-document pass collects.
const deletePageSize = 1000

// BleveIndex is a local sparse index scored with BM25. It is used in place of
// a sparse Qdrant collection when no remote sparse index is configured.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	name   string
	closed bool
}

// NewBleveIndex opens or creates a bleve index at path.
// If path is empty, creates an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	m := newBleveMapping()

	var (
		idx bleve.Index
		err error
	)
	name := "memory"
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		name = filepath.Base(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open bleve index: %w", err)
	}

	return &BleveIndex{index: idx, name: name}, nil
}

func newBleveMapping() *mapping.IndexMappingImpl {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(FieldText, text)
	for _, f := range []string{payloadIDKey, FieldFileID, FieldFileName, FieldFileType, FieldModifiedTime, FieldWebViewLink} {
		doc.AddFieldMappingsAt(f, mapping.NewKeywordFieldMapping())
	}
	doc.AddFieldMappingsAt(FieldChunkIndex, bleve.NewNumericFieldMapping())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	m.ScoringModel = index.BM25Scoring
	return m
}

func (b *BleveIndex) Kind() Kind   { return KindSparse }
func (b *BleveIndex) Name() string { return b.name }

// EnsureIndex is a no-op; the index is created when opened.
func (b *BleveIndex) EnsureIndex(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Upsert indexes records in a single batch.
func (b *BleveIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, rec := range records {
		doc := make(map[string]any, len(rec.Metadata)+2)
		for k, v := range rec.Metadata {
			if t, ok := v.(time.Time); ok {
				v = t.UTC().Format(time.RFC3339)
			}
			doc[k] = v
		}
		doc[payloadIDKey] = rec.ID
		doc[FieldText] = rec.Text
		if err := batch.Index(rec.ID, doc); err != nil {
			return fmt.Errorf("failed to index record %s: %w", rec.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns records matching text, scored by BM25.
func (b *BleveIndex) Search(ctx context.Context, text string, topK int, filter Filter) ([]Hit, error) {
	if topK <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}

	match := bleve.NewMatchQuery(text)
	match.SetField(FieldText)

	req := bleve.NewSearchRequest(filter.bleveQuery(match))
	req.Size = topK
	req.Fields = []string{"*"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		fields := h.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		delete(fields, payloadIDKey)

		hit, err := ExtractHit(map[string]any{
			"id":     h.ID,
			"score":  h.Score,
			"fields": fields,
		})
		if err != nil {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByDocument removes every record whose file_id equals documentID.
func (b *BleveIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	for {
		tq := bleve.NewTermQuery(documentID)
		tq.SetField(FieldFileID)
		req := bleve.NewSearchRequest(tq)
		req.Size = deletePageSize

		result, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to find records for %s: %w", documentID, err)
		}
		if len(result.Hits) == 0 {
			return nil
		}

		batch := b.index.NewBatch()
		for _, h := range result.Hits {
			batch.Delete(h.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete records for %s: %w", documentID, err)
		}
	}
}

// DeleteByIDs removes specific records.
func (b *BleveIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Count returns the number of indexed records.
func (b *BleveIndex) Count(ctx context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ TextIndex = (*BleveIndex)(nil)
