package vectorstore

import (
	"context"
	"testing"

	index "github.com/blevesearch/bleve_index_api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBleve(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func record(id, fileID, fileType, text string, chunk int) Record {
	return Record{
		ID:   id,
		Text: text,
		Metadata: map[string]any{
			FieldFileID:     fileID,
			FieldFileName:   fileID,
			FieldFileType:   fileType,
			FieldChunkIndex: chunk,
		},
	}
}

func TestBleveIndex_UpsertSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestBleve(t)

	require.NoError(t, idx.Upsert(ctx, []Record{
		record("a.md#0", "a.md", "md", "kubernetes deployment rollout strategy", 0),
		record("a.md#1", "a.md", "md", "unrelated notes about lunch", 1),
		record("b.go#0", "b.go", "go", "kubernetes client configuration", 0),
	}))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	hits, err := idx.Search(ctx, "kubernetes", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
		assert.Contains(t, h.Metadata[FieldText], "kubernetes")
		_, ok := h.Metadata[payloadIDKey]
		assert.False(t, ok, "internal id key must not leak into metadata")
	}

	hits, err = idx.Search(ctx, "kubernetes", 10, FileTypes("go"))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b.go#0", hits[0].ID)
	assert.Equal(t, "b.go", hits[0].Metadata[FieldFileID])
	n, ok := MetadataInt(hits[0].Metadata, FieldChunkIndex)
	assert.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx := newTestBleve(t)
	hits, err := idx.Search(context.Background(), "   ", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveIndex_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	idx := newTestBleve(t)

	require.NoError(t, idx.Upsert(ctx, []Record{
		record("a.md#0", "a.md", "md", "first alpha chunk", 0),
		record("a.md#1", "a.md", "md", "second alpha chunk", 1),
		record("b.md#0", "b.md", "md", "alpha in another file", 0),
	}))

	require.NoError(t, idx.DeleteByDocument(ctx, "a.md"))

	hits, err := idx.Search(ctx, "alpha", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b.md#0", hits[0].ID)

	require.NoError(t, idx.DeleteByIDs(ctx, []string{"b.md#0"}))
	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBleveIndex_Closed(t *testing.T) {
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Search(context.Background(), "x", 1, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, idx.EnsureIndex(context.Background()), ErrClosed)
}

func TestBleveMapping_ScoresWithBM25(t *testing.T) {
	assert.Equal(t, index.BM25Scoring, newBleveMapping().ScoringModel)
}
