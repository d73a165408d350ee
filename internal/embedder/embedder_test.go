package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docsearch/internal/ratelimit"
)

func newOllamaServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Prompt == "fail" {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}

		vec := make([]float64, dim)
		vec[0] = float64(len(req.Prompt))
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: vec})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 4, &calls)

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL + "/", Model: "custom", Dimension: 4})
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0, 0}, vec)
	assert.Equal(t, "custom", e.ModelName())
	assert.Equal(t, 4, e.Dimension())
}

func TestOllamaEmbedder_StatusError(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 4, &calls)

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Dimension: 4})
	_, err := e.Embed(context.Background(), "fail")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.True(t, ratelimit.IsTransient(err))
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 3, &calls)

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Dimension: 4})
	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "expected 4")
}

func TestOllamaEmbedder_EmbedBatchKeepsOrder(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 2, &calls)

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Dimension: 2, BatchConcurrency: 2})
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, float32(2), vecs[2][0])
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaEmbedder_DefaultDimensionFromModel(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{Model: "mxbai-embed-large"})
	assert.Equal(t, 1024, e.Dimension())
	assert.Equal(t, DefaultOllamaDimension, NewOllamaEmbedder(OllamaConfig{Model: "unknown"}).Dimension())
}

func TestCachedEmbedder(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 2, &calls)
	c := NewCachedEmbedder(NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Dimension: 2}), 2)
	ctx := context.Background()

	first, err := c.Embed(ctx, "query")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())

	_, err = c.Embed(ctx, "fail")
	require.Error(t, err)
	assert.Equal(t, 1, c.Len(), "errors are not cached")

	_, err = c.EmbedBatch(ctx, []string{"query"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "batch calls bypass the cache")
}

func TestHashingEncoder(t *testing.T) {
	enc := NewHashingEncoder()

	sv := enc.Encode("The cache cache eviction policy")
	require.Len(t, sv.Indices, 3)
	require.Len(t, sv.Values, 3)
	for i := 1; i < len(sv.Indices); i++ {
		assert.Less(t, sv.Indices[i-1], sv.Indices[i])
	}

	cacheIdx := termIndex("cache")
	for i, idx := range sv.Indices {
		if idx == cacheIdx {
			assert.InDelta(t, 1.6931, sv.Values[i], 1e-3)
		} else {
			assert.InDelta(t, 1.0, sv.Values[i], 1e-6)
		}
	}

	assert.Empty(t, enc.Encode("the a of").Indices)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hybrid", "search", "v2", "naïve"}, Tokenize("Hybrid-search, v2 is a naïve x!"))
}
