package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docsearch/internal/reranker"
	"github.com/knoguchi/docsearch/internal/vectorstore"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeReranker struct {
	mu       sync.Mutex
	calls    int
	lastReq  reranker.Request
	err      error
	response func(req reranker.Request) []reranker.Result
}

func (f *fakeReranker) Rerank(_ context.Context, req reranker.Request) ([]reranker.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response(req), nil
	}
	out := make([]reranker.Result, 0, req.TopN)
	for i, d := range req.Documents[:req.TopN] {
		out = append(out, reranker.Result{ID: d.ID, Score: 1 - float64(i)*0.01, Document: d})
	}
	return out, nil
}

func manyCandidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		doc := fmt.Sprintf("f%d", i)
		out[i] = Candidate{
			ChunkID:       doc + "#0",
			DocumentID:    doc,
			CombinedScore: 1 - float64(i)/float64(n),
			DenseScore:    1 - float64(i)/float64(n),
			Text:          "chunk " + doc,
			Metadata:      map[string]any{"file_id": doc},
		}
	}
	return out
}

func TestRerankGateway_CapsDocuments(t *testing.T) {
	fr := &fakeReranker{}
	gw := NewRerankGateway(fr, "m", WithGatewayLogger(quiet))

	out, err := gw.Rerank(context.Background(), manyCandidates(150), "q", 10)
	require.NoError(t, err)
	assert.Len(t, out, 10)
	assert.Len(t, fr.lastReq.Documents, 100)
	assert.Equal(t, 100, fr.lastReq.TopN)
	assert.Equal(t, "m", fr.lastReq.Model)
	assert.Equal(t, "q", fr.lastReq.Query)
}

func TestRerankGateway_TopNBelowCap(t *testing.T) {
	fr := &fakeReranker{}
	gw := NewRerankGateway(fr, "m")

	_, err := gw.Rerank(context.Background(), manyCandidates(7), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, 7, fr.lastReq.TopN)
}

func TestRerankGateway_TruncatesText(t *testing.T) {
	fr := &fakeReranker{}
	gw := NewRerankGateway(fr, "m")

	cands := manyCandidates(1)
	cands[0].Text = strings.Repeat("é", 2000)
	_, err := gw.Rerank(context.Background(), cands, "q", 1)
	require.NoError(t, err)

	sent := fr.lastReq.Documents[0].Text
	assert.True(t, strings.HasSuffix(sent, "..."))
	assert.Equal(t, 1603, len([]rune(sent)))
}

func TestRerankGateway_MapsByIDAndDropsUnknown(t *testing.T) {
	fr := &fakeReranker{response: func(req reranker.Request) []reranker.Result {
		return []reranker.Result{
			{ID: "f2#0", Score: 0.99},
			{ID: "ghost", Score: 0.98},
			{ID: "f0#0", Score: 0.5},
			{ID: "f1#0", Score: 0.1},
		}
	}}
	gw := NewRerankGateway(fr, "m")

	cands := manyCandidates(3)
	out, err := gw.Rerank(context.Background(), cands, "q", 2)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "f2#0", out[0].ID)
	assert.Equal(t, 0.99, out[0].Score)
	assert.Equal(t, 0.99, out[0].RerankedScore)
	assert.Equal(t, cands[2].CombinedScore, out[0].OriginalScore)
	assert.Equal(t, "f2", out[0].Metadata["file_id"])
	assert.Equal(t, "f0#0", out[1].ID)
}

func TestRerankGateway_ErrorAndFallback(t *testing.T) {
	cause := errors.New("rerank service down")
	fr := &fakeReranker{err: cause}
	gw := NewRerankGateway(fr, "m", WithGatewayLogger(quiet))
	cands := manyCandidates(5)

	_, err := gw.Rerank(context.Background(), cands, "q", 3)
	var rerr *RerankError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, cause)

	out := gw.RerankOrFallback(context.Background(), cands, "q", 3)
	require.Len(t, out, 3)
	for i, r := range out {
		assert.Equal(t, cands[i].ChunkID, r.ID)
		assert.Equal(t, r.OriginalScore, r.Score)
		assert.Equal(t, r.OriginalScore, r.RerankedScore)
		assert.Equal(t, cands[i].CombinedScore, r.Score)
	}
}

func TestRerankGateway_EmptyMakesNoCall(t *testing.T) {
	fr := &fakeReranker{}
	gw := NewRerankGateway(fr, "m")

	out, err := gw.Rerank(context.Background(), nil, "q", 5)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, gw.RerankOrFallback(context.Background(), []Candidate{}, "q", 5))
	assert.Zero(t, fr.calls)
}

func TestFallback_ShortInput(t *testing.T) {
	assert.Len(t, Fallback(manyCandidates(2), 5), 2)
	assert.Empty(t, Fallback(manyCandidates(2), 0))
}

type fakeSearcher struct {
	mu      sync.Mutex
	hits    []vectorstore.Hit
	err     error
	calls   int
	lastK   int
	lastFlt vectorstore.Filter
}

func (f *fakeSearcher) Search(_ context.Context, _ string, topK int, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastK = topK
	f.lastFlt = filter
	return f.hits, f.err
}

func TestHybrid_EndToEnd(t *testing.T) {
	dense := &fakeSearcher{hits: []vectorstore.Hit{
		hit("f1#0", 0.9, "f1", 0),
		hit("f2#0", 0.7, "f2", 0),
	}}
	sparse := &fakeSearcher{hits: []vectorstore.Hit{
		hit("f1#0", 8.0, "f1", 0),
	}}
	fr := &fakeReranker{}
	h := NewHybrid(dense, sparse, NewRerankGateway(fr, "m", WithGatewayLogger(quiet)), WithLogger(quiet))

	filter := vectorstore.FileTypes("md")
	out, err := h.Query(context.Background(), "q", 1, filter)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "f1#0", out[0].ID)
	assert.Equal(t, 0.9, out[0].DenseScore)
	assert.Equal(t, 8.0, out[0].SparseScore)
	assert.Equal(t, 8.0, out[0].OriginalScore)

	assert.Equal(t, 4, dense.lastK)
	assert.Equal(t, 4, sparse.lastK)
	assert.Equal(t, filter, dense.lastFlt)
	assert.Equal(t, filter, sparse.lastFlt)

	// both documents survive deduplication with a budget of 2
	require.Len(t, fr.lastReq.Documents, 2)
	assert.Equal(t, "f1#0", fr.lastReq.Documents[0].ID)
	assert.Equal(t, "f2#0", fr.lastReq.Documents[1].ID)
}

func TestHybrid_OneSideFails(t *testing.T) {
	dense := &fakeSearcher{err: errors.New("dense down")}
	sparse := &fakeSearcher{hits: []vectorstore.Hit{hit("a#0", 3.0, "a", 0)}}
	h := NewHybrid(dense, sparse, NewRerankGateway(&fakeReranker{}, "m"), WithLogger(quiet))

	out, err := h.Query(context.Background(), "q", 5, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a#0", out[0].ID)
}

func TestHybrid_BothFail(t *testing.T) {
	de, se := errors.New("dense down"), errors.New("sparse down")
	h := NewHybrid(&fakeSearcher{err: de}, &fakeSearcher{err: se}, nil, WithLogger(quiet))

	_, err := h.Query(context.Background(), "q", 5, nil)
	require.ErrorIs(t, err, ErrSearchFailed)
	assert.ErrorIs(t, err, de)
	assert.ErrorIs(t, err, se)
}

func TestHybrid_EmptyResultsSkipRerank(t *testing.T) {
	fr := &fakeReranker{}
	h := NewHybrid(&fakeSearcher{}, &fakeSearcher{}, NewRerankGateway(fr, "m"), WithLogger(quiet))

	out, err := h.Query(context.Background(), "q", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, fr.calls)
}

func TestHybrid_RerankFailureFallsBack(t *testing.T) {
	dense := &fakeSearcher{hits: []vectorstore.Hit{
		hit("a#0", 0.9, "a", 0),
		hit("b#0", 0.8, "b", 0),
		hit("c#0", 0.7, "c", 0),
	}}
	fr := &fakeReranker{err: errors.New("boom")}
	h := NewHybrid(dense, &fakeSearcher{}, NewRerankGateway(fr, "m", WithGatewayLogger(quiet)), WithLogger(quiet))

	out, err := h.Query(context.Background(), "q", 2, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a#0", out[0].ID)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, out[0].OriginalScore, out[0].Score)
}

func TestHybrid_InvalidTopK(t *testing.T) {
	h := NewHybrid(&fakeSearcher{}, &fakeSearcher{}, nil)
	_, err := h.Query(context.Background(), "q", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestHybrid_OverFetch(t *testing.T) {
	dense, sparse := &fakeSearcher{}, &fakeSearcher{}
	h := NewHybrid(dense, sparse, nil, WithOverFetch(3))

	_, err := h.Query(context.Background(), "q", 7, nil)
	require.NoError(t, err)
	assert.Equal(t, 21, dense.lastK)
	assert.Equal(t, 21, sparse.lastK)
}

func TestHybrid_DocumentKey(t *testing.T) {
	byPath := func(id, path string, score float64) vectorstore.Hit {
		return vectorstore.Hit{ID: id, Score: score, Metadata: map[string]any{"path": path, vectorstore.FieldChunkIndex: 0}}
	}
	dense := &fakeSearcher{hits: []vectorstore.Hit{
		byPath("p1", "docs/a.md", 0.9),
		byPath("p2", "docs/a.md", 0.8),
		byPath("p3", "docs/b.md", 0.7),
	}}
	h := NewHybrid(dense, &fakeSearcher{}, nil, WithDocumentKey("path"), WithLogger(quiet))

	out, err := h.Query(context.Background(), "q", 5, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "p1", out[0].ID)
	assert.Equal(t, "p3", out[1].ID)

	// without the key no document ID resolves and every candidate is dropped
	out, err = NewHybrid(dense, &fakeSearcher{}, nil, WithLogger(quiet)).Query(context.Background(), "q", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
