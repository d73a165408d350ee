// Package reranker provides re-ranking of retrieved chunks against a query.
//
// Re-ranking uses cross-encoder scoring to improve retrieval precision by
// evaluating query-document pairs together rather than independently.
//
// # Trade-offs
//
//   - Latency: adds one network round trip per query
//   - Quality: significantly better relevance when dense and sparse results disagree
//   - Cost: hosted rerank APIs bill per document, which is why callers cap the request
package reranker

import "context"

// DefaultModel is the hosted reranking model used when none is configured.
const DefaultModel = "pinecone-rerank-v0"

// Document is one text to be scored.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Request is a rerank call.
type Request struct {
	Model     string
	Query     string
	Documents []Document
	// TopN is the number of results wanted, at most len(Documents).
	TopN int
}

// Result is one scored document, in the order the reranker ranked it.
type Result struct {
	ID       string
	Score    float64
	Document Document
}

// Reranker scores documents against a query.
type Reranker interface {
	Rerank(ctx context.Context, req Request) ([]Result, error)
}

// Noop keeps the input order and assigns descending placeholder scores.
type Noop struct{}

func (Noop) Rerank(_ context.Context, req Request) ([]Result, error) {
	n := req.TopN
	if n <= 0 || n > len(req.Documents) {
		n = len(req.Documents)
	}
	out := make([]Result, n)
	for i := 0; i < n; i++ {
		out[i] = Result{
			ID:       req.Documents[i].ID,
			Score:    1 - float64(i)/float64(len(req.Documents)),
			Document: req.Documents[i],
		}
	}
	return out, nil
}

var _ Reranker = Noop{}
