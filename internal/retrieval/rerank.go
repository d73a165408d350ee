package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knoguchi/docsearch/internal/ratelimit"
	"github.com/knoguchi/docsearch/internal/reranker"
)

const (
	// DefaultMaxRerankDocuments caps the documents sent in one rerank request.
	DefaultMaxRerankDocuments = 100

	// DefaultMaxRerankChars caps each document's text before "..." is appended.
	DefaultMaxRerankChars = 1600
)

// RerankError reports a failed rerank call. Callers are expected to fall back
// to the merged order.
type RerankError struct {
	Model string
	Err   error
}

func (e *RerankError) Error() string {
	return fmt.Sprintf("rerank with %s failed: %v", e.Model, e.Err)
}

func (e *RerankError) Unwrap() error { return e.Err }

// RerankGateway sends candidates to a reranker with bounded request size.
type RerankGateway struct {
	reranker     reranker.Reranker
	model        string
	maxDocuments int
	maxChars     int
	guard        ratelimit.Guard
	logger       *slog.Logger
}

// GatewayOption configures a RerankGateway.
type GatewayOption func(*RerankGateway)

// WithRerankGuard throttles and retries rerank calls.
func WithRerankGuard(g ratelimit.Guard) GatewayOption {
	return func(gw *RerankGateway) { gw.guard = g }
}

// WithRerankLimits overrides the document and text caps.
func WithRerankLimits(maxDocuments, maxChars int) GatewayOption {
	return func(gw *RerankGateway) {
		if maxDocuments > 0 {
			gw.maxDocuments = maxDocuments
		}
		if maxChars > 0 {
			gw.maxChars = maxChars
		}
	}
}

// WithGatewayLogger sets the logger for fallback warnings.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(gw *RerankGateway) { gw.logger = l }
}

// NewRerankGateway creates a gateway calling r with the given model name.
func NewRerankGateway(r reranker.Reranker, model string, opts ...GatewayOption) *RerankGateway {
	gw := &RerankGateway{
		reranker:     r,
		model:        model,
		maxDocuments: DefaultMaxRerankDocuments,
		maxChars:     DefaultMaxRerankChars,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(gw)
	}
	return gw
}

// Model returns the reranking model name.
func (g *RerankGateway) Model() string { return g.model }

// Rerank returns at most topK results in the reranker's order. Only the first
// maxDocuments candidates are sent. Result IDs the reranker invents are
// dropped. Empty input returns no results without calling the reranker.
func (g *RerankGateway) Rerank(ctx context.Context, cands []Candidate, query string, topK int) ([]RankedResult, error) {
	if len(cands) == 0 || topK <= 0 {
		return []RankedResult{}, nil
	}

	sent := cands
	if len(sent) > g.maxDocuments {
		sent = sent[:g.maxDocuments]
	}

	byID := make(map[string]Candidate, len(sent))
	docs := make([]reranker.Document, len(sent))
	for i, c := range sent {
		byID[c.ChunkID] = c
		docs[i] = reranker.Document{ID: c.ChunkID, Text: truncate(c.Text, g.maxChars)}
	}

	req := reranker.Request{
		Model:     g.model,
		Query:     query,
		Documents: docs,
		TopN:      min(g.maxDocuments, len(docs)),
	}
	scored, err := ratelimit.Call(ctx, g.guard, func(ctx context.Context) ([]reranker.Result, error) {
		return g.reranker.Rerank(ctx, req)
	})
	if err != nil {
		return nil, &RerankError{Model: g.model, Err: err}
	}

	out := make([]RankedResult, 0, min(topK, len(scored)))
	for _, s := range scored {
		if len(out) == topK {
			break
		}
		c, ok := byID[s.ID]
		if !ok {
			continue
		}
		out = append(out, RankedResult{
			ID:            c.ChunkID,
			Score:         s.Score,
			RerankedScore: s.Score,
			OriginalScore: c.CombinedScore,
			DenseScore:    c.DenseScore,
			SparseScore:   c.SparseScore,
			Metadata:      c.Metadata,
		})
	}
	return out, nil
}

// RerankOrFallback is Rerank that logs failures and returns Fallback instead.
func (g *RerankGateway) RerankOrFallback(ctx context.Context, cands []Candidate, query string, topK int) []RankedResult {
	results, err := g.Rerank(ctx, cands, query, topK)
	if err != nil {
		g.logger.Warn("reranking failed, using merged order", "model", g.model, "error", err)
		return Fallback(cands, topK)
	}
	return results
}

// Fallback returns the first topK candidates scored by their combined score.
func Fallback(cands []Candidate, topK int) []RankedResult {
	n := min(max(topK, 0), len(cands))
	out := make([]RankedResult, n)
	for i, c := range cands[:n] {
		out[i] = RankedResult{
			ID:            c.ChunkID,
			Score:         c.CombinedScore,
			RerankedScore: c.CombinedScore,
			OriginalScore: c.CombinedScore,
			DenseScore:    c.DenseScore,
			SparseScore:   c.SparseScore,
			Metadata:      c.Metadata,
		}
	}
	return out
}

func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
