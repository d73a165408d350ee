package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/docsearch/internal/ratelimit"
	"github.com/knoguchi/docsearch/internal/vectorstore"
)

// DefaultOverFetch is how many hits per requested result each index returns.
const DefaultOverFetch = 4

var (
	// ErrInvalidTopK is returned for a non-positive result count.
	ErrInvalidTopK = errors.New("top_k must be positive")

	// ErrSearchFailed is returned when both the dense and sparse searches fail.
	ErrSearchFailed = errors.New("hybrid search failed")
)

// Searcher is one side of a hybrid query.
type Searcher interface {
	Search(ctx context.Context, text string, topK int, filter vectorstore.Filter) ([]vectorstore.Hit, error)
}

// Hybrid runs a query against a dense and a sparse index and fuses the results.
type Hybrid struct {
	dense     Searcher
	sparse    Searcher
	gateway   *RerankGateway
	fusion    Fusion
	guard     ratelimit.Guard
	overFetch int
	docKey    string
	logger    *slog.Logger
}

// HybridOption configures a Hybrid.
type HybridOption func(*Hybrid)

// WithFusion overrides the fusion parameters used for deduplication.
func WithFusion(f Fusion) HybridOption {
	return func(h *Hybrid) { h.fusion = f }
}

// WithSearchGuard throttles and retries both index searches.
func WithSearchGuard(g ratelimit.Guard) HybridOption {
	return func(h *Hybrid) { h.guard = g }
}

// WithOverFetch sets the per-index fetch multiplier.
func WithOverFetch(n int) HybridOption {
	return func(h *Hybrid) {
		if n > 0 {
			h.overFetch = n
		}
	}
}

// WithDocumentKey sets the metadata key that identifies a chunk's document
// for deduplication.
func WithDocumentKey(key string) HybridOption {
	return func(h *Hybrid) {
		if key != "" {
			h.docKey = key
		}
	}
}

// WithLogger sets the logger for degraded-search warnings.
func WithLogger(l *slog.Logger) HybridOption {
	return func(h *Hybrid) { h.logger = l }
}

// NewHybrid creates a hybrid query orchestrator.
func NewHybrid(dense, sparse Searcher, gateway *RerankGateway, opts ...HybridOption) *Hybrid {
	h := &Hybrid{
		dense:     dense,
		sparse:    sparse,
		gateway:   gateway,
		fusion:    DefaultFusion(),
		overFetch: DefaultOverFetch,
		docKey:    DefaultDocumentKey,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Query returns up to topK reranked results for query.
//
// Both searches run concurrently with the same filter. If one fails the other's
// results are used alone; only when both fail is an error returned. Reranker
// failures never fail the query.
func (h *Hybrid) Query(ctx context.Context, query string, topK int, filter vectorstore.Filter) ([]RankedResult, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}
	fetch := topK * h.overFetch

	var (
		denseHits, sparseHits []vectorstore.Hit
		denseErr, sparseErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		denseHits, denseErr = h.search(gctx, h.dense, query, fetch, filter)
		return nil
	})
	g.Go(func() error {
		sparseHits, sparseErr = h.search(gctx, h.sparse, query, fetch, filter)
		return nil
	})
	_ = g.Wait()

	switch {
	case denseErr != nil && sparseErr != nil:
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, errors.Join(denseErr, sparseErr))
	case denseErr != nil:
		h.logger.Warn("dense search failed, using sparse results only", "error", denseErr)
	case sparseErr != nil:
		h.logger.Warn("sparse search failed, using dense results only", "error", sparseErr)
	}

	cands := MergeBy(denseHits, sparseHits, h.docKey)
	if len(cands) == 0 {
		return []RankedResult{}, nil
	}

	deduped := Deduplicate(cands, topK*2, h.fusion)
	h.logger.Debug("hybrid candidates",
		"dense", len(denseHits), "sparse", len(sparseHits),
		"merged", len(cands), "deduplicated", len(deduped))

	if h.gateway == nil {
		return Fallback(deduped, topK), nil
	}
	return h.gateway.RerankOrFallback(ctx, deduped, query, topK), nil
}

func (h *Hybrid) search(ctx context.Context, s Searcher, query string, topK int, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	if s == nil {
		return nil, errors.New("index not configured")
	}
	return ratelimit.Call(ctx, h.guard, func(ctx context.Context) ([]vectorstore.Hit, error) {
		return s.Search(ctx, query, topK, filter)
	})
}
