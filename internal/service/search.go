package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knoguchi/docsearch/internal/ingestion"
	"github.com/knoguchi/docsearch/internal/retrieval"
	"github.com/knoguchi/docsearch/internal/vectorstore"
)

const (
	// DefaultSearchLimit is the number of results returned when none is requested.
	DefaultSearchLimit = 10

	// MaxSearchLimit is the largest accepted result count.
	MaxSearchLimit = 100
)

// ErrInvalidRequest is returned for malformed search requests.
var ErrInvalidRequest = errors.New("invalid request")

// Querier runs a hybrid query.
type Querier interface {
	Query(ctx context.Context, query string, topK int, filter vectorstore.Filter) ([]retrieval.RankedResult, error)
}

// SearchRequest is a search query with optional file type restriction.
// FileTypes may name individual types or categories.
type SearchRequest struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit,omitempty"`
	FileTypes []string `json:"file_types,omitempty"`
}

// SearchResponse holds ranked results for a query.
type SearchResponse struct {
	Query     string                   `json:"query"`
	FileTypes []string                 `json:"file_types,omitempty"`
	Results   []retrieval.RankedResult `json:"results"`
	Took      time.Duration            `json:"took"`
}

// SearchService validates search requests and runs them.
type SearchService struct {
	querier Querier
	logger  *slog.Logger
}

// NewSearchService creates a SearchService. A nil logger uses slog.Default.
func NewSearchService(q Querier, logger *slog.Logger) *SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{querier: q, logger: logger}
}

// Search runs req and returns at most req.Limit results.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}

	limit := req.Limit
	switch {
	case limit == 0:
		limit = DefaultSearchLimit
	case limit < 0 || limit > MaxSearchLimit:
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, MaxSearchLimit)
	}

	types, err := ingestion.ValidateFileTypes(strings.Join(req.FileTypes, ","))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	start := time.Now()
	results, err := s.querier.Query(ctx, query, limit, vectorstore.FileTypes(types...))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if results == nil {
		results = []retrieval.RankedResult{}
	}

	took := time.Since(start)
	s.logger.Info("search",
		slog.Int("limit", limit),
		slog.Int("results", len(results)),
		slog.Duration("took", took))

	return &SearchResponse{Query: query, FileTypes: types, Results: results, Took: took}, nil
}
