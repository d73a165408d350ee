// Package vectorstore provides the dense and sparse text indexes used for hybrid search.
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrIndexNotFound is returned when the configured index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIncompatibleIndex is returned when an existing index lacks the vector kind it is used for.
	ErrIncompatibleIndex = errors.New("index is not compatible with its configured kind")

	// ErrMalformedHit is returned by ExtractHit when a raw hit has no usable id or score.
	ErrMalformedHit = errors.New("malformed hit")

	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index is closed")
)

// Kind identifies which retrieval signal an index produces.
type Kind string

const (
	KindDense  Kind = "dense"
	KindSparse Kind = "sparse"
)

// SparseVector represents a sparse vector with indices and values
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Record is one chunk as written to an index. Dense and sparse indexes receive
// identical records; each encodes Text its own way.
type Record struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Hit is one result returned by a single index search.
type Hit struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Filter restricts a search to records whose metadata field holds one of the
// listed values. Multiple fields are combined with AND.
type Filter map[string][]string

// FileTypes returns a filter matching any of the given file types.
func FileTypes(types ...string) Filter {
	if len(types) == 0 {
		return nil
	}
	return Filter{"file_type": types}
}

// Empty reports whether the filter has no conditions.
func (f Filter) Empty() bool {
	for _, values := range f {
		if len(values) > 0 {
			return false
		}
	}
	return true
}

// TextIndex is a searchable index of chunk records. The index owns the
// encoding of text into its native representation.
type TextIndex interface {
	// Kind reports the retrieval signal this index produces.
	Kind() Kind

	// Name returns the index (collection) name.
	Name() string

	// EnsureIndex creates the index if missing and validates it otherwise.
	EnsureIndex(ctx context.Context) error

	// Search returns up to topK hits for text, restricted by filter.
	Search(ctx context.Context, text string, topK int, filter Filter) ([]Hit, error)

	// Upsert inserts or replaces records.
	Upsert(ctx context.Context, records []Record) error

	// DeleteByDocument removes every record whose file_id equals documentID.
	DeleteByDocument(ctx context.Context, documentID string) error

	// DeleteByIDs removes specific records.
	DeleteByIDs(ctx context.Context, ids []string) error

	// Count returns the number of records in the index.
	Count(ctx context.Context) (uint64, error)

	Close() error
}
