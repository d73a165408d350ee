// Package retrieval fuses dense and sparse search results into a single
// reranked list.
//
// A query flows through four stages:
//
//	dense search ─┐
//	              ├─ Merge ─ Deduplicate ─ RerankGateway ─ []RankedResult
//	sparse search ┘
//
// Merge joins hits on chunk ID, Deduplicate keeps the best chunk of each
// document using Fusion scores, and RerankGateway asks a reranking model for
// the final order, falling back to the merged order when the model fails.
package retrieval

import (
	"github.com/knoguchi/docsearch/internal/vectorstore"
)

// MissingChunkIndex is assumed when a hit carries no chunk_index. It is large
// enough that the position bonus is zero.
const MissingChunkIndex = 999

// DefaultDocumentKey is the metadata key holding a chunk's document ID.
const DefaultDocumentKey = vectorstore.FieldFileID

// Candidate is a chunk seen by at least one index during one query.
type Candidate struct {
	ChunkID     string
	DenseScore  float64
	SparseScore float64
	// CombinedScore is the larger of the two raw scores. It is not fused.
	CombinedScore float64
	DocumentID    string
	ChunkIndex    int
	Text          string
	Metadata      map[string]any
}

func newCandidate(hit vectorstore.Hit, documentKey string) Candidate {
	md := hit.Metadata
	if md == nil {
		md = map[string]any{}
	}
	idx, ok := vectorstore.MetadataInt(md, vectorstore.FieldChunkIndex)
	if !ok {
		idx = MissingChunkIndex
	}
	return Candidate{
		ChunkID:    hit.ID,
		DocumentID: vectorstore.MetadataString(md, documentKey),
		ChunkIndex: idx,
		Text:       vectorstore.MetadataString(md, vectorstore.FieldText),
		Metadata:   md,
	}
}

// RankedResult is one final search result.
type RankedResult struct {
	ID string `json:"id"`
	// Score is the reranker score, or the combined score after a fallback.
	Score         float64        `json:"score"`
	RerankedScore float64        `json:"reranked_score"`
	OriginalScore float64        `json:"original_score"`
	DenseScore    float64        `json:"dense_score"`
	SparseScore   float64        `json:"sparse_score"`
	Metadata      map[string]any `json:"metadata"`
}
