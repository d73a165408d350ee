package retrieval

import (
	"sort"

	"github.com/knoguchi/docsearch/internal/vectorstore"
)

// Merge joins dense and sparse hits on chunk ID, reading document IDs from
// DefaultDocumentKey. See MergeBy.
func Merge(dense, sparse []vectorstore.Hit) []Candidate {
	return MergeBy(dense, sparse, DefaultDocumentKey)
}

// MergeBy joins dense and sparse hits on chunk ID and reads each candidate's
// document ID from the metadata key documentKey. The result is ordered by
// CombinedScore descending; ties keep first-seen order, dense hits first.
//
// A repeated dense hit replaces the earlier one in place. A sparse hit for a
// known ID sets SparseScore and raises CombinedScore to the max. Hits
// without an ID are skipped.
func MergeBy(dense, sparse []vectorstore.Hit, documentKey string) []Candidate {
	if documentKey == "" {
		documentKey = DefaultDocumentKey
	}
	byID := make(map[string]int, len(dense)+len(sparse))
	cands := make([]Candidate, 0, len(dense)+len(sparse))

	for _, hit := range dense {
		if hit.ID == "" {
			continue
		}
		c := newCandidate(hit, documentKey)
		c.DenseScore = hit.Score
		c.CombinedScore = hit.Score
		if i, ok := byID[hit.ID]; ok {
			cands[i] = c
			continue
		}
		byID[hit.ID] = len(cands)
		cands = append(cands, c)
	}

	for _, hit := range sparse {
		if hit.ID == "" {
			continue
		}
		if i, ok := byID[hit.ID]; ok {
			c := &cands[i]
			c.SparseScore = hit.Score
			c.CombinedScore = max(c.CombinedScore, hit.Score)
			continue
		}
		c := newCandidate(hit, documentKey)
		c.SparseScore = hit.Score
		c.CombinedScore = hit.Score
		byID[hit.ID] = len(cands)
		cands = append(cands, c)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].CombinedScore > cands[j].CombinedScore
	})
	return cands
}

// MergeRaw is Merge over raw backend hits. Entries that are nil or lack an id
// or score are skipped.
func MergeRaw(dense, sparse []map[string]any) []Candidate {
	return Merge(extractAll(dense), extractAll(sparse))
}

func extractAll(raw []map[string]any) []vectorstore.Hit {
	hits := make([]vectorstore.Hit, 0, len(raw))
	for _, r := range raw {
		hit, err := vectorstore.ExtractHit(r)
		if err != nil {
			continue
		}
		hits = append(hits, hit)
	}
	return hits
}
