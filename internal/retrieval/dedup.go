package retrieval

import "sort"

// Deduplicate keeps one candidate per document: the one with the highest
// fused score, first seen on ties. Candidates without a document ID are
// dropped.
//
// Winners are then ordered by their raw CombinedScore, not the fused score
// used to pick them, and truncated to maxResults.
func Deduplicate(cands []Candidate, maxResults int, f Fusion) []Candidate {
	if maxResults <= 0 || len(cands) == 0 {
		return []Candidate{}
	}

	type best struct {
		cand  Candidate
		fused float64
	}
	groups := make(map[string]int)
	var winners []best

	for _, c := range cands {
		if c.DocumentID == "" {
			continue
		}
		fused := f.Score(c.DenseScore, c.SparseScore, c.ChunkIndex)
		i, seen := groups[c.DocumentID]
		if !seen {
			groups[c.DocumentID] = len(winners)
			winners = append(winners, best{cand: c, fused: fused})
			continue
		}
		if fused > winners[i].fused {
			winners[i] = best{cand: c, fused: fused}
		}
	}

	out := make([]Candidate, len(winners))
	for i, w := range winners {
		out[i] = w.cand
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})

	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}
