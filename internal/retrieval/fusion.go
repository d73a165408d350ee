package retrieval

// Fusion scores a candidate from its dense score, sparse score and chunk position.
//
// Sparse scores are unbounded (BM25-like) so they are scaled by SparseDivisor
// and capped at 1 before being averaged with the dense score. Early chunks of a
// document get a small bonus that reaches zero at BonusCutoff.
type Fusion struct {
	SparseDivisor float64
	DenseWeight   float64
	SparseWeight  float64
	BonusSlope    float64
	BonusCutoff   int
}

// DefaultFusion weighs dense scores twice as much as sparse ones.
func DefaultFusion() Fusion {
	return Fusion{
		SparseDivisor: 10.0,
		DenseWeight:   2.0,
		SparseWeight:  1.0,
		BonusSlope:    0.01,
		BonusCutoff:   10,
	}
}

// Score returns the fused score. A sparse score of zero or less means the
// chunk was only found by dense search and its dense score is used as is.
func (f Fusion) Score(dense, sparse float64, chunkIndex int) float64 {
	combined := dense
	if sparse > 0 {
		normalized := 1.0
		if f.SparseDivisor > 0 {
			normalized = min(sparse/f.SparseDivisor, 1.0)
		}
		combined = (f.DenseWeight*dense + f.SparseWeight*normalized) / (f.DenseWeight + f.SparseWeight)
	}

	bonus := max(0, float64(f.BonusCutoff-chunkIndex)*f.BonusSlope)
	return combined + bonus
}

// Fuse scores with DefaultFusion.
func Fuse(dense, sparse float64, chunkIndex int) float64 {
	return DefaultFusion().Score(dense, sparse, chunkIndex)
}
