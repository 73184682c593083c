package storage

import (
	"math"
	"sort"

	"rail-conflict-advisor/internal/types"
)

// ScoredCase is a case with its cosine similarity to a query vector
type ScoredCase struct {
	Case       *types.ConflictCase
	Similarity float64
}

// CosineSimilarity returns the cosine of a and b, or 0 when either is empty,
// zero or they differ in length
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// clamp rounding drift
	return math.Max(-1, math.Min(1, sim))
}

// SortScored orders by similarity, then newest case, then id
func SortScored(scored []ScoredCase) {
	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Case.CreatedAt.Equal(b.Case.CreatedAt) {
			return a.Case.CreatedAt.After(b.Case.CreatedAt)
		}
		return a.Case.ID < b.Case.ID
	})
}
