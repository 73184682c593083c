// Package retrieval finds the historical cases most similar to a conflict
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/storage"
	"rail-conflict-advisor/internal/types"
)

// Neighbor is a retrieved case with its cosine similarity to the query
type Neighbor struct {
	Case       *types.ConflictCase
	Similarity float64
}

// Config holds the retrieval limits
type Config struct {
	K            int
	MinNeighbors int
}

// Retriever asks the store for the nearest filtered cases
type Retriever struct {
	store  storage.CaseStore
	config Config
	logger logging.Logger
}

// NewRetriever creates a retriever over store. K is raised to MinNeighbors
// so a warm store can always clear the cold-start threshold.
func NewRetriever(store storage.CaseStore, config Config, logger logging.Logger) *Retriever {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if config.K <= 0 {
		config.K = 12
	}
	if config.MinNeighbors < 0 {
		config.MinNeighbors = 0
	}
	if config.K < config.MinNeighbors {
		config.K = config.MinNeighbors
	}
	return &Retriever{
		store:  store,
		config: config,
		logger: logger.WithComponent("retriever"),
	}
}

// Retrieve returns up to K neighbors, most similar first. A nil or zero query,
// or fewer than MinNeighbors usable matches, yields no neighbors.
func (r *Retriever) Retrieve(ctx context.Context, query []float64, filter storage.CaseFilter) ([]Neighbor, error) {
	if len(query) == 0 || norm(query) == 0 {
		return nil, nil
	}

	filter.Limit = 0
	scored, err := r.store.Search(ctx, query, filter, r.config.K)
	if err != nil {
		return nil, fmt.Errorf("failed to search candidate cases: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(scored))
	for _, sc := range scored {
		if len(sc.Case.Embedding) != len(query) {
			r.logger.WarnContext(ctx, "Skipping case with mismatched embedding dimension",
				"case_id", sc.Case.ID, "expected", len(query), "actual", len(sc.Case.Embedding))
			continue
		}
		neighbors = append(neighbors, Neighbor{Case: sc.Case, Similarity: sc.Similarity})
	}

	if len(neighbors) < r.config.MinNeighbors {
		r.logger.DebugContext(ctx, "Cold start, not enough candidate cases",
			"candidates", len(neighbors), "min_neighbors", r.config.MinNeighbors,
			"conflict_type", filter.ConflictType, "station", filter.Station)
		return nil, nil
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		a, b := neighbors[i], neighbors[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Case.CreatedAt.Equal(b.Case.CreatedAt) {
			return a.Case.CreatedAt.After(b.Case.CreatedAt)
		}
		return a.Case.ID < b.Case.ID
	})
	return neighbors, nil
}

// Similarity returns the cosine similarity of a and b, or 0 when either is
// empty, zero or they differ in length
func Similarity(a, b []float64) float64 {
	return storage.CosineSimilarity(a, b)
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
