package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/types"
)

// MemoryCaseStore keeps cases in process. Values are copied in and out so
// callers can never mutate stored history.
type MemoryCaseStore struct {
	mu    sync.RWMutex
	dims  int
	cases map[string]*types.ConflictCase
}

// NewMemoryCaseStore creates an empty store for embeddings of size dims
func NewMemoryCaseStore(dims int) *MemoryCaseStore {
	return &MemoryCaseStore{
		dims:  dims,
		cases: make(map[string]*types.ConflictCase),
	}
}

func (m *MemoryCaseStore) Get(_ context.Context, id string) (*types.ConflictCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cases[id]
	if !ok {
		return nil, adverrors.NewNotFoundError("case", id)
	}
	return c.Clone(), nil
}

func (m *MemoryCaseStore) Put(_ context.Context, c *types.ConflictCase) error {
	if err := checkCase(c, m.dims); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cases[c.ID]; exists {
		return adverrors.NewValidationError("id", "case already exists", c.ID)
	}
	m.cases[c.ID] = c.Clone()
	return nil
}

// Query returns matches newest first
func (m *MemoryCaseStore) Query(_ context.Context, filter CaseFilter) ([]*types.ConflictCase, error) {
	m.mu.RLock()
	out := make([]*types.ConflictCase, 0)
	for _, c := range m.cases {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Search scans the matching cases; the store is bounded by process memory
func (m *MemoryCaseStore) Search(_ context.Context, query []float64, filter CaseFilter, k int) ([]ScoredCase, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	scored := make([]ScoredCase, 0)
	for _, c := range m.cases {
		if !filter.Matches(c) || len(c.Embedding) != len(query) {
			continue
		}
		scored = append(scored, ScoredCase{Case: c, Similarity: CosineSimilarity(query, c.Embedding)})
	}
	SortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].Case = scored[i].Case.Clone()
	}
	m.mu.RUnlock()
	return scored, nil
}

func (m *MemoryCaseStore) AppendAttempt(_ context.Context, caseID string, attempt types.StrategyAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[caseID]
	if !ok {
		return adverrors.NewNotFoundError("case", caseID)
	}
	if attempt.ActualOutcome != nil {
		actual := *attempt.ActualOutcome
		attempt.ActualOutcome = &actual
	}
	c.Attempts = append(c.Attempts, attempt)
	return nil
}

func (m *MemoryCaseStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cases), nil
}

func (m *MemoryCaseStore) Close() error { return nil }

// checkCase enforces the invariants every backend shares
func checkCase(c *types.ConflictCase, dims int) error {
	if c == nil {
		return adverrors.NewValidationError("case", "is required", nil)
	}
	if c.ID == "" {
		return adverrors.NewValidationError("id", "is required", nil)
	}
	if !c.ConflictType.Valid() {
		return adverrors.NewValidationError("conflict_type", fmt.Sprintf("unknown conflict type %q", c.ConflictType), c.ConflictType)
	}
	if len(c.Embedding) != dims {
		return adverrors.NewValidationError("embedding",
			fmt.Sprintf("expected %d dimensions, got %d", dims, len(c.Embedding)), len(c.Embedding))
	}
	return nil
}
