package storage

import (
	"context"
	"sync"
	"time"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/types"
)

// MemoryEffectivenessStore is the in-process effectiveness table
type MemoryEffectivenessStore struct {
	mu     sync.RWMutex
	scores map[types.EffectivenessKey]Score
	now    func() time.Time
}

// NewMemoryEffectivenessStore creates an empty table
func NewMemoryEffectivenessStore() *MemoryEffectivenessStore {
	return &MemoryEffectivenessStore{
		scores: make(map[types.EffectivenessKey]Score),
		now:    time.Now,
	}
}

func (m *MemoryEffectivenessStore) Get(_ context.Context, key types.EffectivenessKey) (Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scores[key]
	if !ok {
		return Score{}, adverrors.NewNotFoundError("effectiveness score", key.String())
	}
	return s, nil
}

func (m *MemoryEffectivenessStore) Snapshot(_ context.Context) (map[types.EffectivenessKey]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[types.EffectivenessKey]float64, len(m.scores))
	for k, s := range m.scores {
		out[k] = s.Value
	}
	return out, nil
}

func (m *MemoryEffectivenessStore) CompareAndSwap(_ context.Context, key types.EffectivenessKey, expected int64, value float64) (Score, error) {
	if value < 0 || value > 1 {
		return Score{}, adverrors.NewValidationError("value", "effectiveness must be in [0,1]", value)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.scores[key]
	if current.Version != expected {
		return Score{}, adverrors.NewVersionConflictError(key.String(), expected)
	}

	next := Score{
		Value:     value,
		Version:   expected + 1,
		Samples:   current.Samples + 1,
		UpdatedAt: m.now().UTC(),
	}
	m.scores[key] = next
	return next, nil
}

func (m *MemoryEffectivenessStore) Close() error { return nil }
