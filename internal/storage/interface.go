// Package storage holds the advisor's mutable state: the historical case
// store, the learned effectiveness table and the recommendation log. Each
// concern has an in-memory implementation and one or more backed ones.
package storage

import (
	"context"
	"time"

	"rail-conflict-advisor/internal/types"
)

// CaseFilter narrows a case query; empty fields match everything
type CaseFilter struct {
	ConflictType types.ConflictType
	Station      string
	Limit        int
}

// Matches reports whether c passes the filter
func (f CaseFilter) Matches(c *types.ConflictCase) bool {
	if f.ConflictType != "" && c.ConflictType != f.ConflictType {
		return false
	}
	if f.Station != "" && c.Station != f.Station {
		return false
	}
	return true
}

// CaseStore persists historical conflict cases
type CaseStore interface {
	// Get returns the case or ErrNotFound
	Get(ctx context.Context, id string) (*types.ConflictCase, error)

	// Put stores a new case; the embedding must have the store's dimension
	Put(ctx context.Context, c *types.ConflictCase) error

	// Query returns the cases matching filter, filtering in the backend
	Query(ctx context.Context, filter CaseFilter) ([]*types.ConflictCase, error)

	// Search returns at most k cases matching filter, most similar to query
	// first. Cases whose embedding size differs from the query are skipped.
	Search(ctx context.Context, query []float64, filter CaseFilter, k int) ([]ScoredCase, error)

	// AppendAttempt adds an attempt to the end of a case's history
	AppendAttempt(ctx context.Context, caseID string, attempt types.StrategyAttempt) error

	// Count returns the number of stored cases
	Count(ctx context.Context) (int, error)

	Close() error
}

// Score is one versioned row of the effectiveness table
type Score struct {
	Value     float64   `json:"value"`
	Version   int64     `json:"version"`
	Samples   int64     `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectivenessStore holds the learned effectiveness per (conflict type, strategy).
// Writes are optimistic: CompareAndSwap fails with ErrVersionConflict when
// the stored version is not the expected one.
type EffectivenessStore interface {
	// Get returns the score or ErrNotFound when the key was never written
	Get(ctx context.Context, key types.EffectivenessKey) (Score, error)

	// Snapshot returns a point-in-time copy of every learned value
	Snapshot(ctx context.Context) (map[types.EffectivenessKey]float64, error)

	// CompareAndSwap writes value if the stored version equals expected.
	// expected 0 means the key must not exist yet.
	CompareAndSwap(ctx context.Context, key types.EffectivenessKey, expected int64, value float64) (Score, error)

	Close() error
}

// RecommendationLog keeps issued recommendations so feedback can refer to them
type RecommendationLog interface {
	Save(ctx context.Context, result *types.RecommendationResult) error

	// Get returns the result or ErrNotFound
	Get(ctx context.Context, id string) (*types.RecommendationResult, error)

	Close() error
}
