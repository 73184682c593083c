package storage

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/retry"
	"rail-conflict-advisor/internal/types"
)

// RetryableCaseStore retries transient backend failures of a CaseStore
type RetryableCaseStore struct {
	store   CaseStore
	retrier *retry.Retrier
}

// NewRetryableCaseStore wraps store; a nil config uses the storage defaults
func NewRetryableCaseStore(store CaseStore, config *retry.Config) *RetryableCaseStore {
	if config == nil {
		config = DefaultRetryConfig(3)
	}
	return &RetryableCaseStore{store: store, retrier: retry.New(config)}
}

// DefaultRetryConfig returns the retry configuration for storage operations
func DefaultRetryConfig(attempts int) *retry.Config {
	if attempts <= 0 {
		attempts = 3
	}
	return &retry.Config{
		MaxAttempts:     attempts,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         isRetryableStorageError,
	}
}

// isRetryableStorageError determines if a storage error should be retried
func isRetryableStorageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, adverrors.ErrNotFound) || errors.Is(err, adverrors.ErrValidation) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"unavailable",
		"internal server error",
		"bad gateway",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func (r *RetryableCaseStore) Get(ctx context.Context, id string) (*types.ConflictCase, error) {
	var c *types.ConflictCase
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		c, err = r.store.Get(ctx, id)
		return err
	})
	return c, result.Err
}

func (r *RetryableCaseStore) Put(ctx context.Context, c *types.ConflictCase) error {
	return r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.Put(ctx, c)
	}).Err
}

func (r *RetryableCaseStore) Query(ctx context.Context, filter CaseFilter) ([]*types.ConflictCase, error) {
	var cases []*types.ConflictCase
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		cases, err = r.store.Query(ctx, filter)
		return err
	})
	return cases, result.Err
}

func (r *RetryableCaseStore) Search(ctx context.Context, query []float64, filter CaseFilter, k int) ([]ScoredCase, error) {
	var scored []ScoredCase
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		scored, err = r.store.Search(ctx, query, filter, k)
		return err
	})
	return scored, result.Err
}

// AppendAttempt is not retried: a lost acknowledgement would append twice
func (r *RetryableCaseStore) AppendAttempt(ctx context.Context, caseID string, attempt types.StrategyAttempt) error {
	return r.store.AppendAttempt(ctx, caseID, attempt)
}

func (r *RetryableCaseStore) Count(ctx context.Context) (int, error) {
	var n int
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.store.Count(ctx)
		return err
	})
	return n, result.Err
}

func (r *RetryableCaseStore) Close() error {
	return r.store.Close()
}
