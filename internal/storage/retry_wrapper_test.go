package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/retry"
	"rail-conflict-advisor/internal/types"
)

// MockCaseStore is a testify mock of CaseStore
type MockCaseStore struct {
	mock.Mock
}

func (m *MockCaseStore) Get(ctx context.Context, id string) (*types.ConflictCase, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*types.ConflictCase)
	return c, args.Error(1)
}

func (m *MockCaseStore) Put(ctx context.Context, c *types.ConflictCase) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockCaseStore) Query(ctx context.Context, filter CaseFilter) ([]*types.ConflictCase, error) {
	args := m.Called(ctx, filter)
	cases, _ := args.Get(0).([]*types.ConflictCase)
	return cases, args.Error(1)
}

func (m *MockCaseStore) Search(ctx context.Context, query []float64, filter CaseFilter, k int) ([]ScoredCase, error) {
	args := m.Called(ctx, query, filter, k)
	scored, _ := args.Get(0).([]ScoredCase)
	return scored, args.Error(1)
}

func (m *MockCaseStore) AppendAttempt(ctx context.Context, caseID string, attempt types.StrategyAttempt) error {
	return m.Called(ctx, caseID, attempt).Error(0)
}

func (m *MockCaseStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockCaseStore) Close() error {
	return m.Called().Error(0)
}

func testRetryConfig(attempts int) *retry.Config {
	return &retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		RetryIf:      isRetryableStorageError,
	}
}

func TestRetryWrapper_SuccessfulOperations(t *testing.T) {
	mockStore := new(MockCaseStore)
	wrapper := NewRetryableCaseStore(mockStore, testRetryConfig(3))
	ctx := context.Background()

	c := testCase("case-1", types.ConflictSignalFailure, "Central", time.Now())

	mockStore.On("Put", ctx, c).Return(nil).Once()
	require.NoError(t, wrapper.Put(ctx, c))

	mockStore.On("Get", ctx, "case-1").Return(c, nil).Once()
	got, err := wrapper.Get(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	mockStore.On("Count", ctx).Return(1, nil).Once()
	n, err := wrapper.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mockStore.AssertExpectations(t)
}

func TestRetryWrapper_RetryLogic(t *testing.T) {
	ctx := context.Background()
	filter := CaseFilter{ConflictType: types.ConflictSignalFailure}

	t.Run("Query succeeds after transient failure", func(t *testing.T) {
		mockStore := new(MockCaseStore)
		wrapper := NewRetryableCaseStore(mockStore, testRetryConfig(3))

		cases := []*types.ConflictCase{testCase("case-1", types.ConflictSignalFailure, "Central", time.Now())}
		mockStore.On("Query", ctx, filter).Return(nil, errors.New("connection refused")).Once()
		mockStore.On("Query", ctx, filter).Return(cases, nil).Once()

		got, err := wrapper.Query(ctx, filter)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		mockStore.AssertExpectations(t)
	})

	t.Run("Search succeeds after transient failure", func(t *testing.T) {
		mockStore := new(MockCaseStore)
		wrapper := NewRetryableCaseStore(mockStore, testRetryConfig(3))

		query := []float64{1, 0, 0, 0}
		scored := []ScoredCase{{Case: testCase("case-1", types.ConflictSignalFailure, "Central", time.Now()), Similarity: 1}}
		mockStore.On("Search", ctx, query, filter, 12).Return(nil, errors.New("connection refused")).Once()
		mockStore.On("Search", ctx, query, filter, 12).Return(scored, nil).Once()

		got, err := wrapper.Search(ctx, query, filter, 12)
		require.NoError(t, err)
		assert.Equal(t, scored, got)
		mockStore.AssertExpectations(t)
	})

	t.Run("Query gives up after max attempts", func(t *testing.T) {
		mockStore := new(MockCaseStore)
		wrapper := NewRetryableCaseStore(mockStore, testRetryConfig(2))

		mockStore.On("Query", ctx, filter).Return(nil, errors.New("service unavailable")).Twice()

		_, err := wrapper.Query(ctx, filter)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unavailable")
		mockStore.AssertExpectations(t)
	})
}

func TestRetryWrapper_NonRetriableErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not found is returned at once", func(t *testing.T) {
		mockStore := new(MockCaseStore)
		wrapper := NewRetryableCaseStore(mockStore, testRetryConfig(3))

		mockStore.On("Get", ctx, "missing").Return(nil, adverrors.NewNotFoundError("case", "missing")).Once()

		_, err := wrapper.Get(ctx, "missing")
		assert.ErrorIs(t, err, adverrors.ErrNotFound)
		mockStore.AssertNumberOfCalls(t, "Get", 1)
	})

	t.Run("validation is returned at once", func(t *testing.T) {
		mockStore := new(MockCaseStore)
		wrapper := NewRetryableCaseStore(mockStore, testRetryConfig(3))

		c := testCase("dup", types.ConflictTrack, "North", time.Now())
		mockStore.On("Put", ctx, c).Return(adverrors.NewValidationError("id", "case already exists", "dup")).Once()

		err := wrapper.Put(ctx, c)
		assert.True(t, adverrors.IsValidationError(err))
		mockStore.AssertNumberOfCalls(t, "Put", 1)
	})

	t.Run("append is never retried", func(t *testing.T) {
		mockStore := new(MockCaseStore)
		wrapper := NewRetryableCaseStore(mockStore, testRetryConfig(3))

		attempt := types.StrategyAttempt{Strategy: types.StrategyHold}
		mockStore.On("AppendAttempt", ctx, "case-1", attempt).Return(errors.New("connection reset")).Once()

		err := wrapper.AppendAttempt(ctx, "case-1", attempt)
		assert.Error(t, err)
		mockStore.AssertNumberOfCalls(t, "AppendAttempt", 1)
	})
}

func TestRetryWrapper_TimeoutBehavior(t *testing.T) {
	mockStore := new(MockCaseStore)
	wrapper := NewRetryableCaseStore(mockStore, &retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   1,
		RetryIf:      isRetryableStorageError,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	mockStore.On("Count", mock.Anything).Return(0, errors.New("timeout talking to backend"))

	start := time.Now()
	_, err := wrapper.Count(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryableStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"bad gateway", errors.New("502 Bad Gateway"), true},
		{"not found", adverrors.NewNotFoundError("case", "x"), false},
		{"validation", adverrors.NewValidationError("id", "is required", nil), false},
		{"canceled", context.Canceled, false},
		{"other", errors.New("malformed payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableStorageError(tt.err))
		})
	}
}
