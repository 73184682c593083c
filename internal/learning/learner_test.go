package learning

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/simulation"
	"rail-conflict-advisor/internal/storage"
	"rail-conflict-advisor/internal/types"
)

const (
	testDims = 4
	caseID   = "6f1c2f5e-8c1b-4c55-9a57-1f9a3c0d2b11"
	recID    = "rec-1"
)

var rerouteKey = types.EffectivenessKey{ConflictType: types.ConflictSignalFailure, Strategy: types.StrategyReroute}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveFeedback(key types.EffectivenessKey, success bool, newScore, accuracy float64, at time.Time) {
	m.Called(key, success, newScore, accuracy, at)
}

func (m *MockRecorder) ObserveWriteConflict() {
	m.Called()
}

type stubEmbeddings struct {
	vec []float64
	err error
}

func (s stubEmbeddings) Generate(context.Context, types.ConflictDescriptor) ([]float64, error) {
	return s.vec, s.err
}

// conflictingStore loses the first failures CompareAndSwap calls
type conflictingStore struct {
	*storage.MemoryEffectivenessStore
	failures int32
	calls    int32
}

func (c *conflictingStore) CompareAndSwap(ctx context.Context, key types.EffectivenessKey, expected int64, value float64) (storage.Score, error) {
	if atomic.AddInt32(&c.calls, 1) <= c.failures {
		return storage.Score{}, adverrors.NewVersionConflictError(key.String(), expected)
	}
	return c.MemoryEffectivenessStore.CompareAndSwap(ctx, key, expected, value)
}

type fixture struct {
	learner       *Learner
	cases         *storage.MemoryCaseStore
	effectiveness storage.EffectivenessStore
	log           *storage.MemoryRecommendationLog
}

func newFixture(t *testing.T, eff storage.EffectivenessStore, emb EmbeddingSource, rec Recorder, embedding []float64) *fixture {
	t.Helper()
	rules, err := simulation.DefaultRules()
	require.NoError(t, err)
	if eff == nil {
		eff = storage.NewMemoryEffectivenessStore()
	}

	f := &fixture{
		cases:         storage.NewMemoryCaseStore(testDims),
		effectiveness: eff,
		log:           storage.NewMemoryRecommendationLog(100, 0),
	}
	require.NoError(t, f.log.Save(context.Background(), &types.RecommendationResult{
		ID: recID,
		Conflict: types.ConflictDescriptor{
			ConflictType: types.ConflictSignalFailure,
			Severity:     types.SeverityHigh,
			Station:      "Central",
			TimeOfDay:    types.MorningPeak,
		},
		CaseID:    caseID,
		Embedding: embedding,
		Recommendations: []types.Recommendation{
			{Strategy: types.StrategyReroute, Confidence: 0.684, SimulatedProbability: 0.684, PredictedDelayReductionMinutes: 12},
			{Strategy: types.StrategyHold, Confidence: 0.5985, SimulatedProbability: 0.5985},
		},
		CreatedAt: time.Now().UTC(),
	}))

	f.learner = NewLearner(Deps{
		Cases:         f.cases,
		Effectiveness: eff,
		Log:           f.log,
		Base:          rules,
		Embeddings:    emb,
		Recorder:      rec,
	}, Config{Alpha: 0.1, WriteRetryAttempts: 5})
	return f
}

func feedback(strategy types.Strategy, success bool) types.FeedbackRecord {
	return types.FeedbackRecord{
		RecommendationID: recID,
		Strategy:         strategy,
		ActualSuccess:    success,
		Timestamp:        time.Now().UTC(),
	}
}

func TestEMA(t *testing.T) {
	assert.InDelta(t, 0.82, EMA(0.8, 1, 0.1), 1e-12)
	assert.InDelta(t, 0.72, EMA(0.8, 0, 0.1), 1e-12)
	assert.Equal(t, 0.5, EMA(0.5, 0.5, 0.3))
}

func TestApply_StartsFromRuleBase(t *testing.T) {
	f := newFixture(t, nil, nil, nil, []float64{1, 0, 0, 0})

	out, err := f.learner.Apply(context.Background(), feedback(types.StrategyReroute, true))
	require.NoError(t, err)
	assert.InDelta(t, 0.80, out.PreviousScore, 1e-12)
	assert.InDelta(t, 0.82, out.NewScore, 1e-12)
	assert.Equal(t, int64(1), out.Version)
	assert.Equal(t, 1, out.WriteAttempts)
	assert.InDelta(t, 1-math.Abs(0.684-1), out.Accuracy, 1e-12)
	assert.Equal(t, rerouteKey, out.Key)
}

func TestApply_RepeatedFeedbackIsMonotone(t *testing.T) {
	for _, success := range []bool{true, false} {
		f := newFixture(t, nil, nil, nil, []float64{1, 0, 0, 0})
		observed := 0.0
		if success {
			observed = 1
		}

		prev := 0.80
		for i := 0; i < 30; i++ {
			out, err := f.learner.Apply(context.Background(), feedback(types.StrategyReroute, success))
			require.NoError(t, err)

			step := math.Abs(out.NewScore - prev)
			assert.LessOrEqual(t, step, 0.1*math.Abs(observed-prev)+1e-12)
			assert.LessOrEqual(t, math.Abs(observed-out.NewScore), math.Abs(observed-prev)+1e-12)
			prev = out.NewScore
		}

		score, err := f.effectiveness.Get(context.Background(), rerouteKey)
		require.NoError(t, err)
		assert.InDelta(t, observed, score.Value, 0.05)
		assert.Equal(t, int64(30), score.Version)
	}
}

func TestApply_GoldenRunUsesSameStep(t *testing.T) {
	f := newFixture(t, nil, nil, nil, []float64{1, 0, 0, 0})
	rec := feedback(types.StrategyReroute, true)
	rec.IsGoldenRun = true

	out, err := f.learner.Apply(context.Background(), rec)
	require.NoError(t, err)
	assert.InDelta(t, 0.82, out.NewScore, 1e-12)

	c, err := f.cases.Get(context.Background(), caseID)
	require.NoError(t, err)
	require.Len(t, c.Attempts, 1)
	assert.True(t, c.Attempts[0].IsGoldenRun)
}

func TestApply_CreatesThenAppendsCase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil, nil, []float64{0, 1, 0, 0})

	rec := feedback(types.StrategyReroute, true)
	rec.ActualDelayReductionMinutes = 9
	rec.Notes = "cleared quickly"
	out, err := f.learner.Apply(ctx, rec)
	require.NoError(t, err)
	assert.True(t, out.CaseUpdated)

	_, err = f.learner.Apply(ctx, feedback(types.StrategyHold, false))
	require.NoError(t, err)

	c, err := f.cases.Get(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, types.ConflictSignalFailure, c.ConflictType)
	assert.Equal(t, []float64{0, 1, 0, 0}, c.Embedding)
	require.Len(t, c.Attempts, 2)

	first := c.Attempts[0]
	assert.Equal(t, types.StrategyReroute, first.Strategy)
	assert.Equal(t, 0.684, first.PredictedOutcome.SuccessProbability)
	assert.Equal(t, 12.0, first.PredictedOutcome.DelayReductionMinutes)
	require.NotNil(t, first.ActualOutcome)
	assert.Equal(t, 9.0, first.ActualOutcome.DelayReductionMinutes)
	assert.Equal(t, "cleared quickly", first.ActualOutcome.Notes)
	assert.False(t, c.Attempts[1].ActualOutcome.Success)
}

func TestApply_RegeneratesMissingEmbedding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, stubEmbeddings{vec: []float64{0, 0, 1, 0}}, nil, nil)

	out, err := f.learner.Apply(ctx, feedback(types.StrategyReroute, true))
	require.NoError(t, err)
	assert.True(t, out.CaseUpdated)

	c, err := f.cases.Get(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1, 0}, c.Embedding)
}

func TestApply_SkipsCaseWhenEmbeddingUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, stubEmbeddings{err: adverrors.NewEmbeddingUnavailableError(errors.New("down"))}, nil, nil)

	out, err := f.learner.Apply(ctx, feedback(types.StrategyReroute, true))
	require.NoError(t, err)
	assert.False(t, out.CaseUpdated)
	assert.InDelta(t, 0.82, out.NewScore, 1e-12)

	n, err := f.cases.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApply_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil, nil, []float64{1, 0, 0, 0})

	t.Run("unknown recommendation", func(t *testing.T) {
		rec := feedback(types.StrategyReroute, true)
		rec.RecommendationID = "nope"
		_, err := f.learner.Apply(ctx, rec)
		assert.ErrorIs(t, err, adverrors.ErrNotFound)
	})

	t.Run("strategy not recommended", func(t *testing.T) {
		_, err := f.learner.Apply(ctx, feedback(types.StrategyCancellation, true))
		assert.True(t, adverrors.IsValidationError(err))
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := f.learner.Apply(ctx, feedback(types.Strategy("teleport"), true))
		assert.True(t, adverrors.IsValidationError(err))
	})

	t.Run("missing timestamp", func(t *testing.T) {
		rec := feedback(types.StrategyReroute, true)
		rec.Timestamp = time.Time{}
		_, err := f.learner.Apply(ctx, rec)
		assert.True(t, adverrors.IsValidationError(err))
	})

	_, err := f.effectiveness.Get(ctx, rerouteKey)
	assert.ErrorIs(t, err, adverrors.ErrNotFound, "rejected feedback must not touch the table")
}

func TestApply_ConcurrentFeedbackLosesNoUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil, nil, []float64{1, 0, 0, 0})

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.learner.Apply(ctx, feedback(types.StrategyReroute, true))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	expected := 0.80
	for i := 0; i < n; i++ {
		expected = EMA(expected, 1, 0.1)
	}
	score, err := f.effectiveness.Get(ctx, rerouteKey)
	require.NoError(t, err)
	assert.Equal(t, int64(n), score.Version)
	assert.InDelta(t, expected, score.Value, 1e-9)

	c, err := f.cases.Get(ctx, caseID)
	require.NoError(t, err)
	assert.Len(t, c.Attempts, n)
}

func TestApply_RetriesVersionConflicts(t *testing.T) {
	store := &conflictingStore{MemoryEffectivenessStore: storage.NewMemoryEffectivenessStore(), failures: 2}
	f := newFixture(t, store, nil, nil, []float64{1, 0, 0, 0})

	out, err := f.learner.Apply(context.Background(), feedback(types.StrategyReroute, true))
	require.NoError(t, err)
	assert.Equal(t, 3, out.WriteAttempts)
	assert.InDelta(t, 0.82, out.NewScore, 1e-12)
}

func TestApply_PersistentContentionIsWriteConflict(t *testing.T) {
	store := &conflictingStore{MemoryEffectivenessStore: storage.NewMemoryEffectivenessStore(), failures: 1000}
	recorder := new(MockRecorder)
	recorder.On("ObserveWriteConflict").Return().Once()

	f := newFixture(t, store, nil, recorder, []float64{1, 0, 0, 0})

	_, err := f.learner.Apply(context.Background(), feedback(types.StrategyReroute, true))
	require.Error(t, err)
	assert.ErrorIs(t, err, adverrors.ErrWriteConflict)
	assert.Equal(t, adverrors.ErrorCodeWriteConflict, adverrors.CodeOf(err))
	assert.Equal(t, int32(5), atomic.LoadInt32(&store.calls))
	recorder.AssertExpectations(t)

	// no attempt is recorded for a rejected update
	_, err = f.cases.Get(context.Background(), caseID)
	assert.ErrorIs(t, err, adverrors.ErrNotFound)
}

func TestApply_ReportsMetrics(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("ObserveFeedback", rerouteKey, false, mock.AnythingOfType("float64"), mock.AnythingOfType("float64"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			assert.InDelta(t, 0.72, args.Get(2).(float64), 1e-12)
			assert.InDelta(t, 1-0.684, args.Get(3).(float64), 1e-12)
		}).Return().Once()

	f := newFixture(t, nil, nil, recorder, []float64{1, 0, 0, 0})
	_, err := f.learner.Apply(context.Background(), feedback(types.StrategyReroute, false))
	require.NoError(t, err)
	recorder.AssertExpectations(t)
}
