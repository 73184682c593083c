package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rail-conflict-advisor/internal/config"
	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/types"
)

func testResult(id string) *types.RecommendationResult {
	rate := 0.75
	return &types.RecommendationResult{
		ID: id,
		Conflict: types.ConflictDescriptor{
			ConflictType: types.ConflictSignalFailure,
			Severity:     types.SeverityHigh,
			Station:      "Central",
			TimeOfDay:    types.MorningPeak,
		},
		CaseID:    "case-" + id,
		Embedding: []float64{1, 0, 0, 0},
		Recommendations: []types.Recommendation{{
			Strategy:             types.StrategyReroute,
			Confidence:           0.8,
			SimulatedProbability: 0.84,
			HistoricalRate:       &rate,
			SimilarityEvidence:   []types.Evidence{{CaseID: "old", Similarity: 0.9, Outcome: types.OutcomeSuccess}},
		}},
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryRecommendationLog_SaveGet(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryRecommendationLog(10, 0)

	r := testResult("rec-1")
	require.NoError(t, log.Save(ctx, r))

	got, err := log.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, r.CaseID, got.CaseID)
	rec, ok := got.Find(types.StrategyReroute)
	require.True(t, ok)
	assert.InDelta(t, 0.75, *rec.HistoricalRate, 1e-9)

	// mutations of the caller's copy do not leak in
	*r.Recommendations[0].HistoricalRate = 0
	again, err := log.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, *again.Recommendations[0].HistoricalRate, 1e-9)

	_, err = log.Get(ctx, "missing")
	assert.ErrorIs(t, err, adverrors.ErrNotFound)

	assert.True(t, adverrors.IsValidationError(log.Save(ctx, &types.RecommendationResult{})))
}

func TestMemoryRecommendationLog_Capacity(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryRecommendationLog(3, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Save(ctx, testResult(fmt.Sprintf("rec-%d", i))))
	}
	assert.Equal(t, 3, log.Len())

	_, err := log.Get(ctx, "rec-0")
	assert.ErrorIs(t, err, adverrors.ErrNotFound)
	_, err = log.Get(ctx, "rec-4")
	assert.NoError(t, err)
}

func TestMemoryRecommendationLog_TTL(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryRecommendationLog(10, time.Hour)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return now }

	require.NoError(t, log.Save(ctx, testResult("rec-1")))

	now = now.Add(30 * time.Minute)
	_, err := log.Get(ctx, "rec-1")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = log.Get(ctx, "rec-1")
	assert.ErrorIs(t, err, adverrors.ErrNotFound)
	assert.Equal(t, 0, log.Len())
}

func TestRedisRecommendationLog(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	prefix := fmt.Sprintf("rail-advisor-test-%d:", time.Now().UnixNano())
	log := NewRedisRecommendationLog(client, prefix, time.Minute, nil)

	r := testResult("rec-redis")
	require.NoError(t, log.Save(ctx, r))

	got, err := log.Get(ctx, "rec-redis")
	require.NoError(t, err)
	assert.Equal(t, r.CaseID, got.CaseID)
	assert.Equal(t, r.Recommendations[0].Outcome(), got.Recommendations[0].Outcome())

	_, err = log.Get(ctx, "missing")
	assert.ErrorIs(t, err, adverrors.ErrNotFound)

	require.NoError(t, client.Del(ctx, prefix+"rec:rec-redis").Err())
}
