// Package learning applies operator feedback: it records the attempt on the
// historical case and moves the learned strategy effectiveness toward the
// observed outcome with an exponential moving average.
package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/retry"
	"rail-conflict-advisor/internal/storage"
	"rail-conflict-advisor/internal/types"
)

// EmbeddingSource regenerates a case embedding when a recommendation has none
type EmbeddingSource interface {
	Generate(ctx context.Context, desc types.ConflictDescriptor) ([]float64, error)
}

// BaseEffectiveness supplies the starting value of a never-updated pair
type BaseEffectiveness interface {
	BaseEffectiveness(key types.EffectivenessKey) (float64, bool)
}

// Recorder receives learning metrics
type Recorder interface {
	ObserveFeedback(key types.EffectivenessKey, success bool, newScore, accuracy float64, at time.Time)
	ObserveWriteConflict()
}

// Config holds the learning parameters
type Config struct {
	Alpha              float64
	WriteRetryAttempts int
}

// Outcome describes what one feedback record changed
type Outcome struct {
	RecommendationID string                 `json:"recommendation_id"`
	CaseID           string                 `json:"case_id"`
	Key              types.EffectivenessKey `json:"key"`
	PreviousScore    float64                `json:"previous_score"`
	NewScore         float64                `json:"new_score"`
	Version          int64                  `json:"version"`
	Accuracy         float64                `json:"accuracy"`
	CaseUpdated      bool                   `json:"case_updated"`
	WriteAttempts    int                    `json:"write_attempts"`
}

// Learner applies feedback records
type Learner struct {
	cases         storage.CaseStore
	effectiveness storage.EffectivenessStore
	log           storage.RecommendationLog
	base          BaseEffectiveness
	embeddings    EmbeddingSource
	recorder      Recorder
	config        Config
	logger        logging.Logger

	keyLocks  *storage.KeyedMutex
	caseLocks *storage.KeyedMutex
}

// Deps groups the learner's collaborators
type Deps struct {
	Cases         storage.CaseStore
	Effectiveness storage.EffectivenessStore
	Log           storage.RecommendationLog
	Base          BaseEffectiveness
	Embeddings    EmbeddingSource
	Recorder      Recorder
	Logger        logging.Logger
}

// NewLearner creates a learner. Embeddings and Recorder may be nil.
func NewLearner(deps Deps, config Config) *Learner {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = 0.1
	}
	if config.WriteRetryAttempts <= 0 {
		config.WriteRetryAttempts = 5
	}
	return &Learner{
		cases:         deps.Cases,
		effectiveness: deps.Effectiveness,
		log:           deps.Log,
		base:          deps.Base,
		embeddings:    deps.Embeddings,
		recorder:      deps.Recorder,
		config:        config,
		logger:        logger.WithComponent("learner"),
		keyLocks:      storage.NewKeyedMutex(),
		caseLocks:     storage.NewKeyedMutex(),
	}
}

// EMA moves old toward observed by alpha
func EMA(old, observed, alpha float64) float64 {
	return old*(1-alpha) + observed*alpha
}

// Apply validates and applies one feedback record
func (l *Learner) Apply(ctx context.Context, record types.FeedbackRecord) (*Outcome, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	result, err := l.log.Get(ctx, record.RecommendationID)
	if err != nil {
		return nil, err
	}
	rec, ok := result.Find(record.Strategy)
	if !ok {
		return nil, adverrors.NewValidationError("strategy",
			fmt.Sprintf("strategy was not part of recommendation %s", record.RecommendationID), record.Strategy)
	}

	key := types.EffectivenessKey{ConflictType: result.Conflict.ConflictType, Strategy: record.Strategy}
	outcome := &Outcome{
		RecommendationID: record.RecommendationID,
		CaseID:           result.CaseID,
		Key:              key,
		Accuracy:         1 - math.Abs(rec.SimulatedProbability-record.Observed()),
	}

	if err := l.updateEffectiveness(ctx, key, record.Observed(), outcome); err != nil {
		return nil, err
	}

	attempt := types.StrategyAttempt{
		Strategy:         record.Strategy,
		PredictedOutcome: rec.Outcome(),
		ActualOutcome: &types.ActualOutcome{
			Success:               record.ActualSuccess,
			DelayReductionMinutes: record.ActualDelayReductionMinutes,
			Notes:                 record.Notes,
		},
		IsGoldenRun: record.IsGoldenRun,
		Timestamp:   record.Timestamp,
	}
	updated, err := l.recordAttempt(ctx, result, attempt)
	if err != nil {
		return outcome, fmt.Errorf("effectiveness updated but case %s was not: %w", result.CaseID, err)
	}
	outcome.CaseUpdated = updated

	if l.recorder != nil {
		l.recorder.ObserveFeedback(key, record.ActualSuccess, outcome.NewScore, outcome.Accuracy, record.Timestamp)
	}

	l.logger.InfoContext(ctx, "Applied feedback",
		"recommendation_id", record.RecommendationID,
		"key", key.String(),
		"success", record.ActualSuccess,
		"golden", record.IsGoldenRun,
		"previous", outcome.PreviousScore,
		"score", outcome.NewScore,
		"case_updated", outcome.CaseUpdated)
	return outcome, nil
}

// updateEffectiveness runs the EMA under the per-key lock and retries lost
// version races
func (l *Learner) updateEffectiveness(ctx context.Context, key types.EffectivenessKey, observed float64, outcome *Outcome) error {
	unlock := l.keyLocks.Lock(key.String())
	defer unlock()

	result := retry.New(retry.VersionConflictConfig(l.config.WriteRetryAttempts)).Do(ctx, func(ctx context.Context) error {
		old, version, err := l.current(ctx, key)
		if err != nil {
			return err
		}
		next := EMA(old, observed, l.config.Alpha)
		saved, err := l.effectiveness.CompareAndSwap(ctx, key, version, next)
		if err != nil {
			return err
		}
		outcome.PreviousScore = old
		outcome.NewScore = saved.Value
		outcome.Version = saved.Version
		return nil
	})
	outcome.WriteAttempts = result.Attempts

	if result.Err == nil {
		return nil
	}
	if errors.Is(result.Err, adverrors.ErrVersionConflict) {
		if l.recorder != nil {
			l.recorder.ObserveWriteConflict()
		}
		l.logger.WarnContext(ctx, "Effectiveness write lost every retry", "key", key.String(), "attempts", result.Attempts)
		return adverrors.NewWriteConflictError(key.String(), result.Attempts, result.Err)
	}
	return fmt.Errorf("failed to update effectiveness %s: %w", key, result.Err)
}

// current returns the learned value and version, or the rule's base value
// and version 0 for a pair that was never updated
func (l *Learner) current(ctx context.Context, key types.EffectivenessKey) (float64, int64, error) {
	score, err := l.effectiveness.Get(ctx, key)
	if err == nil {
		return score.Value, score.Version, nil
	}
	if !errors.Is(err, adverrors.ErrNotFound) {
		return 0, 0, err
	}
	base, ok := l.base.BaseEffectiveness(key)
	if !ok {
		return 0, 0, adverrors.NewConfigurationError(fmt.Sprintf("no rule for %s", key), nil)
	}
	return base, 0, nil
}

// recordAttempt appends to the recommendation's case, creating it when this
// is its first feedback. It reports false when the case had to be skipped.
func (l *Learner) recordAttempt(ctx context.Context, result *types.RecommendationResult, attempt types.StrategyAttempt) (bool, error) {
	unlock := l.caseLocks.Lock(result.CaseID)
	defer unlock()

	err := l.cases.AppendAttempt(ctx, result.CaseID, attempt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, adverrors.ErrNotFound) {
		return false, err
	}

	embedding := result.Embedding
	if len(embedding) == 0 {
		if l.embeddings == nil {
			l.logger.WarnContext(ctx, "Skipping case write, no embedding available", "case_id", result.CaseID)
			return false, nil
		}
		embedding, err = l.embeddings.Generate(ctx, result.Conflict)
		if err != nil {
			l.logger.WarnContext(ctx, "Skipping case write, embedding unavailable", "case_id", result.CaseID, "error", err)
			return false, nil
		}
	}

	c := types.NewCase(result.CaseID, result.Conflict, embedding, result.CreatedAt)
	c.Attempts = []types.StrategyAttempt{attempt}
	if err := l.cases.Put(ctx, c); err != nil {
		return false, err
	}
	l.logger.DebugContext(ctx, "Created case from feedback", "case_id", c.ID, "conflict_type", c.ConflictType)
	return true, nil
}
