package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/types"
)

// HistoricalCase is a past conflict imported into the case store
type HistoricalCase struct {
	Conflict  types.ConflictDescriptor `json:"conflict"`
	Attempts  []types.StrategyAttempt  `json:"attempts"`
	CreatedAt time.Time                `json:"created_at"`
}

// ImportCase embeds and stores a historical case and returns its id. Unlike
// Recommend there is no fallback: a case without an embedding cannot be stored.
func (s *Service) ImportCase(ctx context.Context, hc HistoricalCase) (string, error) {
	if err := hc.Conflict.Validate(); err != nil {
		return "", err
	}
	for i, a := range hc.Attempts {
		if !a.Strategy.Valid() {
			return "", adverrors.NewValidationError(fmt.Sprintf("attempts[%d].strategy", i), "unknown strategy", a.Strategy)
		}
		if a.PredictedOutcome.SuccessProbability < 0 || a.PredictedOutcome.SuccessProbability > 1 {
			return "", adverrors.NewValidationError(fmt.Sprintf("attempts[%d].predicted_outcome.success_probability", i),
				"must be within [0,1]", a.PredictedOutcome.SuccessProbability)
		}
	}

	vec, err := s.embeddings.Generate(ctx, hc.Conflict)
	if err != nil {
		return "", err
	}

	createdAt := hc.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	c := types.NewCase(uuid.New().String(), hc.Conflict, vec, createdAt)
	c.Attempts = append([]types.StrategyAttempt(nil), hc.Attempts...)
	for i := range c.Attempts {
		if c.Attempts[i].Timestamp.IsZero() {
			c.Attempts[i].Timestamp = createdAt
		}
	}

	if err := s.cases.Put(ctx, c); err != nil {
		return "", fmt.Errorf("failed to store case: %w", err)
	}
	s.logger.DebugContext(ctx, "Imported case", "case_id", c.ID, "conflict_type", c.ConflictType, "attempts", len(c.Attempts))
	return c.ID, nil
}

// EffectivenessRow is one pair of the effectiveness table
type EffectivenessRow struct {
	Key     types.EffectivenessKey `json:"key"`
	Base    float64                `json:"base"`
	Current float64                `json:"current"`
	Learned bool                   `json:"learned"`
	Samples int64                  `json:"samples"`
}

// Effectiveness lists every pair with its rule base and learned value, in
// conflict type then strategy order
func (s *Service) Effectiveness(ctx context.Context) ([]EffectivenessRow, error) {
	snapshot, err := s.effectiveness.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read learned effectiveness: %w", err)
	}

	rules := s.engine.Rules()
	rows := make([]EffectivenessRow, 0, rules.Len())
	for _, rule := range rules.Rules() {
		key := rule.Key()
		row := EffectivenessRow{Key: key, Base: rule.BaseEffectiveness, Current: rule.BaseEffectiveness}
		if v, ok := snapshot[key]; ok {
			row.Current = v
			row.Learned = true
			if score, err := s.effectiveness.Get(ctx, key); err == nil {
				row.Samples = score.Samples
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
