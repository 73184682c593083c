package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adverrors "rail-conflict-advisor/internal/errors"
)

func validDescriptor() ConflictDescriptor {
	return ConflictDescriptor{
		ConflictType:       ConflictSignalFailure,
		Severity:           SeverityHigh,
		Station:            "Utrecht Centraal",
		TimeOfDay:          MorningPeak,
		Description:        "interlocking fault on platform 5 approach",
		DelayBeforeMinutes: 12,
	}
}

func TestConflictDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*ConflictDescriptor)
		wantField string
	}{
		{name: "valid", mutate: func(d *ConflictDescriptor) {}},
		{
			name:      "unknown conflict type",
			mutate:    func(d *ConflictDescriptor) { d.ConflictType = "meteor_strike" },
			wantField: "conflict_type",
		},
		{
			name:      "unknown severity",
			mutate:    func(d *ConflictDescriptor) { d.Severity = "catastrophic" },
			wantField: "severity",
		},
		{
			name:      "unknown time of day",
			mutate:    func(d *ConflictDescriptor) { d.TimeOfDay = "lunch" },
			wantField: "time_of_day",
		},
		{
			name:      "missing station",
			mutate:    func(d *ConflictDescriptor) { d.Station = "" },
			wantField: "station",
		},
		{
			name:      "negative delay",
			mutate:    func(d *ConflictDescriptor) { d.DelayBeforeMinutes = -1 },
			wantField: "delay_before_minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, adverrors.ErrValidation))

			var se *adverrors.StandardError
			require.True(t, errors.As(err, &se))
			detail, ok := se.ErrorInfo.Details.(adverrors.ValidationDetail)
			require.True(t, ok)
			assert.Equal(t, tt.wantField, detail.Field)
		})
	}
}

func TestFeedbackRequest_Validate(t *testing.T) {
	req := FeedbackRequest{RecommendationID: "r-1", Strategy: StrategyHold, ActualSuccess: true}
	require.NoError(t, req.Validate())

	req.Strategy = "teleport"
	assert.True(t, adverrors.IsValidationError(req.Validate()))

	req.Strategy = StrategyHold
	req.RecommendationID = ""
	assert.True(t, adverrors.IsValidationError(req.Validate()))
}

func TestFeedbackRequest_Record(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rec := FeedbackRequest{RecommendationID: "r-1", Strategy: StrategyReroute, ActualSuccess: true, IsGoldenRun: true}.Record(now)

	require.NoError(t, rec.Validate())
	assert.Equal(t, now, rec.Timestamp)
	assert.True(t, rec.IsGoldenRun)
	assert.Equal(t, 1.0, rec.Observed())

	rec.ActualSuccess = false
	assert.Equal(t, 0.0, rec.Observed())
}

func TestEnumerations(t *testing.T) {
	assert.Len(t, AllConflictTypes(), 13)
	assert.Len(t, AllStrategies(), 7)

	for i, s := range AllStrategies() {
		assert.Equal(t, i, s.Index())
	}
	assert.Equal(t, -1, Strategy("teleport").Index())

	_, err := ParseStrategy("hover")
	assert.True(t, adverrors.IsValidationError(err))
	ct, err := ParseConflictType(" crew_shortage ")
	require.NoError(t, err)
	assert.Equal(t, ConflictCrewShortage, ct)

	assert.True(t, MorningPeak.IsPeak())
	assert.False(t, Night.IsPeak())
}

func TestRiskLevelFor(t *testing.T) {
	assert.Equal(t, RiskHigh, RiskLevelFor(0.75))
	assert.Equal(t, RiskHigh, RiskLevelFor(1))
	assert.Equal(t, RiskModerate, RiskLevelFor(0.5))
	assert.Equal(t, RiskModerate, RiskLevelFor(0.7499))
	assert.Equal(t, RiskLow, RiskLevelFor(0.4999))
}

func TestDisruptionLevel_Escalate(t *testing.T) {
	assert.Equal(t, DisruptionLow, DisruptionNone.Escalate())
	assert.Equal(t, DisruptionHigh, DisruptionMedium.Escalate())
	assert.Equal(t, DisruptionHigh, DisruptionHigh.Escalate())
	assert.True(t, DisruptionHigh.AtLeast(DisruptionMedium))
	assert.False(t, DisruptionLow.AtLeast(DisruptionMedium))
}

func TestConflictCase_CloneIsDeep(t *testing.T) {
	c := NewCase("c-1", validDescriptor(), []float64{1, 0}, time.Now())
	c.Attempts = append(c.Attempts, StrategyAttempt{
		Strategy:      StrategyHold,
		ActualOutcome: &ActualOutcome{Success: true},
	})

	clone := c.Clone()
	clone.Embedding[0] = 42
	clone.Attempts[0].ActualOutcome.Success = false

	assert.Equal(t, 1.0, c.Embedding[0])
	assert.True(t, c.Attempts[0].ActualOutcome.Success)
	assert.Len(t, c.AttemptsFor(StrategyHold), 1)
	assert.Empty(t, c.AttemptsFor(StrategyReroute))
	assert.Equal(t, validDescriptor(), c.Descriptor())
}
