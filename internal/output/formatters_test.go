package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rail-conflict-advisor/internal/advisor"
	"rail-conflict-advisor/internal/learning"
	"rail-conflict-advisor/internal/types"
)

func sampleResult() *types.RecommendationResult {
	return &types.RecommendationResult{
		ID: "rec-42",
		Conflict: types.ConflictDescriptor{
			ConflictType: types.ConflictSignalFailure,
			Severity:     types.SeverityHigh,
			Station:      "Central",
			TimeOfDay:    types.MorningPeak,
		},
		Recommendations: []types.Recommendation{
			{Strategy: types.StrategyReroute, Confidence: 0.684, RiskLevel: types.RiskModerate, Source: types.SourceSimulationOnly,
				PredictedDelayReductionMinutes: 7.18, Explanation: "Reroute for Signal Failure: divert."},
			{Strategy: types.StrategyHold, Confidence: 0.5985, RiskLevel: types.RiskModerate, Source: types.SourceSimulationOnly},
		},
		SimulationOnly: true,
		CreatedAt:      time.Now(),
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestFormatter_RecommendationsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf, FormatTable, false).Recommendations(sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "reroute")
	assert.Contains(t, out, "68.4%")
	assert.Contains(t, out, "rec-42")
	assert.Contains(t, out, "Signal Failure")
	assert.Contains(t, out, "simulation-only")
	assert.Contains(t, out, "Reroute for Signal Failure: divert.")
	assert.NotContains(t, out, "\x1b[", "colors must be off")
}

func TestFormatter_RecommendationsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf, FormatJSON, true).Recommendations(sampleResult()))

	var decoded types.RecommendationResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "rec-42", decoded.ID)
	assert.Len(t, decoded.Recommendations, 2)
}

func TestFormatter_Feedback(t *testing.T) {
	var buf bytes.Buffer
	err := NewFormatter(&buf, FormatTable, false).Feedback(&learning.Outcome{
		RecommendationID: "rec-42",
		CaseID:           "case-1",
		Key:              types.EffectivenessKey{ConflictType: types.ConflictSignalFailure, Strategy: types.StrategyReroute},
		PreviousScore:    0.8,
		NewScore:         0.82,
		Version:          1,
		Accuracy:         0.684,
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "80.0% -> 82.0%")
	assert.Contains(t, buf.String(), "signal_failure/reroute")
	assert.Contains(t, buf.String(), "skipped")
}

func TestFormatter_EffectivenessLearnedOnly(t *testing.T) {
	rows := []advisor.EffectivenessRow{
		{Key: types.EffectivenessKey{ConflictType: types.ConflictSignalFailure, Strategy: types.StrategyReroute}, Base: 0.8, Current: 0.82, Learned: true, Samples: 1},
		{Key: types.EffectivenessKey{ConflictType: types.ConflictSignalFailure, Strategy: types.StrategyHold}, Base: 0.7, Current: 0.7},
	}

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf, FormatTable, false).Effectiveness(rows, true))
	assert.Contains(t, buf.String(), "reroute")
	assert.NotContains(t, buf.String(), "hold")
	assert.Len(t, rows, 2, "filtering must not modify the caller's slice")

	buf.Reset()
	require.NoError(t, NewFormatter(&buf, FormatTable, false).Effectiveness(rows[1:], true))
	assert.Contains(t, buf.String(), "No learned effectiveness yet.")
}
