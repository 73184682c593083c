package simulation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/types"
)

func TestBuildRuleSet_MissingPairFails(t *testing.T) {
	raw, err := decodeRuleFile(defaultRulesYAML)
	require.NoError(t, err)
	delete(raw.Conflicts["crew_shortage"].BaseEffectiveness, "reroute")

	_, err = buildRuleSet(raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, adverrors.ErrConfiguration)
	assert.Contains(t, err.Error(), "crew_shortage/reroute: missing base effectiveness")
}

func TestBuildRuleSet_MissingConflictTypeFails(t *testing.T) {
	raw, err := decodeRuleFile(defaultRulesYAML)
	require.NoError(t, err)
	delete(raw.Conflicts, "power_outage")

	_, err = buildRuleSet(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "power_outage: missing from rule table")
}

func TestParseRuleTable_Problems(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty table", "", "missing from rule table"},
		{"unknown key", "defaults:\n  nominal_delay: 3\n", "field nominal_delay not found"},
		{"unknown strategy", "strategies:\n  teleport:\n    recovery_minutes: 1\n", `unknown strategy "teleport"`},
		{"unknown conflict", "conflicts:\n  meteor_strike:\n    base_effectiveness: {hold: 0.5}\n", `unknown conflict type "meteor_strike"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleTable([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, adverrors.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseRules_OverlayOverridesFields(t *testing.T) {
	rules, err := ParseRules([]byte(`
conflicts:
  signal_failure:
    base_effectiveness: {reroute: 0.5}
    overrides:
      reroute:
        recovery_minutes: 40
        severity_multipliers: {high: 0.8}
strategies:
  hold:
    passenger_disruption: medium
`))
	require.NoError(t, err)
	assert.Equal(t, 91, rules.Len())

	reroute, ok := rules.Rule(types.ConflictSignalFailure, types.StrategyReroute)
	require.True(t, ok)
	assert.Equal(t, 0.5, reroute.BaseEffectiveness)
	assert.Equal(t, 40.0, reroute.RecoveryMinutes)
	assert.Equal(t, 0.8, reroute.SeverityMultipliers[types.SeverityHigh])
	assert.Equal(t, 1.05, reroute.SeverityMultipliers[types.SeverityLow])

	// untouched entries keep the built-in values
	delay, ok := rules.Rule(types.ConflictSignalFailure, types.StrategyDelay)
	require.True(t, ok)
	assert.Equal(t, 0.55, delay.BaseEffectiveness)

	hold, ok := rules.Rule(types.ConflictTrack, types.StrategyHold)
	require.True(t, ok)
	assert.Equal(t, types.DisruptionMedium, hold.PassengerDisruption)
}

func TestParseRules_OutOfRange(t *testing.T) {
	_, err := ParseRules([]byte(`
conflicts:
  track_conflict:
    base_effectiveness: {hold: 1.4}
strategies:
  delay:
    delay_reduction_ratio: -0.1
    passenger_disruption: chaos
    rationale: "{{.Platform}}"
`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "track_conflict/hold: base effectiveness 1.400 outside [0,1]")
	assert.Contains(t, msg, "delay_reduction_ratio")
	assert.Contains(t, msg, `unknown passenger_disruption "chaos"`)
	assert.Contains(t, msg, "rationale template")
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, 91, rules.Len())

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("factors:\n  peak_recovery: 1.5\n"), 0o600))
	rules, err = LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 1.5, rules.Factors().PeakRecovery)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, adverrors.ErrConfiguration)
}

func TestRuleSet_BaseEffectiveness(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)

	v, ok := rules.BaseEffectiveness(types.EffectivenessKey{ConflictType: types.ConflictCrewShortage, Strategy: types.StrategyCancellation})
	assert.True(t, ok)
	assert.Equal(t, 0.90, v)

	_, ok = rules.BaseEffectiveness(types.EffectivenessKey{ConflictType: "x", Strategy: types.StrategyHold})
	assert.False(t, ok)
}
