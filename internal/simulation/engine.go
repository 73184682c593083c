// Package simulation predicts the outcome of every resolution strategy for a
// conflict from the rule table. Predictions are a pure function of the
// descriptor, the rule and the learned effectiveness snapshot.
package simulation

import (
	"fmt"
	"math"
	"strings"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/types"
)

// Engine runs the rule-based simulation
type Engine struct {
	rules *RuleSet
}

// NewEngine creates an engine over a validated rule set
func NewEngine(rules *RuleSet) *Engine {
	return &Engine{rules: rules}
}

// Rules returns the rule set the engine simulates with
func (e *Engine) Rules() *RuleSet { return e.rules }

// rationaleData is what rationale templates can reference
type rationaleData struct {
	Conflict     string
	ConflictType string
	Strategy     string
	Station      string
	Severity     string
	TimeOfDay    string
}

func sampleRationaleData(ct types.ConflictType, s types.Strategy) rationaleData {
	return rationaleData{
		Conflict:     ct.Label(),
		ConflictType: string(ct),
		Strategy:     s.Label(),
		Station:      "station",
		Severity:     string(types.SeverityMedium),
		TimeOfDay:    string(types.Midday),
	}
}

// Simulate predicts one strategy. The learned value for the pair in snapshot,
// when present, replaces the rule's base effectiveness.
func (e *Engine) Simulate(desc types.ConflictDescriptor, strategy types.Strategy, snapshot map[types.EffectivenessKey]float64) (types.Prediction, error) {
	if !desc.Severity.Valid() {
		return types.Prediction{}, adverrors.NewValidationError("severity", "unknown severity", desc.Severity)
	}
	if !desc.TimeOfDay.Valid() {
		return types.Prediction{}, adverrors.NewValidationError("time_of_day", "unknown time of day", desc.TimeOfDay)
	}
	rule, ok := e.rules.Rule(desc.ConflictType, strategy)
	if !ok {
		if !desc.ConflictType.Valid() {
			return types.Prediction{}, adverrors.NewValidationError("conflict_type", "unknown conflict type", desc.ConflictType)
		}
		return types.Prediction{}, adverrors.NewValidationError("strategy", "unknown strategy", strategy)
	}

	effectiveness := rule.BaseEffectiveness
	learned, isLearned := snapshot[rule.Key()]
	if isLearned {
		effectiveness = clamp01(learned)
	}

	probability := clamp01(effectiveness * rule.SeverityMultipliers[desc.Severity] * rule.TimeOfDayMultipliers[desc.TimeOfDay])

	delayBasis := desc.DelayBeforeMinutes
	if delayBasis <= 0 {
		delayBasis = rule.NominalDelayMinutes
	}

	factors := e.rules.Factors()
	recovery := rule.RecoveryMinutes * factors.RecoverySeverity[desc.Severity]
	if desc.TimeOfDay.IsPeak() {
		recovery *= factors.PeakRecovery
	}

	disruption := rule.PassengerDisruption
	if desc.Severity == types.SeverityHigh {
		disruption = disruption.Escalate()
	}

	return types.Prediction{
		Strategy:              strategy,
		SuccessProbability:    probability,
		DelayReductionMinutes: roundMinutes(delayBasis * rule.DelayReductionRatio * probability),
		RecoveryTimeMinutes:   roundMinutes(recovery),
		SideEffects: types.SideEffects{
			PassengerDisruption:    disruption,
			DownstreamDelayMinutes: roundMinutes(rule.DownstreamDelayMinutes * factors.DownstreamSeverity[desc.Severity]),
		},
		Effectiveness: effectiveness,
		Learned:       isLearned,
		Rationale:     renderRationale(rule, desc),
	}, nil
}

// SimulateAll predicts every strategy in enumeration order
func (e *Engine) SimulateAll(desc types.ConflictDescriptor, snapshot map[types.EffectivenessKey]float64) ([]types.Prediction, error) {
	strategies := types.AllStrategies()
	out := make([]types.Prediction, 0, len(strategies))
	for _, s := range strategies {
		p, err := e.Simulate(desc, s, snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func renderRationale(rule *Rule, desc types.ConflictDescriptor) string {
	if rule.rationale == nil {
		return rule.Rationale
	}
	var b strings.Builder
	err := rule.rationale.Execute(&b, rationaleData{
		Conflict:     desc.ConflictType.Label(),
		ConflictType: string(desc.ConflictType),
		Strategy:     rule.Strategy.Label(),
		Station:      desc.Station,
		Severity:     string(desc.Severity),
		TimeOfDay:    string(desc.TimeOfDay),
	})
	if err != nil {
		// templates are dry-run at load; unreachable in practice
		return fmt.Sprintf("%s for %s", rule.Strategy.Label(), desc.ConflictType.Label())
	}
	return b.String()
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func roundMinutes(v float64) float64 {
	return math.Round(v*100) / 100
}
