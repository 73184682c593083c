package simulation

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/types"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rule is the effectiveness rule for one (conflict type, strategy) pair
type Rule struct {
	ConflictType           types.ConflictType
	Strategy               types.Strategy
	BaseEffectiveness      float64
	SeverityMultipliers    map[types.Severity]float64
	TimeOfDayMultipliers   map[types.TimeOfDay]float64
	DelayReductionRatio    float64
	NominalDelayMinutes    float64
	RecoveryMinutes        float64
	PassengerDisruption    types.DisruptionLevel
	DownstreamDelayMinutes float64
	Rationale              string

	rationale *template.Template
}

// Key returns the effectiveness table key of the rule
func (r *Rule) Key() types.EffectivenessKey {
	return types.EffectivenessKey{ConflictType: r.ConflictType, Strategy: r.Strategy}
}

// Factors are the rule-independent scaling tables
type Factors struct {
	RecoverySeverity   map[types.Severity]float64
	PeakRecovery       float64
	DownstreamSeverity map[types.Severity]float64
}

// RuleSet is the complete, validated rule table
type RuleSet struct {
	rules   map[types.EffectivenessKey]*Rule
	factors Factors
}

// Rule returns the rule for the pair
func (rs *RuleSet) Rule(conflictType types.ConflictType, strategy types.Strategy) (*Rule, bool) {
	r, ok := rs.rules[types.EffectivenessKey{ConflictType: conflictType, Strategy: strategy}]
	return r, ok
}

// BaseEffectiveness returns the static effectiveness of key, or false for an unknown pair
func (rs *RuleSet) BaseEffectiveness(key types.EffectivenessKey) (float64, bool) {
	r, ok := rs.rules[key]
	if !ok {
		return 0, false
	}
	return r.BaseEffectiveness, true
}

// Len returns the number of rules
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Factors returns the scaling tables
func (rs *RuleSet) Factors() Factors { return rs.factors }

// Rules returns every rule ordered by conflict type then strategy
func (rs *RuleSet) Rules() []*Rule {
	out := make([]*Rule, 0, len(rs.rules))
	for _, ct := range types.AllConflictTypes() {
		for _, s := range types.AllStrategies() {
			if r, ok := rs.Rule(ct, s); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

// ruleSpec is one layer of a rule as written in YAML; unset fields inherit
type ruleSpec struct {
	SeverityMultipliers    map[string]float64 `yaml:"severity_multipliers"`
	TimeOfDayMultipliers   map[string]float64 `yaml:"time_of_day_multipliers"`
	DelayReductionRatio    *float64           `yaml:"delay_reduction_ratio"`
	NominalDelayMinutes    *float64           `yaml:"nominal_delay_minutes"`
	RecoveryMinutes        *float64           `yaml:"recovery_minutes"`
	PassengerDisruption    *string            `yaml:"passenger_disruption"`
	DownstreamDelayMinutes *float64           `yaml:"downstream_delay_minutes"`
	Rationale              *string            `yaml:"rationale"`
}

type factorSpec struct {
	RecoverySeverity   map[string]float64 `yaml:"recovery_severity"`
	PeakRecovery       *float64           `yaml:"peak_recovery"`
	DownstreamSeverity map[string]float64 `yaml:"downstream_severity"`
}

type conflictSpec struct {
	BaseEffectiveness map[string]float64  `yaml:"base_effectiveness"`
	Overrides         map[string]ruleSpec `yaml:"overrides"`
}

type ruleFile struct {
	Defaults   ruleSpec                `yaml:"defaults"`
	Factors    factorSpec              `yaml:"factors"`
	Strategies map[string]ruleSpec     `yaml:"strategies"`
	Conflicts  map[string]conflictSpec `yaml:"conflicts"`
}

// DefaultRules parses the built-in rule table
func DefaultRules() (*RuleSet, error) {
	raw, err := decodeRuleFile(defaultRulesYAML)
	if err != nil {
		return nil, adverrors.NewConfigurationError("built-in rule table is invalid", err)
	}
	return buildRuleSet(raw)
}

// LoadRules returns the built-in table with the operator file at path laid
// over it. Operator entries replace built-in ones field by field. An empty
// path yields the built-in table.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, adverrors.NewConfigurationError(fmt.Sprintf("failed to read rules file %s", path), err)
	}
	return ParseRules(data)
}

// ParseRules lays data over the built-in table and validates the result
func ParseRules(data []byte) (*RuleSet, error) {
	base, err := decodeRuleFile(defaultRulesYAML)
	if err != nil {
		return nil, adverrors.NewConfigurationError("built-in rule table is invalid", err)
	}
	overlay, err := decodeRuleFile(data)
	if err != nil {
		return nil, adverrors.NewConfigurationError("rules file is invalid", err)
	}
	return buildRuleSet(mergeRuleFiles(base, overlay))
}

// ParseRuleTable validates data as a complete, standalone table
func ParseRuleTable(data []byte) (*RuleSet, error) {
	raw, err := decodeRuleFile(data)
	if err != nil {
		return nil, adverrors.NewConfigurationError("rule table is invalid", err)
	}
	return buildRuleSet(raw)
}

func decodeRuleFile(data []byte) (*ruleFile, error) {
	var raw ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &raw, nil
}

func mergeRuleFiles(base, overlay *ruleFile) *ruleFile {
	out := *base
	out.Defaults = mergeSpec(base.Defaults, overlay.Defaults)

	out.Factors = base.Factors
	out.Factors.RecoverySeverity = mergeFloats(base.Factors.RecoverySeverity, overlay.Factors.RecoverySeverity)
	out.Factors.DownstreamSeverity = mergeFloats(base.Factors.DownstreamSeverity, overlay.Factors.DownstreamSeverity)
	if overlay.Factors.PeakRecovery != nil {
		out.Factors.PeakRecovery = overlay.Factors.PeakRecovery
	}

	out.Strategies = make(map[string]ruleSpec, len(base.Strategies))
	for name, spec := range base.Strategies {
		out.Strategies[name] = spec
	}
	for name, spec := range overlay.Strategies {
		out.Strategies[name] = mergeSpec(out.Strategies[name], spec)
	}

	out.Conflicts = make(map[string]conflictSpec, len(base.Conflicts))
	for name, spec := range base.Conflicts {
		out.Conflicts[name] = spec
	}
	for name, spec := range overlay.Conflicts {
		merged := out.Conflicts[name]
		merged.BaseEffectiveness = mergeFloats(merged.BaseEffectiveness, spec.BaseEffectiveness)
		overrides := make(map[string]ruleSpec, len(merged.Overrides))
		for s, o := range merged.Overrides {
			overrides[s] = o
		}
		for s, o := range spec.Overrides {
			overrides[s] = mergeSpec(overrides[s], o)
		}
		merged.Overrides = overrides
		out.Conflicts[name] = merged
	}
	return &out
}

func mergeSpec(base, top ruleSpec) ruleSpec {
	out := base
	out.SeverityMultipliers = mergeFloats(base.SeverityMultipliers, top.SeverityMultipliers)
	out.TimeOfDayMultipliers = mergeFloats(base.TimeOfDayMultipliers, top.TimeOfDayMultipliers)
	if top.DelayReductionRatio != nil {
		out.DelayReductionRatio = top.DelayReductionRatio
	}
	if top.NominalDelayMinutes != nil {
		out.NominalDelayMinutes = top.NominalDelayMinutes
	}
	if top.RecoveryMinutes != nil {
		out.RecoveryMinutes = top.RecoveryMinutes
	}
	if top.PassengerDisruption != nil {
		out.PassengerDisruption = top.PassengerDisruption
	}
	if top.DownstreamDelayMinutes != nil {
		out.DownstreamDelayMinutes = top.DownstreamDelayMinutes
	}
	if top.Rationale != nil {
		out.Rationale = top.Rationale
	}
	return out
}

func mergeFloats(base, top map[string]float64) map[string]float64 {
	if len(base) == 0 && len(top) == 0 {
		return nil
	}
	out := make(map[string]float64, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

// buildRuleSet resolves every pair and checks completeness and ranges.
// All problems are reported together.
func buildRuleSet(raw *ruleFile) (*RuleSet, error) {
	var problems []string
	report := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for name := range raw.Strategies {
		if !types.Strategy(name).Valid() {
			report("unknown strategy %q", name)
		}
	}
	for name, spec := range raw.Conflicts {
		if !types.ConflictType(name).Valid() {
			report("unknown conflict type %q", name)
		}
		for s := range spec.BaseEffectiveness {
			if !types.Strategy(s).Valid() {
				report("%s: unknown strategy %q", name, s)
			}
		}
		for s := range spec.Overrides {
			if !types.Strategy(s).Valid() {
				report("%s: override for unknown strategy %q", name, s)
			}
		}
	}

	factors := Factors{
		RecoverySeverity:   severityTable(raw.Factors.RecoverySeverity, "factors.recovery_severity", report),
		DownstreamSeverity: severityTable(raw.Factors.DownstreamSeverity, "factors.downstream_severity", report),
		PeakRecovery:       1,
	}
	if raw.Factors.PeakRecovery != nil {
		factors.PeakRecovery = *raw.Factors.PeakRecovery
	}
	if factors.PeakRecovery <= 0 {
		report("factors.peak_recovery must be positive")
	}

	rules := make(map[types.EffectivenessKey]*Rule, len(types.AllConflictTypes())*len(types.AllStrategies()))
	for _, ct := range types.AllConflictTypes() {
		conflict, ok := raw.Conflicts[string(ct)]
		if !ok {
			report("%s: missing from rule table", ct)
			continue
		}
		for _, s := range types.AllStrategies() {
			base, ok := conflict.BaseEffectiveness[string(s)]
			if !ok {
				report("%s/%s: missing base effectiveness", ct, s)
				continue
			}
			spec := mergeSpec(mergeSpec(raw.Defaults, raw.Strategies[string(s)]), conflict.Overrides[string(s)])
			if r := resolveRule(ct, s, base, spec, report); r != nil {
				rules[r.Key()] = r
			}
		}
	}

	if len(problems) > 0 {
		return nil, adverrors.NewConfigurationError(
			fmt.Sprintf("rule table has %d problem(s): %s", len(problems), strings.Join(problems, "; ")), nil)
	}
	return &RuleSet{rules: rules, factors: factors}, nil
}

func resolveRule(ct types.ConflictType, s types.Strategy, base float64, spec ruleSpec, report func(string, ...interface{})) *Rule {
	pair := fmt.Sprintf("%s/%s", ct, s)
	failures := 0
	count := func(format string, args ...interface{}) {
		failures++
		report(format, args...)
	}

	if base < 0 || base > 1 {
		count("%s: base effectiveness %.3f outside [0,1]", pair, base)
	}

	r := &Rule{
		ConflictType:         ct,
		Strategy:             s,
		BaseEffectiveness:    base,
		SeverityMultipliers:  severityTable(spec.SeverityMultipliers, pair+" severity_multipliers", count),
		TimeOfDayMultipliers: make(map[types.TimeOfDay]float64, len(types.AllTimesOfDay())),
	}
	for _, tod := range types.AllTimesOfDay() {
		v, ok := spec.TimeOfDayMultipliers[string(tod)]
		if !ok {
			count("%s: time_of_day_multipliers missing %s", pair, tod)
			continue
		}
		if v <= 0 {
			count("%s: time_of_day multiplier for %s must be positive", pair, tod)
		}
		r.TimeOfDayMultipliers[tod] = v
	}
	for k := range spec.TimeOfDayMultipliers {
		if !types.TimeOfDay(k).Valid() {
			count("%s: unknown time of day %q", pair, k)
		}
	}

	r.DelayReductionRatio = requireFloat(spec.DelayReductionRatio, pair, "delay_reduction_ratio", count)
	if r.DelayReductionRatio < 0 || r.DelayReductionRatio > 1 {
		count("%s: delay_reduction_ratio %.3f outside [0,1]", pair, r.DelayReductionRatio)
	}
	r.NominalDelayMinutes = requireFloat(spec.NominalDelayMinutes, pair, "nominal_delay_minutes", count)
	r.RecoveryMinutes = requireFloat(spec.RecoveryMinutes, pair, "recovery_minutes", count)
	r.DownstreamDelayMinutes = requireFloat(spec.DownstreamDelayMinutes, pair, "downstream_delay_minutes", count)
	for field, v := range map[string]float64{
		"nominal_delay_minutes":    r.NominalDelayMinutes,
		"recovery_minutes":         r.RecoveryMinutes,
		"downstream_delay_minutes": r.DownstreamDelayMinutes,
	} {
		if v < 0 {
			count("%s: %s must not be negative", pair, field)
		}
	}

	if spec.PassengerDisruption == nil {
		count("%s: passenger_disruption is required", pair)
	} else {
		r.PassengerDisruption = types.DisruptionLevel(*spec.PassengerDisruption)
		if !r.PassengerDisruption.Valid() {
			count("%s: unknown passenger_disruption %q", pair, *spec.PassengerDisruption)
		}
	}

	if spec.Rationale == nil || strings.TrimSpace(*spec.Rationale) == "" {
		count("%s: rationale is required", pair)
	} else {
		r.Rationale = *spec.Rationale
		tmpl, err := template.New(pair).Option("missingkey=error").Parse(r.Rationale)
		if err == nil {
			err = tmpl.Execute(io.Discard, sampleRationaleData(ct, s))
		}
		if err != nil {
			count("%s: rationale template: %v", pair, err)
		}
		r.rationale = tmpl
	}

	if failures > 0 {
		return nil
	}
	return r
}

func severityTable(values map[string]float64, where string, report func(string, ...interface{})) map[types.Severity]float64 {
	out := make(map[types.Severity]float64, len(types.AllSeverities()))
	for _, sev := range types.AllSeverities() {
		v, ok := values[string(sev)]
		if !ok {
			report("%s: missing %s", where, sev)
			continue
		}
		if v <= 0 {
			report("%s: %s must be positive", where, sev)
		}
		out[sev] = v
	}
	for k := range values {
		if !types.Severity(k).Valid() {
			report("%s: unknown severity %q", where, k)
		}
	}
	return out
}

func requireFloat(v *float64, pair, field string, report func(string, ...interface{})) float64 {
	if v == nil {
		report("%s: %s is required", pair, field)
		return 0
	}
	return *v
}
