// Package types defines the rail conflict domain model shared by every
// component: the closed enumerations, conflict cases, recommendations and
// feedback records.
package types

import "strings"

// ConflictType is one of the 13 enumerated kinds of operational conflict
type ConflictType string

const (
	ConflictPlatform           ConflictType = "platform_conflict"
	ConflictTrack              ConflictType = "track_conflict"
	ConflictHeadwayViolation   ConflictType = "headway_violation"
	ConflictJunction           ConflictType = "junction_conflict"
	ConflictCapacityOverload   ConflictType = "capacity_overload"
	ConflictSignalFailure      ConflictType = "signal_failure"
	ConflictCrewShortage       ConflictType = "crew_shortage"
	ConflictRollingStock       ConflictType = "rolling_stock_failure"
	ConflictPowerOutage        ConflictType = "power_outage"
	ConflictWeatherDisruption  ConflictType = "weather_disruption"
	ConflictTrackMaintenance   ConflictType = "track_maintenance"
	ConflictPassengerIncident  ConflictType = "passenger_incident"
	ConflictTimetableDeviation ConflictType = "timetable_deviation"
)

var conflictTypes = []ConflictType{
	ConflictPlatform,
	ConflictTrack,
	ConflictHeadwayViolation,
	ConflictJunction,
	ConflictCapacityOverload,
	ConflictSignalFailure,
	ConflictCrewShortage,
	ConflictRollingStock,
	ConflictPowerOutage,
	ConflictWeatherDisruption,
	ConflictTrackMaintenance,
	ConflictPassengerIncident,
	ConflictTimetableDeviation,
}

// AllConflictTypes returns the conflict types in declaration order
func AllConflictTypes() []ConflictType {
	out := make([]ConflictType, len(conflictTypes))
	copy(out, conflictTypes)
	return out
}

// Valid reports whether c is an enumerated conflict type
func (c ConflictType) Valid() bool {
	for _, known := range conflictTypes {
		if c == known {
			return true
		}
	}
	return false
}

func (c ConflictType) String() string { return string(c) }

// Label is the human form used in prose, e.g. "signal failure"
func (c ConflictType) Label() string {
	return strings.ReplaceAll(string(c), "_", " ")
}

// Strategy is one of the 7 enumerated resolution actions
type Strategy string

const (
	StrategyReroute         Strategy = "reroute"
	StrategyHold            Strategy = "hold"
	StrategyDelay           Strategy = "delay"
	StrategyCancellation    Strategy = "cancellation"
	StrategySpeedAdjustment Strategy = "speed_adjustment"
	StrategyReorder         Strategy = "reorder"
	StrategyPlatformChange  Strategy = "platform_change"
)

var strategies = []Strategy{
	StrategyReroute,
	StrategyHold,
	StrategyDelay,
	StrategyCancellation,
	StrategySpeedAdjustment,
	StrategyReorder,
	StrategyPlatformChange,
}

// AllStrategies returns the strategies in declaration order
func AllStrategies() []Strategy {
	out := make([]Strategy, len(strategies))
	copy(out, strategies)
	return out
}

// Index returns the declaration position of s, or -1 if unknown.
// Used as the last tie-breaker so rankings are totally ordered.
func (s Strategy) Index() int {
	for i, known := range strategies {
		if s == known {
			return i
		}
	}
	return -1
}

// Valid reports whether s is an enumerated strategy
func (s Strategy) Valid() bool { return s.Index() >= 0 }

func (s Strategy) String() string { return string(s) }

// Label is the human form used in prose, e.g. "platform change"
func (s Strategy) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// Severity grades the operational impact of a conflict
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AllSeverities returns the severities from least to most severe
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh}
}

// Valid reports whether s is an enumerated severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// TimeOfDay buckets the operating day
type TimeOfDay string

const (
	EarlyMorning TimeOfDay = "early_morning"
	MorningPeak  TimeOfDay = "morning_peak"
	Midday       TimeOfDay = "midday"
	EveningPeak  TimeOfDay = "evening_peak"
	Night        TimeOfDay = "night"
)

// AllTimesOfDay returns the buckets in chronological order
func AllTimesOfDay() []TimeOfDay {
	return []TimeOfDay{EarlyMorning, MorningPeak, Midday, EveningPeak, Night}
}

// Valid reports whether t is an enumerated time-of-day bucket
func (t TimeOfDay) Valid() bool {
	switch t {
	case EarlyMorning, MorningPeak, Midday, EveningPeak, Night:
		return true
	}
	return false
}

// IsPeak reports whether t is a commuter peak
func (t TimeOfDay) IsPeak() bool {
	return t == MorningPeak || t == EveningPeak
}

// RiskLevel classifies a recommendation by its confidence
type RiskLevel string

const (
	RiskHigh     RiskLevel = "high"
	RiskModerate RiskLevel = "moderate"
	RiskLow      RiskLevel = "low"
)

// Confidence thresholds for RiskLevelFor
const (
	HighRiskThreshold     = 0.75
	ModerateRiskThreshold = 0.5
)

// RiskLevelFor maps a confidence in [0,1] to its risk level band
func RiskLevelFor(confidence float64) RiskLevel {
	switch {
	case confidence >= HighRiskThreshold:
		return RiskHigh
	case confidence >= ModerateRiskThreshold:
		return RiskModerate
	default:
		return RiskLow
	}
}

// DisruptionLevel grades the passenger-facing side effect of a strategy
type DisruptionLevel string

const (
	DisruptionNone   DisruptionLevel = "none"
	DisruptionLow    DisruptionLevel = "low"
	DisruptionMedium DisruptionLevel = "medium"
	DisruptionHigh   DisruptionLevel = "high"
)

var disruptionOrder = []DisruptionLevel{DisruptionNone, DisruptionLow, DisruptionMedium, DisruptionHigh}

// Valid reports whether d is an enumerated disruption level
func (d DisruptionLevel) Valid() bool { return d.rank() >= 0 }

// Escalate returns the next level up, saturating at high
func (d DisruptionLevel) Escalate() DisruptionLevel {
	r := d.rank()
	if r < 0 || r == len(disruptionOrder)-1 {
		return d
	}
	return disruptionOrder[r+1]
}

// AtLeast reports whether d is as severe as other
func (d DisruptionLevel) AtLeast(other DisruptionLevel) bool {
	return d.rank() >= other.rank()
}

func (d DisruptionLevel) rank() int {
	for i, l := range disruptionOrder {
		if d == l {
			return i
		}
	}
	return -1
}
