package types

import (
	"fmt"
	"time"
)

// ConflictDescriptor is a detected conflict as delivered by the conflict generator
type ConflictDescriptor struct {
	ConflictType       ConflictType `json:"conflict_type" validate:"required,conflict_type"`
	Severity           Severity     `json:"severity" validate:"required,severity"`
	Station            string       `json:"station" validate:"required,max=128"`
	TimeOfDay          TimeOfDay    `json:"time_of_day" validate:"required,time_of_day"`
	Description        string       `json:"description" validate:"max=4000"`
	DelayBeforeMinutes float64      `json:"delay_before_minutes" validate:"gte=0"`
}

// Validate checks the descriptor against the enumerations and field limits
func (d *ConflictDescriptor) Validate() error {
	return validateStruct(d)
}

// EffectivenessKey addresses one row of the learned effectiveness table
type EffectivenessKey struct {
	ConflictType ConflictType `json:"conflict_type"`
	Strategy     Strategy     `json:"strategy"`
}

func (k EffectivenessKey) String() string {
	return fmt.Sprintf("%s/%s", k.ConflictType, k.Strategy)
}

// PredictedOutcome is what the simulator expected when the strategy was recommended
type PredictedOutcome struct {
	SuccessProbability    float64 `json:"success_probability"`
	DelayReductionMinutes float64 `json:"delay_reduction_minutes"`
	RecoveryTimeMinutes   float64 `json:"recovery_time_minutes"`
}

// ActualOutcome is what the operator observed after applying the strategy
type ActualOutcome struct {
	Success               bool    `json:"success"`
	DelayReductionMinutes float64 `json:"delay_reduction_minutes"`
	Notes                 string  `json:"notes,omitempty"`
}

// StrategyAttempt records one application of a strategy to a case
type StrategyAttempt struct {
	Strategy         Strategy         `json:"strategy"`
	PredictedOutcome PredictedOutcome `json:"predicted_outcome"`
	ActualOutcome    *ActualOutcome   `json:"actual_outcome,omitempty"`
	IsGoldenRun      bool             `json:"is_golden_run"`
	Timestamp        time.Time        `json:"timestamp"`
}

// ConflictCase is a historical conflict with its embedding and attempt history.
// Everything except Attempts is immutable once stored; Attempts only grows.
type ConflictCase struct {
	ID                 string            `json:"id"`
	ConflictType       ConflictType      `json:"conflict_type"`
	Severity           Severity          `json:"severity"`
	Station            string            `json:"station"`
	TimeOfDay          TimeOfDay         `json:"time_of_day"`
	Description        string            `json:"description"`
	DelayBeforeMinutes float64           `json:"delay_before_minutes"`
	Embedding          []float64         `json:"embedding"`
	Attempts           []StrategyAttempt `json:"attempts"`
	CreatedAt          time.Time         `json:"created_at"`
}

// NewCase builds a case from a descriptor
func NewCase(id string, desc ConflictDescriptor, embedding []float64, createdAt time.Time) *ConflictCase {
	return &ConflictCase{
		ID:                 id,
		ConflictType:       desc.ConflictType,
		Severity:           desc.Severity,
		Station:            desc.Station,
		TimeOfDay:          desc.TimeOfDay,
		Description:        desc.Description,
		DelayBeforeMinutes: desc.DelayBeforeMinutes,
		Embedding:          embedding,
		CreatedAt:          createdAt,
	}
}

// Descriptor returns the conflict the case was recorded for
func (c *ConflictCase) Descriptor() ConflictDescriptor {
	return ConflictDescriptor{
		ConflictType:       c.ConflictType,
		Severity:           c.Severity,
		Station:            c.Station,
		TimeOfDay:          c.TimeOfDay,
		Description:        c.Description,
		DelayBeforeMinutes: c.DelayBeforeMinutes,
	}
}

// Clone returns a deep copy
func (c *ConflictCase) Clone() *ConflictCase {
	if c == nil {
		return nil
	}
	out := *c
	out.Embedding = append([]float64(nil), c.Embedding...)
	out.Attempts = make([]StrategyAttempt, len(c.Attempts))
	for i, a := range c.Attempts {
		out.Attempts[i] = a
		if a.ActualOutcome != nil {
			actual := *a.ActualOutcome
			out.Attempts[i].ActualOutcome = &actual
		}
	}
	return &out
}

// AttemptsFor returns the attempts that used strategy
func (c *ConflictCase) AttemptsFor(strategy Strategy) []StrategyAttempt {
	var out []StrategyAttempt
	for _, a := range c.Attempts {
		if a.Strategy == strategy {
			out = append(out, a)
		}
	}
	return out
}

// SideEffects is the side-effect profile of a simulated strategy
type SideEffects struct {
	PassengerDisruption    DisruptionLevel `json:"passenger_disruption"`
	DownstreamDelayMinutes float64         `json:"downstream_delay_minutes"`
}

// Prediction is the simulator's output for one strategy
type Prediction struct {
	Strategy              Strategy    `json:"strategy"`
	SuccessProbability    float64     `json:"success_probability"`
	DelayReductionMinutes float64     `json:"delay_reduction_minutes"`
	RecoveryTimeMinutes   float64     `json:"recovery_time_minutes"`
	SideEffects           SideEffects `json:"side_effects"`
	Effectiveness         float64     `json:"effectiveness"`
	Learned               bool        `json:"learned"`
	Rationale             string      `json:"rationale,omitempty"`
}

// Outcome returns the predicted outcome recorded on attempts
func (p Prediction) Outcome() PredictedOutcome {
	return PredictedOutcome{
		SuccessProbability:    p.SuccessProbability,
		DelayReductionMinutes: p.DelayReductionMinutes,
		RecoveryTimeMinutes:   p.RecoveryTimeMinutes,
	}
}

// EvidenceOutcome summarizes a neighbor case's observed result for a strategy
type EvidenceOutcome string

const (
	OutcomeSuccess    EvidenceOutcome = "success"
	OutcomeFailure    EvidenceOutcome = "failure"
	OutcomeMixed      EvidenceOutcome = "mixed"
	OutcomeUnobserved EvidenceOutcome = "unobserved"
)

// Evidence is one historical case backing a recommendation
type Evidence struct {
	CaseID     string          `json:"case_id"`
	Similarity float64         `json:"similarity"`
	Outcome    EvidenceOutcome `json:"outcome"`
}

// ConfidenceSource tells whether history contributed to a confidence
type ConfidenceSource string

const (
	SourceFused          ConfidenceSource = "fused"
	SourceSimulationOnly ConfidenceSource = "simulation_only"
)

// Recommendation is one ranked strategy
type Recommendation struct {
	Strategy                       Strategy         `json:"strategy"`
	Confidence                     float64          `json:"confidence"`
	PredictedDelayReductionMinutes float64          `json:"predicted_delay_reduction_minutes"`
	PredictedRecoveryTimeMinutes   float64          `json:"predicted_recovery_time_minutes"`
	RiskLevel                      RiskLevel        `json:"risk_level"`
	Explanation                    string           `json:"explanation"`
	SimilarityEvidence             []Evidence       `json:"similarity_evidence"`
	Source                         ConfidenceSource `json:"source"`
	HistoricalRate                 *float64         `json:"historical_rate,omitempty"`
	SimulatedProbability           float64          `json:"simulated_probability"`
	SideEffects                    SideEffects      `json:"side_effects"`
}

// Outcome returns the prediction recorded on an attempt when this strategy is applied
func (r Recommendation) Outcome() PredictedOutcome {
	return PredictedOutcome{
		SuccessProbability:    r.SimulatedProbability,
		DelayReductionMinutes: r.PredictedDelayReductionMinutes,
		RecoveryTimeMinutes:   r.PredictedRecoveryTimeMinutes,
	}
}

// RecommendationResult is the ranked answer for one conflict
type RecommendationResult struct {
	ID              string             `json:"id"`
	Conflict        ConflictDescriptor `json:"conflict"`
	CaseID          string             `json:"case_id"`
	Embedding       []float64          `json:"embedding,omitempty"`
	Recommendations []Recommendation   `json:"recommendations"`
	SimulationOnly  bool               `json:"simulation_only"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Find returns the recommendation for strategy, if it was ranked
func (r *RecommendationResult) Find(strategy Strategy) (*Recommendation, bool) {
	for i := range r.Recommendations {
		if r.Recommendations[i].Strategy == strategy {
			return &r.Recommendations[i], true
		}
	}
	return nil, false
}

// FeedbackRequest is the operator's report as received at the boundary
type FeedbackRequest struct {
	RecommendationID            string   `json:"recommendation_id" validate:"required,max=64"`
	Strategy                    Strategy `json:"strategy" validate:"required,strategy"`
	ActualSuccess               bool     `json:"actual_success"`
	ActualDelayReductionMinutes float64  `json:"actual_delay_reduction_minutes"`
	IsGoldenRun                 bool     `json:"is_golden_run"`
	Notes                       string   `json:"notes" validate:"max=2000"`
}

// Validate checks the request fields
func (r *FeedbackRequest) Validate() error {
	return validateStruct(r)
}

// Record stamps the request into a FeedbackRecord
func (r FeedbackRequest) Record(now time.Time) FeedbackRecord {
	return FeedbackRecord{
		RecommendationID:            r.RecommendationID,
		Strategy:                    r.Strategy,
		ActualSuccess:               r.ActualSuccess,
		ActualDelayReductionMinutes: r.ActualDelayReductionMinutes,
		IsGoldenRun:                 r.IsGoldenRun,
		Notes:                       r.Notes,
		Timestamp:                   now,
	}
}

// FeedbackRecord is an observed outcome for a prior recommendation
type FeedbackRecord struct {
	RecommendationID            string    `json:"recommendation_id" validate:"required,max=64"`
	Strategy                    Strategy  `json:"strategy" validate:"required,strategy"`
	ActualSuccess               bool      `json:"actual_success"`
	ActualDelayReductionMinutes float64   `json:"actual_delay_reduction_minutes"`
	IsGoldenRun                 bool      `json:"is_golden_run"`
	Notes                       string    `json:"notes,omitempty" validate:"max=2000"`
	Timestamp                   time.Time `json:"timestamp" validate:"required"`
}

// Validate checks the record fields
func (r *FeedbackRecord) Validate() error {
	return validateStruct(r)
}

// Observed is the EMA target for this record
func (r FeedbackRecord) Observed() float64 {
	if r.ActualSuccess {
		return 1
	}
	return 0
}
