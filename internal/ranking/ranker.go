// Package ranking fuses historical evidence with simulated predictions into
// an ordered list of recommendations
package ranking

import (
	"math"
	"sort"

	"rail-conflict-advisor/internal/retrieval"
	"rail-conflict-advisor/internal/types"
)

// Config holds the fusion parameters
type Config struct {
	HistoricalWeight    float64
	SimulationWeight    float64
	MinWeightedAttempts int
	GoldenBoost         float64
	GoldenCap           float64
}

// DefaultConfig returns the standard fusion parameters
func DefaultConfig() Config {
	return Config{
		HistoricalWeight:    0.6,
		SimulationWeight:    0.4,
		MinWeightedAttempts: 3,
		GoldenBoost:         1.2,
		GoldenCap:           0.3,
	}
}

// Ranker is stateless; Rank is safe for concurrent use
type Ranker struct {
	config Config
}

// NewRanker creates a ranker with config
func NewRanker(config Config) *Ranker {
	if config.GoldenBoost < 1 {
		config.GoldenBoost = 1
	}
	return &Ranker{config: config}
}

// history is the weighted evidence for one strategy
type history struct {
	rate         float64
	attempts     int
	evidence     []types.Evidence
	meanSim      float64
	contributors int
}

// caseWeight is one neighbor's observed attempts for a strategy
type caseWeight struct {
	base      float64
	boosted   float64
	successes float64
}

// Rank produces one recommendation per prediction, best first
func (r *Ranker) Rank(desc types.ConflictDescriptor, predictions []types.Prediction, neighbors []retrieval.Neighbor) []types.Recommendation {
	out := make([]types.Recommendation, 0, len(predictions))
	for _, p := range predictions {
		h := r.history(p.Strategy, neighbors)

		rec := types.Recommendation{
			Strategy:                       p.Strategy,
			Confidence:                     p.SuccessProbability,
			PredictedDelayReductionMinutes: p.DelayReductionMinutes,
			PredictedRecoveryTimeMinutes:   p.RecoveryTimeMinutes,
			SimilarityEvidence:             h.evidence,
			Source:                         types.SourceSimulationOnly,
			SimulatedProbability:           p.SuccessProbability,
			SideEffects:                    p.SideEffects,
		}
		if rec.SimilarityEvidence == nil {
			rec.SimilarityEvidence = []types.Evidence{}
		}

		if h.attempts >= r.config.MinWeightedAttempts && h.attempts > 0 {
			if conf, ok := r.fuse(h.rate, p.SuccessProbability); ok {
				rate := h.rate
				rec.Confidence = conf
				rec.HistoricalRate = &rate
				rec.Source = types.SourceFused
			}
		}
		rec.RiskLevel = types.RiskLevelFor(rec.Confidence)
		rec.Explanation = explain(desc, p, rec, h, r.config.MinWeightedAttempts)
		out = append(out, rec)
	}

	Sort(out)
	return out
}

// Sort orders recommendations by confidence, then predicted delay
// reduction, then strategy enumeration order
func Sort(recs []types.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.PredictedDelayReductionMinutes != b.PredictedDelayReductionMinutes {
			return a.PredictedDelayReductionMinutes > b.PredictedDelayReductionMinutes
		}
		return a.Strategy.Index() < b.Strategy.Index()
	})
}

func (r *Ranker) fuse(historical, simulated float64) (float64, bool) {
	wH, wS := r.config.HistoricalWeight, r.config.SimulationWeight
	total := wH + wS
	if total <= 0 {
		return 0, false
	}
	conf := (wH*historical + wS*simulated) / total
	return math.Max(0, math.Min(1, conf)), true
}

// history computes the similarity-weighted success rate of strategy over the
// neighbors' observed attempts. Golden runs are boosted, but no single case
// may hold more than GoldenCap of the total weight because of the boost.
func (r *Ranker) history(strategy types.Strategy, neighbors []retrieval.Neighbor) history {
	var h history
	weights := make([]caseWeight, 0, len(neighbors))
	var simSum float64

	for _, n := range neighbors {
		attempts := n.Case.AttemptsFor(strategy)
		if len(attempts) == 0 {
			continue
		}
		h.evidence = append(h.evidence, types.Evidence{
			CaseID:     n.Case.ID,
			Similarity: n.Similarity,
			Outcome:    summarize(attempts),
		})

		sim := math.Max(0, n.Similarity)
		var cw caseWeight
		for _, a := range attempts {
			if a.ActualOutcome == nil || sim == 0 {
				continue
			}
			h.attempts++
			w := sim
			if a.IsGoldenRun {
				w *= r.config.GoldenBoost
			}
			cw.base += sim
			cw.boosted += w
			if a.ActualOutcome.Success {
				cw.successes += w
			}
		}
		if cw.base > 0 {
			weights = append(weights, cw)
			simSum += n.Similarity
			h.contributors++
		}
	}

	if h.contributors > 0 {
		h.meanSim = simSum / float64(h.contributors)
	}
	h.rate = weightedRate(weights, r.config.GoldenCap)
	return h
}

func weightedRate(weights []caseWeight, goldenCap float64) float64 {
	var baseTotal float64
	for _, cw := range weights {
		baseTotal += cw.base
	}

	var total, successes float64
	for _, cw := range weights {
		w := capWeight(cw, baseTotal-cw.base, goldenCap)
		total += w
		if cw.boosted > 0 {
			successes += cw.successes * (w / cw.boosted)
		}
	}
	if total == 0 {
		return 0
	}
	return successes / total
}

// capWeight limits a boosted case weight so its share of the total stays at
// or below goldenCap, but never below the un-boosted weight
func capWeight(cw caseWeight, others, goldenCap float64) float64 {
	if cw.boosted <= cw.base || goldenCap <= 0 || goldenCap >= 1 {
		return cw.boosted
	}
	limit := goldenCap / (1 - goldenCap) * others
	if cw.boosted <= limit {
		return cw.boosted
	}
	return math.Max(cw.base, limit)
}

func summarize(attempts []types.StrategyAttempt) types.EvidenceOutcome {
	var successes, failures int
	for _, a := range attempts {
		switch {
		case a.ActualOutcome == nil:
		case a.ActualOutcome.Success:
			successes++
		default:
			failures++
		}
	}
	switch {
	case successes > 0 && failures > 0:
		return types.OutcomeMixed
	case successes > 0:
		return types.OutcomeSuccess
	case failures > 0:
		return types.OutcomeFailure
	default:
		return types.OutcomeUnobserved
	}
}
