// Package advisor orchestrates a recommendation: embedding and retrieval run
// alongside the simulation, the ranker fuses both, and the result is logged
// so operator feedback can refer back to it.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/learning"
	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/ranking"
	"rail-conflict-advisor/internal/retrieval"
	"rail-conflict-advisor/internal/simulation"
	"rail-conflict-advisor/internal/storage"
	"rail-conflict-advisor/internal/types"
)

// Embeddings turns a descriptor into a case embedding
type Embeddings interface {
	Generate(ctx context.Context, desc types.ConflictDescriptor) ([]float64, error)
}

// Recorder receives per-request metrics
type Recorder interface {
	ObserveRecommendation(simulationOnly, embeddingFallback bool, took time.Duration)
}

// Deps groups the collaborators of a Service
type Deps struct {
	Embeddings    Embeddings
	Cases         storage.CaseStore
	Retriever     *retrieval.Retriever
	Engine        *simulation.Engine
	Ranker        *ranking.Ranker
	Learner       *learning.Learner
	Effectiveness storage.EffectivenessStore
	Log           storage.RecommendationLog
	Recorder      Recorder
	Logger        logging.Logger

	// FilterByStation restricts retrieval to cases at the conflict's station
	FilterByStation bool
}

// Service is the advisor's entry point
type Service struct {
	embeddings    Embeddings
	cases         storage.CaseStore
	retriever     *retrieval.Retriever
	engine        *simulation.Engine
	ranker        *ranking.Ranker
	learner       *learning.Learner
	effectiveness storage.EffectivenessStore
	log           storage.RecommendationLog
	recorder      Recorder
	logger        logging.Logger
	now           func() time.Time

	filterByStation bool
}

// NewService creates a service. Recorder and Logger may be nil.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Service{
		embeddings:    deps.Embeddings,
		cases:         deps.Cases,
		retriever:     deps.Retriever,
		engine:        deps.Engine,
		ranker:        deps.Ranker,
		learner:       deps.Learner,
		effectiveness: deps.Effectiveness,
		log:           deps.Log,
		recorder:      deps.Recorder,
		logger:        logger.WithComponent("advisor"),
		now:           func() time.Time { return time.Now().UTC() },

		filterByStation: deps.FilterByStation,
	}
}

// Recommend returns every strategy ranked for desc. An unavailable embedding
// degrades to a simulation-only answer instead of failing.
func (s *Service) Recommend(ctx context.Context, desc types.ConflictDescriptor) (*types.RecommendationResult, error) {
	start := time.Now()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	var (
		embedding   []float64
		neighbors   []retrieval.Neighbor
		predictions []types.Prediction
		fallback    bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := s.embeddings.Generate(gctx, desc)
		if err != nil {
			if errors.Is(err, adverrors.ErrEmbeddingUnavailable) && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "Embedding unavailable, answering from simulation only",
					"conflict_type", desc.ConflictType, "error", err)
				fallback = true
				return nil
			}
			return err
		}
		embedding = vec

		found, err := s.retriever.Retrieve(gctx, vec, s.caseFilter(desc))
		if err != nil {
			if gctx.Err() != nil {
				return err
			}
			s.logger.WarnContext(ctx, "Case retrieval failed, answering from simulation only",
				"conflict_type", desc.ConflictType, "error", err)
			return nil
		}
		neighbors = found
		return nil
	})
	g.Go(func() error {
		snapshot, err := s.effectiveness.Snapshot(gctx)
		if err != nil {
			return fmt.Errorf("failed to read learned effectiveness: %w", err)
		}
		predictions, err = s.engine.SimulateAll(desc, snapshot)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recs := s.ranker.Rank(desc, predictions, neighbors)
	result := &types.RecommendationResult{
		ID:              uuid.New().String(),
		Conflict:        desc,
		CaseID:          uuid.New().String(),
		Embedding:       embedding,
		Recommendations: recs,
		SimulationOnly:  simulationOnly(recs),
		CreatedAt:       s.now(),
	}
	if err := s.log.Save(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save recommendation: %w", err)
	}

	took := time.Since(start)
	if s.recorder != nil {
		s.recorder.ObserveRecommendation(result.SimulationOnly, fallback, took)
	}
	s.logger.InfoContext(ctx, "Recommended strategies",
		"recommendation_id", result.ID,
		"conflict_type", desc.ConflictType,
		"severity", desc.Severity,
		"neighbors", len(neighbors),
		"top", recs[0].Strategy,
		"confidence", recs[0].Confidence,
		"simulation_only", result.SimulationOnly,
		"duration_ms", took.Milliseconds())
	return result, nil
}

// SubmitFeedback applies an operator's observed outcome
func (s *Service) SubmitFeedback(ctx context.Context, req types.FeedbackRequest) (*learning.Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.learner.Apply(ctx, req.Record(s.now()))
}

// Simulate returns the raw simulator predictions for every strategy,
// using the learned effectiveness where present
func (s *Service) Simulate(ctx context.Context, desc types.ConflictDescriptor) ([]types.Prediction, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	snapshot, err := s.effectiveness.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read learned effectiveness: %w", err)
	}
	return s.engine.SimulateAll(desc, snapshot)
}

// caseFilter scopes retrieval to the conflict type, and to the station when
// configured
func (s *Service) caseFilter(desc types.ConflictDescriptor) storage.CaseFilter {
	filter := storage.CaseFilter{ConflictType: desc.ConflictType}
	if s.filterByStation {
		filter.Station = desc.Station
	}
	return filter
}

func simulationOnly(recs []types.Recommendation) bool {
	for _, r := range recs {
		if r.Source == types.SourceFused {
			return false
		}
	}
	return true
}
