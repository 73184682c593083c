// Package metrics exports the advisor's Prometheus metrics and keeps the
// learning accuracy series
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rail-conflict-advisor/internal/types"
)

// Recommendation paths
const (
	PathFused          = "fused"
	PathSimulationOnly = "simulation_only"
)

// Recorder holds all Prometheus metrics on its own registry
type Recorder struct {
	registry *prometheus.Registry

	Recommendations    *prometheus.CounterVec
	EmbeddingFallbacks prometheus.Counter
	Feedback           *prometheus.CounterVec
	WriteConflicts     prometheus.Counter
	Effectiveness      *prometheus.GaugeVec
	LearningAccuracy   prometheus.Gauge
	RecommendDuration  prometheus.Histogram

	accuracy *AccuracyTracker
}

// NewRecorder creates the collectors on a fresh registry. accuracyWindow
// bounds the learning accuracy series.
func NewRecorder(namespace string, accuracyWindow int) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		Recommendations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recommendations_total",
				Help:      "Total number of recommendation requests by path",
			},
			[]string{"path"},
		),
		EmbeddingFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_fallbacks_total",
			Help:      "Recommendations served without an embedding",
		}),
		Feedback: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_total",
				Help:      "Feedback records applied by observed result",
			},
			[]string{"result"},
		),
		WriteConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflicts_total",
			Help:      "Effectiveness writes that exhausted their retries",
		}),
		Effectiveness: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "effectiveness_score",
				Help:      "Learned strategy effectiveness",
			},
			[]string{"conflict_type", "strategy"},
		),
		LearningAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learning_accuracy",
			Help:      "Rolling mean of 1 - |predicted - observed|",
		}),
		RecommendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommend_duration_seconds",
			Help:      "Duration of recommendation requests in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		accuracy: NewAccuracyTracker(accuracyWindow),
	}
}

// RegisterRuntimeCollectors adds the Go runtime and process collectors
func (r *Recorder) RegisterRuntimeCollectors() {
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry exposes the registry for scraping and tests
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Accuracy returns the learning accuracy series
func (r *Recorder) Accuracy() *AccuracyTracker { return r.accuracy }

// ObserveRecommendation records one served recommendation
func (r *Recorder) ObserveRecommendation(simulationOnly, embeddingFallback bool, took time.Duration) {
	path := PathFused
	if simulationOnly {
		path = PathSimulationOnly
	}
	r.Recommendations.WithLabelValues(path).Inc()
	if embeddingFallback {
		r.EmbeddingFallbacks.Inc()
	}
	r.RecommendDuration.Observe(took.Seconds())
}

// ObserveFeedback records an applied feedback record and its learning accuracy
func (r *Recorder) ObserveFeedback(key types.EffectivenessKey, success bool, newScore, accuracy float64, at time.Time) {
	result := "failure"
	if success {
		result = "success"
	}
	r.Feedback.WithLabelValues(result).Inc()
	r.Effectiveness.WithLabelValues(string(key.ConflictType), string(key.Strategy)).Set(newScore)
	r.LearningAccuracy.Set(r.accuracy.Add(at, accuracy))
}

// ObserveWriteConflict counts an exhausted effectiveness write
func (r *Recorder) ObserveWriteConflict() {
	r.WriteConflicts.Inc()
}
