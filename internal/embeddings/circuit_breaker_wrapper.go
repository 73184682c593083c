package embeddings

import (
	"context"
	"errors"
	"time"

	"rail-conflict-advisor/internal/circuitbreaker"
	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/logging"
)

// BreakerEmbedder stops calling a failing backend until it recovers
type BreakerEmbedder struct {
	next Embedder
	cb   *circuitbreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps next; failures and openFor tune the breaker
func NewBreakerEmbedder(next Embedder, failures int, openFor time.Duration, logger logging.Logger) *BreakerEmbedder {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	log := logger.WithComponent("embedding_breaker")

	cfg := circuitbreaker.DefaultConfig()
	if failures > 0 {
		cfg.FailureThreshold = failures
	}
	if openFor > 0 {
		cfg.OpenTimeout = openFor
	}
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		log.Warn("embedding circuit breaker state change", "from", from.String(), "to", to.String(), "model", next.Model())
	}

	return &BreakerEmbedder{next: next, cb: circuitbreaker.New(cfg)}
}

func (b *BreakerEmbedder) Dimensions() int { return b.next.Dimensions() }

func (b *BreakerEmbedder) Model() string { return b.next.Model() }

// Embed reports an open circuit as EmbeddingUnavailable without calling the backend
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var vec []float64
	err := b.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		vec, err = b.next.Embed(ctx, text)
		return err
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrProbeLimited) {
			return nil, adverrors.NewEmbeddingUnavailableError(err)
		}
		return nil, err
	}
	return vec, nil
}

// State exposes the breaker state for health reporting
func (b *BreakerEmbedder) State() circuitbreaker.State {
	return b.cb.State()
}
