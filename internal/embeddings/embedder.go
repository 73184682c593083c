// Package embeddings turns conflict descriptors into fixed-dimension unit
// vectors. Backends are interchangeable behind Embedder; Generator is the
// entry point used by the advisor and applies the timeout and contract checks.
package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/types"
)

// Embedder maps text to a vector of fixed dimensionality
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
	Model() string
}

// DescriptorText renders the canonical text for a descriptor. The delay is
// left out so the same incident embeds identically whatever its current delay.
func DescriptorText(desc types.ConflictDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "conflict_type: %s\n", desc.ConflictType)
	fmt.Fprintf(&b, "severity: %s\n", desc.Severity)
	fmt.Fprintf(&b, "station: %s\n", strings.TrimSpace(desc.Station))
	fmt.Fprintf(&b, "time_of_day: %s\n", desc.TimeOfDay)
	fmt.Fprintf(&b, "description: %s", strings.TrimSpace(desc.Description))
	return b.String()
}

// Normalize scales v to unit length in place and returns it.
// A zero vector cannot be normalized and yields false.
func Normalize(v []float64) ([]float64, bool) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return v, false
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
	return v, true
}

// Generator produces descriptor embeddings under a bounded timeout
type Generator struct {
	embedder Embedder
	timeout  time.Duration
	logger   logging.Logger
}

// NewGenerator wraps an embedder with the per-call timeout
func NewGenerator(embedder Embedder, timeout time.Duration, logger logging.Logger) *Generator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Generator{
		embedder: embedder,
		timeout:  timeout,
		logger:   logger.WithComponent("embedding_generator"),
	}
}

// Dimensions returns the fixed output dimensionality
func (g *Generator) Dimensions() int {
	return g.embedder.Dimensions()
}

// Generate embeds desc. Every failure, including the timeout, is reported
// as EmbeddingUnavailable so callers can fall back.
func (g *Generator) Generate(ctx context.Context, desc types.ConflictDescriptor) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		vec []float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		vec, err := g.embedder.Embed(ctx, DescriptorText(desc))
		done <- result{vec: vec, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		g.logger.WarnContext(ctx, "embedding timed out", "timeout", g.timeout.String(), "model", g.embedder.Model())
		return nil, adverrors.NewEmbeddingUnavailableError(ctx.Err())
	}

	if r.err != nil {
		g.logger.WarnContext(ctx, "embedding failed", "error", r.err, "model", g.embedder.Model())
		if adverrors.CodeOf(r.err) == adverrors.ErrorCodeEmbeddingUnavailable {
			return nil, r.err
		}
		return nil, adverrors.NewEmbeddingUnavailableError(r.err)
	}

	if len(r.vec) != g.embedder.Dimensions() {
		return nil, adverrors.NewEmbeddingUnavailableError(
			fmt.Errorf("backend returned %d dimensions, expected %d", len(r.vec), g.embedder.Dimensions()))
	}

	vec := append([]float64(nil), r.vec...)
	if _, ok := Normalize(vec); !ok {
		return nil, adverrors.NewEmbeddingUnavailableError(fmt.Errorf("backend returned a degenerate vector"))
	}
	return vec, nil
}
