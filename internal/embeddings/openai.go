package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"rail-conflict-advisor/internal/config"
	adverrors "rail-conflict-advisor/internal/errors"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint (or any compatible
// server reachable through BaseURL)
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder from the embedding config
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, adverrors.NewConfigurationError("openai embedder requires an API key", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, adverrors.NewConfigurationError("openai embedder requires positive dimensions", nil)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	burst := rpm / 6
	if burst < 1 {
		burst = 1
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
	}, nil
}

func (o *OpenAIEmbedder) Dimensions() int { return o.dims }

func (o *OpenAIEmbedder) Model() string { return o.model }

// Embed requests one embedding. Any failure is EmbeddingUnavailable.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text cannot be empty")
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, adverrors.NewEmbeddingUnavailableError(fmt.Errorf("rate limiter: %w", err))
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	}
	// Only the v3 family accepts a requested size
	if strings.HasPrefix(o.model, "text-embedding-3") {
		req.Dimensions = o.dims
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, adverrors.NewEmbeddingUnavailableError(fmt.Errorf("failed to create embedding: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, adverrors.NewEmbeddingUnavailableError(errors.New("no embeddings returned"))
	}

	raw := resp.Data[0].Embedding
	if len(raw) != o.dims {
		return nil, adverrors.NewEmbeddingUnavailableError(
			fmt.Errorf("model %s returned %d dimensions, configured %d", o.model, len(raw), o.dims))
	}

	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}
	if _, ok := Normalize(vec); !ok {
		return nil, adverrors.NewEmbeddingUnavailableError(errors.New("zero embedding returned"))
	}
	return vec, nil
}
