// Package di provides dependency injection container for the application
package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"rail-conflict-advisor/internal/advisor"
	"rail-conflict-advisor/internal/config"
	"rail-conflict-advisor/internal/embeddings"
	"rail-conflict-advisor/internal/learning"
	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/metrics"
	"rail-conflict-advisor/internal/ranking"
	"rail-conflict-advisor/internal/retrieval"
	"rail-conflict-advisor/internal/simulation"
	"rail-conflict-advisor/internal/storage"
)

// Container holds all application dependencies
type Container struct {
	Config        *config.Config
	Logger        logging.Logger
	Recorder      *metrics.Recorder
	Rules         *simulation.RuleSet
	Generator     *embeddings.Generator
	Cases         storage.CaseStore
	Effectiveness storage.EffectivenessStore
	Log           storage.RecommendationLog
	Retriever     *retrieval.Retriever
	Engine        *simulation.Engine
	Ranker        *ranking.Ranker
	Learner       *learning.Learner
	Service       *advisor.Service

	redis   *redis.Client
	closers []closer
}

type closer struct {
	name  string
	close func() error
}

// NewContainer creates a new dependency injection container. Anything opened
// before a failure is closed again.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logging.New(logging.Options{
			Level: logging.ParseLogLevel(cfg.Logging.Level),
			JSON:  strings.EqualFold(cfg.Logging.Format, "json"),
		}),
	}

	// Initialize in dependency order
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"rules", c.initializeRules},
		{"metrics", c.initializeMetrics},
		{"embeddings", c.initializeEmbeddings},
		{"storage", c.initializeStorage},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}
	c.initializeServices()

	c.Logger.Info("Container initialized",
		"embedding_provider", cfg.Embedding.Provider,
		"case_backend", cfg.Storage.CaseBackend,
		"log_backend", cfg.Storage.LogBackend,
		"effectiveness_driver", cfg.Effectiveness.Driver,
		"rules", c.Rules.Len())
	return c, nil
}

func (c *Container) initializeRules(context.Context) error {
	var err error
	if c.Config.RulesFile != "" {
		c.Rules, err = simulation.LoadRules(c.Config.RulesFile)
	} else {
		c.Rules, err = simulation.DefaultRules()
	}
	return err
}

func (c *Container) initializeMetrics(context.Context) error {
	c.Recorder = metrics.NewRecorder(c.Config.Metrics.Namespace, c.Config.Metrics.AccuracyWindow)
	if c.Config.Metrics.Enabled {
		c.Recorder.RegisterRuntimeCollectors()
	}
	return nil
}

// initializeEmbeddings builds backend -> cache -> breaker -> generator
func (c *Container) initializeEmbeddings(ctx context.Context) error {
	cfg := c.Config.Embedding

	var backend embeddings.Embedder
	switch cfg.Provider {
	case "openai":
		openaiEmbedder, err := embeddings.NewOpenAIEmbedder(cfg)
		if err != nil {
			return err
		}
		backend = embeddings.NewBreakerEmbedder(openaiEmbedder, cfg.BreakerFails, cfg.BreakerOpen, c.Logger)
	default:
		backend = embeddings.NewHashEmbedder(cfg.Dimensions)
	}

	switch cfg.Cache {
	case "memory":
		backend = embeddings.NewCachedEmbedder(backend, embeddings.NewLRUCache(cfg.CacheSize, cfg.CacheTTL))
	case "redis":
		client, err := c.redisClient(ctx)
		if err != nil {
			return err
		}
		cache := embeddings.NewRedisCache(client, c.Config.Redis.KeyPrefix+"emb:", cfg.CacheTTL, c.Logger)
		backend = embeddings.NewCachedEmbedder(backend, cache)
	}

	c.Generator = embeddings.NewGenerator(backend, c.Config.Engine.EmbeddingTimeout, c.Logger)
	return nil
}

// initializeStorage sets up storage layer
func (c *Container) initializeStorage(ctx context.Context) error {
	dims := c.Generator.Dimensions()

	var cases storage.CaseStore
	switch c.Config.Storage.CaseBackend {
	case "qdrant":
		qs, err := storage.NewQdrantCaseStore(ctx, c.Config.Qdrant, dims, c.Logger)
		if err != nil {
			return err
		}
		c.addCloser("qdrant", qs.Close)
		cases = qs
	default:
		cases = storage.NewMemoryCaseStore(dims)
	}
	// Wrap with retry logic
	c.Cases = storage.NewRetryableCaseStore(cases, storage.DefaultRetryConfig(c.Config.Storage.RetryAttempts))

	switch c.Config.Effectiveness.Driver {
	case "memory":
		c.Effectiveness = storage.NewMemoryEffectivenessStore()
	default:
		sqlStore, err := storage.NewSQLEffectivenessStore(ctx, c.Config.Effectiveness.Driver, c.Config.Effectiveness.DSN, c.Logger)
		if err != nil {
			return err
		}
		c.addCloser("effectiveness", sqlStore.Close)
		c.Effectiveness = sqlStore
	}

	switch c.Config.Storage.LogBackend {
	case "redis":
		client, err := c.redisClient(ctx)
		if err != nil {
			return err
		}
		c.Log = storage.NewRedisRecommendationLog(client, c.Config.Redis.KeyPrefix, c.Config.Storage.LogTTL, c.Logger)
	default:
		c.Log = storage.NewMemoryRecommendationLog(c.Config.Storage.LogCapacity, c.Config.Storage.LogTTL)
	}
	return nil
}

func (c *Container) initializeServices() {
	engine := c.Config.Engine

	c.Retriever = retrieval.NewRetriever(c.Cases, retrieval.Config{
		K:            engine.RetrievalK,
		MinNeighbors: engine.MinNeighbors,
	}, c.Logger)
	c.Engine = simulation.NewEngine(c.Rules)
	c.Ranker = ranking.NewRanker(ranking.Config{
		HistoricalWeight:    engine.HistoricalWeight,
		SimulationWeight:    engine.SimulationWeight,
		MinWeightedAttempts: engine.MinWeightedAttempts,
		GoldenBoost:         engine.GoldenBoost,
		GoldenCap:           engine.GoldenCap,
	})
	c.Learner = learning.NewLearner(learning.Deps{
		Cases:         c.Cases,
		Effectiveness: c.Effectiveness,
		Log:           c.Log,
		Base:          c.Rules,
		Embeddings:    c.Generator,
		Recorder:      c.Recorder,
		Logger:        c.Logger,
	}, learning.Config{
		Alpha:              engine.EMAAlpha,
		WriteRetryAttempts: engine.WriteRetryAttempts,
	})
	c.Service = advisor.NewService(advisor.Deps{
		Embeddings:    c.Generator,
		Cases:         c.Cases,
		Retriever:     c.Retriever,
		Engine:        c.Engine,
		Ranker:        c.Ranker,
		Learner:       c.Learner,
		Effectiveness: c.Effectiveness,
		Log:           c.Log,
		Recorder:      c.Recorder,
		Logger:        c.Logger,

		FilterByStation: engine.FilterByStation,
	})
}

// redisClient connects once and shares the client between the embedding
// cache and the recommendation log
func (c *Container) redisClient(ctx context.Context) (*redis.Client, error) {
	if c.redis != nil {
		return c.redis, nil
	}
	client, err := storage.NewRedisClient(ctx, c.Config.Redis)
	if err != nil {
		return nil, err
	}
	c.redis = client
	c.addCloser("redis", client.Close)
	return client, nil
}

func (c *Container) addCloser(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, close: fn})
}

// Close releases backend connections in reverse order of creation
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", c.closers[i].name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
