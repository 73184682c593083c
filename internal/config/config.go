package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	adverrors "rail-conflict-advisor/internal/errors"
)

// EnvPrefix prefixes every recognized environment variable
const EnvPrefix = "RAIL_ADVISOR_"

// Config represents the application configuration
type Config struct {
	Engine        EngineConfig        `mapstructure:"engine" json:"engine"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding" json:"embedding"`
	Storage       StorageConfig       `mapstructure:"storage" json:"storage"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant" json:"qdrant"`
	Redis         RedisConfig         `mapstructure:"redis" json:"redis"`
	Effectiveness EffectivenessConfig `mapstructure:"effectiveness" json:"effectiveness"`
	RulesFile     string              `mapstructure:"rules_file" json:"rules_file,omitempty"`
	Logging       LoggingConfig       `mapstructure:"logging" json:"logging"`
	Metrics       MetricsConfig       `mapstructure:"metrics" json:"metrics"`
}

// EngineConfig holds the tunables of retrieval, fusion and learning.
// All of them are illustrative defaults and meant to be tuned per deployment.
type EngineConfig struct {
	RetrievalK          int           `mapstructure:"retrieval_k" json:"retrieval_k"`
	MinNeighbors        int           `mapstructure:"min_neighbors" json:"min_neighbors"`
	HistoricalWeight    float64       `mapstructure:"historical_weight" json:"historical_weight"`
	SimulationWeight    float64       `mapstructure:"simulation_weight" json:"simulation_weight"`
	MinWeightedAttempts int           `mapstructure:"min_weighted_attempts" json:"min_weighted_attempts"`
	EMAAlpha            float64       `mapstructure:"ema_alpha" json:"ema_alpha"`
	GoldenBoost         float64       `mapstructure:"golden_boost" json:"golden_boost"`
	GoldenCap           float64       `mapstructure:"golden_cap" json:"golden_cap"`
	EmbeddingTimeout    time.Duration `mapstructure:"embedding_timeout" json:"embedding_timeout"`
	WriteRetryAttempts  int           `mapstructure:"write_retry_attempts" json:"write_retry_attempts"`

	// FilterByStation limits retrieval to cases at the same station
	FilterByStation bool `mapstructure:"filter_by_station" json:"filter_by_station"`
}

// EmbeddingConfig selects and tunes the embedding backend
type EmbeddingConfig struct {
	Provider     string        `mapstructure:"provider" json:"provider"`
	Dimensions   int           `mapstructure:"dimensions" json:"dimensions"`
	Model        string        `mapstructure:"model" json:"model"`
	APIKey       string        `mapstructure:"api_key" json:"-"`
	BaseURL      string        `mapstructure:"base_url" json:"base_url,omitempty"`
	RateLimitRPM int           `mapstructure:"rate_limit_rpm" json:"rate_limit_rpm"`
	Cache        string        `mapstructure:"cache" json:"cache"`
	CacheSize    int           `mapstructure:"cache_size" json:"cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	BreakerFails int           `mapstructure:"breaker_failures" json:"breaker_failures"`
	BreakerOpen  time.Duration `mapstructure:"breaker_open" json:"breaker_open"`
}

// StorageConfig selects the case store and recommendation log backends
type StorageConfig struct {
	CaseBackend   string        `mapstructure:"case_backend" json:"case_backend"`
	LogBackend    string        `mapstructure:"log_backend" json:"log_backend"`
	LogCapacity   int           `mapstructure:"log_capacity" json:"log_capacity"`
	LogTTL        time.Duration `mapstructure:"log_ttl" json:"log_ttl"`
	RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts"`
}

// QdrantConfig represents Qdrant vector database configuration
type QdrantConfig struct {
	Host       string `mapstructure:"host" json:"host"`
	Port       int    `mapstructure:"port" json:"port"`
	APIKey     string `mapstructure:"api_key" json:"-"`
	UseTLS     bool   `mapstructure:"use_tls" json:"use_tls"`
	Collection string `mapstructure:"collection" json:"collection"`
}

// RedisConfig represents the Redis connection shared by the cache and the log
type RedisConfig struct {
	Addr      string `mapstructure:"addr" json:"addr"`
	Password  string `mapstructure:"password" json:"-"`
	DB        int    `mapstructure:"db" json:"db"`
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`
}

// EffectivenessConfig selects the learned effectiveness table backend
type EffectivenessConfig struct {
	Driver string `mapstructure:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" json:"-"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// MetricsConfig controls the prometheus collectors
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled"`
	Namespace      string `mapstructure:"namespace" json:"namespace"`
	AccuracyWindow int    `mapstructure:"accuracy_window" json:"accuracy_window"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			RetrievalK:          12,
			MinNeighbors:        3,
			HistoricalWeight:    0.6,
			SimulationWeight:    0.4,
			MinWeightedAttempts: 3,
			EMAAlpha:            0.1,
			GoldenBoost:         1.2,
			GoldenCap:           0.3,
			EmbeddingTimeout:    5 * time.Second,
			WriteRetryAttempts:  5,
		},
		Embedding: EmbeddingConfig{
			Provider:     "hash",
			Dimensions:   256,
			Model:        "text-embedding-3-small",
			RateLimitRPM: 60,
			Cache:        "memory",
			CacheSize:    1000,
			CacheTTL:     24 * time.Hour,
			BreakerFails: 5,
			BreakerOpen:  30 * time.Second,
		},
		Storage: StorageConfig{
			CaseBackend:   "memory",
			LogBackend:    "memory",
			LogCapacity:   10000,
			LogTTL:        7 * 24 * time.Hour,
			RetryAttempts: 3,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "rail_conflict_cases",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "rail-advisor:",
		},
		Effectiveness: EffectivenessConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Namespace:      "rail_advisor",
			AccuracyWindow: 500,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and environment variables, in that order of precedence
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, adverrors.NewConfigurationError("error loading .env file", err)
	}

	config := DefaultConfig()

	if path != "" {
		if err := loadFile(config, path); err != nil {
			return nil, err
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, adverrors.NewConfigurationError("invalid configuration", err)
	}
	return config, nil
}

// loadFile decodes a YAML file over config; keys absent from the file keep their values
func loadFile(config *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return adverrors.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return adverrors.NewConfigurationError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return adverrors.NewConfigurationError("failed to build config decoder", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return adverrors.NewConfigurationError(fmt.Sprintf("failed to decode config file %s", path), err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) {
	loadEngineConfig(&config.Engine)
	loadEmbeddingConfig(&config.Embedding)
	loadBackendConfig(config)

	envString("RULES_FILE", &config.RulesFile)
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_NAMESPACE", &config.Metrics.Namespace)
}

func loadEngineConfig(e *EngineConfig) {
	envInt("RETRIEVAL_K", &e.RetrievalK)
	envInt("MIN_NEIGHBORS", &e.MinNeighbors)
	envFloat("HISTORICAL_WEIGHT", &e.HistoricalWeight)
	envFloat("SIMULATION_WEIGHT", &e.SimulationWeight)
	envInt("MIN_WEIGHTED_ATTEMPTS", &e.MinWeightedAttempts)
	envFloat("EMA_ALPHA", &e.EMAAlpha)
	envFloat("GOLDEN_BOOST", &e.GoldenBoost)
	envFloat("GOLDEN_CAP", &e.GoldenCap)
	envDuration("EMBEDDING_TIMEOUT", &e.EmbeddingTimeout)
	envInt("WRITE_RETRY_ATTEMPTS", &e.WriteRetryAttempts)
	envBool("FILTER_BY_STATION", &e.FilterByStation)
}

func loadEmbeddingConfig(e *EmbeddingConfig) {
	envString("EMBEDDING_PROVIDER", &e.Provider)
	envInt("EMBEDDING_DIMENSIONS", &e.Dimensions)
	envString("EMBEDDING_MODEL", &e.Model)
	envString("EMBEDDING_BASE_URL", &e.BaseURL)
	envInt("EMBEDDING_RATE_LIMIT_RPM", &e.RateLimitRPM)
	envString("EMBEDDING_CACHE", &e.Cache)
	envInt("EMBEDDING_CACHE_SIZE", &e.CacheSize)
	envDuration("EMBEDDING_CACHE_TTL", &e.CacheTTL)

	// The provider key is commonly exported without our prefix
	if apiKey := os.Getenv(EnvPrefix + "OPENAI_API_KEY"); apiKey != "" {
		e.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		e.APIKey = apiKey
	}
}

func loadBackendConfig(config *Config) {
	envString("CASE_BACKEND", &config.Storage.CaseBackend)
	envString("LOG_BACKEND", &config.Storage.LogBackend)
	envInt("LOG_CAPACITY", &config.Storage.LogCapacity)
	envDuration("LOG_TTL", &config.Storage.LogTTL)

	envString("QDRANT_HOST", &config.Qdrant.Host)
	envInt("QDRANT_PORT", &config.Qdrant.Port)
	envString("QDRANT_API_KEY", &config.Qdrant.APIKey)
	envBool("QDRANT_USE_TLS", &config.Qdrant.UseTLS)
	envString("QDRANT_COLLECTION", &config.Qdrant.Collection)

	envString("REDIS_ADDR", &config.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Redis.Password)
	envInt("REDIS_DB", &config.Redis.DB)
	envString("REDIS_KEY_PREFIX", &config.Redis.KeyPrefix)

	envString("EFFECTIVENESS_DRIVER", &config.Effectiveness.Driver)
	envString("EFFECTIVENESS_DSN", &config.Effectiveness.DSN)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}

	switch c.Embedding.Provider {
	case "hash":
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding provider openai requires an API key")
		}
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if !oneOf(c.Embedding.Cache, "none", "memory", "redis") {
		return fmt.Errorf("unknown embedding cache: %s", c.Embedding.Cache)
	}

	if !oneOf(c.Storage.CaseBackend, "memory", "qdrant") {
		return fmt.Errorf("unknown case backend: %s", c.Storage.CaseBackend)
	}
	if !oneOf(c.Storage.LogBackend, "memory", "redis") {
		return fmt.Errorf("unknown recommendation log backend: %s", c.Storage.LogBackend)
	}
	if c.Storage.CaseBackend == "qdrant" {
		if c.Qdrant.Host == "" || c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant address %s:%d", c.Qdrant.Host, c.Qdrant.Port)
		}
		if c.Qdrant.Collection == "" {
			return fmt.Errorf("qdrant collection cannot be empty")
		}
	}

	switch c.Effectiveness.Driver {
	case "memory":
	case "sqlite3", "sqlite", "postgres":
		if c.Effectiveness.DSN == "" {
			return fmt.Errorf("effectiveness driver %s requires a DSN", c.Effectiveness.Driver)
		}
	default:
		return fmt.Errorf("unknown effectiveness driver: %s", c.Effectiveness.Driver)
	}

	if !oneOf(strings.ToLower(c.Logging.Format), "json", "text") {
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}
	return nil
}

// Validate checks the engine tunables
func (e EngineConfig) Validate() error {
	switch {
	case e.RetrievalK <= 0:
		return fmt.Errorf("retrieval_k must be positive")
	case e.MinNeighbors < 0:
		return fmt.Errorf("min_neighbors cannot be negative")
	case e.HistoricalWeight < 0 || e.SimulationWeight < 0:
		return fmt.Errorf("fusion weights cannot be negative")
	case e.HistoricalWeight+e.SimulationWeight == 0:
		return fmt.Errorf("fusion weights cannot both be zero")
	case e.MinWeightedAttempts < 1:
		return fmt.Errorf("min_weighted_attempts must be at least 1")
	case e.EMAAlpha <= 0 || e.EMAAlpha > 1:
		return fmt.Errorf("ema_alpha must be in (0,1]")
	case e.GoldenBoost < 1:
		return fmt.Errorf("golden_boost must be at least 1")
	case e.GoldenCap <= 0 || e.GoldenCap >= 1:
		return fmt.Errorf("golden_cap must be in (0,1)")
	case e.EmbeddingTimeout <= 0:
		return fmt.Errorf("embedding_timeout must be positive")
	case e.WriteRetryAttempts < 1:
		return fmt.Errorf("write_retry_attempts must be at least 1")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
