package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"rail-conflict-advisor/internal/logging"
)

// RedisCache shares embeddings across advisor instances
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger logging.Logger
}

// NewRedisCache creates a cache storing JSON vectors under prefix
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration, logger logging.Logger) *RedisCache {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &RedisCache{
		client: client,
		prefix: prefix + "emb:",
		ttl:    ttl,
		logger: logger.WithComponent("embedding_cache"),
	}
}

// Get treats redis errors as misses
func (r *RedisCache) Get(ctx context.Context, key string) ([]float64, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.WarnContext(ctx, "embedding cache read failed", "error", err)
		}
		return nil, false
	}

	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		r.logger.WarnContext(ctx, "corrupt cached embedding", "key", key, "error", err)
		return nil, false
	}
	return vec, true
}

// Set stores vec with the configured TTL; failures are logged only
func (r *RedisCache) Set(ctx context.Context, key string, vec []float64) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.logger.WarnContext(ctx, "embedding cache write failed", "error", err)
	}
}
