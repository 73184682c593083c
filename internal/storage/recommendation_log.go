package storage

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"rail-conflict-advisor/internal/config"
	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/types"
)

type logEntry struct {
	result  *types.RecommendationResult
	savedAt time.Time
}

// MemoryRecommendationLog keeps the most recent results up to capacity.
// Entries older than ttl are treated as missing.
type MemoryRecommendationLog struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	entries  map[string]*list.Element
	now      func() time.Time
}

// NewMemoryRecommendationLog creates a bounded log; ttl 0 disables expiry
func NewMemoryRecommendationLog(capacity int, ttl time.Duration) *MemoryRecommendationLog {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryRecommendationLog{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (m *MemoryRecommendationLog) Save(_ context.Context, result *types.RecommendationResult) error {
	if result == nil || result.ID == "" {
		return adverrors.NewValidationError("id", "is required", nil)
	}
	stored := cloneResult(result)

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[result.ID]; ok {
		m.order.Remove(elem)
	}
	m.entries[result.ID] = m.order.PushFront(&logEntry{result: stored, savedAt: m.now()})

	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*logEntry).result.ID)
	}
	return nil
}

func (m *MemoryRecommendationLog) Get(_ context.Context, id string) (*types.RecommendationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[id]
	if !ok {
		return nil, adverrors.NewNotFoundError("recommendation", id)
	}
	entry := elem.Value.(*logEntry)
	if m.ttl > 0 && m.now().Sub(entry.savedAt) > m.ttl {
		m.order.Remove(elem)
		delete(m.entries, id)
		return nil, adverrors.NewNotFoundError("recommendation", id)
	}
	return cloneResult(entry.result), nil
}

// Len returns the number of retained results
func (m *MemoryRecommendationLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryRecommendationLog) Close() error { return nil }

func cloneResult(r *types.RecommendationResult) *types.RecommendationResult {
	out := *r
	out.Embedding = append([]float64(nil), r.Embedding...)
	out.Recommendations = make([]types.Recommendation, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		out.Recommendations[i] = rec
		if rec.SimilarityEvidence != nil {
			out.Recommendations[i].SimilarityEvidence = append(make([]types.Evidence, 0, len(rec.SimilarityEvidence)), rec.SimilarityEvidence...)
		}
		if rec.HistoricalRate != nil {
			rate := *rec.HistoricalRate
			out.Recommendations[i].HistoricalRate = &rate
		}
	}
	return &out
}

// RedisRecommendationLog stores results as JSON values with a TTL
type RedisRecommendationLog struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger logging.Logger
}

// NewRedisRecommendationLog uses client; keys live under prefix+"rec:"
func NewRedisRecommendationLog(client redis.UniversalClient, prefix string, ttl time.Duration, logger logging.Logger) *RedisRecommendationLog {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &RedisRecommendationLog{
		client: client,
		prefix: prefix + "rec:",
		ttl:    ttl,
		logger: logger.WithComponent("recommendation_log"),
	}
}

func (r *RedisRecommendationLog) Save(ctx context.Context, result *types.RecommendationResult) error {
	if result == nil || result.ID == "" {
		return adverrors.NewValidationError("id", "is required", nil)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode recommendation %s: %w", result.ID, err)
	}
	if err := r.client.Set(ctx, r.prefix+result.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save recommendation %s: %w", result.ID, err)
	}
	return nil
}

func (r *RedisRecommendationLog) Get(ctx context.Context, id string) (*types.RecommendationResult, error) {
	data, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, adverrors.NewNotFoundError("recommendation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recommendation %s: %w", id, err)
	}

	var result types.RecommendationResult
	if err := json.Unmarshal(data, &result); err != nil {
		r.logger.Warn("Corrupt recommendation entry", "id", id, "error", err)
		return nil, fmt.Errorf("corrupt recommendation %s: %w", id, err)
	}
	return &result, nil
}

// Close is a no-op; the client is owned by whoever created it
func (r *RedisRecommendationLog) Close() error { return nil }

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
