package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Cache stores embeddings by key. Misses and backend errors look the same
// to callers; a cache must never make embedding fail.
type Cache interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Set(ctx context.Context, key string, vec []float64)
}

// CacheKey derives the cache key for text embedded by model
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return fmt.Sprintf("%x", sum)
}

// LRUCache provides in-process LRU caching with TTL
type LRUCache struct {
	mu        sync.Mutex
	entries   map[string]*list.Element
	order     *list.List
	maxSize   int
	ttl       time.Duration
	hits      int64
	misses    int64
	evictions int64
	now       func() time.Time
}

type lruEntry struct {
	key       string
	value     []float64
	createdAt time.Time
}

// NewLRUCache creates a new LRU cache with TTL
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LRUCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the cached vector
func (c *LRUCache) Get(_ context.Context, key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*lruEntry)
	if c.now().Sub(entry.createdAt) > c.ttl {
		c.remove(elem)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return append([]float64(nil), entry.value...), true
}

// Set stores a copy of vec, evicting the least recently used entries
func (c *LRUCache) Set(_ context.Context, key string, vec []float64) {
	if len(vec) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	value := append([]float64(nil), vec...)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.createdAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&lruEntry{key: key, value: value, createdAt: c.now()})
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
		c.evictions++
	}
}

func (c *LRUCache) remove(elem *list.Element) {
	delete(c.entries, elem.Value.(*lruEntry).key)
	c.order.Remove(elem)
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:      c.order.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// CachedEmbedder consults a cache before calling the wrapped embedder
type CachedEmbedder struct {
	next  Embedder
	cache Cache
}

// NewCachedEmbedder wraps next with cache
func NewCachedEmbedder(next Embedder, cache Cache) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache}
}

func (c *CachedEmbedder) Dimensions() int { return c.next.Dimensions() }

func (c *CachedEmbedder) Model() string { return c.next.Model() }

// Embed returns a cached vector when present and of the right size
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := CacheKey(c.next.Model(), text)
	if vec, ok := c.cache.Get(ctx, key); ok && len(vec) == c.next.Dimensions() {
		return vec, nil
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, key, vec)
	return vec, nil
}
