package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hookbot/hookbot/internal/telemetry"
)

// Cache stores resolved term to URL pairs. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, term string) (string, bool, error)
	Set(ctx context.Context, term, url string, ttl time.Duration) error
}

type memoryItem struct {
	url   string
	expAt time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, term string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[term]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(it.expAt) {
		delete(c.items, term)
		return "", false, nil
	}
	return it.url, true, nil
}

func (c *MemoryCache) Set(_ context.Context, term, url string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[term] = memoryItem{url: url, expAt: c.now().Add(ttl)}
	return nil
}

const redisKeyPrefix = "hookbot:media:"

// RedisCache shares resolved URLs across replicas.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// OpenRedisCache parses a redis:// URL and pings the server.
func OpenRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, term string) (string, bool, error) {
	v, err := c.client.Get(ctx, redisKeyPrefix+term).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, term, url string, ttl time.Duration) error {
	return c.client.Set(ctx, redisKeyPrefix+term, url, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Cached wraps a Resolver with a Cache. Cache failures fall through to a
// live lookup; only successful lookups are stored.
type Cached struct {
	next   Resolver
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Resolver, cache Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) Resolve(ctx context.Context, term string) (string, error) {
	if url, ok, err := c.cache.Get(ctx, term); err != nil {
		c.logger.Warn("media cache get failed", "term", term, "err", err)
	} else if ok {
		telemetry.IncMediaLookup("cache_hit")
		return url, nil
	}

	url, err := c.next.Resolve(ctx, term)
	switch {
	case errors.Is(err, ErrNotFound):
		telemetry.IncMediaLookup("not_found")
		return "", err
	case err != nil:
		telemetry.IncMediaLookup("error")
		return "", err
	}
	telemetry.IncMediaLookup("found")

	if err := c.cache.Set(ctx, term, url, c.ttl); err != nil {
		c.logger.Warn("media cache set failed", "term", term, "err", err)
	}
	return url, nil
}
