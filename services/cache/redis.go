package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
)

// RedisCache stores responses in Redis with a per-entry TTL
type RedisCache struct {
	client *redis.Client
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Connect parses url, creates a client and verifies the connection
func Connect(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCache(client), nil
}

// Get returns the cached response for key. A miss is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, key string) (*routing.Response, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	resp, err := decode(data)
	if err != nil {
		c.misses.Add(1)
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	c.hits.Add(1)
	return resp, true, nil
}

// Set stores resp under key for ttl
func (c *RedisCache) Set(ctx context.Context, key string, resp *routing.Response, ttl time.Duration) error {
	data, err := encode(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Stats returns hit and miss counters for this process
func (c *RedisCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return Stats{Hits: hits, Misses: misses, HitRate: hitRate(hits, misses)}
}

// Close closes the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
