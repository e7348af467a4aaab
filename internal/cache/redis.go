package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

const keyPrefix = "kidney-exchange:result:"

// RedisCache shares solve results between server instances.
type RedisCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// cachedResult represents a cached solve result with metadata
type cachedResult struct {
	Data      *domain.SolveResult `json:"data"`
	CachedAt  time.Time           `json:"cached_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// NewRedisCache creates a new cache client and checks the connection.
func NewRedisCache(config domain.CacheConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheWithClient(client, config.DefaultTTL), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, defaultTTL: ttl}
}

// Get implements domain.ResultCache
func (c *RedisCache) Get(ctx context.Context, key string) (*domain.SolveResult, bool, error) {
	val, err := c.redis.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached result: %w", err)
	}

	var cached cachedResult
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	if !cached.ExpiresAt.IsZero() && time.Now().After(cached.ExpiresAt) {
		return nil, false, nil
	}
	return cached.Data, true, nil
}

// Set implements domain.ResultCache
func (c *RedisCache) Set(ctx context.Context, key string, result *domain.SolveResult) error {
	now := time.Now()
	cached := cachedResult{Data: result, CachedAt: now}
	if c.defaultTTL > 0 {
		cached.ExpiresAt = now.Add(c.defaultTTL)
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.redis.Set(ctx, keyPrefix+key, data, c.defaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// Close implements domain.ResultCache
func (c *RedisCache) Close() error {
	return c.redis.Close()
}
