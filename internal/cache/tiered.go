package cache

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

// TieredCache checks a fast local cache before a shared one and fills the
// local tier on shared hits. Shared tier failures degrade to misses.
type TieredCache struct {
	local  domain.ResultCache
	shared domain.ResultCache
	logger *logrus.Logger
}

// NewTieredCache combines a local and a shared cache.
func NewTieredCache(local, shared domain.ResultCache, logger *logrus.Logger) *TieredCache {
	return &TieredCache{local: local, shared: shared, logger: logger}
}

// Get implements domain.ResultCache
func (c *TieredCache) Get(ctx context.Context, key string) (*domain.SolveResult, bool, error) {
	if result, ok, err := c.local.Get(ctx, key); err == nil && ok {
		c.logger.WithFields(logrus.Fields{"key": key, "cache_tier": "memory"}).Debug("Cache hit")
		return result, true, nil
	}

	result, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Shared cache lookup failed")
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	c.logger.WithFields(logrus.Fields{"key": key, "cache_tier": "redis"}).Debug("Cache hit")
	_ = c.local.Set(ctx, key, result)
	return result, true, nil
}

// Set implements domain.ResultCache
func (c *TieredCache) Set(ctx context.Context, key string, result *domain.SolveResult) error {
	if err := c.local.Set(ctx, key, result); err != nil {
		return err
	}
	if err := c.shared.Set(ctx, key, result); err != nil {
		c.logger.WithError(err).Warn("Failed to write shared cache")
	}
	return nil
}

// Close implements domain.ResultCache
func (c *TieredCache) Close() error {
	localErr := c.local.Close()
	if err := c.shared.Close(); err != nil {
		return err
	}
	return localErr
}
