// Package cache memoizes solve results by the structural fingerprint of
// the patients and parameters that produced them.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

// MemoryCache is an in-process LRU with per entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, *domain.SolveResult]
}

// NewMemoryCache creates a memory cache holding up to maxItems results for ttl.
func NewMemoryCache(maxItems int, ttl time.Duration) (*MemoryCache, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("memory cache size must be positive, got %d", maxItems)
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, *domain.SolveResult](maxItems, nil, ttl),
	}, nil
}

// Get implements domain.ResultCache
func (c *MemoryCache) Get(_ context.Context, key string) (*domain.SolveResult, bool, error) {
	result, ok := c.lru.Get(key)
	return result, ok, nil
}

// Set implements domain.ResultCache
func (c *MemoryCache) Set(_ context.Context, key string, result *domain.SolveResult) error {
	c.lru.Add(key, result)
	return nil
}

// Len returns the number of cached results.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Close implements domain.ResultCache
func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
