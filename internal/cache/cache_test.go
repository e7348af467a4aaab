package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

func testResult(score float64) *domain.SolveResult {
	m := domain.NewMatching([]domain.Cycle{domain.NewCycle([]domain.Transplant{
		{DonorID: 1, RecipientID: 2, Score: score},
	})}, nil)
	m.Order = 1
	return &domain.SolveResult{
		Solver:      domain.ILPSolver,
		Matchings:   []domain.Matching{m},
		Fingerprint: "fp",
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryCache(2, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", testResult(1)))
	require.NoError(t, c.Set(ctx, "b", testResult(2)))
	require.NoError(t, c.Set(ctx, "c", testResult(3)))

	assert.Equal(t, 2, c.Len())
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok, "least recently used entry is evicted")

	got, ok, err := c.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, got.BestScore())
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryCache(10, 20*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "a", testResult(1)))
	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNewMemoryCache_InvalidSize(t *testing.T) {
	_, err := NewMemoryCache(0, time.Minute)
	assert.Error(t, err)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (*domain.SolveResult, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (failingCache) Set(context.Context, string, *domain.SolveResult) error {
	return errors.New("connection refused")
}
func (failingCache) Close() error { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTieredCache(t *testing.T) {
	ctx := context.Background()
	local, err := NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	shared, err := NewMemoryCache(10, time.Minute)
	require.NoError(t, err)

	require.NoError(t, shared.Set(ctx, "k", testResult(5)))
	c := NewTieredCache(local, shared, quietLogger())

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, got.BestScore())
	assert.Equal(t, 1, local.Len(), "shared hit fills the local tier")

	require.NoError(t, c.Set(ctx, "n", testResult(1)))
	assert.Equal(t, 2, shared.Len())
}

func TestTieredCache_SharedFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	local, err := NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	c := NewTieredCache(local, failingCache{}, quietLogger())

	_, ok, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.Set(ctx, "k", testResult(1)))
	_, ok, _ = c.Get(ctx, "k")
	assert.True(t, ok)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis tests")
	}

	c, err := NewRedisCache(domain.CacheConfig{RedisURL: url, DefaultTTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, testResult(7)))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7.0, got.BestScore())
	assert.Equal(t, domain.ILPSolver, got.Solver)
}
