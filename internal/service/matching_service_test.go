package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidney-exchange-mcp-server/internal/cache"
	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/internal/metrics"
	"github.com/kidney-exchange-mcp-server/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })
	return runs
}

func TestMatchingService_SolveMatching(t *testing.T) {
	ctx := context.Background()
	memory, err := cache.NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	runs := newTestStore(t)
	registry := metrics.NewRegistry()
	svc := NewMatchingService(quietLogger(), nil, memory, runs, registry)

	result, err := svc.SolveMatching(ctx, twoPairs(), domain.DefaultConfigParameters())
	require.NoError(t, err)

	assert.Equal(t, domain.AllSolutionsSolver, result.Solver)
	assert.Equal(t, 2, result.GraphEdges)
	assert.NotEmpty(t, result.Fingerprint)
	assert.NotEmpty(t, result.ConfigFingerprint)
	assert.True(t, result.Complete)
	require.Len(t, result.Matchings, 1)
	best := result.Matchings[0]
	require.Len(t, best.Cycles, 1)
	assert.Equal(t, []int64{1, 2}, best.RecipientIDs())
	assert.Greater(t, best.Score, 0.0)

	again, err := svc.SolveMatching(ctx, twoPairs(), domain.DefaultConfigParameters())
	require.NoError(t, err)
	assert.Equal(t, result.ComputedAt, again.ComputedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CacheRequestsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CacheRequestsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.SolvesTotal.WithLabelValues(string(domain.AllSolutionsSolver), "success")))

	count, err := runs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMatchingService_ReusesStoredRun(t *testing.T) {
	ctx := context.Background()
	runs := newTestStore(t)

	first := NewMatchingService(quietLogger(), nil, nil, runs, metrics.NewRegistry())
	result, err := first.SolveMatching(ctx, twoPairs(), domain.DefaultConfigParameters())
	require.NoError(t, err)

	registry := metrics.NewRegistry()
	second := NewMatchingService(quietLogger(), nil, nil, runs, registry)
	stored, err := second.SolveMatching(ctx, twoPairs(), domain.DefaultConfigParameters())
	require.NoError(t, err)

	assert.Equal(t, result.Fingerprint, stored.Fingerprint)
	assert.Equal(t, result.BestScore(), stored.BestScore())
	assert.Equal(t, 0.0, testutil.ToFloat64(registry.SolvesTotal.WithLabelValues(string(domain.AllSolutionsSolver), "success")))
}

func TestMatchingService_SolversAgree(t *testing.T) {
	ctx := context.Background()
	svc := NewMatchingService(quietLogger(), nil, nil, nil, metrics.NewRegistry())

	raw := withNonDirectedDonor(twoPairs())

	var scores []float64
	for _, name := range allSolvers {
		cfg := testConfig(name)
		result, err := svc.SolveMatching(ctx, raw, cfg)
		require.NoError(t, err)
		require.NotEmpty(t, result.Matchings)
		assert.Equal(t, name, result.Solver)
		scores = append(scores, result.BestScore())
	}
	assert.InDelta(t, scores[0], scores[1], 1e-9)
}

// withNonDirectedDonor adds a blood group 0 donor without a recipient, so
// that the round has a cycle and two competing chains.
func withNonDirectedDonor(raw *domain.RawPatients) *domain.RawPatients {
	raw.Donors = append(raw.Donors, domain.RawDonor{
		ID: 3, MedicalID: "D3", BloodGroup: "0", Country: "CZE", HLATyping: []string{"A3", "B44", "DR7"},
	})
	return raw
}

func TestMatchingService_IncompleteResultNotRemembered(t *testing.T) {
	ctx := context.Background()
	memory, err := cache.NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	runs := newTestStore(t)
	registry := metrics.NewRegistry()
	svc := NewMatchingService(quietLogger(), nil, memory, runs, registry)

	cfg := domain.DefaultConfigParameters()
	cfg.MaxMatchingsToEnumerate = 1
	for i := 0; i < 2; i++ {
		result, err := svc.SolveMatching(ctx, withNonDirectedDonor(twoPairs()), cfg)
		require.NoError(t, err)
		assert.False(t, result.Complete)
		assert.Len(t, result.Matchings, 1)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(registry.SolvesTotal.WithLabelValues(string(domain.AllSolutionsSolver), "partial")))
	assert.Equal(t, 0.0, testutil.ToFloat64(registry.CacheRequestsTotal.WithLabelValues("hit")))
	count, err := runs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	cfg.MaxMatchingsToEnumerate = 1000
	result, err := svc.SolveMatching(ctx, withNonDirectedDonor(twoPairs()), cfg)
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Greater(t, len(result.Matchings), 1)
	count, err = runs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMatchingService_Errors(t *testing.T) {
	ctx := context.Background()
	svc := NewMatchingService(quietLogger(), nil, nil, nil, metrics.NewRegistry())

	cfg := domain.DefaultConfigParameters()
	cfg.MaxNumberOfMatchings = 0
	_, err := svc.SolveMatching(ctx, twoPairs(), cfg)
	var exchangeErr *domain.ExchangeError
	require.True(t, errors.As(err, &exchangeErr))
	assert.Equal(t, domain.ErrInvalidConfiguration, exchangeErr.Code)
	assert.NotEmpty(t, exchangeErr.RequestID)

	raw := twoPairs()
	raw.Donors[0].BloodGroup = "C"
	_, err = svc.SolveMatching(ctx, raw, domain.DefaultConfigParameters())
	require.True(t, errors.As(err, &exchangeErr))
	assert.Equal(t, domain.ErrInvalidInput, exchangeErr.Code)
	var validationErr *domain.ValidationError
	assert.True(t, errors.As(err, &validationErr))

	_, err = svc.SolveMatching(ctx, nil, domain.DefaultConfigParameters())
	require.True(t, errors.As(err, &exchangeErr))
	assert.Equal(t, domain.ErrInvalidInput, exchangeErr.Code)
}

func TestMatchingService_InactiveDonor(t *testing.T) {
	svc := NewMatchingService(quietLogger(), nil, nil, nil, metrics.NewRegistry())
	inactive := false
	raw := twoPairs()
	raw.Donors[0].Active = &inactive

	result, err := svc.SolveMatching(context.Background(), raw, domain.DefaultConfigParameters())
	require.NoError(t, err)
	require.Len(t, result.Matchings, 1)
	assert.Equal(t, 0, result.Matchings[0].NumTransplants())
}

func TestMatchingService_ParsingIssues(t *testing.T) {
	registry := metrics.NewRegistry()
	svc := NewMatchingService(quietLogger(), nil, nil, nil, registry)
	raw := twoPairs()
	raw.Recipients[0].HLATyping = append([]string{"XYZ"}, fullTyping...)

	result, err := svc.SolveMatching(context.Background(), raw, domain.DefaultConfigParameters())
	require.NoError(t, err)
	require.NotEmpty(t, result.ParsingIssues)
	assert.Equal(t, "R1", result.ParsingIssues[0].MedicalID)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.ParsingIssuesTotal.WithLabelValues("UNPARSABLE_HLA_CODE")))
}
