package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/kidney-exchange-mcp-server/pkg/mip"
)

// ErrSolverUnavailable is returned while the solver circuit breaker is open.
var ErrSolverUnavailable = errors.New("solver unavailable (circuit breaker open)")

// BreakerConfig represents circuit breaker configuration
type BreakerConfig struct {
	MaxRequests uint32        `json:"max_requests"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultBreakerConfig trips after repeated backend failures and retries a minute later.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// BreakerBackend wraps a MIP backend with a circuit breaker. Infeasible
// models and cancelled contexts are normal outcomes and do not count as
// failures; node limits and internal errors do.
type BreakerBackend struct {
	backend mip.Backend
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerBackend creates a new circuit breaker around backend
func NewBreakerBackend(backend mip.Backend, cfg BreakerConfig, logger *logrus.Logger) *BreakerBackend {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mip-backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, mip.ErrInfeasible) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})
	return &BreakerBackend{backend: backend, breaker: breaker}
}

// Solve implements mip.Backend
func (b *BreakerBackend) Solve(ctx context.Context, m *mip.Model) (*mip.Solution, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.backend.Solve(ctx, m)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
		}
		return nil, err
	}
	return result.(*mip.Solution), nil
}

// State returns the breaker state for health reporting.
func (b *BreakerBackend) State() gobreaker.State {
	return b.breaker.State()
}
