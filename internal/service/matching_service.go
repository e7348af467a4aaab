package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/internal/metrics"
	"github.com/kidney-exchange-mcp-server/internal/store"
	"github.com/kidney-exchange-mcp-server/pkg/mip"
)

// MatchingService runs a transplant round end to end: parse, build the
// compatibility graph, solve, then remember the result.
type MatchingService struct {
	logger  *logrus.Logger
	parser  *InputParserService
	builder *GraphBuilder
	backend mip.Backend
	cache   domain.ResultCache
	runs    store.Store
	metrics *metrics.Registry
}

// NewMatchingService creates a new matching service. cache and runs may be
// nil; backend nil selects the branch-and-bound backend.
func NewMatchingService(
	logger *logrus.Logger,
	backend mip.Backend,
	cache domain.ResultCache,
	runs store.Store,
	registry *metrics.Registry,
) *MatchingService {
	if registry == nil {
		registry = metrics.DefaultRegistry()
	}
	return &MatchingService{
		logger:  logger,
		parser:  NewInputParserService(logger),
		builder: NewGraphBuilder(logger),
		backend: backend,
		cache:   cache,
		runs:    runs,
		metrics: registry,
	}
}

// Parser returns the input parser used for patient data.
func (s *MatchingService) Parser() *InputParserService {
	return s.parser
}

// Runs returns the run store, nil when runs are not persisted.
func (s *MatchingService) Runs() store.Store {
	return s.runs
}

// SolveMatching parses raw, builds its compatibility graph and returns the
// best matchings under cfg. Identical rounds are answered from the cache
// or the run store; results of a solver stopped early are not remembered.
// Failures are returned as *domain.ExchangeError.
func (s *MatchingService) SolveMatching(ctx context.Context, raw *domain.RawPatients, cfg domain.ConfigParameters) (*domain.SolveResult, error) {
	requestID := uuid.NewString()
	startTime := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, domain.WrapExchangeError(domain.ErrInvalidConfiguration, "invalid matching configuration", err, requestID)
	}
	patients, err := s.parser.ParsePatients(raw)
	if err != nil {
		return nil, domain.WrapExchangeError(domain.ErrInvalidInput, "invalid patient data", err, requestID)
	}
	for _, issue := range patients.ParsingIssues {
		s.metrics.RecordParsingIssue(string(issue.Detail))
	}

	donors := patients.ActiveDonors()
	fingerprint := domain.FingerprintPatients(donors, patients.Recipients)
	configFingerprint := cfg.Fingerprint()
	logger := s.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"fingerprint": fingerprint,
		"solver":      cfg.SolverConstructorName,
	})

	if result := s.lookup(ctx, logger, fingerprint, configFingerprint); result != nil {
		return result, nil
	}

	graph, err := s.builder.BuildCompatibilityGraph(ctx, donors, patients.Recipients, cfg)
	if err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			return nil, domain.WrapExchangeError(domain.ErrInvalidInput, "invalid patient data", err, requestID)
		}
		return nil, domain.WrapExchangeError(domain.ErrInternalServer, "failed to build compatibility graph", err, requestID)
	}
	s.metrics.RecordGraph(graph.NumEdges())

	solver, err := NewSolver(cfg.SolverConstructorName, s.logger, s.backend)
	if err != nil {
		return nil, domain.WrapExchangeError(domain.ErrInvalidConfiguration, "unknown solver", err, requestID)
	}
	solveStart := time.Now()
	output, err := solver.Solve(ctx, graph, donors, cfg)
	if err != nil {
		s.metrics.RecordSolve(string(solver.Name()), "error", time.Since(solveStart))
		if errors.Is(err, ErrSolverUnavailable) {
			return nil, domain.WrapExchangeError(domain.ErrSolver, "solver temporarily unavailable", err, requestID)
		}
		return nil, domain.WrapExchangeError(domain.ErrSolver, "failed to solve matching", err, requestID)
	}
	status := "success"
	switch {
	case !output.Complete:
		status = "partial"
	case len(output.Matchings) == 0:
		status = "empty"
	}
	s.metrics.RecordSolve(string(solver.Name()), status, time.Since(solveStart))

	result := &domain.SolveResult{
		Solver:            solver.Name(),
		Matchings:         output.Matchings,
		Complete:          output.Complete,
		ParsingIssues:     patients.ParsingIssues,
		GraphEdges:        graph.NumEdges(),
		Fingerprint:       fingerprint,
		ConfigFingerprint: configFingerprint,
		ComputedAt:        time.Now().UTC(),
	}
	if result.Complete {
		s.remember(ctx, logger, result)
	} else {
		logger.Warn("Solver stopped early, result is neither cached nor stored")
	}

	logger.WithFields(logrus.Fields{
		"matchings":       len(result.Matchings),
		"best_score":      result.BestScore(),
		"complete":        result.Complete,
		"processing_time": time.Since(startTime),
	}).Info("Matching solved")
	return result, nil
}

// lookup returns a previously computed result, nil on a miss. Cache and
// store failures are logged and treated as misses.
func (s *MatchingService) lookup(ctx context.Context, logger *logrus.Entry, fingerprint, configFingerprint string) *domain.SolveResult {
	key := domain.CacheKey(fingerprint, configFingerprint)
	if s.cache != nil {
		result, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Result cache lookup failed")
		case ok:
			s.metrics.RecordCacheLookup("hit")
			logger.Debug("Result cache hit")
			return result
		}
		s.metrics.RecordCacheLookup("miss")
	}

	if s.runs == nil {
		return nil
	}
	run, err := s.runs.Get(ctx, fingerprint, configFingerprint)
	if err != nil {
		logger.WithError(err).Warn("Run store lookup failed")
		return nil
	}
	if run == nil {
		return nil
	}
	logger.WithField("run_id", run.ID).Debug("Reusing stored run")
	result := run.Result()
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, result); err != nil {
			logger.WithError(err).Warn("Failed to cache stored run")
		}
	}
	return result
}

func (s *MatchingService) remember(ctx context.Context, logger *logrus.Entry, result *domain.SolveResult) {
	if s.runs != nil {
		if err := s.runs.Save(ctx, store.NewRun(result)); err != nil {
			logger.WithError(err).Warn("Failed to store matching run")
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, domain.CacheKey(result.Fingerprint, result.ConfigFingerprint), result); err != nil {
			logger.WithError(err).Warn("Failed to cache matching result")
		}
	}
}
