package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/kidney-exchange-mcp-server/internal/api"
	"github.com/kidney-exchange-mcp-server/internal/cache"
	"github.com/kidney-exchange-mcp-server/internal/database"
	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/internal/metrics"
	"github.com/kidney-exchange-mcp-server/internal/repository"
	"github.com/kidney-exchange-mcp-server/internal/service"
	"github.com/kidney-exchange-mcp-server/internal/store"
	"github.com/kidney-exchange-mcp-server/pkg/mip"
)

// Server is the full MCP server: runs in SQLite or PostgreSQL, results
// cached in memory and optionally Redis, patients loaded from PostgreSQL,
// health, metrics and the runs API on a separate HTTP listener.
type Server struct {
	config    domain.ConfigManager
	mcpServer *mcp.Server
	tools     *Tools
	backend   *service.BreakerBackend
	matching  *service.MatchingService
	db        *database.DB
	runs      store.Store
	cache     domain.ResultCache
	metrics   *metrics.Registry
	logger    *logrus.Logger
}

// NewServer creates the server and connects its storage. Pending database
// migrations are applied when the PostgreSQL store is selected.
func NewServer(ctx context.Context, configManager domain.ConfigManager) (*Server, error) {
	if err := configManager.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := configManager.GetConfig()

	s := &Server{
		config:  configManager,
		logger:  newLogger(cfg.Logging.Level, cfg.Logging.Format),
		metrics: metrics.NewRegistry(),
	}

	if err := s.connect(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}

	s.backend = service.NewBreakerBackend(mip.NewBranchAndBound(), service.DefaultBreakerConfig(), s.logger)
	s.matching = service.NewMatchingService(s.logger, s.backend, s.cache, s.runs, s.metrics)

	opts := []ToolsOption{WithRequestTimeout(cfg.MCP.RequestTimeout)}
	if s.db != nil {
		opts = append(opts, WithPatientSource(repository.NewPatientRepository(s.db.Pool, s.logger)))
	}
	s.tools = NewTools(s.logger, s.matching, cfg.Matching, cfg.MCP.RateLimit, cfg.MCP.RateBurst, opts...)

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    cfg.MCP.ServerName,
		Version: cfg.MCP.ServerVersion,
	}, nil)
	s.tools.Register(s.mcpServer)

	s.logger.WithFields(logrus.Fields{
		"store":     cfg.Store.Driver,
		"cache":     cfg.Cache.Backend,
		"transport": cfg.MCP.Transport,
	}).Info("Server initialized successfully")
	return s, nil
}

func (s *Server) connect(ctx context.Context, cfg *domain.Config) error {
	memCache, err := cache.NewMemoryCache(cfg.Cache.MaxItems, cfg.Cache.DefaultTTL)
	if err != nil {
		return fmt.Errorf("failed to create memory cache: %w", err)
	}
	s.cache = memCache
	if cfg.Cache.Backend == "redis" {
		redisCache, err := cache.NewRedisCache(cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to create Redis cache: %w", err)
		}
		s.cache = cache.NewTieredCache(memCache, redisCache, s.logger)
	}

	switch cfg.Store.Driver {
	case "sqlite":
		runs, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to create run store: %w", err)
		}
		s.runs = runs
	case "postgres":
		url := s.config.GetDatabaseConnectionString()
		if path := cfg.Database.MigrationsPath; path != "" {
			if err := database.MigrateUp(ctx, url, path, s.logger); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		runs, err := store.NewPostgresStoreFromURL(url)
		if err != nil {
			return fmt.Errorf("failed to create run store: %w", err)
		}
		s.runs = runs

		// patients always live in the configured database section
		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
	}
	return nil
}

// Start serves MCP on the configured transport and metrics on their own
// listener. It returns when ctx is done or the MCP session ends.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.GetConfig()
	s.logger.WithField("transport", cfg.MCP.Transport).Info("Starting Kidney Exchange MCP Server...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.EnableMetrics {
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           s.OpsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return s.serveHTTP(gctx, metricsServer) })
	}

	g.Go(func() error {
		defer cancel()
		if cfg.MCP.Transport == "http" {
			handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
				return s.mcpServer
			}, nil)
			return s.serveHTTP(gctx, &http.Server{
				Addr:              cfg.MCP.HTTPAddr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			})
		}
		if err := s.mcpServer.Run(gctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.WithField("addr", srv.Addr).Info("HTTP listener started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// OpsHandler serves health, metrics and the runs REST API.
func (s *Server) OpsHandler() http.Handler {
	cfg := s.config.GetConfig()
	return api.NewRouter(api.Options{
		Logger:         s.logger,
		Matching:       s.matching,
		Defaults:       cfg.Matching,
		Metrics:        s.metrics.Handler(),
		Health:         s.health,
		RequestTimeout: cfg.MCP.RequestTimeout,
		Debug:          cfg.Logging.Level == "debug",
	})
}

func (s *Server) health(ctx context.Context) api.HealthStatus {
	status := api.HealthStatus{Status: "ok", Solver: s.backend.State().String()}
	if s.backend.State() == gobreaker.StateOpen {
		status.Status = "degraded"
	}
	if s.db != nil {
		status.Database = "ok"
		if err := s.db.Health(ctx); err != nil {
			s.logger.WithError(err).Warn("Database health check failed")
			status.Status, status.Database = "degraded", "unreachable"
		}
	}
	return status
}

// Tools returns the registered tool set.
func (s *Server) Tools() *Tools {
	return s.tools
}

// Close releases the cache, store and database pool.
func (s *Server) Close() error {
	var errs []error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
	}
	if s.runs != nil {
		if err := s.runs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing run store: %w", err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	return errors.Join(errs...)
}
