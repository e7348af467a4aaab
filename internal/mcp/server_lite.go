// Package mcp serves the kidney exchange tools over the Model Context Protocol.
// LiteServer needs no external services; Server adds PostgreSQL, Redis and
// Prometheus.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/cache"
	"github.com/kidney-exchange-mcp-server/internal/config"
	"github.com/kidney-exchange-mcp-server/internal/metrics"
	"github.com/kidney-exchange-mcp-server/internal/service"
	"github.com/kidney-exchange-mcp-server/internal/store"
	"github.com/kidney-exchange-mcp-server/pkg/mip"
)

// LiteServer is a lightweight MCP server that requires no external databases.
// It uses in-memory caching and SQLite for persistence.
type LiteServer struct {
	config    *config.LiteConfig
	mcpServer *mcp.Server
	tools     *Tools
	runs      store.Store
	cache     *cache.MemoryCache
	metrics   *metrics.Registry
	logger    *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithRunStore sets a custom run store.
func WithRunStore(runs store.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.runs = runs
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *config.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config:  cfg,
		logger:  newLogger(cfg.LogLevel, cfg.LogFormat),
		metrics: metrics.NewRegistry(),
	}
	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Matching.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	memCache, err := cache.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	server.cache = memCache

	if server.runs == nil {
		runs, err := store.NewSQLiteStore(cfg.RunsDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create run store: %w", err)
		}
		server.runs = runs
	}

	backend := service.NewBreakerBackend(mip.NewBranchAndBound(), service.DefaultBreakerConfig(), server.logger)
	matching := service.NewMatchingService(server.logger, backend, server.cache, server.runs, server.metrics)
	server.tools = NewTools(server.logger, matching, cfg.Matching, cfg.RateLimit, cfg.RateBurst,
		WithExportDir(cfg.ExportDir()))

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "kidney-exchange-mcp-server-lite",
		Version: "v0.1.0",
	}, nil)
	server.tools.Register(server.mcpServer)

	server.logger.WithField("data_dir", cfg.DataDir).Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP over stdin/stdout until ctx is done or the client disconnects.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting Kidney Exchange MCP Server (Lite)...")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if err := s.cache.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close result cache")
	}
	if s.runs != nil {
		if err := s.runs.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close run store")
			return err
		}
	}
	return nil
}

// Runs returns the run store.
func (s *LiteServer) Runs() store.Store {
	return s.runs
}

// Tools returns the registered tool set.
func (s *LiteServer) Tools() *Tools {
	return s.tools
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
