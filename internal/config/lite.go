// Package config provides configuration management for the MCP server.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Cache settings
	CacheMaxItems int           // Maximum results in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Tool call throttling
	RateLimit float64 // Tool calls per second, 0 disables throttling
	RateBurst int

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text

	// Matching holds the parameters used when a tool call supplies none.
	Matching domain.ConfigParameters
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".kidney-exchange")

	return &LiteConfig{
		DataDir:       dataDir,
		CacheMaxItems: 1000,
		CacheTTL:      24 * time.Hour,
		RateLimit:     5,
		RateBurst:     10,
		LogLevel:      "info",
		LogFormat:     "json",
		Matching:      domain.DefaultConfigParameters(),
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	// Data directory
	if v := os.Getenv("KIDNEY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Cache settings
	if v := os.Getenv("KIDNEY_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("KIDNEY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Throttling
	if v := os.Getenv("KIDNEY_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimit = f
		}
	}

	// Logging
	if v := os.Getenv("KIDNEY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KIDNEY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	// Matching
	if v := os.Getenv("KIDNEY_SOLVER"); v != "" {
		if name, err := domain.ParseSolverName(v); err == nil {
			cfg.Matching.SolverConstructorName = name
		}
	}
	if v := os.Getenv("KIDNEY_MAX_CYCLE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Matching.MaxCycleLength = n
		}
	}
	if v := os.Getenv("KIDNEY_MAX_SEQUENCE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Matching.MaxSequenceLength = n
		}
	}

	return cfg
}

// RunsDBPath returns the path to the matching runs SQLite database.
func (c *LiteConfig) RunsDBPath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
