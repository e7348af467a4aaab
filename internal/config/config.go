package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// NewManager creates a new configuration manager that looks for
// config.yaml in the working directory, ./config and /etc/kidney-exchange/.
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile creates a configuration manager reading configFile.
// An empty path searches the default locations.
func NewManagerFromFile(configFile string) (*Manager, error) {
	m := &Manager{configFile: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()
	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/kidney-exchange/")
	}

	// KIDNEY_EXCHANGE_MATCHING_MAX_CYCLE_LENGTH overrides matching.max_cycle_length
	v.SetEnvPrefix("KIDNEY_EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.metrics_addr", ":9090")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "kidney_exchange")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	// MCP defaults
	v.SetDefault("mcp.server_name", "kidney-exchange-mcp-server")
	v.SetDefault("mcp.server_version", "v0.1.0")
	v.SetDefault("mcp.request_timeout", "60s")
	v.SetDefault("mcp.rate_limit", 5.0)
	v.SetDefault("mcp.rate_burst", 10)
	v.SetDefault("mcp.enable_caching", true)
	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.http_addr", ":8080")

	// Store defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.path", "runs.db")
	v.SetDefault("store.url", "")

	// Matching defaults
	params := domain.DefaultConfigParameters()
	v.SetDefault("matching.use_high_resolution", params.UseHighResolution)
	v.SetDefault("matching.hla_crossmatch_level", string(params.HLACrossmatchLevel))
	v.SetDefault("matching.max_cycle_length", params.MaxCycleLength)
	v.SetDefault("matching.max_sequence_length", params.MaxSequenceLength)
	v.SetDefault("matching.max_number_of_distinct_countries_in_round", params.MaxNumberOfDistinctCountriesInRound)
	v.SetDefault("matching.max_number_of_matchings", params.MaxNumberOfMatchings)
	v.SetDefault("matching.max_matchings_to_enumerate", params.MaxMatchingsToEnumerate)
	v.SetDefault("matching.solver_deadline", "0s")
	v.SetDefault("matching.solver_constructor_name", string(params.SolverConstructorName))
	v.SetDefault("matching.objective", string(params.Objective))
	v.SetDefault("matching.blood_group_compatibility_bonus", params.BloodGroupCompatibilityBonus)
	v.SetDefault("matching.max_number_of_dynamic_constraints", params.MaxNumberOfDynamicConstraints)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetMatchingConfig returns the default matching parameters
func (m *Manager) GetMatchingConfig() *domain.ConfigParameters {
	return &m.config.Matching
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	switch config.Store.Driver {
	case "sqlite":
		if config.Store.Path == "" {
			return fmt.Errorf("store path is required for the sqlite driver")
		}
	case "postgres":
		if config.Store.URL == "" {
			if config.Database.Host == "" {
				return fmt.Errorf("database host is required")
			}
			if config.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
			if config.Database.Username == "" {
				return fmt.Errorf("database username is required")
			}
			if config.Database.Port <= 0 || config.Database.Port > 65535 {
				return fmt.Errorf("invalid database port: %d", config.Database.Port)
			}
		}
	default:
		return fmt.Errorf("unknown store driver: %s", config.Store.Driver)
	}

	switch config.Cache.Backend {
	case "memory":
		if config.Cache.MaxItems <= 0 {
			return fmt.Errorf("cache max items must be positive")
		}
	case "redis":
		if config.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", config.Cache.Backend)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if config.MCP.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %v", config.MCP.RateLimit)
	}
	if config.MCP.Transport != "stdio" && config.MCP.Transport != "http" {
		return fmt.Errorf("unknown MCP transport: %s", config.MCP.Transport)
	}

	if err := config.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	if m.config.Store.URL != "" {
		return m.config.Store.URL
	}
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Server.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Server.Environment)
	return env == "development" || env == "dev" || env == ""
}
