package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Database DatabaseConfig   `mapstructure:"database"`
	Cache    CacheConfig      `mapstructure:"cache"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	MCP      MCPConfig        `mapstructure:"mcp"`
	Matching ConfigParameters `mapstructure:"matching"`
	Store    StoreConfig      `mapstructure:"store"`
}

// ServerConfig represents general server configuration
type ServerConfig struct {
	Environment   string `mapstructure:"environment"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents result cache configuration
type CacheConfig struct {
	Backend     string        `mapstructure:"backend"` // "memory", "redis"
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"` // tool calls per second
	RateBurst      int           `mapstructure:"rate_burst"`
	EnableCaching  bool          `mapstructure:"enable_caching"`
	Transport      string        `mapstructure:"transport"` // "stdio", "http"
	HTTPAddr       string        `mapstructure:"http_addr"`
}

// StoreConfig selects where solved runs are kept
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite", "postgres"
	Path   string `mapstructure:"path"`
	URL    string `mapstructure:"url"`
}
