package domain

import (
	"context"
)

// Solver finds matchings in a compatibility graph. donors must be indexed
// like the graph's donors.
type Solver interface {
	Name() SolverName
	Solve(ctx context.Context, graph *CompatibilityGraph, donors []Donor, cfg ConfigParameters) (SolverOutput, error)
}

// ResultCache memoizes solve results by CacheKey.
type ResultCache interface {
	Get(ctx context.Context, key string) (*SolveResult, bool, error)
	Set(ctx context.Context, key string, result *SolveResult) error
	Close() error
}

// PatientRepository loads the patients of a transplant round.
type PatientRepository interface {
	LoadPatients(ctx context.Context, txmEventID int64) (*RawPatients, error)
	SaveParsingIssues(ctx context.Context, txmEventID int64, issues []PatientIssue) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetMatchingConfig() *ConfigParameters
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
