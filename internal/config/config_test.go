package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

const testConfigYAML = `
server:
  environment: production
store:
  driver: sqlite
  path: /var/lib/kidney-exchange/runs.db
cache:
  backend: redis
  redis_url: redis://cache:6379/1
  default_ttl: 1h
logging:
  level: debug
matching:
  use_high_resolution: false
  hla_crossmatch_level: BROAD_AND_HIGHER
  max_cycle_length: 3
  solver_constructor_name: ILPSolver
  solver_deadline: 30s
  manual_donor_recipient_scores:
    - donor_id: 1
      recipient_id: 2
      score: 12.5
  forbidden_country_combinations:
    - donor_country: CZE
      recipient_country: AUT
  required_recipient_ids: [4, 7]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewManager_Defaults(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 5432, m.GetDatabaseConfig().Port)
	assert.Equal(t, "kidney-exchange-mcp-server", cfg.MCP.ServerName)
	assert.Equal(t, "stdio", cfg.MCP.Transport)
	assert.Equal(t, domain.DefaultConfigParameters(), *m.GetMatchingConfig())
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.IsProduction())
	assert.NoError(t, m.Validate())
	assert.Equal(t, "postgres://postgres:@localhost:5432/kidney_exchange?sslmode=disable", m.GetDatabaseConnectionString())
}

func TestNewManagerFromFile(t *testing.T) {
	m, err := NewManagerFromFile(writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.True(t, m.IsProduction())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "redis://cache:6379/1", m.GetRedisConnectionString())
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)

	params := m.GetMatchingConfig()
	assert.False(t, params.UseHighResolution)
	assert.Equal(t, hla.CrossmatchBroadAndHigher, params.HLACrossmatchLevel)
	assert.Equal(t, 3, params.MaxCycleLength)
	assert.Equal(t, 4, params.MaxSequenceLength, "unset keys keep defaults")
	assert.Equal(t, domain.ILPSolver, params.SolverConstructorName)
	assert.Equal(t, 30*time.Second, params.SolverDeadline)
	assert.Equal(t, []domain.ManualScore{{DonorID: 1, RecipientID: 2, Score: 12.5}}, params.ManualDonorRecipientScores)
	assert.Equal(t, []domain.CountryCombination{{DonorCountry: "CZE", RecipientCountry: "AUT"}}, params.ForbiddenCountryCombinations)
	assert.Equal(t, []int64{4, 7}, params.RequiredRecipientIDs)
}

func TestNewManager_EnvironmentOverrides(t *testing.T) {
	t.Setenv("KIDNEY_EXCHANGE_MATCHING_MAX_CYCLE_LENGTH", "2")
	t.Setenv("KIDNEY_EXCHANGE_LOGGING_LEVEL", "warn")

	m, err := NewManagerFromFile(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 2, m.GetMatchingConfig().MaxCycleLength)
	assert.Equal(t, "warn", m.GetConfig().Logging.Level)
}

func TestNewManagerFromFile_Missing(t *testing.T) {
	_, err := NewManagerFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestManager_Reload(t *testing.T) {
	path := writeConfig(t, "matching:\n  max_cycle_length: 3\n")
	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, m.GetMatchingConfig().MaxCycleLength)

	require.NoError(t, os.WriteFile(path, []byte("matching:\n  max_cycle_length: 5\n"), 0644))
	require.NoError(t, m.Reload())
	assert.Equal(t, 5, m.GetMatchingConfig().MaxCycleLength)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown store driver", "store:\n  driver: mongo\n", "unknown store driver"},
		{"unknown cache backend", "cache:\n  backend: memcached\n", "unknown cache backend"},
		{"invalid log level", "logging:\n  level: loud\n", "invalid log level"},
		{"negative rate limit", "mcp:\n  rate_limit: -1\n", "invalid rate limit"},
		{"unknown transport", "mcp:\n  transport: carrier-pigeon\n", "unknown MCP transport"},
		{"invalid matching parameters", "matching:\n  max_sequence_length: 0\n", "max_sequence_length"},
		{"unknown solver", "matching:\n  solver_constructor_name: Greedy\n", "solver_constructor_name"},
		{"missing database name", "database:\n  database: \"\"\n", "database name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagerFromFile(writeConfig(t, tt.yaml))
			require.NoError(t, err)

			err = m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManager_ImplementsConfigManager(t *testing.T) {
	var _ domain.ConfigManager = (*Manager)(nil)
}
