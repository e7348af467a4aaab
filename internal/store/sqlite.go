package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite run store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS matching_runs (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		config_fingerprint TEXT NOT NULL,
		solver TEXT NOT NULL,
		matchings TEXT NOT NULL,
		parsing_issues TEXT NOT NULL DEFAULT 'null',
		graph_edges INTEGER NOT NULL DEFAULT 0,
		best_score REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(fingerprint, config_fingerprint)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON matching_runs(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON matching_runs(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

const selectRun = `
	SELECT id, fingerprint, config_fingerprint, solver,
		matchings, parsing_issues, graph_edges, best_score,
		created_at, updated_at
	FROM matching_runs`

// Save stores or replaces the run for its fingerprints.
func (s *SQLiteStore) Save(ctx context.Context, run *Run) error {
	matchings, issues, err := encodeRun(run)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	var existingID string
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM matching_runs WHERE fingerprint = ? AND config_fingerprint = ?",
		run.Fingerprint, run.ConfigFingerprint,
	).Scan(&existingID, &createdAt)

	if err == nil {
		run.ID = existingID
		run.CreatedAt = createdAt
		run.UpdatedAt = now

		_, err = s.db.ExecContext(ctx, `
			UPDATE matching_runs SET
				solver = ?,
				matchings = ?,
				parsing_issues = ?,
				graph_edges = ?,
				best_score = ?,
				updated_at = ?
			WHERE id = ?
		`,
			string(run.Solver), matchings, issues, run.GraphEdges, run.BestScore, now, existingID,
		)
		return err
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matching_runs (
			id, fingerprint, config_fingerprint, solver,
			matchings, parsing_issues, graph_edges, best_score,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Fingerprint, run.ConfigFingerprint, string(run.Solver),
		matchings, issues, run.GraphEdges, run.BestScore,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Get retrieves the run for the fingerprints.
func (s *SQLiteStore) Get(ctx context.Context, fingerprint, configFingerprint string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		selectRun+" WHERE fingerprint = ? AND config_fingerprint = ? LIMIT 1",
		fingerprint, configFingerprint)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return run, nil
}

// List returns runs with pagination, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRun+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// Count returns the total number of runs.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM matching_runs").Scan(&count)
	return count, err
}

// Delete removes a run by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM matching_runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ExportJSON exports all runs to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportRuns(ctx, s, writer)
}

// ImportJSON imports runs from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importRuns(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
