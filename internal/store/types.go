// Package store persists solved matching runs so that results can be
// listed, exported and reloaded without solving again.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

// Run is one persisted solve result.
type Run struct {
	ID                string                `json:"id"`
	Fingerprint       string                `json:"fingerprint"`        // Patients fingerprint
	ConfigFingerprint string                `json:"config_fingerprint"` // Parameters fingerprint
	Solver            domain.SolverName     `json:"solver"`
	Matchings         []domain.Matching     `json:"matchings"`
	ParsingIssues     []domain.PatientIssue `json:"parsing_issues,omitempty"`
	GraphEdges        int                   `json:"graph_edges"`
	BestScore         float64               `json:"best_score"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// NewRun converts a solve result into a run with a fresh ID.
func NewRun(result *domain.SolveResult) *Run {
	return &Run{
		ID:                uuid.NewString(),
		Fingerprint:       result.Fingerprint,
		ConfigFingerprint: result.ConfigFingerprint,
		Solver:            result.Solver,
		Matchings:         result.Matchings,
		ParsingIssues:     result.ParsingIssues,
		GraphEdges:        result.GraphEdges,
		BestScore:         result.BestScore(),
	}
}

// Result converts the run back into a solve result. Only complete results
// are stored.
func (r *Run) Result() *domain.SolveResult {
	return &domain.SolveResult{
		Solver:            r.Solver,
		Matchings:         r.Matchings,
		Complete:          true,
		ParsingIssues:     r.ParsingIssues,
		GraphEdges:        r.GraphEdges,
		Fingerprint:       r.Fingerprint,
		ConfigFingerprint: r.ConfigFingerprint,
		ComputedAt:        r.UpdatedAt,
	}
}

// RunSummary is a run without its matchings.
type RunSummary struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Solver      domain.SolverName `json:"solver"`
	Matchings   int               `json:"matchings"`
	BestScore   float64           `json:"best_score"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Summary drops the matchings of the run.
func (r *Run) Summary() RunSummary {
	return RunSummary{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Solver:      r.Solver,
		Matchings:   len(r.Matchings),
		BestScore:   r.BestScore,
		UpdatedAt:   r.UpdatedAt,
	}
}

// Store defines the interface for run storage operations.
type Store interface {
	// Save stores a run. A run for the same fingerprints is replaced and
	// keeps its original ID.
	Save(ctx context.Context, run *Run) error

	// Get retrieves the run for a patients and parameters fingerprint, nil if there is none.
	Get(ctx context.Context, fingerprint, configFingerprint string) (*Run, error)

	// List returns runs, newest first.
	List(ctx context.Context, limit, offset int) ([]*Run, error)

	// Count returns the total number of runs.
	Count(ctx context.Context) (int64, error)

	// Delete removes a run by ID.
	Delete(ctx context.Context, id string) error

	// ExportJSON exports all runs to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports runs from a JSON reader, skipping fingerprints
	// that are already stored.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// RunExport represents the JSON export format.
type RunExport struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Runs       []*Run    `json:"runs"`
}

// maxExportLimit is the maximum number of runs to export at once.
const maxExportLimit = 1000000

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var solver, matchings, issues string
	err := s.Scan(
		&run.ID, &run.Fingerprint, &run.ConfigFingerprint, &solver,
		&matchings, &issues, &run.GraphEdges, &run.BestScore,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Solver = domain.SolverName(solver)
	if err := json.Unmarshal([]byte(matchings), &run.Matchings); err != nil {
		return nil, fmt.Errorf("failed to decode matchings of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(issues), &run.ParsingIssues); err != nil {
		return nil, fmt.Errorf("failed to decode parsing issues of run %s: %w", run.ID, err)
	}
	return run, nil
}

func encodeRun(run *Run) (matchings, issues string, err error) {
	m, err := json.Marshal(run.Matchings)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode matchings: %w", err)
	}
	i, err := json.Marshal(run.ParsingIssues)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode parsing issues: %w", err)
	}
	return string(m), string(i), nil
}

func exportRuns(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	export := &RunExport{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Runs:       all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importRuns(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export RunExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, run := range export.Runs {
		existing, err := s.Get(ctx, run.Fingerprint, run.ConfigFingerprint)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := s.Save(ctx, run); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}
