package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidney-exchange-mcp-server/internal/cache"
	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/internal/metrics"
	"github.com/kidney-exchange-mcp-server/internal/service"
	"github.com/kidney-exchange-mcp-server/internal/store"
	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

var fullTyping = []string{"A1", "A2", "B7", "B8", "DR1", "DR4"}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func twoPairs() domain.RawPatients {
	return domain.RawPatients{
		Donors: []domain.RawDonor{
			{ID: 1, MedicalID: "D1", BloodGroup: "B", Country: "CZE", HLATyping: fullTyping, RelatedRecipientID: 1},
			{ID: 2, MedicalID: "D2", BloodGroup: "A", Country: "CZE", HLATyping: fullTyping, RelatedRecipientID: 2},
		},
		Recipients: []domain.RawRecipient{
			{ID: 1, MedicalID: "R1", BloodGroup: "A", Country: "CZE", HLATyping: fullTyping},
			{ID: 2, MedicalID: "R2", BloodGroup: "B", Country: "CZE", HLATyping: fullTyping},
		},
	}
}

func newTestTools(t *testing.T, rateLimit float64, burst int, opts ...ToolsOption) *Tools {
	t.Helper()
	memory, err := cache.NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	matching := service.NewMatchingService(quietLogger(), nil, memory, runs, metrics.NewRegistry())
	return NewTools(quietLogger(), matching, domain.DefaultConfigParameters(), rateLimit, burst, opts...)
}

func requireExchangeError(t *testing.T, err error, code string) *domain.ExchangeError {
	t.Helper()
	var exchangeErr *domain.ExchangeError
	require.True(t, errors.As(err, &exchangeErr), "expected ExchangeError, got %v", err)
	assert.Equal(t, code, exchangeErr.Code)
	return exchangeErr
}

func TestTools_ParseTyping(t *testing.T) {
	tools := newTestTools(t, 0, 0)
	ctx := context.Background()

	_, out, err := tools.handleParseTyping(ctx, nil, ParseTypingParams{Codes: fullTyping})
	require.NoError(t, err)
	assert.Equal(t, 6, out.Typing.Len())
	assert.Len(t, out.Typing.Group(hla.GroupA), 2)

	_, out, err = tools.handleParseTyping(ctx, nil, ParseTypingParams{Codes: []string{"A1", "XYZ"}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Typing.Len())
	var details []hla.ParsingIssueDetail
	for _, issue := range out.ParsingIssues {
		details = append(details, issue.Detail)
	}
	assert.Contains(t, details, hla.UnparsableHLACode)

	_, _, err = tools.handleParseTyping(ctx, nil, ParseTypingParams{})
	requireExchangeError(t, err, domain.ErrInvalidInput)
}

func TestTools_Crossmatch(t *testing.T) {
	tools := newTestTools(t, 0, 0)
	ctx := context.Background()
	params := CrossmatchParams{
		DonorTyping: fullTyping,
		Antibodies:  []hla.RawAntibody{{Raw: "A1", MFI: 5000, Cutoff: 2000}},
	}

	_, out, err := tools.handleCrossmatch(ctx, nil, params)
	require.NoError(t, err)
	assert.True(t, out.Positive)
	assert.Equal(t, hla.CrossmatchSplitAndHigher, out.Level)
	assert.NotEmpty(t, out.Groups)

	params.CrossmatchLevel = string(hla.CrossmatchNone)
	_, out, err = tools.handleCrossmatch(ctx, nil, params)
	require.NoError(t, err)
	assert.False(t, out.Positive)

	params.CrossmatchLevel = "SOMETIMES"
	_, _, err = tools.handleCrossmatch(ctx, nil, params)
	exchangeErr := requireExchangeError(t, err, domain.ErrInvalidInput)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, exchangeErr, &validationErr)
	assert.Equal(t, "crossmatch_level", validationErr.Field)
}

func TestTools_CompatibilityIndex(t *testing.T) {
	tools := newTestTools(t, 0, 0)
	ctx := context.Background()

	_, out, err := tools.handleCompatibilityIndex(ctx, nil, CompatibilityIndexParams{
		DonorTyping:     fullTyping,
		RecipientTyping: fullTyping,
	})
	require.NoError(t, err)
	assert.Equal(t, hla.HighResPolicy.Name, out.Policy)
	assert.Greater(t, out.CompatibilityIndex, 0.0)

	splitOnly := false
	_, split, err := tools.handleCompatibilityIndex(ctx, nil, CompatibilityIndexParams{
		DonorTyping:       fullTyping,
		RecipientTyping:   fullTyping,
		UseHighResolution: &splitOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, hla.SplitPolicy.Name, split.Policy)

	parser := hla.NewParser()
	typing, _ := parser.ParseTyping(fullTyping)
	assert.Equal(t, hla.CompatibilityIndex(typing, typing, hla.SplitPolicy), split.CompatibilityIndex)
}

func TestTools_SolveMatching(t *testing.T) {
	tools := newTestTools(t, 0, 0)
	ctx := context.Background()

	_, out, err := tools.handleSolveMatching(ctx, nil, SolveMatchingParams{Patients: twoPairs()})
	require.NoError(t, err)
	assert.Equal(t, domain.AllSolutionsSolver, out.Solver)
	require.Len(t, out.Matchings, 1)
	assert.Equal(t, []int64{1, 2}, out.Matchings[0].RecipientIDs())

	_, ilp, err := tools.handleSolveMatching(ctx, nil, SolveMatchingParams{
		Patients: twoPairs(),
		Config:   map[string]any{"solver_constructor_name": "ILPSolver"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ILPSolver, ilp.Solver)
	assert.Equal(t, out.BestScore(), ilp.BestScore())

	_, listed, err := tools.handleListRuns(ctx, nil, ListRunsParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), listed.Total)
	assert.Len(t, listed.Runs, 2)

	_, empty, err := tools.handleListRuns(ctx, nil, ListRunsParams{Limit: 1, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, empty.Runs)
}

func TestTools_SolveMatchingErrors(t *testing.T) {
	tools := newTestTools(t, 0, 0)
	ctx := context.Background()

	_, _, err := tools.handleSolveMatching(ctx, nil, SolveMatchingParams{
		Patients: twoPairs(),
		Config:   map[string]any{"max_cycle_length": "four"},
	})
	requireExchangeError(t, err, domain.ErrInvalidInput)

	_, _, err = tools.handleSolveMatching(ctx, nil, SolveMatchingParams{
		Patients: twoPairs(),
		Config:   map[string]any{"max_sequence_length": 0},
	})
	requireExchangeError(t, err, domain.ErrInvalidConfiguration)
}

func TestTools_RateLimit(t *testing.T) {
	tools := newTestTools(t, 0.001, 1)
	handler := guarded(tools, "parse_hla_typing", tools.handleParseTyping)
	ctx := context.Background()

	_, _, err := handler(ctx, nil, ParseTypingParams{Codes: fullTyping})
	require.NoError(t, err)

	_, _, err = handler(ctx, nil, ParseTypingParams{Codes: fullTyping})
	requireExchangeError(t, err, domain.ErrRateLimit)
}

func TestTools_RequestTimeout(t *testing.T) {
	tools := newTestTools(t, 0, 0, WithRequestTimeout(time.Millisecond))
	var deadline time.Time
	handler := guarded(tools, "ping_tool", func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct{}, error) {
		deadline, _ = ctx.Deadline()
		return nil, struct{}{}, nil
	})

	_, _, err := handler(context.Background(), nil, struct{}{})
	require.NoError(t, err)
	assert.False(t, deadline.IsZero())
}

type fakePatients struct {
	raw    *domain.RawPatients
	issues map[int64][]domain.PatientIssue
}

func (f *fakePatients) LoadPatients(_ context.Context, txmEventID int64) (*domain.RawPatients, error) {
	if txmEventID != 7 {
		return nil, domain.ErrNotFound
	}
	return f.raw, nil
}

func (f *fakePatients) SaveParsingIssues(_ context.Context, txmEventID int64, issues []domain.PatientIssue) error {
	f.issues[txmEventID] = issues
	return nil
}

func TestTools_SolveTxmEvent(t *testing.T) {
	raw := twoPairs()
	raw.Recipients[0].HLATyping = append([]string{"XYZ"}, fullTyping...)
	patients := &fakePatients{raw: &raw, issues: map[int64][]domain.PatientIssue{}}
	tools := newTestTools(t, 0, 0, WithPatientSource(patients))
	ctx := context.Background()

	_, out, err := tools.handleSolveTxmEvent(ctx, nil, SolveTxmEventParams{TxmEventID: 7})
	require.NoError(t, err)
	require.Len(t, out.Matchings, 1)
	require.NotEmpty(t, patients.issues[7])
	assert.Equal(t, "R1", patients.issues[7][0].MedicalID)

	_, _, err = tools.handleSolveTxmEvent(ctx, nil, SolveTxmEventParams{TxmEventID: 8})
	exchangeErr := requireExchangeError(t, err, domain.ErrStorage)
	assert.ErrorIs(t, exchangeErr, domain.ErrNotFound)
}

func TestTools_ExportRuns(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	tools := newTestTools(t, 0, 0, WithExportDir(dir))
	ctx := context.Background()

	_, _, err := tools.handleSolveMatching(ctx, nil, SolveMatchingParams{Patients: twoPairs()})
	require.NoError(t, err)

	_, out, err := tools.handleExportRuns(ctx, nil, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(out.Path))

	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	var export store.RunExport
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, 1, export.Count)
}
