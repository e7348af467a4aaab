package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/internal/service"
	"github.com/kidney-exchange-mcp-server/internal/store"
	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

// PatientSource loads stored transplant rounds for solve_txm_event.
type PatientSource interface {
	domain.PatientRepository
}

// Tools exposes the matching service as MCP tools. Every call goes
// through one shared rate limiter.
type Tools struct {
	logger    *logrus.Logger
	matching  *service.MatchingService
	patients  PatientSource
	defaults  domain.ConfigParameters
	limiter   *rate.Limiter
	timeout   time.Duration
	exportDir string
}

// ToolsOption configures optional tools.
type ToolsOption func(*Tools)

// WithPatientSource enables solve_txm_event.
func WithPatientSource(patients PatientSource) ToolsOption {
	return func(t *Tools) { t.patients = patients }
}

// WithExportDir enables export_runs, writing files into dir.
func WithExportDir(dir string) ToolsOption {
	return func(t *Tools) { t.exportDir = dir }
}

// WithRequestTimeout bounds every tool call.
func WithRequestTimeout(d time.Duration) ToolsOption {
	return func(t *Tools) { t.timeout = d }
}

// NewTools creates the tool set. A zero or negative callsPerSecond
// disables rate limiting.
func NewTools(logger *logrus.Logger, matching *service.MatchingService, defaults domain.ConfigParameters, callsPerSecond float64, burst int, opts ...ToolsOption) *Tools {
	limit := rate.Limit(callsPerSecond)
	if callsPerSecond <= 0 {
		limit = rate.Inf
	}
	t := &Tools{
		logger:   logger,
		matching: matching,
		defaults: defaults,
		limiter:  rate.NewLimiter(limit, max(burst, 1)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds the tools to server.
func (t *Tools) Register(server *mcp.Server) []string {
	registered := []string{"parse_hla_typing", "crossmatch", "compatibility_index", "solve_matching", "list_runs"}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "parse_hla_typing",
		Description: "Parse raw HLA codes into a typing grouped by gene, reporting data quality issues",
	}, guarded(t, "parse_hla_typing", t.handleParseTyping))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "crossmatch",
		Description: "Crossmatch a donor typing against recipient antibodies and report whether it is positive",
	}, guarded(t, "crossmatch", t.handleCrossmatch))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "compatibility_index",
		Description: "Score the HLA compatibility of a donor and recipient per gene group",
	}, guarded(t, "compatibility_index", t.handleCompatibilityIndex))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "solve_matching",
		Description: "Find the best kidney exchange matchings (cycles and chains) for a transplant round",
	}, guarded(t, "solve_matching", t.handleSolveMatching))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_runs",
		Description: "List stored matching runs, newest first",
	}, guarded(t, "list_runs", t.handleListRuns))

	if t.patients != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "solve_txm_event",
			Description: "Load a stored transplant round and solve it",
		}, guarded(t, "solve_txm_event", t.handleSolveTxmEvent))
		registered = append(registered, "solve_txm_event")
	}
	if t.exportDir != "" {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "export_runs",
			Description: "Export every stored matching run to a JSON file",
		}, guarded(t, "export_runs", t.handleExportRuns))
		registered = append(registered, "export_runs")
	}

	t.logger.WithField("tool_count", len(registered)).Info("Registered MCP tools")
	return registered
}

// guarded applies rate limiting, the request timeout and call logging.
func guarded[In, Out any](t *Tools, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		var zero Out
		if !t.limiter.Allow() {
			t.logger.WithField("tool", name).Warn("Tool call rejected by rate limiter")
			return nil, zero, domain.NewExchangeError(domain.ErrRateLimit, "too many tool calls, retry later", name, "")
		}
		if t.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.timeout)
			defer cancel()
		}

		start := time.Now()
		result, out, err := h(ctx, req, in)
		entry := t.logger.WithFields(logrus.Fields{
			"tool":     name,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Warn("Tool call failed")
		} else {
			entry.Debug("Tool call completed")
		}
		return result, out, err
	}
}

// ParseTypingParams defines parameters for the parse_hla_typing tool
type ParseTypingParams struct {
	Codes []string `json:"codes" jsonschema:"raw HLA codes such as A1, B*07:02 or DRB1*04:01"`
}

// ParseTypingResult defines the result of the parse_hla_typing tool
type ParseTypingResult struct {
	Typing        hla.Typing         `json:"typing"`
	ParsingIssues []hla.ParsingIssue `json:"parsing_issues,omitempty"`
}

func (t *Tools) handleParseTyping(_ context.Context, _ *mcp.CallToolRequest, in ParseTypingParams) (*mcp.CallToolResult, ParseTypingResult, error) {
	if len(in.Codes) == 0 {
		return nil, ParseTypingResult{}, invalidParams("codes", "at least one code is required", in.Codes)
	}
	typing, issues := t.matching.Parser().ParseTyping(in.Codes)
	return nil, ParseTypingResult{Typing: typing, ParsingIssues: issues}, nil
}

// CrossmatchParams defines parameters for the crossmatch tool
type CrossmatchParams struct {
	DonorTyping     []string          `json:"donor_typing" jsonschema:"raw HLA codes of the donor"`
	Antibodies      []hla.RawAntibody `json:"antibodies" jsonschema:"recipient antibody measurements"`
	CrossmatchLevel string            `json:"crossmatch_level,omitempty" jsonschema:"NONE, HIGH_RES, SPLIT_AND_HIGHER or BROAD_AND_HIGHER"`
}

// CrossmatchResult defines the result of the crossmatch tool
type CrossmatchResult struct {
	Positive      bool                          `json:"positive"`
	Level         hla.CrossmatchLevel           `json:"level"`
	Groups        []hla.AntibodyMatchesForGroup `json:"groups"`
	ParsingIssues []hla.ParsingIssue            `json:"parsing_issues,omitempty"`
}

func (t *Tools) handleCrossmatch(_ context.Context, _ *mcp.CallToolRequest, in CrossmatchParams) (*mcp.CallToolResult, CrossmatchResult, error) {
	level := t.defaults.HLACrossmatchLevel
	if in.CrossmatchLevel != "" {
		parsed, err := hla.ParseCrossmatchLevel(in.CrossmatchLevel)
		if err != nil {
			return nil, CrossmatchResult{}, invalidParams("crossmatch_level", err.Error(), in.CrossmatchLevel)
		}
		level = parsed
	}

	parser := t.matching.Parser()
	typing, issues := parser.ParseTyping(in.DonorTyping)
	antibodies, abIssues, err := parser.ParseAntibodies(in.Antibodies)
	if err != nil {
		return nil, CrossmatchResult{}, invalidParams("antibodies", err.Error(), nil)
	}

	return nil, CrossmatchResult{
		Positive:      hla.IsPositiveCrossmatch(typing, antibodies, level),
		Level:         level,
		Groups:        hla.Crossmatch(typing, antibodies),
		ParsingIssues: append(issues, abIssues...),
	}, nil
}

// CompatibilityIndexParams defines parameters for the compatibility_index tool
type CompatibilityIndexParams struct {
	DonorTyping       []string `json:"donor_typing"`
	RecipientTyping   []string `json:"recipient_typing"`
	UseHighResolution *bool    `json:"use_high_resolution,omitempty"`
}

// CompatibilityIndexResult defines the result of the compatibility_index tool
type CompatibilityIndexResult struct {
	CompatibilityIndex float64            `json:"compatibility_index"`
	Policy             string             `json:"policy"`
	Groups             []hla.GroupScore   `json:"groups"`
	ParsingIssues      []hla.ParsingIssue `json:"parsing_issues,omitempty"`
}

func (t *Tools) handleCompatibilityIndex(_ context.Context, _ *mcp.CallToolRequest, in CompatibilityIndexParams) (*mcp.CallToolResult, CompatibilityIndexResult, error) {
	useHighRes := t.defaults.UseHighResolution
	if in.UseHighResolution != nil {
		useHighRes = *in.UseHighResolution
	}
	policy := hla.PolicyFor(useHighRes)

	parser := t.matching.Parser()
	donor, issues := parser.ParseTyping(in.DonorTyping)
	recipient, recipientIssues := parser.ParseTyping(in.RecipientTyping)
	issues = append(issues, recipientIssues...)

	total, groups, scoreIssues := hla.CompatibilityIndexDetailed(donor, recipient, policy)
	return nil, CompatibilityIndexResult{
		CompatibilityIndex: total,
		Policy:             policy.Name,
		Groups:             groups,
		ParsingIssues:      append(issues, scoreIssues...),
	}, nil
}

// SolveMatchingParams defines parameters for the solve_matching tool
type SolveMatchingParams struct {
	Patients domain.RawPatients `json:"patients"`
	Config   map[string]any     `json:"config,omitempty" jsonschema:"matching parameters overriding the server defaults"`
}

func (t *Tools) handleSolveMatching(ctx context.Context, _ *mcp.CallToolRequest, in SolveMatchingParams) (*mcp.CallToolResult, domain.SolveResult, error) {
	cfg, err := t.parameters(in.Config)
	if err != nil {
		return nil, domain.SolveResult{}, err
	}
	result, err := t.matching.SolveMatching(ctx, &in.Patients, cfg)
	if err != nil {
		return nil, domain.SolveResult{}, err
	}
	return nil, *result, nil
}

// SolveTxmEventParams defines parameters for the solve_txm_event tool
type SolveTxmEventParams struct {
	TxmEventID int64          `json:"txm_event_id"`
	Config     map[string]any `json:"config,omitempty"`
}

func (t *Tools) handleSolveTxmEvent(ctx context.Context, _ *mcp.CallToolRequest, in SolveTxmEventParams) (*mcp.CallToolResult, domain.SolveResult, error) {
	cfg, err := t.parameters(in.Config)
	if err != nil {
		return nil, domain.SolveResult{}, err
	}
	raw, err := t.patients.LoadPatients(ctx, in.TxmEventID)
	if err != nil {
		return nil, domain.SolveResult{}, domain.WrapExchangeError(domain.ErrStorage, "loading transplant round", err, "")
	}
	result, err := t.matching.SolveMatching(ctx, raw, cfg)
	if err != nil {
		return nil, domain.SolveResult{}, err
	}
	if err := t.patients.SaveParsingIssues(ctx, in.TxmEventID, result.ParsingIssues); err != nil {
		t.logger.WithError(err).WithField("txm_event_id", in.TxmEventID).Warn("Failed to store parsing issues")
	}
	return nil, *result, nil
}

// ListRunsParams defines parameters for the list_runs tool
type ListRunsParams struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ListRunsResult defines the result of the list_runs tool
type ListRunsResult struct {
	Runs  []store.RunSummary `json:"runs"`
	Total int64        `json:"total"`
}

const defaultListLimit = 20

func (t *Tools) handleListRuns(ctx context.Context, _ *mcp.CallToolRequest, in ListRunsParams) (*mcp.CallToolResult, ListRunsResult, error) {
	runs := t.matching.Runs()
	if runs == nil {
		return nil, ListRunsResult{Runs: []store.RunSummary{}}, nil
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	stored, err := runs.List(ctx, limit, max(in.Offset, 0))
	if err != nil {
		return nil, ListRunsResult{}, domain.WrapExchangeError(domain.ErrStorage, "listing runs", err, "")
	}
	total, err := runs.Count(ctx)
	if err != nil {
		return nil, ListRunsResult{}, domain.WrapExchangeError(domain.ErrStorage, "counting runs", err, "")
	}

	out := ListRunsResult{Runs: make([]store.RunSummary, 0, len(stored)), Total: total}
	for _, r := range stored {
		out.Runs = append(out.Runs, r.Summary())
	}
	return nil, out, nil
}

// ExportRunsResult defines the result of the export_runs tool
type ExportRunsResult struct {
	Path string `json:"path"`
}

func (t *Tools) handleExportRuns(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ExportRunsResult, error) {
	runs := t.matching.Runs()
	if runs == nil {
		return nil, ExportRunsResult{}, domain.NewExchangeError(domain.ErrStorage, "runs are not persisted", "", "")
	}
	if err := os.MkdirAll(t.exportDir, 0o755); err != nil {
		return nil, ExportRunsResult{}, domain.WrapExchangeError(domain.ErrStorage, "creating export directory", err, "")
	}

	path := filepath.Join(t.exportDir, fmt.Sprintf("runs-%s.json", time.Now().UTC().Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, ExportRunsResult{}, domain.WrapExchangeError(domain.ErrStorage, "creating export file", err, "")
	}
	defer f.Close()

	if err := runs.ExportJSON(ctx, f); err != nil {
		return nil, ExportRunsResult{}, domain.WrapExchangeError(domain.ErrStorage, "exporting runs", err, "")
	}
	t.logger.WithField("path", path).Info("Exported matching runs")
	return nil, ExportRunsResult{Path: path}, nil
}

// parameters applies overrides on top of the default parameters.
func (t *Tools) parameters(overrides map[string]any) (domain.ConfigParameters, error) {
	cfg, err := t.defaults.WithOverrides(overrides)
	if err != nil {
		return cfg, invalidParams("config", err.Error(), nil)
	}
	return cfg, nil
}

func invalidParams(field, message string, value any) error {
	return domain.WrapExchangeError(domain.ErrInvalidInput, "invalid parameters",
		domain.NewValidationError(field, message, value), "")
}
