// Package api is the operations HTTP surface of the full server: health,
// Prometheus metrics and a small REST view of stored matching runs.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/internal/middleware"
	"github.com/kidney-exchange-mcp-server/internal/service"
	"github.com/kidney-exchange-mcp-server/internal/store"
)

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status   string `json:"status"`
	Solver   string `json:"solver"`
	Database string `json:"database,omitempty"`
}

// Healthy reports whether every component is usable.
func (h HealthStatus) Healthy() bool {
	return h.Status == "ok"
}

// Options wire the router to the server components.
type Options struct {
	Logger   *logrus.Logger
	Matching *service.MatchingService
	Defaults domain.ConfigParameters
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Health  func(ctx context.Context) HealthStatus
	// RequestTimeout bounds every request, 0 disables it.
	RequestTimeout time.Duration
	Debug          bool
}

type handlers struct {
	opts Options
	runs store.Store
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AccessLog(opts.Logger))
	router.Use(middleware.RequestTimeout(opts.RequestTimeout))

	h := &handlers{opts: opts}
	if opts.Matching != nil {
		h.runs = opts.Matching.Runs()
	}

	router.GET("/healthz", h.handleHealth)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/solve", h.handleSolve)
		v1.GET("/runs", h.handleListRuns)
		v1.GET("/runs/export", h.handleExportRuns)
		v1.DELETE("/runs/:id", h.handleDeleteRun)
	}
	return router
}

func (h *handlers) handleHealth(c *gin.Context) {
	status := HealthStatus{Status: "ok"}
	if h.opts.Health != nil {
		status = h.opts.Health(c.Request.Context())
	}
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// SolveRequest is the body of POST /api/v1/solve.
type SolveRequest struct {
	Patients domain.RawPatients `json:"patients"`
	Config   map[string]any     `json:"config,omitempty"`
}

func (h *handlers) handleSolve(c *gin.Context) {
	if h.opts.Matching == nil {
		h.fail(c, domain.NewExchangeError(domain.ErrInternalServer, "matching is not configured", "", ""))
		return
	}
	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.WrapExchangeError(domain.ErrInvalidInput, "invalid request body", err, ""))
		return
	}
	cfg, err := h.opts.Defaults.WithOverrides(req.Config)
	if err != nil {
		h.fail(c, domain.WrapExchangeError(domain.ErrInvalidInput, "invalid parameters", err, ""))
		return
	}
	result, err := h.opts.Matching.SolveMatching(c.Request.Context(), &req.Patients, cfg)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunList is the body of GET /api/v1/runs.
type RunList struct {
	Runs  []store.RunSummary `json:"runs"`
	Total int64              `json:"total"`
}

func (h *handlers) handleListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusOK, RunList{Runs: []store.RunSummary{}})
		return
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		h.fail(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	runs, err := h.runs.List(ctx, limit, offset)
	if err != nil {
		h.fail(c, domain.WrapExchangeError(domain.ErrStorage, "listing runs", err, ""))
		return
	}
	total, err := h.runs.Count(ctx)
	if err != nil {
		h.fail(c, domain.WrapExchangeError(domain.ErrStorage, "counting runs", err, ""))
		return
	}

	out := RunList{Runs: make([]store.RunSummary, 0, len(runs)), Total: total}
	for _, r := range runs {
		out.Runs = append(out.Runs, r.Summary())
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) handleExportRuns(c *gin.Context) {
	if h.runs == nil {
		h.fail(c, domain.NewExchangeError(domain.ErrStorage, "no run store configured", "", ""))
		return
	}
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="runs.json"`)
	c.Status(http.StatusOK)
	if err := h.runs.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		// headers are gone, the client sees a truncated body
		h.opts.Logger.WithError(err).Error("Run export failed")
		_ = c.Error(err)
	}
}

func (h *handlers) handleDeleteRun(c *gin.Context) {
	if h.runs == nil {
		h.fail(c, domain.NewExchangeError(domain.ErrStorage, "no run store configured", "", ""))
		return
	}
	if err := h.runs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, domain.WrapExchangeError(domain.ErrStorage, "deleting run", err, ""))
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.WrapExchangeError(domain.ErrInvalidInput, "invalid query parameter",
			domain.NewValidationError(name, "must be a non-negative integer", raw), "")
	}
	return n, nil
}

// fail writes err as a JSON error body with a matching status code.
func (h *handlers) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	var exErr *domain.ExchangeError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
		return
	case !errors.As(err, &exErr):
		exErr = domain.WrapExchangeError(domain.ErrInternalServer, "internal error", err, "")
	}
	if exErr.RequestID == "" {
		exErr.RequestID = c.GetString(middleware.CorrelationIDKey)
	}
	c.JSON(statusFor(exErr.Code), gin.H{"error": exErr})
}

func statusFor(code string) int {
	switch code {
	case domain.ErrInvalidInput, domain.ErrInvalidConfiguration, domain.ErrHLAParsing:
		return http.StatusBadRequest
	case domain.ErrRateLimit:
		return http.StatusTooManyRequests
	case domain.ErrStorage, domain.ErrCache:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
