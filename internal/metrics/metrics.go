// Package metrics holds the prometheus instruments of the matching engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application
type Registry struct {
	// Solver metrics
	SolvesTotal   *prometheus.CounterVec
	SolveDuration *prometheus.HistogramVec
	GraphEdges    prometheus.Gauge

	// Data quality metrics
	ParsingIssuesTotal *prometheus.CounterVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initSolverMetrics()
	r.initDataQualityMetrics()
	r.initCacheMetrics()
	return r
}

func (r *Registry) initSolverMetrics() {
	r.SolvesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidney_exchange_solves_total",
			Help: "Total number of solve requests",
		},
		[]string{"solver", "status"}, // success, error, empty
	)

	r.SolveDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidney_exchange_solve_duration_seconds",
			Help:    "Duration of solver runs in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"solver"},
	)

	r.GraphEdges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "kidney_exchange_graph_edges",
			Help: "Number of transplant edges in the last compatibility graph",
		},
	)
}

func (r *Registry) initDataQualityMetrics() {
	r.ParsingIssuesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidney_exchange_parsing_issues_total",
			Help: "Total number of HLA parsing issues by detail",
		},
		[]string{"detail"},
	)
}

func (r *Registry) initCacheMetrics() {
	r.CacheRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidney_exchange_cache_requests_total",
			Help: "Total number of result cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)
}

// RecordSolve records a solver run with its duration
func (r *Registry) RecordSolve(solver, status string, duration time.Duration) {
	r.SolvesTotal.WithLabelValues(solver, status).Inc()
	r.SolveDuration.WithLabelValues(solver).Observe(duration.Seconds())
}

// RecordGraph records the size of a built compatibility graph
func (r *Registry) RecordGraph(edges int) {
	r.GraphEdges.Set(float64(edges))
}

// RecordParsingIssue counts one parsing issue
func (r *Registry) RecordParsingIssue(detail string) {
	r.ParsingIssuesTotal.WithLabelValues(detail).Inc()
}

// RecordCacheLookup counts a cache hit, miss or error
func (r *Registry) RecordCacheLookup(result string) {
	r.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
