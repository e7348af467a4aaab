package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.SolvesTotal == nil {
		t.Error("SolvesTotal not initialized")
	}
	if r.SolveDuration == nil {
		t.Error("SolveDuration not initialized")
	}
	if r.GraphEdges == nil {
		t.Error("GraphEdges not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordSolve(t *testing.T) {
	r := NewRegistry()

	r.RecordSolve("ILPSolver", "success", 100*time.Millisecond)
	r.RecordSolve("ILPSolver", "success", 200*time.Millisecond)
	r.RecordSolve("ILPSolver", "error", 5*time.Millisecond)

	counter, err := r.SolvesTotal.GetMetricWithLabelValues("ILPSolver", "success")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("Success counter = %v, want 2", metric.Counter.GetValue())
	}
}

func TestRecordGraph(t *testing.T) {
	r := NewRegistry()
	r.RecordGraph(12)

	var metric dto.Metric
	if err := r.GraphEdges.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Gauge.GetValue() != 12 {
		t.Errorf("Graph edges = %v, want 12", metric.Gauge.GetValue())
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.RecordParsingIssue("UNPARSABLE_HLA_CODE")
	r.RecordCacheLookup("hit")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `kidney_exchange_parsing_issues_total{detail="UNPARSABLE_HLA_CODE"} 1`) {
		t.Errorf("parsing issue counter missing from output:\n%s", body)
	}
	if !strings.Contains(body, `kidney_exchange_cache_requests_total{result="hit"} 1`) {
		t.Errorf("cache counter missing from output:\n%s", body)
	}
}
