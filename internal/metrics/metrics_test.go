package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCalculation(t *testing.T) {
	m := New()
	m.ObserveCalculation(OutcomeOK, 2*time.Millisecond)
	m.ObserveCalculation(OutcomeOK, time.Millisecond)
	m.ObserveCalculation(OutcomeInvalidAmount, time.Millisecond)
	m.IncPercentageMismatch()

	if got := testutil.ToFloat64(m.Calculations.WithLabelValues(OutcomeOK)); got != 2 {
		t.Errorf("ok calculations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Calculations.WithLabelValues(OutcomeInvalidAmount)); got != 1 {
		t.Errorf("invalid calculations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PercentageMismatch); got != 1 {
		t.Errorf("mismatch = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.CalculationDuration); got != 1 {
		t.Errorf("duration collectors = %d, want 1", got)
	}
}

func TestObservePlanLoadAndAMQP(t *testing.T) {
	m := New()
	m.ObservePlanLoad("file", OutcomeOK)
	m.ObservePlanLoad("file", OutcomeCached)
	m.ObservePlanLoad("file", OutcomeCached)
	m.ObserveAMQPMessage(OutcomeRejected)

	if got := testutil.ToFloat64(m.PlanLoads.WithLabelValues("file", OutcomeCached)); got != 2 {
		t.Errorf("cached loads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AMQPMessages.WithLabelValues(OutcomeRejected)); got != 1 {
		t.Errorf("rejected messages = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCalculation(OutcomeOK, time.Second)
	m.IncPercentageMismatch()
	m.ObservePlanLoad("file", OutcomeOK)
	m.ObserveAMQPMessage(OutcomeOK)
	m.ObserveHTTP(http.MethodGet, "/", 200, time.Second)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodPost, "/api/plans/{name}/allocations", 200, 5*time.Millisecond)
	m.ObserveCalculation(OutcomeOK, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`allocator_calculations_total{outcome="ok"} 1`,
		`allocator_http_requests_total{method="POST",route="/api/plans/{name}/allocations",status="200"} 1`,
		"allocator_calculation_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
