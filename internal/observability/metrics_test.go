package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePipelineCountsOutcomesAndUnits(t *testing.T) {
	m := NewMetrics()
	m.ObservePipeline("done", 3, time.Second)
	m.ObservePipeline("error", 1, time.Second)
	m.ObservePipeline("done", 2, time.Second)

	if got := testutil.ToFloat64(m.pipelineOutcomes.WithLabelValues("done")); got != 2 {
		t.Fatalf("unexpected done count: %v", got)
	}
	if got := testutil.ToFloat64(m.translatedUnits); got != 6 {
		t.Fatalf("unexpected unit count: %v", got)
	}
}

func TestObserveAdmission(t *testing.T) {
	m := NewMetrics()
	m.ObserveAdmission("admitted")
	m.ObserveAdmission("rate_limited")
	m.ObserveAdmission("rate_limited")

	if got := testutil.ToFloat64(m.admissionDecisions.WithLabelValues("rate_limited")); got != 2 {
		t.Fatalf("unexpected rejection count: %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("/x", "GET", 200, time.Millisecond)
	m.ObserveUpstream("chat_completions_stream", 200, time.Millisecond)
	m.ObserveAdmission("admitted")
	m.ObservePipeline("done", 1, time.Millisecond)
}

func TestHandlerExposesInFlightGauge(t *testing.T) {
	m := NewMetrics()
	m.RegisterInFlight(func() int { return 4 })
	m.ObserveUpstream("chat_completions_stream", 200, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "livetranslate_upstream_inflight 4") {
		t.Fatalf("missing in-flight gauge:\n%s", body)
	}
	if !strings.Contains(string(body), `livetranslate_upstream_requests_total{endpoint="chat_completions_stream",status="200"} 1`) {
		t.Fatalf("missing upstream counter:\n%s", body)
	}
}
