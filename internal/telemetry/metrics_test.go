package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
}

func TestObserveEngineCall(t *testing.T) {
	before := promtest.ToFloat64(engineCalls.WithLabelValues("create_rule", OutcomeRejected))
	ObserveEngineCall("create_rule", OutcomeRejected, 10*time.Millisecond)

	got := promtest.ToFloat64(engineCalls.WithLabelValues("create_rule", OutcomeRejected))
	if got != before+1 {
		t.Errorf("Expected counter %v, got %v", before+1, got)
	}
}

func TestObserveStaleResponse(t *testing.T) {
	before := promtest.ToFloat64(staleResponses.WithLabelValues("combine_rules"))
	ObserveStaleResponse("combine_rules")

	if got := promtest.ToFloat64(staleResponses.WithLabelValues("combine_rules")); got != before+1 {
		t.Errorf("Expected counter %v, got %v", before+1, got)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	label := http.StatusText(http.StatusTeapot)
	before := promtest.ToFloat64(httpReqs.WithLabelValues("/v1/sessions/{id}", http.MethodGet, label))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("Expected status 418, got %d", rr.Code)
	}
	got := promtest.ToFloat64(httpReqs.WithLabelValues("/v1/sessions/{id}", http.MethodGet, label))
	if got != before+1 {
		t.Errorf("Expected route-pattern counter %v, got %v", before+1, got)
	}
}

func TestStatusWriter_Flush(t *testing.T) {
	rr := httptest.NewRecorder()
	w := &statusWriter{ResponseWriter: rr, status: http.StatusOK}
	w.Flush()
	if !rr.Flushed {
		t.Error("Expected Flush to reach the underlying writer")
	}
}
