package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Engine call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport_error"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	engineCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_engine_calls_total",
			Help: "Calls to the rule engine by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
	engineDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rule_engine_call_duration_seconds",
			Help:    "Rule engine call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	staleResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_engine_stale_responses_total",
			Help: "Engine responses discarded because a later request was already applied",
		},
		[]string{"op"},
	)

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Number of rule-set sessions currently held in memory",
	})
	SSEClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_clients",
		Help: "Number of currently connected SSE clients",
	})
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpReqs, httpDur, engineCalls, engineDur, staleResponses, ActiveSessions, SSEClients)
	})
}

// ObserveEngineCall records one rule engine round trip.
func ObserveEngineCall(op, outcome string, d time.Duration) {
	engineCalls.WithLabelValues(op, outcome).Inc()
	engineDur.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveStaleResponse counts an engine response dropped by request sequencing.
func ObserveStaleResponse(op string) {
	staleResponses.WithLabelValues(op).Inc()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// route pattern is only complete after routing has run
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
