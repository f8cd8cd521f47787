// Package api serves rule-set sessions over HTTP/JSON for a browser console.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/rulekit/internal/session"
	"github.com/TimurManjosov/rulekit/internal/telemetry"
)

const (
	defaultRequestTimeout = 15 * time.Second
	sseHeartbeat          = 15 * time.Second

	// maxRequestBodySize limits request bodies (64KB); rules are short
	maxRequestBodySize = 64 << 10
)

type Server struct {
	sessions       *session.Registry
	log            zerolog.Logger
	rateLimit      int
	requestTimeout time.Duration
	heartbeat      time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRateLimit limits requests per client IP per minute. Zero disables limiting.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.rateLimit = perMinute }
}

// WithRequestTimeout bounds non-streaming requests. It should exceed the
// engine timeout so engine errors are reported instead of a cut connection.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

func NewServer(reg *session.Registry, opts ...Option) *Server {
	s := &Server{
		sessions:       reg,
		log:            zerolog.Nop(),
		requestTimeout: defaultRequestTimeout,
		heartbeat:      sseHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	if s.rateLimit > 0 {
		r.Use(httprate.Limit(
			s.rateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(RateLimitedError),
		))
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.With(middleware.Timeout(s.requestTimeout)).Post("/", s.handleCreateSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.loadSession)

			// streaming endpoint, no request timeout
			r.Get("/events", s.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.requestTimeout))
				r.Use(middleware.RequestSize(maxRequestBodySize))

				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/reset", s.handleReset)

				r.Post("/rules", s.handleAppendRule)
				r.Put("/rules/last", s.handleReplaceLast)
				r.Delete("/rules/last", s.handleRemoveLast)

				r.Post("/combine", s.handleCombine)
				r.Delete("/combine", s.handleClearCombination)

				r.Post("/evaluate", s.handleEvaluate)
			})
		})
	})

	return r
}
