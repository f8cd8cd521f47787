package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TimurManjosov/rulekit/internal/api"
	"github.com/TimurManjosov/rulekit/internal/client"
	"github.com/TimurManjosov/rulekit/internal/config"
	"github.com/TimurManjosov/rulekit/internal/logging"
	"github.com/TimurManjosov/rulekit/internal/session"
	"github.com/TimurManjosov/rulekit/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New(os.Stderr, "info", logging.FormatJSON)
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	telemetry.Init()

	srv, registry := newServer(cfg, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("engine", cfg.EngineURL).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx, time.Minute)
		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		registry.CloseAll() // ends SSE streams so Shutdown does not wait on them
		_ = srv.Shutdown(ctxShut)
		_ = metricsSrv.Shutdown(ctxShut)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server")
	}
	logger.Info().Msg("stopped")
}

// newServer wires the engine client, session registry and console router.
func newServer(cfg *config.Config, logger zerolog.Logger) (*http.Server, *session.Registry) {
	engine := client.NewClient(cfg.EngineURL,
		client.WithTimeout(cfg.EngineTimeout),
		client.WithLogger(logger.With().Str("component", "engine").Logger()),
	)
	registry := session.NewRegistry(engine,
		session.WithIdleTTL(cfg.SessionIdleTTL),
		session.WithRegistryLogger(logger),
		session.WithSessionOptions(session.WithMaxRuleLength(cfg.MaxRuleLength)),
	)

	srvAPI := api.NewServer(registry,
		api.WithLogger(logger),
		api.WithRateLimit(cfg.RateLimitPerIP),
		api.WithRequestTimeout(cfg.EngineTimeout+5*time.Second),
	)

	return &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}, registry
}
