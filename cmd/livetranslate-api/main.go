package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livetranslate/internal/admission"
	"livetranslate/internal/config"
	"livetranslate/internal/generation"
	"livetranslate/internal/httpapi"
	"livetranslate/internal/observability"
	"livetranslate/internal/pipeline"
	"livetranslate/internal/translation"
	"livetranslate/internal/upstream/openai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newWindowStore(ctx, cfg)
	if err != nil {
		logger.Error("rate limit store unavailable", "backend", cfg.RateLimitBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	controller := admission.New(cfg.MaxConcurrentUpstream, cfg.RateLimitPerMinute, store)
	metrics.RegisterInFlight(controller.InFlight)

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Streamed bodies outlive any fixed client timeout; stage idle timeouts bound them.
	upstreamHTTPClient := &http.Client{Transport: transport}
	upstreamClient := openai.New(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, upstreamHTTPClient, openai.WithObserver(metrics.ObserveUpstream))

	generationService := generation.New(upstreamClient, controller, cfg.GenerationModel, cfg.GenerationMaxTokens, cfg.GenerationTimeout)
	translationService := translation.New(upstreamClient, controller, cfg.TranslationModel, cfg.TranslationTimeout)
	pipelineService := pipeline.New(generationService, translationService, cfg.QueueCapacity, cfg.StreamTimeout,
		pipeline.WithLogger(logger),
		pipeline.WithObserver(func(outcome pipeline.Outcome, units int, duration time.Duration) {
			metrics.ObservePipeline(string(outcome), units, duration)
		}),
	)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Pipeline:       pipelineService,
		Admission:      controller,
		Upstream:       upstreamClient,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       35 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.ListenAddr,
			"rate_limit_backend", cfg.RateLimitBackend,
			"max_concurrent_upstream", cfg.MaxConcurrentUpstream,
			"rate_limit_per_minute", cfg.RateLimitPerMinute,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StreamTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newWindowStore(ctx context.Context, cfg config.Config) (admission.WindowStore, func(), error) {
	if cfg.RateLimitBackend != config.RateLimitBackendRedis {
		return admission.NewMemoryStore(), func() {}, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := admission.NewRedisClient(pingCtx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return admission.NewRedisStore(rdb, ""), func() { _ = rdb.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
