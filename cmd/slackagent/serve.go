package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/slackagent/internal/agent"
	"github.com/haasonsaas/slackagent/internal/bridge"
	"github.com/haasonsaas/slackagent/internal/cache"
	"github.com/haasonsaas/slackagent/internal/config"
	"github.com/haasonsaas/slackagent/internal/gemini"
	"github.com/haasonsaas/slackagent/internal/media"
	"github.com/haasonsaas/slackagent/internal/observability"
	"github.com/haasonsaas/slackagent/internal/slack"
	"github.com/haasonsaas/slackagent/internal/thread"
	"github.com/haasonsaas/slackagent/internal/tools"
	"github.com/haasonsaas/slackagent/internal/tools/weather"
)

// buildRegistry returns the tools declared to the model.
func buildRegistry() (*tools.Registry, error) {
	registry := tools.NewRegistry()
	if err := registry.Register(weather.New()); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return registry, nil
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)

	logger.Info("starting slackagent",
		"version", version,
		"commit", commit,
		"config", configPath,
		"model", cfg.Model.Name,
	)

	tracer, shutdownTracing, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "slackagent",
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tracer.Enabled() {
		logger.Info("tracing enabled", "endpoint", cfg.Observability.Tracing.Endpoint)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics(nil)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv := startMetricsServer(addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	model, err := gemini.New(ctx, gemini.Config{
		APIKey:            cfg.Model.APIKey,
		Model:             cfg.Model.Name,
		SystemInstruction: cfg.Model.SystemInstruction,
		MaxRetries:        cfg.Model.MaxRetries,
		Logger:            logger,
		Metrics:           metrics,
		Tracer:            tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize model client: %w", err)
	}
	logger.Info("model client ready", "model", model.Model())

	registry, err := buildRegistry()
	if err != nil {
		return err
	}

	resolver := media.NewResolver(model, media.NewCache(), media.Config{
		PollInterval:    cfg.Media.PollInterval,
		MaxPollAttempts: cfg.Media.MaxPollAttempts,
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          tracer,
	})
	if cfg.Media.WarmPageSize > 0 {
		n, err := resolver.Warm(ctx, cfg.Media.WarmPageSize)
		if err != nil {
			logger.Warn("media cache warm-up failed", "error", err)
		} else {
			logger.Info("media cache warmed", "entries", n)
		}
	}

	adapter, err := slack.NewAdapter(slack.Config{
		BotToken:      cfg.Slack.BotToken,
		AppToken:      cfg.Slack.AppToken,
		FetchAttempts: cfg.Media.FetchAttempts,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize slack adapter: %w", err)
	}

	orchestrator := agent.New(model, registry, agent.Config{
		MaxIterations: cfg.Model.MaxToolIterations,
		Parallel:      cfg.Model.ParallelTools,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})

	handler := bridge.New(bridge.Config{
		Transcripts: adapter,
		Reconstructor: &thread.Reconstructor{
			Media:  resolver,
			Fetch:  adapter.Fetch,
			Logger: logger,
		},
		Agent:       orchestrator,
		Publisher:   adapter,
		Dedupe:      cache.NewDedupe(cache.DedupeOptions{TTL: cfg.Dedupe.TTL, MaxSize: cfg.Dedupe.MaxSize}),
		TurnTimeout: cfg.Model.TurnTimeout,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
	})

	logger.Info("listening for mentions", "tools", registry.Len())
	if err := adapter.Run(ctx, handler.OnMention); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("slack adapter stopped: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
