// Command ingestion-api is the HTTP edge that admits analytics events.
//
// Purpose:
//   Authenticates SDK traffic by API key, validates and enriches event
//   batches, and forwards them to SQS for asynchronous persistence by the
//   ch-writer.
//
// Key Responsibilities:
//   - Serve POST /v1/events/batch with zstd-aware body handling
//   - Enforce per-project rate limits
//   - Expose /health (Postgres + SQS probes) and /metrics
//   - Handle graceful shutdown (SIGINT/SIGTERM)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/config"
	"github.com/komorebitech/cf-truesight/internal/ingest"
	"github.com/komorebitech/cf-truesight/internal/queue"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadIngestion()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.MustLogger(telemetry.LoggerConfig{
		ServiceName: "ingestion-api",
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
	})
	defer func() { _ = logger.Sync() }()

	flushSentry, err := telemetry.InitSentry(cfg.SentryDSN, "ingestion-api", cfg.Environment)
	if err != nil {
		logger.Fatal("failed to initialize sentry", zap.Error(err))
	}
	defer flushSentry()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	sqsClient, err := queue.NewClient(ctx, cfg.AWSRegion, cfg.SQSEndpointURL)
	if err != nil {
		logger.Fatal("failed to initialize sqs client", zap.Error(err))
	}
	publisher := queue.NewPublisher(sqsClient, cfg.SQSQueueURL)

	metrics := telemetry.NewMetrics()
	limiters := ingest.NewLimiterRegistry(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	server := ingest.NewServer(logger, store, publisher, limiters, metrics)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting ingestion api",
			zap.String("environment", cfg.Environment),
			zap.Int("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			if err := srv.Close(); err != nil {
				logger.Error("force close failed", zap.Error(err))
			}
		}

		logger.Info("shutdown complete")
	}
}
