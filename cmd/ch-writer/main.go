// Command ch-writer drains the ingestion queue into ClickHouse.
//
// Purpose:
//   Runs the consumer loops and the batcher that together move enriched
//   events from SQS into the events table, dead-lettering what cannot be
//   processed. A small HTTP server exposes /health and /metrics.
//
// Key Responsibilities:
//   - Long-poll SQS with a configurable number of consumer loops
//   - Batch events by size and timeout, bounded in-flight inserts
//   - Upsert identity mappings for Identify events
//   - Handle graceful shutdown: stop consuming, drain, flush, acknowledge
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/config"
	"github.com/komorebitech/cf-truesight/internal/health"
	"github.com/komorebitech/cf-truesight/internal/queue"
	"github.com/komorebitech/cf-truesight/internal/storage/clickhouse"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
	"github.com/komorebitech/cf-truesight/internal/writer"
)

func main() {
	cfg, err := config.LoadWriter()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.MustLogger(telemetry.LoggerConfig{
		ServiceName: "ch-writer",
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
	})
	defer func() { _ = logger.Sync() }()

	flushSentry, err := telemetry.InitSentry(cfg.SentryDSN, "ch-writer", cfg.Environment)
	if err != nil {
		logger.Fatal("failed to initialize sentry", zap.Error(err))
	}
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqsClient, err := queue.NewClient(ctx, cfg.AWSRegion, cfg.SQSEndpointURL)
	if err != nil {
		logger.Fatal("failed to initialize sqs client", zap.Error(err))
	}
	consumer := queue.NewConsumer(sqsClient, cfg.SQSQueueURL, cfg.ReceiveBatchSize, logger)
	deadLetter := queue.NewDeadLetter(sqsClient, cfg.SQSDLQURL)

	chClient := clickhouse.NewClient(clickhouse.Config{
		URL:      cfg.ClickHouseURL,
		Database: cfg.ClickHouseDatabase,
		User:     cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
	})
	inserter := clickhouse.NewInserter(chClient, logger)

	metrics := telemetry.NewMetrics()

	healthSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HealthPort),
		Handler: healthHandler(chClient, consumer, metrics),
	}
	go func() {
		logger.Info("starting health server", zap.Int("port", cfg.HealthPort))
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", zap.Error(err))
		}
	}()

	events := make(chan writer.IncomingEvent, cfg.ChannelBufferEntries)

	var consumers sync.WaitGroup
	for i := 0; i < cfg.NumConsumers; i++ {
		loop := writer.NewConsumerLoop(consumer, deadLetter, events,
			logger.With(zap.Int("consumer", i)))
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			loop.Run(ctx)
		}()
	}

	// Close the channel once every consumer has stopped so the batcher can
	// drain and exit.
	go func() {
		consumers.Wait()
		close(events)
	}()

	batcher := writer.NewBatcher(events, inserter, consumer, deadLetter, writer.BatcherConfig{
		BatchSize:   cfg.BatchSize,
		Timeout:     time.Duration(cfg.BatchTimeoutMillis) * time.Millisecond,
		MaxInFlight: cfg.MaxInFlightInserts,
	}, logger, metrics)

	logger.Info("writer started",
		zap.Int("consumers", cfg.NumConsumers),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("batch_timeout_ms", cfg.BatchTimeoutMillis))

	batcher.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func healthHandler(chClient *clickhouse.Client, consumer *queue.Consumer, metrics *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", health.Handler(
		health.Probe{Name: "clickhouse", Check: chClient.Ping},
		health.Probe{Name: "sqs", Check: consumer.Ping},
	))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
