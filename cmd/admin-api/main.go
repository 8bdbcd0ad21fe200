// Command admin-api is the operator-facing control plane API.
//
// Purpose:
//   Serves project, API key, and funnel management backed by Postgres, and
//   the read-side stats endpoints backed by ClickHouse, behind a static
//   bearer token.
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

	"github.com/komorebitech/cf-truesight/internal/admin"
	"github.com/komorebitech/cf-truesight/internal/config"
	"github.com/komorebitech/cf-truesight/internal/storage/clickhouse"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadAdmin()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.MustLogger(telemetry.LoggerConfig{
		ServiceName: "admin-api",
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
	})
	defer func() { _ = logger.Sync() }()

	flushSentry, err := telemetry.InitSentry(cfg.SentryDSN, "admin-api", cfg.Environment)
	if err != nil {
		logger.Fatal("failed to initialize sentry", zap.Error(err))
	}
	defer flushSentry()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	chClient := clickhouse.NewClient(clickhouse.Config{
		URL:      cfg.ClickHouseURL,
		Database: cfg.ClickHouseDatabase,
		User:     cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
	})
	analytics := clickhouse.NewAnalytics(chClient)

	metrics := telemetry.NewMetrics()
	server := admin.NewServer(logger, store, analytics, chClient.Ping, cfg.AdminToken, cfg.AllowedOrigins(), metrics)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting admin api",
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
