// Command truesight-migrate applies the Postgres and ClickHouse schemas.
//
// Purpose:
//
//	One-shot schema bootstrap for local development and fresh deployments.
//	The Postgres DDL is applied in a single simple-protocol round trip; the
//	ClickHouse DDL is split into statements and applied one by one over the
//	HTTP interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/storage/clickhouse"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
)

type migrateConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`

	ClickHouseURL      string `envconfig:"CLICKHOUSE_URL"`
	ClickHouseDatabase string `envconfig:"CLICKHOUSE_DATABASE" default:"default"`
	ClickHouseUser     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	ClickHousePassword string `envconfig:"CLICKHOUSE_PASSWORD"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	postgresSchema := flag.String("postgres-schema", "db/postgres/schema.sql", "path to the Postgres DDL")
	clickhouseSchema := flag.String("clickhouse-schema", "db/clickhouse/schema.sql", "path to the ClickHouse DDL")
	skipPostgres := flag.Bool("skip-postgres", false, "do not apply the Postgres schema")
	skipClickhouse := flag.Bool("skip-clickhouse", false, "do not apply the ClickHouse schema")
	dryRun := flag.Bool("dry-run", false, "print statements without applying them")
	flag.Parse()

	var cfg migrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := telemetry.MustLogger(telemetry.LoggerConfig{
		ServiceName: "truesight-migrate",
		Environment: "tooling",
		LogLevel:    cfg.LogLevel,
	})
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if !*skipPostgres {
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL is required to apply the Postgres schema")
		}
		if err := applyPostgres(ctx, log, cfg.DatabaseURL, *postgresSchema, *dryRun); err != nil {
			log.Fatal("postgres migration failed", zap.Error(err))
		}
	}

	if !*skipClickhouse {
		if cfg.ClickHouseURL == "" {
			log.Fatal("CLICKHOUSE_URL is required to apply the ClickHouse schema")
		}
		if err := applyClickhouse(ctx, log, cfg, *clickhouseSchema, *dryRun); err != nil {
			log.Fatal("clickhouse migration failed", zap.Error(err))
		}
	}

	log.Info("schemas applied")
}

func applyPostgres(ctx context.Context, log *zap.Logger, databaseURL, path string, dryRun bool) error {
	ddl, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", path, err)
	}
	if dryRun {
		fmt.Println(string(ddl))
		return nil
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	// Simple protocol so the whole DDL file runs as one script.
	if _, err := pool.Exec(ctx, string(ddl), pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	log.Info("postgres schema applied", zap.String("path", path))
	return nil
}

func applyClickhouse(ctx context.Context, log *zap.Logger, cfg migrateConfig, path string, dryRun bool) error {
	ddl, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", path, err)
	}

	statements := splitStatements(string(ddl))
	if dryRun {
		for _, statement := range statements {
			fmt.Println(statement + ";")
		}
		return nil
	}

	client := clickhouse.NewClient(clickhouse.Config{
		URL:      cfg.ClickHouseURL,
		Database: cfg.ClickHouseDatabase,
		User:     cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
	})
	if err := client.Ping(ctx); err != nil {
		return err
	}

	for _, statement := range statements {
		if err := client.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply statement: %w", err)
		}
	}
	log.Info("clickhouse schema applied",
		zap.String("path", path),
		zap.Int("statements", len(statements)))
	return nil
}

// splitStatements breaks a DDL file into individual statements. The HTTP
// interface accepts one statement per request. Line comments are dropped.
func splitStatements(ddl string) []string {
	var cleaned []string
	for _, line := range strings.Split(ddl, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		cleaned = append(cleaned, line)
	}

	var statements []string
	for _, chunk := range strings.Split(strings.Join(cleaned, "\n"), ";") {
		if statement := strings.TrimSpace(chunk); statement != "" {
			statements = append(statements, statement)
		}
	}
	return statements
}
