// Command truesight-seed provisions a development project with API keys.
//
// Purpose:
//
//	Creates a project and one API key per environment, printing the
//	plaintext keys to stdout. Keys cannot be recovered later, so the output
//	is the only chance to copy them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/auth"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
)

type seedConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	projectName := flag.String("project", "Demo Project", "name of the project to create")
	flag.Parse()

	var cfg seedConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := telemetry.MustLogger(telemetry.LoggerConfig{
		ServiceName: "truesight-seed",
		Environment: "tooling",
		LogLevel:    cfg.LogLevel,
	})
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer store.Close()

	project, err := store.CreateProject(ctx, *projectName)
	if errors.Is(err, postgres.ErrDuplicateName) {
		log.Fatal("project already exists, pick another name with -project",
			zap.String("name", *projectName))
	}
	if err != nil {
		log.Fatal("failed to create project", zap.Error(err))
	}
	log.Info("project created",
		zap.String("project_id", project.ID.String()),
		zap.String("name", project.Name))

	fmt.Printf("project_id: %s\n", project.ID)
	for _, environment := range []string{auth.EnvironmentLive, auth.EnvironmentTest} {
		plaintext, err := auth.GenerateKey(environment)
		if err != nil {
			log.Fatal("failed to generate key", zap.Error(err))
		}
		hash, err := auth.HashKey(plaintext)
		if err != nil {
			log.Fatal("failed to hash key", zap.Error(err))
		}

		key, err := store.CreateAPIKey(ctx, postgres.CreateAPIKeyParams{
			ProjectID:   project.ID,
			Prefix:      auth.Prefix(plaintext),
			KeyHash:     hash,
			Label:       "seed " + environment,
			Environment: environment,
		})
		if err != nil {
			log.Fatal("failed to create api key", zap.Error(err))
		}

		log.Info("api key created",
			zap.String("key_id", key.ID.String()),
			zap.String("environment", environment))
		fmt.Printf("%s key: %s\n", environment, plaintext)
	}
}
