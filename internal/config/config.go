// Package config loads service configuration from the environment.
//
// Purpose:
//
//	envconfig-backed configuration structs for the ingestion API, the
//	ClickHouse writer, and the admin API, with validation of the settings
//	each binary cannot run without.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Ingestion configures the ingestion API binary.
type Ingestion struct {
	Port        int    `envconfig:"INGESTION_API_PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	SQSQueueURL string `envconfig:"SQS_QUEUE_URL" required:"true"`

	AWSRegion      string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSEndpointURL string `envconfig:"SQS_ENDPOINT_URL"`

	RateLimitPerSecond int `envconfig:"RATE_LIMIT_PER_SECOND" default:"1000"`
	RateLimitBurst     int `envconfig:"RATE_LIMIT_BURST" default:"200"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// Writer configures the ClickHouse writer binary.
type Writer struct {
	HealthPort  int    `envconfig:"HEALTH_PORT" default:"9090"`
	SQSQueueURL string `envconfig:"SQS_QUEUE_URL" required:"true"`
	SQSDLQURL   string `envconfig:"SQS_DLQ_URL"`

	AWSRegion      string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSEndpointURL string `envconfig:"SQS_ENDPOINT_URL"`

	ClickHouseURL      string `envconfig:"CLICKHOUSE_URL" required:"true"`
	ClickHouseDatabase string `envconfig:"CLICKHOUSE_DATABASE" default:"default"`
	ClickHouseUser     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	ClickHousePassword string `envconfig:"CLICKHOUSE_PASSWORD"`

	BatchSize            int `envconfig:"CH_BATCH_SIZE" default:"5000"`
	BatchTimeoutMillis   int `envconfig:"CH_BATCH_TIMEOUT_MS" default:"2000"`
	ReceiveBatchSize     int `envconfig:"SQS_RECEIVE_BATCH_SIZE" default:"10"`
	NumConsumers         int `envconfig:"NUM_CONSUMERS" default:"3"`
	MaxInFlightInserts   int `envconfig:"MAX_IN_FLIGHT_INSERTS" default:"3"`
	ChannelBufferEntries int `envconfig:"CHANNEL_BUFFER_ENTRIES" default:"10000"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// Admin configures the admin API binary.
type Admin struct {
	Port        int    `envconfig:"ADMIN_API_PORT" default:"8081"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	AdminToken  string `envconfig:"ADMIN_API_TOKEN" required:"true"`

	ClickHouseURL      string `envconfig:"CLICKHOUSE_URL" required:"true"`
	ClickHouseDatabase string `envconfig:"CLICKHOUSE_DATABASE" default:"default"`
	ClickHouseUser     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	ClickHousePassword string `envconfig:"CLICKHOUSE_PASSWORD"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadIngestion reads the ingestion API configuration from the environment.
func LoadIngestion() (*Ingestion, error) {
	var cfg Ingestion
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load ingestion config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings envconfig cannot express.
func (c *Ingestion) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("INGESTION_API_PORT must be in 1..65535, got %d", c.Port)
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SECOND must be positive, got %d", c.RateLimitPerSecond)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst)
	}
	return nil
}

// LoadWriter reads the writer configuration from the environment.
func LoadWriter() (*Writer, error) {
	var cfg Writer
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load writer config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings envconfig cannot express and derives the dead
// letter queue URL when it is not set explicitly.
func (c *Writer) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("CH_BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.BatchTimeoutMillis <= 0 {
		return fmt.Errorf("CH_BATCH_TIMEOUT_MS must be positive, got %d", c.BatchTimeoutMillis)
	}
	if c.ReceiveBatchSize <= 0 || c.ReceiveBatchSize > 10 {
		return fmt.Errorf("SQS_RECEIVE_BATCH_SIZE must be in 1..10, got %d", c.ReceiveBatchSize)
	}
	if c.NumConsumers <= 0 {
		return fmt.Errorf("NUM_CONSUMERS must be positive, got %d", c.NumConsumers)
	}
	if c.MaxInFlightInserts <= 0 {
		return fmt.Errorf("MAX_IN_FLIGHT_INSERTS must be positive, got %d", c.MaxInFlightInserts)
	}
	if c.ChannelBufferEntries <= 0 {
		return fmt.Errorf("CHANNEL_BUFFER_ENTRIES must be positive, got %d", c.ChannelBufferEntries)
	}
	if c.SQSDLQURL == "" {
		c.SQSDLQURL = c.SQSQueueURL + "-dlq"
	}
	return nil
}

// LoadAdmin reads the admin API configuration from the environment.
func LoadAdmin() (*Admin, error) {
	var cfg Admin
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load admin config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings envconfig cannot express.
func (c *Admin) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("ADMIN_API_PORT must be in 1..65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.AdminToken) == "" {
		return fmt.Errorf("ADMIN_API_TOKEN must not be blank")
	}
	return nil
}

// AllowedOrigins splits the CORS origin list.
func (c *Admin) AllowedOrigins() []string {
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
