package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"ner-balancer/internal/storage"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Root string `env:"ROOT" envDefault:"./ner-balancer"`
	Port int    `env:"PORT" envDefault:"5000"`

	// Postgres url, or a sqlite file path. Defaults to ROOT/db/ner-balancer.db.
	DatabaseURL string `env:"DATABASE_URL"`

	// The api server runs an in-process worker on an in-memory queue when empty.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	// Objects are stored under ROOT/storage when S3_ENDPOINT_URL and AWS_REGION are empty.
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION"`
	UploadBucket      string `env:"UPLOAD_BUCKET" envDefault:"uploads"`
	OutputBucket      string `env:"OUTPUT_BUCKET" envDefault:"outputs"`

	MaxIterations     int      `env:"MAX_ITERATIONS" envDefault:"10000"`
	MaxUploadBytes    int64    `env:"MAX_UPLOAD_BYTES" envDefault:"16777216"`
	IgnoreTags        []string `env:"IGNORE_TAGS" envSeparator:","`
	WorkerConcurrency int      `env:"WORKER_CONCURRENCY" envDefault:"1"`

	// Port of the standalone worker's /metrics endpoint.
	MetricsPort int `env:"METRICS_PORT" envDefault:"9100"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.MaxIterations < 0 {
		return cfg, fmt.Errorf("MAX_ITERATIONS must be non-negative, got %d", cfg.MaxIterations)
	}
	if cfg.MaxUploadBytes <= 0 {
		return cfg, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	if cfg.WorkerConcurrency < 1 {
		return cfg, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", cfg.WorkerConcurrency)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.Root, "db", "ner-balancer.db")
	}

	return cfg, nil
}

func (c Config) UseS3() bool {
	return c.S3EndpointURL != "" || c.S3Region != ""
}

func (c Config) NewStorage() (storage.Provider, error) {
	if c.UseS3() {
		if c.S3EndpointURL != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
			slog.Warn("S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing")
		}
		region := c.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return storage.NewS3Provider(&storage.S3ProviderConfig{
			S3EndpointURL:     c.S3EndpointURL,
			S3AccessKeyID:     c.S3AccessKeyID,
			S3SecretAccessKey: c.S3SecretAccessKey,
			S3Region:          region,
		})
	}
	return storage.NewLocalProvider(filepath.Join(c.Root, "storage"))
}
