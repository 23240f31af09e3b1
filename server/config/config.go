// Package config loads the engine server settings.
package config

import (
	"errors"
	"fmt"
	"github.com/caarlos0/env/v6"
	"github.com/goccy/go-yaml"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"os"
	"time"
)

// ErrInvalidSettings is returned when the loaded settings cannot be used to run a server.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the settings provider for the engine server.
type Settings struct {
	DBDriver        string        `env:"BPMNRT_DB_DRIVER" yaml:"dbDriver"`
	DBDSN           string        `env:"BPMNRT_DB_DSN" yaml:"dbDSN"`
	LogLevel        string        `env:"BPMNRT_LOG_LEVEL" yaml:"logLevel"`
	LogHandler      string        `env:"BPMNRT_LOG_HANDLER" yaml:"logHandler"`
	LogPublish      bool          `env:"BPMNRT_LOG_PUBLISH" yaml:"logPublish"`
	JobWorkers      int           `env:"BPMNRT_JOB_WORKERS" yaml:"jobWorkers"`
	JobLockTimeout  time.Duration `env:"BPMNRT_JOB_LOCK_TIMEOUT" yaml:"jobLockTimeout"`
	JobPollInterval time.Duration `env:"BPMNRT_JOB_POLL_INTERVAL" yaml:"jobPollInterval"`
	NatsURL         string        `env:"BPMNRT_NATS_URL" yaml:"natsURL"`
	GrpcPort        int           `env:"BPMNRT_GRPC_PORT" yaml:"grpcPort"`
	MetricsPort     int           `env:"BPMNRT_METRICS_PORT" yaml:"metricsPort"`
	OTLPEndpoint    string        `env:"BPMNRT_OTLP_ENDPOINT" yaml:"otlpEndpoint"`
}

// Default returns the settings used for anything neither the file nor the environment sets.
func Default() *Settings {
	return &Settings{
		DBDriver:        storage.DriverSQLite,
		DBDSN:           "file:bpmnrt.db",
		LogLevel:        "error",
		LogHandler:      "text",
		JobWorkers:      4,
		JobLockTimeout:  5 * time.Minute,
		JobPollInterval: 5 * time.Second,
		GrpcPort:        50000,
		MetricsPort:     2112,
	}
}

// GetEnvironment pulls the active settings into a settings struct.
// Values in the YAML file at path replace the defaults, and environment variables replace both.
// An empty path skips the file.
func GetEnvironment(path string) (*Settings, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings can run a server.
func (s *Settings) Validate() error {
	switch s.DBDriver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("database driver %q: %w", s.DBDriver, ErrInvalidSettings)
	}
	if s.DBDSN == "" {
		return fmt.Errorf("database dsn is empty: %w", ErrInvalidSettings)
	}
	switch s.LogHandler {
	case "text", "json":
	default:
		return fmt.Errorf("log handler %q: %w", s.LogHandler, ErrInvalidSettings)
	}
	if s.JobWorkers < 1 {
		return fmt.Errorf("job workers %d: %w", s.JobWorkers, ErrInvalidSettings)
	}
	if s.JobLockTimeout <= 0 || s.JobPollInterval <= 0 {
		return fmt.Errorf("job timings must be positive: %w", ErrInvalidSettings)
	}
	return nil
}
