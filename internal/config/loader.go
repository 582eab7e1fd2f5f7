package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "chatbridge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CHATBRIDGE_PORT")
	setString(&cfg.Server.CORSOrigin, "CHATBRIDGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CHATBRIDGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CHATBRIDGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CHATBRIDGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CHATBRIDGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CHATBRIDGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Chat.APIBaseURL, "CHATBRIDGE_CHAT_API_URL")
	setString(&cfg.Chat.Credential, "CHATBRIDGE_CHAT_CREDENTIAL")
	setString(&cfg.Chat.WebhookTokenHash, "CHATBRIDGE_WEBHOOK_TOKEN_HASH")
	setDuration(&cfg.Chat.RequestTimeout, "CHATBRIDGE_CHAT_TIMEOUT")
	setInt64(&cfg.Chat.MaxInFlight, "CHATBRIDGE_CHAT_MAX_IN_FLIGHT")
	setString(&cfg.Logging.Level, "CHATBRIDGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CHATBRIDGE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "CHATBRIDGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CHATBRIDGE_BREAKER_TIMEOUT")
	setInt(&cfg.Retry.MaxAttempts, "CHATBRIDGE_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BackoffBase, "CHATBRIDGE_RETRY_BACKOFF_BASE")
	setDuration(&cfg.Retry.BackoffCap, "CHATBRIDGE_RETRY_BACKOFF_CAP")
	setInt(&cfg.Worker.Count, "CHATBRIDGE_WORKER_COUNT")
	setInt(&cfg.Worker.BatchSize, "CHATBRIDGE_WORKER_BATCH_SIZE")
	setDuration(&cfg.Worker.SweepInterval, "CHATBRIDGE_WORKER_SWEEP_INTERVAL")
	setDuration(&cfg.Worker.Lease, "CHATBRIDGE_WORKER_LEASE")
	setInt64(&cfg.Cache.MaxSizeMB, "CHATBRIDGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "CHATBRIDGE_CACHE_TTL")
	setBool(&cfg.Metrics.Enabled, "CHATBRIDGE_METRICS_ENABLED")
	setString(&cfg.Metrics.OTLPEndpoint, "CHATBRIDGE_OTLP_ENDPOINT")
	setDuration(&cfg.Metrics.Interval, "CHATBRIDGE_METRICS_INTERVAL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.BackoffBase <= 0 {
		return errors.New("retry.backoff_base must be positive")
	}
	if cfg.Retry.BackoffCap < cfg.Retry.BackoffBase {
		return errors.New("retry.backoff_cap must be >= retry.backoff_base")
	}
	if cfg.Worker.Count < 1 {
		return errors.New("worker.count must be >= 1")
	}
	if cfg.Worker.BatchSize < 1 {
		return errors.New("worker.batch_size must be >= 1")
	}
	if cfg.Worker.Lease <= 0 {
		return errors.New("worker.lease must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
