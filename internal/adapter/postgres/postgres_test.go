package postgres

import (
	"testing"

	"github.com/syncforge/chatbridge/internal/config"
)

func TestPoolConfig(t *testing.T) {
	cfg := config.Defaults().Postgres

	poolCfg, err := poolConfig(cfg)
	if err != nil {
		t.Fatalf("pool config: %v", err)
	}
	if poolCfg.MaxConns != cfg.MaxConns {
		t.Fatalf("max conns = %d, want %d", poolCfg.MaxConns, cfg.MaxConns)
	}
	if poolCfg.HealthCheckPeriod != cfg.HealthCheck {
		t.Fatalf("health check period = %v, want %v", poolCfg.HealthCheckPeriod, cfg.HealthCheck)
	}
	if got := poolCfg.ConnConfig.RuntimeParams["application_name"]; got != "chatbridge" {
		t.Fatalf("application_name = %q, want chatbridge", got)
	}
}

func TestPoolConfigBadDSN(t *testing.T) {
	cfg := config.Defaults().Postgres
	cfg.DSN = "://not-a-dsn"

	if _, err := poolConfig(cfg); err == nil {
		t.Fatal("expected error for malformed dsn")
	}
}
