package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DB_DSN is missing")
	}

	t.Setenv("DB_DSN", "postgres://localhost/connect")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/connect")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ADDR", "")
	t.Setenv("JWT_TTL", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.JWTTTL != 7*24*time.Hour {
		t.Errorf("JWTTTL = %v, want 168h", cfg.JWTTTL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/connect")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_TTL", "1h")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTTTL != time.Hour {
		t.Errorf("JWTTTL = %v, want 1h", cfg.JWTTTL)
	}
	if !cfg.LogPretty {
		t.Error("LogPretty = false, want true")
	}
}
