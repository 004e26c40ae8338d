package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.LLM.Provider != "gemini" {
		t.Fatalf("unexpected drivers: store=%q llm=%q", cfg.Store.Driver, cfg.LLM.Provider)
	}
	if cfg.Engine.HistoryWindow != 20 || cfg.Engine.DelegationProbability != 0.1 || cfg.Engine.ForceDelegationAfter != 3 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("log level = %v", cfg.LogLevel)
	}
	if cfg.LLM.ListenAddr != ":50051" {
		t.Fatalf("sidecar listen address = %q", cfg.LLM.ListenAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "grpc")
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("REDIS_TTL", "36h")
	t.Setenv("DELEGATION_PROBABILITY", "0.25")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TIMEZONE", "Asia/Tokyo")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "redis" || cfg.Store.RedisTTL != 36*time.Hour {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Engine.DelegationProbability != 0.25 || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("overrides not applied: %+v level=%v", cfg.Engine, cfg.LogLevel)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Tokyo" {
		t.Fatalf("Location = %v, %v", loc, err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DELEGATION_PROBABILITY", "1.5")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"GEMINI_API_KEY", "STORE_DRIVER", "DELEGATION_PROBABILITY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{FrontendURL: "https://duet.example, https://admin.duet.example"}
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[1] != "https://admin.duet.example" {
		t.Fatalf("AllowedOrigins = %v", got)
	}
	dev := &Config{FrontendURL: "http://localhost:5173"}
	if o := dev.AllowedOrigins(); len(o) != 1 || o[0] != "*" {
		t.Fatalf("development origins = %v", o)
	}
}
