package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:     AppConfig{Env: "local", Port: 8080},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "carecall"},
		Redis:   RedisConfig{Host: "localhost", Port: 6379},
		Auth:    AuthConfig{JWTSecret: "secret"},
		LiveKit: LiveKitConfig{URL: "ws://localhost:7880", APIKey: "devkey", APISecret: "devsecret", VerifyWebhook: true},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "carecall"
	c.Auth.JWTAudience = "carecall-app"
	c.Analysis.BaseURL = "http://analysis"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.LiveKit.AgentName != "sodam" {
		t.Fatalf("expected default agent name, got %q", c.LiveKit.AgentName)
	}
	if c.LiveKit.TokenTTL != time.Hour {
		t.Fatalf("expected 1h token ttl, got %s", c.LiveKit.TokenTTL)
	}
	if c.Tasks.Backend != TasksBackendMemory || c.Tasks.Workers != 4 || c.Tasks.QueueSize != 256 {
		t.Fatalf("unexpected task defaults: %+v", c.Tasks)
	}
	if c.RTC.SystemCaller != "system" {
		t.Fatalf("expected system caller default, got %q", c.RTC.SystemCaller)
	}
}

func TestValidate_LiveKitURLScheme(t *testing.T) {
	c := validLocal()
	c.LiveKit.URL = "https://livekit.example.com"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "LIVEKIT_URL") {
		t.Fatalf("expected LIVEKIT_URL error, got %v", err)
	}
}

func TestValidate_UnknownTasksBackend(t *testing.T) {
	c := validLocal()
	c.Tasks.Backend = "kafka"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("LIVEKIT_URL", "wss://lk.example.com")
	t.Setenv("LIVEKIT_API_KEY", "k")
	t.Setenv("LIVEKIT_API_SECRET", "sec")
	t.Setenv("REAPER_INTERVAL", "0")
	t.Setenv("ANALYSIS_API_URL", "http://analysis:8000/")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9000" {
		t.Fatalf("unexpected addr %q", c.HTTPAddr())
	}
	if c.Reaper.Interval != 0 {
		t.Fatalf("expected reaper disabled, got %s", c.Reaper.Interval)
	}
	if c.Analysis.BaseURL != "http://analysis:8000" {
		t.Fatalf("expected trailing slash trimmed, got %q", c.Analysis.BaseURL)
	}
	if !c.LiveKit.VerifyWebhook {
		t.Fatalf("expected webhook verification on by default")
	}
	if c.Reaper.MinRoomAge != 0 {
		t.Fatalf("expected young-room grace off by default, got %s", c.Reaper.MinRoomAge)
	}
}
