package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOKEN_GRACE", "")
	t.Setenv("CONFLICT_RETRIES", "")
	cfg := Load()
	if cfg.TokenGrace != 30*time.Minute || cfg.SweepGrace != 30*time.Minute {
		t.Fatalf("unexpected grace defaults %s/%s", cfg.TokenGrace, cfg.SweepGrace)
	}
	if cfg.ConflictRetries != 3 || cfg.SubscriberBuffer != 32 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TOKEN_GRACE", "10m")
	t.Setenv("NOTIFY_SKIP", "false")
	t.Setenv("SUBSCRIBER_BUFFER", "abc")
	cfg := Load()
	if cfg.TokenGrace != 10*time.Minute {
		t.Fatalf("expected 10m grace, got %s", cfg.TokenGrace)
	}
	if cfg.NotifySkip {
		t.Fatalf("expected notify skip disabled")
	}
	if cfg.SubscriberBuffer != 32 {
		t.Fatalf("invalid int must fall back, got %d", cfg.SubscriberBuffer)
	}
}

func TestValidate(t *testing.T) {
	base := App{
		Env:              "dev",
		StoreBackend:     "postgres",
		QueueBackend:     "redis",
		JWTSigningKey:    "k",
		ConflictRetries:  3,
		SubscriberBuffer: 32,
		RateLimitPerMin:  60,
		ClockSkew:        2 * time.Minute,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*App)
	}{
		{"prod default key", func(a *App) { a.Env = "prod"; a.JWTSigningKey = "dev-signing-secret-change" }},
		{"production default key", func(a *App) { a.Env = "production"; a.JWTSigningKey = "dev-signing-secret-change" }},
		{"production empty key", func(a *App) { a.Env = "production"; a.JWTSigningKey = "" }},
		{"zero clock skew", func(a *App) { a.ClockSkew = 0 }},
		{"bad store", func(a *App) { a.StoreBackend = "mysql" }},
		{"bad queue", func(a *App) { a.QueueBackend = "kafka" }},
		{"memory without catalog", func(a *App) { a.StoreBackend = "memory" }},
		{"zero retries", func(a *App) { a.ConflictRetries = 0 }},
		{"zero buffer", func(a *App) { a.SubscriberBuffer = 0 }},
		{"negative grace", func(a *App) { a.SweepGrace = -time.Minute }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
