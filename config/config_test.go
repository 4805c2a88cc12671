package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.JWT.SessionTTL != 15*time.Minute {
		t.Errorf("SessionTTL = %v, want 15m", cfg.JWT.SessionTTL)
	}
	if cfg.Keys.MaxActive != 5 {
		t.Errorf("MaxActive = %d, want 5", cfg.Keys.MaxActive)
	}
	if cfg.Keys.DefaultTTL != 90*24*time.Hour {
		t.Errorf("DefaultTTL = %v, want 90 days", cfg.Keys.DefaultTTL)
	}
	if cfg.Keys.MaxTTL != 365*24*time.Hour {
		t.Errorf("MaxTTL = %v, want 365 days", cfg.Keys.MaxTTL)
	}
	if cfg.Upstream.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Upstream.MaxAttempts)
	}
	if cfg.RateLimitPerMinute != 300 {
		t.Errorf("RateLimitPerMinute = %d, want 300", cfg.RateLimitPerMinute)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("CORSAllowedOrigins = %v, want [*]", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("JWT_SESSION_TTL_MINUTES", "30")
	t.Setenv("KEY_MAX_ACTIVE", "10")
	t.Setenv("KEY_DEFAULT_TTL_DAYS", "30")
	t.Setenv("UPSTREAM_TOKEN_URL", "https://provider.example.com/token")
	t.Setenv("UPSTREAM_MAX_ATTEMPTS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.JWT.Secret != "env-secret" {
		t.Errorf("JWT.Secret = %q, want env-secret", cfg.JWT.Secret)
	}
	if cfg.JWT.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want 30m", cfg.JWT.SessionTTL)
	}
	if cfg.Keys.MaxActive != 10 {
		t.Errorf("MaxActive = %d, want 10", cfg.Keys.MaxActive)
	}
	if cfg.Keys.DefaultTTL != 30*24*time.Hour {
		t.Errorf("DefaultTTL = %v, want 30 days", cfg.Keys.DefaultTTL)
	}
	if cfg.Upstream.TokenURL != "https://provider.example.com/token" {
		t.Errorf("TokenURL = %q", cfg.Upstream.TokenURL)
	}
	if cfg.Upstream.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Upstream.MaxAttempts)
	}

	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want %v", cfg.CORSAllowedOrigins, want)
	}
	for i := range want {
		if cfg.CORSAllowedOrigins[i] != want[i] {
			t.Errorf("CORSAllowedOrigins[%d] = %q, want %q", i, cfg.CORSAllowedOrigins[i], want[i])
		}
	}
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("KEY_MAX_ACTIVE", "not-a-number")
	t.Setenv("JWT_SESSION_TTL_MINUTES", "-5")

	cfg := Load()

	if cfg.Keys.MaxActive != 5 {
		t.Errorf("MaxActive = %d, want fallback 5", cfg.Keys.MaxActive)
	}
	if cfg.JWT.SessionTTL != 15*time.Minute {
		t.Errorf("SessionTTL = %v, want fallback 15m", cfg.JWT.SessionTTL)
	}
}
