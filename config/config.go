package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	CORSAllowedOrigins []string
	DatabaseURL        string

	JWT      JWTConfig
	Keys     KeyConfig
	Upstream UpstreamConfig

	RateLimitPerMinute int
}

// JWTConfig holds session token settings
type JWTConfig struct {
	Secret     string
	SessionTTL time.Duration
}

// KeyConfig bounds the API key ledger
type KeyConfig struct {
	MaxActive  int
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	Retention  time.Duration
	BufferSize int
	CacheSize  int64
}

// UpstreamConfig holds the open-banking provider settings
type UpstreamConfig struct {
	TokenURL      string
	APIBaseURL    string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	SigningKeyPEM string
	Timeout       time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	origins := strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		CORSAllowedOrigins: origins,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "dev-secret-change-me"),
			SessionTTL: getDuration("JWT_SESSION_TTL_MINUTES", 15*time.Minute, time.Minute),
		},
		Keys: KeyConfig{
			MaxActive:  getInt("KEY_MAX_ACTIVE", 5),
			DefaultTTL: getDuration("KEY_DEFAULT_TTL_DAYS", 90*24*time.Hour, 24*time.Hour),
			MaxTTL:     getDuration("KEY_MAX_TTL_DAYS", 365*24*time.Hour, 24*time.Hour),
			Retention:  getDuration("KEY_RETENTION_DAYS", 90*24*time.Hour, 24*time.Hour),
			BufferSize: getInt("KEY_PREGEN_BUFFER", 16),
			CacheSize:  int64(getInt("KEY_VERIFY_CACHE", 1000)),
		},
		Upstream: UpstreamConfig{
			TokenURL:      os.Getenv("UPSTREAM_TOKEN_URL"),
			APIBaseURL:    os.Getenv("UPSTREAM_API_BASE_URL"),
			ClientID:      os.Getenv("UPSTREAM_CLIENT_ID"),
			ClientSecret:  os.Getenv("UPSTREAM_CLIENT_SECRET"),
			RedirectURI:   os.Getenv("UPSTREAM_REDIRECT_URI"),
			SigningKeyPEM: os.Getenv("UPSTREAM_SIGNING_KEY"),
			Timeout:       getDuration("UPSTREAM_TIMEOUT_SECONDS", 10*time.Second, time.Second),
			MaxAttempts:   getInt("UPSTREAM_MAX_ATTEMPTS", 3),
			BaseBackoff:   getDuration("UPSTREAM_BASE_BACKOFF_SECONDS", time.Second, time.Second),
		},
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 300),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// getDuration reads an integer env var and scales it by unit
func getDuration(key string, fallback time.Duration, unit time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * unit
		}
	}
	return fallback
}
