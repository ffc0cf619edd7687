package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration parsed from environment variables.
type Config struct {
	CartAPIURL      string
	DBConnString    string
	LogLevel        string
	Env             string
	MetricsAddr     string
	Token           string
	LogFile         string
	ShutdownTimeout time.Duration

	// Local stub backend (cmd/stubcart).
	StubAddr    string
	StubToken   string
	StubCatalog string
}

// FromEnv builds Config with defaults, overridden by environment variables.
// An empty DBConnString selects in-memory session storage.
func FromEnv() Config {
	return Config{
		CartAPIURL:      envOrDefault("CART_API_URL", "http://localhost:3000/api/v1/cart"),
		DBConnString:    os.Getenv("DB_DSN"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		Env:             envOrDefault("APP_ENV", "dev"),
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		Token:           os.Getenv("CART_TOKEN"),
		LogFile:         envOrDefault("CARTCTL_LOG", "cartctl.log"),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT_SECONDS", 10*time.Second),
		StubAddr:        envOrDefault("STUB_ADDR", ":3000"),
		StubToken:       os.Getenv("STUB_TOKEN"),
		StubCatalog:     os.Getenv("STUB_CATALOG_CSV"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		seconds, err := strconv.Atoi(v)
		if err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return def
}
