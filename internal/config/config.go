// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. An empty DatabaseURL selects the in-memory store
	// (development mode; nothing survives a restart).
	DatabaseURL string

	// Auth settings. An empty APIKey disables authentication entirely.
	APIKey            string
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	ShutdownTimeout     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("XRAY_PORT", 8000),
		ReadTimeout:         envDuration("XRAY_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("XRAY_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		APIKey:              envStr("XRAY_API_KEY", ""),
		JWTPrivateKeyPath:   envStr("XRAY_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("XRAY_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("XRAY_JWT_EXPIRATION", time.Hour),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "xray"),
		LogLevel:            envStr("XRAY_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("XRAY_MAX_REQUEST_BODY_BYTES", 4*1024*1024)), // 4 MB: ingest batches carry serialized survivor lists
		ShutdownTimeout:     envDuration("XRAY_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: XRAY_PORT must be in 1..65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: XRAY_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.JWTExpiration <= 0 {
		return fmt.Errorf("config: XRAY_JWT_EXPIRATION must be positive")
	}
	return nil
}

// AuthEnabled reports whether the server requires authentication.
func (c Config) AuthEnabled() bool {
	return c.APIKey != ""
}

// SlogLevel maps the configured log level string to a slog.Level.
// Unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
