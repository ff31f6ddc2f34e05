// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// IAM service (Keycloak-compatible admin API)
	IAMURL           string // empty = in-memory fake (dev/demo)
	IAMExternalURL   string // URL handed to tenants for their realm endpoints
	IAMAdminUser     string
	IAMAdminPassword string
	IAMTimeout       time.Duration

	// Security
	JWTSecret    string // signs operator session tokens
	CORSOrigins  []string
	RateLimitRPM int

	// Webhook delivery
	WebhookWorkers     int
	WebhookMaxAttempts int

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultIAMAdminUser       = "admin"
	DefaultRateLimit          = 120
	DefaultWebhookWorkers     = 4
	DefaultWebhookMaxAttempts = 5
	DefaultIAMTimeout         = 10 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		IAMURL:             os.Getenv("IAM_URL"),
		IAMExternalURL:     getEnv("IAM_EXTERNAL_URL", os.Getenv("IAM_URL")),
		IAMAdminUser:       getEnv("IAM_ADMIN_USER", DefaultIAMAdminUser),
		IAMAdminPassword:   os.Getenv("IAM_ADMIN_PASSWORD"),
		IAMTimeout:         getEnvDuration("IAM_TIMEOUT", DefaultIAMTimeout),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		CORSOrigins:        splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		WebhookWorkers:     int(getEnvInt64("WEBHOOK_WORKERS", DefaultWebhookWorkers)),
		WebhookMaxAttempts: int(getEnvInt64("WEBHOOK_MAX_ATTEMPTS", DefaultWebhookMaxAttempts)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		c.JWTSecret = "dev-insecure-secret"
	}

	if c.IAMURL != "" && c.IAMAdminPassword == "" {
		return fmt.Errorf("IAM_ADMIN_PASSWORD is required when IAM_URL is set")
	}

	if c.WebhookWorkers <= 0 {
		c.WebhookWorkers = DefaultWebhookWorkers
	}
	if c.WebhookMaxAttempts <= 0 {
		c.WebhookMaxAttempts = DefaultWebhookMaxAttempts
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
