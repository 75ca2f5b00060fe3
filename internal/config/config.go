// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Base URL of the rate authority's time-series API
	RateAuthorityURL string

	// Path to the YAML tables file (series codes, escalation schedules,
	// oversizing scenarios, personas)
	TablesFile string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Timeout applied to every outbound fetch
	RequestTimeout time.Duration

	// Cache settings
	CacheTTL     time.Duration
	MaxStaleTime time.Duration
	CacheMaxSize int

	// Stale fallback policy
	UseStaleOnError bool

	// Outbound rate limiting: at most MaxRequests per Window
	MaxRequests int
	Window      time.Duration

	// Circuit breaker settings for the rate authority
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// Inbound API rate limiting
	APIRequestsPerSecond float64
	APIBurst             int

	// Webhook export of finished analyses
	ExportEnabled   bool
	ExportURL       string
	ExportAPIKey    string
	ExportBatchSize int
	ExportInterval  time.Duration

	// Logging
	LogFile      string
	LogMaxSizeMB int
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:             GetEnvOrDefault("PORT", "8080"),
		RateAuthorityURL: GetEnvOrDefault("RATE_AUTHORITY_URL", "https://api.bcb.gov.br/dados/serie/bcdata.sgs"),
		TablesFile:       GetEnvOrDefault("TABLES_FILE", "config/tables.yaml"),
		OtelEndpoint:     GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		RequestTimeout:   GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),

		CacheTTL:     GetEnvAsDuration("CACHE_TTL", 30*time.Minute),
		MaxStaleTime: GetEnvAsDuration("MAX_STALE_TIME", 24*time.Hour),
		CacheMaxSize: GetEnvAsInt("CACHE_MAX_SIZE", 128),

		UseStaleOnError: GetEnvAsBool("USE_STALE_ON_ERROR", true),

		MaxRequests: GetEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 60),
		Window:      GetEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),

		BreakerFailureThreshold: GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         GetEnvAsDuration("BREAKER_COOLDOWN", 2*time.Minute),

		APIRequestsPerSecond: GetEnvAsFloat("API_RATE_LIMIT_RPS", 20.0),
		APIBurst:             GetEnvAsInt("API_RATE_LIMIT_BURST", 40),

		ExportEnabled:   GetEnvAsBool("EXPORT_ENABLED", false),
		ExportURL:       GetEnvOrDefault("EXPORT_WEBHOOK_URL", ""),
		ExportAPIKey:    GetEnvOrDefault("EXPORT_WEBHOOK_API_KEY", ""),
		ExportBatchSize: GetEnvAsInt("EXPORT_BATCH_SIZE", 50),
		ExportInterval:  GetEnvAsDuration("EXPORT_INTERVAL", time.Minute),

		LogFile:      GetEnvOrDefault("LOG_FILE", ""),
		LogMaxSizeMB: GetEnvAsInt("LOG_MAX_SIZE_MB", 100),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
