package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://api.bcb.gov.br/dados/serie/bcdata.sgs", cfg.RateAuthorityURL)
	assert.Equal(t, "config/tables.yaml", cfg.TablesFile)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.MaxStaleTime)
	assert.Equal(t, 128, cfg.CacheMaxSize)
	assert.True(t, cfg.UseStaleOnError)
	assert.Equal(t, 60, cfg.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Window)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.False(t, cfg.ExportEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("USE_STALE_ON_ERROR", "false")
	t.Setenv("CACHE_MAX_SIZE", "16")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.UseStaleOnError)
	assert.Equal(t, 16, cfg.CacheMaxSize)
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, GetEnvAsInt("TEST_INT", 7))
	assert.Equal(t, 7, GetEnvAsInt("TEST_INT_MISSING", 7))

	t.Setenv("TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, GetEnvAsInt("TEST_INT_BAD", 7))
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.84")
	assert.Equal(t, 0.84, GetEnvAsFloat("TEST_FLOAT", 1.0))
	assert.Equal(t, 1.0, GetEnvAsFloat("TEST_FLOAT_MISSING", 1.0))
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	assert.True(t, GetEnvAsBool("TEST_BOOL", false))

	t.Setenv("TEST_BOOL_PADDED", " 1 ")
	assert.True(t, GetEnvAsBool("TEST_BOOL_PADDED", false))

	t.Setenv("TEST_BOOL_BAD", "yep")
	assert.True(t, GetEnvAsBool("TEST_BOOL_BAD", true))
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, GetEnvAsDuration("TEST_DUR_MISSING", time.Minute))
}
