package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns Defaults plus the secrets Validate requires.
func validConfig() Config {
	cfg := Defaults()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Groq.APIKey = "gsk-test"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "scanner", cfg.Mode)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Scanner.DiscoveryInterval.Duration)
	assert.Equal(t, time.Minute, cfg.Scanner.RefreshInterval.Duration)
	assert.Equal(t, 200, cfg.Scanner.RefreshTopN)
	assert.Equal(t, 7*24*time.Hour, cfg.Scanner.Retention.Duration)
	assert.InDelta(t, 0.85, cfg.Matching.SimilarityThreshold, 1e-9)
	assert.InDelta(t, 0.07, cfg.Arb.KalshiFeeRate, 1e-9)
	assert.Equal(t, 30, cfg.Groq.RequestsPerMinute)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "scanner"

[matching]
similarity_threshold = 0.9
date_tolerance = "48h"

[scanner]
discovery_interval = "10m"

[scanner.stream]
reconnect_base = "1s"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scanner", cfg.Mode)
	assert.InDelta(t, 0.9, cfg.Matching.SimilarityThreshold, 1e-9)
	assert.Equal(t, 48*time.Hour, cfg.Matching.DateTolerance.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Scanner.DiscoveryInterval.Duration)
	assert.Equal(t, time.Second, cfg.Scanner.Stream.ReconnectBase.Duration)

	// Untouched values keep their defaults.
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.InDelta(t, 0.7, cfg.Matching.ConfidenceThreshold, 1e-9)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARBSCAN_MODE", "api")
	t.Setenv("ARBSCAN_SERVER_PORT", "9090")
	t.Setenv("ARBSCAN_GROQ_API_KEY", "gsk-env")
	t.Setenv("ARBSCAN_SCANNER_REFRESH_INTERVAL", "30s")
	t.Setenv("ARBSCAN_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "api", cfg.Mode)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gsk-env", cfg.Groq.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Scanner.RefreshInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateAcceptsDefaultsWithSecrets(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateAPIModeNeedsNoModelKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "api"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port must be 1-65535"},
		{"similarity out of range", func(c *Config) { c.Matching.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"zero discovery interval", func(c *Config) { c.Scanner.DiscoveryInterval.Duration = 0 }, "discovery_interval"},
		{"lone kalshi key", func(c *Config) { c.Kalshi.APIKeyID = "key" }, "set together"},
		{"backoff inverted", func(c *Config) {
			c.Scanner.Stream.ReconnectBase.Duration = 2 * time.Minute
		}, "reconnect_base"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "secret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.OpenAI.APIKey)
	assert.Equal(t, "***", red.Groq.APIKey)
	// Originals untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
