// Package config defines the top-level configuration for the arbitrage
// scanner and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBSCAN_* environment variables.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	OpenAI     OpenAIConfig     `toml:"openai"`
	Groq       GroqConfig       `toml:"groq"`
	Matching   MatchingConfig   `toml:"matching"`
	Arb        ArbConfig        `toml:"arb"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Mode       string           `toml:"mode"`
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level string `toml:"level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN, when set, takes
// precedence over the individual fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PolymarketConfig holds Polymarket API endpoints and paging parameters.
type PolymarketConfig struct {
	GammaURL string `toml:"gamma_url"`
	WsURL    string `toml:"ws_url"`
	PageSize int    `toml:"page_size"`
	MaxPages int    `toml:"max_pages"`
}

// KalshiConfig holds Kalshi API endpoints and credentials. The credentials
// are optional; discovery and the ticker stream are public.
type KalshiConfig struct {
	BaseURL       string `toml:"base_url"`
	WsURL         string `toml:"ws_url"`
	APIKeyID      string `toml:"api_key_id"`
	PrivateKeyPEM string `toml:"private_key_pem"`
	PageSize      int    `toml:"page_size"`
	MaxPages      int    `toml:"max_pages"`
}

// OpenAIConfig holds the embedding provider parameters.
type OpenAIConfig struct {
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

// GroqConfig holds the LLM confirmation provider parameters.
type GroqConfig struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// MatchingConfig tunes the entity-resolution pipeline.
type MatchingConfig struct {
	SimilarityThreshold float64  `toml:"similarity_threshold"`
	ConfidenceThreshold float64  `toml:"confidence_threshold"`
	LLMBudget           int      `toml:"llm_budget"`
	DateTolerance       duration `toml:"date_tolerance"`
	InversionThreshold  float64  `toml:"inversion_threshold"`
}

// ArbConfig tunes the spread calculator.
type ArbConfig struct {
	KalshiFeeRate float64 `toml:"kalshi_fee_rate"`
	KalshiFeeCap  float64 `toml:"kalshi_fee_cap"`
}

// ScannerConfig tunes the discovery and refresh loops.
type ScannerConfig struct {
	DiscoveryInterval  duration     `toml:"discovery_interval"`
	RefreshInterval    duration     `toml:"refresh_interval"`
	RefreshTopN        int          `toml:"refresh_top_n"`
	RefreshConcurrency int          `toml:"refresh_concurrency"`
	HistoryThrottle    duration     `toml:"history_throttle"`
	Retention          duration     `toml:"retention"`
	Stream             StreamConfig `toml:"stream"`
}

// StreamConfig tunes the WebSocket reconnect backoff.
type StreamConfig struct {
	ReconnectBase duration `toml:"reconnect_base"`
	ReconnectMax  duration `toml:"reconnect_max"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Enabled:     true,
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbscanner",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbscanner-data",
			Prefix:         "history",
			ForcePathStyle: true,
		},
		Polymarket: PolymarketConfig{
			GammaURL: "https://gamma-api.polymarket.com",
			WsURL:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			PageSize: 100,
			MaxPages: 50,
		},
		Kalshi: KalshiConfig{
			BaseURL:  "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:    "wss://api.elections.kalshi.com/trade-api/ws/v2",
			PageSize: 100,
			MaxPages: 50,
		},
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 512,
		},
		Groq: GroqConfig{
			BaseURL:           "https://api.groq.com/openai/v1",
			Model:             "llama-3.3-70b-versatile",
			RequestsPerMinute: 30,
		},
		Matching: MatchingConfig{
			SimilarityThreshold: 0.85,
			ConfidenceThreshold: 0.7,
			LLMBudget:           50,
			DateTolerance:       duration{72 * time.Hour},
			InversionThreshold:  0.20,
		},
		Arb: ArbConfig{
			KalshiFeeRate: 0.07,
			KalshiFeeCap:  0.02,
		},
		Scanner: ScannerConfig{
			DiscoveryInterval:  duration{5 * time.Minute},
			RefreshInterval:    duration{time.Minute},
			RefreshTopN:        200,
			RefreshConcurrency: 10,
			HistoryThrottle:    duration{time.Minute},
			Retention:          duration{7 * 24 * time.Hour},
			Stream: StreamConfig{
				ReconnectBase: duration{2 * time.Second},
				ReconnectMax:  duration{60 * time.Second},
			},
		},
		Mode: "scanner",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scanner": true, // loops + streams + HTTP API in one process
	"api":     true, // HTTP API + hub only, scanner runs elsewhere
	"once":    true, // single discovery cycle, then exit
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scanner, api, once)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log.level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if c.Polymarket.GammaURL == "" {
		errs = append(errs, "polymarket: gamma_url must not be empty")
	}
	if c.Polymarket.WsURL == "" {
		errs = append(errs, "polymarket: ws_url must not be empty")
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Kalshi.WsURL == "" {
		errs = append(errs, "kalshi: ws_url must not be empty")
	}

	// Kalshi credentials come in pairs.
	if (c.Kalshi.APIKeyID == "") != (c.Kalshi.PrivateKeyPEM == "") {
		errs = append(errs, "kalshi: api_key_id and private_key_pem must be set together")
	}

	// Discovery needs both model providers.
	needsModels := c.Mode != "api"
	if needsModels {
		if c.OpenAI.APIKey == "" {
			errs = append(errs, "openai: api_key is required for mode "+c.Mode)
		}
		if c.Groq.APIKey == "" {
			errs = append(errs, "groq: api_key is required for mode "+c.Mode)
		}
	}
	if c.OpenAI.Dimensions <= 0 {
		errs = append(errs, "openai: dimensions must be > 0")
	}
	if c.Groq.RequestsPerMinute < 1 {
		errs = append(errs, "groq: requests_per_minute must be >= 1")
	}

	if c.Matching.SimilarityThreshold <= 0 || c.Matching.SimilarityThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("matching: similarity_threshold must be in (0, 1), got %g", c.Matching.SimilarityThreshold))
	}
	if c.Matching.ConfidenceThreshold <= 0 || c.Matching.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("matching: confidence_threshold must be in (0, 1], got %g", c.Matching.ConfidenceThreshold))
	}
	if c.Matching.LLMBudget < 1 {
		errs = append(errs, "matching: llm_budget must be >= 1")
	}

	if c.Arb.KalshiFeeRate < 0 {
		errs = append(errs, "arb: kalshi_fee_rate must be >= 0")
	}
	if c.Arb.KalshiFeeCap < 0 {
		errs = append(errs, "arb: kalshi_fee_cap must be >= 0")
	}

	if c.Scanner.DiscoveryInterval.Duration <= 0 {
		errs = append(errs, "scanner: discovery_interval must be > 0")
	}
	if c.Scanner.RefreshInterval.Duration <= 0 {
		errs = append(errs, "scanner: refresh_interval must be > 0")
	}
	if c.Scanner.RefreshTopN < 1 {
		errs = append(errs, "scanner: refresh_top_n must be >= 1")
	}
	if c.Scanner.RefreshConcurrency < 1 {
		errs = append(errs, "scanner: refresh_concurrency must be >= 1")
	}
	if c.Scanner.Stream.ReconnectBase.Duration > c.Scanner.Stream.ReconnectMax.Duration {
		errs = append(errs, "scanner: stream.reconnect_base must not exceed stream.reconnect_max")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
