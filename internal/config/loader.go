package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBSCAN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBSCAN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Log ──
	setStr(&cfg.Log.Level, "ARBSCAN_LOG_LEVEL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBSCAN_SERVER_ENABLED")
	setStr(&cfg.Server.Host, "ARBSCAN_SERVER_HOST")
	setInt(&cfg.Server.Port, "ARBSCAN_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARBSCAN_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBSCAN_SERVER_CORS_ORIGINS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBSCAN_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBSCAN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBSCAN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBSCAN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBSCAN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBSCAN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBSCAN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBSCAN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBSCAN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBSCAN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBSCAN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBSCAN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBSCAN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBSCAN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBSCAN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBSCAN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBSCAN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBSCAN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBSCAN_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBSCAN_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ARBSCAN_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ARBSCAN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBSCAN_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ARBSCAN_S3_FORCE_PATH_STYLE")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaURL, "ARBSCAN_POLYMARKET_GAMMA_URL")
	setStr(&cfg.Polymarket.WsURL, "ARBSCAN_POLYMARKET_WS_URL")
	setInt(&cfg.Polymarket.PageSize, "ARBSCAN_POLYMARKET_PAGE_SIZE")
	setInt(&cfg.Polymarket.MaxPages, "ARBSCAN_POLYMARKET_MAX_PAGES")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.BaseURL, "ARBSCAN_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "ARBSCAN_KALSHI_WS_URL")
	setStr(&cfg.Kalshi.APIKeyID, "ARBSCAN_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.PrivateKeyPEM, "ARBSCAN_KALSHI_PRIVATE_KEY_PEM")
	setInt(&cfg.Kalshi.PageSize, "ARBSCAN_KALSHI_PAGE_SIZE")
	setInt(&cfg.Kalshi.MaxPages, "ARBSCAN_KALSHI_MAX_PAGES")

	// ── OpenAI ──
	setStr(&cfg.OpenAI.APIKey, "ARBSCAN_OPENAI_API_KEY")
	setStr(&cfg.OpenAI.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.OpenAI.BaseURL, "ARBSCAN_OPENAI_BASE_URL")
	setStr(&cfg.OpenAI.Model, "ARBSCAN_OPENAI_MODEL")
	setInt(&cfg.OpenAI.Dimensions, "ARBSCAN_OPENAI_DIMENSIONS")

	// ── Groq ──
	setStr(&cfg.Groq.APIKey, "ARBSCAN_GROQ_API_KEY")
	setStr(&cfg.Groq.APIKey, "GROQ_API_KEY") // compatibility alias
	setStr(&cfg.Groq.BaseURL, "ARBSCAN_GROQ_BASE_URL")
	setStr(&cfg.Groq.Model, "ARBSCAN_GROQ_MODEL")
	setInt(&cfg.Groq.RequestsPerMinute, "ARBSCAN_GROQ_REQUESTS_PER_MINUTE")

	// ── Matching ──
	setFloat64(&cfg.Matching.SimilarityThreshold, "ARBSCAN_MATCHING_SIMILARITY_THRESHOLD")
	setFloat64(&cfg.Matching.ConfidenceThreshold, "ARBSCAN_MATCHING_CONFIDENCE_THRESHOLD")
	setInt(&cfg.Matching.LLMBudget, "ARBSCAN_MATCHING_LLM_BUDGET")
	setDuration(&cfg.Matching.DateTolerance, "ARBSCAN_MATCHING_DATE_TOLERANCE")
	setFloat64(&cfg.Matching.InversionThreshold, "ARBSCAN_MATCHING_INVERSION_THRESHOLD")

	// ── Arb ──
	setFloat64(&cfg.Arb.KalshiFeeRate, "ARBSCAN_ARB_KALSHI_FEE_RATE")
	setFloat64(&cfg.Arb.KalshiFeeCap, "ARBSCAN_ARB_KALSHI_FEE_CAP")

	// ── Scanner ──
	setDuration(&cfg.Scanner.DiscoveryInterval, "ARBSCAN_SCANNER_DISCOVERY_INTERVAL")
	setDuration(&cfg.Scanner.RefreshInterval, "ARBSCAN_SCANNER_REFRESH_INTERVAL")
	setInt(&cfg.Scanner.RefreshTopN, "ARBSCAN_SCANNER_REFRESH_TOP_N")
	setInt(&cfg.Scanner.RefreshConcurrency, "ARBSCAN_SCANNER_REFRESH_CONCURRENCY")
	setDuration(&cfg.Scanner.HistoryThrottle, "ARBSCAN_SCANNER_HISTORY_THROTTLE")
	setDuration(&cfg.Scanner.Retention, "ARBSCAN_SCANNER_RETENTION")
	setDuration(&cfg.Scanner.Stream.ReconnectBase, "ARBSCAN_SCANNER_STREAM_RECONNECT_BASE")
	setDuration(&cfg.Scanner.Stream.ReconnectMax, "ARBSCAN_SCANNER_STREAM_RECONNECT_MAX")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBSCAN_MODE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
