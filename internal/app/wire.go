package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/arb"
	s3blob "github.com/alanyoungcy/arbscanner/internal/blob/s3"
	"github.com/alanyoungcy/arbscanner/internal/cache/redis"
	"github.com/alanyoungcy/arbscanner/internal/config"
	"github.com/alanyoungcy/arbscanner/internal/domain"
	"github.com/alanyoungcy/arbscanner/internal/match"
	"github.com/alanyoungcy/arbscanner/internal/platform/groq"
	"github.com/alanyoungcy/arbscanner/internal/platform/kalshi"
	"github.com/alanyoungcy/arbscanner/internal/platform/openai"
	"github.com/alanyoungcy/arbscanner/internal/platform/polymarket"
	"github.com/alanyoungcy/arbscanner/internal/store/postgres"
)

// Dependencies bundles every concrete collaborator the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Markets    domain.MarketStore
	Matches    domain.MatchStore
	History    domain.HistoryStore
	Embeddings domain.EmbeddingStore

	// Redis
	Prices      domain.PriceCache
	RateLimiter domain.RateLimiter
	Lock        domain.LockManager
	Bus         domain.SignalBus

	// Cold archive, nil when s3.enabled is false.
	Archiver domain.Archiver

	// Platform clients, nil in api mode.
	Gamma        *polymarket.GammaClient
	Kalshi       *kalshi.Client
	PolyStream   *polymarket.StreamClient
	KalshiStream *kalshi.StreamClient

	// Matching pipeline, nil in api mode.
	Index   *match.EmbeddingIndex
	Matcher *match.Matcher
	Calc    *arb.Calculator
}

// needsDiscovery returns true for modes that run the matching pipeline and
// therefore need the platform and model clients.
func needsDiscovery(mode string) bool {
	return mode != "api"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Matches = postgres.NewMatchStore(pool)
	deps.History = postgres.NewHistoryStore(pool)
	deps.Embeddings = postgres.NewEmbeddingStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Lock = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- S3 cold archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(writer, deps.History, cfg.S3.Prefix, logger)
	}

	// --- Platform + matching (not needed by the read-only API) ---
	if needsDiscovery(cfg.Mode) {
		deps.Gamma = polymarket.NewGammaClient(polymarket.Config{
			BaseURL:  cfg.Polymarket.GammaURL,
			PageSize: cfg.Polymarket.PageSize,
			MaxPages: cfg.Polymarket.MaxPages,
		}, logger)

		kalshiClient, err := kalshi.NewClient(kalshi.Config{
			BaseURL:       cfg.Kalshi.BaseURL,
			APIKeyID:      cfg.Kalshi.APIKeyID,
			PrivateKeyPEM: cfg.Kalshi.PrivateKeyPEM,
			PageSize:      cfg.Kalshi.PageSize,
			MaxPages:      cfg.Kalshi.MaxPages,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kalshi client: %w", err)
		}
		deps.Kalshi = kalshiClient

		embedder := openai.NewClient(openai.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			Dimensions: cfg.OpenAI.Dimensions,
		}, logger)

		confirmer := groq.NewClient(groq.Config{
			APIKey:     cfg.Groq.APIKey,
			BaseURL:    cfg.Groq.BaseURL,
			Model:      cfg.Groq.Model,
			RateLimit:  cfg.Groq.RequestsPerMinute,
			RateWindow: time.Minute,
		}, deps.RateLimiter, logger)

		deps.Index = match.NewEmbeddingIndex(deps.Embeddings, embedder, match.IndexConfig{
			SimilarityThreshold: cfg.Matching.SimilarityThreshold,
		}, logger)

		engine := match.NewEngine(confirmer, match.NewRejectionCache(), match.EngineConfig{
			ConfidenceThreshold: cfg.Matching.ConfidenceThreshold,
			MaxCallsPerCycle:    cfg.Matching.LLMBudget,
			DateTolerance:       cfg.Matching.DateTolerance.Duration,
			InversionThreshold:  cfg.Matching.InversionThreshold,
		}, logger)
		deps.Matcher = match.NewMatcher(deps.Index, engine, logger)

		deps.Calc = arb.New(arb.Config{
			KalshiFeeRate: cfg.Arb.KalshiFeeRate,
			KalshiFeeCap:  cfg.Arb.KalshiFeeCap,
		})

		deps.PolyStream = polymarket.NewStreamClient(cfg.Polymarket.WsURL, logger)
		deps.KalshiStream = kalshi.NewStreamClient(cfg.Kalshi.WsURL, kalshiClient, logger)
		base := cfg.Scanner.Stream.ReconnectBase.Duration
		ceiling := cfg.Scanner.Stream.ReconnectMax.Duration
		deps.PolyStream.SetReconnectBackoff(base, ceiling)
		deps.KalshiStream.SetReconnectBackoff(base, ceiling)
	}

	return deps, cleanup, nil
}
