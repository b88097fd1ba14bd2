package domain

import (
	"context"
	"time"
)

// ListOpts carries pagination options for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists normalized listings from both exchanges.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListByExchange(ctx context.Context, exchange Exchange, opts ListOpts) ([]Market, error)
	ListAll(ctx context.Context) ([]Market, error)
	// DeleteMissing removes markets of the given exchange whose ids are not
	// in present, returning the deleted ids. Callers guard against empty
	// present sets.
	DeleteMissing(ctx context.Context, exchange Exchange, present []string) ([]string, error)
	Count(ctx context.Context, exchange Exchange) (int64, error)
}

// MatchStore persists confirmed cross-exchange matches.
type MatchStore interface {
	Upsert(ctx context.Context, m ConfirmedMatch) (int64, error)
	GetByID(ctx context.Context, id int64) (ConfirmedMatch, error)
	GetByPair(ctx context.Context, polyID, kalshiID string) (ConfirmedMatch, error)
	List(ctx context.Context, opts ListOpts) ([]ConfirmedMatch, error)
	ListTopByVolume(ctx context.Context, limit int) ([]ConfirmedMatch, error)
	UpdatePrices(ctx context.Context, m ConfirmedMatch) error
	Delete(ctx context.Context, id int64) error
	// DeleteForMarkets removes matches referencing any of the given market
	// ids on either side, returning deleted match ids for cascade cleanup.
	DeleteForMarkets(ctx context.Context, marketIDs []string) ([]int64, error)
	Count(ctx context.Context) (int64, error)
}

// HistoryStore persists append-only price snapshots.
type HistoryStore interface {
	Append(ctx context.Context, s PriceSnapshot) error
	ListByMatch(ctx context.Context, matchID int64, opts ListOpts) ([]PriceSnapshot, error)
	DeleteByMatches(ctx context.Context, matchIDs []int64) error
	// ListOlderThan returns snapshots recorded before cutoff.
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]PriceSnapshot, error)
	// DeleteOlderThan removes snapshots recorded before cutoff and reports
	// how many rows were deleted. Callers archiving history must upload the
	// listed rows before deleting them.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MarketEmbedding is a stored question vector keyed by market id.
type MarketEmbedding struct {
	MarketID     string
	QuestionHash string
	Vector       []float32
	UpdatedAt    time.Time
}

// EmbeddingStore persists question vectors so unchanged questions are not
// re-embedded every cycle.
type EmbeddingStore interface {
	Get(ctx context.Context, marketID string) (MarketEmbedding, error)
	GetAll(ctx context.Context) ([]MarketEmbedding, error)
	Upsert(ctx context.Context, e MarketEmbedding) error
	DeleteByMarkets(ctx context.Context, marketIDs []string) error
}
