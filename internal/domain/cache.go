package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest prices by composite market id.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, yes, no float64, ts time.Time) error
	GetPrice(ctx context.Context, marketID string) (yes, no float64, ts time.Time, err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out between the stream manager and the
// broadcast hub, so an api-mode process can serve pushes from a scanner
// running elsewhere.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
