package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Exchange identifies which venue a market is listed on.
type Exchange string

const (
	ExchangePolymarket Exchange = "polymarket"
	ExchangeKalshi     Exchange = "kalshi"
)

// MarketID builds the composite identifier under which a market is stored.
func MarketID(exchange Exchange, nativeID string) string {
	return string(exchange) + ":" + nativeID
}

// SplitMarketID splits a composite market id back into exchange and native id.
func SplitMarketID(id string) (Exchange, string, error) {
	exchange, native, ok := strings.Cut(id, ":")
	if !ok || exchange == "" || native == "" {
		return "", "", fmt.Errorf("%w: market id %q", ErrInvalidInput, id)
	}
	return Exchange(exchange), native, nil
}

// Market is one normalized listing on one exchange. Ingestion produces exactly
// this shape for both venues; everything downstream operates on it.
//
// YesPrice and NoPrice are each in [0,1] but need not sum to 1: order-book
// venues quote both sides independently. A missing side is synthesized as
// 1 - other only as a last resort during normalization.
type Market struct {
	ID        string // composite "exchange:native-id"
	Exchange  Exchange
	Question  string
	Category  string
	YesPrice  float64
	NoPrice   float64
	Volume    float64
	EndDate   *time.Time
	URL       string
	Raw       json.RawMessage // exchange-specific payload, pass-through
	UpdatedAt time.Time

	// Sports metadata, empty for non-sports listings.
	EventSlug     string // Polymarket event slug, e.g. "nba-okc-det-2026-02-25"
	MarketTicker  string // Kalshi market ticker, e.g. "KXNBAGAME-26FEB25OKCDET-OKC"
	MarketSubtype string // "" or "moneyline" participate in sports matching

	// StreamKey is the identifier used on the exchange's push feed:
	// the CLOB token id on Polymarket, the market ticker on Kalshi.
	StreamKey string
}

// Active reports whether the market should participate in candidate
// generation: it has traded, and its price is not pinned near resolution.
func (m Market) Active() bool {
	return m.Volume > 0 && m.YesPrice > 0.02 && m.YesPrice < 0.98
}
