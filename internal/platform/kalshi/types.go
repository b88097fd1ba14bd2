package kalshi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// APIMarket is a market as returned by the Kalshi trade API. Prices are in
// cents (1-99).
type APIMarket struct {
	Ticker      string  `json:"ticker"`
	EventTicker string  `json:"event_ticker"`
	Title       string  `json:"title"`
	Subtitle    string  `json:"subtitle"`
	YesSubTitle string  `json:"yes_sub_title"`
	Status      string  `json:"status"`
	Category    string  `json:"category"`
	YesBid      float64 `json:"yes_bid"`
	YesAsk      float64 `json:"yes_ask"`
	NoBid       float64 `json:"no_bid"`
	NoAsk       float64 `json:"no_ask"`
	LastPrice   float64 `json:"last_price"`
	Volume      float64 `json:"volume"`
	CloseTime   string  `json:"close_time"`
}

// ToDomain normalizes an API market into the scanner's market record.
func (m *APIMarket) ToDomain(raw json.RawMessage) domain.Market {
	yes := yesPriceFromCents(m.LastPrice, m.YesBid, m.YesAsk)
	dm := domain.Market{
		ID:           domain.MarketID(domain.ExchangeKalshi, m.Ticker),
		Exchange:     domain.ExchangeKalshi,
		Question:     m.Title,
		Category:     m.Category,
		YesPrice:     yes,
		NoPrice:      noPriceFromCents(m.NoAsk, m.NoBid, yes),
		Volume:       m.Volume,
		URL:          "https://kalshi.com/markets/" + strings.ToLower(m.EventTicker),
		EventSlug:    m.EventTicker,
		MarketTicker: m.Ticker,
		StreamKey:    m.Ticker,
		Raw:          raw,
		UpdatedAt:    time.Now().UTC(),
	}
	if m.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
			dm.EndDate = &t
		}
	}
	return dm
}

// yesPriceFromCents picks the YES price: last trade, then bid/ask midpoint,
// then ask alone. Inputs are cents, the result is a probability.
func yesPriceFromCents(last, bid, ask float64) float64 {
	switch {
	case last > 0:
		return clamp01(last / 100)
	case bid > 0 && ask > 0:
		return clamp01((bid + ask) / 200)
	default:
		return clamp01(ask / 100)
	}
}

// noPriceFromCents picks the NO price: ask, then bid, then the YES
// complement.
func noPriceFromCents(ask, bid, yes float64) float64 {
	switch {
	case ask > 0:
		return clamp01(ask / 100)
	case bid > 0:
		return clamp01(bid / 100)
	default:
		return clamp01(1 - yes)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// APIError is the trade API error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsEnvelope wraps every WebSocket frame from the trade API.
type wsEnvelope struct {
	Type string          `json:"type"`
	ID   int64           `json:"id"`
	SID  int64           `json:"sid"`
	Msg  json.RawMessage `json:"msg"`
}

// wsSubscribed is the body of a "subscribed" acknowledgement.
type wsSubscribed struct {
	Channel string `json:"channel"`
	SID     int64  `json:"sid"`
}

// wsTicker is the body of a "ticker" channel event. Prices are cents.
type wsTicker struct {
	MarketTicker string  `json:"market_ticker"`
	Ticker       string  `json:"ticker"`
	YesBid       float64 `json:"yes_bid"`
	YesAsk       float64 `json:"yes_ask"`
	NoBid        float64 `json:"no_bid"`
	NoAsk        float64 `json:"no_ask"`
	LastPrice    float64 `json:"last_price"`
	Volume       float64 `json:"volume"`
}

// wsCommand is a command frame sent to the trade API WebSocket.
type wsCommand struct {
	ID     int64    `json:"id"`
	Cmd    string   `json:"cmd"`
	Params wsParams `json:"params"`
}

type wsParams struct {
	Channels []string `json:"channels,omitempty"`
	Tickers  []string `json:"market_tickers,omitempty"`
	SIDs     []int64  `json:"sids,omitempty"`
	Action   string   `json:"action,omitempty"`
}
