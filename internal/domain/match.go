package domain

import "time"

// CandidateSource tags which discovery path produced a candidate.
type CandidateSource string

const (
	SourceDeterministic CandidateSource = "deterministic"
	SourceKeyword       CandidateSource = "keyword"
	SourceEmbedding     CandidateSource = "embedding"
)

// MatchCandidate is an unconfirmed cross-exchange pair believed to describe
// the same event. Candidates live for one discovery cycle and are never
// persisted.
type MatchCandidate struct {
	PolyID     string
	KalshiID   string
	Confidence float64
	Reasoning  string
	Source     CandidateSource
}

// Orientation describes how the YES sides of a pair relate.
type Orientation string

const (
	OrientationAligned  Orientation = "aligned"
	OrientationInverted Orientation = "inverted"
	OrientationUnknown  Orientation = "unknown"
)

// Direction of a profitable trade across the two venues.
const (
	DirectionBuyKalshiSellPoly = "buy_kalshi_sell_poly"
	DirectionBuyPolySellKalshi = "buy_poly_sell_kalshi"
)

// ConfirmedMatch is a persisted pair of listings judged to be the same
// resolvable event with the same YES proposition. Unique per
// (poly_id, kalshi_id).
type ConfirmedMatch struct {
	ID                int64
	PolyID            string
	KalshiID          string
	Confidence        float64
	PolyYes           float64
	KalshiYes         float64
	PolyVolume        float64
	KalshiVolume      float64
	Spread            float64
	FeeAdjustedSpread float64
	Direction         string
	Profitable        bool
	PolyQuestion      string
	KalshiQuestion    string
	Reasoning         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PriceSnapshot is one append-only history point for a confirmed match.
// Rows are throttled during streaming updates and pruned after retention.
type PriceSnapshot struct {
	ID                int64
	MatchID           int64
	PolyYes           float64
	KalshiYes         float64
	Spread            float64
	FeeAdjustedSpread float64
	RecordedAt        time.Time
}

// PriceUpdate is the compact payload broadcast to push subscribers after a
// match's prices change.
type PriceUpdate struct {
	MatchID           int64     `json:"match_id"`
	PolyYes           float64   `json:"poly_yes"`
	PolyNo            float64   `json:"poly_no"`
	KalshiYes         float64   `json:"kalshi_yes"`
	KalshiNo          float64   `json:"kalshi_no"`
	Spread            float64   `json:"spread"`
	FeeAdjustedSpread float64   `json:"fee_adjusted_spread"`
	UpdatedAt         time.Time `json:"last_updated"`
}
