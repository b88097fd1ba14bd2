// Package arb computes fee-adjusted arbitrage spreads between a Polymarket
// listing and a Kalshi listing of the same event.
package arb

import "math"

// Config holds the venue fee model.
type Config struct {
	KalshiFeeRate float64 // quadratic fee coefficient, fee = rate * p * (1-p)
	KalshiFeeCap  float64 // hard per-contract cap on the Kalshi fee
	PolyFeeRate   float64 // Polymarket charges no trading fee today
}

// DefaultConfig returns the published fee schedule for both venues.
func DefaultConfig() Config {
	return Config{
		KalshiFeeRate: 0.07,
		KalshiFeeCap:  0.02,
		PolyFeeRate:   0,
	}
}

// Spread is the result of evaluating one price pair.
type Spread struct {
	Raw         float64 // |polyYes - kalshiYes|, before fees
	FeeAdjusted float64 // raw minus both venues' fees, clamped at 0
	Fees        float64 // total fees charged on the round trip
	Direction   string  // domain.DirectionBuyKalshiSellPoly / ...BuyPolySellKalshi
	Profitable  bool    // fee-adjusted spread strictly positive
}

// Calculator computes spreads under a fixed fee model.
type Calculator struct {
	cfg Config
}

// New creates a calculator. Zero-value fields in cfg fall back to defaults.
func New(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.KalshiFeeRate == 0 {
		cfg.KalshiFeeRate = def.KalshiFeeRate
	}
	if cfg.KalshiFeeCap == 0 {
		cfg.KalshiFeeCap = def.KalshiFeeCap
	}
	return &Calculator{cfg: cfg}
}

// KalshiFee returns the Kalshi taker fee for a contract at yes price p.
// The fee is quadratic in price and capped, so it is symmetric between the
// yes and no sides of the same contract.
func (c *Calculator) KalshiFee(p float64) float64 {
	fee := c.cfg.KalshiFeeRate * p * (1 - p)
	if fee > c.cfg.KalshiFeeCap {
		fee = c.cfg.KalshiFeeCap
	}
	if fee < 0 {
		fee = 0
	}
	return fee
}

// Compute evaluates both trade directions for a pair of YES prices and
// returns the better one. The fee-adjusted spread is never negative; a pair
// whose fees consume the whole raw spread comes back with FeeAdjusted == 0
// and Profitable == false.
func (c *Calculator) Compute(polyYes, kalshiYes float64) Spread {
	raw := round4(math.Abs(polyYes - kalshiYes))

	// The Kalshi fee is the same whichever side of the contract is bought,
	// and Polymarket charges PolyFeeRate on the traded side.
	fees := c.KalshiFee(kalshiYes) + c.cfg.PolyFeeRate*polyYes*(1-polyYes)

	adjusted := raw - fees
	if adjusted < 0 {
		adjusted = 0
	}

	direction := "buy_poly_sell_kalshi"
	if polyYes >= kalshiYes {
		direction = "buy_kalshi_sell_poly"
	}

	return Spread{
		Raw:         raw,
		FeeAdjusted: round4(adjusted),
		Fees:        round4(fees),
		Direction:   direction,
		Profitable:  round4(adjusted) > 0,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
