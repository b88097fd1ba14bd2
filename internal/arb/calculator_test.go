package arb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKalshiFee(t *testing.T) {
	c := New(Config{})

	// Quadratic below the cap.
	assert.InDelta(t, 0.0175, c.KalshiFee(0.50), 1e-9)
	assert.InDelta(t, 0.0063, c.KalshiFee(0.10), 1e-9)

	// Capped near the middle of the book... 0.07*0.5*0.5 = 0.0175 < 0.02,
	// so the default schedule never actually hits the cap; a steeper rate does.
	steep := New(Config{KalshiFeeRate: 0.2})
	assert.InDelta(t, 0.02, steep.KalshiFee(0.50), 1e-9)

	// Degenerate prices carry no fee.
	assert.Zero(t, c.KalshiFee(0))
	assert.Zero(t, c.KalshiFee(1))
}

func TestComputeDirections(t *testing.T) {
	c := New(Config{})

	tests := []struct {
		name       string
		polyYes    float64
		kalshiYes  float64
		direction  string
		profitable bool
	}{
		{"poly rich", 0.70, 0.50, "buy_kalshi_sell_poly", true},
		{"kalshi rich", 0.40, 0.65, "buy_poly_sell_kalshi", true},
		{"fees eat the edge", 0.51, 0.50, "buy_kalshi_sell_poly", false},
		{"identical", 0.50, 0.50, "buy_kalshi_sell_poly", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := c.Compute(tt.polyYes, tt.kalshiYes)
			assert.Equal(t, tt.direction, s.Direction)
			assert.Equal(t, tt.profitable, s.Profitable)
		})
	}
}

func TestComputeFeeAdjusted(t *testing.T) {
	c := New(Config{})

	// 0.70 vs 0.50: raw 0.20, kalshi fee 0.0175, poly fee 0.
	s := c.Compute(0.70, 0.50)
	require.InDelta(t, 0.20, s.Raw, 1e-9)
	assert.InDelta(t, 0.1825, s.FeeAdjusted, 1e-9)
	assert.True(t, s.Profitable)

	// 0.51 vs 0.50: raw 0.01 < fee 0.0175, clamps to exactly zero.
	s = c.Compute(0.51, 0.50)
	assert.Equal(t, 0.0, s.FeeAdjusted)
	assert.False(t, s.Profitable)
}

func TestFeeAdjustedNeverNegative(t *testing.T) {
	c := New(Config{})
	for p := 0.0; p <= 1.0; p += 0.05 {
		for k := 0.0; k <= 1.0; k += 0.05 {
			s := c.Compute(p, k)
			require.GreaterOrEqual(t, s.FeeAdjusted, 0.0, "poly=%.2f kalshi=%.2f", p, k)
		}
	}
}

func TestFeeAdjustedMonotoneInRawSpread(t *testing.T) {
	c := New(Config{})
	// Fix the Kalshi leg so fees stay constant, widen the poly leg.
	const kalshiYes = 0.50
	prev := -1.0
	for p := kalshiYes; p <= 1.0; p += 0.01 {
		s := c.Compute(p, kalshiYes)
		require.GreaterOrEqual(t, s.FeeAdjusted, prev, "poly=%.2f", p)
		prev = s.FeeAdjusted
	}
}
