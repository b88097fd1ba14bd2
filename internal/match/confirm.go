package match

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// ErrMalformedVerdict marks a confirmation response that could not be
// parsed. Distinct from transport errors: a malformed verdict rejects the
// candidate for this cycle without caching, so it gets another look.
var ErrMalformedVerdict = errors.New("malformed confirmation verdict")

// Verdict is the structured answer from the confirmation service.
type Verdict struct {
	Confirmed  bool
	Confidence float64
	Inverted   bool
	Reasoning  string
}

// Confirmer asks an external service whether two market summaries describe
// the same resolvable event with the same YES side.
type Confirmer interface {
	Confirm(ctx context.Context, poly, kalshi domain.Market) (Verdict, error)
}

// CacheKey is the rejection/persistence cache key for a pair.
func CacheKey(polyID, kalshiID string) string {
	sum := md5.Sum([]byte(polyID + "|" + kalshiID))
	return hex.EncodeToString(sum[:])
}

// RejectionCache remembers pairs the engine has already rejected this
// process lifetime. It is deliberately not persisted: it exists to stop the
// confirmation budget being burned on known-bad pairs every cycle, and a
// restart gives every pair a fresh look under whatever prompt is deployed.
type RejectionCache struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewRejectionCache creates an empty cache.
func NewRejectionCache() *RejectionCache {
	return &RejectionCache{keys: make(map[string]struct{})}
}

// Add records a rejected pair key.
func (c *RejectionCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = struct{}{}
}

// Has reports whether a pair key was already rejected.
func (c *RejectionCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[key]
	return ok
}

// Len returns the number of cached rejections.
func (c *RejectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// EngineConfig tunes the confirmation engine.
type EngineConfig struct {
	ConfidenceThreshold float64       // verdicts below this are rejected
	MaxCallsPerCycle    int           // confirmation budget per discovery cycle
	DateTolerance       time.Duration // end-date prefilter window
	InversionThreshold  float64       // price-heuristic margin for probable inversions
}

// DefaultEngineConfig returns the tuning the scanner ships with.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ConfidenceThreshold: 0.7,
		MaxCallsPerCycle:    200,
		DateTolerance:       72 * time.Hour,
		InversionThreshold:  0.20,
	}
}

// EngineStats counts what happened to one cycle's candidates.
type EngineStats struct {
	Calls            int `json:"calls"`
	Confirmed        int `json:"confirmed"`
	Rejected         int `json:"rejected"`
	Deferred         int `json:"deferred"`
	AlreadyMatched   int `json:"already_matched"`
	RejectionSkipped int `json:"rejection_skipped"`
	DateSkipped      int `json:"date_skipped"`
	ThresholdSkipped int `json:"threshold_skipped"`
	Errors           int `json:"errors"`
}

// Engine runs candidates through the prefilter / confirmation state machine:
// new -> prefiltered-out | call -> confirmed | rejected. Candidates past the
// per-cycle budget are deferred untouched.
type Engine struct {
	confirmer  Confirmer
	rejections *RejectionCache
	cfg        EngineConfig
	logger     *slog.Logger
}

// NewEngine creates a confirmation engine. The rejection cache is injected
// so its lifetime is owned by the process, not the engine.
func NewEngine(confirmer Confirmer, rejections *RejectionCache, cfg EngineConfig, logger *slog.Logger) *Engine {
	def := DefaultEngineConfig()
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.MaxCallsPerCycle == 0 {
		cfg.MaxCallsPerCycle = def.MaxCallsPerCycle
	}
	if cfg.DateTolerance == 0 {
		cfg.DateTolerance = def.DateTolerance
	}
	if cfg.InversionThreshold == 0 {
		cfg.InversionThreshold = def.InversionThreshold
	}
	return &Engine{
		confirmer:  confirmer,
		rejections: rejections,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "confirmation_engine")),
	}
}

// ConfirmCandidates filters and confirms one cycle's candidates.
// existingKeys holds CacheKeys of already-persisted matches so they are
// skipped, not re-confirmed. markets maps composite id to the full record.
func (e *Engine) ConfirmCandidates(
	ctx context.Context,
	candidates []domain.MatchCandidate,
	markets map[string]domain.Market,
	existingKeys map[string]struct{},
) ([]domain.MatchCandidate, EngineStats) {
	var accepted []domain.MatchCandidate
	var stats EngineStats

	for _, cand := range candidates {
		if ctx.Err() != nil {
			stats.Deferred++
			continue
		}
		if stats.Calls >= e.cfg.MaxCallsPerCycle {
			// Budget spent: everything else waits for the next cycle.
			stats.Deferred++
			continue
		}

		key := CacheKey(cand.PolyID, cand.KalshiID)
		if _, ok := existingKeys[key]; ok {
			stats.AlreadyMatched++
			continue
		}
		if e.rejections.Has(key) {
			stats.RejectionSkipped++
			continue
		}

		poly, okP := markets[cand.PolyID]
		kalshi, okK := markets[cand.KalshiID]
		if !okP || !okK {
			stats.Errors++
			continue
		}

		if !DatesCompatible(poly.EndDate, kalshi.EndDate, e.cfg.DateTolerance) {
			e.rejections.Add(key)
			stats.DateSkipped++
			continue
		}
		if !ThresholdsCompatible(poly.Question, kalshi.Question) {
			e.rejections.Add(key)
			stats.ThresholdSkipped++
			continue
		}
		verdict, err := e.confirmer.Confirm(ctx, poly, kalshi)
		stats.Calls++
		if err != nil {
			if errors.Is(err, ErrMalformedVerdict) {
				// Reject for this cycle but do not cache: the service may
				// answer cleanly next time.
				stats.Rejected++
				continue
			}
			// Service unavailable: defer the candidate, it stays eligible.
			e.logger.Warn("confirmation call failed",
				slog.String("poly_id", cand.PolyID),
				slog.String("kalshi_id", cand.KalshiID),
				slog.Any("error", err),
			)
			stats.Deferred++
			stats.Errors++
			continue
		}

		if !verdict.Confirmed || verdict.Confidence < e.cfg.ConfidenceThreshold || verdict.Inverted {
			// Inverted means same event, opposite YES sides. The scanner
			// never flips prices on the service's word alone, so both
			// outcomes are rejections.
			e.rejections.Add(key)
			stats.Rejected++
			continue
		}

		if rejected := e.orientationReject(cand, poly, kalshi, key); rejected {
			stats.Rejected++
			continue
		}

		if verdict.Reasoning != "" {
			cand.Reasoning = verdict.Reasoning
		}
		if verdict.Confidence > 0 {
			cand.Confidence = verdict.Confidence
		}
		accepted = append(accepted, cand)
		stats.Confirmed++
	}

	return accepted, stats
}

// orientationReject re-verifies YES orientation independently of the
// confirmation call. Sports pairs use the deterministic ticker check; for
// unknown orientations a price heuristic rejects probable inversions when
// 1 - kalshiYes explains the Polymarket price far better than kalshiYes does.
func (e *Engine) orientationReject(cand domain.MatchCandidate, poly, kalshi domain.Market, key string) bool {
	if g, ok := ParsePolySlug(poly.EventSlug); ok {
		switch Orientation(cand.KalshiID, g.Team1, g.Team2) {
		case domain.OrientationInverted:
			e.logger.Info("orientation check rejected inverted pair",
				slog.String("poly_id", cand.PolyID),
				slog.String("kalshi_id", cand.KalshiID),
			)
			e.rejections.Add(key)
			return true
		case domain.OrientationAligned:
			return false
		}
	}

	alignedDiff := math.Abs(poly.YesPrice - kalshi.YesPrice)
	invertedDiff := math.Abs(poly.YesPrice - (1 - kalshi.YesPrice))
	if alignedDiff-invertedDiff > e.cfg.InversionThreshold {
		e.rejections.Add(key)
		e.logger.Info("price heuristic rejected probable inversion",
			slog.String("poly_id", cand.PolyID),
			slog.String("kalshi_id", cand.KalshiID),
			slog.Float64("aligned_diff", alignedDiff),
			slog.Float64("inverted_diff", invertedDiff),
		)
		return true
	}
	return false
}
