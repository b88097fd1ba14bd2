package match

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// Matcher runs the full candidate-generation and confirmation pipeline for
// one discovery cycle: deterministic sports pass, embedding similarity pass,
// team keyword pass, de-duplication, then the confirmation engine.
type Matcher struct {
	index  *EmbeddingIndex
	engine *Engine
	logger *slog.Logger
}

// NewMatcher wires the candidate producers to the confirmation engine.
func NewMatcher(index *EmbeddingIndex, engine *Engine, logger *slog.Logger) *Matcher {
	return &Matcher{
		index:  index,
		engine: engine,
		logger: logger.With(slog.String("component", "matcher")),
	}
}

// Result is the outcome of one matching pass.
type Result struct {
	Matches             []domain.MatchCandidate
	DeterministicCount  int
	EmbeddingCandidates int
	KeywordCandidates   int
	Stats               EngineStats
}

// Match produces confirmed matches from the current listings. existingKeys
// holds CacheKeys of already-persisted pairs; those are counted but not
// re-emitted. A pair found by both producers is processed exactly once, with
// the deterministic path taking precedence.
func (m *Matcher) Match(
	ctx context.Context,
	polyMarkets, kalshiMarkets []domain.Market,
	existingKeys map[string]struct{},
) (Result, error) {
	if len(polyMarkets) == 0 || len(kalshiMarkets) == 0 {
		m.logger.Info("nothing to match",
			slog.Int("poly", len(polyMarkets)),
			slog.Int("kalshi", len(kalshiMarkets)),
		)
		return Result{}, nil
	}

	markets := make(map[string]domain.Market, len(polyMarkets)+len(kalshiMarkets))
	for _, mk := range polyMarkets {
		markets[mk.ID] = mk
	}
	for _, mk := range kalshiMarkets {
		markets[mk.ID] = mk
	}

	var result Result
	seen := make(map[string]struct{})

	deterministic := MatchSports(polyMarkets, kalshiMarkets, m.logger)
	result.DeterministicCount = len(deterministic)
	for _, cand := range deterministic {
		key := CacheKey(cand.PolyID, cand.KalshiID)
		seen[key] = struct{}{}
		if _, ok := existingKeys[key]; ok {
			continue
		}
		result.Matches = append(result.Matches, cand)
	}

	embedding := m.index.Candidates(polyMarkets, kalshiMarkets)
	result.EmbeddingCandidates = len(embedding)
	keyword := KeywordCandidates(polyMarkets, kalshiMarkets)
	result.KeywordCandidates = len(keyword)

	// Embedding candidates first: a pair found by both producers keeps the
	// similarity-derived confidence.
	pending := make([]domain.MatchCandidate, 0, len(embedding)+len(keyword))
	for _, cand := range embedding {
		key := CacheKey(cand.PolyID, cand.KalshiID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, cand)
	}
	for _, cand := range keyword {
		key := CacheKey(cand.PolyID, cand.KalshiID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, cand)
	}

	accepted, stats := m.engine.ConfirmCandidates(ctx, pending, markets, existingKeys)
	result.Matches = append(result.Matches, accepted...)
	result.Stats = stats

	m.logger.Info("matching pass complete",
		slog.Int("deterministic", result.DeterministicCount),
		slog.Int("embedding_candidates", result.EmbeddingCandidates),
		slog.Int("keyword_candidates", result.KeywordCandidates),
		slog.Int("llm_calls", stats.Calls),
		slog.Int("confirmed", len(result.Matches)),
		slog.Int("deferred", stats.Deferred),
	)
	return result, nil
}
