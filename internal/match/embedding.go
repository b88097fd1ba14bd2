package match

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// Embedder turns a batch of question strings into fixed-dimension vectors,
// order preserving.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// QuestionHash content-hashes a question so unchanged markets are not
// re-embedded cycle after cycle.
func QuestionHash(question string) string {
	sum := sha256.Sum256([]byte(question))
	return hex.EncodeToString(sum[:])
}

// IndexConfig tunes the similarity index.
type IndexConfig struct {
	SimilarityThreshold float64 // cosine similarity floor for candidates
	BatchSize           int     // questions per embedding request
}

// EmbeddingIndex keeps an in-memory view of every market's question vector,
// L2-normalized so cosine similarity reduces to a dot product. The store is
// the durable copy; the index is rebuilt on startup and maintained by delta
// syncs each discovery cycle.
type EmbeddingIndex struct {
	store    domain.EmbeddingStore
	embedder Embedder
	cfg      IndexConfig
	logger   *slog.Logger

	vectors map[string][]float32 // normalized, by composite market id
	hashes  map[string]string
}

// NewEmbeddingIndex creates an empty index. Call Load before the first Sync.
func NewEmbeddingIndex(store domain.EmbeddingStore, embedder Embedder, cfg IndexConfig, logger *slog.Logger) *EmbeddingIndex {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &EmbeddingIndex{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "embedding_index")),
		vectors:  make(map[string][]float32),
		hashes:   make(map[string]string),
	}
}

// Load pulls all stored vectors into memory.
func (x *EmbeddingIndex) Load(ctx context.Context) error {
	stored, err := x.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("match: load embeddings: %w", err)
	}
	for _, e := range stored {
		x.vectors[e.MarketID] = normalize(e.Vector)
		x.hashes[e.MarketID] = e.QuestionHash
	}
	x.logger.Info("embedding index loaded", slog.Int("vectors", len(stored)))
	return nil
}

// Sync embeds every eligible market whose question is new or changed and
// persists the result. Returns how many markets were (re)embedded.
func (x *EmbeddingIndex) Sync(ctx context.Context, markets []domain.Market) (int, error) {
	var pending []domain.Market
	for _, m := range markets {
		if !m.Active() {
			continue
		}
		if x.hashes[m.ID] == QuestionHash(m.Question) {
			continue
		}
		pending = append(pending, m)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	embedded := 0
	for start := 0; start < len(pending); start += x.cfg.BatchSize {
		end := min(start+x.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, m := range batch {
			texts[i] = m.Question
		}
		vectors, err := x.embedder.Embed(ctx, texts)
		if err != nil {
			// Partial progress is fine; the rest retries next cycle.
			return embedded, fmt.Errorf("match: embed batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return embedded, fmt.Errorf("match: embed batch returned %d vectors for %d texts", len(vectors), len(batch))
		}

		for i, m := range batch {
			hash := QuestionHash(m.Question)
			if err := x.store.Upsert(ctx, domain.MarketEmbedding{
				MarketID:     m.ID,
				QuestionHash: hash,
				Vector:       vectors[i],
			}); err != nil {
				return embedded, fmt.Errorf("match: store embedding %s: %w", m.ID, err)
			}
			x.vectors[m.ID] = normalize(vectors[i])
			x.hashes[m.ID] = hash
			embedded++
		}
	}
	return embedded, nil
}

// Remove drops vectors for markets deleted by diff cleanup.
func (x *EmbeddingIndex) Remove(marketIDs []string) {
	for _, id := range marketIDs {
		delete(x.vectors, id)
		delete(x.hashes, id)
	}
}

// Candidates returns every cross-exchange pair whose cosine similarity
// clears the threshold, best first. Confidence carries the similarity.
func (x *EmbeddingIndex) Candidates(polyMarkets, kalshiMarkets []domain.Market) []domain.MatchCandidate {
	type side struct {
		id  string
		vec []float32
	}
	collect := func(markets []domain.Market) []side {
		out := make([]side, 0, len(markets))
		for _, m := range markets {
			if !m.Active() {
				continue
			}
			if v, ok := x.vectors[m.ID]; ok {
				out = append(out, side{id: m.ID, vec: v})
			}
		}
		return out
	}
	polys := collect(polyMarkets)
	kalshis := collect(kalshiMarkets)

	var out []domain.MatchCandidate
	for _, p := range polys {
		for _, k := range kalshis {
			sim := dot(p.vec, k.vec)
			if sim <= x.cfg.SimilarityThreshold {
				continue
			}
			out = append(out, domain.MatchCandidate{
				PolyID:     p.id,
				KalshiID:   k.id,
				Confidence: sim,
				Reasoning:  fmt.Sprintf("embedding similarity %.3f", sim),
				Source:     domain.SourceEmbedding,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
