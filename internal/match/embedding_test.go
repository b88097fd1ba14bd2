package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

type memEmbeddingStore struct {
	rows map[string]domain.MarketEmbedding
}

func newMemEmbeddingStore() *memEmbeddingStore {
	return &memEmbeddingStore{rows: make(map[string]domain.MarketEmbedding)}
}

func (s *memEmbeddingStore) Get(_ context.Context, marketID string) (domain.MarketEmbedding, error) {
	e, ok := s.rows[marketID]
	if !ok {
		return domain.MarketEmbedding{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *memEmbeddingStore) GetAll(_ context.Context) ([]domain.MarketEmbedding, error) {
	out := make([]domain.MarketEmbedding, 0, len(s.rows))
	for _, e := range s.rows {
		out = append(out, e)
	}
	return out, nil
}

func (s *memEmbeddingStore) Upsert(_ context.Context, e domain.MarketEmbedding) error {
	s.rows[e.MarketID] = e
	return nil
}

func (s *memEmbeddingStore) DeleteByMarkets(_ context.Context, marketIDs []string) error {
	for _, id := range marketIDs {
		delete(s.rows, id)
	}
	return nil
}

// stubEmbedder returns canned vectors by question text and counts calls.
type stubEmbedder struct {
	byText map[string][]float32
	calls  int
	texts  []string
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	s.texts = append(s.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := s.byText[t]
		if !ok {
			v = []float32{1, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

func activeMarket(id, question string) domain.Market {
	return domain.Market{ID: id, Question: question, YesPrice: 0.5, NoPrice: 0.5, Volume: 10}
}

func TestSyncEmbedsOnlyNewOrChangedQuestions(t *testing.T) {
	store := newMemEmbeddingStore()
	emb := &stubEmbedder{byText: map[string][]float32{}}
	idx := NewEmbeddingIndex(store, emb, IndexConfig{}, testLogger())

	m1 := activeMarket("polymarket:1", "Will OKC win?")
	m2 := activeMarket("kalshi:2", "Thunder to win?")

	n, err := idx.Sync(context.Background(), []domain.Market{m1, m2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Unchanged questions do not re-embed.
	n, err = idx.Sync(context.Background(), []domain.Market{m1, m2})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, emb.calls)

	// A changed question re-embeds exactly that market.
	m1.Question = "Will OKC win by 10?"
	n, err = idx.Sync(context.Background(), []domain.Market{m1, m2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncSkipsIneligibleMarkets(t *testing.T) {
	store := newMemEmbeddingStore()
	emb := &stubEmbedder{byText: map[string][]float32{}}
	idx := NewEmbeddingIndex(store, emb, IndexConfig{}, testLogger())

	zeroVolume := domain.Market{ID: "polymarket:zv", Question: "q", YesPrice: 0.5, Volume: 0}
	nearResolved := domain.Market{ID: "polymarket:nr", Question: "q", YesPrice: 0.99, Volume: 10}
	atBound := domain.Market{ID: "polymarket:ab", Question: "q", YesPrice: 0.02, Volume: 10}

	n, err := idx.Sync(context.Background(), []domain.Market{zeroVolume, nearResolved, atBound})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, emb.calls)
}

func TestCandidatesThresholdAndOrdering(t *testing.T) {
	store := newMemEmbeddingStore()
	emb := &stubEmbedder{byText: map[string][]float32{
		"poly a":   {1, 0, 0},
		"poly b":   {0, 1, 0},
		"kalshi a": {0.99, 0.14, 0}, // ~0.99 similarity with poly a
		"kalshi b": {0.6, 0.8, 0},   // 0.8 with poly b: below threshold
	}}
	idx := NewEmbeddingIndex(store, emb, IndexConfig{SimilarityThreshold: 0.85}, testLogger())

	pa := activeMarket("polymarket:a", "poly a")
	pb := activeMarket("polymarket:b", "poly b")
	ka := activeMarket("kalshi:a", "kalshi a")
	kb := activeMarket("kalshi:b", "kalshi b")
	polys := []domain.Market{pa, pb}
	kalshis := []domain.Market{ka, kb}

	_, err := idx.Sync(context.Background(), append(polys, kalshis...))
	require.NoError(t, err)

	got := idx.Candidates(polys, kalshis)
	require.Len(t, got, 1)
	assert.Equal(t, "polymarket:a", got[0].PolyID)
	assert.Equal(t, "kalshi:a", got[0].KalshiID)
	assert.Greater(t, got[0].Confidence, 0.85)
	assert.Equal(t, domain.SourceEmbedding, got[0].Source)
}

func TestCandidatesSortedBySimilarityDescending(t *testing.T) {
	store := newMemEmbeddingStore()
	emb := &stubEmbedder{byText: map[string][]float32{
		"p":  {1, 0, 0},
		"k1": {0.95, 0.3122, 0}, // lower similarity
		"k2": {1, 0, 0},         // exact
	}}
	idx := NewEmbeddingIndex(store, emb, IndexConfig{SimilarityThreshold: 0.85}, testLogger())

	p := activeMarket("polymarket:p", "p")
	k1 := activeMarket("kalshi:1", "k1")
	k2 := activeMarket("kalshi:2", "k2")

	_, err := idx.Sync(context.Background(), []domain.Market{p, k1, k2})
	require.NoError(t, err)

	got := idx.Candidates([]domain.Market{p}, []domain.Market{k1, k2})
	require.Len(t, got, 2)
	assert.Equal(t, "kalshi:2", got[0].KalshiID)
	assert.Equal(t, "kalshi:1", got[1].KalshiID)
}

func TestRemoveDropsVectors(t *testing.T) {
	store := newMemEmbeddingStore()
	emb := &stubEmbedder{byText: map[string][]float32{}}
	idx := NewEmbeddingIndex(store, emb, IndexConfig{}, testLogger())

	p := activeMarket("polymarket:p", "same question")
	k := activeMarket("kalshi:k", "same question")
	_, err := idx.Sync(context.Background(), []domain.Market{p, k})
	require.NoError(t, err)
	require.Len(t, idx.Candidates([]domain.Market{p}, []domain.Market{k}), 1)

	idx.Remove([]string{k.ID})
	assert.Empty(t, idx.Candidates([]domain.Market{p}, []domain.Market{k}))
}

func TestLoadRestoresStoredVectors(t *testing.T) {
	store := newMemEmbeddingStore()
	store.rows["polymarket:p"] = domain.MarketEmbedding{
		MarketID: "polymarket:p", QuestionHash: QuestionHash("q"), Vector: []float32{3, 0, 0},
	}
	store.rows["kalshi:k"] = domain.MarketEmbedding{
		MarketID: "kalshi:k", QuestionHash: QuestionHash("q"), Vector: []float32{5, 0, 0},
	}

	emb := &stubEmbedder{byText: map[string][]float32{}}
	idx := NewEmbeddingIndex(store, emb, IndexConfig{}, testLogger())
	require.NoError(t, idx.Load(context.Background()))

	p := activeMarket("polymarket:p", "q")
	k := activeMarket("kalshi:k", "q")

	// Nothing to re-embed, and normalization makes the similarity exactly 1.
	n, err := idx.Sync(context.Background(), []domain.Market{p, k})
	require.NoError(t, err)
	assert.Zero(t, n)

	got := idx.Candidates([]domain.Market{p}, []domain.Market{k})
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Confidence, 1e-6)
}
