package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscanner/internal/arb"
	"github.com/alanyoungcy/arbscanner/internal/domain"
	"github.com/alanyoungcy/arbscanner/internal/match"
)

// recorder captures the order in which cycle steps touch collaborators.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
}

type memMarketStore struct {
	rec     *recorder
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newMemMarketStore(rec *recorder) *memMarketStore {
	return &memMarketStore{rec: rec, markets: make(map[string]domain.Market)}
}

func (s *memMarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

func (s *memMarketStore) UpsertBatch(_ context.Context, markets []domain.Market) error {
	s.rec.add("upsert_markets")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range markets {
		s.markets[m.ID] = m
	}
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) ListByExchange(_ context.Context, exchange domain.Exchange, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Exchange == exchange {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) ListAll(context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarketStore) DeleteMissing(_ context.Context, exchange domain.Exchange, present []string) ([]string, error) {
	s.rec.add("delete_missing")
	if len(present) == 0 {
		return nil, domain.ErrInvalidInput
	}
	keep := make(map[string]struct{}, len(present))
	for _, id := range present {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for id, m := range s.markets {
		if m.Exchange != exchange {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(s.markets, id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (s *memMarketStore) Count(_ context.Context, exchange domain.Exchange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.markets {
		if m.Exchange == exchange {
			n++
		}
	}
	return n, nil
}

type memMatchStore struct {
	rec     *recorder
	mu      sync.Mutex
	nextID  int64
	matches map[int64]domain.ConfirmedMatch
}

func newMemMatchStore(rec *recorder) *memMatchStore {
	return &memMatchStore{rec: rec, matches: make(map[int64]domain.ConfirmedMatch)}
}

func (s *memMatchStore) Upsert(_ context.Context, m domain.ConfirmedMatch) (int64, error) {
	s.rec.add("upsert_match")
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.matches {
		if existing.PolyID == m.PolyID && existing.KalshiID == m.KalshiID {
			m.ID = id
			s.matches[id] = m
			return id, nil
		}
	}
	s.nextID++
	m.ID = s.nextID
	s.matches[m.ID] = m
	return m.ID, nil
}

func (s *memMatchStore) GetByID(_ context.Context, id int64) (domain.ConfirmedMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return domain.ConfirmedMatch{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMatchStore) GetByPair(_ context.Context, polyID, kalshiID string) (domain.ConfirmedMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.PolyID == polyID && m.KalshiID == kalshiID {
			return m, nil
		}
	}
	return domain.ConfirmedMatch{}, domain.ErrNotFound
}

func (s *memMatchStore) List(context.Context, domain.ListOpts) ([]domain.ConfirmedMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConfirmedMatch, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMatchStore) ListTopByVolume(_ context.Context, limit int) ([]domain.ConfirmedMatch, error) {
	out, _ := s.List(context.Background(), domain.ListOpts{})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memMatchStore) UpdatePrices(_ context.Context, m domain.ConfirmedMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.matches[m.ID]
	if !ok {
		return domain.ErrNotFound
	}
	existing.PolyYes = m.PolyYes
	existing.KalshiYes = m.KalshiYes
	existing.Spread = m.Spread
	existing.FeeAdjustedSpread = m.FeeAdjustedSpread
	existing.Direction = m.Direction
	existing.Profitable = m.Profitable
	s.matches[m.ID] = existing
	return nil
}

func (s *memMatchStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.matches, id)
	return nil
}

func (s *memMatchStore) DeleteForMarkets(_ context.Context, marketIDs []string) ([]int64, error) {
	s.rec.add("delete_matches")
	gone := make(map[string]struct{}, len(marketIDs))
	for _, id := range marketIDs {
		gone[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []int64
	for id, m := range s.matches {
		_, poly := gone[m.PolyID]
		_, kalshi := gone[m.KalshiID]
		if poly || kalshi {
			delete(s.matches, id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (s *memMatchStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.matches)), nil
}

type memHistoryStore struct {
	mu      sync.Mutex
	snaps   []domain.PriceSnapshot
	deleted []int64
}

func (s *memHistoryStore) Append(_ context.Context, snap domain.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memHistoryStore) ListByMatch(_ context.Context, matchID int64, _ domain.ListOpts) ([]domain.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PriceSnapshot
	for _, snap := range s.snaps {
		if snap.MatchID == matchID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *memHistoryStore) DeleteByMatches(_ context.Context, matchIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, matchIDs...)
	return nil
}

func (s *memHistoryStore) ListOlderThan(_ context.Context, cutoff time.Time) ([]domain.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var old []domain.PriceSnapshot
	for _, snap := range s.snaps {
		if snap.RecordedAt.Before(cutoff) {
			old = append(old, snap)
		}
	}
	return old, nil
}

func (s *memHistoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.PriceSnapshot
	var removed int64
	for _, snap := range s.snaps {
		if snap.RecordedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, snap)
	}
	s.snaps = kept
	return removed, nil
}

type memEmbeddingStore struct {
	mu   sync.Mutex
	rows map[string]domain.MarketEmbedding
}

func newMemEmbeddingStore() *memEmbeddingStore {
	return &memEmbeddingStore{rows: make(map[string]domain.MarketEmbedding)}
}

func (s *memEmbeddingStore) Get(_ context.Context, marketID string) (domain.MarketEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[marketID]
	if !ok {
		return domain.MarketEmbedding{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *memEmbeddingStore) GetAll(context.Context) ([]domain.MarketEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MarketEmbedding, 0, len(s.rows))
	for _, e := range s.rows {
		out = append(out, e)
	}
	return out, nil
}

func (s *memEmbeddingStore) Upsert(_ context.Context, e domain.MarketEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[e.MarketID] = e
	return nil
}

func (s *memEmbeddingStore) DeleteByMarkets(_ context.Context, marketIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range marketIDs {
		delete(s.rows, id)
	}
	return nil
}

type fakeLister struct {
	rec     *recorder
	name    string
	markets []domain.Market
	err     error
}

func (l *fakeLister) ListMarkets(context.Context) ([]domain.Market, error) {
	l.rec.add("ingest_" + l.name)
	return l.markets, l.err
}

type fakeFetcher struct {
	markets map[string]domain.Market
}

func (f *fakeFetcher) GetMarket(_ context.Context, id string) (domain.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeStreams struct {
	rec        *recorder
	polyConn   bool
	kalshiConn bool
	syncCalls  int
}

func (s *fakeStreams) Connected() (bool, bool)        { return s.polyConn, s.kalshiConn }
func (s *fakeStreams) SubscriptionCounts() (int, int) { return 0, 0 }
func (s *fakeStreams) SyncSubscriptions(context.Context) error {
	s.rec.add("resync")
	s.syncCalls++
	return nil
}

type fakeArchiver struct {
	rec    *recorder
	calls  int
	cutoff time.Time
}

func (a *fakeArchiver) ArchiveSnapshots(_ context.Context, before time.Time) (int64, error) {
	a.rec.add("archive")
	a.calls++
	a.cutoff = before
	return 0, nil
}

// constEmbedder gives every question the same vector, so any cross-exchange
// pair clears the similarity threshold.
type constEmbedder struct{ rec *recorder }

func (e *constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.rec.add("embed")
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type yesConfirmer struct{ calls int }

func (c *yesConfirmer) Confirm(context.Context, domain.Market, domain.Market) (match.Verdict, error) {
	c.calls++
	return match.Verdict{Confirmed: true, Confidence: 0.9, Reasoning: "same event"}, nil
}

type fixture struct {
	sched    *Scheduler
	rec      *recorder
	markets  *memMarketStore
	matches  *memMatchStore
	history  *memHistoryStore
	emb      *memEmbeddingStore
	poly     *fakeLister
	kalshi   *fakeLister
	streams  *fakeStreams
	archiver *fakeArchiver
}

func polyMarket(id, question string) domain.Market {
	return domain.Market{
		ID:       domain.MarketID(domain.ExchangePolymarket, id),
		Exchange: domain.ExchangePolymarket,
		Question: question,
		YesPrice: 0.60,
		NoPrice:  0.40,
		Volume:   1000,
	}
}

func kalshiMarket(id, question string) domain.Market {
	return domain.Market{
		ID:       domain.MarketID(domain.ExchangeKalshi, id),
		Exchange: domain.ExchangeKalshi,
		Question: question,
		YesPrice: 0.55,
		NoPrice:  0.46,
		Volume:   800,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	markets := newMemMarketStore(rec)
	matches := newMemMatchStore(rec)
	history := &memHistoryStore{}
	emb := newMemEmbeddingStore()

	index := match.NewEmbeddingIndex(emb, &constEmbedder{rec: rec}, match.IndexConfig{}, logger)
	engine := match.NewEngine(&yesConfirmer{}, match.NewRejectionCache(), match.EngineConfig{}, logger)
	matcher := match.NewMatcher(index, engine, logger)

	poly := &fakeLister{rec: rec, name: "poly"}
	kalshi := &fakeLister{rec: rec, name: "kalshi"}
	streams := &fakeStreams{rec: rec}
	archiver := &fakeArchiver{rec: rec}

	sched := New(Config{}, Deps{
		Poly:        poly,
		Kalshi:      kalshi,
		PolyFetch:   &fakeFetcher{},
		KalshiFetch: &fakeFetcher{},
		Markets:     markets,
		Matches:     matches,
		History:     history,
		Embeddings:  emb,
		Index:       index,
		Matcher:     matcher,
		Calc:        arb.New(arb.Config{}),
		Streams:     streams,
		Archiver:    archiver,
	}, logger)

	return &fixture{
		sched: sched, rec: rec, markets: markets, matches: matches,
		history: history, emb: emb, poly: poly, kalshi: kalshi,
		streams: streams, archiver: archiver,
	}
}

func TestDiscoveryCycleConfirmsAndPersists(t *testing.T) {
	f := newFixture(t)
	f.poly.markets = []domain.Market{polyMarket("100", "Will the Thunder beat the Pistons?")}
	f.kalshi.markets = []domain.Market{kalshiMarket("KXNBAGAME-26FEB25OKCDET-OKC", "Thunder to win vs Pistons?")}

	res, err := f.sched.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.PolyListed)
	assert.Equal(t, 1, res.KalshiListed)
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 1, res.NewMatches)
	assert.Empty(t, res.Errors)

	n, err := f.matches.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := f.matches.GetByPair(context.Background(), "polymarket:100", "kalshi:KXNBAGAME-26FEB25OKCDET-OKC")
	require.NoError(t, err)
	assert.InDelta(t, 0.05, stored.Spread, 1e-9)
	assert.Equal(t, domain.DirectionBuyKalshiSellPoly, stored.Direction)
	assert.Equal(t, 1, f.streams.syncCalls)
	assert.Equal(t, 1, f.archiver.calls)
}

func TestDiscoveryCycleStepOrder(t *testing.T) {
	f := newFixture(t)
	f.poly.markets = []domain.Market{polyMarket("100", "Will the Thunder beat the Pistons?")}
	f.kalshi.markets = []domain.Market{kalshiMarket("KXNBAGAME-26FEB25OKCDET-OKC", "Thunder to win vs Pistons?")}

	_, err := f.sched.TriggerNow(context.Background())
	require.NoError(t, err)

	want := []string{
		"ingest_poly", "upsert_markets",
		"ingest_kalshi", "upsert_markets",
		"delete_missing", "delete_missing",
		"embed",
		"upsert_match",
		"resync",
		"archive",
	}
	assert.Equal(t, want, f.rec.steps)
}

func TestCleanupSkippedWhenOneListingEmpty(t *testing.T) {
	f := newFixture(t)
	stale := kalshiMarket("KXSTALE", "Old market?")
	require.NoError(t, f.markets.Upsert(context.Background(), stale))

	f.poly.markets = []domain.Market{polyMarket("100", "Will it rain?")}
	f.kalshi.markets = nil // upstream outage

	res, err := f.sched.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.MarketsRemoved)
	_, err = f.markets.GetByID(context.Background(), stale.ID)
	assert.NoError(t, err, "stale market must survive a one-sided outage")
}

func TestCleanupCascadesMatchesAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := kalshiMarket("KXGONE", "Gone market?")
	require.NoError(t, f.markets.Upsert(ctx, stale))
	matchID, err := f.matches.Upsert(ctx, domain.ConfirmedMatch{
		PolyID: "polymarket:999", KalshiID: stale.ID,
	})
	require.NoError(t, err)

	f.poly.markets = []domain.Market{polyMarket("100", "Will it rain?")}
	f.kalshi.markets = []domain.Market{kalshiMarket("KXRAIN", "Rain tomorrow?")}

	res, trigErr := f.sched.TriggerNow(ctx)
	require.NoError(t, trigErr)

	assert.Equal(t, 1, res.MarketsRemoved)
	_, err = f.markets.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.matches.GetByID(ctx, matchID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, f.history.deleted, matchID)
}

func TestTriggerNowBusy(t *testing.T) {
	f := newFixture(t)

	f.sched.cycleMu.Lock()
	defer f.sched.cycleMu.Unlock()

	_, err := f.sched.TriggerNow(context.Background())
	assert.ErrorIs(t, err, domain.ErrScanBusy)
}

func TestStatusReflectsLastCycle(t *testing.T) {
	f := newFixture(t)
	f.poly.markets = []domain.Market{polyMarket("100", "Will it rain?")}
	f.kalshi.markets = []domain.Market{kalshiMarket("KXRAIN", "Rain tomorrow?")}

	_, err := f.sched.TriggerNow(context.Background())
	require.NoError(t, err)

	st := f.sched.Status()
	assert.Equal(t, int64(1), st.Discovery.Runs)
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, 1, st.LastCycle.PolyListed)
}
