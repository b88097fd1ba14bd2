package stream

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscanner/internal/arb"
	"github.com/alanyoungcy/arbscanner/internal/domain"
)

type fakeFeed struct {
	mu         sync.Mutex
	subscribed map[string]struct{}
	connected  bool
	subCalls   [][]string
	unsubCalls [][]string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subscribed: make(map[string]struct{})}
}

func (f *fakeFeed) Subscribe(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls = append(f.subCalls, append([]string(nil), ids...))
	for _, id := range ids {
		f.subscribed[id] = struct{}{}
	}
	return nil
}

func (f *fakeFeed) Unsubscribe(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubCalls = append(f.unsubCalls, append([]string(nil), ids...))
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	return nil
}

func (f *fakeFeed) Connected() bool { return f.connected }

func (f *fakeFeed) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type fakeMatchSource struct {
	mu      sync.Mutex
	matches []domain.ConfirmedMatch
	updates []domain.ConfirmedMatch
}

func (s *fakeMatchSource) List(context.Context, domain.ListOpts) ([]domain.ConfirmedMatch, error) {
	return s.matches, nil
}

func (s *fakeMatchSource) UpdatePrices(_ context.Context, m domain.ConfirmedMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, m)
	return nil
}

type fakeMarketSource struct {
	markets map[string]domain.Market
}

func (s *fakeMarketSource) GetByID(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeHistory struct {
	mu    sync.Mutex
	snaps []domain.PriceSnapshot
}

func (h *fakeHistory) Append(_ context.Context, snap domain.PriceSnapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snaps = append(h.snaps, snap)
	return nil
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snaps)
}

func newTestManager(t *testing.T, throttle time.Duration) (*Manager, *fakeMatchSource, *fakeHistory, *fakeFeed, *fakeFeed) {
	t.Helper()

	matches := &fakeMatchSource{matches: []domain.ConfirmedMatch{
		{ID: 1, PolyID: "poly:100", KalshiID: "kalshi:KXNBAGAME-A", PolyYes: 0.60, KalshiYes: 0.55},
	}}
	markets := &fakeMarketSource{markets: map[string]domain.Market{
		"poly:100":           {ID: "poly:100", Exchange: domain.ExchangePolymarket, StreamKey: "token-100"},
		"kalshi:KXNBAGAME-A": {ID: "kalshi:KXNBAGAME-A", Exchange: domain.ExchangeKalshi, StreamKey: "KXNBAGAME-A"},
	}}
	history := &fakeHistory{}
	poly := newFakeFeed()
	kalshi := newFakeFeed()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(ManagerConfig{HistoryThrottle: throttle},
		matches, markets, history, nil, arb.New(arb.Config{}), poly, kalshi, nil, logger)

	require.NoError(t, mgr.SyncSubscriptions(context.Background()))
	return mgr, matches, history, poly, kalshi
}

func TestSyncSubscriptionsIssuesDiffs(t *testing.T) {
	mgr, matches, _, poly, kalshi := newTestManager(t, time.Minute)

	assert.Equal(t, []string{"token-100"}, poly.Subscribed())
	assert.Equal(t, []string{"KXNBAGAME-A"}, kalshi.Subscribed())

	// Match set changes: match 1 gone, match 2 appears.
	matches.matches = []domain.ConfirmedMatch{
		{ID: 2, PolyID: "poly:200", KalshiID: "kalshi:KXNHLGAME-B", PolyYes: 0.40, KalshiYes: 0.42},
	}
	src := mgr.markets.(*fakeMarketSource)
	src.markets["poly:200"] = domain.Market{ID: "poly:200", StreamKey: "token-200"}
	src.markets["kalshi:KXNHLGAME-B"] = domain.Market{ID: "kalshi:KXNHLGAME-B", StreamKey: "KXNHLGAME-B"}

	require.NoError(t, mgr.SyncSubscriptions(context.Background()))

	assert.Equal(t, []string{"token-200"}, poly.Subscribed())
	assert.Equal(t, []string{"KXNHLGAME-B"}, kalshi.Subscribed())
	assert.Equal(t, [][]string{{"token-100"}}, poly.unsubCalls)
}

func TestPriceUpdateRecomputesSpread(t *testing.T) {
	mgr, matches, _, _, _ := newTestManager(t, time.Minute)

	mgr.HandlePolyPrice("token-100", 0.70, 0.30, 5)

	matches.mu.Lock()
	defer matches.mu.Unlock()
	require.Len(t, matches.updates, 1)
	got := matches.updates[0]
	assert.Equal(t, int64(1), got.ID)
	assert.InDelta(t, 0.70, got.PolyYes, 1e-9)
	assert.InDelta(t, 0.55, got.KalshiYes, 1e-9)
	assert.InDelta(t, 0.15, got.Spread, 1e-9)
	assert.Equal(t, domain.DirectionBuyKalshiSellPoly, got.Direction)
}

func TestUnknownIdentifierIgnored(t *testing.T) {
	mgr, matches, history, _, _ := newTestManager(t, time.Minute)

	mgr.HandlePolyPrice("token-999", 0.70, 0.30, 5)

	assert.Empty(t, matches.updates)
	assert.Zero(t, history.count())
}

func TestHistoryThrottledPerMatch(t *testing.T) {
	mgr, _, history, _, _ := newTestManager(t, time.Minute)

	mgr.HandlePolyPrice("token-100", 0.61, 0.39, 0)
	mgr.HandlePolyPrice("token-100", 0.62, 0.38, 0)
	mgr.HandleKalshiTicker("KXNBAGAME-A", 0.56, 0.44, 0)

	// Only the first update within the window lands a history row.
	assert.Equal(t, 1, history.count())
}

func TestHistoryResumesAfterThrottleWindow(t *testing.T) {
	mgr, _, history, _, _ := newTestManager(t, 10*time.Millisecond)

	mgr.HandlePolyPrice("token-100", 0.61, 0.39, 0)
	time.Sleep(20 * time.Millisecond)
	mgr.HandlePolyPrice("token-100", 0.62, 0.38, 0)

	assert.Equal(t, 2, history.count())
}

func TestHandlersRunOutsideLock(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t, time.Minute)

	var got []domain.PriceUpdate
	mgr.OnUpdate(func(u domain.PriceUpdate) {
		// Re-entering the manager from a handler deadlocks if handlers run
		// under the write lock.
		_, _ = mgr.Connected()
		mgr.mu.Lock()
		mgr.mu.Unlock()
		got = append(got, u)
	})

	done := make(chan struct{})
	go func() {
		mgr.HandlePolyPrice("token-100", 0.70, 0.30, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked on manager lock")
	}

	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].MatchID)
	assert.InDelta(t, 0.70, got[0].PolyYes, 1e-9)
	assert.InDelta(t, 0.30, got[0].PolyNo, 1e-9)
}
