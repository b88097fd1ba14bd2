package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscanner/internal/domain"
	"github.com/alanyoungcy/arbscanner/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubMatchStore struct {
	domain.MatchStore
	matches map[int64]domain.ConfirmedMatch
}

func (s *stubMatchStore) List(context.Context, domain.ListOpts) ([]domain.ConfirmedMatch, error) {
	out := make([]domain.ConfirmedMatch, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m)
	}
	return out, nil
}

func (s *stubMatchStore) GetByID(_ context.Context, id int64) (domain.ConfirmedMatch, error) {
	m, ok := s.matches[id]
	if !ok {
		return domain.ConfirmedMatch{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *stubMatchStore) Delete(_ context.Context, id int64) error {
	if _, ok := s.matches[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.matches, id)
	return nil
}

type stubHistoryStore struct {
	domain.HistoryStore
	snaps map[int64][]domain.PriceSnapshot
}

func (s *stubHistoryStore) ListByMatch(_ context.Context, matchID int64, _ domain.ListOpts) ([]domain.PriceSnapshot, error) {
	return s.snaps[matchID], nil
}

type stubMarketStore struct {
	domain.MarketStore
	markets map[string]domain.Market
}

func (s *stubMarketStore) ListByExchange(_ context.Context, exchange domain.Exchange, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.Exchange == exchange {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

type stubScanner struct {
	busy   bool
	result *scheduler.CycleResult
	status scheduler.ScanStatus
}

func (s *stubScanner) TriggerNow(context.Context) (*scheduler.CycleResult, error) {
	if s.busy {
		return nil, domain.ErrScanBusy
	}
	return s.result, nil
}

func (s *stubScanner) Status() scheduler.ScanStatus { return s.status }

func newMatchHandler() (*MatchHandler, *stubMatchStore) {
	matches := &stubMatchStore{matches: map[int64]domain.ConfirmedMatch{
		7: {ID: 7, PolyID: "polymarket:100", KalshiID: "kalshi:KXRAIN", FeeAdjustedSpread: 0.03},
	}}
	history := &stubHistoryStore{snaps: map[int64][]domain.PriceSnapshot{
		7: {{ID: 1, MatchID: 7, PolyYes: 0.6, KalshiYes: 0.55, RecordedAt: time.Now()}},
	}}
	return NewMatchHandler(matches, history, testLogger()), matches
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(testLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMatchGet(t *testing.T) {
	h, _ := newMatchHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/matches/7", nil)
	req.SetPathValue("id", "7")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var m domain.ConfirmedMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "polymarket:100", m.PolyID)
}

func TestMatchGetNotFound(t *testing.T) {
	h, _ := newMatchHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/matches/99", nil)
	req.SetPathValue("id", "99")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatchGetBadID(t *testing.T) {
	h, _ := newMatchHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/matches/abc", nil)
	req.SetPathValue("id", "abc")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchDelete(t *testing.T) {
	h, store := newMatchHandler()

	req := httptest.NewRequest(http.MethodDelete, "/api/matches/7", nil)
	req.SetPathValue("id", "7")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.matches)
}

func TestMatchHistory(t *testing.T) {
	h, _ := newMatchHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/matches/7/history", nil)
	req.SetPathValue("id", "7")
	rec := httptest.NewRecorder()
	h.History(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snaps []domain.PriceSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(7), snaps[0].MatchID)
}

func TestMarketListRequiresExchange(t *testing.T) {
	h := NewMarketHandler(&stubMarketStore{}, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/markets?exchange=kalshi", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestScanTriggerAccepted(t *testing.T) {
	h := NewScanHandler(&stubScanner{result: &scheduler.CycleResult{NewMatches: 3}}, testLogger())

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/scan", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var res scheduler.CycleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3, res.NewMatches)
}

func TestScanTriggerBusy(t *testing.T) {
	h := NewScanHandler(&stubScanner{busy: true}, testLogger())

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/scan", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}
