package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/arb"
	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// Feed is the slice of a streaming client the manager drives. Both platform
// stream clients satisfy it.
type Feed interface {
	Subscribe(ids []string) error
	Unsubscribe(ids []string) error
	Connected() bool
	Subscribed() []string
}

// MatchSource is the slice of the match store the manager needs.
type MatchSource interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.ConfirmedMatch, error)
	UpdatePrices(ctx context.Context, m domain.ConfirmedMatch) error
}

// MarketSource resolves market rows for stream-key lookup.
type MarketSource interface {
	GetByID(ctx context.Context, id string) (domain.Market, error)
}

// HistoryAppender records throttled price snapshots.
type HistoryAppender interface {
	Append(ctx context.Context, snap domain.PriceSnapshot) error
}

// UpdateHandler receives a price update after a match's state changes. It is
// always invoked outside the manager's write lock.
type UpdateHandler func(domain.PriceUpdate)

// ManagerConfig tunes the stream manager.
type ManagerConfig struct {
	// HistoryThrottle is the minimum interval between history rows for one
	// match while live updates flow.
	HistoryThrottle time.Duration
}

// DefaultManagerConfig returns the shipped throttle interval.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{HistoryThrottle: 60 * time.Second}
}

// matchState is the live view of one confirmed match. Prices start from the
// persisted row and are overwritten by stream events.
type matchState struct {
	polyID      string
	kalshiID    string
	polyYes     float64
	polyNo      float64
	kalshiYes   float64
	kalshiNo    float64
	lastHistory time.Time
}

// Manager routes live price events from both exchange feeds onto the
// persisted match set. All mutation of shared match state funnels through one
// write lock; broadcast handlers run outside it.
type Manager struct {
	cfg     ManagerConfig
	matches MatchSource
	markets MarketSource
	history HistoryAppender
	prices  domain.PriceCache
	calc    *arb.Calculator
	bus     domain.SignalBus
	poly    Feed
	kalshi  Feed
	logger  *slog.Logger

	mu          sync.Mutex
	state       map[int64]*matchState
	polyIndex   map[string][]int64 // poly stream key -> match ids
	kalshiIndex map[string][]int64 // kalshi market ticker -> match ids

	handlersMu sync.RWMutex
	handlers   []UpdateHandler
}

// NewManager creates a stream manager. bus may be nil when no cross-process
// fan-out is wanted.
func NewManager(
	cfg ManagerConfig,
	matches MatchSource,
	markets MarketSource,
	history HistoryAppender,
	prices domain.PriceCache,
	calc *arb.Calculator,
	poly, kalshi Feed,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Manager {
	if cfg.HistoryThrottle <= 0 {
		cfg.HistoryThrottle = DefaultManagerConfig().HistoryThrottle
	}
	return &Manager{
		cfg:         cfg,
		matches:     matches,
		markets:     markets,
		history:     history,
		prices:      prices,
		calc:        calc,
		bus:         bus,
		poly:        poly,
		kalshi:      kalshi,
		logger:      logger.With(slog.String("component", "stream_manager")),
		state:       make(map[int64]*matchState),
		polyIndex:   make(map[string][]int64),
		kalshiIndex: make(map[string][]int64),
	}
}

// OnUpdate registers a broadcast handler. Handlers must not block for long;
// they run on the feed's read goroutine.
func (m *Manager) OnUpdate(h UpdateHandler) {
	m.handlersMu.Lock()
	m.handlers = append(m.handlers, h)
	m.handlersMu.Unlock()
}

// Connected reports each feed's connection state.
func (m *Manager) Connected() (poly, kalshi bool) {
	return m.poly.Connected(), m.kalshi.Connected()
}

// SubscriptionCounts reports how many identifiers each feed tracks.
func (m *Manager) SubscriptionCounts() (poly, kalshi int) {
	return len(m.poly.Subscribed()), len(m.kalshi.Subscribed())
}

// SyncSubscriptions recomputes the desired identifier set from the persisted
// match set and issues incremental subscribe/unsubscribe diffs to both feeds.
// The scheduler calls it at the end of every discovery cycle.
func (m *Manager) SyncSubscriptions(ctx context.Context) error {
	matches, err := m.matches.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("stream: sync subscriptions: %w", err)
	}

	state := make(map[int64]*matchState, len(matches))
	polyIndex := make(map[string][]int64)
	kalshiIndex := make(map[string][]int64)

	for _, match := range matches {
		st := &matchState{
			polyID:    match.PolyID,
			kalshiID:  match.KalshiID,
			polyYes:   match.PolyYes,
			polyNo:    1 - match.PolyYes,
			kalshiYes: match.KalshiYes,
			kalshiNo:  1 - match.KalshiYes,
		}

		polyMarket, err := m.markets.GetByID(ctx, match.PolyID)
		if err != nil {
			m.logger.Warn("match references missing poly market",
				slog.Int64("match_id", match.ID),
				slog.String("market_id", match.PolyID))
			continue
		}
		kalshiMarket, err := m.markets.GetByID(ctx, match.KalshiID)
		if err != nil {
			m.logger.Warn("match references missing kalshi market",
				slog.Int64("match_id", match.ID),
				slog.String("market_id", match.KalshiID))
			continue
		}

		state[match.ID] = st
		if key := polyMarket.StreamKey; key != "" {
			polyIndex[key] = append(polyIndex[key], match.ID)
		}
		if key := kalshiMarket.StreamKey; key != "" {
			kalshiIndex[key] = append(kalshiIndex[key], match.ID)
		}
	}

	m.mu.Lock()
	// Carry throttle clocks over so a resync does not reopen the history
	// window for matches already streaming.
	for id, prev := range m.state {
		if st, ok := state[id]; ok {
			st.lastHistory = prev.lastHistory
			st.polyYes, st.polyNo = prev.polyYes, prev.polyNo
			st.kalshiYes, st.kalshiNo = prev.kalshiYes, prev.kalshiNo
		}
	}
	m.state = state
	m.polyIndex = polyIndex
	m.kalshiIndex = kalshiIndex
	m.mu.Unlock()

	if err := syncFeed(m.poly, keys(polyIndex)); err != nil {
		return fmt.Errorf("stream: sync poly feed: %w", err)
	}
	if err := syncFeed(m.kalshi, keys(kalshiIndex)); err != nil {
		return fmt.Errorf("stream: sync kalshi feed: %w", err)
	}

	m.logger.Info("subscriptions synced",
		slog.Int("matches", len(state)),
		slog.Int("poly_keys", len(polyIndex)),
		slog.Int("kalshi_keys", len(kalshiIndex)))
	return nil
}

func keys(index map[string][]int64) map[string]struct{} {
	out := make(map[string]struct{}, len(index))
	for k := range index {
		out[k] = struct{}{}
	}
	return out
}

func syncFeed(feed Feed, desired map[string]struct{}) error {
	current := make(map[string]struct{})
	for _, id := range feed.Subscribed() {
		current[id] = struct{}{}
	}

	var add, remove []string
	for id := range desired {
		if _, ok := current[id]; !ok {
			add = append(add, id)
		}
	}
	for id := range current {
		if _, ok := desired[id]; !ok {
			remove = append(remove, id)
		}
	}

	if len(remove) > 0 {
		if err := feed.Unsubscribe(remove); err != nil {
			return err
		}
	}
	if len(add) > 0 {
		if err := feed.Subscribe(add); err != nil {
			return err
		}
	}
	return nil
}

// HandlePolyPrice is wired as the Polymarket feed's price handler. Volume is
// ignored on purpose; push events carry per-trade volume, not the aggregate
// the REST path records.
func (m *Manager) HandlePolyPrice(assetID string, yes, no, _ float64) {
	m.applyUpdate(domain.ExchangePolymarket, assetID, yes, no)
}

// HandleKalshiTicker is wired as the Kalshi feed's ticker handler.
func (m *Manager) HandleKalshiTicker(marketTicker string, yes, no, _ float64) {
	m.applyUpdate(domain.ExchangeKalshi, marketTicker, yes, no)
}

func (m *Manager) applyUpdate(exchange domain.Exchange, identifier string, yes, no float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updates := m.mutate(ctx, exchange, identifier, yes, no)
	if len(updates) == 0 {
		return
	}

	// Handlers and the bus run outside the lock so a slow subscriber cannot
	// stall the price pipeline.
	m.handlersMu.RLock()
	handlers := m.handlers
	m.handlersMu.RUnlock()

	for _, update := range updates {
		for _, h := range handlers {
			h(update)
		}
		if m.bus != nil {
			payload, err := json.Marshal(update)
			if err == nil {
				channel := fmt.Sprintf("match:%d", update.MatchID)
				if err := m.bus.Publish(ctx, channel, payload); err != nil {
					m.logger.Warn("publish price update",
						slog.Int64("match_id", update.MatchID),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// mutate applies one price event under the write lock and returns the
// broadcast payloads for every affected match.
func (m *Manager) mutate(ctx context.Context, exchange domain.Exchange, identifier string, yes, no float64) []domain.PriceUpdate {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	var matchIDs []int64
	if exchange == domain.ExchangePolymarket {
		matchIDs = m.polyIndex[identifier]
	} else {
		matchIDs = m.kalshiIndex[identifier]
	}
	if len(matchIDs) == 0 {
		return nil
	}

	var updates []domain.PriceUpdate
	for _, id := range matchIDs {
		st, ok := m.state[id]
		if !ok {
			continue
		}

		var marketID string
		if exchange == domain.ExchangePolymarket {
			st.polyYes, st.polyNo = yes, no
			marketID = st.polyID
		} else {
			st.kalshiYes, st.kalshiNo = yes, no
			marketID = st.kalshiID
		}

		spread := m.calc.Compute(st.polyYes, st.kalshiYes)

		if err := m.matches.UpdatePrices(ctx, domain.ConfirmedMatch{
			ID:                id,
			PolyYes:           st.polyYes,
			KalshiYes:         st.kalshiYes,
			Spread:            spread.Raw,
			FeeAdjustedSpread: spread.FeeAdjusted,
			Direction:         spread.Direction,
			Profitable:        spread.Profitable,
		}); err != nil {
			m.logger.Warn("update match prices",
				slog.Int64("match_id", id),
				slog.String("error", err.Error()))
		}

		if m.prices != nil {
			if err := m.prices.SetPrice(ctx, marketID, yes, no, now); err != nil {
				m.logger.Warn("cache price",
					slog.String("market_id", marketID),
					slog.String("error", err.Error()))
			}
		}

		if now.Sub(st.lastHistory) >= m.cfg.HistoryThrottle {
			if err := m.history.Append(ctx, domain.PriceSnapshot{
				MatchID:           id,
				PolyYes:           st.polyYes,
				KalshiYes:         st.kalshiYes,
				Spread:            spread.Raw,
				FeeAdjustedSpread: spread.FeeAdjusted,
				RecordedAt:        now,
			}); err != nil {
				m.logger.Warn("append history",
					slog.Int64("match_id", id),
					slog.String("error", err.Error()))
			} else {
				st.lastHistory = now
			}
		}

		updates = append(updates, domain.PriceUpdate{
			MatchID:           id,
			PolyYes:           st.polyYes,
			PolyNo:            st.polyNo,
			KalshiYes:         st.kalshiYes,
			KalshiNo:          st.kalshiNo,
			Spread:            spread.Raw,
			FeeAdjustedSpread: spread.FeeAdjusted,
			UpdatedAt:         now,
		})
	}
	return updates
}
