// Package scheduler runs the discovery and price-refresh loops that keep the
// cross-exchange match set current.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbscanner/internal/arb"
	"github.com/alanyoungcy/arbscanner/internal/domain"
	"github.com/alanyoungcy/arbscanner/internal/match"
)

// singletonLockKey guards against two scanner processes double-running
// discovery against the same database.
const singletonLockKey = "scanner"

// Lister fetches one exchange's full open listing. Both platform REST
// clients satisfy it.
type Lister interface {
	ListMarkets(ctx context.Context) ([]domain.Market, error)
}

// Fetcher fetches one market's current state by native id.
type Fetcher interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
}

// Streams is the slice of the stream manager the scheduler needs.
type Streams interface {
	Connected() (poly, kalshi bool)
	SubscriptionCounts() (poly, kalshi int)
	SyncSubscriptions(ctx context.Context) error
}

// Config tunes both loops.
type Config struct {
	DiscoveryInterval  time.Duration
	RefreshInterval    time.Duration
	RefreshTopN        int
	RefreshConcurrency int
	RefreshTimeout     time.Duration
	Retention          time.Duration
}

// DefaultConfig returns the intervals the scanner ships with.
func DefaultConfig() Config {
	return Config{
		DiscoveryInterval:  5 * time.Minute,
		RefreshInterval:    time.Minute,
		RefreshTopN:        200,
		RefreshConcurrency: 10,
		RefreshTimeout:     10 * time.Second,
		Retention:          7 * 24 * time.Hour,
	}
}

// Scheduler owns the discovery and refresh loops. A single cycle mutex
// serializes full discovery cycles against refresh passes and manual
// triggers; manual triggers that lose the race get ErrScanBusy instead of
// queueing.
type Scheduler struct {
	cfg Config

	poly        Lister
	kalshi      Lister
	polyFetch   Fetcher
	kalshiFetch Fetcher

	markets    domain.MarketStore
	matches    domain.MatchStore
	history    domain.HistoryStore
	embeddings domain.EmbeddingStore

	index    *match.EmbeddingIndex
	matcher  *match.Matcher
	calc     *arb.Calculator
	streams  Streams
	archiver domain.Archiver    // nil disables cold archiving
	lock     domain.LockManager // nil disables the cross-process singleton lock

	logger *slog.Logger

	cycleMu sync.Mutex
	status  statusTracker
}

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Poly        Lister
	Kalshi      Lister
	PolyFetch   Fetcher
	KalshiFetch Fetcher
	Markets     domain.MarketStore
	Matches     domain.MatchStore
	History     domain.HistoryStore
	Embeddings  domain.EmbeddingStore
	Index       *match.EmbeddingIndex
	Matcher     *match.Matcher
	Calc        *arb.Calculator
	Streams     Streams
	Archiver    domain.Archiver
	Lock        domain.LockManager
}

// New creates a scheduler. Zero-value config fields fall back to defaults.
func New(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = def.DiscoveryInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.RefreshTopN <= 0 {
		cfg.RefreshTopN = def.RefreshTopN
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = def.RefreshConcurrency
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &Scheduler{
		cfg:         cfg,
		poly:        deps.Poly,
		kalshi:      deps.Kalshi,
		polyFetch:   deps.PolyFetch,
		kalshiFetch: deps.KalshiFetch,
		markets:     deps.Markets,
		matches:     deps.Matches,
		history:     deps.History,
		embeddings:  deps.Embeddings,
		index:       deps.Index,
		matcher:     deps.Matcher,
		calc:        deps.Calc,
		streams:     deps.Streams,
		archiver:    deps.Archiver,
		lock:        deps.Lock,
		logger:      logger.With(slog.String("component", "scheduler")),
	}
}

// Run drives both loops until the context is cancelled. The first discovery
// cycle fires immediately so a fresh process does not idle for a full
// interval.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.discoveryLoop(ctx) })
	g.Go(func() error { return s.refreshLoop(ctx) })
	return g.Wait()
}

// RunOnce executes exactly one discovery cycle and returns its result.
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleResult, error) {
	return s.TriggerNow(ctx)
}

// TriggerNow runs a discovery cycle immediately, bypassing the timer. It
// returns domain.ErrScanBusy without queueing when a cycle is already in
// flight.
func (s *Scheduler) TriggerNow(ctx context.Context) (*CycleResult, error) {
	if !s.cycleMu.TryLock() {
		return nil, domain.ErrScanBusy
	}
	defer s.cycleMu.Unlock()
	return s.runDiscoveryCycle(ctx), nil
}

// Status reports both loops' state and the stream clients' connectivity.
func (s *Scheduler) Status() ScanStatus {
	discovery, refresh, last := s.status.snapshot()
	st := ScanStatus{
		Discovery: discovery,
		Refresh:   refresh,
		LastCycle: last,
	}
	if s.streams != nil {
		st.PolyStreamConnected, st.KalshiStreamConnected = s.streams.Connected()
		st.PolySubscriptions, st.KalshiSubscriptions = s.streams.SubscriptionCounts()
	}
	return st
}

func (s *Scheduler) discoveryLoop(ctx context.Context) error {
	s.status.setDiscoveryRunning(true)
	defer s.status.setDiscoveryRunning(false)

	ticker := time.NewTicker(s.cfg.DiscoveryInterval)
	defer ticker.Stop()

	s.discoveryTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.discoveryTick(ctx)
		}
	}
}

func (s *Scheduler) discoveryTick(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		s.logger.Debug("discovery tick skipped, cycle in flight")
		return
	}
	defer s.cycleMu.Unlock()
	s.runDiscoveryCycle(ctx)
}

func (s *Scheduler) refreshLoop(ctx context.Context) error {
	s.status.setRefreshRunning(true)
	defer s.status.setRefreshRunning(false)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refreshTick(ctx)
		}
	}
}

func (s *Scheduler) refreshTick(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		s.logger.Debug("refresh tick skipped, cycle in flight")
		return
	}
	defer s.cycleMu.Unlock()
	s.status.recordRefresh(time.Now().UTC(), s.runRefresh(ctx))
}

// runDiscoveryCycle executes the fixed step order: ingest, guarded cleanup,
// re-embed, match, persist, resync, archive. Step failures are recorded on
// the result and the cycle continues with partial data.
func (s *Scheduler) runDiscoveryCycle(ctx context.Context) *CycleResult {
	res := &CycleResult{StartedAt: time.Now().UTC()}
	defer func() {
		res.DurationMS = time.Since(res.StartedAt).Milliseconds()
		s.status.recordDiscovery(res)
		s.logger.Info("discovery cycle complete",
			slog.Int64("duration_ms", res.DurationMS),
			slog.Int("poly", res.PolyListed),
			slog.Int("kalshi", res.KalshiListed),
			slog.Int("removed", res.MarketsRemoved),
			slog.Int("new_matches", res.NewMatches),
			slog.Int("errors", len(res.Errors)))
	}()

	if s.lock != nil {
		unlock, err := s.lock.Acquire(ctx, singletonLockKey, s.cfg.DiscoveryInterval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.Info("discovery skipped, another scanner holds the lock")
			} else {
				res.fail("singleton lock", err)
			}
			return res
		}
		defer unlock()
	}

	polyMarkets := s.ingest(ctx, res, s.poly, "polymarket")
	kalshiMarkets := s.ingest(ctx, res, s.kalshi, "kalshi")
	res.PolyListed = len(polyMarkets)
	res.KalshiListed = len(kalshiMarkets)

	// Cleanup only runs when both listings came back non-empty, so a
	// transient upstream outage cannot wipe persisted state.
	if len(polyMarkets) > 0 && len(kalshiMarkets) > 0 {
		s.cleanup(ctx, res, polyMarkets, kalshiMarkets)
	}

	all := make([]domain.Market, 0, len(polyMarkets)+len(kalshiMarkets))
	all = append(all, polyMarkets...)
	all = append(all, kalshiMarkets...)
	if len(all) > 0 {
		embedded, err := s.index.Sync(ctx, all)
		if err != nil {
			res.fail("embed", err)
		}
		res.Embedded = embedded
	}

	existing, err := s.existingKeys(ctx)
	if err != nil {
		res.fail("load existing matches", err)
	}

	matched, err := s.matcher.Match(ctx, polyMarkets, kalshiMarkets, existing)
	if err != nil {
		res.fail("match", err)
	}
	res.Engine = matched.Stats

	res.NewMatches = s.persistMatches(ctx, res, matched.Matches)

	if s.streams != nil {
		if err := s.streams.SyncSubscriptions(ctx); err != nil {
			res.fail("subscription resync", err)
		}
	}

	if s.archiver != nil {
		archived, err := s.archiver.ArchiveSnapshots(ctx, res.StartedAt.Add(-s.cfg.Retention))
		if err != nil {
			res.fail("archive", err)
		}
		res.Archived = archived
	}

	return res
}

func (r *CycleResult) fail(step string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", step, err))
}

func (s *Scheduler) ingest(ctx context.Context, res *CycleResult, lister Lister, name string) []domain.Market {
	listings, err := lister.ListMarkets(ctx)
	if err != nil {
		res.fail("ingest "+name, err)
		return nil
	}
	if len(listings) == 0 {
		return nil
	}
	if err := s.markets.UpsertBatch(ctx, listings); err != nil {
		res.fail("upsert "+name, err)
	}
	return listings
}

// cleanup removes markets absent from the latest listings and cascades the
// deletion through matches, history and embeddings.
func (s *Scheduler) cleanup(ctx context.Context, res *CycleResult, polyMarkets, kalshiMarkets []domain.Market) {
	removed := s.deleteMissing(ctx, res, domain.ExchangePolymarket, polyMarkets)
	removed = append(removed, s.deleteMissing(ctx, res, domain.ExchangeKalshi, kalshiMarkets)...)
	res.MarketsRemoved = len(removed)
	if len(removed) == 0 {
		return
	}

	matchIDs, err := s.matches.DeleteForMarkets(ctx, removed)
	if err != nil {
		res.fail("delete stale matches", err)
	} else if len(matchIDs) > 0 {
		if err := s.history.DeleteByMatches(ctx, matchIDs); err != nil {
			res.fail("delete stale history", err)
		}
	}

	if err := s.embeddings.DeleteByMarkets(ctx, removed); err != nil {
		res.fail("delete stale embeddings", err)
	}
	s.index.Remove(removed)

	s.logger.Info("diff cleanup",
		slog.Int("markets_removed", len(removed)),
		slog.Int("matches_removed", len(matchIDs)))
}

func (s *Scheduler) deleteMissing(ctx context.Context, res *CycleResult, exchange domain.Exchange, listings []domain.Market) []string {
	present := make([]string, 0, len(listings))
	for _, m := range listings {
		present = append(present, m.ID)
	}
	removed, err := s.markets.DeleteMissing(ctx, exchange, present)
	if err != nil {
		res.fail(fmt.Sprintf("delete missing %s", exchange), err)
		return nil
	}
	return removed
}

func (s *Scheduler) existingKeys(ctx context.Context) (map[string]struct{}, error) {
	persisted, err := s.matches.List(ctx, domain.ListOpts{})
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(persisted))
	for _, m := range persisted {
		keys[match.CacheKey(m.PolyID, m.KalshiID)] = struct{}{}
	}
	return keys, nil
}

// persistMatches turns accepted candidates into ConfirmedMatch rows with a
// freshly computed spread. Returns how many were upserted.
func (s *Scheduler) persistMatches(ctx context.Context, res *CycleResult, candidates []domain.MatchCandidate) int {
	persisted := 0
	for _, cand := range candidates {
		poly, err := s.markets.GetByID(ctx, cand.PolyID)
		if err != nil {
			res.fail("persist match "+cand.PolyID, err)
			continue
		}
		kalshi, err := s.markets.GetByID(ctx, cand.KalshiID)
		if err != nil {
			res.fail("persist match "+cand.KalshiID, err)
			continue
		}

		spread := s.calc.Compute(poly.YesPrice, kalshi.YesPrice)
		row := domain.ConfirmedMatch{
			PolyID:            cand.PolyID,
			KalshiID:          cand.KalshiID,
			Confidence:        cand.Confidence,
			PolyYes:           poly.YesPrice,
			KalshiYes:         kalshi.YesPrice,
			PolyVolume:        poly.Volume,
			KalshiVolume:      kalshi.Volume,
			Spread:            spread.Raw,
			FeeAdjustedSpread: spread.FeeAdjusted,
			Direction:         spread.Direction,
			Profitable:        spread.Profitable,
			PolyQuestion:      poly.Question,
			KalshiQuestion:    kalshi.Question,
			Reasoning:         cand.Reasoning,
		}
		if _, err := s.matches.Upsert(ctx, row); err != nil {
			res.fail("upsert match", err)
			continue
		}
		persisted++
	}
	return persisted
}
