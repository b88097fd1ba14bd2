package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// runRefresh re-fetches prices for the top matches by their thinner side's
// volume. It is skipped entirely while both push streams are connected, since
// streaming already covers every subscribed match.
func (s *Scheduler) runRefresh(ctx context.Context) error {
	if s.streams != nil {
		poly, kalshi := s.streams.Connected()
		if poly && kalshi {
			s.logger.Debug("refresh skipped, both streams connected")
			return nil
		}
	}

	top, err := s.matches.ListTopByVolume(ctx, s.cfg.RefreshTopN)
	if err != nil {
		return fmt.Errorf("scheduler: refresh list: %w", err)
	}
	if len(top) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RefreshConcurrency)

	for _, m := range top {
		g.Go(func() error {
			if err := s.refreshMatch(ctx, m); err != nil {
				s.logger.Warn("refresh match",
					slog.Int64("match_id", m.ID),
					slog.String("error", err.Error()))
			}
			// Individual failures never abort the pass.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scheduler: refresh: %w", err)
	}

	s.logger.Info("price refresh complete", slog.Int("matches", len(top)))
	return nil
}

func (s *Scheduler) refreshMatch(ctx context.Context, m domain.ConfirmedMatch) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	_, polyNative, err := domain.SplitMarketID(m.PolyID)
	if err != nil {
		return err
	}
	_, kalshiNative, err := domain.SplitMarketID(m.KalshiID)
	if err != nil {
		return err
	}

	poly, err := s.polyFetch.GetMarket(ctx, polyNative)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", m.PolyID, err)
	}
	kalshi, err := s.kalshiFetch.GetMarket(ctx, kalshiNative)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", m.KalshiID, err)
	}

	if err := s.markets.Upsert(ctx, poly); err != nil {
		return err
	}
	if err := s.markets.Upsert(ctx, kalshi); err != nil {
		return err
	}

	spread := s.calc.Compute(poly.YesPrice, kalshi.YesPrice)
	m.PolyYes = poly.YesPrice
	m.KalshiYes = kalshi.YesPrice
	m.Spread = spread.Raw
	m.FeeAdjustedSpread = spread.FeeAdjusted
	m.Direction = spread.Direction
	m.Profitable = spread.Profitable

	if err := s.matches.UpdatePrices(ctx, m); err != nil {
		return err
	}

	return s.history.Append(ctx, domain.PriceSnapshot{
		MatchID:           m.ID,
		PolyYes:           m.PolyYes,
		KalshiYes:         m.KalshiYes,
		Spread:            m.Spread,
		FeeAdjustedSpread: m.FeeAdjustedSpread,
		RecordedAt:        time.Now().UTC(),
	})
}
