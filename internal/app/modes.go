package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbscanner/internal/domain"
	"github.com/alanyoungcy/arbscanner/internal/scheduler"
	"github.com/alanyoungcy/arbscanner/internal/server"
	"github.com/alanyoungcy/arbscanner/internal/server/handler"
	"github.com/alanyoungcy/arbscanner/internal/server/ws"
	"github.com/alanyoungcy/arbscanner/internal/stream"
)

// shutdownGrace bounds how long in-flight HTTP requests may drain.
const shutdownGrace = 10 * time.Second

// ScannerMode runs the full system in one process: both streaming clients,
// the discovery and refresh loops, the WebSocket hub and the HTTP API.
func (a *App) ScannerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scanner mode")

	g, ctx := errgroup.WithContext(ctx)

	manager, sched, err := a.buildScanner(ctx, deps)
	if err != nil {
		return err
	}

	// In-process fan-out: stream updates go straight to the hub. The Redis
	// bus still carries them for any api-mode processes pointed at the same
	// Redis.
	hub := ws.NewHub(nil, a.logger)
	manager.OnUpdate(func(u domain.PriceUpdate) { hub.Broadcast(u) })

	g.Go(func() error { return deps.PolyStream.Run(ctx) })
	g.Go(func() error { return deps.KalshiStream.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, hub, sched)
	}

	return g.Wait()
}

// APIMode serves the HTTP and WebSocket API over the persisted store. Price
// updates arrive via the Redis signal bus from a scanner running elsewhere.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	a.startServer(ctx, g, deps, hub, nil)

	return g.Wait()
}

// OnceMode runs exactly one discovery cycle and exits.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	_, sched, err := a.buildScanner(ctx, deps)
	if err != nil {
		return err
	}

	res, err := sched.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("app: discovery cycle: %w", err)
	}

	a.logger.InfoContext(ctx, "discovery cycle finished",
		slog.Int("poly_listed", res.PolyListed),
		slog.Int("kalshi_listed", res.KalshiListed),
		slog.Int("new_matches", res.NewMatches),
		slog.Int64("archived", res.Archived),
		slog.Int("errors", len(res.Errors)),
		slog.Int64("duration_ms", res.DurationMS))
	return nil
}

// buildScanner assembles the stream manager and scheduler and loads the
// embedding index.
func (a *App) buildScanner(ctx context.Context, deps *Dependencies) (*stream.Manager, *scheduler.Scheduler, error) {
	manager := stream.NewManager(
		stream.ManagerConfig{HistoryThrottle: a.cfg.Scanner.HistoryThrottle.Duration},
		deps.Matches,
		deps.Markets,
		deps.History,
		deps.Prices,
		deps.Calc,
		deps.PolyStream,
		deps.KalshiStream,
		deps.Bus,
		a.logger,
	)
	deps.PolyStream.OnPrice(manager.HandlePolyPrice)
	deps.KalshiStream.OnTicker(manager.HandleKalshiTicker)

	if err := deps.Index.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("app: load embedding index: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		DiscoveryInterval:  a.cfg.Scanner.DiscoveryInterval.Duration,
		RefreshInterval:    a.cfg.Scanner.RefreshInterval.Duration,
		RefreshTopN:        a.cfg.Scanner.RefreshTopN,
		RefreshConcurrency: a.cfg.Scanner.RefreshConcurrency,
		Retention:          a.cfg.Scanner.Retention.Duration,
	}, scheduler.Deps{
		Poly:        deps.Gamma,
		Kalshi:      deps.Kalshi,
		PolyFetch:   deps.Gamma,
		KalshiFetch: deps.Kalshi,
		Markets:     deps.Markets,
		Matches:     deps.Matches,
		History:     deps.History,
		Embeddings:  deps.Embeddings,
		Index:       deps.Index,
		Matcher:     deps.Matcher,
		Calc:        deps.Calc,
		Streams:     manager,
		Archiver:    deps.Archiver,
		Lock:        deps.Lock,
	}, a.logger)

	return manager, sched, nil
}

// startServer adds the HTTP server and its graceful shutdown to the group.
// sched may be nil; the scan endpoints are then not registered.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, sched *scheduler.Scheduler) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Markets: handler.NewMarketHandler(deps.Markets, a.logger),
		Matches: handler.NewMatchHandler(deps.Matches, deps.History, a.logger),
	}
	if sched != nil {
		handlers.Scan = handler.NewScanHandler(sched, a.logger)
	}

	srv := server.NewServer(server.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
