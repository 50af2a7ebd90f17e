package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/matrixnet/internal/pipeline"
	"github.com/alanyoungcy/matrixnet/internal/server"
	"github.com/alanyoungcy/matrixnet/internal/server/handler"
	"github.com/alanyoungcy/matrixnet/internal/server/ws"
)

// ServeMode runs the HTTP API, the WebSocket hub and the cycle replay loop.
// Interrupted cycles are recovered once before the server accepts traffic.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	a.replayAtStartup(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	orch := pipeline.NewOrchestrator(nil, deps.Cycles, nil, a.orchestratorConfig(), a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// SettleMode runs only the ledger settlement worker.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	orch := pipeline.NewOrchestrator(a.newSettler(deps), nil, nil, a.orchestratorConfig(), a.logger)
	return orch.Run(ctx)
}

// ArchiveMode runs one archive pass and exits when no cron is configured,
// otherwise it stays up and archives on schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.String("cron", a.cfg.Archive.Cron),
	)

	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, deps.Metrics, a.logger)
	if a.cfg.Archive.Cron == "" {
		_, err := archiver.Run(ctx)
		return err
	}
	orch := pipeline.NewOrchestrator(nil, nil, archiver, a.orchestratorConfig(), a.logger)
	return orch.Run(ctx)
}

// FullMode runs the API together with every background loop the
// configuration enables.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	a.replayAtStartup(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	var settler *pipeline.Settler
	if deps.Wallet != nil {
		settler = a.newSettler(deps)
	} else {
		a.logger.WarnContext(ctx, "full mode: no wallet configured, ledger entries stay pending")
	}
	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, deps.Metrics, a.logger)
	}

	orch := pipeline.NewOrchestrator(settler, deps.Cycles, archiver, a.orchestratorConfig(), a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

func (a *App) newSettler(deps *Dependencies) *pipeline.Settler {
	return pipeline.NewSettler(
		deps.LedgerStore, deps.Wallet, deps.SignalBus, deps.Notifier, deps.Metrics,
		pipeline.SettlerConfig{
			Interval:    a.cfg.Settlement.Interval.Duration,
			BatchSize:   a.cfg.Settlement.BatchSize,
			Concurrency: a.cfg.Settlement.Concurrency,
		},
		a.logger,
	)
}

func (a *App) orchestratorConfig() pipeline.OrchestratorConfig {
	return pipeline.OrchestratorConfig{
		ArchiveCron:    a.cfg.Archive.Cron,
		ReplayInterval: a.cfg.Matrix.ReplayInterval.Duration,
		ReplayBatch:    a.cfg.Matrix.ReplayBatch,
	}
}

// replayAtStartup finishes cycles and re-entries a previous process left
// behind. Failures are logged; the periodic replay loop retries them.
func (a *App) replayAtStartup(ctx context.Context, deps *Dependencies) {
	rctx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()
	rep, err := deps.Cycles.ReplayPending(rctx, a.cfg.Matrix.ReplayBatch)
	if err != nil {
		a.logger.WarnContext(ctx, "startup replay failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "startup replay finished",
		slog.Int("commissioned", rep.Commissioned),
		slog.Int("cycled", rep.Cycled),
		slog.Int("reentered", rep.Reentered),
		slog.Int("failed", rep.Failed),
	)
}

// startHTTPServer registers the API and hub goroutines on g. The server is
// shut down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Boards:     handler.NewBoardHandler(deps.Boards, deps.Stats, a.logger),
		Placements: handler.NewPlacementHandler(deps.Placement, a.logger),
		Members:    handler.NewMemberHandler(deps.Stats, deps.LedgerStore, deps.AuditStore, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:                a.cfg.Server.Port,
		CORSOrigins:         a.cfg.Server.CORSOrigins,
		APIKeys:             a.cfg.Server.APIKeys,
		PlacementsPerMinute: a.cfg.Server.PlacementsPerMinute,
	}, handlers, hub, deps.RateLimiter, deps.Registry, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
