package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/matrixnet/internal/service"
)

// Replayer finishes cycle work interrupted by a crash.
type Replayer interface {
	ReplayPending(ctx context.Context, limit int) (service.ReplayReport, error)
}

// OrchestratorConfig selects and schedules the background loops. A loop
// whose component is nil is not started.
type OrchestratorConfig struct {
	ArchiveCron    string
	ReplayInterval time.Duration
	ReplayBatch    int
}

// Orchestrator manages the background goroutines: ledger settlement, cycle
// replay, and cold-storage archival.
type Orchestrator struct {
	settler  *Settler
	replayer Replayer
	archiver *Archiver
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. Any of settler, replayer and
// archiver may be nil.
func NewOrchestrator(
	settler *Settler,
	replayer Replayer,
	archiver *Archiver,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = time.Minute
	}
	if cfg.ReplayBatch <= 0 {
		cfg.ReplayBatch = 100
	}
	return &Orchestrator{
		settler:  settler,
		replayer: replayer,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts all configured loops as concurrent goroutines using an
// errgroup. If any loop returns a non-context error, the errgroup cancels the
// shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline: orchestrator starting",
		slog.Bool("settler", o.settler != nil),
		slog.Bool("replay", o.replayer != nil),
		slog.Bool("archiver", o.archiver != nil),
		slog.String("archive_cron", o.cfg.ArchiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.settler != nil {
		g.Go(func() error {
			err := o.settler.RunLoop(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("settler: %w", err)
		})
	}

	if o.replayer != nil {
		g.Go(func() error {
			err := o.runReplay(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("replay: %w", err)
		})
	}

	if o.archiver != nil && o.cfg.ArchiveCron != "" {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.cfg.ArchiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline: orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline: orchestrator stopped cleanly")
	return nil
}

// runReplay sweeps for interrupted cycles immediately and then on every tick.
func (o *Orchestrator) runReplay(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.ReplayInterval)
	defer ticker.Stop()
	for {
		if _, err := o.replayer.ReplayPending(ctx, o.cfg.ReplayBatch); err != nil {
			o.logger.Error("pipeline: replay sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
