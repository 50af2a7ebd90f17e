package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/metrics"
	"github.com/alanyoungcy/matrixnet/internal/service"
)

// SettlerConfig tunes the settlement loop.
type SettlerConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// SettleReport counts the outcomes of one settlement pass.
type SettleReport struct {
	Paid    int
	Failed  int
	Retried int
}

// Settler drains PENDING ledger entries into the external wallet. An entry
// moves to PAID on success and to FAILED on a permanent rejection;
// transient errors leave it PENDING for the next pass.
type Settler struct {
	ledger   domain.LedgerStore
	wallet   domain.Wallet
	bus      domain.SignalBus
	notifier service.Notifier
	metrics  *metrics.Metrics
	cfg      SettlerConfig
	logger   *slog.Logger
}

// NewSettler creates a Settler. bus and notifier may be nil.
func NewSettler(
	ledger domain.LedgerStore,
	wallet domain.Wallet,
	bus domain.SignalBus,
	notifier service.Notifier,
	m *metrics.Metrics,
	cfg SettlerConfig,
	logger *slog.Logger,
) *Settler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Settler{
		ledger:   ledger,
		wallet:   wallet,
		bus:      bus,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
	}
}

// RunOnce settles one batch of pending entries.
func (s *Settler) RunOnce(ctx context.Context) (SettleReport, error) {
	pending, err := s.ledger.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return SettleReport{}, fmt.Errorf("settler: list pending: %w", err)
	}
	if len(pending) == 0 {
		return SettleReport{}, nil
	}

	var paid, failed, retried atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, e := range pending {
		g.Go(func() error {
			switch s.settle(gctx, e) {
			case domain.LedgerStatusPaid:
				paid.Add(1)
			case domain.LedgerStatusFailed:
				failed.Add(1)
			default:
				retried.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := SettleReport{Paid: int(paid.Load()), Failed: int(failed.Load()), Retried: int(retried.Load())}
	s.logger.InfoContext(ctx, "settler: batch settled",
		slog.Int("paid", rep.Paid),
		slog.Int("failed", rep.Failed),
		slog.Int("retried", rep.Retried),
	)
	return rep, nil
}

// settle credits one entry and returns the status it ended in, PENDING
// meaning it will be retried.
func (s *Settler) settle(ctx context.Context, e domain.LedgerEntry) domain.LedgerStatus {
	err := s.wallet.Credit(ctx, domain.Credit{
		EntryID:   e.ID,
		MemberID:  e.RecipientID,
		Amount:    e.Amount,
		Currency:  e.Currency,
		Type:      e.Type,
		Reference: e.SourcePositionID,
	})

	status, reason := domain.LedgerStatusPaid, ""
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPayoutRejected):
		status, reason = domain.LedgerStatusFailed, err.Error()
	default:
		s.metrics.Settled("retry")
		s.logger.WarnContext(ctx, "settler: credit failed, will retry",
			slog.String("entry_id", e.ID),
			slog.String("error", err.Error()),
		)
		return domain.LedgerStatusPending
	}

	if err := s.ledger.MarkStatus(ctx, e.ID, status, reason, time.Now().UTC()); err != nil {
		// The wallet call is idempotent on the entry id, so the next pass
		// can safely repeat it.
		s.logger.ErrorContext(ctx, "settler: mark status failed",
			slog.String("entry_id", e.ID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return domain.LedgerStatusPending
	}

	s.metrics.Settled(map[domain.LedgerStatus]string{
		domain.LedgerStatusPaid:   "paid",
		domain.LedgerStatusFailed: "failed",
	}[status])
	s.publish(ctx, e, status, reason)
	return status
}

func (s *Settler) publish(ctx context.Context, e domain.LedgerEntry, status domain.LedgerStatus, reason string) {
	if s.bus != nil {
		settled := e
		settled.Status = status
		settled.FailureReason = reason
		payload, _ := json.Marshal(domain.Event{Type: "entry_settled", At: time.Now().UTC(), Data: settled})
		if err := s.bus.Publish(ctx, domain.ChannelLedger, payload); err != nil {
			s.logger.WarnContext(ctx, "settler: publish failed", slog.String("error", err.Error()))
		}
	}
	if status == domain.LedgerStatusFailed && s.notifier != nil {
		msg := fmt.Sprintf("%s %s %s to %s rejected: %s", e.Type, e.Amount.StringFixed(2), e.Currency, e.RecipientID, reason)
		if err := s.notifier.Notify(ctx, "payout_failed", "Payout rejected", msg); err != nil {
			s.logger.WarnContext(ctx, "settler: notify failed", slog.String("error", err.Error()))
		}
	}
}

// RunLoop settles on every tick until ctx is cancelled.
func (s *Settler) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "settler: pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
