package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.LedgerStore = (*LedgerStore)(nil)

// LedgerStore implements domain.LedgerStore in memory.
type LedgerStore struct {
	s *Store
}

func (l *LedgerStore) PostBatch(_ context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var posted []domain.LedgerEntry
	for _, e := range entries {
		if l.s.postLocked(e) {
			posted = append(posted, *l.s.ledger[e.ID])
		}
	}
	return posted, nil
}

func (l *LedgerStore) GetByID(_ context.Context, id string) (domain.LedgerEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	e, ok := l.s.ledger[id]
	if !ok {
		return domain.LedgerEntry{}, fmt.Errorf("memory: get ledger entry %s: %w", id, domain.ErrNotFound)
	}
	return *e, nil
}

func (l *LedgerStore) ListPending(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, id := range l.s.ledgerOrder {
		e := l.s.ledger[id]
		if e.Status != domain.LedgerStatusPending {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *LedgerStore) MarkStatus(_ context.Context, id string, status domain.LedgerStatus, reason string, at time.Time) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	e, ok := l.s.ledger[id]
	if !ok || e.Status != domain.LedgerStatusPending {
		return fmt.Errorf("memory: mark ledger entry %s %s: %w", id, status, domain.ErrNotFound)
	}
	e.Status = status
	e.FailureReason = reason
	e.SettledAt = &at
	return nil
}

func (l *LedgerStore) ListByRecipient(_ context.Context, memberID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []domain.LedgerEntry
	for k := len(l.s.ledgerOrder) - 1; k >= 0; k-- {
		e := l.s.ledger[l.s.ledgerOrder[k]]
		if e.RecipientID != memberID {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, *e)
	}
	return paginate(out, opts), nil
}

func (l *LedgerStore) SumByRecipient(_ context.Context, memberID string) (map[domain.BonusType]decimal.Decimal, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	sums := make(map[domain.BonusType]decimal.Decimal)
	for _, e := range l.s.ledger {
		if e.RecipientID != memberID || e.Status == domain.LedgerStatusFailed {
			continue
		}
		sums[e.Type] = sums[e.Type].Add(e.Amount)
	}
	return sums, nil
}

func (l *LedgerStore) ListSettledBefore(_ context.Context, before time.Time, limit int) ([]domain.LedgerEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range l.s.ledger {
		if e.SettledAt != nil && e.SettledAt.Before(before) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SettledAt.Before(*out[b].SettledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
