package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.LedgerStore = (*LedgerStore)(nil)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const ledgerColumns = `
	id, recipient_id, amount, currency, type, source_position_id,
	COALESCE(source_member_id, ''), level, board_id, status, failure_reason,
	created_at, settled_at`

// insertLedger skips a row that collides on either the per-position or the
// per-member unique key.
const insertLedger = `
	INSERT INTO ledger_entries (
		id, recipient_id, amount, currency, type, source_position_id,
		source_member_id, level, board_id, status, failure_reason, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12)
	ON CONFLICT DO NOTHING`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertLedgerEntry(ctx context.Context, db execer, e domain.LedgerEntry) (bool, error) {
	tag, err := db.Exec(ctx, insertLedger, ledgerArgs(e)...)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry %s: %w", e.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func ledgerArgs(e domain.LedgerEntry) []any {
	status := e.Status
	if status == "" {
		status = domain.LedgerStatusPending
	}
	return []any{
		e.ID, e.RecipientID, e.Amount, e.Currency, string(e.Type), e.SourcePositionID,
		e.SourceMemberID, e.Level, e.BoardID, string(status), e.FailureReason, e.CreatedAt,
	}
}

// PostBatch inserts the entries in one batch. Duplicates by (source
// position, type, level) or (source member, type, level) are skipped.
func (s *LedgerStore) PostBatch(ctx context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	var posted []domain.LedgerEntry
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(insertLedger, ledgerArgs(e)...)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range entries {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: post ledger batch item %d: %w", i, err)
			}
			if tag.RowsAffected() == 1 {
				posted = append(posted, entries[i])
			}
		}
		return br.Close()
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// GetByID returns a ledger entry by id.
func (s *LedgerStore) GetByID(ctx context.Context, id string) (domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1`
	e, err := scanLedgerEntry(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: get ledger entry %s: %w", id, notFound(err))
	}
	return e, nil
}

// ListPending returns PENDING entries, oldest first.
func (s *LedgerStore) ListPending(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE status = 'PENDING' ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryEntries(ctx, "list pending ledger entries", query, args...)
}

// MarkStatus settles a PENDING entry.
func (s *LedgerStore) MarkStatus(ctx context.Context, id string, status domain.LedgerStatus, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ledger_entries SET status = $2, failure_reason = $3, settled_at = $4
		WHERE id = $1 AND status = 'PENDING'`,
		id, string(status), reason, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark ledger entry %s %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark ledger entry %s %s: %w", id, status, domain.ErrNotFound)
	}
	return nil
}

// ListByRecipient returns a member's entries, newest first.
func (s *LedgerStore) ListByRecipient(ctx context.Context, memberID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE recipient_id = $1`
	args := []any{memberID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.queryEntries(ctx, "list ledger entries of "+memberID, query, args...)
}

// SumByRecipient totals a member's non-failed entries per bonus type.
func (s *LedgerStore) SumByRecipient(ctx context.Context, memberID string) (map[domain.BonusType]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT type, SUM(amount) FROM ledger_entries
		WHERE recipient_id = $1 AND status <> 'FAILED'
		GROUP BY type`, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: sum ledger of %s: %w", memberID, err)
	}
	defer rows.Close()

	sums := make(map[domain.BonusType]decimal.Decimal)
	for rows.Next() {
		var typ string
		var total decimal.Decimal
		if err := rows.Scan(&typ, &total); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger sum: %w", err)
		}
		sums[domain.BonusType(typ)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sum ledger rows: %w", err)
	}
	return sums, nil
}

// ListSettledBefore returns PAID or FAILED entries settled before the
// cutoff, oldest first.
func (s *LedgerStore) ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE status <> 'PENDING' AND settled_at < $1 ORDER BY settled_at, id`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryEntries(ctx, "list settled ledger entries", query, args...)
}

func (s *LedgerStore) queryEntries(ctx context.Context, op, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var list []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: rows: %w", op, err)
	}
	return list, nil
}

func scanLedgerEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var typ, status string
	err := row.Scan(
		&e.ID, &e.RecipientID, &e.Amount, &e.Currency, &typ, &e.SourcePositionID,
		&e.SourceMemberID, &e.Level, &e.BoardID, &status, &e.FailureReason,
		&e.CreatedAt, &e.SettledAt,
	)
	e.Type = domain.BonusType(typ)
	e.Status = domain.LedgerStatus(status)
	return e, err
}
