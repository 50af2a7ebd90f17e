package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditStore implements domain.AuditStore using PostgreSQL. The board and
// member a row refers to are stored in their own indexed columns so a
// member's activity can be read without scanning the JSONB detail.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(ctx context.Context, event domain.AuditEvent, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal %s audit detail: %w", event, err)
	}
	boardID, memberID := domain.AuditSubject(detail)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (event, board_id, member_id, detail)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)`,
		string(event), boardID, memberID, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, "", opts)
}

// ListByMember returns the placements, re-entries and cycles recorded
// against memberID, newest first.
func (s *AuditStore) ListByMember(ctx context.Context, memberID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, memberID, opts)
}

func (s *AuditStore) list(ctx context.Context, memberID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, COALESCE(board_id, ''), COALESCE(member_id, ''), detail, created_at
		FROM audit_log WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if memberID != "" {
		query += " AND member_id = " + arg(memberID)
	}
	if opts.Since != nil {
		query += " AND created_at >= " + arg(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND created_at <= " + arg(*opts.Until)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			event      string
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &event, &e.BoardID, &e.MemberID, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		e.Event = domain.AuditEvent(event)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal %s audit detail: %w", event, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}
