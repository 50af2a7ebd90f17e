package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionColumns = `
	p.id, p.board_id, p.instance_id, p.slot_index, COALESCE(p.occupant_id, ''),
	p.status, p.filled_below, p.filled_at, p.cycled_at, p.reentered,
	COALESCE(p.recycled_into, ''), p.commissioned, p.created_at`

// Claim fills a slot and bumps its ancestors in a single transaction. The
// instance row is locked first: every claim bumps the instance's filled
// count and the shared filled_below of the root, so claims on one instance
// serialize while claims on different instances proceed in parallel.
func (s *PositionStore) Claim(ctx context.Context, claim domain.SlotClaim) (domain.ClaimResult, error) {
	at := claim.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var res domain.ClaimResult

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM instances WHERE id = $1 FOR UPDATE`, claim.InstanceID).Scan(&status)
		if err != nil {
			return fmt.Errorf("postgres: claim %s/%d: %w", claim.InstanceID, claim.SlotIndex, notFound(err))
		}
		if domain.InstanceStatus(status) != domain.InstanceStatusOpen {
			return fmt.Errorf("postgres: claim %s/%d: %w", claim.InstanceID, claim.SlotIndex, domain.ErrInstanceClosed)
		}

		var elsewhere bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM positions
				WHERE instance_id = $1 AND occupant_id = $2 AND slot_index <> $3
			)`, claim.InstanceID, claim.MemberID, claim.SlotIndex,
		).Scan(&elsewhere)
		if err != nil {
			return fmt.Errorf("postgres: claim %s/%d: check occupant: %w", claim.InstanceID, claim.SlotIndex, err)
		}
		if elsewhere {
			return fmt.Errorf("postgres: claim %s/%d for %s: %w",
				claim.InstanceID, claim.SlotIndex, claim.MemberID, domain.ErrMemberAlreadyPlaced)
		}

		// A reserved root row exists as OPEN with its occupant preset; any
		// other slot is inserted on first fill.
		const upsert = `
			INSERT INTO positions AS p (id, board_id, instance_id, slot_index, occupant_id, status, filled_at, created_at)
			VALUES ($1, $2, $3, $4, $5, 'FILLED', $6, $6)
			ON CONFLICT (instance_id, slot_index) DO UPDATE SET
				occupant_id = EXCLUDED.occupant_id,
				status      = 'FILLED',
				filled_at   = EXCLUDED.filled_at
			WHERE p.status = 'OPEN' AND (p.occupant_id IS NULL OR p.occupant_id = EXCLUDED.occupant_id)
			RETURNING ` + positionColumns
		pos, err := scanPosition(tx.QueryRow(ctx, upsert,
			uuid.NewString(), claim.BoardID, claim.InstanceID, claim.SlotIndex, claim.MemberID, at,
		))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("postgres: claim %s/%d for %s: %w",
					claim.InstanceID, claim.SlotIndex, claim.MemberID, domain.ErrMemberAlreadyPlaced)
			}
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: claim %s/%d: %w", claim.InstanceID, claim.SlotIndex, domain.ErrSlotTaken)
			}
			return fmt.Errorf("postgres: claim %s/%d: %w", claim.InstanceID, claim.SlotIndex, err)
		}
		res.Position = pos

		res.Instance, err = scanInstance(tx.QueryRow(ctx, `
			UPDATE instances SET filled = filled + 1 WHERE id = $1
			RETURNING `+instanceColumns, claim.InstanceID))
		if err != nil {
			return fmt.Errorf("postgres: claim %s/%d: bump instance: %w", claim.InstanceID, claim.SlotIndex, err)
		}

		if len(claim.Ancestors) == 0 {
			return nil
		}
		rows, err := tx.Query(ctx, `
			UPDATE positions SET filled_below = filled_below + 1
			WHERE instance_id = $1 AND slot_index = ANY($2)
			RETURNING id, slot_index, COALESCE(occupant_id, ''), status, filled_below`,
			claim.InstanceID, claim.Ancestors,
		)
		if err != nil {
			return fmt.Errorf("postgres: claim %s/%d: bump ancestors: %w", claim.InstanceID, claim.SlotIndex, err)
		}
		bySlot := make(map[int]domain.NodeState, len(claim.Ancestors))
		for rows.Next() {
			var n domain.NodeState
			var st string
			if err := rows.Scan(&n.PositionID, &n.SlotIndex, &n.OccupantID, &st, &n.FilledBelow); err != nil {
				rows.Close()
				return fmt.Errorf("postgres: claim %s/%d: scan ancestor: %w", claim.InstanceID, claim.SlotIndex, err)
			}
			n.Status = domain.PositionStatus(st)
			bySlot[n.SlotIndex] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("postgres: claim %s/%d: ancestors rows: %w", claim.InstanceID, claim.SlotIndex, err)
		}
		for _, a := range claim.Ancestors {
			n, ok := bySlot[a]
			if !ok {
				return fmt.Errorf("postgres: claim %s/%d: ancestor slot %d missing", claim.InstanceID, claim.SlotIndex, a)
			}
			res.Ancestors = append(res.Ancestors, n)
		}
		return nil
	})
	if err != nil {
		return domain.ClaimResult{}, err
	}
	return res, nil
}

// CompleteCycle marks the slot CYCLED, posts the cycle entry and, for the
// root, closes the instance. A slot that is not FILLED is left alone.
func (s *PositionStore) CompleteCycle(ctx context.Context, c domain.CycleCompletion) (bool, error) {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	applied := false

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE positions SET status = 'CYCLED', cycled_at = $3
			WHERE instance_id = $1 AND slot_index = $2 AND status = 'FILLED'`,
			c.InstanceID, c.SlotIndex, at,
		)
		if err != nil {
			return fmt.Errorf("postgres: complete cycle %s/%d: %w", c.InstanceID, c.SlotIndex, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM positions WHERE instance_id = $1 AND slot_index = $2)`,
				c.InstanceID, c.SlotIndex,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("postgres: complete cycle %s/%d: %w", c.InstanceID, c.SlotIndex, err)
			}
			if !exists {
				return fmt.Errorf("postgres: complete cycle %s/%d: %w", c.InstanceID, c.SlotIndex, domain.ErrNotFound)
			}
			return nil
		}

		if c.Entry != nil {
			if _, err := insertLedgerEntry(ctx, tx, *c.Entry); err != nil {
				return fmt.Errorf("postgres: complete cycle %s/%d: %w", c.InstanceID, c.SlotIndex, err)
			}
		}
		if c.IsRoot {
			if _, err := tx.Exec(ctx,
				`UPDATE instances SET status = 'cycled', cycled_at = $2 WHERE id = $1`,
				c.InstanceID, at,
			); err != nil {
				return fmt.Errorf("postgres: close instance %s: %w", c.InstanceID, err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// GetByID returns a position by id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions p WHERE p.id = $1`
	pos, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, notFound(err))
	}
	return pos, nil
}

// GetSlot returns the position at one slot of an instance.
func (s *PositionStore) GetSlot(ctx context.Context, instanceID string, slotIndex int) (domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions p WHERE p.instance_id = $1 AND p.slot_index = $2`
	pos, err := scanPosition(s.pool.QueryRow(ctx, query, instanceID, slotIndex))
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get slot %s/%d: %w", instanceID, slotIndex, notFound(err))
	}
	return pos, nil
}

// ListByInstance returns every stored slot of an instance in index order.
func (s *PositionStore) ListByInstance(ctx context.Context, instanceID string) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions p WHERE p.instance_id = $1 ORDER BY p.slot_index`
	return s.queryPositions(ctx, "list positions of "+instanceID, query, instanceID)
}

// ListByOccupant returns a member's positions, newest instance first.
func (s *PositionStore) ListByOccupant(ctx context.Context, memberID string) ([]domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions p JOIN instances i ON i.id = p.instance_id
		WHERE p.occupant_id = $1
		ORDER BY i.seq DESC, p.slot_index`
	return s.queryPositions(ctx, "list positions of member "+memberID, query, memberID)
}

// ListActiveByOccupant returns the member's reserved or filled slots on
// open instances of one board, newest instance first.
func (s *PositionStore) ListActiveByOccupant(ctx context.Context, boardID, memberID string) ([]domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions p JOIN instances i ON i.id = p.instance_id
		WHERE p.board_id = $1 AND p.occupant_id = $2
		  AND p.status <> 'CYCLED' AND i.status = 'open'
		ORDER BY i.seq DESC, p.slot_index`
	return s.queryPositions(ctx, "list active positions of "+memberID, query, boardID, memberID)
}

// ListCycledAwaitingReentry returns cycled positions whose occupant has not
// been re-entered yet, oldest cycle first.
func (s *PositionStore) ListCycledAwaitingReentry(ctx context.Context, limit int) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions p
		WHERE p.status = 'CYCLED' AND NOT p.reentered ORDER BY p.cycled_at`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryPositions(ctx, "list awaiting reentry", query, args...)
}

// MarkReentered flags a cycled position as handled.
func (s *PositionStore) MarkReentered(ctx context.Context, positionID, instanceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET reentered = TRUE, recycled_into = NULLIF($2, '') WHERE id = $1`,
		positionID, instanceID,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark reentered %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark reentered %s: %w", positionID, domain.ErrNotFound)
	}
	return nil
}

// ListUncommissioned returns occupied slots whose placement commissions
// were never confirmed, oldest fill first.
func (s *PositionStore) ListUncommissioned(ctx context.Context, limit int) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions p
		WHERE p.status <> 'OPEN' AND NOT p.commissioned ORDER BY p.filled_at, p.instance_id, p.slot_index`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryPositions(ctx, "list uncommissioned positions", query, args...)
}

// MarkCommissioned records that a placement's commissions are posted.
func (s *PositionStore) MarkCommissioned(ctx context.Context, positionID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE positions SET commissioned = TRUE WHERE id = $1`, positionID)
	if err != nil {
		return fmt.Errorf("postgres: mark commissioned %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark commissioned %s: %w", positionID, domain.ErrNotFound)
	}
	return nil
}

func (s *PositionStore) queryPositions(ctx context.Context, op, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var list []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		list = append(list, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: rows: %w", op, err)
	}
	return list, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var pos domain.Position
	var status string
	err := row.Scan(
		&pos.ID, &pos.BoardID, &pos.InstanceID, &pos.SlotIndex, &pos.OccupantID,
		&status, &pos.FilledBelow, &pos.FilledAt, &pos.CycledAt, &pos.Reentered,
		&pos.RecycledInto, &pos.Commissioned, &pos.CreatedAt,
	)
	pos.Status = domain.PositionStatus(status)
	return pos, err
}
