package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.InstanceStore = (*InstanceStore)(nil)

// InstanceStore implements domain.InstanceStore using PostgreSQL.
type InstanceStore struct {
	pool *pgxpool.Pool
}

// NewInstanceStore creates a new InstanceStore.
func NewInstanceStore(pool *pgxpool.Pool) *InstanceStore {
	return &InstanceStore{pool: pool}
}

const instanceColumns = `
	id, board_id, root_member_id, COALESCE(origin_position_id, ''),
	status, filled, capacity, created_at, cycled_at`

// Allocate creates the instance and its root slot in one transaction. The
// board row is locked so concurrent allocations observe each other when
// enforcing MaxInstances.
func (s *InstanceStore) Allocate(ctx context.Context, alloc domain.InstanceAllocation) (domain.Instance, domain.Position, error) {
	at := alloc.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	inst := domain.Instance{
		ID:               uuid.NewString(),
		BoardID:          alloc.BoardID,
		RootMemberID:     alloc.RootMemberID,
		OriginPositionID: alloc.OriginPositionID,
		Status:           domain.InstanceStatusOpen,
		Capacity:         alloc.Capacity,
		CreatedAt:        at,
	}
	root := domain.Position{
		ID:         uuid.NewString(),
		BoardID:    alloc.BoardID,
		InstanceID: inst.ID,
		OccupantID: alloc.RootMemberID,
		Status:     domain.PositionStatusOpen,
		CreatedAt:  at,
	}
	if alloc.RootFilled {
		root.Status = domain.PositionStatusFilled
		root.FilledAt = &at
		inst.Filled = 1
	}
	// A re-entry root posts no placement commissions.
	root.Commissioned = alloc.OriginPositionID != ""

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var board domain.Board
		err := tx.QueryRow(ctx,
			`SELECT width, depth FROM boards WHERE id = $1 FOR UPDATE`, alloc.BoardID,
		).Scan(&board.Width, &board.Depth)
		if err != nil {
			return fmt.Errorf("postgres: lock board %s: %w", alloc.BoardID, notFound(err))
		}
		if board.Geometry().Capacity() != alloc.Capacity {
			return fmt.Errorf("postgres: allocate instance on %s: geometry changed: %w", alloc.BoardID, domain.ErrBoardLocked)
		}
		if alloc.MaxInstances > 0 {
			var open int
			err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM instances WHERE board_id = $1 AND status = 'open'`, alloc.BoardID,
			).Scan(&open)
			if err != nil {
				return fmt.Errorf("postgres: count open instances on %s: %w", alloc.BoardID, err)
			}
			if open >= alloc.MaxInstances {
				return fmt.Errorf("postgres: allocate instance on %s: %w", alloc.BoardID, domain.ErrBoardFull)
			}
		}

		const insertInstance = `
			INSERT INTO instances (id, board_id, root_member_id, origin_position_id, status, filled, capacity, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`
		if _, err := tx.Exec(ctx, insertInstance,
			inst.ID, inst.BoardID, inst.RootMemberID, inst.OriginPositionID,
			string(inst.Status), inst.Filled, inst.Capacity, inst.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("postgres: allocate instance from %s: %w", alloc.OriginPositionID, domain.ErrAlreadyExists)
			}
			return fmt.Errorf("postgres: insert instance: %w", err)
		}

		const insertRoot = `
			INSERT INTO positions (id, board_id, instance_id, slot_index, occupant_id, status, filled_at, commissioned, created_at)
			VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8)`
		if _, err := tx.Exec(ctx, insertRoot,
			root.ID, root.BoardID, root.InstanceID, root.OccupantID,
			string(root.Status), root.FilledAt, root.Commissioned, root.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert root of %s: %w", inst.ID, err)
		}
		return nil
	})
	if err != nil {
		return domain.Instance{}, domain.Position{}, err
	}
	return inst, root, nil
}

// GetByID returns an instance by id.
func (s *InstanceStore) GetByID(ctx context.Context, id string) (domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`
	inst, err := scanInstance(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Instance{}, fmt.Errorf("postgres: get instance %s: %w", id, notFound(err))
	}
	return inst, nil
}

// FindByOrigin returns the instance a cycled position re-entered into.
func (s *InstanceStore) FindByOrigin(ctx context.Context, originPositionID string) (domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE origin_position_id = $1`
	inst, err := scanInstance(s.pool.QueryRow(ctx, query, originPositionID))
	if err != nil {
		return domain.Instance{}, fmt.Errorf("postgres: find instance by origin %s: %w", originPositionID, notFound(err))
	}
	return inst, nil
}

// FindPendingRoot returns the oldest open instance whose root is reserved
// for memberID.
func (s *InstanceStore) FindPendingRoot(ctx context.Context, boardID, memberID string) (domain.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances i
		WHERE i.board_id = $1 AND i.root_member_id = $2 AND i.status = 'open'
		  AND EXISTS (
			SELECT 1 FROM positions p
			WHERE p.instance_id = i.id AND p.slot_index = 0 AND p.status = 'OPEN'
		  )
		ORDER BY i.seq
		LIMIT 1`
	inst, err := scanInstance(s.pool.QueryRow(ctx, query, boardID, memberID))
	if err != nil {
		return domain.Instance{}, fmt.Errorf("postgres: find pending root %s on %s: %w", memberID, boardID, notFound(err))
	}
	return inst, nil
}

// ListByBoard returns a board's instances, newest first.
func (s *InstanceStore) ListByBoard(ctx context.Context, boardID string, opts domain.ListOpts) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE board_id = $1`
	args := []any{boardID}
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
	query += " ORDER BY seq DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.queryInstances(ctx, "list instances of "+boardID, query, args...)
}

// Counts aggregates instance totals for a board.
func (s *InstanceStore) Counts(ctx context.Context, boardID string) (domain.InstanceCounts, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'open'),
			COUNT(*) FILTER (WHERE status = 'cycled'),
			COALESCE(SUM(filled) FILTER (WHERE status = 'open'), 0),
			COALESCE(SUM(capacity) FILTER (WHERE status = 'open'), 0)
		FROM instances WHERE board_id = $1`
	var c domain.InstanceCounts
	err := s.pool.QueryRow(ctx, query, boardID).Scan(&c.Total, &c.Open, &c.Cycled, &c.FilledOpen, &c.CapacityOpen)
	if err != nil {
		return domain.InstanceCounts{}, fmt.Errorf("postgres: count instances of %s: %w", boardID, err)
	}
	return c, nil
}

// ListFullOpen returns open instances with every slot filled.
func (s *InstanceStore) ListFullOpen(ctx context.Context, limit int) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances
		WHERE status = 'open' AND filled >= capacity ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryInstances(ctx, "list full instances", query, args...)
}

// ListCycledBefore returns instances that cycled before the cutoff, oldest
// first.
func (s *InstanceStore) ListCycledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances
		WHERE status = 'cycled' AND cycled_at < $1 ORDER BY cycled_at`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryInstances(ctx, "list cycled instances", query, args...)
}

func (s *InstanceStore) queryInstances(ctx context.Context, op, query string, args ...any) ([]domain.Instance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var list []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		list = append(list, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: rows: %w", op, err)
	}
	return list, nil
}

func scanInstance(row pgx.Row) (domain.Instance, error) {
	var inst domain.Instance
	var status string
	err := row.Scan(
		&inst.ID, &inst.BoardID, &inst.RootMemberID, &inst.OriginPositionID,
		&status, &inst.Filled, &inst.Capacity, &inst.CreatedAt, &inst.CycledAt,
	)
	inst.Status = domain.InstanceStatus(status)
	return inst, err
}
