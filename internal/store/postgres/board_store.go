package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.BoardStore = (*BoardStore)(nil)

// BoardStore implements domain.BoardStore using PostgreSQL.
type BoardStore struct {
	pool *pgxpool.Pool
}

// NewBoardStore creates a new BoardStore backed by the given connection pool.
func NewBoardStore(pool *pgxpool.Pool) *BoardStore {
	return &BoardStore{pool: pool}
}

const boardColumns = `
	id, name, width, depth, entry_price, currency,
	referral_pct, matrix_pct, matching_pct, cycle_pct,
	matrix_depth, matching_depth, COALESCE(next_board_id, ''), cycle_subtrees,
	max_instances, active, created_at, updated_at`

// Create inserts a new board.
func (s *BoardStore) Create(ctx context.Context, b domain.Board) error {
	const query = `
		INSERT INTO boards (
			id, name, width, depth, entry_price, currency,
			referral_pct, matrix_pct, matching_pct, cycle_pct,
			matrix_depth, matching_depth, next_board_id, cycle_subtrees,
			max_instances, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, NULLIF($13, ''), $14,
			$15, $16, $17, $18
		)`
	_, err := s.pool.Exec(ctx, query,
		b.ID, b.Name, b.Width, b.Depth, b.EntryPrice, b.Currency,
		b.Bonuses.Referral, b.Bonuses.Matrix, b.Bonuses.Matching, b.Bonuses.Cycle,
		b.MatrixDepth, b.MatchingDepth, b.NextBoardID, b.CycleSubtrees,
		b.MaxInstances, b.Active, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create board %s: %w", b.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create board %s: %w", b.ID, err)
	}
	return nil
}

// Update overwrites the mutable columns of a board. The board row is locked
// before the position check, the same lock InstanceStore.Allocate takes, so
// a geometry change can never slip in after the first instance exists.
func (s *BoardStore) Update(ctx context.Context, b domain.Board) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var width, depth int
		err := tx.QueryRow(ctx, `SELECT width, depth FROM boards WHERE id = $1 FOR UPDATE`, b.ID).Scan(&width, &depth)
		if err != nil {
			return fmt.Errorf("postgres: update board %s: %w", b.ID, notFound(err))
		}
		if width != b.Width || depth != b.Depth {
			var used bool
			err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM positions WHERE board_id = $1)", b.ID,
			).Scan(&used)
			if err != nil {
				return fmt.Errorf("postgres: update board %s: check positions: %w", b.ID, err)
			}
			if used {
				return fmt.Errorf("postgres: update board %s: %w", b.ID, domain.ErrBoardLocked)
			}
		}

		const query = `
			UPDATE boards SET
				name = $2, width = $3, depth = $4, entry_price = $5, currency = $6,
				referral_pct = $7, matrix_pct = $8, matching_pct = $9, cycle_pct = $10,
				matrix_depth = $11, matching_depth = $12, next_board_id = NULLIF($13, ''),
				cycle_subtrees = $14, max_instances = $15, active = $16, updated_at = $17
			WHERE id = $1`
		if _, err := tx.Exec(ctx, query,
			b.ID, b.Name, b.Width, b.Depth, b.EntryPrice, b.Currency,
			b.Bonuses.Referral, b.Bonuses.Matrix, b.Bonuses.Matching, b.Bonuses.Cycle,
			b.MatrixDepth, b.MatchingDepth, b.NextBoardID,
			b.CycleSubtrees, b.MaxInstances, b.Active, b.UpdatedAt,
		); err != nil {
			return fmt.Errorf("postgres: update board %s: %w", b.ID, err)
		}
		return nil
	})
}

// GetByID returns a board by id.
func (s *BoardStore) GetByID(ctx context.Context, id string) (domain.Board, error) {
	query := `SELECT ` + boardColumns + ` FROM boards WHERE id = $1`
	b, err := scanBoard(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Board{}, fmt.Errorf("postgres: get board %s: %w", id, notFound(err))
	}
	return b, nil
}

// List returns boards ordered by creation time.
func (s *BoardStore) List(ctx context.Context, filter domain.BoardFilter) ([]domain.Board, error) {
	query := `SELECT ` + boardColumns + ` FROM boards WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.ActiveOnly {
		query += " AND active"
	}
	if filter.Currency != "" {
		query += fmt.Sprintf(" AND currency = $%d", argIdx)
		args = append(args, filter.Currency)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list boards: %w", err)
	}
	defer rows.Close()

	var boards []domain.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list boards rows: %w", err)
	}
	return boards, nil
}

// HasPositions reports whether any position references the board.
func (s *BoardStore) HasPositions(ctx context.Context, boardID string) (bool, error) {
	var used bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM positions WHERE board_id = $1)", boardID,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("postgres: board %s has positions: %w", boardID, err)
	}
	return used, nil
}

func scanBoard(row pgx.Row) (domain.Board, error) {
	var b domain.Board
	err := row.Scan(
		&b.ID, &b.Name, &b.Width, &b.Depth, &b.EntryPrice, &b.Currency,
		&b.Bonuses.Referral, &b.Bonuses.Matrix, &b.Bonuses.Matching, &b.Bonuses.Cycle,
		&b.MatrixDepth, &b.MatchingDepth, &b.NextBoardID, &b.CycleSubtrees,
		&b.MaxInstances, &b.Active, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}
