package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.BoardStore = (*BoardStore)(nil)

// BoardStore implements domain.BoardStore in memory.
type BoardStore struct {
	s *Store
}

func (b *BoardStore) Create(_ context.Context, board domain.Board) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if _, ok := b.s.boards[board.ID]; ok {
		return fmt.Errorf("memory: create board %s: %w", board.ID, domain.ErrAlreadyExists)
	}
	b.s.boards[board.ID] = board
	b.s.boardOrder = append(b.s.boardOrder, board.ID)
	return nil
}

func (b *BoardStore) Update(_ context.Context, board domain.Board) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	cur, ok := b.s.boards[board.ID]
	if !ok {
		return fmt.Errorf("memory: update board %s: %w", board.ID, domain.ErrNotFound)
	}
	if (cur.Width != board.Width || cur.Depth != board.Depth) && b.hasPositionsLocked(board.ID) {
		return fmt.Errorf("memory: update board %s: %w", board.ID, domain.ErrBoardLocked)
	}
	b.s.boards[board.ID] = board
	return nil
}

func (b *BoardStore) GetByID(_ context.Context, id string) (domain.Board, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	board, ok := b.s.boards[id]
	if !ok {
		return domain.Board{}, fmt.Errorf("memory: get board %s: %w", id, domain.ErrNotFound)
	}
	return board, nil
}

func (b *BoardStore) List(_ context.Context, filter domain.BoardFilter) ([]domain.Board, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []domain.Board
	for _, id := range b.s.boardOrder {
		board := b.s.boards[id]
		if filter.ActiveOnly && !board.Active {
			continue
		}
		if filter.Currency != "" && board.Currency != filter.Currency {
			continue
		}
		out = append(out, board)
	}
	return out, nil
}

func (b *BoardStore) HasPositions(_ context.Context, boardID string) (bool, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.hasPositionsLocked(boardID), nil
}

func (b *BoardStore) hasPositionsLocked(boardID string) bool {
	for _, p := range b.s.positions {
		if p.BoardID == boardID {
			return true
		}
	}
	return false
}
