package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

const defaultBoardTTL = 5 * time.Minute

var _ domain.BoardCache = (*BoardCache)(nil)

// BoardCache implements domain.BoardCache with one JSON string per board
// under board:{id}. Board edits invalidate the key.
type BoardCache struct {
	c   *Client
	ttl time.Duration
}

// NewBoardCache creates a BoardCache; ttl <= 0 uses five minutes.
func NewBoardCache(c *Client, ttl time.Duration) *BoardCache {
	if ttl <= 0 {
		ttl = defaultBoardTTL
	}
	return &BoardCache{c: c, ttl: ttl}
}

// Set stores the board.
func (bc *BoardCache) Set(ctx context.Context, board domain.Board) error {
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("redis: marshal board %s: %w", board.ID, err)
	}
	if err := bc.c.rdb.Set(ctx, bc.c.key("board", board.ID), data, bc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set board %s: %w", board.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (bc *BoardCache) Get(ctx context.Context, id string) (domain.Board, error) {
	data, err := bc.c.rdb.Get(ctx, bc.c.key("board", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Board{}, domain.ErrNotFound
		}
		return domain.Board{}, fmt.Errorf("redis: get board %s: %w", id, err)
	}
	var board domain.Board
	if err := json.Unmarshal(data, &board); err != nil {
		return domain.Board{}, fmt.Errorf("redis: unmarshal board %s: %w", id, err)
	}
	return board, nil
}

// Invalidate drops the cached board.
func (bc *BoardCache) Invalidate(ctx context.Context, id string) error {
	if err := bc.c.rdb.Del(ctx, bc.c.key("board", id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate board %s: %w", id, err)
	}
	return nil
}
