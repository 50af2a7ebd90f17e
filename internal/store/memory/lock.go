package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.LockManager = (*LockManager)(nil)

// LockManager is an in-process domain.LockManager with TTL expiry.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	token map[string]uint64
	next  uint64
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		held:  make(map[string]time.Time),
		token: make(map[string]uint64),
	}
}

func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, domain.ErrLockHeld
	}
	l.next++
	tok := l.next
	l.held[key] = now.Add(ttl)
	l.token[key] = tok

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.token[key] == tok {
				delete(l.held, key)
				delete(l.token, key)
			}
		})
	}, nil
}
