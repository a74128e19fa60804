package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// LockManager is a process-local domain.LockManager for tests and the demo
// run mode, where cross-process exclusion is not needed.
type LockManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockManager returns an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]struct{})}
}

// Acquire takes the key or fails fast with ErrLockHeld. The ttl is accepted
// for interface parity; a process-local lock dies with its process.
func (l *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory: lock %s: %w", key, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
