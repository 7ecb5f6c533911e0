// Package lock provides the in-process LockManager used by single-instance
// deployments. Multi-instance deployments use the Redis-backed manager in
// cache/redis instead; both expose the same non-blocking Acquire contract.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

// Local implements domain.LockManager with an in-process table. Entries
// expire after their TTL so a crashed holder cannot wedge an asset forever.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocal returns an empty lock table.
func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time)}
}

// Acquire obtains the lock for key or returns domain.ErrLockHeld. The
// returned unlock function is safe to call more than once.
func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, domain.ErrLockHeld
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry

	released := false
	unlock := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if released {
			return
		}
		released = true
		// Only delete if we still own the entry; a TTL expiry may have let
		// someone else re-acquire.
		if cur, ok := l.held[key]; ok && cur.Equal(expiry) {
			delete(l.held, key)
		}
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*Local)(nil)
