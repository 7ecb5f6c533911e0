package domain

import (
	"context"
	"time"
)

// LockManager provides the per-asset exclusive lock that serializes the
// capital-committing phase of executions. Acquire is non-blocking and returns
// ErrLockHeld when another attempt holds the asset; callers own the wait
// policy. The returned unlock function is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging between the core and its external
// collaborators: policy reloads, kill-switch control, advisory scan hints,
// and execution events flowing out to monitoring.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter bounds outbound call rates to venue gateways.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
