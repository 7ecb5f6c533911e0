package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

func TestLocalAcquireExclusive(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "loan:USDC", time.Minute)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "loan:USDC", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire = %v, expected ErrLockHeld", err)
	}
	// Different asset is independent.
	if _, err := l.Acquire(ctx, "loan:WETH", time.Minute); err != nil {
		t.Fatalf("Acquire other key: %v", err)
	}

	unlock()
	if _, err := l.Acquire(ctx, "loan:USDC", time.Minute); err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
}

func TestLocalUnlockIdempotent(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	unlock()
	unlock() // must not panic or release someone else's lock

	unlock2, err := l.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	unlock() // stale unlock from the first holder
	if _, err := l.Acquire(context.Background(), "k", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("stale unlock released the new holder's lock: %v", err)
	}
	unlock2()
}

func TestLocalTTLExpiry(t *testing.T) {
	l := NewLocal()
	if _, err := l.Acquire(context.Background(), "k", time.Millisecond); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := l.Acquire(context.Background(), "k", time.Minute); err != nil {
		t.Fatalf("expired lock should be re-acquirable, got %v", err)
	}
}
