package domain

import (
	"context"
	"time"
)

// Ledger is the append-only record of every attempted and completed
// execution. Append is called exactly once per attempt, at its terminal
// state; existing records are never updated.
type Ledger interface {
	Append(ctx context.Context, rec ExecutionRecord) error
	GetByID(ctx context.Context, id string) (ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListRange(ctx context.Context, after, cutoff time.Time, limit int) ([]ExecutionRecord, error)
	SumPnL(ctx context.Context, asset string, since time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log (policy reloads,
// gate decisions, halts).
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
