package domain

import (
	"context"
	"time"
)

// LoanRequest asks a venue for a flash loan funding one execution attempt.
// It is created after a route passes both gates and lives only until the
// attempt reaches a terminal state; it is never persisted on its own.
type LoanRequest struct {
	Asset   string
	Amount  int64
	RouteID string
}

// LoanHandle identifies an open flash loan at a venue. FeeBps is the flat
// borrow fee the venue charges on repayment; a compliant flash loan carries
// no interest component beyond it.
type LoanHandle struct {
	VenueID   string
	LoanID    string
	Asset     string
	Principal int64
	FeeBps    int64
}

// Owed returns principal plus the venue's flat fee, the amount that must be
// returned for the loan to settle.
func (h LoanHandle) Owed() int64 {
	return h.Principal + FeeBps(h.Principal, h.FeeBps)
}

// Fill is the realized outcome of one executed leg.
type Fill struct {
	VenueID   string
	OrderID   string
	AmountIn  int64
	AmountOut int64
	FeePaid   int64
	Timestamp time.Time
}

// VenueAdapter is the fixed capability surface for one chain+exchange pair.
// Implementations are selected at runtime through the venue registry, never
// by type switching. All calls must honor ctx cancellation; callers treat a
// timeout as a failure and never assume exactly-once delivery.
type VenueAdapter interface {
	ID() string
	GetQuotes(ctx context.Context, pair string) ([]Quote, error)
	AcquireLoan(ctx context.Context, req LoanRequest) (LoanHandle, error)
	ExecuteLeg(ctx context.Context, leg Leg) (Fill, error)
	RepayLoan(ctx context.Context, handle LoanHandle, amount int64) error
}
