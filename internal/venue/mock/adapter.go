// Package mock provides a scripted in-memory venue adapter used by tests and
// by detect-mode dry runs. Quotes, fills, failures, slippage, and latency are
// all injectable so coordinator behavior can be exercised without a network.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amanahq/flasharb/internal/domain"
)

// Adapter implements domain.VenueAdapter against scripted state.
type Adapter struct {
	id string

	mu         sync.Mutex
	quotes     []domain.Quote
	loanFeeBps int64
	delay      time.Duration

	failQuotes error
	failLoan   error
	failRepay  error
	failLeg    map[string]error
	slipLeg    map[string]int64

	openLoans map[string]domain.LoanHandle
	fills     []domain.Fill
	repaid    []string
}

// New creates a mock adapter with the given venue id.
func New(id string) *Adapter {
	return &Adapter{
		id:        id,
		failLeg:   make(map[string]error),
		slipLeg:   make(map[string]int64),
		openLoans: make(map[string]domain.LoanHandle),
	}
}

func legKey(in, out string) string { return in + "->" + out }

// SetQuotes replaces the scripted quote book.
func (a *Adapter) SetQuotes(quotes []domain.Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes = quotes
}

// SetLoanFeeBps sets the flat flash-loan fee charged on repayment.
func (a *Adapter) SetLoanFeeBps(bps int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loanFeeBps = bps
}

// SetDelay injects latency into every call, honoring ctx cancellation.
func (a *Adapter) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// FailQuotes makes GetQuotes return err until cleared with nil.
func (a *Adapter) FailQuotes(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failQuotes = err
}

// FailLoan makes AcquireLoan return err until cleared with nil.
func (a *Adapter) FailLoan(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failLoan = err
}

// FailRepay makes RepayLoan return err until cleared with nil.
func (a *Adapter) FailRepay(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failRepay = err
}

// FailLeg makes ExecuteLeg fail for the in->out instrument pair.
func (a *Adapter) FailLeg(in, out string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failLeg[legKey(in, out)] = err
}

// SlipLeg degrades the fill for the in->out pair by the given bps.
func (a *Adapter) SlipLeg(in, out string, bps int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slipLeg[legKey(in, out)] = bps
}

// ID implements domain.VenueAdapter.
func (a *Adapter) ID() string { return a.id }

func (a *Adapter) sleep(ctx context.Context) error {
	a.mu.Lock()
	d := a.delay
	a.mu.Unlock()
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// GetQuotes returns the scripted quotes for the pair.
func (a *Adapter) GetQuotes(ctx context.Context, pair string) ([]domain.Quote, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failQuotes != nil {
		return nil, a.failQuotes
	}
	var out []domain.Quote
	for _, q := range a.quotes {
		if pair == "" || q.Pair() == pair {
			out = append(out, q)
		}
	}
	return out, nil
}

// AcquireLoan opens a scripted flash loan.
func (a *Adapter) AcquireLoan(ctx context.Context, req domain.LoanRequest) (domain.LoanHandle, error) {
	if err := a.sleep(ctx); err != nil {
		return domain.LoanHandle{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failLoan != nil {
		return domain.LoanHandle{}, a.failLoan
	}
	h := domain.LoanHandle{
		VenueID:   a.id,
		LoanID:    uuid.New().String(),
		Asset:     req.Asset,
		Principal: req.Amount,
		FeeBps:    a.loanFeeBps,
	}
	a.openLoans[h.LoanID] = h
	return h, nil
}

// ExecuteLeg fills a leg at the expected amount minus any scripted slippage.
func (a *Adapter) ExecuteLeg(ctx context.Context, leg domain.Leg) (domain.Fill, error) {
	if err := a.sleep(ctx); err != nil {
		return domain.Fill{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := legKey(leg.InstrumentIn, leg.InstrumentOut)
	if err := a.failLeg[key]; err != nil {
		return domain.Fill{}, err
	}
	out := leg.ExpectedAmountOut
	if slip := a.slipLeg[key]; slip != 0 {
		out = domain.ApplyBps(out, -slip)
	}
	fill := domain.Fill{
		VenueID:   a.id,
		OrderID:   uuid.New().String(),
		AmountIn:  leg.ExpectedAmountIn,
		AmountOut: out,
		Timestamp: time.Now().UTC(),
	}
	a.fills = append(a.fills, fill)
	return fill, nil
}

// RepayLoan settles an open loan. Repaying less than owed closes the loan
// with the shortfall borne by the caller, matching the venue's
// repay-or-revert settlement; an unknown loan id is an error.
func (a *Adapter) RepayLoan(ctx context.Context, handle domain.LoanHandle, amount int64) error {
	if err := a.sleep(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failRepay != nil {
		return a.failRepay
	}
	if _, ok := a.openLoans[handle.LoanID]; !ok {
		return fmt.Errorf("mock venue %s: repay unknown loan %s: %w", a.id, handle.LoanID, domain.ErrNotFound)
	}
	delete(a.openLoans, handle.LoanID)
	a.repaid = append(a.repaid, handle.LoanID)
	return nil
}

// OutstandingLoans returns how many loans remain unrepaid.
func (a *Adapter) OutstandingLoans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.openLoans)
}

// Fills returns every fill executed so far, in order.
func (a *Adapter) Fills() []domain.Fill {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Fill, len(a.fills))
	copy(out, a.fills)
	return out
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Adapter)(nil)
