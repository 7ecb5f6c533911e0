package domain

import "time"

// TerminalStatus is the final state of one execution attempt.
type TerminalStatus string

const (
	// StatusCommitted: all legs filled within tolerance and the loan was
	// repaid; net profit recorded.
	StatusCommitted TerminalStatus = "committed"
	// StatusReverted: capital had moved when something failed; executed legs
	// were unwound best-effort and the realized loss recorded.
	StatusReverted TerminalStatus = "reverted"
	// StatusAbortedPreFlight: the attempt stopped before any capital moved.
	StatusAbortedPreFlight TerminalStatus = "aborted_pre_flight"
)

// LegStatus is the per-leg outcome inside an execution record.
type LegStatus string

const (
	LegFilled  LegStatus = "filled"
	LegFailed  LegStatus = "failed"
	LegSkipped LegStatus = "skipped"
)

// LegOutcome pairs a planned leg with what actually happened to it.
type LegOutcome struct {
	Leg    Leg
	Fill   Fill
	Status LegStatus
	Error  string

	// Unwound is set when a compensating trade reversed this leg after a
	// downstream failure. UnwindFill then holds the compensating fill.
	Unwound    bool
	UnwindFill Fill
}

// ExecutionRecord is the append-only audit record of one attempt. The
// coordinator owns it until Status is set; afterwards it is immutable and
// owned solely by the ledger.
type ExecutionRecord struct {
	ID          string
	Route       Route
	Loan        LoanRequest
	LoanFeePaid int64
	GasPaid     int64
	Legs        []LegOutcome
	NetPnL      int64
	Status      TerminalStatus
	Reason      string
	StartedAt   time.Time
	CompletedAt time.Time
}
