package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrComplianceViolation: a route touched a non-halal or deny-listed
	// instrument or venue. Fail-closed, never retried, always reported.
	ErrComplianceViolation = errors.New("compliance violation")
	// ErrRiskLimitExceeded: a route breached configured risk limits. The
	// candidate is discarded, never retried as-is.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
	// ErrAdapterUnavailable: a venue adapter failed or timed out. Transient;
	// detection degrades, execution aborts pre-flight.
	ErrAdapterUnavailable = errors.New("venue adapter unavailable")
	// ErrExecutionFailure: a leg or repayment failed after capital moved.
	// Triggers unwind and a reverted record; never swallowed.
	ErrExecutionFailure = errors.New("execution failure")
	// ErrConfiguration: malformed limits or compliance data. Fatal at
	// startup, rejects the reload when raised during a live reload.
	ErrConfiguration = errors.New("configuration error")

	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
	ErrHalted   = errors.New("kill switch engaged")
)

// ComplianceError carries every reason a route failed the compliance filter.
// It unwraps to ErrComplianceViolation.
type ComplianceError struct {
	RouteID string
	Reasons []string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("route %s: %v: %s", e.RouteID, ErrComplianceViolation, strings.Join(e.Reasons, "; "))
}

func (e *ComplianceError) Unwrap() error { return ErrComplianceViolation }

// RiskError carries every risk limit a route violated, so operators see
// compound risk rather than just the first failed check. It unwraps to
// ErrRiskLimitExceeded.
type RiskError struct {
	RouteID    string
	Violations []string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("route %s: %v: %s", e.RouteID, ErrRiskLimitExceeded, strings.Join(e.Violations, "; "))
}

func (e *RiskError) Unwrap() error { return ErrRiskLimitExceeded }
