package domain

import (
	"fmt"
	"time"
)

// Leg is one atomic trade within a route: convert ExpectedAmountIn base units
// of InstrumentIn into at least ExpectedAmountOut (minus slippage tolerance)
// base units of InstrumentOut at the given venue.
type Leg struct {
	VenueID           string
	InstrumentIn      string
	InstrumentOut     string
	ExpectedAmountIn  int64
	ExpectedAmountOut int64
	MaxSlippageBps    int64
}

// Reversed returns the compensating leg used to unwind this one after a
// partial execution. amountIn is the actual fill received from the original
// leg; the expected output is what we put in, with no slippage bound because
// an unwind is best-effort damage control, not a profit trade.
func (l Leg) Reversed(amountIn int64) Leg {
	return Leg{
		VenueID:           l.VenueID,
		InstrumentIn:      l.InstrumentOut,
		InstrumentOut:     l.InstrumentIn,
		ExpectedAmountIn:  amountIn,
		ExpectedAmountOut: l.ExpectedAmountIn,
		MaxSlippageBps:    BpsDenom, // accept any fill
	}
}

// Route is a closed-loop ordered sequence of legs that starts and ends in the
// loan asset. Once a route enters execution it is owned exclusively by the
// coordinator and must not be mutated by any other component.
type Route struct {
	ID         string
	LoanAsset  string
	Legs       []Leg
	NotionalIn int64

	// ExpectedProfit is net of venue fees, the flash-loan fee, and the
	// chain-aware gas estimate, in loan-asset base units.
	ExpectedProfit int64
	NetEdgeBps     int64

	SnapshotID string
	DetectedAt time.Time
}

// Validate checks the structural invariants: at least two legs, instrument
// continuity between consecutive legs, a closed loop returning to the loan
// asset, and positive amounts throughout.
func (r Route) Validate() error {
	if len(r.Legs) < 2 {
		return fmt.Errorf("route %s: need at least 2 legs, got %d", r.ID, len(r.Legs))
	}
	if r.NotionalIn <= 0 {
		return fmt.Errorf("route %s: notional must be positive, got %d", r.ID, r.NotionalIn)
	}
	if first := r.Legs[0]; first.InstrumentIn != r.LoanAsset {
		return fmt.Errorf("route %s: first leg consumes %s, loan asset is %s", r.ID, first.InstrumentIn, r.LoanAsset)
	}
	if last := r.Legs[len(r.Legs)-1]; last.InstrumentOut != r.LoanAsset {
		return fmt.Errorf("route %s: last leg produces %s, loan asset is %s", r.ID, last.InstrumentOut, r.LoanAsset)
	}
	for i := range r.Legs {
		leg := r.Legs[i]
		if leg.ExpectedAmountIn <= 0 || leg.ExpectedAmountOut <= 0 {
			return fmt.Errorf("route %s: leg %d has non-positive amounts", r.ID, i)
		}
		if leg.MaxSlippageBps < 0 {
			return fmt.Errorf("route %s: leg %d has negative slippage tolerance", r.ID, i)
		}
		if i > 0 && r.Legs[i-1].InstrumentOut != leg.InstrumentIn {
			return fmt.Errorf("route %s: leg %d consumes %s but leg %d produced %s",
				r.ID, i, leg.InstrumentIn, i-1, r.Legs[i-1].InstrumentOut)
		}
	}
	return nil
}

// Instruments returns every instrument symbol referenced by the route, in leg
// order, without duplicates.
func (r Route) Instruments() []string {
	seen := make(map[string]bool, len(r.Legs)+1)
	var out []string
	add := func(sym string) {
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	for _, leg := range r.Legs {
		add(leg.InstrumentIn)
		add(leg.InstrumentOut)
	}
	return out
}

// Venues returns every venue id referenced by the route, without duplicates.
func (r Route) Venues() []string {
	seen := make(map[string]bool, len(r.Legs))
	var out []string
	for _, leg := range r.Legs {
		if !seen[leg.VenueID] {
			seen[leg.VenueID] = true
			out = append(out, leg.VenueID)
		}
	}
	return out
}

// NotionalByAsset returns the peak amount the route holds in each asset while
// executing, used by the risk gate for per-asset exposure accounting.
func (r Route) NotionalByAsset() map[string]int64 {
	exposure := make(map[string]int64, len(r.Legs))
	for _, leg := range r.Legs {
		if leg.ExpectedAmountIn > exposure[leg.InstrumentIn] {
			exposure[leg.InstrumentIn] = leg.ExpectedAmountIn
		}
	}
	return exposure
}
