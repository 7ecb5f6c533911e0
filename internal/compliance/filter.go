// Package compliance implements the allow-list gate. Every instrument and
// venue on a route must be explicitly approved; anything unknown or
// unreviewed fails closed. The policy is process-wide state swapped whole on
// reload so readers never observe a half-updated list.
package compliance

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

// Policy is one consistent compliance state: the instrument allow-list with
// review statuses, the venue allow-list, and the dynamically-updatable deny
// lists. A Policy is immutable after construction.
type Policy struct {
	Instruments       map[string]domain.Instrument
	AllowedVenues     map[string]bool
	DeniedInstruments map[string]bool
	DeniedVenues      map[string]bool
	LoadedAt          time.Time
}

// Validate rejects malformed policies before they can replace a live one.
func (p Policy) Validate() error {
	for sym, inst := range p.Instruments {
		if sym == "" || inst.Symbol != sym {
			return fmt.Errorf("policy: instrument key %q does not match symbol %q: %w", sym, inst.Symbol, domain.ErrConfiguration)
		}
		switch inst.Status {
		case domain.ComplianceHalal, domain.ComplianceHaram, domain.ComplianceUnreviewed:
		default:
			return fmt.Errorf("policy: instrument %s has unknown status %q: %w", sym, inst.Status, domain.ErrConfiguration)
		}
	}
	for v := range p.AllowedVenues {
		if v == "" {
			return fmt.Errorf("policy: empty venue id in allow-list: %w", domain.ErrConfiguration)
		}
	}
	return nil
}

// Filter answers pass/fail for routes against the current policy snapshot.
// Check is pure: it never mutates compliance data and reads exactly one
// consistent policy per call.
type Filter struct {
	policy atomic.Pointer[Policy]
	logger *slog.Logger
}

// NewFilter validates and installs the initial policy. A validation failure
// here is fatal at startup.
func NewFilter(initial Policy, logger *slog.Logger) (*Filter, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if initial.LoadedAt.IsZero() {
		initial.LoadedAt = time.Now().UTC()
	}
	f := &Filter{logger: logger.With(slog.String("component", "compliance_filter"))}
	f.policy.Store(&initial)
	return f, nil
}

// Check verifies every instrument and venue on the route against the current
// policy. It collects every reason for failure rather than stopping at the
// first, and returns a *domain.ComplianceError wrapping ErrComplianceViolation.
func (f *Filter) Check(route domain.Route) error {
	p := f.policy.Load()

	var reasons []string
	for _, venueID := range route.Venues() {
		if p.DeniedVenues[venueID] {
			reasons = append(reasons, fmt.Sprintf("venue %s: deny-listed", venueID))
			continue
		}
		if !p.AllowedVenues[venueID] {
			reasons = append(reasons, fmt.Sprintf("venue %s: not on allow-list", venueID))
		}
	}
	for _, sym := range route.Instruments() {
		if p.DeniedInstruments[sym] {
			reasons = append(reasons, fmt.Sprintf("instrument %s: deny-listed", sym))
			continue
		}
		inst, ok := p.Instruments[sym]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("instrument %s: unknown", sym))
			continue
		}
		if !inst.Status.Tradable() {
			reasons = append(reasons, fmt.Sprintf("instrument %s: status %s", sym, inst.Status))
		}
	}

	if len(reasons) > 0 {
		return &domain.ComplianceError{RouteID: route.ID, Reasons: reasons}
	}
	return nil
}

// Reload validates the new policy and swaps it in atomically. A malformed
// policy is rejected and the previous one stays live; during a live reload
// this is reported, not fatal.
func (f *Filter) Reload(p Policy) error {
	if err := p.Validate(); err != nil {
		f.logger.Warn("policy reload rejected", slog.String("error", err.Error()))
		return err
	}
	p.LoadedAt = time.Now().UTC()
	f.policy.Store(&p)
	f.logger.Info("policy reloaded",
		slog.Int("instruments", len(p.Instruments)),
		slog.Int("allowed_venues", len(p.AllowedVenues)),
		slog.Int("denied_instruments", len(p.DeniedInstruments)),
		slog.Int("denied_venues", len(p.DeniedVenues)),
	)
	return nil
}

// Current returns the live policy snapshot.
func (f *Filter) Current() Policy {
	return *f.policy.Load()
}

// Instrument looks an instrument up in the current policy. The detector uses
// this for chain-aware gas accounting.
func (f *Filter) Instrument(symbol string) (domain.Instrument, bool) {
	inst, ok := f.policy.Load().Instruments[symbol]
	return inst, ok
}
