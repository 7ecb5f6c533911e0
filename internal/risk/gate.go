// Package risk bounds what a route may lose and how much capital it may tie
// up. The gate evaluates every limit and reports every violation so operators
// can see compound risk, not just the first failed check.
package risk

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/amanahq/flasharb/internal/domain"
)

// Gate checks candidate routes against the configured risk limits. Limits
// are swapped whole on reload; each Check reads one consistent snapshot.
type Gate struct {
	limits atomic.Pointer[domain.RiskLimits]
	logger *slog.Logger
}

// New validates and installs the initial limits. A validation failure here
// is fatal at startup.
func New(limits domain.RiskLimits, logger *slog.Logger) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	g := &Gate{logger: logger.With(slog.String("component", "risk_gate"))}
	g.limits.Store(&limits)
	return g, nil
}

// Limits returns the live limits snapshot.
func (g *Gate) Limits() domain.RiskLimits {
	return *g.limits.Load()
}

// Reload validates new limits and swaps them in atomically. Malformed limits
// are rejected and the previous ones stay live.
func (g *Gate) Reload(limits domain.RiskLimits) error {
	if err := limits.Validate(); err != nil {
		g.logger.Warn("risk limits reload rejected", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	g.limits.Store(&limits)
	g.logger.Info("risk limits reloaded",
		slog.Int("max_legs", limits.MaxLegs),
		slog.Int64("max_loss_bps", limits.MaxLossBps),
		slog.Int64("min_profit_bps", limits.MinProfitBps),
	)
	return nil
}

// Check evaluates the route against all three limits given the current
// exposure per asset:
//
//  1. leg count within MaxLegs
//  2. per-asset notional, added to current exposure, within the configured
//     cap (an asset with no configured cap fails closed)
//  3. worst-case slippage-adjusted loss within MaxLossBps of notional
//
// All checks run regardless of earlier failures; the returned
// *domain.RiskError lists every violated condition and unwraps to
// ErrRiskLimitExceeded. For a fixed limits snapshot and inputs the verdict
// is deterministic.
func (g *Gate) Check(route domain.Route, exposureByAsset map[string]int64) error {
	limits := *g.limits.Load()
	var violations []string

	if len(route.Legs) > limits.MaxLegs {
		violations = append(violations, fmt.Sprintf("legs %d exceed max %d", len(route.Legs), limits.MaxLegs))
	}

	for asset, notional := range route.NotionalByAsset() {
		max, ok := limits.MaxExposurePerAsset[asset]
		if !ok {
			violations = append(violations, fmt.Sprintf("asset %s: no exposure limit configured", asset))
			continue
		}
		current := exposureByAsset[asset]
		if current+notional > max {
			violations = append(violations, fmt.Sprintf(
				"asset %s: exposure %d + %d exceeds max %d", asset, current, notional, max))
		}
	}

	if loss := worstCaseLoss(route); loss > 0 {
		lossBps := domain.BpsOf(loss, route.NotionalIn)
		if lossBps > limits.MaxLossBps {
			violations = append(violations, fmt.Sprintf(
				"worst-case loss %d bps exceeds max %d bps", lossBps, limits.MaxLossBps))
		}
	}

	if len(violations) > 0 {
		return &domain.RiskError{RouteID: route.ID, Violations: violations}
	}
	return nil
}

// worstCaseLoss simulates the route with every leg slipping its full
// tolerance against us and returns the resulting loss in loan-asset base
// units (0 when the worst case still profits). Leg expected amounts are
// already net of venue fees; the flash-loan fee and gas estimate are the gap
// between the final leg output and NotionalIn+ExpectedProfit.
func worstCaseLoss(route domain.Route) int64 {
	carried := route.NotionalIn
	for _, leg := range route.Legs {
		out := domain.MulDiv(leg.ExpectedAmountOut, carried, leg.ExpectedAmountIn)
		carried = domain.ApplyBps(out, -leg.MaxSlippageBps)
	}
	expectedFinal := route.Legs[len(route.Legs)-1].ExpectedAmountOut
	overhead := expectedFinal - route.NotionalIn - route.ExpectedProfit
	loss := route.NotionalIn + overhead - carried
	if loss < 0 {
		return 0
	}
	return loss
}
