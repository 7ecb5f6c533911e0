package risk

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/amanahq/flasharb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxLossBps:   100,
		MaxLegs:      4,
		MinProfitBps: 50,
		MaxExposurePerAsset: map[string]int64{
			"USDC": 10_000_000,
			"WETH": 10_000,
		},
	}
}

// profitableRoute borrows 1 USDC (1e6 units), buys WETH, sells it back for a
// 2% gross edge; 0.1% slippage tolerance per leg.
func profitableRoute() domain.Route {
	return domain.Route{
		ID:         "r1",
		LoanAsset:  "USDC",
		NotionalIn: 1_000_000,
		Legs: []domain.Leg{
			{VenueID: "v1", InstrumentIn: "USDC", InstrumentOut: "WETH", ExpectedAmountIn: 1_000_000, ExpectedAmountOut: 500, MaxSlippageBps: 10},
			{VenueID: "v2", InstrumentIn: "WETH", InstrumentOut: "USDC", ExpectedAmountIn: 500, ExpectedAmountOut: 1_020_000, MaxSlippageBps: 10},
		},
		ExpectedProfit: 18_000, // 1_020_000 - 1_000_000 - 2_000 overhead
		NetEdgeBps:     180,
	}
}

func TestCheckPassesWithinLimits(t *testing.T) {
	g, err := New(testLimits(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Check(profitableRoute(), nil); err != nil {
		t.Fatalf("Check() = %v, expected pass", err)
	}
}

func TestCheckLegCount(t *testing.T) {
	limits := testLimits()
	limits.MaxLegs = 2
	g, _ := New(limits, testLogger())

	route := profitableRoute()
	route.Legs = append(route.Legs, domain.Leg{
		VenueID: "v1", InstrumentIn: "USDC", InstrumentOut: "WETH",
		ExpectedAmountIn: 1, ExpectedAmountOut: 1, MaxSlippageBps: 10,
	})
	err := g.Check(route, nil)
	if !errors.Is(err, domain.ErrRiskLimitExceeded) {
		t.Fatalf("Check() = %v, expected ErrRiskLimitExceeded", err)
	}
	if !strings.Contains(err.Error(), "legs 3 exceed max 2") {
		t.Fatalf("Check() = %q, expected leg-count violation", err.Error())
	}
}

func TestCheckExposure(t *testing.T) {
	g, _ := New(testLimits(), testLogger())

	// 9.5 USDC already committed: adding 1 USDC notional breaches the 10 cap.
	exposure := map[string]int64{"USDC": 9_500_000}
	err := g.Check(profitableRoute(), exposure)
	if !errors.Is(err, domain.ErrRiskLimitExceeded) {
		t.Fatalf("Check() = %v, expected ErrRiskLimitExceeded", err)
	}
	if !strings.Contains(err.Error(), "asset USDC") {
		t.Fatalf("Check() = %q, expected USDC exposure violation", err.Error())
	}
}

func TestCheckUnconfiguredAssetFailsClosed(t *testing.T) {
	limits := testLimits()
	delete(limits.MaxExposurePerAsset, "WETH")
	g, _ := New(limits, testLogger())

	err := g.Check(profitableRoute(), nil)
	if !errors.Is(err, domain.ErrRiskLimitExceeded) {
		t.Fatalf("Check() = %v, expected ErrRiskLimitExceeded", err)
	}
	if !strings.Contains(err.Error(), "no exposure limit configured") {
		t.Fatalf("Check() = %q, expected missing-limit violation", err.Error())
	}
}

func TestCheckWorstCaseLoss(t *testing.T) {
	g, _ := New(testLimits(), testLogger())

	// Thin 10 bps edge with 200 bps slippage tolerance per leg: worst case
	// loses far more than the 100 bps cap.
	route := profitableRoute()
	route.Legs[0].MaxSlippageBps = 200
	route.Legs[1].MaxSlippageBps = 200
	route.Legs[1].ExpectedAmountOut = 1_003_000
	route.ExpectedProfit = 1_000
	route.NetEdgeBps = 10

	err := g.Check(route, nil)
	if !errors.Is(err, domain.ErrRiskLimitExceeded) {
		t.Fatalf("Check() = %v, expected ErrRiskLimitExceeded", err)
	}
	if !strings.Contains(err.Error(), "worst-case loss") {
		t.Fatalf("Check() = %q, expected worst-case loss violation", err.Error())
	}
}

func TestCheckReportsEveryViolation(t *testing.T) {
	limits := testLimits()
	limits.MaxLegs = 1
	limits.MaxExposurePerAsset["USDC"] = 1
	g, _ := New(limits, testLogger())

	err := g.Check(profitableRoute(), nil)
	var re *domain.RiskError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RiskError, got %T", err)
	}
	if len(re.Violations) < 2 {
		t.Fatalf("expected compound violations reported, got %v", re.Violations)
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	g, _ := New(testLimits(), testLogger())
	route := profitableRoute()
	exposure := map[string]int64{"USDC": 1}
	first := g.Check(route, exposure)
	for i := 0; i < 5; i++ {
		if got := g.Check(route, exposure); (got == nil) != (first == nil) {
			t.Fatalf("verdict changed across identical checks: %v then %v", first, got)
		}
	}
}

func TestReloadRejectsInvalidLimits(t *testing.T) {
	g, _ := New(testLimits(), testLogger())
	bad := testLimits()
	bad.MaxLegs = 1
	if err := g.Reload(bad); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Reload(bad) = %v, expected ErrConfiguration", err)
	}
	if g.Limits().MaxLegs != 4 {
		t.Fatal("rejected reload must leave previous limits live")
	}
}

func TestTrackerReserveRelease(t *testing.T) {
	tr := NewTracker()
	tr.Reserve(map[string]int64{"USDC": 100, "WETH": 5})
	tr.Reserve(map[string]int64{"USDC": 50})

	snap := tr.Snapshot()
	if snap["USDC"] != 150 || snap["WETH"] != 5 {
		t.Fatalf("Snapshot() = %v, expected USDC 150 / WETH 5", snap)
	}

	tr.Release(map[string]int64{"USDC": 150, "WETH": 5})
	if len(tr.Snapshot()) != 0 {
		t.Fatalf("expected empty tracker after release, got %v", tr.Snapshot())
	}
}
