package detector

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type indexMap map[string]domain.Instrument

func (m indexMap) Instrument(symbol string) (domain.Instrument, bool) {
	inst, ok := m[symbol]
	return inst, ok
}

func polygonIndex() indexMap {
	return indexMap{
		"USDC": {Symbol: "USDC", ChainID: 137, Status: domain.ComplianceHalal},
		"WETH": {Symbol: "WETH", ChainID: 137, Status: domain.ComplianceHalal},
		"WBTC": {Symbol: "WBTC", ChainID: 137, Status: domain.ComplianceHalal},
	}
}

func liveQuote(venueID string, base, counter string, side domain.QuoteSide, price, size int64) domain.Quote {
	now := time.Now().UTC()
	return domain.Quote{
		VenueID: venueID, Base: base, Counter: counter, Side: side,
		Price: price, AvailableSize: size,
		Timestamp: now, Expiry: now.Add(time.Minute),
	}
}

func snapshotOf(quotes ...domain.Quote) domain.Snapshot {
	byPair := make(map[string][]domain.Quote)
	for _, q := range quotes {
		byPair[q.Pair()] = append(byPair[q.Pair()], q)
	}
	return domain.Snapshot{ID: "snap1", TakenAt: time.Now().UTC(), Quotes: byPair}
}

func defaultConfig() Config {
	return Config{
		LoanAssets:     []string{"USDC"},
		MaxNotional:    map[string]int64{"USDC": 1_000_000},
		MaxLegs:        3,
		MinProfitBps:   50,
		MaxSlippageBps: 50,
	}
}

func defaultFees() FeeConfig {
	return FeeConfig{
		FlashLoanBps:    0,
		PerVenueBps:     map[string]int64{"v1": 10, "v2": 10},
		DefaultVenueBps: 100,
	}
}

// Cross-venue USDC/WETH book with a 2% spread: buy WETH at 1.00 on v1, sell
// at 1.02 on v2. With 10 bps fee per leg and min profit 50 bps this yields
// one 2-leg route around 180 bps net.
func crossVenueSnapshot() domain.Snapshot {
	return snapshotOf(
		liveQuote("v1", "WETH", "USDC", domain.QuoteSideAsk, 1_000_000, 1_000_000),
		liveQuote("v2", "WETH", "USDC", domain.QuoteSideBid, 1_020_000, 1_000_000),
	)
}

func TestScanFindsCrossVenueLoop(t *testing.T) {
	d := New(defaultConfig(), defaultFees(), polygonIndex(), testLogger())
	routes := d.Scan(crossVenueSnapshot(), nil)
	if len(routes) != 1 {
		t.Fatalf("expected exactly 1 candidate, got %d", len(routes))
	}

	r := routes[0]
	if err := r.Validate(); err != nil {
		t.Fatalf("candidate fails route invariants: %v", err)
	}
	if len(r.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(r.Legs))
	}
	if r.LoanAsset != "USDC" {
		t.Fatalf("loan asset = %s, expected USDC", r.LoanAsset)
	}
	if r.Legs[0].VenueID != "v1" || r.Legs[1].VenueID != "v2" {
		t.Fatalf("venue order = %s,%s, expected v1,v2", r.Legs[0].VenueID, r.Legs[1].VenueID)
	}
	// 2% gross minus two 10 bps venue fees leaves roughly 1.8%.
	if r.NetEdgeBps < 175 || r.NetEdgeBps > 180 {
		t.Fatalf("net edge = %d bps, expected ~179", r.NetEdgeBps)
	}
	if r.ExpectedProfit <= 0 {
		t.Fatalf("expected positive profit, got %d", r.ExpectedProfit)
	}
	if r.SnapshotID != "snap1" {
		t.Fatalf("route must carry its snapshot id, got %q", r.SnapshotID)
	}
}

func TestScanRejectsBelowMinProfit(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinProfitBps = 200 // above the ~179 bps this book offers
	d := New(cfg, defaultFees(), polygonIndex(), testLogger())
	if routes := d.Scan(crossVenueSnapshot(), nil); len(routes) != 0 {
		t.Fatalf("expected no candidates below min profit, got %d", len(routes))
	}
}

func TestScanFeesEatTheEdge(t *testing.T) {
	fees := defaultFees()
	fees.FlashLoanBps = 100
	fees.GasByChain = map[int64]int64{137: 10_000}
	d := New(defaultConfig(), fees, polygonIndex(), testLogger())
	// 179 bps gross net-of-venue-fees minus 100 bps flash fee minus 100 bps
	// gas lands below the 50 bps floor.
	if routes := d.Scan(crossVenueSnapshot(), nil); len(routes) != 0 {
		t.Fatalf("expected fee model to kill the candidate, got %d routes", len(routes))
	}
}

func TestScanRespectsAvailableSize(t *testing.T) {
	// v2 will only absorb half the WETH; the notional must shrink to fit.
	snap := snapshotOf(
		liveQuote("v1", "WETH", "USDC", domain.QuoteSideAsk, 1_000_000, 1_000_000),
		liveQuote("v2", "WETH", "USDC", domain.QuoteSideBid, 1_020_000, 499_500),
	)
	d := New(defaultConfig(), defaultFees(), polygonIndex(), testLogger())
	routes := d.Scan(snap, nil)
	if len(routes) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(routes))
	}
	if routes[0].NotionalIn >= 1_000_000 {
		t.Fatalf("notional %d should have been reduced to fit available size", routes[0].NotionalIn)
	}
	if routes[0].Legs[1].ExpectedAmountIn > 499_500 {
		t.Fatalf("leg 2 input %d exceeds available size", routes[0].Legs[1].ExpectedAmountIn)
	}
}

func TestScanRespectsMaxLegs(t *testing.T) {
	// Only a 3-leg loop exists: USDC -> WETH -> WBTC -> USDC.
	snap := snapshotOf(
		liveQuote("v1", "WETH", "USDC", domain.QuoteSideAsk, 1_000_000, 10_000_000),
		liveQuote("v1", "WETH", "WBTC", domain.QuoteSideBid, 1_000_000, 10_000_000),
		liveQuote("v2", "WBTC", "USDC", domain.QuoteSideBid, 1_030_000, 10_000_000),
	)
	cfg := defaultConfig()
	cfg.MaxLegs = 2
	d := New(cfg, defaultFees(), polygonIndex(), testLogger())
	if routes := d.Scan(snap, nil); len(routes) != 0 {
		t.Fatalf("expected no candidates beyond max legs, got %d", len(routes))
	}

	cfg.MaxLegs = 3
	d = New(cfg, defaultFees(), polygonIndex(), testLogger())
	routes := d.Scan(snap, nil)
	if len(routes) != 1 || len(routes[0].Legs) != 3 {
		t.Fatalf("expected one 3-leg candidate, got %v", routes)
	}
}

func TestScanTieBreakPrefersFewerLegs(t *testing.T) {
	// Two loops with identical economics; the 3-leg one routes through a
	// fee-free WBTC hop priced to land on the same net edge.
	snap := snapshotOf(
		liveQuote("v1", "WETH", "USDC", domain.QuoteSideAsk, 1_000_000, 10_000_000),
		liveQuote("v2", "WETH", "USDC", domain.QuoteSideBid, 1_020_000, 10_000_000),
		liveQuote("v1", "WBTC", "USDC", domain.QuoteSideAsk, 1_000_000, 10_000_000),
		liveQuote("v2", "WBTC", "WETH", domain.QuoteSideBid, 1_001_001, 10_000_000),
	)
	fees := defaultFees()
	d := New(defaultConfig(), fees, polygonIndex(), testLogger())
	routes := d.Scan(snap, nil)
	if len(routes) < 2 {
		t.Fatalf("expected at least 2 candidates, got %d", len(routes))
	}
	for i := 1; i < len(routes); i++ {
		prev, cur := routes[i-1], routes[i]
		if cur.NetEdgeBps > prev.NetEdgeBps {
			t.Fatalf("routes not sorted by edge: %d bps after %d bps", cur.NetEdgeBps, prev.NetEdgeBps)
		}
		if cur.NetEdgeBps == prev.NetEdgeBps && len(cur.Legs) < len(prev.Legs) {
			t.Fatalf("equal-profit tie must prefer fewer legs: %d-leg after %d-leg", len(cur.Legs), len(prev.Legs))
		}
	}
}

func TestScanHintsOnlyReorder(t *testing.T) {
	snap := snapshotOf(
		liveQuote("v1", "WETH", "USDC", domain.QuoteSideAsk, 1_000_000, 1_000_000),
		liveQuote("v2", "WETH", "USDC", domain.QuoteSideBid, 1_020_000, 1_000_000),
	)
	d := New(defaultConfig(), defaultFees(), polygonIndex(), testLogger())

	plain := d.Scan(snap, nil)
	hinted := d.Scan(snap, []string{"WETH", "WBTC"})
	if len(plain) != len(hinted) {
		t.Fatalf("hints changed candidate count: %d vs %d", len(plain), len(hinted))
	}
	for i := range plain {
		if plain[i].NetEdgeBps != hinted[i].NetEdgeBps || len(plain[i].Legs) != len(hinted[i].Legs) {
			t.Fatalf("hints changed candidate %d economics", i)
		}
	}
}

func TestScanRestartablePerCall(t *testing.T) {
	d := New(defaultConfig(), defaultFees(), polygonIndex(), testLogger())
	snap := crossVenueSnapshot()
	first := d.Scan(snap, nil)
	second := d.Scan(snap, nil)
	if len(first) != len(second) {
		t.Fatalf("repeated scans of one snapshot disagree: %d vs %d", len(first), len(second))
	}
	if first[0].NetEdgeBps != second[0].NetEdgeBps || first[0].NotionalIn != second[0].NotionalIn {
		t.Fatal("repeated scans of one snapshot must reproduce the same economics")
	}
}
