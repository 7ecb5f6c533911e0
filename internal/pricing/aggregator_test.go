package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
	"github.com/amanahq/flasharb/internal/venue"
	"github.com/amanahq/flasharb/internal/venue/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quote(venueID string, side domain.QuoteSide, price int64, age, ttl time.Duration) domain.Quote {
	ts := time.Now().UTC().Add(-age)
	return domain.Quote{
		VenueID:       venueID,
		Base:          "WETH",
		Counter:       "USDC",
		Side:          side,
		Price:         price,
		AvailableSize: 1_000_000,
		Timestamp:     ts,
		Expiry:        ts.Add(ttl),
	}
}

func TestRefreshMergesVenuesNewestFirst(t *testing.T) {
	v1 := mock.New("v1")
	v1.SetQuotes([]domain.Quote{quote("v1", domain.QuoteSideBid, 2_000_000_000, 2*time.Second, time.Minute)})
	v2 := mock.New("v2")
	v2.SetQuotes([]domain.Quote{quote("v2", domain.QuoteSideAsk, 1_990_000_000, time.Second, time.Minute)})

	reg := venue.NewRegistry()
	reg.Register(v1)
	reg.Register(v2)

	agg := New(reg, Config{}, testLogger())
	snap, err := agg.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	quotes := snap.PairQuotes("WETH/USDC")
	if len(quotes) != 2 {
		t.Fatalf("expected 2 merged quotes, got %d", len(quotes))
	}
	// Newer quote (v2, 1s old) must sort first.
	if quotes[0].VenueID != "v2" {
		t.Fatalf("expected newest quote first, got venue %s", quotes[0].VenueID)
	}
	if len(snap.FailedVenues) != 0 {
		t.Fatalf("expected no failed venues, got %v", snap.FailedVenues)
	}
}

func TestRefreshDropsStaleQuotes(t *testing.T) {
	v1 := mock.New("v1")
	v1.SetQuotes([]domain.Quote{
		quote("v1", domain.QuoteSideBid, 2_000_000_000, 10*time.Second, time.Second), // expired
		quote("v1", domain.QuoteSideAsk, 1_990_000_000, time.Second, time.Minute),    // live
	})
	reg := venue.NewRegistry()
	reg.Register(v1)

	agg := New(reg, Config{}, testLogger())
	snap, err := agg.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	quotes := snap.PairQuotes("WETH/USDC")
	if len(quotes) != 1 {
		t.Fatalf("expected stale quote dropped, got %d quotes", len(quotes))
	}
	if quotes[0].Side != domain.QuoteSideAsk {
		t.Fatalf("surviving quote should be the live ask, got %s", quotes[0].Side)
	}
}

func TestRefreshPartialOnVenueFailure(t *testing.T) {
	healthy := mock.New("healthy")
	healthy.SetQuotes([]domain.Quote{quote("healthy", domain.QuoteSideBid, 2_000_000_000, time.Second, time.Minute)})
	broken := mock.New("broken")
	broken.FailQuotes(errors.New("gateway 503"))

	reg := venue.NewRegistry()
	reg.Register(healthy)
	reg.Register(broken)

	agg := New(reg, Config{}, testLogger())
	snap, err := agg.Refresh(context.Background())
	if err != nil {
		t.Fatalf("partial failure must not be fatal, got %v", err)
	}
	if len(snap.PairQuotes("WETH/USDC")) != 1 {
		t.Fatal("healthy venue's quotes should survive a peer failure")
	}
	if len(snap.FailedVenues) != 1 || snap.FailedVenues[0] != "broken" {
		t.Fatalf("FailedVenues = %v, expected [broken]", snap.FailedVenues)
	}
}

func TestRefreshAllVenuesFailed(t *testing.T) {
	broken := mock.New("broken")
	broken.FailQuotes(errors.New("gateway 503"))
	reg := venue.NewRegistry()
	reg.Register(broken)

	agg := New(reg, Config{}, testLogger())
	_, err := agg.Refresh(context.Background())
	if !errors.Is(err, domain.ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable when every venue fails, got %v", err)
	}
}

func TestLastReturnsPublishedSnapshot(t *testing.T) {
	v1 := mock.New("v1")
	v1.SetQuotes([]domain.Quote{quote("v1", domain.QuoteSideBid, 2_000_000_000, time.Second, time.Minute)})
	reg := venue.NewRegistry()
	reg.Register(v1)

	agg := New(reg, Config{}, testLogger())
	if _, ok := agg.Last(); ok {
		t.Fatal("Last should report nothing before the first refresh")
	}
	snap, err := agg.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	last, ok := agg.Last()
	if !ok || last.ID != snap.ID {
		t.Fatalf("Last() = (%v, %v), expected snapshot %s", last.ID, ok, snap.ID)
	}
}
