package domain

import "time"

// PriceScale is the fixed-point denominator for quote prices: a price of
// PriceScale means one base unit of the base instrument buys exactly one base
// unit of the counter instrument. All amount arithmetic stays in integer base
// units of the smallest denomination; floats never enter the profit path.
const PriceScale int64 = 1_000_000

// QuoteSide is the side of a venue quote relative to the base instrument.
type QuoteSide string

const (
	// QuoteSideBid: the venue buys base, we can sell base for counter.
	QuoteSideBid QuoteSide = "bid"
	// QuoteSideAsk: the venue sells base, we can buy base with counter.
	QuoteSideAsk QuoteSide = "ask"
)

// Quote is one venue's price for a base/counter pair.
//
// Price is counter base-units received (bid) or paid (ask) per PriceScale
// base-units of the base instrument. AvailableSize is in base-instrument
// base units.
type Quote struct {
	VenueID       string
	Base          string
	Counter       string
	Side          QuoteSide
	Price         int64
	AvailableSize int64
	Timestamp     time.Time
	Expiry        time.Time
}

// Pair returns the snapshot key for the quote's instrument pair.
func (q Quote) Pair() string {
	return q.Base + "/" + q.Counter
}

// Stale reports whether the quote has expired as of now.
func (q Quote) Stale(now time.Time) bool {
	return now.After(q.Expiry)
}

// Snapshot is a normalized, timestamped view of quotes across all venues,
// keyed by instrument pair with quotes ordered newest first. A Snapshot is
// immutable once published: the aggregator builds fresh maps on every refresh
// and never touches them again, so a route built from one snapshot stays
// reproducible for audit.
type Snapshot struct {
	ID      string
	TakenAt time.Time
	Quotes  map[string][]Quote

	// FailedVenues lists venues whose adapter errored during the refresh;
	// their quotes are absent and the snapshot is partial.
	FailedVenues []string
}

// PairQuotes returns the quotes for a pair key such as "WETH/USDC".
func (s Snapshot) PairQuotes(pair string) []Quote {
	return s.Quotes[pair]
}

// Pairs returns every pair key present in the snapshot.
func (s Snapshot) Pairs() []string {
	pairs := make([]string, 0, len(s.Quotes))
	for p := range s.Quotes {
		pairs = append(pairs, p)
	}
	return pairs
}
