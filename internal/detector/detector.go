// Package detector scans aggregated price snapshots for closed-loop routes
// whose output exceeds input plus fees. All arithmetic is fixed-point integer
// in base units of the smallest denomination; prices are never midpoints but
// the actually executable side of each quote.
package detector

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/amanahq/flasharb/internal/domain"
	"github.com/amanahq/flasharb/internal/metrics"
)

// InstrumentIndex resolves instrument metadata for chain-aware gas
// accounting. The compliance filter satisfies it.
type InstrumentIndex interface {
	Instrument(symbol string) (domain.Instrument, bool)
}

// FeeConfig holds the conservative fee model applied to every candidate.
type FeeConfig struct {
	// FlashLoanBps is the flat borrow fee charged on the principal.
	FlashLoanBps int64
	// PerVenueBps is the trade fee per venue; venues not listed are charged
	// DefaultVenueBps, which operators set high so unknown venues price
	// pessimistically.
	PerVenueBps     map[string]int64
	DefaultVenueBps int64
	// GasByChain is a flat per-chain execution cost estimate in loan-asset
	// base units, charged once per distinct chain a route touches. Unknown
	// chains are charged GasDefault. Under-estimating here makes losing
	// routes look profitable, so both defaults should err high.
	GasByChain map[int64]int64
	GasDefault int64
}

func (f FeeConfig) venueBps(venueID string) int64 {
	if bps, ok := f.PerVenueBps[venueID]; ok {
		return bps
	}
	return f.DefaultVenueBps
}

// Config holds detection parameters.
type Config struct {
	// LoanAssets are the assets routes must start and end in.
	LoanAssets []string
	// MaxNotional caps the flash-loan principal per loan asset, in base units.
	MaxNotional map[string]int64
	// MaxLegs bounds the loop length.
	MaxLegs int
	// MinProfitBps is the minimum conservative net return for a candidate.
	MinProfitBps int64
	// MaxSlippageBps is the per-leg fill tolerance stamped onto candidates.
	MaxSlippageBps int64
}

// Detector finds candidate routes in snapshots.
type Detector struct {
	cfg         Config
	fees        FeeConfig
	instruments InstrumentIndex
	logger      *slog.Logger
}

// New creates a Detector.
func New(cfg Config, fees FeeConfig, instruments InstrumentIndex, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:         cfg,
		fees:        fees,
		instruments: instruments,
		logger:      logger.With(slog.String("component", "opportunity_detector")),
	}
}

// edge is one executable conversion derived from a quote: from amountIn of
// the from-instrument, receive floor(amountIn * num / den) of the
// to-instrument, before the venue fee. maxIn caps the input in from-units.
type edge struct {
	venueID  string
	from, to string
	num, den int64
	maxIn    int64
}

// Scan walks the snapshot for closed loops of 2..MaxLegs legs starting and
// ending in a configured loan asset, prices them with worst-case executable
// quotes and the full fee model, and returns every route whose net return
// meets MinProfitBps, best first. The result is finite and recomputed from
// scratch each call; hints, a ranked list of instrument symbols from the
// advisory signal source, only bias exploration order and never change the
// candidate set.
func (d *Detector) Scan(snapshot domain.Snapshot, hints []string) []domain.Route {
	adjacency := d.buildGraph(snapshot, hints)

	var candidates []domain.Route
	for _, asset := range d.cfg.LoanAssets {
		d.walk(snapshot, adjacency, asset, asset, nil, map[string]bool{asset: true}, &candidates)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.NetEdgeBps != b.NetEdgeBps {
			return a.NetEdgeBps > b.NetEdgeBps
		}
		// Equal rounded profit: prefer fewer legs, then less capital at risk.
		if len(a.Legs) != len(b.Legs) {
			return len(a.Legs) < len(b.Legs)
		}
		return aggregateNotional(a) < aggregateNotional(b)
	})

	metrics.CandidatesTotal.Add(float64(len(candidates)))
	d.logger.Debug("scan complete",
		slog.String("snapshot_id", snapshot.ID),
		slog.Int("candidates", len(candidates)),
	)
	return candidates
}

// buildGraph converts every live quote into directed edges. A bid lets us
// sell base for counter at the quoted price; an ask lets us buy base with
// counter at the quoted price. Hinted instruments sort first in each
// adjacency list so they are explored earliest.
func (d *Detector) buildGraph(snapshot domain.Snapshot, hints []string) map[string][]edge {
	rank := make(map[string]int, len(hints))
	for i, sym := range hints {
		if _, ok := rank[sym]; !ok {
			rank[sym] = i
		}
	}

	adjacency := make(map[string][]edge)
	for _, quotes := range snapshot.Quotes {
		for _, q := range quotes {
			if q.Price <= 0 || q.AvailableSize <= 0 {
				continue
			}
			switch q.Side {
			case domain.QuoteSideBid:
				adjacency[q.Base] = append(adjacency[q.Base], edge{
					venueID: q.VenueID,
					from:    q.Base,
					to:      q.Counter,
					num:     q.Price,
					den:     domain.PriceScale,
					maxIn:   q.AvailableSize,
				})
			case domain.QuoteSideAsk:
				adjacency[q.Counter] = append(adjacency[q.Counter], edge{
					venueID: q.VenueID,
					from:    q.Counter,
					to:      q.Base,
					num:     domain.PriceScale,
					den:     q.Price,
					maxIn:   domain.MulDiv(q.AvailableSize, q.Price, domain.PriceScale),
				})
			}
		}
	}

	for from := range adjacency {
		edges := adjacency[from]
		sort.SliceStable(edges, func(i, j int) bool {
			ri, iOK := rank[edges[i].to]
			rj, jOK := rank[edges[j].to]
			switch {
			case iOK && jOK:
				return ri < rj
			case iOK:
				return true
			default:
				return false
			}
		})
		adjacency[from] = edges
	}
	return adjacency
}

// walk extends the current path by one edge, emitting a candidate whenever
// the path closes back to the loan asset profitably. Intermediate
// instruments are never revisited.
func (d *Detector) walk(
	snapshot domain.Snapshot,
	adjacency map[string][]edge,
	loanAsset, at string,
	path []edge,
	visited map[string]bool,
	out *[]domain.Route,
) {
	if len(path) == d.cfg.MaxLegs {
		return
	}
	for _, e := range adjacency[at] {
		if e.to == loanAsset {
			if len(path)+1 >= 2 {
				if route, ok := d.price(snapshot, loanAsset, append(append([]edge(nil), path...), e)); ok {
					*out = append(*out, route)
				}
			}
			continue
		}
		if visited[e.to] {
			continue
		}
		visited[e.to] = true
		d.walk(snapshot, adjacency, loanAsset, e.to, append(path, e), visited, out)
		delete(visited, e.to)
	}
}

// price simulates the loop with worst-case fills and the full fee model.
// The starting amount is shrunk until every leg fits its quote's available
// size; leg expected amounts come out net of venue fees.
func (d *Detector) price(snapshot domain.Snapshot, loanAsset string, path []edge) (domain.Route, bool) {
	start := d.cfg.MaxNotional[loanAsset]
	if start <= 0 {
		return domain.Route{}, false
	}

	var amounts []int64 // len(path)+1 amounts, amounts[i] is input to leg i
	for range path {
		amounts, start = d.simulate(path, start)
		if start <= 0 {
			return domain.Route{}, false
		}
		if amounts != nil {
			break
		}
	}
	if amounts == nil {
		return domain.Route{}, false
	}

	final := amounts[len(amounts)-1]
	flashFee := domain.FeeBps(start, d.fees.FlashLoanBps)
	gas := d.gasEstimate(path)
	profit := final - start - flashFee - gas
	netBps := domain.BpsOf(profit, start)
	if netBps < d.cfg.MinProfitBps {
		return domain.Route{}, false
	}

	legs := make([]domain.Leg, len(path))
	for i, e := range path {
		legs[i] = domain.Leg{
			VenueID:           e.venueID,
			InstrumentIn:      e.from,
			InstrumentOut:     e.to,
			ExpectedAmountIn:  amounts[i],
			ExpectedAmountOut: amounts[i+1],
			MaxSlippageBps:    d.cfg.MaxSlippageBps,
		}
	}
	return domain.Route{
		ID:             uuid.New().String(),
		LoanAsset:      loanAsset,
		Legs:           legs,
		NotionalIn:     start,
		ExpectedProfit: profit,
		NetEdgeBps:     netBps,
		SnapshotID:     snapshot.ID,
		DetectedAt:     time.Now().UTC(),
	}, true
}

// simulate runs the path once from start. When every leg fits the available
// size it returns the amount chain and the same start; when a leg overflows
// it returns a nil chain and the proportionally reduced start to retry with.
func (d *Detector) simulate(path []edge, start int64) ([]int64, int64) {
	amounts := make([]int64, 0, len(path)+1)
	amounts = append(amounts, start)
	in := start
	for _, e := range path {
		if in > e.maxIn {
			return nil, domain.MulDiv(start, e.maxIn, in)
		}
		out := domain.MulDiv(in, e.num, e.den)
		out = domain.ApplyBps(out, -d.fees.venueBps(e.venueID))
		if out <= 0 {
			return nil, 0
		}
		amounts = append(amounts, out)
		in = out
	}
	return amounts, start
}

// gasEstimate charges the per-chain flat cost once per distinct chain the
// path touches. Instruments the index cannot resolve are charged GasDefault.
func (d *Detector) gasEstimate(path []edge) int64 {
	seen := make(map[int64]bool)
	var unknown bool
	var total int64
	for _, e := range path {
		inst, ok := d.instruments.Instrument(e.from)
		if !ok {
			unknown = true
			continue
		}
		if seen[inst.ChainID] {
			continue
		}
		seen[inst.ChainID] = true
		if gas, ok := d.fees.GasByChain[inst.ChainID]; ok {
			total += gas
		} else {
			total += d.fees.GasDefault
		}
	}
	if unknown {
		total += d.fees.GasDefault
	}
	return total
}

func aggregateNotional(r domain.Route) int64 {
	var total int64
	for _, leg := range r.Legs {
		total += leg.ExpectedAmountIn
	}
	return total
}
