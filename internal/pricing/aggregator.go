// Package pricing aggregates live quotes from every registered venue adapter
// into normalized, timestamped snapshots for the opportunity detector.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/amanahq/flasharb/internal/domain"
	"github.com/amanahq/flasharb/internal/metrics"
	"github.com/amanahq/flasharb/internal/venue"
)

// Config holds aggregator tunables.
type Config struct {
	// Pairs restricts polling to the listed instrument pairs; empty polls
	// everything each adapter offers.
	Pairs []string
	// VenueTimeout bounds each adapter's GetQuotes call.
	VenueTimeout time.Duration
}

// Aggregator polls all venues and merges their quotes into one snapshot per
// Refresh call. A failing venue degrades the snapshot to fewer venues rather
// than failing the whole refresh.
type Aggregator struct {
	registry *venue.Registry
	cfg      Config
	logger   *slog.Logger
	last     atomic.Pointer[domain.Snapshot]
}

// New creates an Aggregator over the given venue registry.
func New(registry *venue.Registry, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 3 * time.Second
	}
	return &Aggregator{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "price_aggregator")),
	}
}

// Refresh polls every venue concurrently, drops quotes that fail the
// staleness invariant (now past expiry, or expiry before timestamp), merges
// the rest per pair newest first, and publishes the result as the new cached
// snapshot. The returned snapshot is immutable; callers never see the
// internal cache mutate.
//
// It returns an error only when every venue failed; partial failures are
// reported through the snapshot's FailedVenues, the log, and metrics.
func (a *Aggregator) Refresh(ctx context.Context) (domain.Snapshot, error) {
	adapters := a.registry.All()
	now := time.Now().UTC()

	var mu sync.Mutex
	byPair := make(map[string][]domain.Quote)
	var failed []string

	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range adapters {
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, a.cfg.VenueTimeout)
			defer cancel()

			quotes, err := a.collectVenue(vctx, adapter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, adapter.ID())
				metrics.VenueFailures.WithLabelValues(adapter.ID()).Inc()
				a.logger.Warn("venue omitted from snapshot",
					slog.String("venue", adapter.ID()),
					slog.String("error", err.Error()),
				)
				return nil // partial snapshot, not fatal
			}
			for _, q := range quotes {
				if q.Stale(now) || q.Expiry.Before(q.Timestamp) {
					continue
				}
				byPair[q.Pair()] = append(byPair[q.Pair()], q)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(byPair) == 0 && len(failed) == len(adapters) && len(adapters) > 0 {
		return domain.Snapshot{}, fmt.Errorf("pricing: all %d venues failed: %w", len(adapters), domain.ErrAdapterUnavailable)
	}

	total := 0
	for pair := range byPair {
		qs := byPair[pair]
		sort.SliceStable(qs, func(i, j int) bool {
			return qs[i].Timestamp.After(qs[j].Timestamp)
		})
		byPair[pair] = qs
		total += len(qs)
	}
	sort.Strings(failed)

	snap := domain.Snapshot{
		ID:           uuid.New().String(),
		TakenAt:      now,
		Quotes:       byPair,
		FailedVenues: failed,
	}
	a.last.Store(&snap)

	metrics.SnapshotsTotal.Inc()
	metrics.QuotesAggregated.Set(float64(total))
	a.logger.Debug("snapshot refreshed",
		slog.String("snapshot_id", snap.ID),
		slog.Int("pairs", len(byPair)),
		slog.Int("quotes", total),
		slog.Int("failed_venues", len(failed)),
	)
	return snap, nil
}

// collectVenue gathers quotes from one adapter, restricted to configured
// pairs when set.
func (a *Aggregator) collectVenue(ctx context.Context, adapter domain.VenueAdapter) ([]domain.Quote, error) {
	if len(a.cfg.Pairs) == 0 {
		return adapter.GetQuotes(ctx, "")
	}
	var out []domain.Quote
	for _, pair := range a.cfg.Pairs {
		quotes, err := adapter.GetQuotes(ctx, pair)
		if err != nil {
			return nil, err
		}
		out = append(out, quotes...)
	}
	return out, nil
}

// Last returns the most recent snapshot, if any refresh has succeeded.
func (a *Aggregator) Last() (domain.Snapshot, bool) {
	snap := a.last.Load()
	if snap == nil {
		return domain.Snapshot{}, false
	}
	return *snap, true
}
