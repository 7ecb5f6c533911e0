// Package engine runs the detection loop: refresh prices, scan for routes,
// pre-screen them, and hand survivors to the execution coordinator. The
// engine's gate checks are advisory only; the coordinator re-checks both
// gates authoritatively before committing capital.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/amanahq/flasharb/internal/compliance"
	"github.com/amanahq/flasharb/internal/coordinator"
	"github.com/amanahq/flasharb/internal/detector"
	"github.com/amanahq/flasharb/internal/domain"
	"github.com/amanahq/flasharb/internal/pricing"
	"github.com/amanahq/flasharb/internal/risk"
)

// Config holds engine tunables.
type Config struct {
	// ScanInterval is the pause between snapshot refreshes.
	ScanInterval time.Duration
	// MaxConcurrent bounds simultaneous execution attempts and, per scan, how
	// many candidates may be launched.
	MaxConcurrent int
	// DryRun logs candidates without ever executing them.
	DryRun bool
	// HintChannel and ControlChannel are the signal bus channels for advisory
	// scan hints and halt/resume commands.
	HintChannel    string
	ControlChannel string
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 2 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.HintChannel == "" {
		c.HintChannel = "flasharb:hints"
	}
	if c.ControlChannel == "" {
		c.ControlChannel = "flasharb:control"
	}
	return c
}

// Engine is the scan-and-dispatch loop.
type Engine struct {
	aggregator *pricing.Aggregator
	detector   *detector.Detector
	filter     *compliance.Filter
	gate       *risk.Gate
	exposure   *risk.Tracker
	coord      *coordinator.Coordinator
	bus        domain.SignalBus
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	hints    []string
	sem      chan struct{}
	inflight sync.WaitGroup
}

// New creates an Engine. bus may be nil; hints and remote control are then
// disabled.
func New(
	aggregator *pricing.Aggregator,
	det *detector.Detector,
	filter *compliance.Filter,
	gate *risk.Gate,
	exposure *risk.Tracker,
	coord *coordinator.Coordinator,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	cfg = cfg.Normalize()
	return &Engine{
		aggregator: aggregator,
		detector:   det,
		filter:     filter,
		gate:       gate,
		exposure:   exposure,
		coord:      coord,
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "engine")),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Run scans until ctx is done, then waits for in-flight executions to reach
// their terminal states before returning.
func (e *Engine) Run(ctx context.Context) error {
	if e.bus != nil {
		go e.watchHints(ctx)
		go e.watchControl(ctx)
	}
	e.logger.Info("engine started",
		slog.Duration("scan_interval", e.cfg.ScanInterval),
		slog.Int("max_concurrent", e.cfg.MaxConcurrent),
		slog.Bool("dry_run", e.cfg.DryRun),
	)

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.inflight.Wait()
			e.logger.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.scanOnce(ctx)
		}
	}
}

// watchHints keeps the advisory hint list current. Hints arrive as a JSON
// array of instrument symbols; a malformed payload is dropped.
func (e *Engine) watchHints(ctx context.Context) {
	ch, err := e.bus.Subscribe(ctx, e.cfg.HintChannel)
	if err != nil {
		e.logger.Warn("hint subscription failed", slog.String("error", err.Error()))
		return
	}
	for payload := range ch {
		var hints []string
		if err := json.Unmarshal(payload, &hints); err != nil {
			e.logger.Warn("malformed hint payload dropped", slog.String("error", err.Error()))
			continue
		}
		e.mu.Lock()
		e.hints = hints
		e.mu.Unlock()
		e.logger.Debug("hints updated", slog.Int("count", len(hints)))
	}
}

// watchControl applies remote halt/resume commands.
func (e *Engine) watchControl(ctx context.Context) {
	ch, err := e.bus.Subscribe(ctx, e.cfg.ControlChannel)
	if err != nil {
		e.logger.Warn("control subscription failed", slog.String("error", err.Error()))
		return
	}
	for payload := range ch {
		cmd := strings.TrimSpace(string(payload))
		switch {
		case cmd == "resume":
			e.coord.Resume()
		case strings.HasPrefix(cmd, "halt"):
			reason := strings.TrimSpace(strings.TrimPrefix(cmd, "halt"))
			if reason == "" {
				reason = "remote control"
			}
			e.coord.Halt(reason)
		default:
			e.logger.Warn("unknown control command", slog.String("command", cmd))
		}
	}
}

// scanOnce takes one snapshot, scans it, and dispatches up to MaxConcurrent
// surviving candidates.
func (e *Engine) scanOnce(ctx context.Context) {
	snap, err := e.aggregator.Refresh(ctx)
	if err != nil {
		e.logger.Warn("refresh failed, skipping scan", slog.String("error", err.Error()))
		return
	}

	e.mu.Lock()
	hints := slices.Clone(e.hints)
	e.mu.Unlock()

	routes := e.detector.Scan(snap, hints)
	if len(routes) == 0 {
		return
	}

	launched := 0
	for _, route := range routes {
		if launched >= e.cfg.MaxConcurrent {
			return
		}
		if err := e.filter.Check(route); err != nil {
			e.logger.Debug("candidate screened out", slog.String("route_id", route.ID), slog.String("error", err.Error()))
			continue
		}
		if err := e.gate.Check(route, e.exposure.Snapshot()); err != nil {
			e.logger.Debug("candidate screened out", slog.String("route_id", route.ID), slog.String("error", err.Error()))
			continue
		}

		if e.cfg.DryRun {
			e.logger.Info("candidate found (dry run)",
				slog.String("route_id", route.ID),
				slog.String("loan_asset", route.LoanAsset),
				slog.Int("legs", len(route.Legs)),
				slog.Int64("notional", route.NotionalIn),
				slog.Int64("net_edge_bps", route.NetEdgeBps),
				slog.Int64("expected_profit", route.ExpectedProfit),
			)
			launched++
			continue
		}

		select {
		case e.sem <- struct{}{}:
		default:
			return // all executors busy, candidates wait for the next scan
		}
		launched++
		e.inflight.Add(1)
		go func(route domain.Route) {
			defer e.inflight.Done()
			defer func() { <-e.sem }()
			if _, err := e.coord.Execute(ctx, route); err != nil {
				e.logger.Debug("execution did not commit",
					slog.String("route_id", route.ID),
					slog.String("error", err.Error()),
				)
			}
		}(route)
	}
}
