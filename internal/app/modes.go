package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amanahq/flasharb/internal/archive"
	"github.com/amanahq/flasharb/internal/compliance"
	"github.com/amanahq/flasharb/internal/config"
	"github.com/amanahq/flasharb/internal/coordinator"
	"github.com/amanahq/flasharb/internal/crypto"
	"github.com/amanahq/flasharb/internal/detector"
	"github.com/amanahq/flasharb/internal/domain"
	"github.com/amanahq/flasharb/internal/engine"
	"github.com/amanahq/flasharb/internal/notify"
	"github.com/amanahq/flasharb/internal/pricing"
	"github.com/amanahq/flasharb/internal/risk"
	"github.com/amanahq/flasharb/internal/server"
	"github.com/amanahq/flasharb/internal/server/handler"
	"github.com/amanahq/flasharb/internal/venue"
	"github.com/amanahq/flasharb/internal/venue/gateway"
)

// DetectMode runs the scan loop without ever executing: every candidate is
// logged and dropped. The API server starts alongside when enabled.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")
	return a.runTrading(ctx, deps, true, a.cfg.Server.Enabled)
}

// TradeMode runs the full detect-and-execute loop. Whether executions
// actually fire still depends on engine.dry_run.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runTrading(ctx, deps, a.cfg.Engine.DryRun, a.cfg.Server.Enabled)
}

// ServerMode serves the operational API without a local engine. Halt and
// resume commands are relayed over the signal bus to whichever process runs
// the engine.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	filter, err := compliance.NewFilter(policyFromConfig(a.cfg.Policy), a.logger)
	if err != nil {
		return fmt.Errorf("app: compliance policy: %w", err)
	}
	ctrl := &busController{
		bus:     deps.SignalBus,
		channel: a.cfg.Engine.ControlChannel,
		logger:  a.logger.With(slog.String("component", "bus_controller")),
	}
	return runServer(ctx, a.buildServer(deps, filter, ctrl))
}

// FullMode runs everything in one process: engine, API server, and the
// archive exporter when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runTrading(ctx, deps, a.cfg.Engine.DryRun, true)
}

// core holds the trading services a mode needs handles to after building.
type core struct {
	filter *compliance.Filter
	coord  *coordinator.Coordinator
	engine *engine.Engine
	events *notify.ExecutionEvents
}

// runTrading builds the trading core and runs the engine plus the optional
// API server and archiver until the context is cancelled.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, dryRun, withServer bool) error {
	g, ctx := errgroup.WithContext(ctx)

	c, err := a.buildCore(ctx, deps, dryRun)
	if err != nil {
		return err
	}
	defer c.events.Flush()

	g.Go(func() error {
		return c.engine.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		arch := archive.New(deps.Ledger, deps.BlobWriter, deps.BlobReader, deps.Audit, archive.Config{
			MaxAge:     a.cfg.Archive.MaxAge.Duration,
			Interval:   a.cfg.Archive.Interval.Duration,
			BatchLimit: a.cfg.Archive.BatchLimit,
		}, a.logger)
		g.Go(func() error {
			return arch.Run(ctx)
		})
	}

	if withServer {
		srv := a.buildServer(deps, c.filter, c.coord)
		g.Go(func() error {
			return runServer(ctx, srv)
		})
	}

	return g.Wait()
}

// buildCore wires the detection and execution services on top of the
// infrastructure dependencies.
func (a *App) buildCore(ctx context.Context, deps *Dependencies, dryRun bool) (*core, error) {
	filter, err := compliance.NewFilter(policyFromConfig(a.cfg.Policy), a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: compliance policy: %w", err)
	}

	gate, err := risk.New(domain.RiskLimits{
		MaxLossBps:          a.cfg.Risk.MaxLossBps,
		MaxExposurePerAsset: a.cfg.Risk.MaxExposurePerAsset,
		MaxLegs:             a.cfg.Risk.MaxLegs,
		MinProfitBps:        a.cfg.Risk.MinProfitBps,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: risk limits: %w", err)
	}
	exposure := risk.NewTracker()

	signer, err := a.buildSigner()
	if err != nil {
		return nil, err
	}
	registry := a.buildRegistry(ctx, deps, signer)

	aggregator := pricing.New(registry, pricing.Config{
		Pairs:        a.cfg.Pricing.Pairs,
		VenueTimeout: a.cfg.Pricing.VenueTimeout.Duration,
	}, a.logger)

	det := detector.New(
		detector.Config{
			LoanAssets:     a.cfg.Detector.LoanAssets,
			MaxNotional:    a.cfg.Detector.MaxNotional,
			MaxLegs:        a.cfg.Detector.MaxLegs,
			MinProfitBps:   a.cfg.Detector.MinProfitBps,
			MaxSlippageBps: a.cfg.Detector.MaxSlippageBps,
		},
		detector.FeeConfig{
			FlashLoanBps:    a.cfg.Detector.FlashLoanBps,
			PerVenueBps:     a.cfg.Detector.PerVenueFeeBps,
			DefaultVenueBps: a.cfg.Detector.DefaultVenueBps,
			GasByChain:      a.gasByChain(),
			GasDefault:      a.cfg.Detector.GasDefault,
		},
		filter,
		a.logger,
	)

	coord := coordinator.New(registry, filter, gate, exposure, deps.LockManager, deps.Ledger, coordinator.Config{
		CallTimeout:       a.cfg.Coordinator.CallTimeout.Duration,
		LockTTL:           a.cfg.Coordinator.LockTTL.Duration,
		LockWait:          a.cfg.Coordinator.LockWait.Duration,
		LockRetryInterval: a.cfg.Coordinator.LockRetryInterval.Duration,
	}, a.logger)
	coord.SetAuditStore(deps.Audit)

	events := notify.NewExecutionEvents(deps.Notifier, deps.SignalBus, "", a.logger)
	coord.SetEventSink(events)

	eng := engine.New(aggregator, det, filter, gate, exposure, coord, deps.SignalBus, engine.Config{
		ScanInterval:   a.cfg.Engine.ScanInterval.Duration,
		MaxConcurrent:  a.cfg.Engine.MaxConcurrent,
		DryRun:         dryRun,
		HintChannel:    a.cfg.Engine.HintChannel,
		ControlChannel: a.cfg.Engine.ControlChannel,
	}, a.logger)

	return &core{filter: filter, coord: coord, engine: eng, events: events}, nil
}

// buildSigner loads the gateway signing key when one is configured. Modes
// that never execute may run without a key; Validate enforces one for modes
// that do.
func (a *App) buildSigner() (*crypto.Signer, error) {
	w := a.cfg.Wallet
	if w.PrivateKey == "" && w.EncryptedKeyPath == "" {
		return nil, nil
	}
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    w.PrivateKey,
		EncryptedKeyPath: w.EncryptedKeyPath,
		KeyPassword:      w.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load signing key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, w.ChainID)
	if err != nil {
		return nil, fmt.Errorf("app: signer: %w", err)
	}
	return signer, nil
}

// buildRegistry constructs one gateway adapter per configured venue and
// starts its quote feed when a feed URL is set. A feed that fails to connect
// at boot is logged and left to the adapter's REST fallback.
func (a *App) buildRegistry(ctx context.Context, deps *Dependencies, signer *crypto.Signer) *venue.Registry {
	registry := venue.NewRegistry()
	for _, vc := range a.cfg.Venues {
		var auth *crypto.HMACAuth
		if signer != nil && vc.APIKey != "" {
			auth = &crypto.HMACAuth{
				Key:        vc.APIKey,
				Secret:     vc.APISecret,
				Passphrase: vc.APIPassphrase,
			}
		}
		var limiter domain.RateLimiter
		if vc.RateLimitPerSec > 0 {
			limiter = &venueLimiter{inner: deps.RateLimiter, perSec: vc.RateLimitPerSec}
		}
		adapter := gateway.New(gateway.Config{
			VenueID:        vc.ID,
			BaseURL:        vc.BaseURL,
			FeedURL:        vc.FeedURL,
			LegDeadline:    vc.LegDeadline.Duration,
			RequestTimeout: vc.RequestTimeout.Duration,
		}, signer, auth, limiter, a.logger)
		if vc.FeedURL != "" {
			if err := adapter.StartFeed(ctx, vc.FeedPairs); err != nil {
				a.logger.WarnContext(ctx, "quote feed unavailable, using REST fallback",
					slog.String("venue", vc.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		registry.Register(adapter)
	}
	return registry
}

// buildServer assembles the operational API server around the given
// compliance filter and execution controller.
func (a *App) buildServer(deps *Dependencies, filter *compliance.Filter, ctrl handler.ExecutionController) *server.Server {
	return server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(a.logger),
			Executions: handler.NewExecutionHandler(deps.Ledger, a.logger),
			Control:    handler.NewControlHandler(ctrl, a.logger),
			Policy:     handler.NewPolicyHandler(filter, deps.Audit, a.logger),
			Audit:      handler.NewAuditHandler(deps.Audit, a.logger),
		},
		a.logger,
	)
}

// runServer serves until ctx is done, then drains in-flight requests.
func runServer(ctx context.Context, srv *server.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// policyFromConfig converts the boot policy into the filter's form.
func policyFromConfig(pc config.PolicyConfig) compliance.Policy {
	p := compliance.Policy{
		Instruments:       make(map[string]domain.Instrument, len(pc.Instruments)),
		AllowedVenues:     make(map[string]bool, len(pc.AllowedVenues)),
		DeniedInstruments: make(map[string]bool, len(pc.DeniedInstruments)),
		DeniedVenues:      make(map[string]bool, len(pc.DeniedVenues)),
		LoadedAt:          time.Now(),
	}
	for _, inst := range pc.Instruments {
		p.Instruments[inst.Symbol] = domain.Instrument{
			Symbol:          inst.Symbol,
			ChainID:         inst.ChainID,
			ContractAddress: inst.ContractAddress,
			Status:          domain.ComplianceStatus(inst.Status),
		}
	}
	for _, v := range pc.AllowedVenues {
		p.AllowedVenues[v] = true
	}
	for _, s := range pc.DeniedInstruments {
		p.DeniedInstruments[s] = true
	}
	for _, v := range pc.DeniedVenues {
		p.DeniedVenues[v] = true
	}
	return p
}

// gasByChain converts the TOML gas map, whose keys are decimal strings, into
// the detector's chain-id keyed form. Malformed keys are skipped.
func (a *App) gasByChain() map[int64]int64 {
	out := make(map[int64]int64, len(a.cfg.Detector.GasByChain))
	for key, cost := range a.cfg.Detector.GasByChain {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			a.logger.Warn("ignoring gas entry with non-numeric chain id", slog.String("chain", key))
			continue
		}
		out[id] = cost
	}
	return out
}

// venueLimiter pins the shared sliding-window limiter to one venue's
// published requests-per-second budget.
type venueLimiter struct {
	inner  domain.RateLimiter
	perSec int
}

func (l *venueLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.inner.Allow(ctx, key, limit, window)
}

func (l *venueLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := l.inner.Allow(ctx, key, l.perSec, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(50 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// busController relays halt and resume commands over the signal bus for
// server-only deployments. Halted reflects the last command this process
// issued, not the remote engine's actual state.
type busController struct {
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
	halted  atomic.Bool
}

func (c *busController) Halt(reason string) {
	c.halted.Store(true)
	if err := c.bus.Publish(context.Background(), c.channel, []byte("halt "+reason)); err != nil {
		c.logger.Error("halt relay failed", slog.String("error", err.Error()))
	}
}

func (c *busController) Resume() {
	c.halted.Store(false)
	if err := c.bus.Publish(context.Background(), c.channel, []byte("resume")); err != nil {
		c.logger.Error("resume relay failed", slog.String("error", err.Error()))
	}
}

func (c *busController) Halted() bool {
	return c.halted.Load()
}
