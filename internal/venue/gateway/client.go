// Package gateway implements domain.VenueAdapter against a remote venue
// gateway: the service that fronts one chain+exchange pair with a REST
// execution API and a WebSocket quote feed. Execution requests are EIP-712
// signed and HMAC authenticated; quote reads prefer the live feed and fall
// back to REST.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/amanahq/flasharb/internal/crypto"
	"github.com/amanahq/flasharb/internal/domain"
)

// Config holds adapter parameters for one gateway.
type Config struct {
	// VenueID is the registry key, e.g. "polygon-quickswap".
	VenueID string
	// BaseURL is the gateway REST root, e.g. "https://gw.example.com".
	BaseURL string
	// FeedURL is the WebSocket quote feed endpoint; empty disables the feed
	// and GetQuotes always uses REST.
	FeedURL string
	// LegDeadline is how long a signed leg order stays valid at the gateway.
	LegDeadline time.Duration
	// RequestTimeout bounds each REST call on top of the caller's ctx.
	RequestTimeout time.Duration
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	if c.LegDeadline <= 0 {
		c.LegDeadline = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Adapter is a gateway-backed venue adapter.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	limiter    domain.RateLimiter
	feed       *Feed
	logger     *slog.Logger
	nonce      atomic.Int64
}

// New creates an Adapter. limiter may be nil to disable client-side rate
// limiting, and signer may be nil for quote-only use, in which case leg
// execution and authenticated requests fail with ErrConfiguration. The feed
// is started separately with StartFeed.
func New(cfg Config, signer *crypto.Signer, hmacAuth *crypto.HMACAuth, limiter domain.RateLimiter, logger *slog.Logger) *Adapter {
	cfg = cfg.Normalize()
	a := &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		signer:     signer,
		hmacAuth:   hmacAuth,
		limiter:    limiter,
		logger: logger.With(
			slog.String("component", "venue_gateway"),
			slog.String("venue", cfg.VenueID),
		),
	}
	a.nonce.Store(time.Now().UnixNano())
	return a
}

// ID implements domain.VenueAdapter.
func (a *Adapter) ID() string { return a.cfg.VenueID }

// StartFeed connects the WebSocket quote feed for the given pairs and keeps
// it connected until ctx is done.
func (a *Adapter) StartFeed(ctx context.Context, pairs []string) error {
	if a.cfg.FeedURL == "" {
		return fmt.Errorf("gateway %s: no feed url configured: %w", a.cfg.VenueID, domain.ErrConfiguration)
	}
	a.feed = NewFeed(a.cfg.VenueID, a.cfg.FeedURL, pairs, a.logger)
	return a.feed.Start(ctx)
}

// GetQuotes returns live quotes for the pair, served from the feed cache when
// it is connected and falling back to REST otherwise.
func (a *Adapter) GetQuotes(ctx context.Context, pair string) ([]domain.Quote, error) {
	if a.feed != nil && a.feed.Connected() {
		return a.feed.Quotes(pair), nil
	}

	path := "/v1/quotes"
	if pair != "" {
		path += "?pair=" + url.QueryEscape(pair)
	}
	body, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: get quotes: %w", a.cfg.VenueID, err)
	}
	var quotes []apiQuote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("gateway %s: decode quotes: %w", a.cfg.VenueID, err)
	}
	out := make([]domain.Quote, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, q.toDomain(a.cfg.VenueID))
	}
	return out, nil
}

// AcquireLoan opens a flash loan at the gateway.
func (a *Adapter) AcquireLoan(ctx context.Context, req domain.LoanRequest) (domain.LoanHandle, error) {
	body, err := a.do(ctx, http.MethodPost, "/v1/loans", apiLoanRequest{
		Asset:   req.Asset,
		Amount:  req.Amount,
		RouteID: req.RouteID,
	})
	if err != nil {
		return domain.LoanHandle{}, fmt.Errorf("gateway %s: acquire loan: %w", a.cfg.VenueID, err)
	}
	var resp apiLoanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.LoanHandle{}, fmt.Errorf("gateway %s: decode loan response: %w", a.cfg.VenueID, err)
	}
	return domain.LoanHandle{
		VenueID:   a.cfg.VenueID,
		LoanID:    resp.LoanID,
		Asset:     req.Asset,
		Principal: req.Amount,
		FeeBps:    resp.FeeBps,
	}, nil
}

// ExecuteLeg signs and submits a leg order, returning the realized fill.
func (a *Adapter) ExecuteLeg(ctx context.Context, leg domain.Leg) (domain.Fill, error) {
	if a.signer == nil {
		return domain.Fill{}, fmt.Errorf("gateway %s: no signing key configured: %w", a.cfg.VenueID, domain.ErrConfiguration)
	}
	minOut := domain.ApplyBps(leg.ExpectedAmountOut, -leg.MaxSlippageBps)
	payload := crypto.LegOrderPayload{
		Venue:         a.cfg.VenueID,
		InstrumentIn:  leg.InstrumentIn,
		InstrumentOut: leg.InstrumentOut,
		AmountIn:      leg.ExpectedAmountIn,
		MinAmountOut:  minOut,
		Deadline:      time.Now().Add(a.cfg.LegDeadline).Unix(),
		Nonce:         a.nonce.Add(1),
	}
	sig, err := a.signer.SignLegOrder(payload)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("gateway %s: sign leg order: %w", a.cfg.VenueID, err)
	}

	body, err := a.do(ctx, http.MethodPost, "/v1/legs", apiLegRequest{
		InstrumentIn:  payload.InstrumentIn,
		InstrumentOut: payload.InstrumentOut,
		AmountIn:      payload.AmountIn,
		MinAmountOut:  payload.MinAmountOut,
		Deadline:      payload.Deadline,
		Nonce:         payload.Nonce,
		Maker:         a.signer.Address().Hex(),
		Signature:     sig,
	})
	if err != nil {
		return domain.Fill{}, fmt.Errorf("gateway %s: execute leg: %w", a.cfg.VenueID, err)
	}
	var resp apiLegResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Fill{}, fmt.Errorf("gateway %s: decode leg response: %w", a.cfg.VenueID, err)
	}
	return domain.Fill{
		VenueID:   a.cfg.VenueID,
		OrderID:   resp.OrderID,
		AmountIn:  resp.AmountIn,
		AmountOut: resp.AmountOut,
		FeePaid:   resp.FeePaid,
		Timestamp: time.UnixMilli(resp.Timestamp).UTC(),
	}, nil
}

// RepayLoan settles the loan with the given amount.
func (a *Adapter) RepayLoan(ctx context.Context, handle domain.LoanHandle, amount int64) error {
	path := "/v1/loans/" + url.PathEscape(handle.LoanID) + "/repay"
	if _, err := a.do(ctx, http.MethodPost, path, apiRepayRequest{Amount: amount}); err != nil {
		return fmt.Errorf("gateway %s: repay loan %s: %w", a.cfg.VenueID, handle.LoanID, err)
	}
	return nil
}

// do performs one authenticated REST request and returns the response body.
// Non-2xx responses and transport failures wrap ErrAdapterUnavailable so
// callers can treat the venue as degraded.
func (a *Adapter) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, a.cfg.VenueID); err != nil {
			return nil, err
		}
	}

	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.hmacAuth != nil {
		if a.signer == nil {
			return nil, fmt.Errorf("gateway %s: hmac auth requires a signing key: %w", a.cfg.VenueID, domain.ErrConfiguration)
		}
		for k, v := range a.hmacAuth.Headers(a.signer.Address().Hex(), method, path, string(bodyBytes)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrAdapterUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("%w: %s %s: %s (%s)", domain.ErrAdapterUnavailable, method, path, apiErr.Message, apiErr.Code)
		}
		return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrAdapterUnavailable, method, path, resp.StatusCode)
	}
	return respBody, nil
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Adapter)(nil)
