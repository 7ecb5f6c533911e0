package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amanahq/flasharb/internal/crypto"
	"github.com/amanahq/flasharb/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	signer, err := crypto.NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	auth := &crypto.HMACAuth{Key: "key-1", Secret: "c2VjcmV0LWJ5dGVz", Passphrase: "pp"}
	return New(Config{VenueID: "v1", BaseURL: baseURL}, signer, auth, nil, discardLogger())
}

func TestNilSignerFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	// Quote-only adapter without credentials: leg execution must refuse.
	quoteOnly := New(Config{VenueID: "v1", BaseURL: srv.URL}, nil, nil, nil, discardLogger())
	_, err := quoteOnly.ExecuteLeg(context.Background(), domain.Leg{
		VenueID:          "v1",
		InstrumentIn:     "USDC",
		InstrumentOut:    "WETH",
		ExpectedAmountIn: 1_000_000,
	})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("ExecuteLeg without signer: err = %v, expected ErrConfiguration", err)
	}

	// HMAC credentials without a signing key cannot produce auth headers.
	auth := &crypto.HMACAuth{Key: "key-1", Secret: "c2VjcmV0LWJ5dGVz", Passphrase: "pp"}
	misconfigured := New(Config{VenueID: "v1", BaseURL: srv.URL}, nil, auth, nil, discardLogger())
	if _, err := misconfigured.GetQuotes(context.Background(), "WETH/USDC"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("GetQuotes with auth but no signer: err = %v, expected ErrConfiguration", err)
	}
}

func TestGetQuotesDecodesAndStampsVenue(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		for _, h := range []string{"FA-ADDRESS", "FA-API-KEY", "FA-TIMESTAMP", "FA-PASSPHRASE", "FA-SIGNATURE"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		_ = json.NewEncoder(w).Encode([]apiQuote{
			{Base: "WETH", Counter: "USDC", Side: "ask", Price: 1_000_000, AvailableSize: 5_000_000, Timestamp: 1_700_000_000_000, ExpiryMillis: 1_700_000_005_000},
		})
	}))
	defer srv.Close()

	quotes, err := testAdapter(t, srv.URL).GetQuotes(context.Background(), "WETH/USDC")
	if err != nil {
		t.Fatalf("GetQuotes: %v", err)
	}
	if gotPath != "/v1/quotes?pair=WETH%2FUSDC" {
		t.Fatalf("path = %s", gotPath)
	}
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, expected 1", len(quotes))
	}
	q := quotes[0]
	if q.VenueID != "v1" || q.Side != domain.QuoteSideAsk || q.Price != 1_000_000 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if !q.Timestamp.Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Fatalf("timestamp = %v", q.Timestamp)
	}
}

func TestAcquireLoanAndRepay(t *testing.T) {
	var repayPath string
	var repayAmount int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/loans":
			var req apiLoanRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode loan request: %v", err)
			}
			if req.Asset != "USDC" || req.Amount != 1_000_000 || req.RouteID != "r-1" {
				t.Errorf("unexpected loan request: %+v", req)
			}
			_ = json.NewEncoder(w).Encode(apiLoanResponse{LoanID: "loan-1", FeeBps: 5})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/repay"):
			repayPath = r.URL.Path
			var req apiRepayRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			repayAmount = req.Amount
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	handle, err := a.AcquireLoan(context.Background(), domain.LoanRequest{Asset: "USDC", Amount: 1_000_000, RouteID: "r-1"})
	if err != nil {
		t.Fatalf("AcquireLoan: %v", err)
	}
	if handle.LoanID != "loan-1" || handle.FeeBps != 5 || handle.Principal != 1_000_000 || handle.VenueID != "v1" {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	if err := a.RepayLoan(context.Background(), handle, handle.Owed()); err != nil {
		t.Fatalf("RepayLoan: %v", err)
	}
	if repayPath != "/v1/loans/loan-1/repay" {
		t.Fatalf("repay path = %s", repayPath)
	}
	if repayAmount != 1_000_500 {
		t.Fatalf("repay amount = %d, expected 1000500", repayAmount)
	}
}

func TestExecuteLegSignsOrder(t *testing.T) {
	var got apiLegRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/legs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode leg request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(apiLegResponse{
			OrderID: "ord-1", AmountIn: got.AmountIn, AmountOut: got.MinAmountOut + 100,
			FeePaid: 300, Timestamp: 1_700_000_001_000,
		})
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	fill, err := a.ExecuteLeg(context.Background(), domain.Leg{
		VenueID:           "v1",
		InstrumentIn:      "USDC",
		InstrumentOut:     "WETH",
		ExpectedAmountIn:  1_000_000,
		ExpectedAmountOut: 999_000,
		MaxSlippageBps:    50,
	})
	if err != nil {
		t.Fatalf("ExecuteLeg: %v", err)
	}
	if fill.OrderID != "ord-1" || fill.VenueID != "v1" {
		t.Fatalf("unexpected fill: %+v", fill)
	}

	// minOut must reflect the slippage tolerance.
	wantMinOut := domain.ApplyBps(999_000, -50)
	if got.MinAmountOut != wantMinOut {
		t.Fatalf("minAmountOut = %d, expected %d", got.MinAmountOut, wantMinOut)
	}
	if got.Maker != a.signer.Address().Hex() {
		t.Fatalf("maker = %s, expected signer address", got.Maker)
	}
	if got.Nonce == 0 || got.Deadline <= time.Now().Unix() {
		t.Fatalf("bad nonce/deadline: %+v", got)
	}

	// Signing is deterministic, so re-signing the submitted order with the
	// same key must reproduce the signature the gateway received.
	verifier, err := crypto.NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	want, err := verifier.SignLegOrder(crypto.LegOrderPayload{
		Venue:         "v1",
		InstrumentIn:  got.InstrumentIn,
		InstrumentOut: got.InstrumentOut,
		AmountIn:      got.AmountIn,
		MinAmountOut:  got.MinAmountOut,
		Deadline:      got.Deadline,
		Nonce:         got.Nonce,
	})
	if err != nil {
		t.Fatalf("SignLegOrder: %v", err)
	}
	if got.Signature != want {
		t.Fatalf("signature does not match the submitted order fields")
	}
}

func TestDoWrapsFailuresAsAdapterUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(apiError{Code: "UPSTREAM", Message: "router reverted"})
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	_, err := a.GetQuotes(context.Background(), "WETH/USDC")
	if !errors.Is(err, domain.ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "router reverted") {
		t.Fatalf("error lost the gateway message: %v", err)
	}

	// Transport failure: server gone.
	srv.Close()
	if _, err := a.GetQuotes(context.Background(), ""); !errors.Is(err, domain.ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable on transport failure, got %v", err)
	}
}

func TestNoncesIncrease(t *testing.T) {
	var nonces []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiLegRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		nonces = append(nonces, req.Nonce)
		_ = json.NewEncoder(w).Encode(apiLegResponse{OrderID: "x", AmountOut: 1})
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	leg := domain.Leg{
		VenueID: "v1", InstrumentIn: "USDC", InstrumentOut: "WETH",
		ExpectedAmountIn: 1_000_000, ExpectedAmountOut: 999_000, MaxSlippageBps: 50,
	}
	for i := 0; i < 3; i++ {
		if _, err := a.ExecuteLeg(context.Background(), leg); err != nil {
			t.Fatalf("ExecuteLeg %d: %v", i, err)
		}
	}
	if len(nonces) != 3 || !(nonces[0] < nonces[1] && nonces[1] < nonces[2]) {
		t.Fatalf("nonces not strictly increasing: %v", nonces)
	}
}
