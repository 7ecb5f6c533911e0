package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

// ExecutionLedger is the read surface the execution handler needs.
type ExecutionLedger interface {
	GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error)
	SumPnL(ctx context.Context, asset string, since time.Time) (int64, error)
}

// ExecutionHandler serves the execution ledger endpoints.
type ExecutionHandler struct {
	ledger ExecutionLedger
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(ledger ExecutionLedger, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{ledger: ledger, logger: logger}
}

// ListRecent returns the most recent execution records, newest first.
// GET /api/executions?limit=50
func (h *ExecutionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 200)

	records, err := h.ledger.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if records == nil {
		records = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": records})
}

// GetExecution returns one record with full leg outcomes.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}

	rec, err := h.ledger.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get execution failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Profit returns realized PnL for an asset since a date.
// GET /api/executions/profit?asset=USDC&since=2026-01-01
func (h *ExecutionHandler) Profit(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "missing asset")
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
			return
		}
		since = t
	}

	total, err := h.ledger.SumPnL(r.Context(), asset, since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: profit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute profit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":              asset,
		"since":              since.Format(time.RFC3339),
		"net_pnl_base_units": total,
	})
}
