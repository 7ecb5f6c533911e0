package handler

import (
	"log/slog"
	"net/http"

	"github.com/amanahq/flasharb/internal/domain"
)

// AuditHandler serves the operational audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListEntries returns the most recent audit entries, newest first.
// GET /api/audit?limit=50
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)

	entries, err := h.audit.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
