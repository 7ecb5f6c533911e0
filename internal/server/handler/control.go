package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ExecutionController is the kill-switch surface of the coordinator.
type ExecutionController interface {
	Halt(reason string)
	Resume()
	Halted() bool
}

// ControlHandler serves the kill-switch endpoints.
type ControlHandler struct {
	controller ExecutionController
	logger     *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(controller ExecutionController, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{controller: controller, logger: logger}
}

type haltRequest struct {
	Reason string `json:"reason"`
}

// Halt engages the kill switch. Idempotent.
// POST /api/control/halt {"reason":"..."}
func (h *ControlHandler) Halt(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "missing halt reason")
		return
	}

	h.controller.Halt(req.Reason)
	h.logger.WarnContext(r.Context(), "halt engaged via api",
		slog.String("reason", req.Reason),
	)
	writeJSON(w, http.StatusOK, map[string]any{"halted": true})
}

// Resume releases the kill switch. Idempotent.
// POST /api/control/resume
func (h *ControlHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.controller.Resume()
	h.logger.InfoContext(r.Context(), "halt released via api")
	writeJSON(w, http.StatusOK, map[string]any{"halted": false})
}

// Status reports the current kill-switch state.
// GET /api/control/status
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"halted": h.controller.Halted()})
}
