package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/amanahq/flasharb/internal/compliance"
	"github.com/amanahq/flasharb/internal/domain"
)

// policyInstrument is the wire form of one allow-list entry.
type policyInstrument struct {
	Symbol          string `json:"symbol"`
	ChainID         int64  `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	Status          string `json:"status"`
}

// policyPayload is the wire form of a full compliance policy.
type policyPayload struct {
	Instruments       []policyInstrument `json:"instruments"`
	AllowedVenues     []string           `json:"allowedVenues"`
	DeniedInstruments []string           `json:"deniedInstruments"`
	DeniedVenues      []string           `json:"deniedVenues"`
	LoadedAt          string             `json:"loadedAt,omitempty"`
}

// PolicyHandler serves the compliance policy endpoints. Reloads swap the
// whole policy atomically; a rejected reload leaves the previous policy live.
type PolicyHandler struct {
	filter *compliance.Filter
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewPolicyHandler creates a PolicyHandler. audit may be nil.
func NewPolicyHandler(filter *compliance.Filter, audit domain.AuditStore, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{filter: filter, audit: audit, logger: logger}
}

// GetPolicy returns the live policy.
// GET /api/policy
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p := h.filter.Current()

	out := policyPayload{LoadedAt: p.LoadedAt.Format(time.RFC3339)}
	for _, inst := range p.Instruments {
		out.Instruments = append(out.Instruments, policyInstrument{
			Symbol:          inst.Symbol,
			ChainID:         inst.ChainID,
			ContractAddress: inst.ContractAddress,
			Status:          string(inst.Status),
		})
	}
	for v := range p.AllowedVenues {
		out.AllowedVenues = append(out.AllowedVenues, v)
	}
	for sym := range p.DeniedInstruments {
		out.DeniedInstruments = append(out.DeniedInstruments, sym)
	}
	for v := range p.DeniedVenues {
		out.DeniedVenues = append(out.DeniedVenues, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// ReloadPolicy validates and installs a replacement policy.
// PUT /api/policy
func (h *PolicyHandler) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	var payload policyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy body")
		return
	}

	p := compliance.Policy{
		Instruments:       make(map[string]domain.Instrument, len(payload.Instruments)),
		AllowedVenues:     make(map[string]bool, len(payload.AllowedVenues)),
		DeniedInstruments: make(map[string]bool, len(payload.DeniedInstruments)),
		DeniedVenues:      make(map[string]bool, len(payload.DeniedVenues)),
	}
	for _, inst := range payload.Instruments {
		p.Instruments[inst.Symbol] = domain.Instrument{
			Symbol:          inst.Symbol,
			ChainID:         inst.ChainID,
			ContractAddress: inst.ContractAddress,
			Status:          domain.ComplianceStatus(inst.Status),
		}
	}
	for _, v := range payload.AllowedVenues {
		p.AllowedVenues[v] = true
	}
	for _, sym := range payload.DeniedInstruments {
		p.DeniedInstruments[sym] = true
	}
	for _, v := range payload.DeniedVenues {
		p.DeniedVenues[v] = true
	}

	if err := h.filter.Reload(p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "policy.reload", map[string]any{
			"instruments":    len(p.Instruments),
			"allowed_venues": len(p.AllowedVenues),
		}); err != nil {
			h.logger.WarnContext(r.Context(), "policy reload audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instruments":    len(p.Instruments),
		"allowed_venues": len(p.AllowedVenues),
	})
}
