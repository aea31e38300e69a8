package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// RiskAdmin applies operator changes to the risk controls.
type RiskAdmin interface {
	Limits() domain.RiskLimits
	UpdateLimits(ctx context.Context, next domain.RiskLimits, actor string) error
	ClearHalt(ctx context.Context, asset, actor string) error
	CancelPending(ctx context.Context, asset, actor string) error
}

// RiskHandler serves risk limit and halt endpoints.
type RiskHandler struct {
	risk   RiskAdmin
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(risk RiskAdmin, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{risk: risk, logger: logger}
}

// GetLimits returns the active limits.
// GET /api/risk/limits
func (h *RiskHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.risk.Limits())
}

// UpdateLimits patches the active limits. Fields absent from the body keep
// their current value; the merged set is validated as a whole.
// PUT /api/risk/limits
func (h *RiskHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	next := h.risk.Limits()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.risk.UpdateLimits(r.Context(), next, actorOf(r)); err != nil {
		writeServiceError(w, r, h.logger, "update limits", err)
		return
	}
	writeJSON(w, http.StatusOK, h.risk.Limits())
}

// ClearHalt resumes automatic execution for an asset halted after repeated
// execution failures.
// POST /api/assets/{asset}/clear-halt
func (h *RiskHandler) ClearHalt(w http.ResponseWriter, r *http.Request) {
	asset := assetParam(r)
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset required")
		return
	}
	err := h.risk.ClearHalt(r.Context(), asset, actorOf(r))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, asset+" is not halted")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "clear halt", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "status": "resumed"})
}

// CancelPending drops an open that failed and was not retried, returning the
// asset to flat.
// POST /api/assets/{asset}/cancel-pending
func (h *RiskHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	asset := assetParam(r)
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset required")
		return
	}
	err := h.risk.CancelPending(r.Context(), asset, actorOf(r))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, asset+" has no pending open")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel pending", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "status": "cancelled"})
}
