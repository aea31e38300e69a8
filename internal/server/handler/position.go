package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// PositionSource is the ledger's live view of positions.
type PositionSource interface {
	Positions() []domain.Position
	GetPosition(asset string) (domain.Position, bool)
}

// PositionHandler serves position endpoints from the live ledger, or the
// position store when no engine runs in this process.
type PositionHandler struct {
	live   PositionSource
	store  domain.PositionStore
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler. Either source may be nil.
func NewPositionHandler(live PositionSource, store domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{live: live, store: store, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every tracked position.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []domain.Position
		err       error
	)
	switch {
	case h.live != nil:
		positions = h.live.Positions()
	case h.store != nil:
		positions, err = h.store.List(r.Context())
	default:
		writeError(w, http.StatusServiceUnavailable, "no position source configured")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one asset's position, 404 when flat.
// GET /api/positions/{asset}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	asset := assetParam(r)
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset required")
		return
	}

	switch {
	case h.live != nil:
		pos, ok := h.live.GetPosition(asset)
		if !ok {
			writeError(w, http.StatusNotFound, "no position for "+asset)
			return
		}
		writeJSON(w, http.StatusOK, pos)
	case h.store != nil:
		pos, err := h.store.Get(r.Context(), asset)
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no position for "+asset)
			return
		}
		if err != nil {
			writeServiceError(w, r, h.logger, "get position", err)
			return
		}
		writeJSON(w, http.StatusOK, pos)
	default:
		writeError(w, http.StatusServiceUnavailable, "no position source configured")
	}
}
