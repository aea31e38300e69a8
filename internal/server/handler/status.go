package handler

import (
	"net/http"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// StatusSource is the engine's dashboard summary.
type StatusSource interface {
	Status() domain.EngineStatus
}

// StatusHandler reports the run mode and, when an engine runs in this
// process, its state.
type StatusHandler struct {
	mode   string
	engine StatusSource
}

// NewStatusHandler creates a StatusHandler. engine may be nil in server
// mode.
func NewStatusHandler(mode string, engine StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, engine: engine}
}

// GetStatus responds with the engine status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"mode":    h.mode,
			"running": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    h.mode,
		"running": true,
		"engine":  h.engine.Status(),
	})
}
