package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// TickRunner runs one decision cycle on demand.
type TickRunner interface {
	RunTick(ctx context.Context) []domain.Decision
}

// TickHandler triggers an out-of-schedule tick.
type TickHandler struct {
	engine TickRunner
	logger *slog.Logger
}

// NewTickHandler creates a TickHandler.
func NewTickHandler(engine TickRunner, logger *slog.Logger) *TickHandler {
	return &TickHandler{engine: engine, logger: logger}
}

// RunTick runs a tick across all assets and returns its decisions.
// POST /api/tick
func (h *TickHandler) RunTick(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	decisions := h.engine.RunTick(r.Context())
	h.logger.InfoContext(r.Context(), "manual tick",
		slog.String("actor", actorOf(r)),
		slog.Int("decisions", len(decisions)),
		slog.Duration("took", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}
