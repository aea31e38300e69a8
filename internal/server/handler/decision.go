package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// DecisionSource is the engine's in-memory audit ring.
type DecisionSource interface {
	GetRecentDecisions(limit int) []domain.Decision
}

// DecisionHandler serves the decision audit trail from the live engine when
// one runs in this process, and from the store otherwise or for per-asset
// history.
type DecisionHandler struct {
	engine DecisionSource
	store  domain.DecisionStore
	logger *slog.Logger
}

// NewDecisionHandler creates a DecisionHandler. Either source may be nil.
func NewDecisionHandler(engine DecisionSource, store domain.DecisionStore, logger *slog.Logger) *DecisionHandler {
	return &DecisionHandler{engine: engine, store: store, logger: logger}
}

type listDecisionsResponse struct {
	Decisions []domain.Decision `json:"decisions"`
	Source    string            `json:"source"`
}

// ListDecisions returns recent decisions, newest first.
// GET /api/decisions?limit=50&asset=BTC&since=...&until=...&offset=0
func (h *DecisionHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("asset")))

	var (
		out    []domain.Decision
		source string
	)
	switch {
	case asset != "" && h.store != nil:
		out, err = h.store.ListByAsset(r.Context(), asset, opts)
		source = "store"
	case h.engine != nil:
		out = filterAsset(h.engine.GetRecentDecisions(opts.Limit), asset)
		source = "engine"
	case h.store != nil:
		out, err = h.store.ListRecent(r.Context(), opts.Limit)
		source = "store"
	default:
		writeError(w, http.StatusServiceUnavailable, "no decision source configured")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list decisions", err)
		return
	}
	if out == nil {
		out = []domain.Decision{}
	}
	writeJSON(w, http.StatusOK, listDecisionsResponse{Decisions: out, Source: source})
}

func filterAsset(ds []domain.Decision, asset string) []domain.Decision {
	if asset == "" {
		return ds
	}
	out := ds[:0:0]
	for _, d := range ds {
		if d.Asset == asset {
			out = append(out, d)
		}
	}
	return out
}
