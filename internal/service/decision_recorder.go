package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/engine"
)

// DecisionRecorder persists every decision and publishes it on the signal
// bus: on the decisions channel for live subscribers and on the decisions
// stream for replay. Either dependency may be nil.
type DecisionRecorder struct {
	store  domain.DecisionStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewDecisionRecorder creates a DecisionRecorder.
func NewDecisionRecorder(store domain.DecisionStore, bus domain.SignalBus, logger *slog.Logger) *DecisionRecorder {
	return &DecisionRecorder{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "decision_recorder")),
	}
}

// OnDecision implements engine.Sink.
func (r *DecisionRecorder) OnDecision(ctx context.Context, ev engine.Event) {
	d := ev.Decision
	if r.store != nil {
		if err := r.store.Insert(ctx, d); err != nil {
			r.logger.WarnContext(ctx, "persist decision failed",
				slog.String("decision_id", d.ID),
				slog.String("asset", d.Asset),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.bus == nil {
		return
	}

	payload, err := json.Marshal(d)
	if err != nil {
		r.logger.WarnContext(ctx, "marshal decision failed",
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.bus.Publish(ctx, domain.ChannelDecisions, payload); err != nil {
		r.logger.WarnContext(ctx, "publish decision failed",
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := r.bus.StreamAppend(ctx, domain.StreamDecisions, payload); err != nil {
		r.logger.WarnContext(ctx, "append decision stream failed",
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

var _ engine.Sink = (*DecisionRecorder)(nil)
