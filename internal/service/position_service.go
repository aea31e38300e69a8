package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/engine"
	"github.com/alanyoungcy/tradegate/internal/notify"
)

// PositionService mirrors the ledger's positions into the position store so
// they survive restarts, and turns lifecycle changes (opens, closes, halts)
// into audit entries, bus events and alerts.
type PositionService struct {
	positions domain.PositionStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	notifier  Notifier
	logger    *slog.Logger

	// budgetAlerted suppresses repeat alerts while the budget stays empty.
	budgetAlerted atomic.Bool
}

// NewPositionService creates a PositionService. Any dependency may be nil.
func NewPositionService(
	positions domain.PositionStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		bus:       bus,
		audit:     audit,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "position_service")),
	}
}

// Recover loads the persisted positions for ledger restoration.
func (s *PositionService) Recover(ctx context.Context) ([]domain.Position, error) {
	if s.positions == nil {
		return nil, nil
	}
	list, err := s.positions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: recover: %w", err)
	}
	return list, nil
}

// OnDecision implements engine.Sink.
func (s *PositionService) OnDecision(ctx context.Context, ev engine.Event) {
	d := ev.Decision

	s.persist(ctx, ev)

	switch {
	case d.Outcome == domain.OutcomeOpened && ev.Position != nil:
		s.opened(ctx, *ev.Position)
	case ev.Closed != nil:
		s.closed(ctx, *ev.Closed, ev.ExitReason, ev.ClosePrice)
	}

	if ev.Halted {
		s.halted(ctx, d)
	}

	if d.Outcome == domain.OutcomeBudgetExhausted {
		if s.budgetAlerted.CompareAndSwap(false, true) {
			s.alert(ctx, notify.Message{
				Event: notify.EventBudgetExhausted,
				Title: "compute budget exhausted",
				Body:  fmt.Sprintf("tick %d skipped: %s", d.Tick, d.Error),
			})
		}
	} else {
		s.budgetAlerted.Store(false)
	}
}

// persist writes the position when its state changed and deletes it once the
// asset is flat.
func (s *PositionService) persist(ctx context.Context, ev engine.Event) {
	if s.positions == nil {
		return
	}
	d := ev.Decision
	if d.PositionStateBefore == d.PositionStateAfter && d.Outcome != domain.OutcomeOpened {
		return
	}

	var err error
	if ev.Position != nil {
		err = s.positions.Upsert(ctx, *ev.Position)
	} else if d.PositionStateAfter == domain.PositionFlat {
		err = s.positions.Delete(ctx, d.Asset)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "persist position failed",
			slog.String("asset", d.Asset),
			slog.String("state", string(d.PositionStateAfter)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) opened(ctx context.Context, p domain.Position) {
	detail := map[string]any{
		"asset":       p.Asset,
		"side":        string(p.Side),
		"size":        p.Size,
		"leverage":    p.Leverage,
		"entry_price": p.EntryPrice,
		"stop_loss":   p.StopLoss,
		"take_profit": p.TakeProfit,
		"order_id":    p.OrderID,
		"confidence":  p.EntryConfidence,
	}
	s.record(ctx, notify.EventPositionOpened, detail)
	s.alert(ctx, notify.Message{
		Event: notify.EventPositionOpened,
		Asset: p.Asset,
		Title: fmt.Sprintf("%s opened", p.Side),
		Body: fmt.Sprintf("size %.2f at %.4f (x%.1f), SL %.4f / TP %.4f, confidence %.2f",
			p.Size, p.EntryPrice, p.Leverage, p.StopLoss, p.TakeProfit, p.EntryConfidence),
	})
	s.logger.InfoContext(ctx, "position opened",
		slog.String("asset", p.Asset),
		slog.String("side", string(p.Side)),
		slog.Float64("entry_price", p.EntryPrice),
		slog.Float64("size", p.Size),
	)
}

func (s *PositionService) closed(ctx context.Context, p domain.Position, reason string, price float64) {
	pnl := p.UnrealizedPnL(price)
	detail := map[string]any{
		"asset":        p.Asset,
		"side":         string(p.Side),
		"size":         p.Size,
		"entry_price":  p.EntryPrice,
		"exit_price":   price,
		"reason":       reason,
		"realized_pnl": pnl,
	}
	s.record(ctx, notify.EventPositionClosed, detail)
	s.alert(ctx, notify.Message{
		Event: notify.EventPositionClosed,
		Asset: p.Asset,
		Title: fmt.Sprintf("%s closed (%s)", p.Side, reason),
		Body:  fmt.Sprintf("entry %.4f exit %.4f, pnl %.2f", p.EntryPrice, price, pnl),
	})
	s.logger.InfoContext(ctx, "position closed",
		slog.String("asset", p.Asset),
		slog.String("reason", reason),
		slog.Float64("exit_price", price),
		slog.Float64("realized_pnl", pnl),
	)
}

func (s *PositionService) halted(ctx context.Context, d domain.Decision) {
	detail := map[string]any{
		"asset": d.Asset,
		"tick":  d.Tick,
		"error": d.Error,
	}
	s.record(ctx, notify.EventAssetHalted, detail)
	s.alert(ctx, notify.Message{
		Event: notify.EventAssetHalted,
		Asset: d.Asset,
		Title: "automatic execution halted",
		Body:  fmt.Sprintf("repeated execution failures; last error: %s. Clear the halt once resolved.", d.Error),
	})
	s.logger.ErrorContext(ctx, "asset halted",
		slog.String("asset", d.Asset),
		slog.String("error", d.Error),
	)
}

// record writes an audit entry and publishes the same detail on the
// positions channel.
func (s *PositionService) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus == nil {
		return
	}
	msg := make(map[string]any, len(detail)+1)
	for k, v := range detail {
		msg[k] = v
	}
	msg["event"] = event
	payload, _ := json.Marshal(msg)
	if err := s.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
		s.logger.WarnContext(ctx, "publish position event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) alert(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "alert failed",
			slog.String("event", msg.Event),
			slog.String("error", err.Error()),
		)
	}
}

var _ engine.Sink = (*PositionService)(nil)
