package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/engine"
	"github.com/alanyoungcy/tradegate/internal/notify"
	"github.com/alanyoungcy/tradegate/internal/risk"
)

// LimitsEngine is the part of the engine the risk service administers.
type LimitsEngine interface {
	Limits() domain.RiskLimits
	UpdateLimits(l domain.RiskLimits) error
	ClearHalt(asset string) error
	CancelPending(ctx context.Context, asset string) error
}

// RiskService applies operator changes to the engine's risk controls: limit
// updates (validated, persisted, then swapped in) and halt clearing. Every
// change is audited and announced.
type RiskService struct {
	engine   LimitsEngine
	store    domain.RiskLimitsStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger

	onHaltCleared func(asset string)
}

// RiskOption customizes a RiskService.
type RiskOption func(*RiskService)

// WithHaltCleared is called after a halt is cleared, e.g. to reset a gauge.
func WithHaltCleared(fn func(asset string)) RiskOption {
	return func(s *RiskService) { s.onHaltCleared = fn }
}

// NewRiskService creates a RiskService. Everything but engine may be nil.
func NewRiskService(
	engine LimitsEngine,
	store domain.RiskLimitsStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
	opts ...RiskOption,
) *RiskService {
	s := &RiskService{
		engine:   engine,
		store:    store,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "risk_service")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Bootstrap reconciles the engine's limits with the store at startup.
// Persisted limits win over the configured ones; when none are stored the
// configured set is saved. An invalid stored set is ignored.
func (s *RiskService) Bootstrap(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	stored, updatedAt, err := s.store.Get(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := s.store.Save(ctx, s.engine.Limits()); err != nil {
			return fmt.Errorf("risk_service: seed limits: %w", err)
		}
		s.logger.InfoContext(ctx, "seeded risk limits from configuration")
		return nil
	case err != nil:
		return fmt.Errorf("risk_service: load limits: %w", err)
	}

	if err := s.engine.UpdateLimits(stored); err != nil {
		s.logger.WarnContext(ctx, "stored risk limits rejected, keeping configured limits",
			slog.Time("updated_at", updatedAt),
			slog.String("error", err.Error()),
		)
		return nil
	}
	s.logger.InfoContext(ctx, "restored risk limits", slog.Time("updated_at", updatedAt))
	return nil
}

// Limits returns the active limits.
func (s *RiskService) Limits() domain.RiskLimits { return s.engine.Limits() }

// UpdateLimits validates next, persists it and swaps it in. An invalid or
// unpersistable set leaves the active limits untouched.
func (s *RiskService) UpdateLimits(ctx context.Context, next domain.RiskLimits, actor string) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("risk_service: update limits: %w", err)
	}
	prev := s.engine.Limits()
	if s.store != nil {
		if err := s.store.Save(ctx, next); err != nil {
			return fmt.Errorf("risk_service: persist limits: %w", err)
		}
	}
	if err := s.engine.UpdateLimits(next); err != nil {
		return fmt.Errorf("risk_service: update limits: %w", err)
	}

	s.auditLog(ctx, "risk_limits_updated", map[string]any{
		"actor":    actor,
		"previous": prev,
		"limits":   next,
	})
	if s.bus != nil {
		if payload, err := json.Marshal(next); err == nil {
			if err := s.bus.Publish(ctx, domain.ChannelLimits, payload); err != nil {
				s.logger.WarnContext(ctx, "publish limits failed", slog.String("error", err.Error()))
			}
		}
	}
	s.alert(ctx, notify.Message{
		Event: notify.EventLimitsUpdated,
		Title: "risk limits updated",
		Body: fmt.Sprintf("by %s: position %.2f, leverage %.2f, drawdown %.2f, daily volume %.2f",
			actor, next.MaxPositionSize, next.MaxLeverage, next.MaxDrawdown, next.MaxDailyVolume),
	})
	return nil
}

// ClearHalt resumes automatic execution for asset.
func (s *RiskService) ClearHalt(ctx context.Context, asset, actor string) error {
	if err := s.engine.ClearHalt(asset); err != nil {
		return fmt.Errorf("risk_service: %w", err)
	}
	if s.onHaltCleared != nil {
		s.onHaltCleared(asset)
	}
	s.auditLog(ctx, "halt_cleared", map[string]any{"asset": asset, "actor": actor})
	s.alert(ctx, notify.Message{
		Event: notify.EventHaltCleared,
		Asset: asset,
		Title: "halt cleared",
		Body:  "automatic execution resumed by " + actor,
	})
	return nil
}

// CancelPending drops an asset's failed open so it cannot fire on a later
// tick.
func (s *RiskService) CancelPending(ctx context.Context, asset, actor string) error {
	if err := s.engine.CancelPending(ctx, asset); err != nil {
		return fmt.Errorf("risk_service: %w", err)
	}
	s.auditLog(ctx, "pending_open_cancelled", map[string]any{"asset": asset, "actor": actor})
	return nil
}

// Follow applies limit sets published on the bus by another process, such as
// an API server running in server mode, until ctx ends. Sets equal to the
// active ones are ignored.
func (s *RiskService) Follow(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	updates, err := s.bus.Subscribe(ctx, domain.ChannelLimits)
	if err != nil {
		return fmt.Errorf("risk_service: follow limits: %w", err)
	}
	for payload := range updates {
		var next domain.RiskLimits
		if err := json.Unmarshal(payload, &next); err != nil {
			s.logger.WarnContext(ctx, "undecodable limits message", slog.String("error", err.Error()))
			continue
		}
		if next == s.engine.Limits() {
			continue
		}
		if err := s.engine.UpdateLimits(next); err != nil {
			s.logger.WarnContext(ctx, "published limits rejected", slog.String("error", err.Error()))
			continue
		}
		s.logger.InfoContext(ctx, "applied published risk limits")
	}
	return ctx.Err()
}

func (s *RiskService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *RiskService) alert(ctx context.Context, msg notify.Message) {
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

// DetachedLimits stands in for the engine in a process that serves the API
// without running ticks. Limit changes are validated and held locally;
// RiskService persists and publishes them for the engine to follow. There
// are no halts to clear.
type DetachedLimits struct {
	holder *risk.LimitsHolder
}

// NewDetachedLimits wraps holder.
func NewDetachedLimits(holder *risk.LimitsHolder) *DetachedLimits {
	return &DetachedLimits{holder: holder}
}

func (d *DetachedLimits) Limits() domain.RiskLimits { return d.holder.Load() }

func (d *DetachedLimits) UpdateLimits(l domain.RiskLimits) error { return d.holder.Store(l) }

func (d *DetachedLimits) ClearHalt(asset string) error {
	return fmt.Errorf("clear halt %s: no engine in this process: %w", asset, domain.ErrNotFound)
}

func (d *DetachedLimits) CancelPending(_ context.Context, asset string) error {
	return fmt.Errorf("cancel pending %s: no engine in this process: %w", asset, domain.ErrNotFound)
}

var (
	_ LimitsEngine = (*DetachedLimits)(nil)
	_ LimitsEngine = (*engine.Engine)(nil)
)
