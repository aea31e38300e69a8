// Package notify delivers operator alerts for position lifecycle and risk
// events to chat channels. Alerts are filtered by event type so operators
// receive only what they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types raised by the engine's sinks and the admin API.
const (
	EventPositionOpened  = "position_opened"
	EventPositionClosed  = "position_closed"
	EventAssetHalted     = "asset_halted"
	EventHaltCleared     = "halt_cleared"
	EventLimitsUpdated   = "limits_updated"
	EventBudgetExhausted = "budget_exhausted"
	EventArchiveFailed   = "archive_failed"
)

// Message is one alert.
type Message struct {
	Event string
	Asset string
	Title string
	Body  string
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans alerts out to every sender. An empty event filter lets
// everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, forwarding only the listed
// events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Wants reports whether event passes the filter.
func (n *Notifier) Wants(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers msg if its event passes the filter. Every sender is tried;
// failures are joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Wants(msg.Event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// headline renders the title line shared by the text channels.
func headline(msg Message) string {
	if msg.Asset == "" {
		return msg.Title
	}
	return fmt.Sprintf("[%s] %s", msg.Asset, msg.Title)
}
