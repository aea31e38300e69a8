// Package service holds the engine's side-effect sinks and operator actions:
// persisting decisions and positions, publishing them on the signal bus,
// writing the audit log, and alerting.
package service

import (
	"context"

	"github.com/alanyoungcy/tradegate/internal/notify"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}
