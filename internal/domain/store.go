package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DecisionStore persists the decision audit trail.
type DecisionStore interface {
	Insert(ctx context.Context, d Decision) error
	ListRecent(ctx context.Context, limit int) ([]Decision, error)
	ListByAsset(ctx context.Context, asset string, opts ListOpts) ([]Decision, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Decision, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists the ledger's positions so they survive restarts.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Delete(ctx context.Context, asset string) error
	Get(ctx context.Context, asset string) (Position, error)
	List(ctx context.Context) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only log of operator and lifecycle events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// RiskLimitsStore persists the active risk limits across restarts.
type RiskLimitsStore interface {
	Get(ctx context.Context) (RiskLimits, time.Time, error)
	Save(ctx context.Context, limits RiskLimits) error
}
