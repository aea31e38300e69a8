package domain

import "context"

// SignalSource retrieves the scored technical and research signals of an asset.
type SignalSource interface {
	FetchSignals(ctx context.Context, asset string) (SignalBundle, error)
}

// AccountSource retrieves the current account snapshot.
type AccountSource interface {
	FetchAccountSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// OrderRequest asks the execution backend to open a position. Size is
// quote-currency notional and Price the mark the engine saw.
type OrderRequest struct {
	Asset    string  `json:"asset"`
	Side     Side    `json:"side"`
	Size     float64 `json:"size"`
	Leverage float64 `json:"leverage"`
	Price    float64 `json:"price"`
}

// OrderAck confirms an opened position. FillPrice may be zero when the
// backend does not report it.
type OrderAck struct {
	OrderID   string  `json:"order_id"`
	FillPrice float64 `json:"fill_price"`
}

// OrderExecutor opens and closes positions on an execution backend.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CloseOrder(ctx context.Context, asset string) (float64, error)
}

// PaymentGate decides whether a metered external call can be paid for.
type PaymentGate interface {
	CanAffordExternalCall(cost float64) bool
}

// Narrator produces free-text commentary for a decision whose action has
// already been fixed.
type Narrator interface {
	Narrate(d Decision) string
}
