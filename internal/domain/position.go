package domain

import (
	"encoding/json"
	"time"
)

// PositionState is the lifecycle state of an asset's position.
type PositionState string

const (
	PositionFlat        PositionState = "flat"
	PositionOpening     PositionState = "opening"
	PositionOpen        PositionState = "open"
	PositionCoolingDown PositionState = "cooling_down"
	PositionClosing     PositionState = "closing"
)

// Exit reasons recorded when a position is closed by its exit plan.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitReversal   = "reversal"
)

// ExitPlan is the stored invalidation condition and cooldown of a position.
type ExitPlan struct {
	Invalidation  string    `json:"invalidation"`
	CooldownUntil time.Time `json:"-"`
}

func (e ExitPlan) MarshalJSON() ([]byte, error) {
	type alias ExitPlan
	return json.Marshal(struct {
		alias
		CooldownUntil int64 `json:"cooldown_until"`
	}{alias(e), toMillis(e.CooldownUntil)})
}

func (e *ExitPlan) UnmarshalJSON(b []byte) error {
	type alias ExitPlan
	aux := struct {
		*alias
		CooldownUntil int64 `json:"cooldown_until"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.CooldownUntil = fromMillis(aux.CooldownUntil)
	return nil
}

// Position is the single tracked position of one asset. While Opening, Side,
// Size and Leverage describe the requested order.
type Position struct {
	Asset           string        `json:"asset"`
	Side            Side          `json:"side"`
	Size            float64       `json:"size"`
	Leverage        float64       `json:"leverage"`
	EntryPrice      float64       `json:"entry_price"`
	StopLoss        float64       `json:"stop_loss"`
	TakeProfit      float64       `json:"take_profit"`
	EntryConfidence float64       `json:"entry_confidence"`
	OrderID         string        `json:"order_id,omitempty"`
	ExitPlan        ExitPlan      `json:"exit_plan"`
	State           PositionState `json:"state"`
	OpenedAt        time.Time     `json:"-"`
	UpdatedAt       time.Time     `json:"-"`
}

// Invalidated reports whether price breaches the stop-loss or take-profit.
// An unknown (non-positive) price never invalidates.
func (p Position) Invalidated(price float64) (string, bool) {
	if price <= 0 {
		return "", false
	}
	switch p.Side {
	case SideLong:
		if p.StopLoss > 0 && price <= p.StopLoss {
			return ExitStopLoss, true
		}
		if p.TakeProfit > 0 && price >= p.TakeProfit {
			return ExitTakeProfit, true
		}
	case SideShort:
		if p.StopLoss > 0 && price >= p.StopLoss {
			return ExitStopLoss, true
		}
		if p.TakeProfit > 0 && price <= p.TakeProfit {
			return ExitTakeProfit, true
		}
	}
	return "", false
}

// UnrealizedPnL is the mark-to-market profit of the position at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	return p.Side.Sign() * (price - p.EntryPrice) / p.EntryPrice * p.Size
}

func (p Position) MarshalJSON() ([]byte, error) {
	type alias Position
	return json.Marshal(struct {
		alias
		OpenedAt  int64 `json:"opened_at"`
		UpdatedAt int64 `json:"updated_at"`
	}{alias(p), toMillis(p.OpenedAt), toMillis(p.UpdatedAt)})
}

func (p *Position) UnmarshalJSON(b []byte) error {
	type alias Position
	aux := struct {
		*alias
		OpenedAt  int64 `json:"opened_at"`
		UpdatedAt int64 `json:"updated_at"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.OpenedAt = fromMillis(aux.OpenedAt)
	p.UpdatedAt = fromMillis(aux.UpdatedAt)
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
