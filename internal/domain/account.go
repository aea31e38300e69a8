package domain

import (
	"math"
	"time"
)

// Side is the side of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Direction returns the directional bias the side expresses.
func (s Side) Direction() Direction {
	if s == SideShort {
		return DirectionBearish
	}
	return DirectionBullish
}

// Exposure is one open position as seen by the account.
type Exposure struct {
	Asset    string  `json:"asset"`
	Venue    string  `json:"venue"`
	Side     Side    `json:"side"`
	Notional float64 `json:"notional"`
	Leverage float64 `json:"leverage"`
}

// CorrelationMatrix holds pairwise return correlations keyed by asset.
type CorrelationMatrix map[string]map[string]float64

// Get looks the pair up in either order. An asset is perfectly correlated with
// itself; unknown pairs are treated as uncorrelated.
func (m CorrelationMatrix) Get(a, b string) float64 {
	if a == b {
		return 1
	}
	if row, ok := m[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	if row, ok := m[b]; ok {
		if v, ok := row[a]; ok {
			return v
		}
	}
	return 0
}

// AccountSnapshot is a read-only view of the trading account taken at TakenAt.
type AccountSnapshot struct {
	Balance      float64           `json:"balance"`
	Equity       float64           `json:"equity"`
	PeakEquity   float64           `json:"peak_equity"`
	UsedMargin   float64           `json:"used_margin"`
	DailyVolume  float64           `json:"daily_volume"`
	Positions    []Exposure        `json:"positions"`
	Correlations CorrelationMatrix `json:"correlations,omitempty"`
	TakenAt      time.Time         `json:"taken_at"`
}

// Drawdown is the fractional decline of equity from its peak.
func (a AccountSnapshot) Drawdown() float64 {
	if a.PeakEquity <= 0 || a.Equity >= a.PeakEquity {
		return 0
	}
	return (a.PeakEquity - a.Equity) / a.PeakEquity
}

// GrossExposure sums the notional of all open positions.
func (a AccountSnapshot) GrossExposure() float64 {
	var total float64
	for _, p := range a.Positions {
		total += math.Abs(p.Notional)
	}
	return total
}

// Leverage is gross exposure over equity. With no equity and open exposure the
// account is treated as infinitely levered.
func (a AccountSnapshot) Leverage() float64 {
	gross := a.GrossExposure()
	if a.Equity <= 0 {
		if gross > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return gross / a.Equity
}

// VenueExposure sums the notional held on one venue.
func (a AccountSnapshot) VenueExposure(venue string) float64 {
	var total float64
	for _, p := range a.Positions {
		if p.Venue == venue {
			total += math.Abs(p.Notional)
		}
	}
	return total
}
