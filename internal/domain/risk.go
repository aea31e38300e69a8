package domain

import (
	"fmt"
	"math"
)

// Limit names as they appear in violations.
const (
	LimitPositionSize       = "max_position_size"
	LimitLeverage           = "max_leverage"
	LimitDailyVolume        = "max_daily_volume"
	LimitDrawdown           = "max_drawdown"
	LimitVenueConcentration = "max_venue_concentration"
	LimitCorrelation        = "max_correlation"
)

// RiskLimits is the process-wide limit set. It is replaced as a whole, never
// edited field by field.
type RiskLimits struct {
	MaxPositionSize       float64 `json:"max_position_size" toml:"max_position_size"`
	MaxLeverage           float64 `json:"max_leverage" toml:"max_leverage"`
	MaxDailyVolume        float64 `json:"max_daily_volume" toml:"max_daily_volume"`
	MaxDrawdown           float64 `json:"max_drawdown" toml:"max_drawdown"`
	MaxVenueConcentration float64 `json:"max_venue_concentration" toml:"max_venue_concentration"`
	MaxCorrelation        float64 `json:"max_correlation" toml:"max_correlation"`
	// MaxGrossExposure bounds total open notional and normalizes exposure
	// utilization when scoring.
	MaxGrossExposure float64 `json:"max_gross_exposure" toml:"max_gross_exposure"`
}

// Validate rejects limit sets that cannot be enforced. The returned error is
// a *ConfigError listing every problem.
func (l RiskLimits) Validate() error {
	var problems []string
	positive := func(name string, v float64) {
		if math.IsNaN(v) || v <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be > 0, got %v", name, v))
		}
	}
	fraction := func(name string, v float64) {
		if math.IsNaN(v) || v <= 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be in (0, 1], got %v", name, v))
		}
	}

	positive(LimitPositionSize, l.MaxPositionSize)
	positive(LimitLeverage, l.MaxLeverage)
	positive(LimitDailyVolume, l.MaxDailyVolume)
	fraction(LimitDrawdown, l.MaxDrawdown)
	fraction(LimitVenueConcentration, l.MaxVenueConcentration)
	fraction(LimitCorrelation, l.MaxCorrelation)
	positive("max_gross_exposure", l.MaxGrossExposure)

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// RiskSummary is the account utilization picture consumed by the scorer.
type RiskSummary struct {
	CurrentDrawdown float64
	MaxDrawdown     float64
	CurrentLeverage float64
	MaxLeverage     float64
	CurrentExposure float64
	MaxExposure     float64
}

// Candidate is a prospective trade submitted to the risk gate. Size is
// quote-currency notional; zero means a speculative, monitor-only evaluation.
type Candidate struct {
	Asset     string
	Venue     string
	Direction Direction
	Size      float64
	Leverage  float64
}

// Violation is one failed limit check.
type Violation struct {
	Limit     string  `json:"limit"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: observed %.4f exceeds %.4f", v.Limit, v.Observed, v.Threshold)
}

// RiskAssessment is the outcome of one gate evaluation. Violations keep the
// order in which checks ran.
type RiskAssessment struct {
	Approved   bool        `json:"approved"`
	Violations []Violation `json:"violations"`
}

// Reasons renders the violations as human-readable strings.
func (r RiskAssessment) Reasons() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.String())
	}
	return out
}
