// Package risk validates trade candidates against the configured limits.
package risk

import (
	"math"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// Gate runs every limit check against a candidate. It holds no state and never
// mutates its inputs.
type Gate struct{}

// NewGate returns a Gate.
func NewGate() *Gate { return &Gate{} }

// Evaluate runs all checks in a fixed order without short-circuiting so the
// violation list is complete. A zero-size candidate passes the size, leverage
// and volume checks trivially.
//
// Checks performed:
//  1. Position size
//  2. Leverage
//  3. Projected daily volume
//  4. Current drawdown
//  5. Post-trade venue concentration
//  6. Correlation against the open book
func (g *Gate) Evaluate(c domain.Candidate, limits domain.RiskLimits, account domain.AccountSnapshot) domain.RiskAssessment {
	violations := make([]domain.Violation, 0, 6)
	check := func(limit string, observed, threshold float64) {
		if observed > threshold {
			violations = append(violations, domain.Violation{
				Limit:     limit,
				Observed:  observed,
				Threshold: threshold,
			})
		}
	}

	size := math.Abs(c.Size)
	var leverage, volume float64
	if size > 0 {
		leverage = c.Leverage
		volume = account.DailyVolume + size
	}

	check(domain.LimitPositionSize, size, limits.MaxPositionSize)
	check(domain.LimitLeverage, leverage, limits.MaxLeverage)
	if size > 0 {
		check(domain.LimitDailyVolume, volume, limits.MaxDailyVolume)
	}
	check(domain.LimitDrawdown, account.Drawdown(), limits.MaxDrawdown)
	check(domain.LimitVenueConcentration, concentration(c, size, limits, account), limits.MaxVenueConcentration)
	check(domain.LimitCorrelation, correlation(c, account), limits.MaxCorrelation)

	return domain.RiskAssessment{
		Approved:   len(violations) == 0,
		Violations: violations,
	}
}

// concentration is the share of the account's levered capacity that would sit
// on the candidate's venue after the trade.
func concentration(c domain.Candidate, size float64, limits domain.RiskLimits, account domain.AccountSnapshot) float64 {
	projected := account.VenueExposure(c.Venue) + size
	if projected <= 0 {
		return 0
	}
	capacity := account.Equity * limits.MaxLeverage
	if capacity <= 0 {
		return 1
	}
	return projected / capacity
}

// correlation is the strongest same-way correlation between the candidate and
// a position on another asset. Opposite-side positions hedge and do not count.
func correlation(c domain.Candidate, account domain.AccountSnapshot) float64 {
	side, ok := c.Direction.Side()
	if !ok {
		return 0
	}
	var worst float64
	for _, p := range account.Positions {
		if p.Asset == c.Asset || p.Notional == 0 {
			continue
		}
		v := account.Correlations.Get(c.Asset, p.Asset) * side.Sign() * p.Side.Sign()
		if v > worst {
			worst = v
		}
	}
	return worst
}

// Summarize reduces an account snapshot to the utilization figures the scorer
// consumes.
func Summarize(account domain.AccountSnapshot, limits domain.RiskLimits) domain.RiskSummary {
	return domain.RiskSummary{
		CurrentDrawdown: account.Drawdown(),
		MaxDrawdown:     limits.MaxDrawdown,
		CurrentLeverage: account.Leverage(),
		MaxLeverage:     limits.MaxLeverage,
		CurrentExposure: account.GrossExposure(),
		MaxExposure:     limits.MaxGrossExposure,
	}
}
