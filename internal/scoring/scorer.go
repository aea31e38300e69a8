// Package scoring combines technical, research and account-risk signals into
// a single weighted opportunity.
package scoring

import "github.com/alanyoungcy/tradegate/internal/domain"

// Confidence weights. They sum to 1 so confidence stays in [0,1].
const (
	TechnicalWeight = 0.4
	ResearchWeight  = 0.4
	RiskWeight      = 0.2
)

// Scorer is stateless; the zero value is ready to use.
type Scorer struct{}

// NewScorer returns a Scorer.
func NewScorer() *Scorer { return &Scorer{} }

// Score computes the opportunity for one bundle. It never trusts the caller to
// have clamped strengths.
func (s *Scorer) Score(bundle domain.SignalBundle, summary domain.RiskSummary) domain.Opportunity {
	tech := bundle.Technical.Clamped()
	research := bundle.Research.Clamped()
	risk := RiskScore(summary)

	return domain.Opportunity{
		Asset:          bundle.Asset,
		Direction:      direction(tech, research),
		Confidence:     TechnicalWeight*tech.Strength + ResearchWeight*research.Strength + RiskWeight*risk,
		TechnicalScore: tech.Strength,
		ResearchScore:  research.Strength,
		RiskScore:      risk,
	}
}

// RiskScore is one minus the highest utilization of drawdown, leverage and
// exposure against their limits.
func RiskScore(summary domain.RiskSummary) float64 {
	u := max(
		utilization(summary.CurrentDrawdown, summary.MaxDrawdown),
		utilization(summary.CurrentLeverage, summary.MaxLeverage),
		utilization(summary.CurrentExposure, summary.MaxExposure),
	)
	return 1 - u
}

// utilization is current/limit clamped to [0,1]. A missing limit counts as
// fully used once anything is consumed.
func utilization(current, limit float64) float64 {
	if limit <= 0 {
		if current > 0 {
			return 1
		}
		return 0
	}
	return domain.Clamp01(current / limit)
}

// direction follows the stronger source. Equal strengths pointing different
// ways cancel out.
func direction(tech, research domain.SignalScore) domain.Direction {
	switch {
	case tech.Strength > research.Strength:
		return tech.Direction
	case research.Strength > tech.Strength:
		return research.Direction
	case tech.Direction == research.Direction:
		return tech.Direction
	default:
		return domain.DirectionNeutral
	}
}
