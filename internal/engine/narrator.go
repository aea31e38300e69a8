package engine

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// RuleNarrator renders a deterministic one-line summary of a decision.
type RuleNarrator struct{}

func (RuleNarrator) Narrate(d domain.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: confidence %.2f (tech %.2f, research %.2f, risk %.2f)",
		d.Asset, d.Opportunity.Direction, d.Opportunity.Confidence,
		d.Opportunity.TechnicalScore, d.Opportunity.ResearchScore, d.Opportunity.RiskScore)

	if !d.RiskAssessment.Approved && len(d.RiskAssessment.Violations) > 0 {
		fmt.Fprintf(&b, "; vetoed by %s", strings.Join(d.RiskAssessment.Reasons(), ", "))
	}
	fmt.Fprintf(&b, "; %s -> %s", d.Action, d.Outcome)
	if d.PositionStateBefore != d.PositionStateAfter {
		fmt.Fprintf(&b, " (%s to %s)", d.PositionStateBefore, d.PositionStateAfter)
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "; error: %s", d.Error)
	}
	return b.String()
}
