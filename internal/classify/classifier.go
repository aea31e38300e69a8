// Package classify maps a scored opportunity and its risk assessment to an
// action.
package classify

import (
	"fmt"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// Default threshold bands.
const (
	DefaultExecuteThreshold = 0.7
	DefaultMonitorThreshold = 0.5
)

// boundaryEpsilon absorbs rounding in the weighted confidence sum so a score
// that is exactly on a threshold lands in the upper band.
const boundaryEpsilon = 1e-9

// Classifier applies fixed threshold bands. It keeps no state between calls.
type Classifier struct {
	execute float64
	monitor float64
}

// NewClassifier validates the thresholds. Both must lie in [0,1] and monitor
// must not exceed execute.
func NewClassifier(execute, monitor float64) (*Classifier, error) {
	if execute < 0 || execute > 1 || monitor < 0 || monitor > 1 || execute != execute || monitor != monitor {
		return nil, fmt.Errorf("classify: thresholds must be in [0,1], got execute=%v monitor=%v: %w",
			execute, monitor, domain.ErrInvalidConfig)
	}
	if monitor > execute {
		return nil, fmt.Errorf("classify: monitor threshold %v exceeds execute threshold %v: %w",
			monitor, execute, domain.ErrInvalidConfig)
	}
	return &Classifier{execute: execute, monitor: monitor}, nil
}

// Default returns a classifier using the default bands.
func Default() *Classifier {
	return &Classifier{execute: DefaultExecuteThreshold, monitor: DefaultMonitorThreshold}
}

// Classify returns Skip whenever risk vetoes, otherwise the band the
// confidence falls in. Both lower bounds are inclusive.
func (c *Classifier) Classify(opp domain.Opportunity, risk domain.RiskAssessment) domain.Action {
	switch {
	case !risk.Approved:
		return domain.ActionSkip
	case opp.Confidence >= c.execute-boundaryEpsilon:
		return domain.ActionExecute
	case opp.Confidence >= c.monitor-boundaryEpsilon:
		return domain.ActionMonitor
	default:
		return domain.ActionSkip
	}
}

// Thresholds returns the execute and monitor bounds.
func (c *Classifier) Thresholds() (execute, monitor float64) {
	return c.execute, c.monitor
}
