package pipeline

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a parsed standard cron expression (minute hour day-of-month
// month day-of-week) or descriptor such as "@daily".
type Schedule struct {
	spec cron.Schedule
}

// ParseSchedule parses expr with the standard five-field cron syntax.
func ParseSchedule(expr string) (Schedule, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	return Schedule{spec: spec}, nil
}

// Next returns the first activation strictly after t. ok is false when the
// expression never fires.
func (s Schedule) Next(t time.Time) (time.Time, bool) {
	next := s.spec.Next(t)
	return next, !next.IsZero()
}
