package domain

import (
	"encoding/json"
	"time"
)

// Action is the classifier's verdict for an opportunity.
type Action string

const (
	ActionExecute Action = "execute"
	ActionMonitor Action = "monitor"
	ActionSkip    Action = "skip"
)

// Outcome records what the ledger did with an action.
type Outcome string

const (
	OutcomeNone             Outcome = "none"
	OutcomeOpened           Outcome = "opened"
	OutcomeOpenFailed       Outcome = "open_failed"
	OutcomeOpenCancelled    Outcome = "open_cancelled"
	OutcomeClosed           Outcome = "closed"
	OutcomeCloseFailed      Outcome = "close_failed"
	OutcomeHeld             Outcome = "held"
	OutcomeCooldownActive   Outcome = "cooldown_active"
	OutcomeHysteresisNotMet Outcome = "hysteresis_not_met"
	OutcomeInflightRejected Outcome = "inflight_rejected"
	OutcomeHalted           Outcome = "halted"
	OutcomeFetchFailed      Outcome = "fetch_failed"
	OutcomeBudgetExhausted  Outcome = "budget_exhausted"
)

// Decision is the immutable audit record for one asset on one tick.
type Decision struct {
	ID                  string         `json:"id"`
	Tick                uint64         `json:"tick"`
	Timestamp           time.Time      `json:"-"`
	Asset               string         `json:"asset"`
	Opportunity         Opportunity    `json:"opportunity"`
	RiskAssessment      RiskAssessment `json:"risk_assessment"`
	Action              Action         `json:"action"`
	PositionStateBefore PositionState  `json:"position_state_before"`
	PositionStateAfter  PositionState  `json:"position_state_after"`
	Outcome             Outcome        `json:"outcome"`
	Error               string         `json:"error,omitempty"`
	Narrative           string         `json:"narrative,omitempty"`
}

// Failed reports whether an error was attached to the decision.
func (d Decision) Failed() bool { return d.Error != "" }

func (d Decision) MarshalJSON() ([]byte, error) {
	type alias Decision
	return json.Marshal(struct {
		alias
		Timestamp int64 `json:"timestamp"`
	}{alias(d), toMillis(d.Timestamp)})
}

func (d *Decision) UnmarshalJSON(b []byte) error {
	type alias Decision
	aux := struct {
		*alias
		Timestamp int64 `json:"timestamp"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	d.Timestamp = fromMillis(aux.Timestamp)
	return nil
}

// EngineStatus is a summary of the engine's operational state.
type EngineStatus struct {
	Mode          string    `json:"mode"`
	Tick          uint64    `json:"tick"`
	Assets        []string  `json:"assets"`
	Halted        []string  `json:"halted"`
	OpenPositions int       `json:"open_positions"`
	LastTickAt    time.Time `json:"last_tick_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}
