package domain

import "time"

// Direction is the directional bias of a signal or opportunity.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionBullish, DirectionBearish, DirectionNeutral:
		return true
	}
	return false
}

// Side maps a directional bias to the position side that would express it.
// Neutral has no side.
func (d Direction) Side() (Side, bool) {
	switch d {
	case DirectionBullish:
		return SideLong, true
	case DirectionBearish:
		return SideShort, true
	}
	return "", false
}

// Signal source names.
const (
	SourceTechnical = "technical"
	SourceResearch  = "research"
)

// SignalScore is a normalized view of one signal source: a strength in [0,1]
// and a directional bias.
type SignalScore struct {
	Source    string    `json:"source"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
}

// NeutralSignal is the value used for a source that produced nothing.
func NeutralSignal(source string) SignalScore {
	return SignalScore{Source: source, Direction: DirectionNeutral}
}

// Clamped returns s with its strength forced into [0,1] and an unknown
// direction replaced by neutral.
func (s SignalScore) Clamped() SignalScore {
	s.Strength = Clamp01(s.Strength)
	if !s.Direction.Valid() {
		s.Direction = DirectionNeutral
	}
	return s
}

// SignalBundle is the per-asset, per-tick input to scoring. Price is the
// latest mark used for sizing and exit-plan checks; zero means unknown.
type SignalBundle struct {
	Asset     string      `json:"asset"`
	Technical SignalScore `json:"technical"`
	Research  SignalScore `json:"research"`
	Price     float64     `json:"price"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
