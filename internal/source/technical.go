package source

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// Indicator periods for the fallback technical score.
const (
	fastPeriod = 20
	slowPeriod = 50
	rsiPeriod  = 14

	// fullSpread is the fast/slow SMA separation that maps to full strength.
	fullSpread = 0.02
	// crossStrength is the floor applied on the bar where the averages cross.
	crossStrength = 0.9
	overbought    = 70.0
	oversold      = 30.0
)

// MinMarks is the shortest mark history TechnicalFromMarks can score.
const MinMarks = slowPeriod + 1

// TechnicalFromMarks derives a technical score from a mark series (oldest
// first) with a 20/50 SMA trend and a 14-period RSI. The fast average above
// the slow one is bullish; the separation sets the strength, a fresh cross
// raises it, and an overbought (oversold) RSI halves a bullish (bearish)
// reading. ok is false when there are fewer than MinMarks marks.
func TechnicalFromMarks(marks []float64) (domain.SignalScore, bool) {
	if len(marks) < MinMarks {
		return domain.NeutralSignal(domain.SourceTechnical), false
	}

	fast := talib.Sma(marks, fastPeriod)
	slow := talib.Sma(marks, slowPeriod)
	rsi := talib.Rsi(marks, rsiPeriod)

	n := len(marks) - 1
	f, s := fast[n], slow[n]
	if s <= 0 || math.IsNaN(f) || math.IsNaN(s) {
		return domain.NeutralSignal(domain.SourceTechnical), false
	}

	score := domain.SignalScore{Source: domain.SourceTechnical, Direction: domain.DirectionNeutral}
	spread := (f - s) / s
	switch {
	case spread > 0:
		score.Direction = domain.DirectionBullish
	case spread < 0:
		score.Direction = domain.DirectionBearish
	default:
		return score, true
	}
	score.Strength = math.Min(1, math.Abs(spread)/fullSpread)

	pf, ps := fast[n-1], slow[n-1]
	crossedUp := pf <= ps && f > s
	crossedDown := pf >= ps && f < s
	if crossedUp || crossedDown {
		score.Strength = math.Max(score.Strength, crossStrength)
	}

	r := rsi[n]
	if (score.Direction == domain.DirectionBullish && r >= overbought) ||
		(score.Direction == domain.DirectionBearish && r <= oversold) {
		score.Strength /= 2
	}
	return score.Clamped(), true
}
