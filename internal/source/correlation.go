package source

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// minReturns is the shortest overlapping return series worth correlating.
const minReturns = 10

// Correlate estimates pairwise Pearson correlations of simple returns from
// mark series (oldest first). Series are aligned on their most recent marks.
// Pairs with too little overlap or zero variance are left out, which the
// risk gate reads as uncorrelated.
func Correlate(series map[string][]float64) map[string]map[string]float64 {
	returns := make(map[string][]float64, len(series))
	for asset, marks := range series {
		if r := simpleReturns(marks); len(r) >= minReturns {
			returns[asset] = r
		}
	}

	out := make(map[string]map[string]float64)
	for a, ra := range returns {
		for b, rb := range returns {
			if a >= b {
				continue
			}
			n := min(len(ra), len(rb))
			if n < minReturns {
				continue
			}
			c, ok := pearson(ra[len(ra)-n:], rb[len(rb)-n:])
			if !ok {
				continue
			}
			if out[a] == nil {
				out[a] = make(map[string]float64)
			}
			out[a][b] = c
		}
	}
	return out
}

func simpleReturns(marks []float64) []float64 {
	if len(marks) < 2 {
		return nil
	}
	out := make([]float64, 0, len(marks)-1)
	for i := 1; i < len(marks); i++ {
		if marks[i-1] <= 0 {
			out = out[:0]
			continue
		}
		out = append(out, marks[i]/marks[i-1]-1)
	}
	return out
}

// pearson is ok only when both series vary; gonum yields NaN otherwise.
func pearson(x, y []float64) (float64, bool) {
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, c)), true
}
