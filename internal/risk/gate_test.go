package risk

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:       1000,
		MaxLeverage:           5,
		MaxDailyVolume:        5000,
		MaxDrawdown:           0.2,
		MaxVenueConcentration: 0.5,
		MaxCorrelation:        0.7,
		MaxGrossExposure:      5000,
	}
}

func healthyAccount() domain.AccountSnapshot {
	return domain.AccountSnapshot{Balance: 1000, Equity: 1000, PeakEquity: 1000}
}

func limitNames(a domain.RiskAssessment) []string {
	out := make([]string, 0, len(a.Violations))
	for _, v := range a.Violations {
		out = append(out, v.Limit)
	}
	return out
}

func TestEvaluate_Approves(t *testing.T) {
	a := NewGate().Evaluate(domain.Candidate{Asset: "BTC", Venue: "paper", Direction: domain.DirectionBullish, Size: 500, Leverage: 3},
		testLimits(), healthyAccount())
	assert.True(t, a.Approved)
	assert.Empty(t, a.Violations)
}

func TestEvaluate_RunsEveryCheckInOrder(t *testing.T) {
	account := domain.AccountSnapshot{
		Equity:       700,
		PeakEquity:   1000,
		DailyVolume:  4800,
		Positions:    []domain.Exposure{{Asset: "ETH", Venue: "paper", Side: domain.SideLong, Notional: 1500, Leverage: 3}},
		Correlations: domain.CorrelationMatrix{"BTC": {"ETH": 0.9}},
	}
	a := NewGate().Evaluate(domain.Candidate{Asset: "BTC", Venue: "paper", Direction: domain.DirectionBullish, Size: 1200, Leverage: 8},
		testLimits(), account)

	assert.False(t, a.Approved)
	assert.Equal(t, []string{
		domain.LimitPositionSize,
		domain.LimitLeverage,
		domain.LimitDailyVolume,
		domain.LimitDrawdown,
		domain.LimitVenueConcentration,
		domain.LimitCorrelation,
	}, limitNames(a))
	assert.InDelta(t, 6000, a.Violations[2].Observed, 1e-9)
	assert.InDelta(t, 0.3, a.Violations[3].Observed, 1e-9)
	assert.InDelta(t, 2700.0/3500.0, a.Violations[4].Observed, 1e-9)
	assert.Len(t, a.Reasons(), 6)
}

func TestEvaluate_DrawdownVeto(t *testing.T) {
	account := domain.AccountSnapshot{Equity: 750, PeakEquity: 1000}
	a := NewGate().Evaluate(domain.Candidate{Asset: "BTC", Venue: "paper", Direction: domain.DirectionBullish, Size: 100, Leverage: 1},
		testLimits(), account)
	assert.False(t, a.Approved)
	assert.Equal(t, []string{domain.LimitDrawdown}, limitNames(a))
}

func TestEvaluate_ZeroSizeSkipsSizeChecks(t *testing.T) {
	account := healthyAccount()
	account.DailyVolume = 99999
	a := NewGate().Evaluate(domain.Candidate{Asset: "BTC", Venue: "paper", Direction: domain.DirectionBullish, Leverage: 50},
		testLimits(), account)
	assert.True(t, a.Approved)
}

func TestEvaluate_OppositeSideHedgesCorrelation(t *testing.T) {
	account := healthyAccount()
	account.Positions = []domain.Exposure{{Asset: "ETH", Venue: "other", Side: domain.SideShort, Notional: 100}}
	account.Correlations = domain.CorrelationMatrix{"ETH": {"BTC": 0.95}}

	a := NewGate().Evaluate(domain.Candidate{Asset: "BTC", Venue: "paper", Direction: domain.DirectionBullish, Size: 100, Leverage: 1},
		testLimits(), account)
	assert.True(t, a.Approved)

	a = NewGate().Evaluate(domain.Candidate{Asset: "BTC", Venue: "paper", Direction: domain.DirectionBearish, Size: 100, Leverage: 1},
		testLimits(), account)
	assert.Equal(t, []string{domain.LimitCorrelation}, limitNames(a))
}

func TestEvaluate_DoesNotMutateInputs(t *testing.T) {
	account := domain.AccountSnapshot{
		Equity:     1000,
		PeakEquity: 1000,
		Positions:  []domain.Exposure{{Asset: "ETH", Venue: "paper", Side: domain.SideLong, Notional: 100}},
	}
	limits := testLimits()
	before := account
	beforePositions := append([]domain.Exposure(nil), account.Positions...)

	NewGate().Evaluate(domain.Candidate{Asset: "BTC", Venue: "paper", Direction: domain.DirectionBullish, Size: 100, Leverage: 1}, limits, account)

	assert.Equal(t, testLimits(), limits)
	assert.Equal(t, before.Equity, account.Equity)
	assert.Equal(t, beforePositions, account.Positions)
}

func TestSummarize(t *testing.T) {
	account := domain.AccountSnapshot{
		Equity:     900,
		PeakEquity: 1000,
		Positions:  []domain.Exposure{{Asset: "ETH", Notional: 1800}},
	}
	s := Summarize(account, testLimits())
	assert.InDelta(t, 0.1, s.CurrentDrawdown, 1e-12)
	assert.InDelta(t, 2, s.CurrentLeverage, 1e-12)
	assert.InDelta(t, 1800, s.CurrentExposure, 1e-12)
	assert.Equal(t, 5000.0, s.MaxExposure)
}

func TestLimitsHolder_RejectsInvalidWhole(t *testing.T) {
	h, err := NewLimitsHolder(testLimits())
	require.NoError(t, err)

	bad := testLimits()
	bad.MaxPositionSize = 1
	bad.MaxDrawdown = -0.1
	err = h.Store(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
	assert.Equal(t, testLimits(), h.Load())

	_, err = NewLimitsHolder(domain.RiskLimits{})
	assert.Error(t, err)
}

func TestLimitsHolder_ConcurrentSwap(t *testing.T) {
	h, err := NewLimitsHolder(testLimits())
	require.NoError(t, err)

	a := testLimits()
	b := testLimits()
	b.MaxPositionSize, b.MaxLeverage = 2000, 10

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if (i+j)%2 == 0 {
					_ = h.Store(a)
				} else {
					_ = h.Store(b)
				}
			}
		}(i)
	}
	for i := 0; i < 2000; i++ {
		got := h.Load()
		// Fields from different sets never mix.
		assert.True(t, got == a || got == b)
	}
	wg.Wait()
}
