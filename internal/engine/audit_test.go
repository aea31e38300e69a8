package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

func TestAuditLog_WrapsAndReturnsNewestFirst(t *testing.T) {
	a := newAuditLog(3)
	for i := 1; i <= 5; i++ {
		a.append(domain.Decision{Tick: uint64(i)})
	}
	got := a.recent(10)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{5, 4, 3}, []uint64{got[0].Tick, got[1].Tick, got[2].Tick})
	assert.Len(t, a.recent(2), 2)
	assert.Equal(t, uint64(5), a.count())
	assert.Empty(t, newAuditLog(4).recent(5))
}

func TestAuditLog_RecentReturnsCopies(t *testing.T) {
	a := newAuditLog(2)
	a.append(domain.Decision{RiskAssessment: domain.RiskAssessment{Violations: []domain.Violation{{Limit: "x"}}}})
	got := a.recent(1)
	got[0].RiskAssessment.Violations[0].Limit = "mutated"
	assert.Equal(t, "x", a.recent(1)[0].RiskAssessment.Violations[0].Limit)
}

func TestAssetGuard_SerializesPerAsset(t *testing.T) {
	g := newAssetGuard()
	release, err := g.acquire(context.Background(), "BTC")
	require.NoError(t, err)

	// A different asset is not blocked.
	other, err := g.acquire(context.Background(), "ETH")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.acquire(ctx, "BTC")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	again, err := g.acquire(context.Background(), "BTC")
	require.NoError(t, err)
	again()
}
