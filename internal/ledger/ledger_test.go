package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) ExecuteOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.OrderAck), args.Error(1)
}

func (m *MockExecutor) CloseOrder(ctx context.Context, asset string) (float64, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(float64), args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const tick = time.Minute

func newTestLedger(exec domain.OrderExecutor) (*Ledger, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(exec, DefaultConfig(tick), logger, WithClock(clk.Now)), clk
}

func intent(action domain.Action, dir domain.Direction, confidence, price float64) Intent {
	return Intent{
		Asset:       "BTC",
		Action:      action,
		Opportunity: domain.Opportunity{Asset: "BTC", Direction: dir, Confidence: confidence},
		Price:       price,
		Size:        300,
		Leverage:    3,
	}
}

func openLong(t *testing.T, l *Ledger, exec *MockExecutor, confidence float64) {
	t.Helper()
	exec.On("ExecuteOrder", mock.Anything, domain.OrderRequest{Asset: "BTC", Side: domain.SideLong, Size: 300, Leverage: 3, Price: 100}).
		Return(domain.OrderAck{OrderID: "ord-1", FillPrice: 100}, nil).Once()
	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, confidence, 100))
	require.NoError(t, tr.Err)
	require.Equal(t, domain.OutcomeOpened, tr.Outcome)
}

func TestApply_OpensOnExecute(t *testing.T) {
	exec := new(MockExecutor)
	l, clk := newTestLedger(exec)
	openLong(t, l, exec, 0.75)

	pos, ok := l.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.InDelta(t, 98, pos.StopLoss, 1e-9)
	assert.InDelta(t, 103, pos.TakeProfit, 1e-9)
	assert.Equal(t, 0.75, pos.EntryConfidence)
	assert.Equal(t, "ord-1", pos.OrderID)
	assert.Equal(t, clk.Now().Add(3*tick), pos.ExitPlan.CooldownUntil)
	assert.NotEmpty(t, pos.ExitPlan.Invalidation)
	exec.AssertExpectations(t)
}

func TestApply_ShortExitLevelsMirror(t *testing.T) {
	exec := new(MockExecutor)
	l, _ := newTestLedger(exec)
	exec.On("ExecuteOrder", mock.Anything, mock.Anything).Return(domain.OrderAck{OrderID: "s-1"}, nil).Once()

	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBearish, 0.8, 200))
	require.Equal(t, domain.OutcomeOpened, tr.Outcome)
	require.NotNil(t, tr.Position)
	assert.Equal(t, 200.0, tr.Position.EntryPrice)
	assert.InDelta(t, 204, tr.Position.StopLoss, 1e-9)
	assert.InDelta(t, 194, tr.Position.TakeProfit, 1e-9)
}

func TestApply_NonExecuteLeavesFlat(t *testing.T) {
	exec := new(MockExecutor)
	l, _ := newTestLedger(exec)

	for _, a := range []domain.Action{domain.ActionMonitor, domain.ActionSkip} {
		tr := l.Apply(context.Background(), intent(a, domain.DirectionBullish, 0.6, 100))
		assert.Equal(t, domain.PositionFlat, tr.After)
		assert.Nil(t, tr.Position)
	}
	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionNeutral, 0.9, 100))
	assert.Equal(t, domain.PositionFlat, tr.After)
	exec.AssertNotCalled(t, "ExecuteOrder", mock.Anything, mock.Anything)
}

func TestApply_SinglePositionPerAsset(t *testing.T) {
	exec := new(MockExecutor)
	l, clk := newTestLedger(exec)
	openLong(t, l, exec, 0.75)

	for i := 0; i < 5; i++ {
		clk.Advance(tick)
		tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.95, 100.5))
		assert.Equal(t, domain.OutcomeHeld, tr.Outcome)
	}
	assert.Len(t, l.Snapshot(), 1)
	exec.AssertNumberOfCalls(t, "ExecuteOrder", 1)
}

func TestApply_CooldownBlocksReversal(t *testing.T) {
	exec := new(MockExecutor)
	l, clk := newTestLedger(exec)
	openLong(t, l, exec, 0.75)

	for _, conf := range []float64{0.76, 1.0} {
		clk.Advance(tick)
		tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBearish, conf, 100))
		assert.Equal(t, domain.OutcomeCooldownActive, tr.Outcome)
		assert.Equal(t, domain.PositionCoolingDown, tr.After)
		assert.NotEqual(t, domain.PositionClosing, tr.After)
	}
	exec.AssertNotCalled(t, "CloseOrder", mock.Anything, mock.Anything)
}

func TestApply_ReversalAfterCooldownWithHysteresis(t *testing.T) {
	exec := new(MockExecutor)
	l, clk := newTestLedger(exec)
	openLong(t, l, exec, 0.75)

	clk.Advance(4 * tick)
	assert.Equal(t, domain.PositionOpen, l.State("BTC"))

	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBearish, 0.75, 100))
	assert.Equal(t, domain.OutcomeHysteresisNotMet, tr.Outcome)
	tr = l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBearish, 0.89, 100))
	assert.Equal(t, domain.OutcomeHysteresisNotMet, tr.Outcome)
	assert.Equal(t, domain.PositionOpen, tr.After)

	exec.On("CloseOrder", mock.Anything, "BTC").Return(100.2, nil).Once()
	tr = l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBearish, 0.91, 100))
	require.NoError(t, tr.Err)
	assert.Equal(t, domain.OutcomeClosed, tr.Outcome)
	assert.Equal(t, domain.ExitReversal, tr.ExitReason)
	assert.Equal(t, domain.PositionFlat, tr.After)
	require.NotNil(t, tr.Closed)
	assert.Equal(t, 100.2, tr.ClosePrice)

	_, ok := l.Get("BTC")
	assert.False(t, ok)
	exec.AssertExpectations(t)
}

func TestApply_HysteresisExactMarginReverses(t *testing.T) {
	exec := new(MockExecutor)
	l, clk := newTestLedger(exec)
	openLong(t, l, exec, 0.75)
	clk.Advance(3 * tick)

	exec.On("CloseOrder", mock.Anything, "BTC").Return(100.0, nil).Once()
	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBearish, 0.75+0.15, 100))
	assert.Equal(t, domain.OutcomeClosed, tr.Outcome)
}

func TestApply_InvalidationBypassesCooldown(t *testing.T) {
	exec := new(MockExecutor)
	l, clk := newTestLedger(exec)
	openLong(t, l, exec, 0.75)

	clk.Advance(tick)
	exec.On("CloseOrder", mock.Anything, "BTC").Return(97.9, nil).Once()
	tr := l.Apply(context.Background(), intent(domain.ActionMonitor, domain.DirectionBullish, 0.6, 97.9))
	require.NoError(t, tr.Err)
	assert.Equal(t, domain.PositionCoolingDown, tr.Before)
	assert.Equal(t, domain.OutcomeClosed, tr.Outcome)
	assert.Equal(t, domain.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, domain.PositionFlat, tr.After)
}

func TestApply_OpenFailureRetriesWithCurrentIntent(t *testing.T) {
	exec := new(MockExecutor)
	l, _ := newTestLedger(exec)

	exec.On("ExecuteOrder", mock.Anything, mock.Anything).Return(domain.OrderAck{}, errors.New("venue down")).Once()
	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))
	require.Error(t, tr.Err)
	assert.True(t, errors.Is(tr.Err, domain.ErrExecution))
	assert.Equal(t, domain.OutcomeOpenFailed, tr.Outcome)
	assert.Equal(t, domain.PositionOpening, tr.After)

	next := intent(domain.ActionExecute, domain.DirectionBullish, 0.85, 101)
	next.Size = 200
	exec.On("ExecuteOrder", mock.Anything, domain.OrderRequest{Asset: "BTC", Side: domain.SideLong, Size: 200, Leverage: 3, Price: 101}).
		Return(domain.OrderAck{OrderID: "ord-2", FillPrice: 101}, nil).Once()
	tr = l.Apply(context.Background(), next)
	require.NoError(t, tr.Err)
	assert.Equal(t, domain.OutcomeOpened, tr.Outcome)
	assert.Equal(t, domain.PositionOpening, tr.Before)
	assert.Equal(t, 0.85, tr.Position.EntryConfidence)
	exec.AssertExpectations(t)
}

func TestApply_PendingOpenCancelledWithoutExecute(t *testing.T) {
	exec := new(MockExecutor)
	l, _ := newTestLedger(exec)

	exec.On("ExecuteOrder", mock.Anything, mock.Anything).Return(domain.OrderAck{}, errors.New("venue down")).Once()
	l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))

	tr := l.Apply(context.Background(), intent(domain.ActionMonitor, domain.DirectionBullish, 0.6, 100))
	require.NoError(t, tr.Err)
	assert.Equal(t, domain.OutcomeOpenCancelled, tr.Outcome)
	assert.Equal(t, domain.PositionOpening, tr.Before)
	assert.Equal(t, domain.PositionFlat, tr.After)
	assert.Nil(t, tr.Position)

	// The stale bullish intent must not fire on a later tick.
	tr = l.Apply(context.Background(), intent(domain.ActionSkip, domain.DirectionNeutral, 0.1, 100))
	assert.Equal(t, domain.OutcomeNone, tr.Outcome)
	exec.AssertNumberOfCalls(t, "ExecuteOrder", 1)
}

func TestApply_PendingOpenFollowsFlippedSignal(t *testing.T) {
	exec := new(MockExecutor)
	l, _ := newTestLedger(exec)

	exec.On("ExecuteOrder", mock.Anything, mock.MatchedBy(func(r domain.OrderRequest) bool { return r.Side == domain.SideLong })).
		Return(domain.OrderAck{}, errors.New("venue down")).Once()
	l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))

	exec.On("ExecuteOrder", mock.Anything, domain.OrderRequest{Asset: "BTC", Side: domain.SideShort, Size: 300, Leverage: 3, Price: 99}).
		Return(domain.OrderAck{OrderID: "ord-s", FillPrice: 99}, nil).Once()
	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBearish, 0.75, 99))
	require.NoError(t, tr.Err)
	assert.Equal(t, domain.OutcomeOpened, tr.Outcome)
	assert.Equal(t, domain.PositionOpening, tr.Before)
	assert.Equal(t, domain.PositionOpen, tr.After)
	assert.Equal(t, domain.SideShort, tr.Position.Side)
	assert.Equal(t, 0.75, tr.Position.EntryConfidence)
	exec.AssertExpectations(t)
}

func TestCancelPending(t *testing.T) {
	exec := new(MockExecutor)
	l, _ := newTestLedger(exec)

	_, ok := l.CancelPending("BTC")
	assert.False(t, ok)

	exec.On("ExecuteOrder", mock.Anything, mock.Anything).Return(domain.OrderAck{}, errors.New("rejected")).Times(3)
	for i := 0; i < 3; i++ {
		l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))
	}
	require.True(t, l.Halted("BTC"))

	tr, ok := l.CancelPending("BTC")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeOpenCancelled, tr.Outcome)
	assert.Equal(t, domain.PositionFlat, tr.After)
	assert.Equal(t, domain.PositionFlat, l.State("BTC"))
	assert.True(t, l.Halted("BTC"), "cancelling does not clear the halt")

	_, ok = l.CancelPending("BTC")
	assert.False(t, ok)
}

func TestApply_HaltsAfterConsecutiveFailures(t *testing.T) {
	exec := new(MockExecutor)
	l, _ := newTestLedger(exec)
	exec.On("ExecuteOrder", mock.Anything, mock.Anything).Return(domain.OrderAck{}, errors.New("rejected")).Times(3)

	var last Transition
	for i := 0; i < 3; i++ {
		last = l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))
	}
	assert.True(t, last.Halted)
	assert.True(t, l.Halted("BTC"))
	assert.Equal(t, []string{"BTC"}, l.HaltedAssets())

	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))
	assert.Equal(t, domain.OutcomeHalted, tr.Outcome)
	assert.True(t, errors.Is(tr.Err, domain.ErrAssetHalted))
	assert.Equal(t, domain.PositionOpening, tr.After)
	exec.AssertNumberOfCalls(t, "ExecuteOrder", 3)

	assert.True(t, l.ClearHalt("BTC"))
	assert.False(t, l.ClearHalt("BTC"))
	exec.On("ExecuteOrder", mock.Anything, mock.Anything).Return(domain.OrderAck{OrderID: "ok"}, nil).Once()
	tr = l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))
	assert.Equal(t, domain.OutcomeOpened, tr.Outcome)
}

func TestApply_CloseFailureRetriesEveryTick(t *testing.T) {
	exec := new(MockExecutor)
	l, clk := newTestLedger(exec)
	openLong(t, l, exec, 0.75)

	clk.Advance(tick)
	exec.On("CloseOrder", mock.Anything, "BTC").Return(0.0, errors.New("timeout")).Once()
	tr := l.Apply(context.Background(), intent(domain.ActionSkip, domain.DirectionNeutral, 0.1, 110))
	assert.Equal(t, domain.OutcomeCloseFailed, tr.Outcome)
	assert.Equal(t, domain.PositionClosing, tr.After)
	assert.Equal(t, domain.ExitTakeProfit, tr.ExitReason)

	clk.Advance(tick)
	exec.On("CloseOrder", mock.Anything, "BTC").Return(109.5, nil).Once()
	tr = l.Apply(context.Background(), intent(domain.ActionSkip, domain.DirectionNeutral, 0.1, 0))
	assert.Equal(t, domain.PositionClosing, tr.Before)
	assert.Equal(t, domain.OutcomeClosed, tr.Outcome)
	assert.Equal(t, domain.ExitTakeProfit, tr.ExitReason)
	assert.Equal(t, domain.PositionFlat, tr.After)
	exec.AssertExpectations(t)
}

func TestApply_ConcurrentApplyIsRejected(t *testing.T) {
	exec := new(MockExecutor)
	l, _ := newTestLedger(exec)

	started := make(chan struct{})
	release := make(chan struct{})
	exec.On("ExecuteOrder", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(domain.OrderAck{OrderID: "slow"}, nil).Once()

	done := make(chan Transition)
	go func() {
		done <- l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))
	}()
	<-started

	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))
	assert.Equal(t, domain.OutcomeInflightRejected, tr.Outcome)
	assert.Equal(t, domain.PositionOpening, tr.After)

	close(release)
	first := <-done
	assert.Equal(t, domain.OutcomeOpened, first.Outcome)
	exec.AssertNumberOfCalls(t, "ExecuteOrder", 1)
}

func TestApply_CallTimeoutIsExecutionFailure(t *testing.T) {
	exec := new(MockExecutor)
	clk := &fakeClock{now: time.Now()}
	cfg := DefaultConfig(tick)
	cfg.CallTimeout = 10 * time.Millisecond
	l := New(exec, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clk.Now))

	exec.On("ExecuteOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(domain.OrderAck{}, context.DeadlineExceeded).Once()

	tr := l.Apply(context.Background(), intent(domain.ActionExecute, domain.DirectionBullish, 0.8, 100))
	assert.True(t, errors.Is(tr.Err, context.DeadlineExceeded))
	assert.Equal(t, domain.PositionOpening, tr.After)
}

func TestRestore(t *testing.T) {
	exec := new(MockExecutor)
	l, clk := newTestLedger(exec)
	l.Restore([]domain.Position{
		{Asset: "ETH", Side: domain.SideShort, Size: 100, EntryPrice: 3000, StopLoss: 3060, TakeProfit: 2910,
			State: domain.PositionOpen, ExitPlan: domain.ExitPlan{CooldownUntil: clk.Now().Add(-time.Minute)}},
		{Asset: "SOL", State: domain.PositionFlat},
	})

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "ETH", snap[0].Asset)
	assert.Equal(t, domain.PositionOpen, snap[0].State)
	assert.Equal(t, domain.PositionFlat, l.State("SOL"))
}
