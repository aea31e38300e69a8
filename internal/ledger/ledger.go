// Package ledger owns the lifecycle of each asset's position: opening, exit
// plan, cooldown, and closing. It is the only writer of position state.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// hysteresisEpsilon absorbs float rounding when comparing confidence gains
// against the margin.
const hysteresisEpsilon = 1e-9

// Config holds the ledger's lifecycle parameters.
type Config struct {
	CooldownDuration       time.Duration
	HysteresisMargin       float64
	StopLossPct            float64
	TakeProfitPct          float64
	MaxConsecutiveFailures int
	CallTimeout            time.Duration
}

// DefaultConfig returns the standard parameters for a given tick interval:
// a three-tick cooldown, a 0.15 hysteresis margin, 2% stop-loss and 3%
// take-profit, halting after three consecutive execution failures.
func DefaultConfig(tickInterval time.Duration) Config {
	return Config{
		CooldownDuration:       3 * tickInterval,
		HysteresisMargin:       0.15,
		StopLossPct:            0.02,
		TakeProfitPct:          0.03,
		MaxConsecutiveFailures: 3,
		CallTimeout:            tickInterval,
	}
}

// Intent is what the engine asks the ledger to do with an asset this tick.
// Size and Leverage are used only when a new position is opened.
type Intent struct {
	Asset       string
	Action      domain.Action
	Opportunity domain.Opportunity
	Price       float64
	Size        float64
	Leverage    float64
}

// Transition describes the effect of one Apply call.
type Transition struct {
	Before  domain.PositionState
	After   domain.PositionState
	Outcome domain.Outcome
	// Position is the tracked position after the call; nil when flat.
	Position *domain.Position
	// Closed is the position removed by this call, if any.
	Closed     *domain.Position
	ExitReason string
	ClosePrice float64
	// Halted is set when this call pushed the asset into the halted state.
	Halted bool
	Err    error
}

type entry struct {
	// op serializes Apply for one asset; a busy op means a pipeline is in
	// flight.
	op sync.Mutex

	pos         *domain.Position
	closeReason string
	failures    int
	halted      bool
}

// Ledger tracks at most one position per asset.
type Ledger struct {
	exec   domain.OrderExecutor
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger that opens and closes positions through exec.
func New(exec domain.OrderExecutor, cfg Config, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		exec:    exec,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Apply performs the state transition for one intent. A concurrent Apply for
// the same asset is rejected rather than queued.
func (l *Ledger) Apply(ctx context.Context, in Intent) Transition {
	e := l.entry(in.Asset)
	if !e.op.TryLock() {
		state := l.State(in.Asset)
		return Transition{Before: state, After: state, Outcome: domain.OutcomeInflightRejected}
	}
	defer e.op.Unlock()

	now := l.now()
	l.mu.Lock()
	if e.pos != nil {
		e.pos.State = stateAt(*e.pos, now)
	}
	before := currentState(e)
	halted := e.halted
	l.mu.Unlock()

	if halted {
		return l.finish(e, Transition{
			Before:  before,
			Outcome: domain.OutcomeHalted,
			Err:     fmt.Errorf("ledger: %s: %w", in.Asset, domain.ErrAssetHalted),
		})
	}

	switch before {
	case domain.PositionFlat:
		return l.applyFlat(ctx, e, in, domain.PositionFlat, now)
	case domain.PositionOpening:
		return l.applyOpening(ctx, e, in, now)
	case domain.PositionOpen, domain.PositionCoolingDown:
		return l.applyOpen(ctx, e, in, before, now)
	case domain.PositionClosing:
		return l.close(ctx, e, in.Asset, before, e.closeReason)
	}
	return l.finish(e, Transition{Before: before, Outcome: domain.OutcomeNone})
}

func (l *Ledger) applyFlat(ctx context.Context, e *entry, in Intent, before domain.PositionState, now time.Time) Transition {
	side, ok := in.Opportunity.Direction.Side()
	if in.Action != domain.ActionExecute || !ok || in.Size <= 0 {
		return l.finish(e, Transition{Before: before, Outcome: domain.OutcomeNone})
	}

	pos := &domain.Position{
		Asset:           in.Asset,
		Side:            side,
		Size:            in.Size,
		Leverage:        in.Leverage,
		EntryConfidence: in.Opportunity.Confidence,
		State:           domain.PositionOpening,
		UpdatedAt:       now,
	}
	l.mu.Lock()
	e.pos = pos
	l.mu.Unlock()

	return l.open(ctx, e, in, before)
}

// applyOpening resolves an open that failed on an earlier tick. It is never
// carried past the next tick: a fresh Execute retries with the current
// intent (reversing the side if the signal flipped), anything else cancels
// it. The failure count is kept either way.
func (l *Ledger) applyOpening(ctx context.Context, e *entry, in Intent, now time.Time) Transition {
	l.mu.Lock()
	pending := *e.pos
	e.pos = nil
	l.mu.Unlock()

	if _, ok := in.Opportunity.Direction.Side(); in.Action == domain.ActionExecute && ok && in.Size > 0 {
		return l.applyFlat(ctx, e, in, domain.PositionOpening, now)
	}

	l.logger.InfoContext(ctx, "pending open cancelled",
		slog.String("asset", in.Asset),
		slog.String("side", string(pending.Side)),
		slog.String("action", string(in.Action)),
	)
	return l.finish(e, Transition{Before: domain.PositionOpening, Outcome: domain.OutcomeOpenCancelled})
}

func (l *Ledger) applyOpen(ctx context.Context, e *entry, in Intent, before domain.PositionState, now time.Time) Transition {
	l.mu.RLock()
	pos := *e.pos
	l.mu.RUnlock()

	if reason, hit := pos.Invalidated(in.Price); hit {
		l.logger.InfoContext(ctx, "exit plan invalidated",
			slog.String("asset", in.Asset),
			slog.String("reason", reason),
			slog.Float64("price", in.Price),
		)
		return l.beginClose(ctx, e, in.Asset, before, reason)
	}

	side, ok := in.Opportunity.Direction.Side()
	if in.Action != domain.ActionExecute || !ok || side == pos.Side {
		return l.finish(e, Transition{Before: before, Outcome: domain.OutcomeHeld})
	}

	if now.Before(pos.ExitPlan.CooldownUntil) {
		return l.finish(e, Transition{Before: before, Outcome: domain.OutcomeCooldownActive})
	}
	if !l.hysteresisMet(in.Opportunity.Confidence, pos.EntryConfidence) {
		return l.finish(e, Transition{Before: before, Outcome: domain.OutcomeHysteresisNotMet})
	}
	return l.beginClose(ctx, e, in.Asset, before, domain.ExitReversal)
}

// hysteresisMet requires the reversing confidence to beat the entry
// confidence by at least the margin.
func (l *Ledger) hysteresisMet(confidence, entry float64) bool {
	gain := confidence - entry
	return gain > 0 && gain >= l.cfg.HysteresisMargin-hysteresisEpsilon
}

func (l *Ledger) open(ctx context.Context, e *entry, in Intent, before domain.PositionState) Transition {
	l.mu.RLock()
	pending := *e.pos
	l.mu.RUnlock()

	callCtx, cancel := l.callContext(ctx)
	defer cancel()

	ack, err := l.exec.ExecuteOrder(callCtx, domain.OrderRequest{
		Asset:    in.Asset,
		Side:     pending.Side,
		Size:     pending.Size,
		Leverage: pending.Leverage,
		Price:    in.Price,
	})
	if err != nil {
		return l.fail(e, Transition{Before: before, Outcome: domain.OutcomeOpenFailed},
			fmt.Errorf("ledger: open %s: %w: %w", in.Asset, domain.ErrExecution, err))
	}

	now := l.now()
	fill := ack.FillPrice
	if fill <= 0 {
		fill = in.Price
	}
	pos := pending
	pos.EntryPrice = fill
	pos.OrderID = ack.OrderID
	pos.StopLoss, pos.TakeProfit = l.exitLevels(pos.Side, fill)
	pos.ExitPlan = domain.ExitPlan{
		Invalidation:  invalidationText(pos),
		CooldownUntil: now.Add(l.cfg.CooldownDuration),
	}
	pos.State = domain.PositionOpen
	pos.OpenedAt = now
	pos.UpdatedAt = now

	l.mu.Lock()
	e.pos = &pos
	e.failures = 0
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "position opened",
		slog.String("asset", pos.Asset),
		slog.String("side", string(pos.Side)),
		slog.Float64("size", pos.Size),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.String("order_id", pos.OrderID),
	)
	return l.finish(e, Transition{Before: before, Outcome: domain.OutcomeOpened})
}

func (l *Ledger) beginClose(ctx context.Context, e *entry, asset string, before domain.PositionState, reason string) Transition {
	l.mu.Lock()
	e.pos.State = domain.PositionClosing
	e.pos.UpdatedAt = l.now()
	e.closeReason = reason
	l.mu.Unlock()
	return l.close(ctx, e, asset, before, reason)
}

func (l *Ledger) close(ctx context.Context, e *entry, asset string, before domain.PositionState, reason string) Transition {
	callCtx, cancel := l.callContext(ctx)
	defer cancel()

	fill, err := l.exec.CloseOrder(callCtx, asset)
	if err != nil {
		return l.fail(e, Transition{Before: before, Outcome: domain.OutcomeCloseFailed, ExitReason: reason},
			fmt.Errorf("ledger: close %s: %w: %w", asset, domain.ErrExecution, err))
	}

	l.mu.Lock()
	closed := *e.pos
	closed.State = domain.PositionFlat
	closed.UpdatedAt = l.now()
	e.pos = nil
	e.closeReason = ""
	e.failures = 0
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "position closed",
		slog.String("asset", asset),
		slog.String("reason", reason),
		slog.Float64("fill_price", fill),
	)
	return l.finish(e, Transition{
		Before:     before,
		Outcome:    domain.OutcomeClosed,
		Closed:     &closed,
		ExitReason: reason,
		ClosePrice: fill,
	})
}

// fail records an execution failure and halts the asset once the consecutive
// failure limit is reached. Position state is left untouched.
func (l *Ledger) fail(e *entry, t Transition, err error) Transition {
	l.mu.Lock()
	e.failures++
	failures := e.failures
	if l.cfg.MaxConsecutiveFailures > 0 && failures >= l.cfg.MaxConsecutiveFailures && !e.halted {
		e.halted = true
		t.Halted = true
	}
	l.mu.Unlock()

	t.Err = err
	attrs := []any{
		slog.String("error", err.Error()),
		slog.Int("consecutive_failures", failures),
	}
	if t.Halted {
		l.logger.Error("asset halted after repeated execution failures", attrs...)
	} else {
		l.logger.Warn("execution failed", attrs...)
	}
	return l.finish(e, t)
}

// finish fills in the post-transition view of the entry.
func (l *Ledger) finish(e *entry, t Transition) Transition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t.After = currentState(e)
	if e.pos != nil {
		p := *e.pos
		t.Position = &p
	}
	return t
}

func (l *Ledger) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, l.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (l *Ledger) exitLevels(side domain.Side, entry float64) (stop, take float64) {
	if entry <= 0 {
		return 0, 0
	}
	if side == domain.SideShort {
		return entry * (1 + l.cfg.StopLossPct), entry * (1 - l.cfg.TakeProfitPct)
	}
	return entry * (1 - l.cfg.StopLossPct), entry * (1 + l.cfg.TakeProfitPct)
}

func invalidationText(p domain.Position) string {
	if p.EntryPrice <= 0 {
		return "no price-based invalidation: entry price unknown"
	}
	if p.Side == domain.SideShort {
		return fmt.Sprintf("close if price >= %.6g (stop-loss) or <= %.6g (take-profit)", p.StopLoss, p.TakeProfit)
	}
	return fmt.Sprintf("close if price <= %.6g (stop-loss) or >= %.6g (take-profit)", p.StopLoss, p.TakeProfit)
}

func (l *Ledger) entry(asset string) *entry {
	l.mu.RLock()
	e, ok := l.entries[asset]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[asset]; !ok {
		e = &entry{}
		l.entries[asset] = e
	}
	return e
}

func currentState(e *entry) domain.PositionState {
	if e.pos == nil {
		return domain.PositionFlat
	}
	return e.pos.State
}

// stateAt derives the cooldown view of an open position.
func stateAt(p domain.Position, now time.Time) domain.PositionState {
	switch p.State {
	case domain.PositionOpen, domain.PositionCoolingDown:
		if now.Before(p.ExitPlan.CooldownUntil) {
			return domain.PositionCoolingDown
		}
		return domain.PositionOpen
	}
	return p.State
}

// Get returns the tracked position of asset, if any.
func (l *Ledger) Get(asset string) (domain.Position, bool) {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[asset]
	if !ok || e.pos == nil {
		return domain.Position{}, false
	}
	p := *e.pos
	p.State = stateAt(p, now)
	return p, true
}

// State returns the lifecycle state of asset.
func (l *Ledger) State(asset string) domain.PositionState {
	if p, ok := l.Get(asset); ok {
		return p.State
	}
	return domain.PositionFlat
}

// Snapshot returns every tracked position ordered by asset.
func (l *Ledger) Snapshot() []domain.Position {
	now := l.now()
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.entries))
	for _, e := range l.entries {
		if e.pos == nil {
			continue
		}
		p := *e.pos
		p.State = stateAt(p, now)
		out = append(out, p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Restore seeds the ledger with persisted positions. It is meant to run once
// at startup before the first tick. Flat entries are ignored.
func (l *Ledger) Restore(positions []domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		if p.State == domain.PositionFlat || p.Asset == "" {
			continue
		}
		e, ok := l.entries[p.Asset]
		if !ok {
			e = &entry{}
			l.entries[p.Asset] = e
		}
		e.pos = &p
		if p.State == domain.PositionClosing {
			e.closeReason = "restored"
		}
	}
}

// Halted reports whether automatic execution is suspended for asset.
func (l *Ledger) Halted(asset string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[asset]
	return ok && e.halted
}

// HaltedAssets lists every halted asset in order.
func (l *Ledger) HaltedAssets() []string {
	l.mu.RLock()
	var out []string
	for asset, e := range l.entries {
		if e.halted {
			out = append(out, asset)
		}
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// CancelPending drops an open that failed and has not been retried yet. It
// waits for an in-flight Apply on the asset and reports false when there is
// nothing pending.
func (l *Ledger) CancelPending(asset string) (Transition, bool) {
	e := l.entry(asset)
	e.op.Lock()
	defer e.op.Unlock()

	l.mu.Lock()
	if e.pos == nil || e.pos.State != domain.PositionOpening {
		l.mu.Unlock()
		return Transition{}, false
	}
	side := e.pos.Side
	e.pos = nil
	l.mu.Unlock()

	l.logger.Info("pending open cancelled by operator",
		slog.String("asset", asset),
		slog.String("side", string(side)),
	)
	return l.finish(e, Transition{Before: domain.PositionOpening, Outcome: domain.OutcomeOpenCancelled}), true
}

// ClearHalt resumes automatic execution for asset and resets its failure
// count. It reports whether the asset was halted.
func (l *Ledger) ClearHalt(asset string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[asset]
	if !ok || !e.halted {
		return false
	}
	e.halted = false
	e.failures = 0
	l.logger.Info("halt cleared", slog.String("asset", asset))
	return true
}
