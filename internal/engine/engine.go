// Package engine drives the per-tick decision pipeline: fetch signals, score,
// gate, classify, apply to the ledger, and record an audit decision for every
// tracked asset.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradegate/internal/classify"
	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/ledger"
	"github.com/alanyoungcy/tradegate/internal/risk"
	"github.com/alanyoungcy/tradegate/internal/scoring"
)

// Config holds the engine's scheduling and sizing parameters.
type Config struct {
	Mode           string
	Assets         []string
	Venue          string
	TickInterval   time.Duration
	CallTimeout    time.Duration
	MaxConcurrency int
	// MaxSignalAge rejects bundles older than this; zero disables the check.
	MaxSignalAge time.Duration
	// RiskPerTrade is the fraction of equity committed per entry before
	// leverage.
	RiskPerTrade  float64
	Leverage      float64
	AuditCapacity int
	// LockTTL bounds the cross-process asset lock when a LockManager is set.
	LockTTL time.Duration
}

// Event is handed to every sink after a decision has been appended.
type Event struct {
	Decision   domain.Decision
	Position   *domain.Position
	Closed     *domain.Position
	ExitReason string
	ClosePrice float64
	Halted     bool
}

// Sink receives recorded decisions. Sinks handle their own failures; they
// cannot change a decision.
type Sink interface {
	OnDecision(ctx context.Context, ev Event)
}

// TickObserver is implemented by sinks that also want tick timings.
type TickObserver interface {
	OnTick(tick uint64, elapsed time.Duration, decisions []domain.Decision)
}

// TickPayer settles the per-tick compute payment before any asset runs.
type TickPayer interface {
	PayTick(ctx context.Context, tick uint64) error
}

// Engine orchestrates the decision pipeline.
type Engine struct {
	cfg        Config
	signals    domain.SignalSource
	accounts   domain.AccountSource
	scorer     *scoring.Scorer
	gate       *risk.Gate
	classifier *classify.Classifier
	ledger     *ledger.Ledger
	limits     *risk.LimitsHolder
	logger     *slog.Logger

	narrator domain.Narrator
	locks    domain.LockManager
	payer    TickPayer
	sinks    []Sink
	now      func() time.Time

	audit *auditLog
	guard *assetGuard
	tick  atomic.Uint64
	runMu sync.Mutex

	mu         sync.RWMutex
	lastTickAt time.Time
	startedAt  time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNarrator attaches commentary to every decision.
func WithNarrator(n domain.Narrator) Option { return func(e *Engine) { e.narrator = n } }

// WithLockManager adds a cross-process per-asset lock on top of the local
// guard, for deployments that run several replicas against one book.
func WithLockManager(l domain.LockManager) Option { return func(e *Engine) { e.locks = l } }

// WithTickPayer charges each tick before it runs.
func WithTickPayer(p TickPayer) Option { return func(e *Engine) { e.payer = p } }

// WithSinks registers decision sinks in call order.
func WithSinks(s ...Sink) Option { return func(e *Engine) { e.sinks = append(e.sinks, s...) } }

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine.
func New(
	cfg Config,
	signals domain.SignalSource,
	accounts domain.AccountSource,
	classifier *classify.Classifier,
	l *ledger.Ledger,
	limits *risk.LimitsHolder,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = len(cfg.Assets)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = cfg.TickInterval
	}
	e := &Engine{
		cfg:        cfg,
		signals:    signals,
		accounts:   accounts,
		scorer:     scoring.NewScorer(),
		gate:       risk.NewGate(),
		classifier: classifier,
		ledger:     l,
		limits:     limits,
		logger:     logger.With(slog.String("component", "engine")),
		now:        time.Now,
		audit:      newAuditLog(cfg.AuditCapacity),
		guard:      newAssetGuard(),
	}
	for _, o := range opts {
		o(e)
	}
	e.startedAt = e.now()
	return e
}

// Run executes a tick immediately and then on every interval until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.Any("assets", e.cfg.Assets),
		slog.Duration("tick_interval", e.cfg.TickInterval),
	)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.RunTick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.RunTick(ctx)
		}
	}
}

// RunTick runs one full tick and returns one decision per tracked asset, in
// the configured asset order. Concurrent calls are serialized.
func (e *Engine) RunTick(ctx context.Context) []domain.Decision {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	tick := e.tick.Add(1)
	start := e.now()
	decisions := make([]domain.Decision, len(e.cfg.Assets))

	if e.payer != nil {
		if err := e.payer.PayTick(ctx, tick); err != nil {
			e.logger.Warn("tick payment failed, skipping all assets",
				slog.Uint64("tick", tick),
				slog.String("error", err.Error()),
			)
			for i, asset := range e.cfg.Assets {
				d := e.baseDecision(tick, asset)
				d.Outcome = domain.OutcomeBudgetExhausted
				d.Error = err.Error()
				decisions[i] = e.record(ctx, d, ledger.Transition{})
			}
			e.finishTick(tick, start, decisions)
			return decisions
		}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, asset := range e.cfg.Assets {
		g.Go(func() error {
			decisions[i] = e.runAsset(ctx, tick, asset)
			return nil
		})
	}
	_ = g.Wait()

	e.finishTick(tick, start, decisions)
	return decisions
}

func (e *Engine) finishTick(tick uint64, start time.Time, decisions []domain.Decision) {
	end := e.now()
	e.mu.Lock()
	e.lastTickAt = end
	e.mu.Unlock()

	elapsed := end.Sub(start)
	for _, s := range e.sinks {
		if o, ok := s.(TickObserver); ok {
			o.OnTick(tick, elapsed, decisions)
		}
	}
	e.logger.Debug("tick complete",
		slog.Uint64("tick", tick),
		slog.Int("decisions", len(decisions)),
		slog.Duration("elapsed", elapsed),
	)
}

// runAsset is the sequential pipeline for one asset.
func (e *Engine) runAsset(ctx context.Context, tick uint64, asset string) domain.Decision {
	d := e.baseDecision(tick, asset)

	release, err := e.guard.acquire(ctx, asset)
	if err != nil {
		d.Outcome = domain.OutcomeInflightRejected
		d.Error = fmt.Sprintf("engine: acquire %s: %v", asset, err)
		return e.record(ctx, d, ledger.Transition{})
	}
	defer release()

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "asset:"+asset, e.lockTTL())
		if err != nil {
			d.Outcome = domain.OutcomeInflightRejected
			d.Error = fmt.Sprintf("engine: lock %s: %v", asset, err)
			return e.record(ctx, d, ledger.Transition{})
		}
		defer unlock()
	}

	bundle, account, err := e.fetch(ctx, asset)
	if err != nil {
		e.logger.Warn("fetch failed, skipping asset",
			slog.String("asset", asset),
			slog.Uint64("tick", tick),
			slog.String("error", err.Error()),
		)
		d.Outcome = domain.OutcomeFetchFailed
		d.Error = err.Error()
		return e.record(ctx, d, ledger.Transition{})
	}

	limits := e.limits.Load()
	opp := e.scorer.Score(bundle, risk.Summarize(account, limits))
	candidate := e.candidate(opp, account)
	assessment := e.gate.Evaluate(candidate, limits, account)
	action := e.classifier.Classify(opp, assessment)

	tr := e.ledger.Apply(ctx, ledger.Intent{
		Asset:       asset,
		Action:      action,
		Opportunity: opp,
		Price:       bundle.Price,
		Size:        candidate.Size,
		Leverage:    candidate.Leverage,
	})

	d.Opportunity = opp
	d.RiskAssessment = assessment
	d.Action = action
	d.PositionStateBefore = tr.Before
	d.PositionStateAfter = tr.After
	d.Outcome = tr.Outcome
	if tr.Err != nil {
		d.Error = tr.Err.Error()
	}
	return e.record(ctx, d, tr)
}

func (e *Engine) baseDecision(tick uint64, asset string) domain.Decision {
	state := e.ledger.State(asset)
	return domain.Decision{
		ID:                  uuid.NewString(),
		Tick:                tick,
		Timestamp:           e.now(),
		Asset:               asset,
		Opportunity:         domain.Opportunity{Asset: asset, Direction: domain.DirectionNeutral},
		Action:              domain.ActionSkip,
		PositionStateBefore: state,
		PositionStateAfter:  state,
		Outcome:             domain.OutcomeNone,
	}
}

// fetch loads the bundle and account snapshot, each bounded by the call
// timeout. Any failure, including stale data, skips the asset.
func (e *Engine) fetch(ctx context.Context, asset string) (domain.SignalBundle, domain.AccountSnapshot, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	bundle, err := e.signals.FetchSignals(sctx, asset)
	cancel()
	if err != nil {
		return domain.SignalBundle{}, domain.AccountSnapshot{}, fmt.Errorf("engine: fetch signals %s: %w: %w", asset, domain.ErrFetch, err)
	}
	bundle.Asset = asset
	if e.cfg.MaxSignalAge > 0 && !bundle.FetchedAt.IsZero() {
		if age := e.now().Sub(bundle.FetchedAt); age > e.cfg.MaxSignalAge {
			return domain.SignalBundle{}, domain.AccountSnapshot{}, fmt.Errorf("engine: signals %s are %s old: %w: %w",
				asset, age.Round(time.Second), domain.ErrFetch, domain.ErrStale)
		}
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	account, err := e.accounts.FetchAccountSnapshot(actx)
	cancel()
	if err != nil {
		return domain.SignalBundle{}, domain.AccountSnapshot{}, fmt.Errorf("engine: fetch account: %w: %w", domain.ErrFetch, err)
	}
	return bundle, account, nil
}

// candidate sizes the trade the opportunity would imply given the ledger's
// current position. Only a flat asset can add exposure; a pending open is
// re-evaluated at its original size.
func (e *Engine) candidate(opp domain.Opportunity, account domain.AccountSnapshot) domain.Candidate {
	c := domain.Candidate{
		Asset:     opp.Asset,
		Venue:     e.cfg.Venue,
		Direction: opp.Direction,
	}
	pos, ok := e.ledger.Get(opp.Asset)
	switch {
	case !ok:
		if _, directional := opp.Direction.Side(); directional {
			c.Size = PositionSize(account.Equity, e.cfg.RiskPerTrade, e.cfg.Leverage)
			c.Leverage = e.cfg.Leverage
		}
	case pos.State == domain.PositionOpening:
		c.Size = pos.Size
		c.Leverage = pos.Leverage
	}
	return c
}

// PositionSize is the notional committed for an entry: equity times the risk
// fraction times leverage, rounded down to cents.
func PositionSize(equity, riskPerTrade, leverage float64) float64 {
	if equity <= 0 || riskPerTrade <= 0 || leverage <= 0 {
		return 0
	}
	size := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(riskPerTrade)).
		Mul(decimal.NewFromFloat(leverage)).
		RoundDown(2)
	f, _ := size.Float64()
	return f
}

// record narrates, appends and fans out a finished decision.
func (e *Engine) record(ctx context.Context, d domain.Decision, tr ledger.Transition) domain.Decision {
	if e.narrator != nil {
		d.Narrative = e.narrator.Narrate(d)
	}
	e.audit.append(d)

	ev := Event{
		Decision:   d,
		Position:   tr.Position,
		Closed:     tr.Closed,
		ExitReason: tr.ExitReason,
		ClosePrice: tr.ClosePrice,
		Halted:     tr.Halted,
	}
	for _, s := range e.sinks {
		s.OnDecision(ctx, ev)
	}
	return d
}

func (e *Engine) lockTTL() time.Duration {
	if e.cfg.LockTTL > 0 {
		return e.cfg.LockTTL
	}
	return 2 * e.cfg.TickInterval
}

// GetRecentDecisions returns up to limit decisions, most recent first.
func (e *Engine) GetRecentDecisions(limit int) []domain.Decision {
	return e.audit.recent(limit)
}

// GetPosition returns the ledger's current view of asset.
func (e *Engine) GetPosition(asset string) (domain.Position, bool) {
	return e.ledger.Get(asset)
}

// Positions returns every tracked position.
func (e *Engine) Positions() []domain.Position {
	return e.ledger.Snapshot()
}

// Limits returns the active risk limits.
func (e *Engine) Limits() domain.RiskLimits {
	return e.limits.Load()
}

// UpdateLimits validates and atomically swaps the risk limits.
func (e *Engine) UpdateLimits(l domain.RiskLimits) error {
	if err := e.limits.Store(l); err != nil {
		return fmt.Errorf("engine: update limits: %w", err)
	}
	e.logger.Info("risk limits updated",
		slog.Float64("max_position_size", l.MaxPositionSize),
		slog.Float64("max_leverage", l.MaxLeverage),
		slog.Float64("max_drawdown", l.MaxDrawdown),
	)
	return nil
}

// ClearHalt resumes automatic execution for a halted asset.
func (e *Engine) ClearHalt(asset string) error {
	if !e.ledger.ClearHalt(asset) {
		return fmt.Errorf("engine: clear halt %s: %w", asset, domain.ErrNotFound)
	}
	return nil
}

// CancelPending drops an open that failed and has not been retried. The
// cancellation is recorded like any other decision so sinks and the audit
// log see the position go back to flat.
func (e *Engine) CancelPending(ctx context.Context, asset string) error {
	release, err := e.guard.acquire(ctx, asset)
	if err != nil {
		return fmt.Errorf("engine: cancel pending %s: %w", asset, err)
	}
	defer release()

	tr, ok := e.ledger.CancelPending(asset)
	if !ok {
		return fmt.Errorf("engine: cancel pending %s: %w", asset, domain.ErrNotFound)
	}
	d := e.baseDecision(e.tick.Load(), asset)
	d.PositionStateBefore = tr.Before
	d.PositionStateAfter = tr.After
	d.Outcome = tr.Outcome
	e.record(ctx, d, tr)
	return nil
}

// Assets returns the tracked assets in tick order.
func (e *Engine) Assets() []string {
	return append([]string(nil), e.cfg.Assets...)
}

// Status summarizes the engine for dashboards.
func (e *Engine) Status() domain.EngineStatus {
	e.mu.RLock()
	last := e.lastTickAt
	e.mu.RUnlock()

	open := 0
	for _, p := range e.ledger.Snapshot() {
		if p.State != domain.PositionOpening {
			open++
		}
	}
	halted := e.ledger.HaltedAssets()
	if halted == nil {
		halted = []string{}
	}
	return domain.EngineStatus{
		Mode:          e.cfg.Mode,
		Tick:          e.tick.Load(),
		Assets:        e.Assets(),
		Halted:        halted,
		OpenPositions: open,
		LastTickAt:    last,
		UptimeSeconds: int64(e.now().Sub(e.startedAt).Seconds()),
	}
}
