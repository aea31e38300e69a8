// Package executor provides the order execution backends the position ledger
// drives: an in-process paper account and a signed HTTP gateway client.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

var bps = decimal.NewFromInt(10000)

// PaperConfig configures the simulated account.
type PaperConfig struct {
	Venue           string
	StartingBalance float64
	FeeBps          float64
}

type paperPosition struct {
	orderID  string
	side     domain.Side
	notional decimal.Decimal
	margin   decimal.Decimal
	entry    decimal.Decimal
	leverage float64
	openedAt time.Time
}

// PaperExecutor fills orders immediately at the requested price (or the
// cached mark) against a virtual margin account. It also serves the account
// snapshot the engine gates on, so a paper deployment is self-contained.
type PaperExecutor struct {
	cfg      PaperConfig
	prices   domain.PriceCache
	accounts domain.AccountCache
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	cash      decimal.Decimal
	peak      decimal.Decimal
	realized  decimal.Decimal
	fees      decimal.Decimal
	volume    decimal.Decimal
	volumeDay string
	positions map[string]paperPosition
}

// PaperOption customizes a PaperExecutor.
type PaperOption func(*PaperExecutor)

// WithPriceCache fills market orders and marks open positions from the cache.
func WithPriceCache(p domain.PriceCache) PaperOption {
	return func(e *PaperExecutor) { e.prices = p }
}

// WithAccountPublisher writes every computed snapshot to the account cache so
// other processes (the API server, replicas) read the same account.
func WithAccountPublisher(a domain.AccountCache) PaperOption {
	return func(e *PaperExecutor) { e.accounts = a }
}

// WithPaperClock replaces the wall clock.
func WithPaperClock(now func() time.Time) PaperOption {
	return func(e *PaperExecutor) { e.now = now }
}

// NewPaper creates a paper account holding cfg.StartingBalance.
func NewPaper(cfg PaperConfig, logger *slog.Logger, opts ...PaperOption) *PaperExecutor {
	if cfg.Venue == "" {
		cfg.Venue = "paper"
	}
	start := decimal.NewFromFloat(cfg.StartingBalance)
	e := &PaperExecutor{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "paper_executor")),
		now:       time.Now,
		cash:      start,
		peak:      start,
		positions: make(map[string]paperPosition),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExecuteOrder opens a position, debiting margin (size / leverage) and fee.
func (e *PaperExecutor) ExecuteOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if req.Size <= 0 {
		return domain.OrderAck{}, fmt.Errorf("executor: paper open %s: size must be positive: %w", req.Asset, domain.ErrExecution)
	}
	if req.Side != domain.SideLong && req.Side != domain.SideShort {
		return domain.OrderAck{}, fmt.Errorf("executor: paper open %s: unknown side %q: %w", req.Asset, req.Side, domain.ErrExecution)
	}
	lev := req.Leverage
	if lev <= 0 {
		lev = 1
	}

	price := req.Price
	if price <= 0 {
		p, err := e.mark(ctx, req.Asset)
		if err != nil {
			return domain.OrderAck{}, fmt.Errorf("executor: paper open %s: %w: %w", req.Asset, domain.ErrExecution, err)
		}
		price = p
	}

	notional := decimal.NewFromFloat(req.Size)
	margin := notional.Div(decimal.NewFromFloat(lev))
	fee := e.fee(notional)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.positions[req.Asset]; exists {
		return domain.OrderAck{}, fmt.Errorf("executor: paper open %s: position already open: %w", req.Asset, domain.ErrExecution)
	}
	if margin.Add(fee).GreaterThan(e.cash) {
		return domain.OrderAck{}, fmt.Errorf("executor: paper open %s: margin %s + fee %s exceeds balance %s: %w",
			req.Asset, margin.StringFixed(2), fee.StringFixed(2), e.cash.StringFixed(2), domain.ErrExecution)
	}

	now := e.now()
	id := uuid.NewString()
	e.cash = e.cash.Sub(margin).Sub(fee)
	e.fees = e.fees.Add(fee)
	e.addVolume(now, notional)
	e.positions[req.Asset] = paperPosition{
		orderID:  id,
		side:     req.Side,
		notional: notional,
		margin:   margin,
		entry:    decimal.NewFromFloat(price),
		leverage: lev,
		openedAt: now,
	}

	e.logger.Info("paper fill",
		slog.String("order_id", id),
		slog.String("asset", req.Asset),
		slog.String("side", string(req.Side)),
		slog.Float64("size", req.Size),
		slog.Float64("price", price),
		slog.Float64("leverage", lev),
	)
	return domain.OrderAck{OrderID: id, FillPrice: price}, nil
}

// CloseOrder closes the asset's position at the cached mark and realizes the
// PnL. Without a mark the position is closed flat at its entry price.
func (e *PaperExecutor) CloseOrder(ctx context.Context, asset string) (float64, error) {
	e.mu.Lock()
	pos, ok := e.positions[asset]
	e.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("executor: paper close %s: %w", asset, domain.ErrNotFound)
	}

	price := pos.entry
	if p, err := e.mark(ctx, asset); err == nil {
		price = decimal.NewFromFloat(p)
	} else {
		e.logger.Warn("no mark for paper close, using entry price",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
	}

	pnl := pnlAt(pos, price)
	fee := e.fee(pos.notional)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[asset]; !ok {
		return 0, fmt.Errorf("executor: paper close %s: %w", asset, domain.ErrNotFound)
	}
	delete(e.positions, asset)
	e.cash = e.cash.Add(pos.margin).Add(pnl).Sub(fee)
	e.realized = e.realized.Add(pnl).Sub(fee)
	e.fees = e.fees.Add(fee)
	e.addVolume(e.now(), pos.notional)

	fill := price.InexactFloat64()
	e.logger.Info("paper close",
		slog.String("order_id", pos.orderID),
		slog.String("asset", asset),
		slog.Float64("price", fill),
		slog.Float64("pnl", pnl.Sub(fee).InexactFloat64()),
	)
	return fill, nil
}

// FetchAccountSnapshot marks the account to market and returns it. The peak
// equity watermark advances as a side effect.
func (e *PaperExecutor) FetchAccountSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	e.mu.Lock()
	assets := make([]string, 0, len(e.positions))
	for a := range e.positions {
		assets = append(assets, a)
	}
	e.mu.Unlock()
	sort.Strings(assets)

	marks := map[string]float64{}
	if e.prices != nil && len(assets) > 0 {
		m, err := e.prices.GetPrices(ctx, assets)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("marking paper account failed", slog.String("error", err.Error()))
		}
		if m != nil {
			marks = m
		}
	}

	now := e.now()
	e.mu.Lock()
	equity := e.cash
	var used decimal.Decimal
	exposures := make([]domain.Exposure, 0, len(e.positions))
	for _, a := range assets {
		pos, ok := e.positions[a]
		if !ok {
			continue
		}
		price := pos.entry
		if m := marks[a]; m > 0 {
			price = decimal.NewFromFloat(m)
		}
		equity = equity.Add(pos.margin).Add(pnlAt(pos, price))
		used = used.Add(pos.margin)
		exposures = append(exposures, domain.Exposure{
			Asset:    a,
			Venue:    e.cfg.Venue,
			Side:     pos.side,
			Notional: pos.notional.InexactFloat64(),
			Leverage: pos.leverage,
		})
	}
	if equity.GreaterThan(e.peak) {
		e.peak = equity
	}
	e.rollVolume(now)
	snap := domain.AccountSnapshot{
		Balance:     e.cash.InexactFloat64(),
		Equity:      equity.InexactFloat64(),
		PeakEquity:  e.peak.InexactFloat64(),
		UsedMargin:  used.InexactFloat64(),
		DailyVolume: e.volume.InexactFloat64(),
		Positions:   exposures,
		TakenAt:     now,
	}
	e.mu.Unlock()

	if e.accounts != nil {
		if err := e.accounts.SetSnapshot(ctx, snap); err != nil {
			e.logger.Warn("publish account snapshot failed", slog.String("error", err.Error()))
		}
	}
	return snap, nil
}

// PaperStats summarizes realized results.
type PaperStats struct {
	Balance     float64 `json:"balance"`
	RealizedPnL float64 `json:"realized_pnl"`
	Fees        float64 `json:"fees"`
	Open        int     `json:"open"`
}

// Stats returns realized PnL, fees paid and the open position count.
func (e *PaperExecutor) Stats() PaperStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PaperStats{
		Balance:     e.cash.InexactFloat64(),
		RealizedPnL: e.realized.InexactFloat64(),
		Fees:        e.fees.InexactFloat64(),
		Open:        len(e.positions),
	}
}

// Restore re-creates open positions recorded by the position store so the
// account agrees with the ledger after a restart. Margin is taken from the
// balance; positions the account already holds are left alone.
func (e *PaperExecutor) Restore(positions []domain.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range positions {
		if p.State == domain.PositionOpening || p.Size <= 0 || p.EntryPrice <= 0 {
			continue
		}
		if _, ok := e.positions[p.Asset]; ok {
			continue
		}
		lev := p.Leverage
		if lev <= 0 {
			lev = 1
		}
		notional := decimal.NewFromFloat(p.Size)
		margin := notional.Div(decimal.NewFromFloat(lev))
		e.cash = e.cash.Sub(margin)
		e.positions[p.Asset] = paperPosition{
			orderID:  p.OrderID,
			side:     p.Side,
			notional: notional,
			margin:   margin,
			entry:    decimal.NewFromFloat(p.EntryPrice),
			leverage: lev,
			openedAt: p.OpenedAt,
		}
	}
}

func (e *PaperExecutor) mark(ctx context.Context, asset string) (float64, error) {
	if e.prices == nil {
		return 0, fmt.Errorf("no price cache for %s: %w", asset, domain.ErrNotFound)
	}
	p, _, err := e.prices.GetPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	if p <= 0 {
		return 0, fmt.Errorf("non-positive mark %v for %s", p, asset)
	}
	return p, nil
}

func (e *PaperExecutor) fee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(decimal.NewFromFloat(e.cfg.FeeBps)).Div(bps)
}

// addVolume and rollVolume must be called with mu held.
func (e *PaperExecutor) addVolume(now time.Time, notional decimal.Decimal) {
	e.rollVolume(now)
	e.volume = e.volume.Add(notional)
}

func (e *PaperExecutor) rollVolume(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day != e.volumeDay {
		e.volumeDay = day
		e.volume = decimal.Zero
	}
}

// pnlAt is the signed return on notional from entry to price.
func pnlAt(pos paperPosition, price decimal.Decimal) decimal.Decimal {
	if pos.entry.IsZero() {
		return decimal.Zero
	}
	move := price.Sub(pos.entry).Div(pos.entry).Mul(pos.notional)
	if pos.side == domain.SideShort {
		return move.Neg()
	}
	return move
}

var (
	_ domain.OrderExecutor = (*PaperExecutor)(nil)
	_ domain.AccountSource = (*PaperExecutor)(nil)
)
