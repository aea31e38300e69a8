// Package payment meters the compute budget the engine spends on paid
// external calls and on each decision cycle.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradegate/internal/crypto"
	"github.com/alanyoungcy/tradegate/internal/domain"
)

// assetDecimals is the base-unit precision of the payment asset (USDC).
const assetDecimals = 6

const maxReceipts = 256

// Receipt records one charge against the budget.
type Receipt struct {
	Nonce     uint64    `json:"nonce"`
	Purpose   string    `json:"purpose"`
	Amount    string    `json:"amount"`
	Asset     string    `json:"asset"`
	PayTo     string    `json:"pay_to,omitempty"`
	Payer     string    `json:"payer,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	Signature string    `json:"signature,omitempty"`
}

// Config sets the budget and per-tick price.
type Config struct {
	Budget   float64
	TickCost float64
	PayTo    string
	Asset    string
	ChainID  int64
}

// Meter tracks spend against a fixed budget. Charges are signed when a
// signer is attached. It implements domain.PaymentGate and engine.TickPayer.
type Meter struct {
	cfg    Config
	signer *crypto.Signer
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	budget   decimal.Decimal
	spent    decimal.Decimal
	nonce    uint64
	receipts []Receipt
}

// Option customizes a Meter.
type Option func(*Meter)

// WithSigner signs each receipt with the wallet key.
func WithSigner(s *crypto.Signer) Option { return func(m *Meter) { m.signer = s } }

// WithAudit records each charge in the audit log.
func WithAudit(a domain.AuditStore) Option { return func(m *Meter) { m.audit = a } }

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option { return func(m *Meter) { m.now = now } }

// NewMeter creates a Meter with the full budget available.
func NewMeter(cfg Config, logger *slog.Logger, opts ...Option) *Meter {
	if cfg.Asset == "" {
		cfg.Asset = "USDC"
	}
	m := &Meter{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "payment_meter")),
		now:    time.Now,
		budget: decimal.NewFromFloat(cfg.Budget),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CanAffordExternalCall reports whether cost fits in the remaining budget.
// It does not reserve anything.
func (m *Meter) CanAffordExternalCall(cost float64) bool {
	c := decimal.NewFromFloat(cost)
	if c.IsNegative() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent.Add(c).LessThanOrEqual(m.budget)
}

// Charge debits cost for purpose. It returns domain.ErrInsufficientBudget,
// leaving the budget untouched, when cost does not fit.
func (m *Meter) Charge(ctx context.Context, cost float64, purpose string) (Receipt, error) {
	c := decimal.NewFromFloat(cost)
	if c.IsNegative() {
		return Receipt{}, fmt.Errorf("payment: charge %s: negative cost %v", purpose, cost)
	}

	m.mu.Lock()
	if m.spent.Add(c).GreaterThan(m.budget) {
		remaining := m.budget.Sub(m.spent)
		m.mu.Unlock()
		return Receipt{}, fmt.Errorf("payment: charge %s of %s (remaining %s): %w",
			purpose, c.String(), remaining.String(), domain.ErrInsufficientBudget)
	}
	m.spent = m.spent.Add(c)
	m.nonce++
	rc := Receipt{
		Nonce:    m.nonce,
		Purpose:  purpose,
		Amount:   c.String(),
		Asset:    m.cfg.Asset,
		PayTo:    m.cfg.PayTo,
		IssuedAt: m.now().UTC(),
	}
	m.mu.Unlock()

	if m.signer != nil {
		sig, err := m.signer.SignReceipt(crypto.ReceiptPayload{
			PayTo:    m.cfg.PayTo,
			Amount:   c.Shift(assetDecimals).Truncate(0).String(),
			Nonce:    rc.Nonce,
			IssuedAt: rc.IssuedAt.Unix(),
			Purpose:  purpose,
		})
		if err != nil {
			// The budget is already debited; an unsigned receipt is still
			// an accurate record of spend.
			m.logger.Warn("receipt signing failed",
				slog.String("purpose", purpose),
				slog.String("error", err.Error()),
			)
		} else {
			rc.Signature = sig
			rc.Payer = m.signer.Address().Hex()
		}
	}

	m.mu.Lock()
	m.receipts = append(m.receipts, rc)
	if len(m.receipts) > maxReceipts {
		m.receipts = m.receipts[len(m.receipts)-maxReceipts:]
	}
	m.mu.Unlock()

	if m.audit != nil {
		if err := m.audit.Log(ctx, "payment.charge", map[string]any{
			"nonce":   rc.Nonce,
			"purpose": purpose,
			"amount":  rc.Amount,
			"asset":   rc.Asset,
		}); err != nil {
			m.logger.Warn("payment audit failed", slog.String("error", err.Error()))
		}
	}
	return rc, nil
}

// PayTick charges the configured per-tick cost.
func (m *Meter) PayTick(ctx context.Context, tick uint64) error {
	if m.cfg.TickCost <= 0 {
		return nil
	}
	if _, err := m.Charge(ctx, m.cfg.TickCost, fmt.Sprintf("tick:%d", tick)); err != nil {
		m.logger.Error("tick payment refused",
			slog.Uint64("tick", tick),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Summary is a point-in-time view of the budget.
type Summary struct {
	Budget    float64 `json:"budget"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
	Charges   uint64  `json:"charges"`
	Asset     string  `json:"asset"`
}

// Summary returns the current budget position.
func (m *Meter) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Summary{
		Budget:    m.budget.InexactFloat64(),
		Spent:     m.spent.InexactFloat64(),
		Remaining: m.budget.Sub(m.spent).InexactFloat64(),
		Charges:   m.nonce,
		Asset:     m.cfg.Asset,
	}
}

// Receipts returns up to limit receipts, newest first.
func (m *Meter) Receipts(limit int) []Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.receipts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Receipt, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.receipts[i])
	}
	return out
}

// TopUp adds amount to the budget.
func (m *Meter) TopUp(amount float64) {
	if amount <= 0 {
		return
	}
	m.mu.Lock()
	m.budget = m.budget.Add(decimal.NewFromFloat(amount))
	m.mu.Unlock()
}

var _ domain.PaymentGate = (*Meter)(nil)
