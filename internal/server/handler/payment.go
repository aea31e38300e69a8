package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradegate/internal/payment"
)

// BudgetMeter is the compute budget the engine pays from.
type BudgetMeter interface {
	Summary() payment.Summary
	Receipts(limit int) []payment.Receipt
	TopUp(amount float64)
}

// PaymentHandler exposes the compute budget and its signed receipts.
type PaymentHandler struct {
	meter  BudgetMeter
	logger *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(meter BudgetMeter, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{meter: meter, logger: logger}
}

// GetSummary returns budget, spend and remaining balance.
// GET /api/payment
func (h *PaymentHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.meter.Summary())
}

// ListReceipts returns recent receipts, newest first.
// GET /api/payment/receipts?limit=50
func (h *PaymentHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts := h.meter.Receipts(queryInt(r, "limit", 50, 256))
	if receipts == nil {
		receipts = []payment.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

type topUpRequest struct {
	Amount float64 `json:"amount"`
}

// TopUp adds to the budget so a paused engine can resume paying for ticks.
// POST /api/payment/topup
func (h *PaymentHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	h.meter.TopUp(req.Amount)
	h.logger.InfoContext(r.Context(), "budget topped up",
		slog.String("actor", actorOf(r)),
		slog.Float64("amount", req.Amount),
	)
	writeJSON(w, http.StatusOK, h.meter.Summary())
}
