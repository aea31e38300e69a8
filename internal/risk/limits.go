package risk

import (
	"fmt"
	"sync/atomic"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// LimitsHolder publishes the active limit set. Readers always see a complete
// set; updates replace the whole struct.
type LimitsHolder struct {
	current atomic.Pointer[domain.RiskLimits]
}

// NewLimitsHolder validates initial and returns a holder serving it.
func NewLimitsHolder(initial domain.RiskLimits) (*LimitsHolder, error) {
	h := &LimitsHolder{}
	if err := h.Store(initial); err != nil {
		return nil, err
	}
	return h, nil
}

// Load returns a copy of the active limits.
func (h *LimitsHolder) Load() domain.RiskLimits {
	return *h.current.Load()
}

// Store validates next and swaps it in. An invalid set is rejected whole and
// the previous limits stay active.
func (h *LimitsHolder) Store(next domain.RiskLimits) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("risk: store limits: %w", err)
	}
	h.current.Store(&next)
	return nil
}
