package engine

import (
	"sync"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// auditLog is a bounded, append-only ring of decisions. Appends happen under
// its own lock so per-asset tick order survives concurrent pipelines.
type auditLog struct {
	mu    sync.Mutex
	buf   []domain.Decision
	next  int
	full  bool
	total uint64
}

func newAuditLog(capacity int) *auditLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &auditLog{buf: make([]domain.Decision, capacity)}
}

func (a *auditLog) append(d domain.Decision) {
	a.mu.Lock()
	a.buf[a.next] = d
	a.next = (a.next + 1) % len(a.buf)
	if a.next == 0 {
		a.full = true
	}
	a.total++
	a.mu.Unlock()
}

// recent returns up to limit decisions, newest first. A non-positive limit
// returns everything retained.
func (a *auditLog) recent(limit int) []domain.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.next
	if a.full {
		n = len(a.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Decision, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (a.next - i + len(a.buf)) % len(a.buf)
		d := a.buf[idx]
		if d.RiskAssessment.Violations != nil {
			d.RiskAssessment.Violations = append([]domain.Violation(nil), d.RiskAssessment.Violations...)
		}
		out = append(out, d)
	}
	return out
}

func (a *auditLog) count() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}
