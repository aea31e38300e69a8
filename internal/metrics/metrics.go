// Package metrics exposes Prometheus instrumentation for the decision engine.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/engine"
)

const namespace = "tradegate"

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	decisions    *prometheus.CounterVec
	confidence   *prometheus.GaugeVec
	executions   *prometheus.CounterVec
	vetoes       *prometheus.CounterVec
	halted       *prometheus.GaugeVec
	archived     prometheus.Counter
	archiveFails prometheus.Counter
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Decision ticks run.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Wall time of a full tick across all assets.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decisions_total",
			Help: "Recorded decisions by asset, action and outcome.",
		}, []string{"asset", "action", "outcome"}),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "opportunity_confidence",
			Help: "Confidence of the latest opportunity per asset.",
		}, []string{"asset"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "executions_total",
			Help: "Executor calls by asset and result.",
		}, []string{"asset", "result"}),
		vetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_vetoes_total",
			Help: "Failed risk checks by limit.",
		}, []string{"limit"}),
		halted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "asset_halted",
			Help: "1 while automatic execution is halted for the asset.",
		}, []string{"asset"}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archived_decisions_total",
			Help: "Decisions moved to cold storage.",
		}),
		archiveFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_failures_total",
			Help: "Archive runs that returned an error.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.tickDuration, m.decisions, m.confidence,
		m.executions, m.vetoes, m.halted, m.archived, m.archiveFails,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RegisterBudget exports the remaining payment budget.
func (m *Metrics) RegisterBudget(remaining func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "payment_budget_remaining",
		Help: "Unspent compute budget.",
	}, remaining))
}

// OnDecision implements engine.Sink.
func (m *Metrics) OnDecision(_ context.Context, ev engine.Event) {
	d := ev.Decision
	m.decisions.WithLabelValues(d.Asset, string(d.Action), string(d.Outcome)).Inc()

	switch d.Outcome {
	case domain.OutcomeFetchFailed, domain.OutcomeBudgetExhausted, domain.OutcomeInflightRejected:
		// nothing was scored
	default:
		m.confidence.WithLabelValues(d.Asset).Set(d.Opportunity.Confidence)
		for _, v := range d.RiskAssessment.Violations {
			m.vetoes.WithLabelValues(v.Limit).Inc()
		}
	}

	switch d.Outcome {
	case domain.OutcomeOpened, domain.OutcomeOpenFailed, domain.OutcomeClosed, domain.OutcomeCloseFailed:
		m.executions.WithLabelValues(d.Asset, string(d.Outcome)).Inc()
	}

	if ev.Halted {
		m.halted.WithLabelValues(d.Asset).Set(1)
	}
}

// OnTick implements engine.TickObserver.
func (m *Metrics) OnTick(_ uint64, elapsed time.Duration, _ []domain.Decision) {
	m.ticks.Inc()
	m.tickDuration.Observe(elapsed.Seconds())
}

// HaltCleared resets the halted gauge for asset.
func (m *Metrics) HaltCleared(asset string) {
	m.halted.WithLabelValues(asset).Set(0)
}

// ObserveArchive records the result of one archive run.
func (m *Metrics) ObserveArchive(n int64, err error) {
	if err != nil {
		m.archiveFails.Inc()
	}
	if n > 0 {
		m.archived.Add(float64(n))
	}
}

var (
	_ engine.Sink         = (*Metrics)(nil)
	_ engine.TickObserver = (*Metrics)(nil)
)
