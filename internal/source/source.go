// Package source adapts the Redis caches that upstream producers write into
// the engine's SignalSource and AccountSource interfaces.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/payment"
)

// MarkHistory returns recent marks for an asset, oldest first.
type MarkHistory interface {
	History(ctx context.Context, asset string, n int) ([]float64, error)
}

// Meter is the paid-call budget the research source charges against.
type Meter interface {
	domain.PaymentGate
	Charge(ctx context.Context, cost float64, purpose string) (payment.Receipt, error)
}

// Config tunes the cache source.
type Config struct {
	// Assets are the tracked assets; correlations are estimated across them.
	Assets []string
	// ResearchCost is charged per research read when a Meter is attached.
	ResearchCost float64
	// HistoryLen is how many marks feed the fallback technical score and the
	// correlation estimate.
	HistoryLen int
}

// CacheSource implements domain.SignalSource and domain.AccountSource.
type CacheSource struct {
	cfg      Config
	signals  domain.SignalCache
	prices   domain.PriceCache
	accounts domain.AccountCache
	history  MarkHistory
	meter    Meter
	logger   *slog.Logger
}

// Option customizes a CacheSource.
type Option func(*CacheSource)

// WithHistory enables the mark-derived technical fallback and correlation
// estimates.
func WithHistory(h MarkHistory) Option { return func(s *CacheSource) { s.history = h } }

// WithMeter charges research reads against a budget; when the budget cannot
// cover a read the research score is neutral.
func WithMeter(m Meter) Option { return func(s *CacheSource) { s.meter = m } }

// New creates a CacheSource.
func New(cfg Config, signals domain.SignalCache, prices domain.PriceCache, accounts domain.AccountCache, logger *slog.Logger, opts ...Option) *CacheSource {
	if cfg.HistoryLen < MinMarks {
		cfg.HistoryLen = MinMarks * 2
	}
	s := &CacheSource{
		cfg:      cfg,
		signals:  signals,
		prices:   prices,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "signal_source")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FetchSignals assembles the bundle for asset. A missing score is neutral;
// FetchedAt is the oldest timestamp among the scores that were present.
func (s *CacheSource) FetchSignals(ctx context.Context, asset string) (domain.SignalBundle, error) {
	b := domain.SignalBundle{
		Asset:     asset,
		Technical: domain.NeutralSignal(domain.SourceTechnical),
		Research:  domain.NeutralSignal(domain.SourceResearch),
	}
	var stamps []time.Time

	tech, ts, err := s.signals.GetSignal(ctx, asset, domain.SourceTechnical)
	switch {
	case err == nil:
		b.Technical = tech
		stamps = append(stamps, ts)
	case errors.Is(err, domain.ErrNotFound):
		if score, ok := s.technicalFallback(ctx, asset); ok {
			b.Technical = score
		}
	default:
		return domain.SignalBundle{}, fmt.Errorf("source: technical %s: %w", asset, err)
	}

	research, ts, err := s.research(ctx, asset)
	if err != nil {
		return domain.SignalBundle{}, err
	}
	if !ts.IsZero() {
		b.Research = research
		stamps = append(stamps, ts)
	}

	price, pts, err := s.prices.GetPrice(ctx, asset)
	switch {
	case err == nil:
		b.Price = price
		stamps = append(stamps, pts)
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.SignalBundle{}, fmt.Errorf("source: price %s: %w", asset, err)
	}

	for _, t := range stamps {
		if b.FetchedAt.IsZero() || t.Before(b.FetchedAt) {
			b.FetchedAt = t
		}
	}
	return b, nil
}

// research reads the research score and, when metered, pays for it. Only a
// score that is actually present is charged for. A zero timestamp means no
// score is available.
func (s *CacheSource) research(ctx context.Context, asset string) (domain.SignalScore, time.Time, error) {
	score, ts, err := s.signals.GetSignal(ctx, asset, domain.SourceResearch)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.SignalScore{}, time.Time{}, nil
	case err != nil:
		return domain.SignalScore{}, time.Time{}, fmt.Errorf("source: research %s: %w", asset, err)
	}

	if s.meter != nil && s.cfg.ResearchCost > 0 {
		if !s.meter.CanAffordExternalCall(s.cfg.ResearchCost) {
			s.logger.Debug("research budget exhausted", slog.String("asset", asset))
			return domain.SignalScore{}, time.Time{}, nil
		}
		if _, err := s.meter.Charge(ctx, s.cfg.ResearchCost, "research:"+asset); err != nil {
			s.logger.Warn("research charge refused",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			return domain.SignalScore{}, time.Time{}, nil
		}
	}
	return score, ts, nil
}

func (s *CacheSource) technicalFallback(ctx context.Context, asset string) (domain.SignalScore, bool) {
	if s.history == nil {
		return domain.SignalScore{}, false
	}
	marks, err := s.history.History(ctx, asset, s.cfg.HistoryLen)
	if err != nil {
		s.logger.Warn("mark history unavailable",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
		return domain.SignalScore{}, false
	}
	return TechnicalFromMarks(marks)
}

// FetchAccountSnapshot returns the cached account. Pairwise correlations the
// producer did not supply are estimated from mark history when available.
func (s *CacheSource) FetchAccountSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	snap, err := s.accounts.GetSnapshot(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("source: account: %w", err)
	}
	if s.history == nil || len(s.cfg.Assets) < 2 {
		return snap, nil
	}

	series := make(map[string][]float64, len(s.cfg.Assets))
	for _, a := range s.cfg.Assets {
		marks, err := s.history.History(ctx, a, s.cfg.HistoryLen)
		if err != nil {
			continue
		}
		series[a] = marks
	}
	snap.Correlations = mergeCorrelations(snap.Correlations, Correlate(series))
	return snap, nil
}

// mergeCorrelations fills pairs missing from have with estimates. Supplied
// values win.
func mergeCorrelations(have domain.CorrelationMatrix, est map[string]map[string]float64) domain.CorrelationMatrix {
	out := make(domain.CorrelationMatrix, len(have)+len(est))
	for a, row := range have {
		out[a] = make(map[string]float64, len(row))
		for b, v := range row {
			out[a][b] = v
		}
	}
	for a, row := range est {
		for b, v := range row {
			if _, ok := lookup(have, a, b); ok {
				continue
			}
			if out[a] == nil {
				out[a] = make(map[string]float64)
			}
			out[a][b] = v
		}
	}
	return out
}

func lookup(m domain.CorrelationMatrix, a, b string) (float64, bool) {
	if v, ok := m[a][b]; ok {
		return v, true
	}
	v, ok := m[b][a]
	return v, ok
}

var (
	_ domain.SignalSource  = (*CacheSource)(nil)
	_ domain.AccountSource = (*CacheSource)(nil)
)
