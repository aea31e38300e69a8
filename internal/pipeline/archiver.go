// Package pipeline runs the engine's background maintenance jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/notify"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// ArchiveObserver is told the result of every run.
type ArchiveObserver interface {
	ObserveArchive(n int64, err error)
}

// ArchiveRun describes one completed archive run.
type ArchiveRun struct {
	Cutoff     time.Time `json:"cutoff"`
	Archived   int64     `json:"archived"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Trigger    string    `json:"trigger"`
	Error      string    `json:"error,omitempty"`
}

// ArchiveJob moves decisions older than the retention window to cold
// storage, on a cron schedule or on demand. Runs never overlap.
type ArchiveJob struct {
	archiver  domain.Archiver
	retention time.Duration
	notifier  Notifier
	observer  ArchiveObserver
	logger    *slog.Logger
	now       func() time.Time
	trigger   chan struct{}

	runMu sync.Mutex

	mu   sync.RWMutex
	last *ArchiveRun
}

// ArchiveOption customizes an ArchiveJob.
type ArchiveOption func(*ArchiveJob)

// WithArchiveNotifier alerts when a run fails.
func WithArchiveNotifier(n Notifier) ArchiveOption { return func(j *ArchiveJob) { j.notifier = n } }

// WithArchiveObserver reports run results, typically to metrics.
func WithArchiveObserver(o ArchiveObserver) ArchiveOption {
	return func(j *ArchiveJob) { j.observer = o }
}

// WithArchiveClock overrides time.Now.
func WithArchiveClock(now func() time.Time) ArchiveOption { return func(j *ArchiveJob) { j.now = now } }

// NewArchiveJob creates a job keeping retentionDays of decisions hot.
func NewArchiveJob(archiver domain.Archiver, retentionDays int, logger *slog.Logger, opts ...ArchiveOption) *ArchiveJob {
	j := &ArchiveJob{
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger.With(slog.String("component", "archive_job")),
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Run archives everything older than now minus the retention window.
func (j *ArchiveJob) Run(ctx context.Context) (ArchiveRun, error) {
	return j.run(ctx, "manual")
}

func (j *ArchiveJob) run(ctx context.Context, trigger string) (ArchiveRun, error) {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	start := j.now().UTC()
	run := ArchiveRun{Cutoff: start.Add(-j.retention), StartedAt: start, Trigger: trigger}
	j.logger.InfoContext(ctx, "archive run started",
		slog.Time("cutoff", run.Cutoff),
		slog.String("trigger", trigger),
	)

	n, err := j.archiver.ArchiveDecisions(ctx, run.Cutoff)
	run.Archived = n
	run.FinishedAt = j.now().UTC()
	if j.observer != nil {
		j.observer.ObserveArchive(n, err)
	}
	if err != nil {
		run.Error = err.Error()
		j.record(run)
		j.logger.ErrorContext(ctx, "archive run failed",
			slog.Int64("archived", n),
			slog.String("error", err.Error()),
		)
		if j.notifier != nil {
			msg := notify.Message{
				Event: notify.EventArchiveFailed,
				Title: "decision archive failed",
				Body:  fmt.Sprintf("cutoff %s, %d archived before failure: %v", run.Cutoff.Format(time.RFC3339), n, err),
			}
			if nerr := j.notifier.Notify(ctx, msg); nerr != nil {
				j.logger.WarnContext(ctx, "archive alert failed", slog.String("error", nerr.Error()))
			}
		}
		return run, fmt.Errorf("pipeline: archive before %s: %w", run.Cutoff.Format(time.RFC3339), err)
	}

	j.record(run)
	j.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("archived", n),
		slog.Duration("took", run.FinishedAt.Sub(start)),
	)
	return run, nil
}

func (j *ArchiveJob) record(run ArchiveRun) {
	j.mu.Lock()
	j.last = &run
	j.mu.Unlock()
}

// LastRun returns the most recent run, if any.
func (j *ArchiveJob) LastRun() (ArchiveRun, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.last == nil {
		return ArchiveRun{}, false
	}
	return *j.last, true
}

// Trigger asks a running RunCron loop for an extra run. It reports false
// when a trigger is already pending.
func (j *ArchiveJob) Trigger() bool {
	select {
	case j.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunCron runs the job on the 5-field cron schedule expr, plus whenever
// Trigger is called, until ctx is cancelled. Failed runs are logged and
// retried at the next slot.
func (j *ArchiveJob) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	j.logger.Info("archive cron started", slog.String("cron", expr))

	for {
		next, ok := sched.Next(j.now().UTC())
		if !ok {
			return fmt.Errorf("pipeline: cron %q never fires", expr)
		}
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("archive cron stopped")
			return ctx.Err()
		case <-j.trigger:
			timer.Stop()
			_, _ = j.run(ctx, "api")
		case <-timer.C:
			_, _ = j.run(ctx, "cron")
		}
	}
}
