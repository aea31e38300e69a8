package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/notify"
)

type MockArchiver struct{ mock.Mock }

func (m *MockArchiver) ArchiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Notify(ctx context.Context, msg notify.Message) error {
	return m.Called(ctx, msg).Error(0)
}

type recordingObserver struct {
	counts []int64
	errs   int
}

func (o *recordingObserver) ObserveArchive(n int64, err error) {
	o.counts = append(o.counts, n)
	if err != nil {
		o.errs++
	}
}

var testNow = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

func newTestJob(a *MockArchiver, opts ...ArchiveOption) *ArchiveJob {
	opts = append(opts, WithArchiveClock(func() time.Time { return testNow }))
	return NewArchiveJob(a, 30, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestArchiveJobRunUsesRetentionCutoff(t *testing.T) {
	a := new(MockArchiver)
	cutoff := testNow.Add(-30 * 24 * time.Hour)
	a.On("ArchiveDecisions", mock.Anything, cutoff).Return(int64(120), nil)
	obs := &recordingObserver{}

	job := newTestJob(a, WithArchiveObserver(obs))
	_, ok := job.LastRun()
	assert.False(t, ok)

	run, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(120), run.Archived)
	assert.Equal(t, cutoff, run.Cutoff)
	assert.Equal(t, "manual", run.Trigger)
	assert.Equal(t, []int64{120}, obs.counts)

	last, ok := job.LastRun()
	require.True(t, ok)
	assert.Equal(t, run, last)
	a.AssertExpectations(t)
}

func TestArchiveJobFailureAlerts(t *testing.T) {
	a := new(MockArchiver)
	a.On("ArchiveDecisions", mock.Anything, mock.Anything).Return(int64(40), errors.New("bucket gone"))
	n := new(MockNotifier)
	n.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Event == notify.EventArchiveFailed
	})).Return(nil)
	obs := &recordingObserver{}

	job := newTestJob(a, WithArchiveNotifier(n), WithArchiveObserver(obs))
	run, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Equal(t, int64(40), run.Archived)
	assert.Equal(t, "bucket gone", run.Error)
	assert.Equal(t, 1, obs.errs)
	n.AssertExpectations(t)
}

func TestArchiveJobTrigger(t *testing.T) {
	job := newTestJob(new(MockArchiver))
	assert.True(t, job.Trigger())
	assert.False(t, job.Trigger(), "second trigger while one is pending")
}

func TestRunCronServesTrigger(t *testing.T) {
	a := new(MockArchiver)
	done := make(chan struct{})
	a.On("ArchiveDecisions", mock.Anything, mock.Anything).Return(int64(1), nil).
		Run(func(mock.Arguments) { close(done) }).Once()

	job := newTestJob(a)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- job.RunCron(ctx, "0 3 1 1 *") }()

	require.True(t, job.Trigger())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run did not happen")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	last, ok := job.LastRun()
	require.True(t, ok)
	assert.Equal(t, "api", last.Trigger)
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	err := newTestJob(new(MockArchiver)).RunCron(context.Background(), "61 * * * *")
	assert.Error(t, err)
}
