package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/notify"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type MockDecisionStore struct{ mock.Mock }

func (m *MockDecisionStore) Insert(ctx context.Context, d domain.Decision) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockDecisionStore) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.Decision), args.Error(1)
}

func (m *MockDecisionStore) ListByAsset(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.Decision, error) {
	args := m.Called(ctx, asset, opts)
	return args.Get(0).([]domain.Decision), args.Error(1)
}

func (m *MockDecisionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Decision, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).([]domain.Decision), args.Error(1)
}

func (m *MockDecisionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type MockSignalBus struct{ mock.Mock }

func (m *MockSignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return m.Called(ctx, channel, payload).Error(0)
}

func (m *MockSignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	args := m.Called(ctx, channel)
	return args.Get(0).(<-chan []byte), args.Error(1)
}

func (m *MockSignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return m.Called(ctx, stream, payload).Error(0)
}

func (m *MockSignalBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	args := m.Called(ctx, stream, lastID, count)
	return args.Get(0).([]domain.StreamMessage), args.Error(1)
}

type MockPositionStore struct{ mock.Mock }

func (m *MockPositionStore) Upsert(ctx context.Context, p domain.Position) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockPositionStore) Delete(ctx context.Context, asset string) error {
	return m.Called(ctx, asset).Error(0)
}

func (m *MockPositionStore) Get(ctx context.Context, asset string) (domain.Position, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(domain.Position), args.Error(1)
}

func (m *MockPositionStore) List(ctx context.Context) ([]domain.Position, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Position), args.Error(1)
}

type MockAuditStore struct{ mock.Mock }

func (m *MockAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	return m.Called(ctx, event, detail).Error(0)
}

func (m *MockAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).([]domain.AuditEntry), args.Error(1)
}

type MockRiskLimitsStore struct{ mock.Mock }

func (m *MockRiskLimitsStore) Get(ctx context.Context) (domain.RiskLimits, time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.RiskLimits), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockRiskLimitsStore) Save(ctx context.Context, l domain.RiskLimits) error {
	return m.Called(ctx, l).Error(0)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Notify(ctx context.Context, msg notify.Message) error {
	return m.Called(ctx, msg).Error(0)
}

type MockLimitsEngine struct{ mock.Mock }

func (m *MockLimitsEngine) Limits() domain.RiskLimits {
	return m.Called().Get(0).(domain.RiskLimits)
}

func (m *MockLimitsEngine) UpdateLimits(l domain.RiskLimits) error {
	return m.Called(l).Error(0)
}

func (m *MockLimitsEngine) ClearHalt(asset string) error {
	return m.Called(asset).Error(0)
}

func (m *MockLimitsEngine) CancelPending(ctx context.Context, asset string) error {
	return m.Called(ctx, asset).Error(0)
}
