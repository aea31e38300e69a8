package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest marks.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assets []string) (map[string]float64, error)
}

// SignalCache holds the latest score published by each upstream signal
// producer.
type SignalCache interface {
	SetSignal(ctx context.Context, asset string, score SignalScore, ts time.Time) error
	GetSignal(ctx context.Context, asset, source string) (SignalScore, time.Time, error)
}

// AccountCache holds the latest account snapshot published by the account
// service.
type AccountCache interface {
	SetSnapshot(ctx context.Context, snap AccountSnapshot) error
	GetSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Channels and streams the engine publishes on.
const (
	ChannelDecisions = "decisions"
	ChannelPositions = "positions"
	ChannelLimits    = "limits"
	StreamDecisions  = "stream:decisions"
)

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
