// Package feed keeps the mark and signal caches current from an upstream
// websocket producer.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Message types accepted from the producer.
const (
	TypeMark   = "mark"
	TypeSignal = "signal"
)

// Message is one frame from the producer. Marks carry Price; signals carry
// Source, Direction and Strength.
type Message struct {
	Type      string           `json:"type"`
	Asset     string           `json:"asset"`
	Price     float64          `json:"price,omitempty"`
	Source    string           `json:"source,omitempty"`
	Direction domain.Direction `json:"direction,omitempty"`
	Strength  float64          `json:"strength,omitempty"`
	Timestamp time.Time        `json:"ts,omitempty"`
}

type subscribeCommand struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	Assets   []string `json:"assets"`
}

// Stats counts what the feed has applied since it started.
type Stats struct {
	Marks    int64
	Signals  int64
	Rejected int64
}

// Feed dials the producer, subscribes to the configured assets and writes
// every accepted frame into the caches. It reconnects with exponential
// backoff until its context ends.
type Feed struct {
	url     string
	assets  map[string]bool
	prices  domain.PriceCache
	signals domain.SignalCache
	dialer  *websocket.Dialer
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Option customizes a Feed.
type Option func(*Feed)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option { return func(f *Feed) { f.dialer = d } }

// WithClock sets the time used for frames without a timestamp.
func WithClock(now func() time.Time) Option { return func(f *Feed) { f.now = now } }

// New creates a Feed for the given assets. Either cache may be nil, in which
// case frames of that type are dropped.
func New(url string, assets []string, prices domain.PriceCache, signals domain.SignalCache, logger *slog.Logger, opts ...Option) *Feed {
	set := make(map[string]bool, len(assets))
	for _, a := range assets {
		set[strings.ToUpper(a)] = true
	}
	f := &Feed{
		url:     url,
		assets:  set,
		prices:  prices,
		signals: signals,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		now:     time.Now,
		logger:  logger.With(slog.String("component", "feed")),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Run connects and consumes frames until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.assets) == 0 {
		f.logger.Info("no assets to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}
	delay := reconnectDelay
	for {
		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = reconnectDelay
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// Stats returns a snapshot of the counters.
func (f *Feed) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// runConnection serves one connection. connected reports whether the
// subscription was established before the failure.
func (f *Feed) runConnection(ctx context.Context) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	assets := make([]string, 0, len(f.assets))
	for a := range f.assets {
		assets = append(assets, a)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{
		Type:     "subscribe",
		Channels: []string{"marks", "signals"},
		Assets:   assets,
	}); err != nil {
		return false, fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("feed subscribed", slog.String("url", f.url), slog.Int("assets", len(assets)))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Closing the connection unblocks ReadMessage when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed: read: %w", err)
		}
		if err := f.Apply(ctx, data); err != nil {
			f.count(func(s *Stats) { s.Rejected++ })
			f.logger.Debug("feed frame rejected", slog.String("error", err.Error()))
		}
	}
}

var errUnwantedAsset = errors.New("asset not subscribed")

// Apply decodes one frame and writes it to the matching cache.
func (f *Feed) Apply(ctx context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("feed: decode: %w", err)
	}
	asset := strings.ToUpper(strings.TrimSpace(msg.Asset))
	if !f.assets[asset] {
		return fmt.Errorf("feed: %q: %w", msg.Asset, errUnwantedAsset)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = f.now()
	}

	switch msg.Type {
	case TypeMark:
		if f.prices == nil {
			return nil
		}
		if msg.Price <= 0 || math.IsInf(msg.Price, 0) || math.IsNaN(msg.Price) {
			return fmt.Errorf("feed: %s: bad mark %v", asset, msg.Price)
		}
		if err := f.prices.SetPrice(ctx, asset, msg.Price, ts); err != nil {
			return fmt.Errorf("feed: set mark %s: %w", asset, err)
		}
		f.count(func(s *Stats) { s.Marks++ })
	case TypeSignal:
		if f.signals == nil {
			return nil
		}
		if msg.Source != domain.SourceTechnical && msg.Source != domain.SourceResearch {
			return fmt.Errorf("feed: %s: unknown signal source %q", asset, msg.Source)
		}
		score := domain.SignalScore{Source: msg.Source, Direction: msg.Direction, Strength: msg.Strength}.Clamped()
		if err := f.signals.SetSignal(ctx, asset, score, ts); err != nil {
			return fmt.Errorf("feed: set signal %s: %w", asset, err)
		}
		f.count(func(s *Stats) { s.Signals++ })
	default:
		return fmt.Errorf("feed: unknown frame type %q", msg.Type)
	}
	return nil
}

func (f *Feed) count(fn func(*Stats)) {
	f.mu.Lock()
	fn(&f.stats)
	f.mu.Unlock()
}
