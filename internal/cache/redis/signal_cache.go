package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// SignalCache implements domain.SignalCache. Producers write one hash per
// asset and source at {ns}:signal:{asset}:{source} with fields "direction",
// "strength" and "ts". Keys expire after the client's signal TTL so a dead
// producer reads as missing rather than as an old opinion.
type SignalCache struct {
	c *Client
}

// NewSignalCache creates a SignalCache backed by the given Client.
func NewSignalCache(c *Client) *SignalCache {
	return &SignalCache{c: c}
}

// SetSignal stores score for asset under score.Source.
func (sc *SignalCache) SetSignal(ctx context.Context, asset string, score domain.SignalScore, ts time.Time) error {
	if score.Source == "" {
		return fmt.Errorf("redis: set signal %s: empty source", asset)
	}
	key := sc.c.Key("signal", asset, score.Source)

	pipe := sc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"direction": string(score.Direction),
		"strength":  strconv.FormatFloat(score.Strength, 'f', -1, 64),
		"ts":        strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, sc.c.signalTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set signal %s/%s: %w", asset, score.Source, err)
	}
	return nil
}

// GetSignal returns the last score published for asset by source, clamped to
// the valid range. It returns domain.ErrNotFound when no score is cached.
func (sc *SignalCache) GetSignal(ctx context.Context, asset, source string) (domain.SignalScore, time.Time, error) {
	vals, err := sc.c.rdb.HGetAll(ctx, sc.c.Key("signal", asset, source)).Result()
	if err != nil {
		return domain.SignalScore{}, time.Time{}, fmt.Errorf("redis: get signal %s/%s: %w", asset, source, err)
	}
	if len(vals) == 0 {
		return domain.SignalScore{}, time.Time{}, fmt.Errorf("redis: get signal %s/%s: %w", asset, source, domain.ErrNotFound)
	}

	strength, err := strconv.ParseFloat(vals["strength"], 64)
	if err != nil {
		return domain.SignalScore{}, time.Time{}, fmt.Errorf("redis: parse signal strength %s/%s: %w", asset, source, err)
	}
	var ts time.Time
	if n, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		ts = time.Unix(0, n)
	}

	score := domain.SignalScore{
		Source:    source,
		Direction: domain.Direction(vals["direction"]),
		Strength:  strength,
	}
	return score.Clamped(), ts, nil
}

var _ domain.SignalCache = (*SignalCache)(nil)
