package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultMarkHistory bounds the per-asset mark list used for correlation
// estimates.
const defaultMarkHistory = 500

// PriceCache implements domain.PriceCache.
//
// Key schema:
//
//	{ns}:price:{asset}  - hash with fields "price" and "ts" (unix nanos)
//	{ns}:marks:{asset}  - list of recent marks, newest first
type PriceCache struct {
	c          *Client
	historyLen int64
}

// NewPriceCache creates a PriceCache backed by the given Client. historyLen
// caps the mark list; zero selects a default.
func NewPriceCache(c *Client, historyLen int) *PriceCache {
	n := int64(historyLen)
	if n <= 0 {
		n = defaultMarkHistory
	}
	return &PriceCache{c: c, historyLen: n}
}

// SetPrice stores the latest mark for an asset and appends it to the mark
// history in a single transaction.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error {
	p := strconv.FormatFloat(price, 'f', -1, 64)
	marks := pc.c.Key("marks", asset)

	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, pc.c.Key("price", asset), map[string]any{
		"price": p,
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.LPush(ctx, marks, p)
	pipe.LTrim(ctx, marks, 0, pc.historyLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}

// GetPrice returns the latest mark and when it was taken. It returns
// domain.ErrNotFound when nothing has been published for the asset.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.Key("price", asset)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	price, ts, err := parseMark(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	return price, ts, nil
}

// GetPrices fetches several marks in one round trip. Assets without a mark
// are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, assets []string) (map[string]float64, error) {
	if len(assets) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assets))
	for _, a := range assets {
		cmds[a] = pipe.HGetAll(ctx, pc.c.Key("price", a))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	out := make(map[string]float64, len(assets))
	for a, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, err := parseMark(vals); err == nil {
			out[a] = price
		}
	}
	return out, nil
}

// History returns up to n recent marks for asset, oldest first.
func (pc *PriceCache) History(ctx context.Context, asset string, n int) ([]float64, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := pc.c.rdb.LRange(ctx, pc.c.Key("marks", asset), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mark history %s: %w", asset, err)
	}
	out := make([]float64, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		v, err := strconv.ParseFloat(raw[i], 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func parseMark(vals map[string]string) (float64, time.Time, error) {
	ps, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(ps, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, ts), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
