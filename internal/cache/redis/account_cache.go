package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AccountCache implements domain.AccountCache by storing the latest snapshot
// as JSON at {ns}:account:snapshot.
type AccountCache struct {
	c *Client
}

// NewAccountCache creates an AccountCache backed by the given Client.
func NewAccountCache(c *Client) *AccountCache {
	return &AccountCache{c: c}
}

// SetSnapshot replaces the cached snapshot.
func (ac *AccountCache) SetSnapshot(ctx context.Context, snap domain.AccountSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal account snapshot: %w", err)
	}
	if err := ac.c.rdb.Set(ctx, ac.c.Key("account", "snapshot"), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set account snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot or domain.ErrNotFound.
func (ac *AccountCache) GetSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	data, err := ac.c.rdb.Get(ctx, ac.c.Key("account", "snapshot")).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AccountSnapshot{}, fmt.Errorf("redis: get account snapshot: %w", domain.ErrNotFound)
		}
		return domain.AccountSnapshot{}, fmt.Errorf("redis: get account snapshot: %w", err)
	}
	var snap domain.AccountSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("redis: unmarshal account snapshot: %w", err)
	}
	return snap, nil
}

var _ domain.AccountCache = (*AccountCache)(nil)
