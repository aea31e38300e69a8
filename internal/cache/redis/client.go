// Package redis implements the domain cache, lock, and bus interfaces using
// go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace is prepended to every key this package writes, so several
	// deployments can share one Redis database.
	Namespace string
	// StreamMaxLen caps XADD streams (approximate trimming).
	StreamMaxLen int64
	// SignalTTL expires cached signal scores that producers stop refreshing.
	SignalTTL time.Duration
}

// Client wraps a go-redis Client with the settings shared by the caches.
type Client struct {
	rdb          *redis.Client
	namespace    string
	streamMaxLen int64
	signalTTL    time.Duration
}

// New creates a Client, pings it to verify connectivity, and returns the
// wrapper.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := Wrap(redis.NewClient(opts), cfg)
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Wrap adopts an already constructed go-redis client. Zero-valued settings in
// cfg fall back to defaults.
func Wrap(rdb *redis.Client, cfg ClientConfig) *Client {
	ns := strings.TrimSuffix(cfg.Namespace, ":")
	if ns == "" {
		ns = "tradegate"
	}
	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	ttl := cfg.SignalTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Client{rdb: rdb, namespace: ns, streamMaxLen: maxLen, signalTTL: ttl}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

// Key joins parts under the client namespace: Key("price", "BTC") yields
// "tradegate:price:BTC".
func (c *Client) Key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}
