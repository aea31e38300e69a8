package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestWrapDefaults(t *testing.T) {
	c := Wrap(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), ClientConfig{})
	defer c.Close()

	assert.Equal(t, "tradegate:price:BTC", c.Key("price", "BTC"))
	assert.Equal(t, int64(10000), c.streamMaxLen)
	assert.Equal(t, 10*time.Minute, c.signalTTL)
}

func TestKeyNamespace(t *testing.T) {
	c := Wrap(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), ClientConfig{
		Namespace: "staging:",
		SignalTTL: time.Minute,
	})
	defer c.Close()

	assert.Equal(t, "staging:signal:ETH:research", c.Key("signal", "ETH", "research"))
	assert.Equal(t, "staging:lock:asset:ETH", c.Key("lock", "asset:ETH"))
	assert.Equal(t, time.Minute, c.signalTTL)
}

func TestParseMark(t *testing.T) {
	price, ts, err := parseMark(map[string]string{"price": "101.5", "ts": "1700000000000000000"})
	assert.NoError(t, err)
	assert.Equal(t, 101.5, price)
	assert.Equal(t, int64(1700000000), ts.Unix())

	_, _, err = parseMark(map[string]string{})
	assert.Error(t, err)

	_, _, err = parseMark(map[string]string{"price": "x", "ts": "1"})
	assert.Error(t, err)
}
