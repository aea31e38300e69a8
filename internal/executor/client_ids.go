package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// clientIDs hands out client order IDs keyed by asset. The same request seen
// again within ttl, before it was acknowledged, gets the same ID back so the
// gateway can drop the duplicate. It is safe for concurrent use.
type clientIDs struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	pending map[string]pendingID // asset -> outstanding open
}

type pendingID struct {
	id     string
	key    string
	issued time.Time
}

func newClientIDs(ttl time.Duration) *clientIDs {
	return &clientIDs{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]pendingID),
	}
}

func requestKey(req domain.OrderRequest) string {
	return fmt.Sprintf("%s|%.8f|%.4f", req.Side, req.Size, req.Leverage)
}

// get returns the outstanding ID for an identical request, or issues a new
// one. Expired entries are swept on the way.
func (c *clientIDs) get(req domain.OrderRequest) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for asset, p := range c.pending {
		if now.Sub(p.issued) >= c.ttl {
			delete(c.pending, asset)
		}
	}

	key := requestKey(req)
	if p, ok := c.pending[req.Asset]; ok && p.key == key {
		return p.id
	}
	id := uuid.NewString()
	c.pending[req.Asset] = pendingID{id: id, key: key, issued: now}
	return id
}

// done forgets the asset's outstanding ID once the open is acknowledged.
func (c *clientIDs) done(asset string) {
	c.mu.Lock()
	delete(c.pending, asset)
	c.mu.Unlock()
}
