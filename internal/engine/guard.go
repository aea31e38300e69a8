package engine

import (
	"context"
	"sync"
)

// assetGuard admits at most one pipeline per asset at a time.
type assetGuard struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newAssetGuard() *assetGuard {
	return &assetGuard{slots: make(map[string]chan struct{})}
}

func (g *assetGuard) slot(asset string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[asset]
	if !ok {
		s = make(chan struct{}, 1)
		g.slots[asset] = s
	}
	return s
}

// acquire blocks until the asset is free or ctx ends.
func (g *assetGuard) acquire(ctx context.Context, asset string) (func(), error) {
	s := g.slot(asset)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
