// File: internal/engine/concurrency/singleflight.go
package concurrency

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Manager handles request coalescing (Thundering Herd protection)
type Manager struct {
	g singleflight.Group
}

// NewManager creates singleflight manager
func NewManager() *Manager {
	return &Manager{}
}

// Do executes fn once for duplicate concurrent calls with the same key.
// A caller whose ctx ends stops waiting; the shared call keeps running
// for the others.
//
// Usage:
//
//	v, shared, err := manager.Do(ctx, "stats", func(ctx context.Context) (any, error) {
//	    return tenants.StatsAll(), nil
//	})
func (m *Manager) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	resCh := m.g.DoChan(key, func() (any, error) {
		return fn(ctx)
	})

	select {
	case res := <-resCh:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Forget removes key from singleflight cache
func (m *Manager) Forget(key string) {
	m.g.Forget(key)
}
