// File: internal/adapter/persistence/noop_persister.go
package persistence

import (
	"github.com/AutoCookies/pomai-memberttl/internal/engine/core"
)

// NoOpSnapshotter does nothing (for testing or when persistence is disabled)
type NoOpSnapshotter struct{}

func NewNoOpSnapshotter() *NoOpSnapshotter {
	return &NoOpSnapshotter{}
}

func (n *NoOpSnapshotter) Snapshot(string, *core.Store) error {
	return nil
}

func (n *NoOpSnapshotter) Restore(string, *core.Store) (int, error) {
	return 0, nil
}

func (n *NoOpSnapshotter) Tenants() ([]string, error) {
	return nil, nil
}
