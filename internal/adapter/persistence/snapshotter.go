// File: internal/adapter/persistence/snapshotter.go
package persistence

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/core"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
)

// Snapshotter saves and restores tenant data stores. Expiration state is
// never part of a snapshot.
type Snapshotter interface {
	Snapshot(tenantID string, s *core.Store) error
	Restore(tenantID string, s *core.Store) (int, error)
	// Tenants lists the tenant ids that have a snapshot.
	Tenants() ([]string, error)
}

// RestoreAll loads every stored snapshot into its tenant and returns the
// number of keys restored.
func RestoreAll(sp Snapshotter, tm *tenants.Manager, logger *log.Logger) (int, error) {
	ids, err := sp.Tenants()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, id := range ids {
		t, err := tm.Get(id)
		if err != nil {
			return total, err
		}
		n, err := sp.Restore(id, t.Store)
		if err != nil {
			return total, err
		}
		logger.Info("snapshot restored", "tenant", id, "keys", n)
		total += n
	}
	return total, nil
}

// SnapshotAll snapshots every tenant, continuing past failures. The first
// error is returned.
func SnapshotAll(sp Snapshotter, tm *tenants.Manager, logger *log.Logger) error {
	var first error
	tm.Each(func(t *tenants.Tenant) {
		if err := sp.Snapshot(t.ID, t.Store); err != nil {
			logger.Error("snapshot failed", "tenant", t.ID, "err", err)
			if first == nil {
				first = err
			}
		}
	})
	return first
}

// PeriodicSnapshot snapshots every tenant each interval until ctx is done.
// It returns immediately.
func PeriodicSnapshot(ctx context.Context, sp Snapshotter, tm *tenants.Manager, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = SnapshotAll(sp, tm, logger)
			}
		}
	}()
}
