package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/golang/snappy"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/core"
)

const snapshotKeyPrefix = "snap/"

// PebbleSnapshotter keeps the latest snapshot of each tenant as a single
// snappy-framed value in a Pebble database under "snap/<tenant>".
type PebbleSnapshotter struct {
	mu   sync.Mutex
	db   *pebble.DB
	sync bool
}

// OpenPebbleSnapshotter opens (or creates) the database in dir. With
// fsync set every snapshot commit is synced to disk.
func OpenPebbleSnapshotter(dir string, fsync bool) (*PebbleSnapshotter, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleSnapshotter{db: db, sync: fsync}, nil
}

func snapshotKey(tenantID string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadTenantID, tenantID)
	}
	return []byte(snapshotKeyPrefix + tenantID), nil
}

func (p *PebbleSnapshotter) Snapshot(tenantID string, s *core.Store) error {
	key, err := snapshotKey(tenantID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	zw := snappy.NewBufferedWriter(&buf)
	if err := s.SnapshotTo(zw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, buf.Bytes(), nil); err != nil {
		return err
	}
	mode := pebble.NoSync
	if p.sync {
		mode = pebble.Sync
	}
	return b.Commit(mode)
}

func (p *PebbleSnapshotter) Restore(tenantID string, s *core.Store) (int, error) {
	key, err := snapshotKey(tenantID)
	if err != nil {
		return 0, err
	}

	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	data := append([]byte(nil), val...)
	closer.Close()

	return s.RestoreFrom(snappy.NewReader(bytes.NewReader(data)))
}

func (p *PebbleSnapshotter) Tenants() ([]string, error) {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(snapshotKeyPrefix),
		UpperBound: []byte(snapshotKeyPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []string
	for it.First(); it.Valid(); it.Next() {
		ids = append(ids, string(it.Key()[len(snapshotKeyPrefix):]))
	}
	return ids, it.Error()
}

// Delete drops the stored snapshot of a tenant.
func (p *PebbleSnapshotter) Delete(tenantID string) error {
	key, err := snapshotKey(tenantID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleSnapshotter) Close() error {
	return p.db.Close()
}
