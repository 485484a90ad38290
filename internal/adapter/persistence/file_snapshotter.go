package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/core"
)

const snapshotExt = ".snap"

var ErrBadTenantID = errors.New("tenant id cannot be used as a file name")

// FileSnapshotter writes one snappy-framed snapshot per tenant to Dir,
// atomically (temp + rename).
type FileSnapshotter struct {
	Dir string
}

func NewFileSnapshotter(dir string) *FileSnapshotter {
	return &FileSnapshotter{Dir: dir}
}

func (p *FileSnapshotter) path(tenantID string) (string, error) {
	if tenantID == "" || tenantID != filepath.Base(tenantID) || strings.HasPrefix(tenantID, ".") {
		return "", fmt.Errorf("%w: %q", ErrBadTenantID, tenantID)
	}
	return filepath.Join(p.Dir, tenantID+snapshotExt), nil
}

// Snapshot performs a synchronous snapshot of one tenant.
func (p *FileSnapshotter) Snapshot(tenantID string, s *core.Store) error {
	dst, err := p.path(tenantID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp.%d", dst, time.Now().UnixNano())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	zw := snappy.NewBufferedWriter(f)
	if err := s.SnapshotTo(zw); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// Restore loads the tenant's snapshot if one exists.
func (p *FileSnapshotter) Restore(tenantID string, s *core.Store) (int, error) {
	src, err := p.path(tenantID)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	return s.RestoreFrom(snappy.NewReader(f))
}

func (p *FileSnapshotter) Tenants() ([]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, snapshotExt))
	}
	sort.Strings(ids)
	return ids, nil
}
