// File: internal/engine/tenants/manager.go
package tenants

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/core"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/ttl"
)

var (
	ErrClosed        = errors.New("tenant manager is closed")
	ErrInvalidTenant = errors.New("invalid tenant id")
)

// DataStoreFactory picks the data store a tenant's expiration engine
// removes members from. store is the tenant's in-memory store.
type DataStoreFactory func(tenantID string, store *core.Store) (ttl.DataStore, error)

// InMemory expires members from the tenant's own store.
func InMemory(_ string, store *core.Store) (ttl.DataStore, error) {
	return store, nil
}

type Options struct {
	ShardCount    int
	MaxConcurrent int
	TTL           ttl.Config
	DataStore     DataStoreFactory
	Registerer    prometheus.Registerer
	Logger        *log.Logger
}

// Tenant bundles one tenant's store and expiration engine.
type Tenant struct {
	ID    string
	Store *core.Store
	TTL   *ttl.Manager
	// External is set when the engine removes members from a data store
	// other than Store, so Store does not hold the tenant's collections.
	External bool
}

// Manager manages per-tenant stores and engines
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	slots   map[string]chan struct{}
	closed  bool

	opts   Options
	group  singleflight.Group
	logger *log.Logger
}

func NewManager(opts Options) *Manager {
	if opts.ShardCount <= 0 {
		opts.ShardCount = 256
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 100
	}
	if opts.DataStore == nil {
		opts.DataStore = InMemory
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Manager{
		tenants: make(map[string]*Tenant),
		slots:   make(map[string]chan struct{}),
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Get returns the tenant, creating its store and engine on first use.
// Concurrent first calls for the same id share one creation.
func (tm *Manager) Get(tenantID string) (*Tenant, error) {
	if tenantID == "" {
		tenantID = "default"
	}

	tm.mu.RLock()
	t, ok := tm.tenants[tenantID]
	closed := tm.closed
	tm.mu.RUnlock()

	if ok {
		return t, nil
	}
	if closed {
		return nil, ErrClosed
	}

	v, err, _ := tm.group.Do(tenantID, func() (any, error) {
		tm.mu.RLock()
		existing, ok := tm.tenants[tenantID]
		tm.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created, err := tm.create(tenantID)
		if err != nil {
			return nil, err
		}

		tm.mu.Lock()
		defer tm.mu.Unlock()
		if tm.closed {
			created.TTL.Stop()
			return nil, ErrClosed
		}
		tm.tenants[tenantID] = created
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tenant), nil
}

func (tm *Manager) create(tenantID string) (*Tenant, error) {
	cfg := core.DefaultStoreConfig()
	cfg.ShardCount = tm.opts.ShardCount
	cfg.TenantID = tenantID
	store := core.NewStoreWithConfig(cfg)

	ds, err := tm.opts.DataStore(tenantID, store)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: data store: %w", tenantID, err)
	}

	ttlCfg := tm.opts.TTL
	ttlCfg.TenantID = tenantID
	if ttlCfg.Logger == nil {
		ttlCfg.Logger = tm.logger
	}
	engine := ttl.NewManager(ds, ttlCfg)
	if err := engine.RegisterMetrics(tm.opts.Registerer); err != nil {
		engine.Stop()
		return nil, fmt.Errorf("tenant %s: metrics: %w", tenantID, err)
	}

	external := ds != ttl.DataStore(store)
	tm.logger.Info("tenant created", "tenant", tenantID, "shards", store.GetShardCount(), "external_store", external)
	return &Tenant{ID: tenantID, Store: store, TTL: engine, External: external}, nil
}

// GetStore returns the tenant's store, or nil once the manager is closed.
func (tm *Manager) GetStore(tenantID string) *core.Store {
	t, err := tm.Get(tenantID)
	if err != nil {
		return nil
	}
	return t.Store
}

// AcquireTenant acquires slot for tenant
func (tm *Manager) AcquireTenant(tenantID string, timeout time.Duration) bool {
	tm.mu.Lock()
	ch, ok := tm.slots[tenantID]
	if !ok {
		ch = make(chan struct{}, tm.opts.MaxConcurrent)
		tm.slots[tenantID] = ch
	}
	tm.mu.Unlock()

	if timeout <= 0 {
		ch <- struct{}{}
		return true
	}

	select {
	case ch <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ReleaseTenant releases tenant slot
func (tm *Manager) ReleaseTenant(tenantID string) {
	tm.mu.RLock()
	ch, ok := tm.slots[tenantID]
	tm.mu.RUnlock()

	if !ok {
		return
	}

	select {
	case <-ch:
	default:
	}
}

// ListTenants returns all tenant IDs, sorted.
func (tm *Manager) ListTenants() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	ids := make([]string, 0, len(tm.tenants))
	for id := range tm.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Each calls fn for every tenant in id order.
func (tm *Manager) Each(fn func(t *Tenant)) {
	for _, id := range tm.ListTenants() {
		tm.mu.RLock()
		t, ok := tm.tenants[id]
		tm.mu.RUnlock()
		if ok {
			fn(t)
		}
	}
}

// Stats pairs a tenant's store and engine figures.
type Stats struct {
	Store core.Stats `json:"store"`
	TTL   ttl.Stats  `json:"ttl"`
}

// StatsAll returns a map tenantID -> Stats snapshot for all known tenants.
func (tm *Manager) StatsAll() map[string]Stats {
	tm.mu.RLock()
	all := make([]*Tenant, 0, len(tm.tenants))
	for _, t := range tm.tenants {
		all = append(all, t)
	}
	tm.mu.RUnlock()

	out := make(map[string]Stats, len(all))
	for _, t := range all {
		out[t.ID] = Stats{Store: t.Store.Stats(), TTL: t.TTL.Stats()}
	}
	return out
}

// RemoveTenant stops the tenant's engine and drops its store.
func (tm *Manager) RemoveTenant(tenantID string) bool {
	tm.mu.Lock()
	t, ok := tm.tenants[tenantID]
	if ok {
		delete(tm.tenants, tenantID)
		delete(tm.slots, tenantID)
	}
	tm.mu.Unlock()

	if !ok {
		return false
	}
	t.TTL.Stop()
	return true
}

// Close stops every engine. Stores stay readable so a final snapshot can
// still be taken.
func (tm *Manager) Close() {
	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		return
	}
	tm.closed = true
	all := make([]*Tenant, 0, len(tm.tenants))
	for _, t := range tm.tenants {
		all = append(all, t)
	}
	tm.mu.Unlock()

	for _, t := range all {
		t.TTL.Stop()
	}
	tm.logger.Info("tenant engines stopped", "tenants", len(all))
}
