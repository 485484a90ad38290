// File: internal/engine/ttl/manager.go
package ttl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
)

// Config tunes one expiration engine.
type Config struct {
	// Interval between reaper cycles.
	Interval time.Duration
	// QueueSize is the capacity of the bounded pending queue.
	QueueSize int
	Overflow  OverflowPolicy
	// LazyStart starts the reaper on the first positive schedule call.
	LazyStart bool
	TenantID  string
	Logger    *log.Logger
	Now       func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Interval:  100 * time.Millisecond,
		QueueSize: 10000,
		Overflow:  OverflowSpill,
		LazyStart: true,
		TenantID:  "default",
	}
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.Interval < time.Millisecond {
		c.Interval = time.Millisecond
	}
	if c.Interval > 5*time.Second {
		c.Interval = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.TenantID == "" {
		c.TenantID = "default"
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	c.Logger = c.Logger.WithPrefix("ttl").With("tenant", c.TenantID)
	if c.Now == nil {
		c.Now = time.Now
	}
}

type counters struct {
	scheduled atomic.Uint64
	cancelled atomic.Uint64
	immediate atomic.Uint64
	expired   atomic.Uint64
	stale     atomic.Uint64
	skipped   atomic.Uint64
	spilled   atomic.Uint64
	dropped   atomic.Uint64
}

// Stats is a point-in-time view of an engine.
type Stats struct {
	Active    int    `json:"active"`
	Pending   int    `json:"pending"`
	HeapSize  int    `json:"heap_size"`
	Running   bool   `json:"running"`
	Scheduled uint64 `json:"scheduled"`
	Cancelled uint64 `json:"cancelled"`
	Immediate uint64 `json:"immediate_deletes"`
	Expired   uint64 `json:"expired"`
	Stale     uint64 `json:"stale"`
	Skipped   uint64 `json:"skipped"`
	Spilled   uint64 `json:"spilled"`
	Dropped   uint64 `json:"dropped"`
}

// Manager is the scheduling API of one expiration engine. It owns the
// due-time index, the pending queue and the reaper.
type Manager struct {
	cfg    Config
	store  DataStore
	index  *Index
	queue  *PendingQueue
	reaper *Reaper
	logger *log.Logger

	counters counters

	startOnce sync.Once
	running   atomic.Bool
	closed    atomic.Bool
	stopped   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex

	collectors []collector
}

func NewManager(store DataStore, cfg Config) *Manager {
	cfg.normalize()

	m := &Manager{
		cfg:    cfg,
		store:  store,
		index:  NewIndex(),
		queue:  NewPendingQueue(cfg.QueueSize, cfg.Overflow),
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
	m.reaper = newReaper(m.index, m.queue, store, cfg, &m.counters)
	return m
}

// Expire attaches, overrides, cancels or applies immediately a TTL on one
// member of the collection at key:
//
//	ttl < 0   cancel, StatusNone
//	ttl == 0  remove the member now, StatusActive if it was removed
//	ttl > 0   schedule at now+ttl, StatusActive
//
// It never waits for the reaper.
func (m *Manager) Expire(key, member string, ttl int64, unit Unit) (Status, error) {
	if key == "" {
		return StatusNone, common.ErrEmptyKey
	}
	if member == "" {
		return StatusNone, common.ErrEmptyMember
	}
	if !unit.valid() {
		return StatusNone, ErrInvalidUnit
	}
	if m.closed.Load() {
		return StatusNone, ErrClosed
	}

	id := Identity{Key: key, Member: member}

	switch {
	case ttl < 0:
		m.index.Remove(id)
		m.counters.cancelled.Add(1)
		return StatusNone, nil
	case ttl == 0:
		return m.expireNow(id)
	}

	d, err := unit.Duration(ttl)
	if err != nil {
		return StatusNone, err
	}

	dueAt := m.cfg.Now().Add(d).UnixNano()
	m.index.Set(id, dueAt)

	switch m.queue.push(pendingEntry{id: id, dueAt: dueAt}) {
	case pushSpilled:
		m.counters.spilled.Add(1)
	case pushDropped:
		m.counters.dropped.Add(1)
		m.logger.Warn("pending queue full, expiration will not fire until rescheduled", "key", key, "member", member)
	}
	m.counters.scheduled.Add(1)

	if m.cfg.LazyStart {
		m.ensureStarted()
	}
	return StatusActive, nil
}

// ExpireDuration is Expire for callers holding a time.Duration; the TTL
// is applied with millisecond precision.
func (m *Manager) ExpireDuration(key, member string, ttl time.Duration) (Status, error) {
	ms := ttl.Milliseconds()
	if ttl > 0 && ms == 0 {
		ms = 1
	}
	return m.Expire(key, member, ms, UnitMilliseconds)
}

func (m *Manager) expireNow(id Identity) (Status, error) {
	n, err := RemoveMembers(m.store, id.Key, id.Member)
	if errors.Is(err, ErrNoCollection) {
		m.index.Remove(id)
		return StatusNone, nil
	}
	if err != nil {
		return StatusNone, err
	}

	m.index.Remove(id)
	m.counters.immediate.Add(1)
	if n == 0 {
		return StatusNone, nil
	}
	return StatusActive, nil
}

// TTLRemaining reports how long until the member's expiration fires. A
// due member the reaper has not reached yet reports 0, true.
func (m *Manager) TTLRemaining(key, member string) (time.Duration, bool) {
	dueAt, ok := m.index.Get(Identity{Key: key, Member: member})
	if !ok {
		return 0, false
	}
	remain := time.Duration(dueAt - m.cfg.Now().UnixNano())
	if remain < 0 {
		remain = 0
	}
	return remain, true
}

// Start runs the reaper until ctx is cancelled or Stop is called. Calling
// it more than once, or after a lazy start, is a no-op. Once the reaper
// has exited for either reason the engine is closed and Expire returns
// ErrClosed.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.startOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		runCtx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		m.running.Store(true)

		go func() {
			defer close(m.done)
			defer m.running.Store(false)
			m.reaper.Run(runCtx)
			if m.closed.CompareAndSwap(false, true) {
				m.logger.Warn("reaper context cancelled, expiration engine closed", "active", m.index.Len())
			}
		}()
	})
	return nil
}

func (m *Manager) ensureStarted() {
	if m.running.Load() {
		return
	}
	_ = m.Start(context.Background())
}

// Stop halts the reaper and waits for it to exit. Pending expirations are
// discarded. Stop is safe to call multiple times.
func (m *Manager) Stop() {
	if m.stopped.Swap(true) {
		return
	}
	m.closed.Store(true)

	// Consume the once so a racing lazy start cannot spawn a reaper later.
	m.startOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-m.done

	m.unregisterMetrics()
	m.logger.Debug("expiration engine stopped", "active", m.index.Len())
}

// Running reports whether the reaper goroutine is alive.
func (m *Manager) Running() bool {
	return m.running.Load()
}

func (m *Manager) Stats() Stats {
	return Stats{
		Active:    m.index.Len(),
		Pending:   m.queue.Len(),
		HeapSize:  m.reaper.HeapSize(),
		Running:   m.running.Load(),
		Scheduled: m.counters.scheduled.Load(),
		Cancelled: m.counters.cancelled.Load(),
		Immediate: m.counters.immediate.Load(),
		Expired:   m.counters.expired.Load(),
		Stale:     m.counters.stale.Load(),
		Skipped:   m.counters.skipped.Load(),
		Spilled:   m.counters.spilled.Load(),
		Dropped:   m.counters.dropped.Load(),
	}
}

func (m *Manager) Config() Config {
	return m.cfg
}
