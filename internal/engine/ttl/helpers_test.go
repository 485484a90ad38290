package ttl

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/core"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// newManualManager builds an engine whose reaper never runs on its own;
// tests drive it with RunCycle and a fake clock.
func newManualManager(t *testing.T, store DataStore, clock *fakeClock, mutate ...func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LazyStart = false
	cfg.Now = clock.Now
	cfg.Logger = quietLogger()
	for _, fn := range mutate {
		fn(&cfg)
	}
	m := NewManager(store, cfg)
	t.Cleanup(m.Stop)
	return m
}

// newLiveManager builds an engine with a real clock and a short interval.
func newLiveManager(t *testing.T, store DataStore) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.Logger = quietLogger()
	m := NewManager(store, cfg)
	t.Cleanup(m.Stop)
	return m
}

type memberCheck func(s *core.Store, key, member string) bool

func hashHas(s *core.Store, key, member string) bool {
	ok, _ := s.HExists(key, member)
	return ok
}

func setHas(s *core.Store, key, member string) bool {
	ok, _ := s.SIsMember(key, member)
	return ok
}

func zsetHas(s *core.Store, key, member string) bool {
	_, ok, _ := s.ZScore(key, member)
	return ok
}

// collectionKinds seeds one member per kind and returns how to check it.
var collectionKinds = []struct {
	name string
	add  func(s *core.Store, key, member string)
	has  memberCheck
}{
	{"hash", func(s *core.Store, k, m string) { s.HSet(k, m, []byte("v")) }, hashHas},
	{"set", func(s *core.Store, k, m string) { s.SAdd(k, m) }, setHas},
	{"zset", func(s *core.Store, k, m string) { s.ZAdd(k, 1, m) }, zsetHas},
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(deadline time.Duration, cond func() bool) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
