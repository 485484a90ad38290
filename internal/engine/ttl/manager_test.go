package ttl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/core"
)

func TestExpireRemovesMemberAtDueTime(t *testing.T) {
	for _, kind := range collectionKinds {
		t.Run(kind.name, func(t *testing.T) {
			clock := newFakeClock()
			store := core.NewStore(4)
			m := newManualManager(t, store, clock)

			kind.add(store, "col", "a")
			kind.add(store, "col", "b")

			st, err := m.Expire("col", "a", 1, UnitSeconds)
			if err != nil || st != StatusActive {
				t.Fatalf("expire = %v,%v want 1,nil", st, err)
			}

			m.reaper.RunCycle(clock.Advance(999 * time.Millisecond))
			if !kind.has(store, "col", "a") {
				t.Fatalf("member removed before its due time")
			}

			res := m.reaper.RunCycle(clock.Advance(time.Millisecond))
			if res.Removed != 1 {
				t.Fatalf("removed = %d, want 1", res.Removed)
			}
			if kind.has(store, "col", "a") {
				t.Fatalf("member still present after due time")
			}
			if !kind.has(store, "col", "b") {
				t.Fatalf("unscheduled member was removed")
			}
			if _, ok := m.TTLRemaining("col", "a"); ok {
				t.Fatalf("index still holds the expired member")
			}
		})
	}
}

func TestOverrideToShorterTTL(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock)
	store.SAdd("s", "m")

	m.Expire("s", "m", 10, UnitSeconds)
	m.Expire("s", "m", 1, UnitSeconds)

	res := m.reaper.RunCycle(clock.Advance(time.Second))
	if res.Removed != 1 {
		t.Fatalf("removed = %d, want 1", res.Removed)
	}

	// The superseded 10s entry finds nothing in the index.
	res = m.reaper.RunCycle(clock.Advance(9 * time.Second))
	if res.Absent != 1 || res.Removed != 0 {
		t.Fatalf("second cycle = %+v, want one absent entry", res)
	}
}

func TestOverrideToLongerTTL(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock)
	store.HSet("h", "f", []byte("v"))

	m.Expire("h", "f", 1, UnitSeconds)
	m.Expire("h", "f", 10, UnitSeconds)

	res := m.reaper.RunCycle(clock.Advance(time.Second))
	if res.Stale != 1 || res.Removed != 0 {
		t.Fatalf("first cycle = %+v, want one stale entry", res)
	}
	if !hashHas(store, "h", "f") {
		t.Fatalf("member removed at the superseded due time")
	}
	if remain, ok := m.TTLRemaining("h", "f"); !ok || remain != 9*time.Second {
		t.Fatalf("remaining = %v,%v want 9s,true", remain, ok)
	}

	res = m.reaper.RunCycle(clock.Advance(9 * time.Second))
	if res.Removed != 1 {
		t.Fatalf("removed = %d, want 1", res.Removed)
	}
	if hashHas(store, "h", "f") {
		t.Fatalf("member survived its final due time")
	}
}

func TestNegativeTTLCancels(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock)
	store.ZAdd("z", 1, "m")

	m.Expire("z", "m", 500, UnitMilliseconds)
	st, err := m.Expire("z", "m", -1, UnitSeconds)
	if err != nil || st != StatusNone {
		t.Fatalf("cancel = %v,%v want 0,nil", st, err)
	}

	res := m.reaper.RunCycle(clock.Advance(time.Second))
	if res.Absent != 1 || res.Removed != 0 {
		t.Fatalf("cycle = %+v, want one absent entry", res)
	}
	if !zsetHas(store, "z", "m") {
		t.Fatalf("cancelled member was removed")
	}
}

func TestCancelWithoutScheduleIsNoop(t *testing.T) {
	clock := newFakeClock()
	m := newManualManager(t, core.NewStore(4), clock)

	for i := 0; i < 3; i++ {
		st, err := m.Expire("missing", "m", -5, UnitSeconds)
		if err != nil || st != StatusNone {
			t.Fatalf("cancel #%d = %v,%v want 0,nil", i, st, err)
		}
	}
	if m.Stats().Active != 0 {
		t.Fatalf("cancel created index state")
	}
}

func TestZeroTTLRemovesImmediately(t *testing.T) {
	for _, kind := range collectionKinds {
		t.Run(kind.name, func(t *testing.T) {
			clock := newFakeClock()
			store := core.NewStore(4)
			m := newManualManager(t, store, clock)

			kind.add(store, "col", "a")
			kind.add(store, "col", "b")
			m.Expire("col", "a", 60, UnitSeconds)

			st, err := m.Expire("col", "a", 0, UnitSeconds)
			if err != nil || st != StatusActive {
				t.Fatalf("expire now = %v,%v want 1,nil", st, err)
			}
			if kind.has(store, "col", "a") {
				t.Fatalf("member not removed synchronously")
			}
			if _, ok := m.TTLRemaining("col", "a"); ok {
				t.Fatalf("index entry survived an immediate delete")
			}

			// Already gone.
			st, err = m.Expire("col", "a", 0, UnitSeconds)
			if err != nil || st != StatusNone {
				t.Fatalf("second expire now = %v,%v want 0,nil", st, err)
			}
		})
	}
}

func TestZeroTTLOnMissingCollection(t *testing.T) {
	clock := newFakeClock()
	m := newManualManager(t, core.NewStore(4), clock)

	m.Expire("gone", "m", 30, UnitSeconds)
	st, err := m.Expire("gone", "m", 0, UnitSeconds)
	if err != nil || st != StatusNone {
		t.Fatalf("expire now = %v,%v want 0,nil", st, err)
	}
	if _, ok := m.TTLRemaining("gone", "m"); ok {
		t.Fatalf("index entry should be cleared")
	}
}

func TestZeroTTLOnWrongTypeLeavesIndex(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock)
	store.Put("str", []byte("v"))

	m.Expire("str", "m", 30, UnitSeconds)
	_, err := m.Expire("str", "m", 0, UnitSeconds)
	if !errors.Is(err, common.ErrWrongType) {
		t.Fatalf("err = %v, want ErrWrongType", err)
	}
	if _, ok := m.TTLRemaining("str", "m"); !ok {
		t.Fatalf("index entry must survive a failed immediate delete")
	}
	if v, ok, _ := store.Get("str"); !ok || string(v) != "v" {
		t.Fatalf("string value was modified")
	}
}

func TestExpireValidation(t *testing.T) {
	clock := newFakeClock()
	m := newManualManager(t, core.NewStore(4), clock)

	if _, err := m.Expire("", "m", 1, UnitSeconds); !errors.Is(err, common.ErrEmptyKey) {
		t.Fatalf("empty key err = %v", err)
	}
	if _, err := m.Expire("k", "", 1, UnitSeconds); !errors.Is(err, common.ErrEmptyMember) {
		t.Fatalf("empty member err = %v", err)
	}
	if _, err := m.Expire("k", "m", 1, Unit(7)); !errors.Is(err, ErrInvalidUnit) {
		t.Fatalf("bad unit err = %v", err)
	}
	if _, err := m.Expire("k", "m", 1<<40, UnitSeconds); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("huge ttl err = %v", err)
	}
	if m.Stats().Active != 0 {
		t.Fatalf("rejected calls must not touch the index")
	}
}

func TestSchedulingDoesNotRequireCollection(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock)

	st, err := m.Expire("later", "m", 1, UnitSeconds)
	if err != nil || st != StatusActive {
		t.Fatalf("expire = %v,%v want 1,nil", st, err)
	}

	// Collection appears before the due time.
	store.SAdd("later", "m")
	res := m.reaper.RunCycle(clock.Advance(time.Second))
	if res.Removed != 1 || setHas(store, "later", "m") {
		t.Fatalf("cycle = %+v, member should be removed", res)
	}

	// Never created: confirmed but skipped.
	m.Expire("never", "m", 1, UnitSeconds)
	res = m.reaper.RunCycle(clock.Advance(time.Second))
	if res.Confirmed != 1 || res.Skipped != 1 {
		t.Fatalf("cycle = %+v, want one skipped entry", res)
	}
}

func TestReaperSkipsUnsupportedKind(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock)
	store.Put("str", []byte("v"))
	store.HSet("h", "f", []byte("v"))

	m.Expire("str", "f", 1, UnitSeconds)
	m.Expire("h", "f", 1, UnitSeconds)

	res := m.reaper.RunCycle(clock.Advance(time.Second))
	if res.Skipped != 1 || res.Removed != 1 {
		t.Fatalf("cycle = %+v, want one skipped and one removed", res)
	}
	if !store.Exists("str") {
		t.Fatalf("string key must be left untouched")
	}
}

type flakyStore struct {
	*core.Store
	failKey string
}

func (f *flakyStore) CollectionKind(key string) (common.Kind, error) {
	if key == f.failKey {
		return common.KindNone, errors.New("backend unavailable")
	}
	return f.Store.CollectionKind(key)
}

func TestReaperIsolatesStoreFailures(t *testing.T) {
	clock := newFakeClock()
	store := &flakyStore{Store: core.NewStore(4), failKey: "bad"}
	m := newManualManager(t, store, clock)

	store.SAdd("bad", "m")
	store.SAdd("good", "m")
	m.Expire("bad", "m", 1, UnitSeconds)
	m.Expire("good", "m", 1, UnitSeconds)

	res := m.reaper.RunCycle(clock.Advance(time.Second))
	if res.Skipped != 1 || res.Removed != 1 {
		t.Fatalf("cycle = %+v, want one skipped and one removed", res)
	}
	if setHas(store.Store, "good", "m") {
		t.Fatalf("failure on one key blocked removal on another")
	}
	if m.Stats().Skipped != 1 {
		t.Fatalf("skipped counter = %d, want 1", m.Stats().Skipped)
	}
}

func TestBulkExpirationCheckpoints(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(16)
	m := newManualManager(t, store, clock)

	const perKind = 1000
	for _, kind := range collectionKinds {
		for i := 0; i < perKind; i++ {
			member := fmt.Sprintf("m%04d", i)
			kind.add(store, kind.name, member)
			// Due at 1..10 seconds in buckets of 100.
			if _, err := m.Expire(kind.name, member, int64(i/100+1), UnitSeconds); err != nil {
				t.Fatalf("expire %s/%s: %v", kind.name, member, err)
			}
		}
	}

	remaining := func(kind int) int {
		n := 0
		for i := 0; i < perKind; i++ {
			if collectionKinds[kind].has(store, collectionKinds[kind].name, fmt.Sprintf("m%04d", i)) {
				n++
			}
		}
		return n
	}

	for step := 1; step <= 10; step++ {
		m.reaper.RunCycle(clock.Advance(time.Second))
		want := perKind - step*100
		for k := range collectionKinds {
			if got := remaining(k); got != want {
				t.Fatalf("after %ds %s has %d members, want %d", step, collectionKinds[k].name, got, want)
			}
		}
	}

	st := m.Stats()
	if st.Active != 0 || st.HeapSize != 0 {
		t.Fatalf("stats = %+v, want empty index and heap", st)
	}
	if st.Expired != 3*perKind {
		t.Fatalf("expired = %d, want %d", st.Expired, 3*perKind)
	}
	for _, kind := range collectionKinds {
		if store.Exists(kind.name) {
			t.Fatalf("empty %s collection was not dropped", kind.name)
		}
	}
}

func TestQueueSpillKeepsEveryEntry(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock, func(c *Config) {
		c.QueueSize = 1
		c.Overflow = OverflowSpill
	})

	for i := 0; i < 5; i++ {
		member := fmt.Sprintf("m%d", i)
		store.SAdd("s", member)
		m.Expire("s", member, 1, UnitSeconds)
	}
	if m.Stats().Spilled != 4 {
		t.Fatalf("spilled = %d, want 4", m.Stats().Spilled)
	}

	res := m.reaper.RunCycle(clock.Advance(time.Second))
	if res.Drained != 5 || res.Removed != 5 {
		t.Fatalf("cycle = %+v, want all five drained and removed", res)
	}
}

func TestQueueDropLeavesIndexEntry(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock, func(c *Config) {
		c.QueueSize = 1
		c.Overflow = OverflowDrop
	})

	store.SAdd("s", "a", "b")
	m.Expire("s", "a", 1, UnitSeconds)
	st, err := m.Expire("s", "b", 1, UnitSeconds)
	if err != nil || st != StatusActive {
		t.Fatalf("dropped schedule must still succeed: %v,%v", st, err)
	}
	if m.Stats().Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", m.Stats().Dropped)
	}

	m.reaper.RunCycle(clock.Advance(time.Second))
	if setHas(store, "s", "a") {
		t.Fatalf("queued member should be removed")
	}
	if !setHas(store, "s", "b") {
		t.Fatalf("dropped member should survive until rescheduled")
	}
	if _, ok := m.TTLRemaining("s", "b"); !ok {
		t.Fatalf("dropped entry must keep its index state")
	}

	m.Expire("s", "b", 1, UnitSeconds)
	m.reaper.RunCycle(clock.Advance(time.Second))
	if setHas(store, "s", "b") {
		t.Fatalf("rescheduled member should be removed")
	}
}

func TestConcurrentScheduleAndCancel(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(16)
	m := newManualManager(t, store, clock)

	const workers = 8
	const members = 200
	for w := 0; w < workers; w++ {
		for i := 0; i < members; i++ {
			store.HSet(fmt.Sprintf("h%d", w), fmt.Sprintf("f%d", i), []byte("v"))
		}
	}

	stop := make(chan struct{})
	reaped := make(chan struct{})
	go func() {
		defer close(reaped)
		for {
			select {
			case <-stop:
				return
			default:
				m.reaper.RunCycle(clock.Now())
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := fmt.Sprintf("h%d", w)
			for round := 0; round < 3; round++ {
				for i := 0; i < members; i++ {
					m.Expire(key, fmt.Sprintf("f%d", i), int64(round+1), UnitSeconds)
				}
			}
			// Even members end cancelled, odd ones stay scheduled.
			for i := 0; i < members; i += 2 {
				m.Expire(key, fmt.Sprintf("f%d", i), -1, UnitSeconds)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	<-reaped

	m.reaper.RunCycle(clock.Advance(3 * time.Second))

	for w := 0; w < workers; w++ {
		key := fmt.Sprintf("h%d", w)
		for i := 0; i < members; i++ {
			present := hashHas(store, key, fmt.Sprintf("f%d", i))
			if i%2 == 0 && !present {
				t.Fatalf("%s/f%d was cancelled but removed", key, i)
			}
			if i%2 == 1 && present {
				t.Fatalf("%s/f%d was scheduled but survived", key, i)
			}
		}
	}
	if m.Stats().Active != 0 {
		t.Fatalf("active = %d, want 0", m.Stats().Active)
	}
}

func TestLazyStartReapsInBackground(t *testing.T) {
	store := core.NewStore(4)
	m := newLiveManager(t, store)
	store.ZAdd("z", 1, "a")
	store.ZAdd("z", 2, "b")

	if m.Running() {
		t.Fatalf("reaper should not run before the first schedule")
	}
	if _, err := m.Expire("z", "a", 20, UnitMilliseconds); err != nil {
		t.Fatal(err)
	}
	if !m.Running() {
		t.Fatalf("first positive schedule should start the reaper")
	}

	if !waitFor(2*time.Second, func() bool { return !zsetHas(store, "z", "a") }) {
		t.Fatalf("member was not reaped in time")
	}
	if !zsetHas(store, "z", "b") {
		t.Fatalf("unscheduled member was removed")
	}
}

func TestExpireDurationRoundsUpSubMillisecond(t *testing.T) {
	clock := newFakeClock()
	m := newManualManager(t, core.NewStore(4), clock)

	m.ExpireDuration("k", "m", 300*time.Microsecond)
	if remain, ok := m.TTLRemaining("k", "m"); !ok || remain != time.Millisecond {
		t.Fatalf("remaining = %v,%v want 1ms,true", remain, ok)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	clock := newFakeClock()
	m := newManualManager(t, core.NewStore(4), clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	if !m.Running() {
		t.Fatalf("reaper not running after Start")
	}

	m.Stop()
	m.Stop()
	if m.Running() {
		t.Fatalf("reaper still running after Stop")
	}
	if _, err := m.Expire("k", "m", 1, UnitSeconds); !errors.Is(err, ErrClosed) {
		t.Fatalf("expire after stop err = %v, want ErrClosed", err)
	}
	if err := m.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after stop err = %v, want ErrClosed", err)
	}
}

func TestCancelledStartContextClosesEngine(t *testing.T) {
	store := core.NewStore(4)
	store.HSet("h", "f", []byte("v"))
	clock := newFakeClock()
	m := newManualManager(t, store, clock, func(c *Config) { c.LazyStart = true })

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if !waitFor(time.Second, func() bool { return !m.Running() }) {
		t.Fatalf("reaper still running after its context was cancelled")
	}

	st, err := m.Expire("h", "f", 10, UnitMilliseconds)
	if !errors.Is(err, ErrClosed) || st != StatusNone {
		t.Fatalf("expire after cancel = %d, %v; want 0, ErrClosed", st, err)
	}
	if _, ok := m.TTLRemaining("h", "f"); ok {
		t.Fatalf("schedule accepted by an engine with no reaper")
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("restart err = %v, want ErrClosed", err)
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop blocked after the reaper exited")
	}
}

func TestStopBeforeStart(t *testing.T) {
	clock := newFakeClock()
	m := newManualManager(t, core.NewStore(4), clock)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop blocked on an engine that never started")
	}
}

func TestMetricsRegisterAndUnregister(t *testing.T) {
	clock := newFakeClock()
	store := core.NewStore(4)
	m := newManualManager(t, store, clock, func(c *Config) { c.TenantID = "acme" })

	reg := prometheus.NewRegistry()
	if err := m.RegisterMetrics(reg); err != nil {
		t.Fatal(err)
	}
	m.Expire("k", "a", 5, UnitSeconds)
	m.Expire("k", "b", 5, UnitSeconds)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var active float64 = -1
	for _, f := range families {
		if f.GetName() != "pomai_member_ttl_active" {
			continue
		}
		metric := f.GetMetric()[0]
		for _, l := range metric.GetLabel() {
			if l.GetName() == "tenant" && l.GetValue() != "acme" {
				t.Fatalf("tenant label = %q", l.GetValue())
			}
		}
		active = metric.GetGauge().GetValue()
	}
	if active != 2 {
		t.Fatalf("active gauge = %v, want 2", active)
	}

	m.Stop()
	families, err = reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 0 {
		t.Fatalf("%d metric families left after Stop", len(families))
	}
}
