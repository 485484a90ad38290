package ttl

import (
	"errors"
	"testing"
	"time"
)

func TestIndexSetOverwritesAndRemoveIsIdempotent(t *testing.T) {
	x := NewIndex()
	id := Identity{Key: "k", Member: "m"}

	x.Set(id, 10)
	x.Set(id, 20)
	if due, ok := x.Get(id); !ok || due != 20 {
		t.Fatalf("get = %d,%v want 20,true", due, ok)
	}
	if !x.Remove(id) {
		t.Fatalf("expected first remove to report presence")
	}
	if x.Remove(id) {
		t.Fatalf("expected second remove to be a no-op")
	}
}

func TestIdentityDoesNotCollide(t *testing.T) {
	x := NewIndex()
	x.Set(Identity{Key: "ab", Member: "c"}, 1)
	x.Set(Identity{Key: "a", Member: "bc"}, 2)

	if x.Len() != 2 {
		t.Fatalf("expected 2 distinct identities, got %d", x.Len())
	}
}

func TestConfirmAndRemove(t *testing.T) {
	x := NewIndex()
	id := Identity{Key: "k", Member: "m"}

	if got := x.confirmAndRemove(id, 5); got != confirmAbsent {
		t.Fatalf("absent id: got %v", got)
	}

	x.Set(id, 7)
	if got := x.confirmAndRemove(id, 5); got != confirmStale {
		t.Fatalf("stale entry: got %v", got)
	}
	if _, ok := x.Get(id); !ok {
		t.Fatalf("stale check must not remove the entry")
	}
	if got := x.confirmAndRemove(id, 7); got != confirmed {
		t.Fatalf("matching entry: got %v", got)
	}
	if _, ok := x.Get(id); ok {
		t.Fatalf("confirmed entry must be removed")
	}
}

func TestParseUnitAndTTL(t *testing.T) {
	cases := []struct {
		raw  string
		want Unit
		err  bool
	}{
		{"", UnitSeconds, false},
		{"s", UnitSeconds, false},
		{"MS", UnitMilliseconds, false},
		{" ms ", UnitMilliseconds, false},
		{"h", 0, true},
		{"seconds", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseUnit(tc.raw)
		if tc.err {
			if !errors.Is(err, ErrInvalidUnit) {
				t.Fatalf("ParseUnit(%q) err = %v, want ErrInvalidUnit", tc.raw, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseUnit(%q) = %v,%v want %v", tc.raw, got, err, tc.want)
		}
	}

	if v, err := ParseTTL("-1"); err != nil || v != -1 {
		t.Fatalf("ParseTTL(-1) = %d,%v", v, err)
	}
	if _, err := ParseTTL("1.5"); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("ParseTTL(1.5) err = %v, want ErrInvalidTTL", err)
	}
}

func TestUnitDurationRejectsOverflow(t *testing.T) {
	if d, err := UnitMilliseconds.Duration(1500); err != nil || d != 1500*time.Millisecond {
		t.Fatalf("1500ms = %v,%v", d, err)
	}
	if _, err := UnitSeconds.Duration(1 << 62); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("huge ttl err = %v, want ErrInvalidTTL", err)
	}
	if _, err := Unit(9).Duration(1); !errors.Is(err, ErrInvalidUnit) {
		t.Fatalf("bad unit err = %v, want ErrInvalidUnit", err)
	}
}

func TestPendingQueueOverflowPolicies(t *testing.T) {
	e := pendingEntry{id: Identity{Key: "k", Member: "m"}, dueAt: 1}

	spill := NewPendingQueue(1, OverflowSpill)
	if spill.push(e) != pushQueued {
		t.Fatalf("first push should be queued")
	}
	if spill.push(e) != pushSpilled {
		t.Fatalf("second push should spill")
	}
	if spill.Len() != 2 {
		t.Fatalf("len = %d, want 2", spill.Len())
	}
	if n := spill.drain(func(pendingEntry) {}); n != 2 {
		t.Fatalf("drained %d, want 2", n)
	}
	if spill.Len() != 0 {
		t.Fatalf("queue should be empty after drain")
	}

	drop := NewPendingQueue(1, OverflowDrop)
	drop.push(e)
	if drop.push(e) != pushDropped {
		t.Fatalf("second push should drop")
	}
	if n := drop.drain(func(pendingEntry) {}); n != 1 {
		t.Fatalf("drained %d, want 1", n)
	}
}

func TestPendingHeapOrdersByDueTime(t *testing.T) {
	var h pendingHeap
	for _, due := range []int64{50, 10, 40, 20, 30} {
		h.pushEntry(pendingEntry{dueAt: due})
	}
	prev := int64(-1)
	for h.Len() > 0 {
		e := h.popEntry()
		if e.dueAt < prev {
			t.Fatalf("heap popped %d after %d", e.dueAt, prev)
		}
		prev = e.dueAt
	}
}
