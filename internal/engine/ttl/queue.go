package ttl

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// pendingEntry is a schedule-time snapshot. It is a hint: the reaper acts
// on it only while the index still holds the same due-time.
type pendingEntry struct {
	id    Identity
	dueAt int64
}

type pushResult uint8

const (
	pushQueued pushResult = iota
	pushSpilled
	pushDropped
)

// PendingQueue hands entries from request goroutines to the reaper.
// Producers never block: a full channel either spills or drops,
// depending on the policy.
type PendingQueue struct {
	ch     chan pendingEntry
	policy OverflowPolicy

	mu          sync.Mutex
	overflow    []pendingEntry
	overflowLen atomic.Int64
}

func NewPendingQueue(capacity int, policy OverflowPolicy) *PendingQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &PendingQueue{
		ch:     make(chan pendingEntry, capacity),
		policy: policy,
	}
}

func (q *PendingQueue) push(e pendingEntry) pushResult {
	select {
	case q.ch <- e:
		return pushQueued
	default:
	}

	if q.policy == OverflowDrop {
		return pushDropped
	}

	q.mu.Lock()
	q.overflow = append(q.overflow, e)
	q.mu.Unlock()
	q.overflowLen.Add(1)
	return pushSpilled
}

// drain hands every entry currently available to fn without blocking and
// returns how many there were.
func (q *PendingQueue) drain(fn func(pendingEntry)) int {
	n := 0
	for {
		select {
		case e := <-q.ch:
			fn(e)
			n++
			continue
		default:
		}
		break
	}

	if q.overflowLen.Load() == 0 {
		return n
	}

	q.mu.Lock()
	spilled := q.overflow
	q.overflow = nil
	q.mu.Unlock()
	q.overflowLen.Add(-int64(len(spilled)))

	for _, e := range spilled {
		fn(e)
	}
	return n + len(spilled)
}

// Len is a point-in-time estimate.
func (q *PendingQueue) Len() int {
	return len(q.ch) + int(q.overflowLen.Load())
}

func (q *PendingQueue) Cap() int {
	return cap(q.ch)
}

// pendingHeap is a min-heap on dueAt. Ties are unordered.
type pendingHeap []pendingEntry

func (h pendingHeap) Len() int           { return len(h) }
func (h pendingHeap) Less(i, j int) bool { return h[i].dueAt < h[j].dueAt }
func (h pendingHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) {
	*h = append(*h, x.(pendingEntry))
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = pendingEntry{}
	*h = old[:n-1]
	return e
}

func (h *pendingHeap) pushEntry(e pendingEntry) {
	heap.Push(h, e)
}

func (h *pendingHeap) popEntry() pendingEntry {
	return heap.Pop(h).(pendingEntry)
}

// peek returns the minimum without removing it.
func (h pendingHeap) peek() (pendingEntry, bool) {
	if len(h) == 0 {
		return pendingEntry{}, false
	}
	return h[0], true
}
