// File: internal/engine/ttl/reaper.go
package ttl

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// CycleResult summarises one reaper pass.
type CycleResult struct {
	Drained   int
	Confirmed int
	Stale     int
	Absent    int
	Removed   int
	Skipped   int
	HeapSize  int
}

// Reaper is the single background worker that turns pending entries into
// removals. The heap is owned by the reaper goroutine and survives across
// cycles; only newly drained entries are merged in.
type Reaper struct {
	index    *Index
	queue    *PendingQueue
	store    DataStore
	interval time.Duration
	logger   *log.Logger
	counters *counters
	now      func() time.Time

	heap     pendingHeap
	heapSize atomic.Int64
}

func newReaper(index *Index, queue *PendingQueue, store DataStore, cfg Config, c *counters) *Reaper {
	return &Reaper{
		index:    index,
		queue:    queue,
		store:    store,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		counters: c,
		now:      cfg.Now,
	}
}

// Run blocks until ctx is cancelled, running one cycle per interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("reaper started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reaper stopped", "heap", r.heap.Len())
			return
		case <-ticker.C:
			res := r.RunCycle(r.now())
			if res.Removed > 0 || res.Skipped > 0 {
				r.logger.Debug("reaped expired members",
					"removed", res.Removed,
					"confirmed", res.Confirmed,
					"stale", res.Stale,
					"skipped", res.Skipped,
					"heap", res.HeapSize,
				)
			}
		}
	}
}

// RunCycle drains the pending queue, confirms every entry due at now
// against the index and removes the confirmed members from the store.
func (r *Reaper) RunCycle(now time.Time) CycleResult {
	var res CycleResult

	res.Drained = r.queue.drain(r.heap.pushEntry)

	nowNano := now.UnixNano()
	batches := make(map[string][]string)
	order := make([]string, 0)

	for {
		top, ok := r.heap.peek()
		if !ok || top.dueAt > nowNano {
			break
		}
		e := r.heap.popEntry()

		switch r.index.confirmAndRemove(e.id, e.dueAt) {
		case confirmAbsent:
			res.Absent++
		case confirmStale:
			res.Stale++
		case confirmed:
			res.Confirmed++
			if _, seen := batches[e.id.Key]; !seen {
				order = append(order, e.id.Key)
			}
			batches[e.id.Key] = append(batches[e.id.Key], e.id.Member)
		}
	}

	for _, key := range order {
		members := batches[key]
		n, err := RemoveMembers(r.store, key, members...)
		if err != nil {
			res.Skipped += len(members)
			if !errors.Is(err, ErrNoCollection) {
				r.logger.Debug("skipping expired members", "key", key, "members", len(members), "err", err)
			}
			continue
		}
		res.Removed += n
	}

	res.HeapSize = r.heap.Len()
	r.heapSize.Store(int64(res.HeapSize))

	r.counters.expired.Add(uint64(res.Removed))
	r.counters.stale.Add(uint64(res.Stale))
	r.counters.skipped.Add(uint64(res.Skipped))
	return res
}

// HeapSize is the heap length after the last cycle.
func (r *Reaper) HeapSize() int {
	return int(r.heapSize.Load())
}
