package ttl

import "sync"

type confirmResult uint8

const (
	confirmAbsent confirmResult = iota
	confirmStale
	confirmed
)

// Index is the authoritative map from identity to due-time (Unix nanos).
// One mutex guards the whole map; every critical section is a single map
// operation.
type Index struct {
	mu  sync.Mutex
	due map[Identity]int64
}

func NewIndex() *Index {
	return &Index{due: make(map[Identity]int64)}
}

// Set overwrites any existing due-time for id.
func (x *Index) Set(id Identity, dueAt int64) {
	x.mu.Lock()
	x.due[id] = dueAt
	x.mu.Unlock()
}

// Remove deletes id and reports whether it was present.
func (x *Index) Remove(id Identity) bool {
	x.mu.Lock()
	_, ok := x.due[id]
	delete(x.due, id)
	x.mu.Unlock()
	return ok
}

func (x *Index) Get(id Identity) (int64, bool) {
	x.mu.Lock()
	dueAt, ok := x.due[id]
	x.mu.Unlock()
	return dueAt, ok
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.due)
}

// confirmAndRemove removes id only if its current due-time equals dueAt.
// Check and removal share one critical section so an override landing
// between them cannot be lost.
func (x *Index) confirmAndRemove(id Identity, dueAt int64) confirmResult {
	x.mu.Lock()
	defer x.mu.Unlock()

	current, ok := x.due[id]
	if !ok {
		return confirmAbsent
	}
	if current != dueAt {
		return confirmStale
	}
	delete(x.due, id)
	return confirmed
}
