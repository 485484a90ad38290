// File: internal/engine/core/shard.go
package core

import (
	"sync"
	"sync/atomic"
)

const (
	minCapacity = 64
)

// Shard owns a slice of the keyspace. All collection mutation happens
// under mu, so member removal and membership checks on one key never
// interleave.
type Shard struct {
	mu    sync.RWMutex
	items map[string]*collection
	bytes atomic.Int64
}

func NewShard() *Shard {
	return NewShardWithCapacity(minCapacity)
}

func NewShardWithCapacity(capacity int) *Shard {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &Shard{
		items: make(map[string]*collection, capacity),
	}
}

// lookupLocked returns the collection for key if it has the wanted kind.
// A missing key returns (nil, nil); a key of another kind returns
// ErrWrongType.
func (s *Shard) lookupLocked(key string, kind Kind) (*collection, error) {
	c, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	if c.kind != kind {
		return nil, ErrWrongType
	}
	return c, nil
}

// getOrCreateLocked returns the collection for key, creating it when
// missing.
func (s *Shard) getOrCreateLocked(key string, kind Kind) (*collection, error) {
	c, err := s.lookupLocked(key, kind)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = newCollection(kind)
		s.items[key] = c
		s.addSizeLocked(c, int64(len(key)))
	}
	return c, nil
}

func (s *Shard) addSizeLocked(c *collection, delta int64) {
	c.size += delta
	s.bytes.Add(delta)
}

// dropIfEmptyLocked removes key once its collection holds no members.
func (s *Shard) dropIfEmptyLocked(key string, c *collection) {
	if !c.empty() {
		return
	}
	delete(s.items, key)
	s.bytes.Add(-c.size)
}

func (s *Shard) deleteLocked(key string) bool {
	c, ok := s.items[key]
	if !ok {
		return false
	}
	delete(s.items, key)
	s.bytes.Add(-c.size)
	return true
}

func (s *Shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Shard) Bytes() int64 {
	return s.bytes.Load()
}

func (s *Shard) Clear() {
	s.mu.Lock()
	s.items = make(map[string]*collection, minCapacity)
	s.mu.Unlock()
	s.bytes.Store(0)
}
