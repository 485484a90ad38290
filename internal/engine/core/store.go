// File: internal/engine/core/store.go
package core

import (
	"hash"
	"hash/fnv"
	"sync"
)

var hashPool = sync.Pool{
	New: func() any {
		return fnv.New32a()
	},
}

// Store is the keyed data store. Each key holds one collection: a string,
// a hash, a set or a sorted set.
type Store struct {
	config *StoreConfig

	shards     []*Shard
	shardCount uint32
	shardMask  uint32
}

func NewStore(shardCount int) *Store {
	config := DefaultStoreConfig()
	config.ShardCount = shardCount
	return NewStoreWithConfig(config)
}

func NewStoreWithConfig(config *StoreConfig) *Store {
	if config == nil {
		config = DefaultStoreConfig()
	}
	if config.ShardCount <= 0 {
		config.ShardCount = 256
	}
	if config.TenantID == "" {
		config.TenantID = "default"
	}

	shardCount := nextPowerOf2(config.ShardCount)
	config.ShardCount = shardCount

	s := &Store{
		config:     config,
		shards:     make([]*Shard, shardCount),
		shardCount: uint32(shardCount),
		shardMask:  uint32(shardCount - 1),
	}
	for i := 0; i < shardCount; i++ {
		s.shards[i] = NewShard()
	}
	return s
}

func (s *Store) getShard(key string) *Shard {
	h := hashPool.Get().(hash.Hash32)
	h.Reset()
	h.Write([]byte(key))
	idx := h.Sum32() & s.shardMask
	hashPool.Put(h)
	return s.shards[idx]
}

// Put stores a string value, replacing whatever key held before.
func (s *Store) Put(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	encoded := encodeValue(value, s.config.CompressThreshold)
	sh := s.getShard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.deleteLocked(key)
	c := newCollection(KindString)
	c.value = encoded
	sh.items[key] = c
	sh.addSizeLocked(c, int64(len(key)+len(encoded)))
	return nil
}

// Get returns a string value. A key of another kind returns ErrWrongType.
func (s *Store) Get(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	sh := s.getShard(key)
	sh.mu.RLock()
	c, err := sh.lookupLocked(key, KindString)
	if err != nil || c == nil {
		sh.mu.RUnlock()
		return nil, false, err
	}
	raw := c.value
	sh.mu.RUnlock()

	val, err := decodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Delete removes key whatever it holds.
func (s *Store) Delete(key string) bool {
	if key == "" {
		return false
	}
	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.deleteLocked(key)
}

func (s *Store) Exists(key string) bool {
	return s.KindOf(key) != KindNone
}

// KindOf reports the kind of the collection stored at key.
func (s *Store) KindOf(key string) Kind {
	if key == "" {
		return KindNone
	}
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if c, ok := sh.items[key]; ok {
		return c.kind
	}
	return KindNone
}

// CollectionKind lets the store serve as the expiration engine's data
// store. The in-memory lookup cannot fail.
func (s *Store) CollectionKind(key string) (Kind, error) {
	return s.KindOf(key), nil
}

// Type returns the kind name as the TYPE command reports it.
func (s *Store) Type(key string) string {
	return s.KindOf(key).String()
}

func (s *Store) Clear() {
	for _, sh := range s.shards {
		sh.Clear()
	}
}

func (s *Store) SetTenantID(tenantID string) {
	if tenantID == "" {
		tenantID = "default"
	}
	s.config.TenantID = tenantID
}

func (s *Store) GetTenantID() string {
	return s.config.TenantID
}

func (s *Store) GetConfig() *StoreConfig {
	return s.config
}

func (s *Store) GetShardCount() int {
	return int(s.shardCount)
}

func (s *Store) Stats() Stats {
	st := Stats{
		ByKind:     make(map[string]int),
		ShardCount: int(s.shardCount),
		TenantID:   s.config.TenantID,
	}

	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, c := range sh.items {
			st.Keys++
			st.Members += int64(c.members())
			st.ByKind[c.kind.String()]++
		}
		sh.mu.RUnlock()
		st.Bytes += sh.Bytes()
	}

	return st
}

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}
