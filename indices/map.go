// Package indices holds the lookup tables read by the packet receive
// path. Readers never lock: each shard publishes an immutable map
// through an atomic pointer and writers replace it under the shard's
// mutex.
package indices

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 16

type shard[K comparable, V any] struct {
	mu sync.Mutex
	m  atomic.Pointer[map[K]V]
}

// Map is a sharded copy-on-write map. Load is wait-free; Store and
// Delete copy one shard.
type Map[K comparable, V any] struct {
	hash   func(K) uint64
	shards [shardCount]shard[K, V]
}

// NewMap returns an empty map that distributes keys with hash.
func NewMap[K comparable, V any](hash func(K) uint64) *Map[K, V] {
	m := &Map[K, V]{hash: hash}
	for i := range m.shards {
		empty := map[K]V{}
		m.shards[i].m.Store(&empty)
	}
	return m
}

// HashUint64 hashes an integer key.
func HashUint64(v uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return xxhash.Sum64(b[:])
}

func (m *Map[K, V]) shard(k K) *shard[K, V] {
	return &m.shards[m.hash(k)%shardCount]
}

// Load returns the value at k.
func (m *Map[K, V]) Load(k K) (V, bool) {
	v, ok := (*m.shard(k).m.Load())[k]
	return v, ok
}

// Store sets the value at k.
func (m *Map[K, V]) Store(k K, v V) {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.m.Load()
	next := make(map[K]V, len(cur)+1)
	for ck, cv := range cur {
		next[ck] = cv
	}
	next[k] = v
	s.m.Store(&next)
}

// Delete removes k.
func (m *Map[K, V]) Delete(k K) {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.m.Load()
	if _, ok := cur[k]; !ok {
		return
	}
	next := make(map[K]V, len(cur))
	for ck, cv := range cur {
		if ck != k {
			next[ck] = cv
		}
	}
	s.m.Store(&next)
}

// Len returns the number of entries. It is a snapshot per shard, not
// a consistent count across shards.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		n += len(*m.shards[i].m.Load())
	}
	return n
}
