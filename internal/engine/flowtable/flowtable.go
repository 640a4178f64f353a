// Package flowtable provides a sharded concurrent map whose entries carry
// their own lock and version, so that updates to different keys never contend
// and removals can be made conditional on an entry being unchanged.
package flowtable

import (
	"sync"
)

const defaultShardCount = 256

// Entry wraps a value with the per-key lock and the version counter
// used by CompareAndRemove.
type Entry[V any] struct {
	mu      sync.Mutex
	version uint64
	removed bool
	value   V
}

// Shard is a part of the table, containing its own map and a mutex.
type Shard[K comparable, V any] struct {
	entries map[K]*Entry[V]
	mu      sync.RWMutex
}

// Table is a sharded map keyed by K. The shard lock only guards lookup,
// insert and removal; mutation of a value happens under its entry lock.
type Table[K comparable, V any] struct {
	shards     []*Shard[K, V]
	shardCount uint32
	hash       func(K) uint32
}

// New creates a table with shardCount shards. Out-of-range counts fall back to 256.
func New[K comparable, V any](shardCount uint32, hash func(K) uint32) *Table[K, V] {
	if shardCount == 0 || shardCount > 65536 {
		shardCount = defaultShardCount
	}
	t := &Table[K, V]{
		shards:     make([]*Shard[K, V], shardCount),
		shardCount: shardCount,
		hash:       hash,
	}
	for i := range t.shards {
		t.shards[i] = &Shard[K, V]{entries: make(map[K]*Entry[V])}
	}
	return t
}

// getShard returns the appropriate shard for a given key.
func (t *Table[K, V]) getShard(key K) *Shard[K, V] {
	return t.shards[t.hash(key)%t.shardCount]
}

// GetOrCreate returns the live entry for key, inserting a fresh one built by
// init when absent. The returned entry may be removed concurrently; Update
// handles that by retrying.
func (t *Table[K, V]) GetOrCreate(key K, init func() V) *Entry[V] {
	shard := t.getShard(key)

	shard.mu.RLock()
	e, ok := shard.entries[key]
	shard.mu.RUnlock()
	if ok {
		return e
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if e, ok = shard.entries[key]; ok {
		return e
	}
	e = &Entry[V]{value: init()}
	shard.entries[key] = e
	return e
}

// Update atomically fetches-or-creates the value for key and applies fn to it
// under the entry lock. Every Update bumps the entry version.
func (t *Table[K, V]) Update(key K, init func() V, fn func(v *V)) {
	for {
		e := t.GetOrCreate(key, init)
		e.mu.Lock()
		if e.removed {
			// Lost a race with CompareAndRemove; the key is gone from the map.
			e.mu.Unlock()
			continue
		}
		fn(&e.value)
		e.version++
		e.mu.Unlock()
		return
	}
}

// CompareAndRemove deletes key only while the table still maps it to e and
// e's version equals expected. It reports whether the entry was removed.
func (t *Table[K, V]) CompareAndRemove(key K, e *Entry[V], expected uint64) bool {
	shard := t.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if cur, ok := shard.entries[key]; !ok || cur != e {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.version != expected || e.removed {
		return false
	}
	e.removed = true
	delete(shard.entries, key)
	return true
}

// Visit calls fn for every entry under its entry lock. fn may mutate the value
// without bumping its version. When fn returns true the entry is removed with
// CompareAndRemove, so an entry touched by Update between the visit and the
// removal survives. Visit returns the number of entries removed.
func (t *Table[K, V]) Visit(fn func(key K, v *V) (remove bool)) int {
	type item struct {
		key   K
		entry *Entry[V]
	}

	removed := 0
	var items []item
	for _, shard := range t.shards {
		items = items[:0]
		shard.mu.RLock()
		for k, e := range shard.entries {
			items = append(items, item{key: k, entry: e})
		}
		shard.mu.RUnlock()

		for _, it := range items {
			it.entry.mu.Lock()
			if it.entry.removed {
				it.entry.mu.Unlock()
				continue
			}
			drop := fn(it.key, &it.entry.value)
			version := it.entry.version
			it.entry.mu.Unlock()

			if drop && t.CompareAndRemove(it.key, it.entry, version) {
				removed++
			}
		}
	}
	return removed
}

// Get returns a copy of the value stored for key.
func (t *Table[K, V]) Get(key K) (V, bool) {
	var out V
	ok := t.View(key, func(v *V) { out = *v })
	return out, ok
}

// View calls fn with the value stored for key while holding its entry lock.
// fn must not retain v. It reports whether key was present.
func (t *Table[K, V]) View(key K, fn func(v *V)) bool {
	shard := t.getShard(key)
	shard.mu.RLock()
	e, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	fn(&e.value)
	return true
}

// Version returns the current version of e.
func (e *Entry[V]) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Len returns the total number of entries in the table.
// Note: This is for testing/metrics purposes.
func (t *Table[K, V]) Len() int {
	count := 0
	for _, shard := range t.shards {
		shard.mu.RLock()
		count += len(shard.entries)
		shard.mu.RUnlock()
	}
	return count
}
