package serviceconcurrency

import (
	"io"
	"iter"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/mitchellh/copystructure"
)

// Cache is the keyed value cache owned by a memoizing executor, reachable
// through its Cache method for direct reads and writes. Values written here
// manually are indistinguishable from fetched ones.
//
// Cache tracks the keys it has written, since the backing [Store] may not
// support enumeration. A key whose entry expired from the store stops being
// tracked the next time it is read.
type Cache[K comparable, V any] struct {
	mu     sync.Mutex
	store  Store[K, V]
	keys   mapset.Set[K]
	owned  bool
	copies bool
	closed bool

	onChange func(Change[K, V])
	obs      instruments
}

// Change describes one cache mutation, as delivered to [Config.OnChange].
type Change[K comparable, V any] struct {
	// Key is the mutated key.
	Key K

	// Value is the value written, or the zero V when Present is false.
	Value V

	// Present is true for writes and false for removals.
	Present bool

	// Cache is the cache the mutation happened in, letting one callback
	// serve several executors.
	Cache *Cache[K, V]
}

func newCache[K comparable, V any](cfg Config[K, V]) *Cache[K, V] {
	store, owned := cfg.Store, false
	if store == nil {
		store = NewMemoryStore[K, V](cfg.TTL)
		owned = true
	}
	return &Cache[K, V]{
		store:    store,
		keys:     mapset.NewThreadUnsafeSet[K](),
		owned:    owned,
		copies:   cfg.CopyValues,
		onChange: cfg.OnChange,
		obs:      cfg.instruments(),
	}
}

// Get returns the cached value for key, if any. When [Config.CopyValues] is
// set the returned value is a deep copy of the stored one.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	v, ok := c.lookup(key)
	c.mu.Unlock()
	if !ok {
		var zero V
		return zero, false
	}
	return c.copied(v), true
}

// lookup reads key from the store and keeps the tracked key set in sync with
// what the store still holds. The caller must hold c.mu.
func (c *Cache[K, V]) lookup(key K) (V, bool) {
	if c.closed {
		var zero V
		return zero, false
	}
	v, ok := c.store.Get(key)
	if !ok {
		c.keys.Remove(key)
		var zero V
		return zero, false
	}
	return v, true
}

// Set stores value under key and fires the change callback.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.store.Set(key, value)
	c.keys.Add(key)
	n := c.keys.Cardinality()
	c.mu.Unlock()

	c.obs.metrics.RecordCacheEntries(c.obs.name, n)
	c.notify(key, value, true)
}

// Remove evicts key and fires the change callback if its entry was still
// live. A tracked key whose entry already expired is dropped silently, like
// any other quiet expiration.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	had := c.keys.Contains(key)
	live := false
	if had {
		_, live = c.store.Get(key)
	}
	c.store.Remove(key)
	c.keys.Remove(key)
	n := c.keys.Cardinality()
	c.mu.Unlock()

	if had {
		c.obs.metrics.RecordCacheEntries(c.obs.name, n)
	}
	if live {
		var zero V
		c.notify(key, zero, false)
	}
}

// Contains reports whether key is live in the cache. Like Get, it restarts
// the key's expiration window.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key)
	return ok
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshot())
}

// Keys returns the keys of all live entries, in no particular order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.snapshot()
	keys := make([]K, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// All returns an iterator over the live entries, in no particular order. The
// entries are snapshotted up front, so the cache may be used freely while
// iterating. When [Config.CopyValues] is set each yielded value is a deep
// copy.
func (c *Cache[K, V]) All() iter.Seq2[K, V] {
	c.mu.Lock()
	entries := c.snapshot()
	c.mu.Unlock()

	return func(yield func(K, V) bool) {
		for _, e := range entries {
			if !yield(e.key, c.copied(e.value)) {
				return
			}
		}
	}
}

type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// snapshot collects the live entries among the tracked keys, pruning tracked
// keys whose entries expired from the store. The caller must hold c.mu.
func (c *Cache[K, V]) snapshot() []cacheEntry[K, V] {
	if c.closed {
		return nil
	}
	entries := make([]cacheEntry[K, V], 0, c.keys.Cardinality())
	for _, key := range c.keys.ToSlice() {
		v, ok := c.store.Get(key)
		if !ok {
			c.keys.Remove(key)
			continue
		}
		entries = append(entries, cacheEntry[K, V]{key: key, value: v})
	}
	return entries
}

// Clear removes every tracked entry, firing the change callback for each
// entry that was still live.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	removed := c.teardown()
	c.mu.Unlock()

	c.obs.metrics.RecordCacheEntries(c.obs.name, 0)
	c.notifyRemoved(removed)
}

// Close clears the cache and, when the backing store is owned and implements
// [io.Closer], closes it too. A borrowed store keeps running and keeps any
// entries written by others; only the entries this cache wrote are removed.
// Operations on a closed cache are no-ops and reads miss.
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	removed := c.teardown()
	c.closed = true
	var err error
	if c.owned {
		if closer, ok := c.store.(io.Closer); ok {
			err = closer.Close()
		}
	}
	c.mu.Unlock()

	c.obs.metrics.RecordCacheEntries(c.obs.name, 0)
	c.notifyRemoved(removed)
	return err
}

// teardown removes every tracked entry from the store and returns the keys
// that were still live. The caller must hold c.mu.
func (c *Cache[K, V]) teardown() []K {
	removed := make([]K, 0, c.keys.Cardinality())
	for _, key := range c.keys.ToSlice() {
		if _, ok := c.store.Get(key); ok {
			removed = append(removed, key)
		}
		c.store.Remove(key)
	}
	c.keys.Clear()
	return removed
}

func (c *Cache[K, V]) notifyRemoved(keys []K) {
	var zero V
	for _, key := range keys {
		c.notify(key, zero, false)
	}
}

func (c *Cache[K, V]) notify(key K, value V, present bool) {
	if c.onChange == nil {
		return
	}
	c.onChange(Change[K, V]{Key: key, Value: value, Present: present, Cache: c})
}

// copied returns a deep copy of v when [Config.CopyValues] is set. Values
// that cannot be copied are returned as is, with a warning.
func (c *Cache[K, V]) copied(v V) V {
	if !c.copies {
		return v
	}
	dup, err := copystructure.Copy(v)
	if err != nil {
		c.obs.warnf("returning shared value, deep copy failed: %v", err)
		return v
	}
	vv, ok := dup.(V)
	if !ok {
		return v
	}
	return vv
}
