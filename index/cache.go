// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package index

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/metabase-project/metabase/record"
)

// CachePolicy selects the eviction strategy for the Registry's resident
// record cache.
type CachePolicy int

const (
	// CacheNone disables eviction: every record stays resident once put, the
	// pre-eviction default behavior.
	CacheNone CachePolicy = iota
	// CacheLRU evicts the least-recently-used entry, via
	// hashicorp/golang-lru/v2.
	CacheLRU
	// CacheLFU evicts the least-frequently-used entry. No ecosystem LFU
	// cache appears anywhere in the retrieval pack, so this is a small
	// hand-rolled frequency-counting map; see DESIGN.md.
	CacheLFU
)

// Loader reloads the authoritative record for path from the Storage
// Backend. Wired by manager.New, which is the only place that holds a
// Backend handle; the Registry itself never imports package storage. A nil
// Loader means evicted records cannot be recovered, which is only safe when
// CachePolicy is CacheNone (no eviction ever happens).
type Loader func(path string) (record.Record, bool)

// recordCache is the Registry's resident record store. A path tracked by
// the Registry (in order/pos/paths) need not have a resident body here —
// §5's "records evicted from the cache remain in the Storage Backend and
// are lazily reloaded on access" means a miss here is not "not found," it's
// "ask Loader." Every implementation below is safe for concurrent use on
// its own, since Registry.Get only takes the shared lock on the hot
// (resident) path.
type recordCache interface {
	get(path string) (record.Record, bool)
	put(path string, rec record.Record)
	remove(path string)
	purge()
	// snapshot/restore support Registry.Snapshot/Restore: a transaction
	// that does not durably commit must leave the resident set exactly as
	// it was, not just the order/pos/fields bookkeeping.
	snapshot() map[string]record.Record
	restore(data map[string]record.Record)
}

func newCache(policy CachePolicy, size int) recordCache {
	if size <= 0 || policy == CacheNone {
		return newUnboundedCache()
	}
	switch policy {
	case CacheLRU:
		c, err := lru.New[string, record.Record](size)
		if err != nil {
			return newUnboundedCache()
		}
		return &lruCache{c: c}
	case CacheLFU:
		return newLFUCache(size)
	default:
		return newUnboundedCache()
	}
}

// unboundedCache never evicts. It carries its own mutex because
// Registry.Get only takes r.mu.RLock() on the hit path, and a plain map is
// not safe for concurrent read/write without one (the bug this file fixes
// for lfuCache applies here too, just without an eviction policy to race
// on).
type unboundedCache struct {
	mu   sync.RWMutex
	data map[string]record.Record
}

func newUnboundedCache() *unboundedCache {
	return &unboundedCache{data: make(map[string]record.Record)}
}

func (u *unboundedCache) get(path string) (record.Record, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	rec, ok := u.data[path]
	return rec, ok
}

func (u *unboundedCache) put(path string, rec record.Record) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.data[path] = rec
}

func (u *unboundedCache) remove(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.data, path)
}

func (u *unboundedCache) purge() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.data = make(map[string]record.Record)
}

func (u *unboundedCache) snapshot() map[string]record.Record {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[string]record.Record, len(u.data))
	for k, v := range u.data {
		out[k] = v.Clone()
	}
	return out
}

func (u *unboundedCache) restore(data map[string]record.Record) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.data = data
}

// lruCache delegates to hashicorp/golang-lru/v2, which locks internally, so
// no additional mutex is needed here.
type lruCache struct {
	c *lru.Cache[string, record.Record]
}

func (l *lruCache) get(path string) (record.Record, bool) { return l.c.Get(path) }
func (l *lruCache) put(path string, rec record.Record)     { l.c.Add(path, rec) }
func (l *lruCache) remove(path string)                     { l.c.Remove(path) }
func (l *lruCache) purge()                                 { l.c.Purge() }

func (l *lruCache) snapshot() map[string]record.Record {
	out := make(map[string]record.Record, l.c.Len())
	for _, k := range l.c.Keys() {
		if rec, ok := l.c.Peek(k); ok {
			out[k] = rec.Clone()
		}
	}
	return out
}

func (l *lruCache) restore(data map[string]record.Record) {
	l.c.Purge()
	for k, v := range data {
		l.c.Add(k, v)
	}
}

// lfuCache evicts the entry with the lowest hit count, breaking ties by
// oldest insertion. Frequency is bumped on both get and put.
//
// Every method takes mu: Registry.Get calls get while holding only
// r.mu.RLock() (readers run concurrently per §5), so without its own lock
// two concurrent Gets racing on freq/seq/data would be a concurrent map
// read/write, not just a logic bug.
type lfuCache struct {
	mu    sync.Mutex
	size  int
	freq  map[string]int
	seq   map[string]int
	data  map[string]record.Record
	clock int
}

func newLFUCache(size int) *lfuCache {
	return &lfuCache{
		size: size,
		freq: make(map[string]int),
		seq:  make(map[string]int),
		data: make(map[string]record.Record),
	}
}

func (c *lfuCache) get(path string) (record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.data[path]
	if ok {
		c.freq[path]++
	}
	return rec, ok
}

func (c *lfuCache) put(path string, rec record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[path]; !exists && len(c.data) >= c.size {
		c.evictLocked()
	}
	c.data[path] = rec
	c.freq[path]++
	c.clock++
	c.seq[path] = c.clock
}

func (c *lfuCache) remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(path)
}

func (c *lfuCache) removeLocked(path string) {
	delete(c.data, path)
	delete(c.freq, path)
	delete(c.seq, path)
}

func (c *lfuCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]record.Record)
	c.freq = make(map[string]int)
	c.seq = make(map[string]int)
}

func (c *lfuCache) evictLocked() {
	var victim string
	best := -1
	for path, f := range c.freq {
		if best == -1 || f < best || (f == best && c.seq[path] < c.seq[victim]) {
			victim, best = path, f
		}
	}
	if victim != "" {
		c.removeLocked(victim)
	}
}

func (c *lfuCache) snapshot() map[string]record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]record.Record, len(c.data))
	for k, v := range c.data {
		out[k] = v.Clone()
	}
	return out
}

func (c *lfuCache) restore(data map[string]record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.freq = make(map[string]int, len(data))
	c.seq = make(map[string]int, len(data))
	seq := 0
	for k := range data {
		seq++
		c.freq[k] = 1
		c.seq[k] = seq
	}
}
