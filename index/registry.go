// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package index implements the Index Registry: the primary path→record
// mapping plus incrementally maintained secondary inverted indexes, an
// optional record cache, and a prefix trie over canonical paths for
// root-containment queries. Grounded on the locking discipline of
// storage/inmem and on the teacher's own BuildIndex-under-exclusive-lock
// pattern for index creation (see DESIGN.md, Open Question 3).
package index

import (
	"sort"
	"sync"

	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/value"
)

// Registry holds the primary path→record mapping and secondary indexes. All
// methods are safe for concurrent use; callers take no lock themselves,
// matching §5's "Index Registry carries a single read-write lock."
//
// "Known" paths (order/pos/paths, the patricia trie) are tracked
// separately from resident record bodies (cache): a path can be known
// without its body being resident, per §5's resource cap — "records evicted
// from the cache remain in the Storage Backend and are lazily reloaded on
// access." cache is therefore the sole, authoritative home for record
// bodies; there is no second always-resident map duplicating it.
type Registry struct {
	mu sync.RWMutex

	order []string
	pos   map[string]int

	fields map[string]*fieldIndex
	paths  *patricia.Trie
	cache  recordCache
	loader Loader

	onCacheResult func(hit bool)
}

// Options configures a new Registry.
type Options struct {
	// Fields is the initial set of secondary-indexed dotted field names.
	Fields []string
	// CachePolicy and CacheSize configure the resident record cache. Size
	// <= 0 or CacheNone means every record stays resident (no eviction, no
	// Loader needed).
	CachePolicy CachePolicy
	CacheSize   int
	// Loader reloads a record from the Storage Backend when the resident
	// cache has evicted it. manager.New is the only constructor that wires
	// this, since it is the only holder of a Backend handle; a bare
	// Registry used without one (as in this package's own tests) simply
	// cannot recover an evicted record.
	Loader Loader
	// OnCacheResult, if non-nil, is invoked after every Get with whether the
	// record cache was hit, for a caller (e.g. metrics.Registry) to report.
	OnCacheResult func(hit bool)
}

// New returns an empty Registry configured by opts.
func New(opts Options) *Registry {
	r := &Registry{
		pos:           make(map[string]int),
		fields:        make(map[string]*fieldIndex),
		paths:         patricia.NewTrie(),
		cache:         newCache(opts.CachePolicy, opts.CacheSize),
		loader:        opts.Loader,
		onCacheResult: opts.OnCacheResult,
	}
	for _, f := range opts.Fields {
		r.fields[f] = newFieldIndex()
	}
	return r
}

// Get returns the record stored for path, and whether it was found. A path
// that is known but currently evicted from the resident cache is
// transparently reloaded via Loader (§5: "lazily reloaded on access")
// rather than reported as absent.
func (r *Registry) Get(path string) (record.Record, bool) {
	r.mu.RLock()
	rec, ok := r.cache.get(path)
	r.mu.RUnlock()
	if ok {
		r.reportCache(true)
		return rec, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.cache.get(path); ok {
		r.reportCache(true)
		return rec, true
	}
	if _, known := r.pos[path]; !known || r.loader == nil {
		r.reportCache(false)
		return record.Record{}, false
	}
	rec, ok = r.loader(path)
	if !ok {
		r.reportCache(false)
		return record.Record{}, false
	}
	// The exclusive lock is held from the known-check above through the
	// loader call and this put, so a concurrent delete cannot slip in
	// between them. The re-check is a second guard: caching a reload for a
	// path no longer known would resurrect a removed record on the next Get.
	if _, stillKnown := r.pos[path]; stillKnown {
		r.cache.put(path, rec)
	}
	r.reportCache(false)
	return rec, true
}

func (r *Registry) reportCache(hit bool) {
	if r.onCacheResult != nil {
		r.onCacheResult(hit)
	}
}

// Put inserts or replaces the record for path, maintaining secondary
// indexes and the path trie. Callers hold the exclusive lock implicitly by
// calling this method; the Registry does its own locking.
func (r *Registry) Put(path string, rec record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(path, rec)
}

// residentOrReloadLocked returns path's current body, reloading via Loader
// if it had already been evicted from the resident cache. Used both to
// recover the pre-update value for unindexing and to backfill a new
// secondary index over paths whose bodies are not currently resident.
// Called only while r.mu is held exclusively.
func (r *Registry) residentOrReloadLocked(path string) (record.Record, bool) {
	if old, ok := r.cache.get(path); ok {
		return old, true
	}
	if r.loader == nil {
		return record.Record{}, false
	}
	return r.loader(path)
}

func (r *Registry) putLocked(path string, rec record.Record) {
	if _, existed := r.pos[path]; existed {
		if old, ok := r.residentOrReloadLocked(path); ok {
			r.unindexLocked(path, old)
		}
	} else {
		r.pos[path] = len(r.order)
		r.order = append(r.order, path)
		r.paths.Insert(patricia.Prefix(path), true)
	}
	r.indexLocked(path, rec)
	r.cache.put(path, rec)
}

// Delete removes the record for path, if present, and reports whether it
// existed.
func (r *Registry) Delete(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, existed := r.pos[path]
	if !existed {
		return false
	}
	if old, ok := r.residentOrReloadLocked(path); ok {
		r.unindexLocked(path, old)
	}
	r.cache.remove(path)

	r.order = append(r.order[:i], r.order[i+1:]...)
	delete(r.pos, path)
	for j := i; j < len(r.order); j++ {
		r.pos[r.order[j]] = j
	}
	r.paths.Delete(patricia.Prefix(path))
	return true
}

func (r *Registry) indexLocked(path string, rec record.Record) {
	if len(r.fields) == 0 {
		return
	}
	view := rec.Fields()
	for dotted, fi := range r.fields {
		values, isList := fieldValues(view, dotted)
		if len(values) > 0 && !isList {
			fi.listOnly = false
		}
		for _, v := range values {
			fi.add(v, path)
		}
	}
}

func (r *Registry) unindexLocked(path string, rec record.Record) {
	if len(r.fields) == 0 {
		return
	}
	view := rec.Fields()
	for dotted, fi := range r.fields {
		values, _ := fieldValues(view, dotted)
		for _, v := range values {
			fi.remove(v, path)
		}
	}
}

// CreateIndex declares a new secondary index over dotted, taking the
// exclusive lock for a full backfill pass over existing records. Per
// DESIGN.md's Open Question 3 resolution, this blocks all other readers and
// writers for the duration of the backfill.
func (r *Registry) CreateIndex(dotted string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fields[dotted]; exists {
		return
	}
	fi := newFieldIndex()
	for _, path := range r.order {
		rec, ok := r.residentOrReloadLocked(path)
		if !ok {
			continue
		}
		view := rec.Fields()
		values, isList := fieldValues(view, dotted)
		if len(values) > 0 && !isList {
			fi.listOnly = false
		}
		for _, v := range values {
			fi.add(v, path)
		}
	}
	r.fields[dotted] = fi
}

// HasIndex reports whether dotted has a secondary index.
func (r *Registry) HasIndex(dotted string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[dotted]
	return ok
}

// IsListField reports whether dotted is secondary-indexed and every record
// ever indexed under it held a list value. This is the condition under
// which an exact-bucket lookup can correctly answer a $contains query: list
// containment is exact-element equality, which the bucket already encodes,
// but string substring containment is not indexable at all, so a field that
// has ever carried a scalar (e.g. a plain string) must not take the index
// shortcut — see query.Engine.plan.
func (r *Registry) IsListField(dotted string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fi, ok := r.fields[dotted]
	return ok && fi.listOnly
}

// IndexedFields returns the dotted field names that currently carry a
// secondary index, sorted for deterministic export. Used by
// ExportMetadata's "indexes" hint-on-restore list (§6).
func (r *Registry) IndexedFields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fields))
	for f := range r.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the candidate path set for an indexed (field, value) pair,
// and whether that field is indexed at all. The returned slice follows
// primary insertion order.
func (r *Registry) Lookup(dotted string, v value.Value) (paths []string, indexed bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fi, ok := r.fields[dotted]
	if !ok {
		return nil, false
	}
	set := fi.lookup(v)
	return r.orderedLocked(set), true
}

// BucketSize reports the candidate set size for (dotted, v), used by the
// Query Engine planner as a selectivity estimate. Returns -1 if unindexed.
func (r *Registry) BucketSize(dotted string, v value.Value) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fi, ok := r.fields[dotted]
	if !ok {
		return -1
	}
	set := fi.lookup(v)
	return len(set)
}

func (r *Registry) orderedLocked(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for _, p := range r.order {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// AllPaths returns every indexed path in primary insertion order. The
// caller owns the returned slice.
func (r *Registry) AllPaths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// UnderRoot reports whether any indexed path is contained in (has prefix)
// root, using the patricia trie for O(len(root)) lookup.
func (r *Registry) UnderRoot(root string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := false
	_ = r.paths.VisitSubtree(patricia.Prefix(root), func(_ patricia.Prefix, _ patricia.Item) error {
		found = true
		return nil
	})
	return found
}

// Roots returns the distinct directories containing currently-indexed
// files, used as the Sync Reconciler's default walk roots (DESIGN.md Open
// Question 2).
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var roots []string
	for _, p := range r.order {
		dir := dirOf(p)
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			roots = append(roots, dir)
		}
	}
	return roots
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "."
}

// Len reports the number of known paths (resident or evicted).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshot is a deep, point-in-time copy of the Registry's state. The
// Registry itself has no transaction of its own — the Manager takes a
// Snapshot before running a backend transaction's body and Restores it if
// that transaction later fails to commit, so an eagerly-applied Put/Delete
// never survives a rolled-back write (§8 invariant 1: the primary index
// must always agree with storage.iter_all() at every quiescent point).
//
// cache is snapshotted too, not just purged on Restore: a transaction that
// evicts an entry and replaces it with an uncommitted value must not leave
// that uncommitted value resident after rollback merely because Restore
// purged the cache (the next Get would then silently reload the correct,
// pre-transaction value from the backend — harmless for that path alone,
// but the resident set as a whole would otherwise no longer match what it
// held at Snapshot time, which Restore is supposed to reinstate exactly).
type Snapshot struct {
	order  []string
	pos    map[string]int
	cache  map[string]record.Record
	fields map[string]*fieldIndex
}

// Snapshot captures a deep copy of the Registry's current state.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := make([]string, len(r.order))
	copy(order, r.order)

	pos := make(map[string]int, len(r.pos))
	for k, v := range r.pos {
		pos[k] = v
	}

	fields := make(map[string]*fieldIndex, len(r.fields))
	for k, fi := range r.fields {
		fields[k] = fi.clone()
	}

	return &Snapshot{order: order, pos: pos, cache: r.cache.snapshot(), fields: fields}
}

// Restore replaces the Registry's state with snap wholesale, undoing any
// mutation performed since Snapshot was taken. The path trie is rebuilt from
// snap's order rather than cloned ahead of time.
func (r *Registry) Restore(snap *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = snap.order
	r.pos = snap.pos
	r.fields = snap.fields
	r.cache.restore(snap.cache)

	paths := patricia.NewTrie()
	for _, p := range snap.order {
		paths.Insert(patricia.Prefix(p), true)
	}
	r.paths = paths
}
