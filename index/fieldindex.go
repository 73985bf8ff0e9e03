// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package index

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/metabase-project/metabase/value"
)

// valueBucket holds the set of paths whose value at a field hashed to the
// same bucket. key disambiguates genuine xxhash collisions.
type valueBucket struct {
	key   string
	paths map[string]struct{}
}

// fieldIndex is a secondary inverted index over one dotted field name.
// Buckets are keyed by xxhash.Sum64String of a canonical scalar
// representation, grounded on cespare/xxhash/v2 so lookup does not depend on
// Go's native interface hashing across mixed numeric/string/bool values.
type fieldIndex struct {
	buckets map[uint64][]*valueBucket

	// listOnly is true iff every record ever indexed under this field held a
	// list value, never a bare scalar. A $contains query can only be
	// answered from the bucket alone when this holds: list-containment is
	// exact-element equality (which indexing already captures), but string
	// substring containment is not indexable at all, so a field that has
	// ever carried a plain string (or other scalar) must fall through to
	// the post-filter scan instead. See Registry.IsListField.
	listOnly bool
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{buckets: make(map[uint64][]*valueBucket), listOnly: true}
}

// clone returns a deep copy of fi, used by Registry.Snapshot.
func (fi *fieldIndex) clone() *fieldIndex {
	buckets := make(map[uint64][]*valueBucket, len(fi.buckets))
	for h, bs := range fi.buckets {
		cloned := make([]*valueBucket, len(bs))
		for i, b := range bs {
			paths := make(map[string]struct{}, len(b.paths))
			for p := range b.paths {
				paths[p] = struct{}{}
			}
			cloned[i] = &valueBucket{key: b.key, paths: paths}
		}
		buckets[h] = cloned
	}
	return &fieldIndex{buckets: buckets, listOnly: fi.listOnly}
}

// canonicalKey renders a scalar Value into a type-tagged string so that,
// e.g., the string "1" and the number 1 never collide.
func canonicalKey(v value.Value) string {
	switch t := v.(type) {
	case nil:
		return "n:"
	case bool:
		return fmt.Sprintf("b:%v", t)
	case float64:
		return fmt.Sprintf("f:%v", t)
	case string:
		return "s:" + t
	default:
		return fmt.Sprintf("x:%v", t)
	}
}

func (fi *fieldIndex) findBucket(key string, h uint64) *valueBucket {
	for _, b := range fi.buckets[h] {
		if b.key == key {
			return b
		}
	}
	return nil
}

func (fi *fieldIndex) add(v value.Value, path string) {
	key := canonicalKey(v)
	h := xxhash.Sum64String(key)
	b := fi.findBucket(key, h)
	if b == nil {
		b = &valueBucket{key: key, paths: make(map[string]struct{})}
		fi.buckets[h] = append(fi.buckets[h], b)
	}
	b.paths[path] = struct{}{}
}

func (fi *fieldIndex) remove(v value.Value, path string) {
	key := canonicalKey(v)
	h := xxhash.Sum64String(key)
	bucket := fi.buckets[h]
	for i, b := range bucket {
		if b.key != key {
			continue
		}
		delete(b.paths, path)
		if len(b.paths) == 0 {
			fi.buckets[h] = append(bucket[:i], bucket[i+1:]...)
		}
		return
	}
}

// lookup returns the set of paths recorded against v, or nil.
func (fi *fieldIndex) lookup(v value.Value) map[string]struct{} {
	key := canonicalKey(v)
	h := xxhash.Sum64String(key)
	if b := fi.findBucket(key, h); b != nil {
		return b.paths
	}
	return nil
}

func (fi *fieldIndex) size() int {
	n := 0
	for _, bucket := range fi.buckets {
		for _, b := range bucket {
			n += len(b.paths)
		}
	}
	return n
}

// fieldValues extracts the indexable leaf values at a dotted field path from
// a record's user/plugin/system view, per the §4.E rule: scalars index at
// (field, v); lists index each element; mappings are not indexed at that
// depth. isList reports whether the raw field value itself was a list,
// distinguishing genuine list-containment indexing from scalar indexing.
func fieldValues(root map[string]value.Value, dotted string) (values []value.Value, isList bool) {
	cur, ok := value.Lookup(root, dotted)
	if !ok {
		return nil, false
	}
	switch t := cur.(type) {
	case map[string]value.Value:
		return nil, false
	case []value.Value:
		return t, true
	default:
		return []value.Value{t}, false
	}
}
