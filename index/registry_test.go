// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metabase-project/metabase/record"
)

func rec(path string, tags ...string) record.Record {
	r := record.New(record.System{Path: path, Extension: "txt"})
	var tagVals []any
	for _, t := range tags {
		tagVals = append(tagVals, t)
	}
	r.User["tags"] = tagVals
	return r
}

func TestPutGetDelete(t *testing.T) {
	r := New(Options{})
	r.Put("/a.txt", rec("/a.txt"))
	got, ok := r.Get("/a.txt")
	require.True(t, ok)
	require.Equal(t, "/a.txt", got.System.Path)

	require.True(t, r.Delete("/a.txt"))
	_, ok = r.Get("/a.txt")
	require.False(t, ok)
}

func TestSecondaryIndexScalarAndList(t *testing.T) {
	r := New(Options{Fields: []string{"user.tags", "system.extension"}})
	r.Put("/a.txt", rec("/a.txt", "red", "blue"))
	r.Put("/b.txt", rec("/b.txt", "blue"))

	paths, indexed := r.Lookup("user.tags", "blue")
	require.True(t, indexed)
	require.ElementsMatch(t, []string{"/a.txt", "/b.txt"}, paths)

	paths, indexed = r.Lookup("system.extension", "txt")
	require.True(t, indexed)
	require.ElementsMatch(t, []string{"/a.txt", "/b.txt"}, paths)
}

func TestUpdateCleansOldBuckets(t *testing.T) {
	r := New(Options{Fields: []string{"user.tags"}})
	r.Put("/a.txt", rec("/a.txt", "red"))
	r.Put("/a.txt", rec("/a.txt", "green"))

	paths, _ := r.Lookup("user.tags", "red")
	require.Empty(t, paths)
	paths, _ = r.Lookup("user.tags", "green")
	require.Equal(t, []string{"/a.txt"}, paths)
}

func TestCreateIndexBackfills(t *testing.T) {
	r := New(Options{})
	r.Put("/a.txt", rec("/a.txt", "red"))
	r.Put("/b.txt", rec("/b.txt", "red"))

	require.False(t, r.HasIndex("user.tags"))
	r.CreateIndex("user.tags")
	require.True(t, r.HasIndex("user.tags"))

	paths, indexed := r.Lookup("user.tags", "red")
	require.True(t, indexed)
	require.ElementsMatch(t, []string{"/a.txt", "/b.txt"}, paths)
}

func TestAllPathsPreservesInsertionOrder(t *testing.T) {
	r := New(Options{})
	r.Put("/c.txt", rec("/c.txt"))
	r.Put("/a.txt", rec("/a.txt"))
	r.Put("/b.txt", rec("/b.txt"))
	require.Equal(t, []string{"/c.txt", "/a.txt", "/b.txt"}, r.AllPaths())
}

func TestRootsReturnsDistinctDirectories(t *testing.T) {
	r := New(Options{})
	r.Put("/dir1/a.txt", rec("/dir1/a.txt"))
	r.Put("/dir1/b.txt", rec("/dir1/b.txt"))
	r.Put("/dir2/c.txt", rec("/dir2/c.txt"))
	require.ElementsMatch(t, []string{"/dir1", "/dir2"}, r.Roots())
}

func TestUnderRoot(t *testing.T) {
	r := New(Options{})
	r.Put("/dir1/a.txt", rec("/dir1/a.txt"))
	require.True(t, r.UnderRoot("/dir1"))
	require.False(t, r.UnderRoot("/dir2"))
}

func TestCacheLRUServesResidentRecord(t *testing.T) {
	r := New(Options{CachePolicy: CacheLRU, CacheSize: 1})
	r.Put("/a.txt", rec("/a.txt"))
	r.Put("/b.txt", rec("/b.txt"))
	_, _ = r.Get("/a.txt")
	_, _ = r.Get("/b.txt")
	// just exercise the cache path without asserting internal eviction
	// order, which is an LRU implementation detail.
	got, ok := r.Get("/b.txt")
	require.True(t, ok)
	require.Equal(t, "/b.txt", got.System.Path)
}

func TestCacheEvictionReloadsViaLoader(t *testing.T) {
	backend := map[string]record.Record{
		"/a.txt": rec("/a.txt", "red"),
		"/b.txt": rec("/b.txt", "blue"),
	}
	loads := 0
	loader := func(path string) (record.Record, bool) {
		loads++
		r, ok := backend[path]
		return r, ok
	}
	r := New(Options{CachePolicy: CacheLRU, CacheSize: 1, Loader: loader})
	r.Put("/a.txt", backend["/a.txt"])
	r.Put("/b.txt", backend["/b.txt"]) // evicts /a.txt from the resident cache

	got, ok := r.Get("/a.txt")
	require.True(t, ok, "an evicted-but-known path must reload via Loader, not report absent")
	require.Equal(t, "/a.txt", got.System.Path)
	require.Equal(t, 1, loads)

	require.True(t, r.Delete("/a.txt"))
	_, ok = r.Get("/a.txt")
	require.False(t, ok, "a genuinely deleted path must never be resurrected by Loader")
}

func TestCacheEvictionPreservesSecondaryIndexOnUpdate(t *testing.T) {
	backend := map[string]record.Record{"/a.txt": rec("/a.txt", "red")}
	loader := func(path string) (record.Record, bool) {
		r, ok := backend[path]
		return r, ok
	}
	r := New(Options{Fields: []string{"user.tags"}, CachePolicy: CacheLRU, CacheSize: 1, Loader: loader})
	r.Put("/a.txt", backend["/a.txt"])
	r.Put("/other.txt", rec("/other.txt")) // evicts /a.txt's resident body

	// Updating /a.txt must clean the stale "red" bucket even though its old
	// body was no longer resident, by reloading it through Loader first.
	r.Put("/a.txt", rec("/a.txt", "green"))
	paths, _ := r.Lookup("user.tags", "red")
	require.Empty(t, paths)
	paths, _ = r.Lookup("user.tags", "green")
	require.Equal(t, []string{"/a.txt"}, paths)
}
