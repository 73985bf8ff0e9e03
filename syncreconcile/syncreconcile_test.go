// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package syncreconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	roots    []string
	records  map[string]float64
	added    []string
	updated  []string
	removed  []string
}

func (f *fakeApplier) Roots() []string { return f.roots }
func (f *fakeApplier) Lookup(path string) (float64, bool) {
	m, ok := f.records[path]
	return m, ok
}
func (f *fakeApplier) AllPaths() []string {
	out := make([]string, 0, len(f.records))
	for p := range f.records {
		out = append(out, p)
	}
	return out
}
func (f *fakeApplier) Add(_ context.Context, path string) error {
	f.added = append(f.added, path)
	fi, _ := os.Stat(path)
	f.records[path] = float64(fi.ModTime().UnixNano()) / 1e9
	return nil
}
func (f *fakeApplier) Update(_ context.Context, path string) error {
	f.updated = append(f.updated, path)
	fi, _ := os.Stat(path)
	f.records[path] = float64(fi.ModTime().UnixNano()) / 1e9
	return nil
}
func (f *fakeApplier) Remove(_ context.Context, path string) error {
	f.removed = append(f.removed, path)
	delete(f.records, path)
	return nil
}

func TestSyncAddsNewFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	app := &fakeApplier{roots: []string{dir}, records: map[string]float64{}}
	r := New(app, nil, nil)

	result, err := r.Sync(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, []string{path}, app.added)
}

func TestSyncRemovesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	app := &fakeApplier{roots: []string{dir}, records: map[string]float64{
		filepath.Join(dir, "gone.txt"): 100,
	}}
	r := New(app, nil, nil)

	result, err := r.Sync(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Removed)
}

func TestSyncUpdatesChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	app := &fakeApplier{roots: []string{dir}, records: map[string]float64{path: 1}}
	r := New(app, nil, nil)

	result, err := r.Sync(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)
}

func TestSyncUnchangedFileIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	fi, err := os.Stat(path)
	require.NoError(t, err)

	app := &fakeApplier{roots: []string{dir}, records: map[string]float64{
		path: float64(fi.ModTime().UnixNano()) / 1e9,
	}}
	r := New(app, nil, nil)

	result, err := r.Sync(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, result.Added)
	require.Zero(t, result.Updated)
	require.Zero(t, result.Removed)
}
