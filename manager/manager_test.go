// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package manager

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/metabase-project/metabase/event"
	"github.com/metabase-project/metabase/index"
	"github.com/metabase-project/metabase/metrics"
	"github.com/metabase-project/metabase/plugin"
	"github.com/metabase-project/metabase/query"
	"github.com/metabase-project/metabase/storage/inmem"
	"github.com/metabase-project/metabase/value"
)

type extFormatPlugin struct {
	ext    string
	format string
}

func (p *extFormatPlugin) Name() string { return "format:" + p.format }
func (p *extFormatPlugin) Supports(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), p.ext)
}
func (p *extFormatPlugin) Extract(context.Context, string) (map[string]value.Value, error) {
	return map[string]value.Value{"format": p.format}, nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Options{
		Backend: inmem.New(),
		Index:   index.Options{Fields: []string{"user.tags", "user.project"}},
	})
	require.NoError(t, err)
	return m
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestAddGetSearch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.png")
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddFile(ctx, path, map[string]value.Value{
		"tags":    []value.Value{"design", "ui"},
		"project": "w",
	}))

	results, err := m.Search(ctx, map[string]value.Value{
		"user.tags": map[string]value.Value{"$contains": "design"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{path}, results)
}

func TestAddFileDuplicateFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt")
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddFile(ctx, path, nil))
	err := m.AddFile(ctx, path, nil)
	require.Error(t, err)
}

func TestUpdateMetadataOverlaysKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt")
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddFile(ctx, path, map[string]value.Value{"tags": []value.Value{"a"}}))
	require.NoError(t, m.UpdateMetadata(ctx, path, map[string]value.Value{"status": "approved"}))

	rec, err := m.GetMetadata(ctx, path)
	require.NoError(t, err)
	require.Equal(t, value.Value("approved"), rec.User["status"])
	require.Contains(t, rec.User, "tags")
}

func TestReplaceMetadataDropsOldKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "r.xlsx")
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddFile(ctx, path, map[string]value.Value{"department": "fin", "quarter": "Q2"}))
	require.NoError(t, m.ReplaceMetadata(ctx, path, map[string]value.Value{"archived": true}))

	rec, err := m.GetMetadata(ctx, path)
	require.NoError(t, err)
	require.Equal(t, map[string]value.Value{"archived": value.Value(true)}, rec.User)
}

func TestDeleteMetadataReportsExistence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt")
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddFile(ctx, path, nil))
	removed, err := m.DeleteMetadata(ctx, path)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = m.DeleteMetadata(ctx, path)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestRegisteredPluginPopulatesPluginSubMap(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "b.png")
	m := newTestManager(t)
	ctx := context.Background()

	m.RegisterPlugin(&extFormatPlugin{ext: ".png", format: "PNG"}, 0)
	require.NoError(t, m.AddFile(ctx, path, nil))

	rec, err := m.GetMetadata(ctx, path)
	require.NoError(t, err)
	require.Equal(t, map[string]value.Value{"format": value.Value("PNG")}, rec.Plugin)
}

func TestSyncRemovesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	x := writeFile(t, dir, "x.txt")
	writeFile(t, dir, "y.txt")
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddFile(ctx, x, map[string]value.Value{"project": "alpha"}))
	require.NoError(t, m.AddFile(ctx, filepath.Join(dir, "y.txt"), map[string]value.Value{"project": "alpha"}))
	require.NoError(t, os.Remove(x))

	result, err := m.Sync(ctx, []string{dir})
	require.NoError(t, err)
	require.Equal(t, 0, result.Added)
	require.Equal(t, 0, result.Updated)
	require.Equal(t, 1, result.Removed)

	_, err = m.GetMetadata(ctx, x)
	require.Error(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.png")
	src := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, src.AddFile(ctx, path, map[string]value.Value{"tags": []value.Value{"design"}}))
	require.NoError(t, src.UpdateMetadata(ctx, path, map[string]value.Value{"status": "approved"}))

	var buf bytes.Buffer
	require.NoError(t, src.ExportMetadata(&buf))

	dst := newTestManager(t)
	count, err := dst.ImportMetadata(ctx, bytes.NewReader(buf.Bytes()), "overwrite")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	want, err := src.GetMetadata(ctx, path)
	require.NoError(t, err)
	got, err := dst.GetMetadata(ctx, path)
	require.NoError(t, err)
	require.Equal(t, want.User, got.User)
	require.Equal(t, want.System, got.System)
}

func TestImportConflictModeKeepSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt")
	src := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, src.AddFile(ctx, path, map[string]value.Value{"tags": []value.Value{"design"}}))

	var buf bytes.Buffer
	require.NoError(t, src.ExportMetadata(&buf))

	dst := newTestManager(t)
	require.NoError(t, dst.AddFile(ctx, path, map[string]value.Value{"tags": []value.Value{"existing"}}))

	count, err := dst.ImportMetadata(ctx, bytes.NewReader(buf.Bytes()), "keep")
	require.NoError(t, err)
	require.Equal(t, 0, count)

	rec, err := dst.GetMetadata(ctx, path)
	require.NoError(t, err)
	require.Equal(t, []value.Value{value.Value("existing")}, rec.User["tags"])
}

func TestAddListenerReceivesFileAddedEvent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt")
	m := newTestManager(t)
	ctx := context.Background()

	var seen []event.Kind
	m.AddListener("recorder", func(ev event.Event) {
		seen = append(seen, ev.Kind)
	})

	require.NoError(t, m.AddFile(ctx, path, nil))
	require.Equal(t, []event.Kind{event.FileAdded}, seen)
}

func TestCreateIndexBackfillsExistingRecords(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt")
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddFile(ctx, path, map[string]value.Value{"owner": "alice"}))
	m.CreateIndex("user.owner")

	results, err := m.Search(ctx, map[string]value.Value{"user.owner": "alice"})
	require.NoError(t, err)
	require.Equal(t, []string{path}, results)
}

func TestRegisterQueryHandlerIsReachable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt")
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.AddFile(ctx, path, nil))

	m.RegisterQueryHandler("all", func(registry query.Registry, _ value.Value) []string {
		return registry.AllPaths()
	})

	results, err := m.Search(ctx, map[string]value.Value{"$handler:all": true})
	require.NoError(t, err)
	require.Equal(t, []string{path}, results)
}

func TestPluginDispatchFailureModeRaiseAbortsAddFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.fail")
	m, err := New(Options{
		Backend: inmem.New(),
		Plugins: plugin.Options{ErrorMode: plugin.ErrorRaise},
	})
	require.NoError(t, err)
	m.RegisterPlugin(&failingPlugin{ext: ".fail"}, 0)

	err = m.AddFile(context.Background(), path, nil)
	require.Error(t, err)

	_, getErr := m.GetMetadata(context.Background(), path)
	require.Error(t, getErr)
}

type failingPlugin struct{ ext string }

func (p *failingPlugin) Name() string                  { return "failing" }
func (p *failingPlugin) Supports(path string) bool      { return strings.HasSuffix(path, p.ext) }
func (p *failingPlugin) Extract(context.Context, string) (map[string]value.Value, error) {
	return nil, errBoom
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }

func TestMetricsWiringReachesCacheAndPluginCallbacks(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.png")
	reg := prometheus.NewRegistry()
	mtr := metrics.New(reg)

	var cacheResults []bool
	var pluginDurations []string

	m, err := New(Options{
		Backend: inmem.New(),
		Index:   index.Options{OnCacheResult: func(hit bool) { cacheResults = append(cacheResults, hit) }},
		Plugins: plugin.Options{OnExtractDuration: func(name string, _ time.Duration) { pluginDurations = append(pluginDurations, name) }},
		Metrics: mtr,
	})
	require.NoError(t, err)
	ctx := context.Background()
	m.RegisterPlugin(&extFormatPlugin{ext: ".png", format: "PNG"}, 0)

	require.NoError(t, m.AddFile(ctx, path, nil))
	_, err = m.GetMetadata(ctx, path)
	require.NoError(t, err)

	require.NotEmpty(t, cacheResults)
	require.Equal(t, []string{"format:PNG"}, pluginDurations)
}
