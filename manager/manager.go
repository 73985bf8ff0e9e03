// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package manager implements the Manager Facade: the single entry point
// that composes the path normalizer, system attribute probe, storage
// backend, index registry, plugin dispatcher, query engine, and event bus
// under one transaction discipline. Grounded on the teacher's
// plugins.Manager (plugins/plugins.go) — a struct that owns the storage
// layer, configuration, and logger and mediates every lifecycle operation
// — generalized from policy/bundle lifecycle management to metadata record
// lifecycle management.
package manager

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/metabase-project/metabase/event"
	"github.com/metabase-project/metabase/index"
	"github.com/metabase-project/metabase/logging"
	"github.com/metabase-project/metabase/metrics"
	"github.com/metabase-project/metabase/pathnorm"
	"github.com/metabase-project/metabase/plugin"
	"github.com/metabase-project/metabase/probe"
	"github.com/metabase-project/metabase/query"
	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/storage"
	"github.com/metabase-project/metabase/syncreconcile"
	"github.com/metabase-project/metabase/value"
)

// Options configures a new Manager.
type Options struct {
	Backend           storage.Backend
	Index             index.Options
	Normalizer        pathnorm.Options
	Plugins           plugin.Options
	Logger            logging.Logger
	Metrics           *metrics.Registry
	SyncFilter        string // gobwas/glob inclusion pattern; empty matches everything
	OnListenerFailure func(listenerName string, ev event.Event, recovered any)
}

// Manager is the Manager Facade.
type Manager struct {
	backend    storage.Backend
	registry   *index.Registry
	normalizer *pathnorm.Normalizer
	prober     *probe.Prober
	plugins    *plugin.Registry
	query      *query.Engine
	events     *event.Bus
	reconciler *syncreconcile.Reconciler
	logger     logging.Logger
	metrics    *metrics.Registry

	// writeMu is 1-buffered and held for the lifetime of a top-level
	// transaction, serializing top-level writers across arbitrary caller
	// goroutines per §5.
	writeMu chan struct{}
}

// txnKey is the context.Context key under which the active transaction's
// state hangs. Unexported so only this package can set or read it.
type txnKey struct{}

// txnState is the per-call-chain transaction state that used to live on
// Manager itself (as txn/txnDepth/pendingEvents). Carrying it in the
// context instead of on the Manager means two goroutines that each open
// their own top-level transaction never observe each other's txn handle or
// pendingEvents slice — re-entrancy ("join the outer transaction") is
// detected by whether ctx already carries a *txnState, not by a
// Manager-global counter that has no notion of which goroutine opened it.
type txnState struct {
	txn           storage.Transaction
	pendingEvents []event.Event
}

func withTxnState(ctx context.Context, st *txnState) context.Context {
	return context.WithValue(ctx, txnKey{}, st)
}

func txnStateFrom(ctx context.Context) (*txnState, bool) {
	st, ok := ctx.Value(txnKey{}).(*txnState)
	return st, ok
}

// currentTxn returns the storage.Transaction for the transaction ctx is
// running under. Only called from code reachable from within
// inTransaction's fn, so st is always present.
func currentTxn(ctx context.Context) storage.Transaction {
	st, _ := txnStateFrom(ctx)
	if st == nil {
		return nil
	}
	return st.txn
}

// New assembles a Manager from opts.
func New(opts Options) (*Manager, error) {
	if opts.Backend == nil {
		return nil, storage.Internal("manager: Options.Backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	indexOpts := opts.Index
	pluginOpts := opts.Plugins
	if opts.Metrics != nil {
		userCache := indexOpts.OnCacheResult
		indexOpts.OnCacheResult = func(hit bool) {
			opts.Metrics.RecordCacheResult(hit)
			if userCache != nil {
				userCache(hit)
			}
		}
		userExtract := pluginOpts.OnExtractDuration
		pluginOpts.OnExtractDuration = func(name string, d time.Duration) {
			opts.Metrics.RecordPluginDuration(name, d)
			if userExtract != nil {
				userExtract(name, d)
			}
		}
	}
	backend := opts.Backend
	indexOpts.Loader = func(path string) (record.Record, bool) {
		return loadFromBackend(backend, path)
	}

	m := &Manager{
		backend:    opts.Backend,
		registry:   index.New(indexOpts),
		normalizer: pathnorm.New(opts.Normalizer),
		prober:     probe.New(),
		plugins:    plugin.New(pluginOpts),
		logger:     logger,
		metrics:    opts.Metrics,
		writeMu:    make(chan struct{}, 1),
	}
	m.writeMu <- struct{}{}
	m.query = query.New(m.registry)

	onFailure := opts.OnListenerFailure
	if onFailure == nil {
		onFailure = m.defaultListenerFailure
	}
	m.events = event.New(onFailure)

	var filter glob.Glob
	if opts.SyncFilter != "" {
		g, err := glob.Compile(opts.SyncFilter, '/')
		if err != nil {
			return nil, storage.InvalidPath("invalid sync filter %q: %v", opts.SyncFilter, err)
		}
		filter = g
	}
	m.reconciler = syncreconcile.New(m, filter, logger)

	return m, nil
}

// loadFromBackend reloads path's record straight from backend, bypassing the
// Registry entirely. Wired as the Registry's Loader so a cache miss on an
// evicted-but-known path (§5's eviction/lazy-reload resource cap) reads
// through to storage instead of reporting the path absent. Opens a
// throwaway read-only transaction since Backend has no connectionless Get.
func loadFromBackend(backend storage.Backend, path string) (record.Record, bool) {
	ctx := context.Background()
	txn, err := backend.Begin(ctx, false)
	if err != nil {
		return record.Record{}, false
	}
	defer func() { _ = backend.Abort(ctx, txn) }()
	rec, err := backend.Get(ctx, txn, path)
	if err != nil {
		return record.Record{}, false
	}
	return rec, true
}

func (m *Manager) defaultListenerFailure(name string, ev event.Event, recovered any) {
	m.logger.WithFields(map[string]any{
		"listener": name,
		"event":    string(ev.Kind),
		"path":     ev.Path,
	}).Error("listener panicked: %v", recovered)
}

// Close releases resources held by the underlying storage backend.
func (m *Manager) Close() error { return m.backend.Close() }

// Metrics returns the manager's metrics registry, or nil if none was
// configured.
func (m *Manager) Metrics() *metrics.Registry { return m.metrics }

// inTransaction runs fn under the exclusive write lock, opening a new
// backend transaction at depth 0 and joining the already-open one at any
// deeper nesting level — §5's "nested transactions are flattened (join the
// outer)." Nesting is detected from ctx, not from Manager state: fn is
// invoked with a ctx carrying the new *txnState, so a call chain that
// re-enters inTransaction (e.g. AddFile or UpdateMetadata called from
// inside a Transaction fn) sees its own txnState on ctx and joins it, while a concurrent, unrelated goroutine calling a different top-level
// write starts from a ctx with no txnState and must wait on writeMu like
// any other top-level writer.
//
// Every registry.Put/Delete called from within fn mutates the Index
// Registry eagerly, before the backend transaction's Commit actually runs —
// the Registry has no transaction of its own. A registry.Snapshot is
// therefore taken before fn runs and registry.Restore'd whenever the
// transaction does not end up durably committed (fn itself failing, or the
// backend's Commit failing), so a rolled-back write never leaves the
// Registry diverged from storage.iter_all() (§8 invariant 1). Events raised
// during fn are buffered on the txnState and only actually published after
// Commit succeeds, so listeners never observe an event for a write that the
// backend ultimately did not durably apply (§4.J/§5).
func (m *Manager) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txnStateFrom(ctx); ok {
		return fn(ctx)
	}

	<-m.writeMu
	defer func() { m.writeMu <- struct{}{} }()

	txn, err := m.backend.Begin(ctx, true)
	if err != nil {
		return storage.Storage(m.backend.ID(), err)
	}
	st := &txnState{txn: txn}
	ctx = withTxnState(ctx, st)

	regSnapshot := m.registry.Snapshot()

	err = fn(ctx)

	if err != nil {
		m.registry.Restore(regSnapshot)
		if abortErr := m.backend.Abort(ctx, txn); abortErr != nil {
			return storage.TransactionAborted(abortErr)
		}
		return err
	}

	if commitErr := m.backend.Commit(ctx, txn); commitErr != nil {
		m.registry.Restore(regSnapshot)
		return storage.Storage(m.backend.ID(), commitErr)
	}

	for _, ev := range st.pendingEvents {
		m.events.Publish(ev)
	}
	return nil
}

// stageEvent buffers ev for publication once the enclosing top-level
// transaction actually commits. Called only from within inTransaction's fn,
// where ctx always carries a *txnState.
func (m *Manager) stageEvent(ctx context.Context, ev event.Event) {
	st, ok := txnStateFrom(ctx)
	if !ok {
		return
	}
	st.pendingEvents = append(st.pendingEvents, ev)
}

func (m *Manager) timed(op string, fn func() error) error {
	if m.metrics == nil {
		return fn()
	}
	timer := m.metrics.StartOperation(op)
	err := fn()
	timer.Stop(err)
	return err
}

// Transaction groups multiple Manager operations into one atomic unit. A
// caller inside an already-open transaction (including one opened by
// another public Manager method) joins it rather than nesting a new one.
func (m *Manager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.inTransaction(ctx, fn)
}

// AddFile probes path, dispatches plugins, and stores a new record seeded
// with userMeta. Fails with DuplicateRecordErr if a record already exists
// at the canonical path.
func (m *Manager) AddFile(ctx context.Context, path string, userMeta map[string]value.Value) error {
	return m.timed("add_file", func() error {
		canonical, err := m.normalizer.Canonicalize(path)
		if err != nil {
			return err
		}
		return m.inTransaction(ctx, func(ctx context.Context) error {
			if _, exists := m.registry.Get(canonical); exists {
				return storage.DuplicateRecord(canonical)
			}
			return m.createRecord(ctx, canonical, userMeta)
		})
	})
}

func (m *Manager) createRecord(ctx context.Context, canonical string, userMeta map[string]value.Value) error {
	sys, err := m.prober.Probe(ctx, canonical)
	if err != nil {
		return storage.FileAccessWrap(err, "probe failed for %q", canonical)
	}
	pluginOut, warnings, err := m.dispatchPlugins(ctx, canonical)
	if err != nil {
		return err
	}
	rec := record.New(sys)
	rec.User = record.Overlay(userMeta).Apply(rec.User)
	rec.Plugin = pluginOut

	if err := m.backend.Save(ctx, currentTxn(ctx), canonical, rec); err != nil {
		return storage.Storage(m.backend.ID(), err)
	}
	m.registry.Put(canonical, rec)
	m.logWarnings(canonical, warnings)
	m.stageEvent(ctx, event.Event{Kind: event.FileAdded, Path: canonical, New: &rec})
	return nil
}

func (m *Manager) dispatchPlugins(ctx context.Context, canonical string) (map[string]value.Value, []plugin.Warning, error) {
	out, warnings, err := m.plugins.Dispatch(ctx, canonical)
	if err != nil {
		return nil, nil, err
	}
	return out, warnings, nil
}

func (m *Manager) logWarnings(path string, warnings []plugin.Warning) {
	for _, w := range warnings {
		m.logger.WithFields(map[string]any{"path": path, "plugin": w.Plugin}).Warn("plugin extraction failed: %v", w.Err)
	}
}

// GetMetadata returns the record stored at path. Fails with FileAccessErr if
// unknown.
func (m *Manager) GetMetadata(_ context.Context, path string) (record.Record, error) {
	canonical, err := m.normalizer.Canonicalize(path)
	if err != nil {
		return record.Record{}, err
	}
	rec, ok := m.registry.Get(canonical)
	if !ok {
		return record.Record{}, storage.FileAccess("no record for path %q", canonical)
	}
	return rec.Clone(), nil
}

// UpdateMetadata shallow-overlays patch into the user sub-map.
func (m *Manager) UpdateMetadata(ctx context.Context, path string, patch map[string]value.Value) error {
	return m.timed("update_metadata", func() error {
		return m.mutateUser(ctx, path, record.Overlay(patch))
	})
}

// ReplaceMetadata replaces the entire user sub-map.
func (m *Manager) ReplaceMetadata(ctx context.Context, path string, newUser map[string]value.Value) error {
	return m.timed("replace_metadata", func() error {
		return m.mutateUser(ctx, path, record.Replace(newUser))
	})
}

func (m *Manager) mutateUser(ctx context.Context, path string, op record.UserOp) error {
	canonical, err := m.normalizer.Canonicalize(path)
	if err != nil {
		return err
	}
	return m.inTransaction(ctx, func(ctx context.Context) error {
		old, ok := m.registry.Get(canonical)
		if !ok {
			return storage.FileAccess("no record for path %q", canonical)
		}
		newRec := old.Clone()
		newRec.User = op.Apply(newRec.User)

		if err := m.backend.Save(ctx, currentTxn(ctx), canonical, newRec); err != nil {
			return storage.Storage(m.backend.ID(), err)
		}
		m.registry.Put(canonical, newRec)
		m.stageEvent(ctx, event.MetadataChangedEvent(canonical, old, newRec))
		return nil
	})
}

// DeleteMetadata removes the record at path, reporting whether one existed.
func (m *Manager) DeleteMetadata(ctx context.Context, path string) (bool, error) {
	var removed bool
	err := m.timed("delete_metadata", func() error {
		canonical, err := m.normalizer.Canonicalize(path)
		if err != nil {
			return err
		}
		return m.inTransaction(ctx, func(ctx context.Context) error {
			removed, err = m.deleteRecord(ctx, canonical)
			return err
		})
	})
	return removed, err
}

func (m *Manager) deleteRecord(ctx context.Context, canonical string) (bool, error) {
	if _, ok := m.registry.Get(canonical); !ok {
		return false, nil
	}
	if _, err := m.backend.Delete(ctx, currentTxn(ctx), canonical); err != nil {
		return false, storage.Storage(m.backend.ID(), err)
	}
	m.registry.Delete(canonical)
	m.stageEvent(ctx, event.Event{Kind: event.FileRemoved, Path: canonical})
	return true, nil
}

// Refresh re-runs the probe and plugin dispatch for path, preserving the
// existing user sub-map. Used directly and by the sync reconciler's update
// classification.
func (m *Manager) Refresh(ctx context.Context, path string) (record.Record, error) {
	var result record.Record
	err := m.timed("refresh", func() error {
		canonical, err := m.normalizer.Canonicalize(path)
		if err != nil {
			return err
		}
		return m.inTransaction(ctx, func(ctx context.Context) error {
			result, err = m.refreshRecord(ctx, canonical)
			return err
		})
	})
	return result, err
}

func (m *Manager) refreshRecord(ctx context.Context, canonical string) (record.Record, error) {
	old, ok := m.registry.Get(canonical)
	if !ok {
		return record.Record{}, storage.FileAccess("no record for path %q", canonical)
	}
	sys, err := m.prober.Probe(ctx, canonical)
	if err != nil {
		return record.Record{}, storage.FileAccessWrap(err, "probe failed for %q", canonical)
	}
	pluginOut, warnings, err := m.dispatchPlugins(ctx, canonical)
	if err != nil {
		return record.Record{}, err
	}
	newRec := record.Record{System: sys, User: old.User, Plugin: pluginOut}
	if err := m.backend.Save(ctx, currentTxn(ctx), canonical, newRec); err != nil {
		return record.Record{}, storage.Storage(m.backend.ID(), err)
	}
	m.registry.Put(canonical, newRec)
	m.logWarnings(canonical, warnings)
	m.stageEvent(ctx, event.MetadataChangedEvent(canonical, old, newRec))
	return newRec, nil
}

// Search evaluates a declarative query and returns matching canonical paths
// in primary-insertion order.
func (m *Manager) Search(_ context.Context, q map[string]value.Value) ([]string, error) {
	var paths []string
	err := m.timed("search", func() error {
		var err error
		paths, err = m.query.Search(q)
		return err
	})
	return paths, err
}

// RegisterPlugin installs a plugin at priority; higher values run (and win
// conflicts) first.
func (m *Manager) RegisterPlugin(p plugin.Plugin, priority int) { m.plugins.Register(p, priority) }

// RegisterQueryHandler installs a custom query operator reachable via
// "$handler:<name>" query keys.
func (m *Manager) RegisterQueryHandler(name string, h query.Handler) { m.query.RegisterHandler(name, h) }

// CreateIndex adds dotted to the secondary-indexed field set, backfilling
// from every existing record.
func (m *Manager) CreateIndex(dotted string) { m.registry.CreateIndex(dotted) }

// AddListener registers a named event listener, invoked synchronously after
// commit in registration order.
func (m *Manager) AddListener(name string, fn event.Listener) { m.events.AddListener(name, fn) }

// Sync reconciles the index against the filesystem under roots (or, if
// empty, the directories of currently indexed files), adding, refreshing,
// and removing records as needed, and publishes a sync_complete event.
func (m *Manager) Sync(ctx context.Context, roots []string) (syncreconcile.Result, error) {
	var result syncreconcile.Result
	err := m.timed("sync", func() error {
		return m.inTransaction(ctx, func(ctx context.Context) error {
			var err error
			result, err = m.reconciler.Sync(ctx, roots)
			return err
		})
	})
	if err == nil {
		m.events.Publish(event.Event{
			Kind:    event.SyncComplete,
			Added:   result.Added,
			Updated: result.Updated,
			Removed: result.Removed,
		})
	}
	return result, err
}

// WatchSync runs continuous fsnotify-driven reconciliation over roots until
// ctx is canceled. Each cycle runs through m.Sync, so it gets the same
// transaction/registry-rollback and post-commit event-publication discipline
// as a direct Sync call — m.Sync already publishes sync_complete itself, so
// onResult here only needs to log failures.
func (m *Manager) WatchSync(ctx context.Context, roots []string) error {
	return m.reconciler.Watch(ctx, roots, m.Sync, func(_ syncreconcile.Result, err error) {
		if err != nil {
			m.logger.Warn("watch sync: cycle failed: %v", err)
		}
	})
}

// ScheduleSync starts a cron schedule that calls m.Sync(ctx, roots) on expr.
func (m *Manager) ScheduleSync(ctx context.Context, expr string, roots []string) (*cron.Cron, error) {
	return m.reconciler.Schedule(ctx, expr, roots, m.Sync, func(_ syncreconcile.Result, err error) {
		if err != nil {
			m.logger.Warn("scheduled sync: cycle failed: %v", err)
		}
	})
}

// --- syncreconcile.Applier ---

// Roots implements syncreconcile.Applier.
func (m *Manager) Roots() []string { return m.registry.Roots() }

// Lookup implements syncreconcile.Applier.
func (m *Manager) Lookup(path string) (float64, bool) {
	rec, ok := m.registry.Get(path)
	if !ok {
		return 0, false
	}
	return rec.System.Modified, true
}

// AllPaths implements syncreconcile.Applier.
func (m *Manager) AllPaths() []string { return m.registry.AllPaths() }

// Add implements syncreconcile.Applier, called within the reconciler's own
// transaction and therefore joins it rather than opening a new one.
func (m *Manager) Add(ctx context.Context, path string) error {
	return m.createRecord(ctx, path, map[string]value.Value{})
}

// Update implements syncreconcile.Applier.
func (m *Manager) Update(ctx context.Context, path string) error {
	_, err := m.refreshRecord(ctx, path)
	return err
}

// Remove implements syncreconcile.Applier.
func (m *Manager) Remove(ctx context.Context, path string) error {
	_, err := m.deleteRecord(ctx, path)
	return err
}

// --- export / import ---

// exportDocument is the §6 wire format: a version tag, a path-keyed map of
// records, and an optional list of secondary-indexed field names carried as
// a hint for the importing manager to recreate on restore.
type exportDocument struct {
	Version int                      `json:"version"`
	Records map[string]record.Record `json:"records"`
	Indexes []string                 `json:"indexes,omitempty"`
}

const exportFormatVersion = 1

// ExportMetadata writes every indexed record to sink as the wire format
// consumed by ImportMetadata. Each export run is stamped with a fresh
// ExportID, logged (not written to the wire document) alongside the record
// count, so operators can correlate a later ImportMetadata run back to the
// export that produced its input.
func (m *Manager) ExportMetadata(sink io.Writer) error {
	paths := m.registry.AllPaths()
	doc := exportDocument{
		Version: exportFormatVersion,
		Records: make(map[string]record.Record, len(paths)),
		Indexes: m.registry.IndexedFields(),
	}
	for _, p := range paths {
		rec, ok := m.registry.Get(p)
		if !ok {
			continue
		}
		doc.Records[p] = rec
	}
	exportID := uuid.New().String()
	m.logger.WithFields(map[string]any{"export_id": exportID, "count": len(doc.Records)}).Info("export_metadata")
	return json.NewEncoder(sink).Encode(doc)
}

var conflictModes = map[string]bool{"error": true, "keep": true, "overwrite": true, "newer": true}

// ImportMetadata reads source in ExportMetadata's wire format and applies
// each record under conflictMode ("error", "keep", "overwrite", or
// "newer"), returning the count actually applied.
func (m *Manager) ImportMetadata(ctx context.Context, source io.Reader, conflictMode string) (int, error) {
	if !conflictModes[conflictMode] {
		return 0, storage.Query("import: unknown conflict mode %q", conflictMode)
	}

	var doc exportDocument
	if err := json.NewDecoder(source).Decode(&doc); err != nil {
		return 0, storage.InternalWrap(err, "import: decode")
	}

	var count int
	err := m.timed("import_metadata", func() error {
		return m.inTransaction(ctx, func(ctx context.Context) error {
			n, err := m.applyImport(ctx, doc, conflictMode)
			count = n
			return err
		})
	})
	if err == nil {
		for _, field := range doc.Indexes {
			m.registry.CreateIndex(field)
		}
	}
	return count, err
}

func (m *Manager) applyImport(ctx context.Context, doc exportDocument, conflictMode string) (int, error) {
	type accepted struct {
		canonical string
		rec       record.Record
	}
	var toApply []accepted
	var ops []storage.BulkOp

	for path, rec := range doc.Records {
		canonical, err := m.normalizer.Canonicalize(path)
		if err != nil {
			return 0, err
		}
		existing, exists := m.registry.Get(canonical)
		switch conflictMode {
		case "error":
			if exists {
				return 0, storage.DuplicateRecord(canonical)
			}
		case "keep":
			if exists {
				continue
			}
		case "newer":
			if exists && existing.System.Modified >= rec.System.Modified {
				continue
			}
		}
		toApply = append(toApply, accepted{canonical: canonical, rec: rec})
		ops = append(ops, storage.BulkOp{Path: canonical, Record: rec})
	}
	if len(ops) == 0 {
		return 0, nil
	}

	results, err := m.backend.Bulk(ctx, currentTxn(ctx), ops)
	if err != nil {
		return 0, storage.Storage(m.backend.ID(), err)
	}

	count := 0
	for i, res := range results {
		if res.Err != nil {
			m.logger.WithFields(map[string]any{"path": toApply[i].canonical}).Warn("import: bulk op failed: %v", res.Err)
			continue
		}
		existing, existed := m.registry.Get(toApply[i].canonical)
		m.registry.Put(toApply[i].canonical, toApply[i].rec)
		count++
		if existed {
			m.stageEvent(ctx, event.MetadataChangedEvent(toApply[i].canonical, existing, toApply[i].rec))
		} else {
			applied := toApply[i].rec
			m.stageEvent(ctx, event.Event{Kind: event.FileAdded, Path: toApply[i].canonical, New: &applied})
		}
	}
	return count, nil
}
