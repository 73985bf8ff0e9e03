// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package plugin implements the Plugin Registry & Dispatcher: priority
// ordered registration, supports/extract dispatch over a bounded worker
// pool, and conflict-policy combination of plugin outputs. Grounded on the
// teacher's plugins.Manager registration shape (plugins/plugins.go) and on
// github.com/sourcegraph/conc/pool for the bounded, panic-safe,
// wait-for-all worker pool §4.F calls for.
package plugin

import (
	"context"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/storage"
	"github.com/metabase-project/metabase/value"
)

// Plugin extracts metadata for files it claims to support.
type Plugin interface {
	Name() string
	Supports(path string) bool
	Extract(ctx context.Context, path string) (map[string]value.Value, error)
}

// ErrorMode controls how a plugin failure is handled.
type ErrorMode int

const (
	// ErrorIgnore drops the failing plugin's contribution silently.
	ErrorIgnore ErrorMode = iota
	// ErrorWarn drops the contribution and reports a Warning in Dispatch's returned warnings.
	ErrorWarn
	// ErrorRaise fails the containing operation with a PluginErr.
	ErrorRaise
)

// Registry holds registered plugins in priority order and dispatches
// extraction across them.
type Registry struct {
	entries           []entry
	policy            record.ConflictPolicy
	errorMode         ErrorMode
	timeout           time.Duration
	maxParallel       int
	onExtractDuration func(name string, d time.Duration)
}

type entry struct {
	plugin   Plugin
	priority int
	seq      int
}

// Options configures a Registry.
type Options struct {
	ConflictPolicy record.ConflictPolicy
	ErrorMode      ErrorMode
	// Timeout bounds each individual plugin invocation. Zero disables the
	// bound.
	Timeout time.Duration
	// MaxParallel bounds the dispatcher's worker pool. Zero means
	// unbounded (conc's default pool behavior).
	MaxParallel int
	// OnExtractDuration, if non-nil, is invoked after every plugin Extract
	// call (successful or not) with the plugin's name and elapsed time, for
	// a caller (e.g. metrics.Registry) to report.
	OnExtractDuration func(name string, d time.Duration)
}

// New returns an empty Registry.
func New(opts Options) *Registry {
	return &Registry{
		policy:            opts.ConflictPolicy,
		errorMode:         opts.ErrorMode,
		timeout:           opts.Timeout,
		maxParallel:       opts.MaxParallel,
		onExtractDuration: opts.OnExtractDuration,
	}
}

// Register adds p at priority, ordered highest-priority-first with ties
// broken by registration order.
func (r *Registry) Register(p Plugin, priority int) {
	r.entries = append(r.entries, entry{plugin: p, priority: priority, seq: len(r.entries)})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].priority > r.entries[j].priority
	})
}

// Warning records a non-fatal plugin failure under ErrorWarn.
type Warning struct {
	Plugin string
	Path   string
	Err    error
}

// Dispatch runs every supporting plugin against path in priority order on a
// bounded worker pool, then combines their outputs under the configured
// conflict policy. Warnings accumulated under ErrorWarn are returned
// alongside the merged result.
func (r *Registry) Dispatch(ctx context.Context, path string) (map[string]value.Value, []Warning, error) {
	type result struct {
		idx  int
		out  map[string]value.Value
		warn *Warning
	}

	var matching []entry
	for _, e := range r.entries {
		if e.plugin.Supports(path) {
			matching = append(matching, e)
		}
	}
	if len(matching) == 0 {
		return map[string]value.Value{}, nil, nil
	}
	switch r.policy {
	case record.PolicyFirstOnly:
		matching = matching[:1]
	case record.PolicyLastOnly:
		matching = matching[len(matching)-1:]
	}

	p := pool.NewWithResults[result]().WithContext(ctx)
	if r.maxParallel > 0 {
		p = p.WithMaxGoroutines(r.maxParallel)
	}
	for i, e := range matching {
		i, e := i, e
		p.Go(func(ctx context.Context) (result, error) {
			runCtx := ctx
			var cancel context.CancelFunc
			if r.timeout > 0 {
				runCtx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			start := time.Now()
			out, err := e.plugin.Extract(runCtx, path)
			if r.onExtractDuration != nil {
				r.onExtractDuration(e.plugin.Name(), time.Since(start))
			}
			if err != nil {
				switch r.errorMode {
				case ErrorIgnore:
					return result{idx: i}, nil
				case ErrorWarn:
					return result{idx: i, warn: &Warning{Plugin: e.plugin.Name(), Path: path, Err: err}}, nil
				default:
					return result{}, storage.Plugin(e.plugin.Name(), err)
				}
			}
			return result{idx: i, out: out}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, nil, err
	}

	// Restore matching's priority-descending order (highest priority
	// first), which MergePluginOutputs relies on; the pool does not
	// preserve submission order across concurrent completions.
	sort.SliceStable(results, func(i, j int) bool { return results[i].idx < results[j].idx })

	var warnings []Warning
	var outputs []map[string]value.Value
	for _, res := range results {
		if res.warn != nil {
			warnings = append(warnings, *res.warn)
		}
		if res.out != nil {
			outputs = append(outputs, res.out)
		}
	}

	return record.MergePluginOutputs(outputs, r.policy), warnings, nil
}
