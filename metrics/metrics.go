// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package metrics implements the optional Metrics Registry: counters and
// histograms for manager operations, index cache hits, and plugin extract
// latency. Grounded on the teacher's metrics.Metrics timer/counter surface
// (metrics/metrics.go), reimplemented directly atop
// github.com/prometheus/client_golang since the teacher's own
// implementation wrapped a subsystem this module does not carry forward
// (see DESIGN.md).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the Prometheus collectors metabase reports against.
type Registry struct {
	registerer prometheus.Registerer

	operations      *prometheus.CounterVec
	operationErrors *prometheus.CounterVec
	operationTiming *prometheus.HistogramVec
	indexCacheHits  *prometheus.CounterVec
	pluginDuration  *prometheus.HistogramVec
}

// New registers metabase's collectors against reg and returns a Registry.
// Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to export via the default /metrics handler.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		registerer: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metabase",
			Name:      "manager_operations_total",
			Help:      "Count of Manager facade operations by name.",
		}, []string{"operation"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metabase",
			Name:      "manager_operation_errors_total",
			Help:      "Count of Manager facade operations that returned an error, by name.",
		}, []string{"operation"}),
		operationTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metabase",
			Name:      "manager_operation_duration_seconds",
			Help:      "Latency of Manager facade operations, by name.",
		}, []string{"operation"}),
		indexCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metabase",
			Name:      "index_cache_hits_total",
			Help:      "Count of Index Registry record cache hits and misses.",
		}, []string{"result"}),
		pluginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metabase",
			Name:      "plugin_extract_duration_seconds",
			Help:      "Latency of individual plugin Extract calls, by plugin name.",
		}, []string{"plugin"}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.operationErrors, r.operationTiming, r.indexCacheHits, r.pluginDuration} {
		_ = reg.Register(c)
	}
	return r
}

// Timer measures one Manager operation's duration from construction to Stop.
type Timer struct {
	registry  *Registry
	operation string
	start     time.Time
}

// StartOperation begins timing operation name.
func (r *Registry) StartOperation(name string) *Timer {
	r.operations.WithLabelValues(name).Inc()
	return &Timer{registry: r, operation: name, start: time.Now()}
}

// Stop records the elapsed duration, and increments the error counter if
// err is non-nil.
func (t *Timer) Stop(err error) {
	t.registry.operationTiming.WithLabelValues(t.operation).Observe(time.Since(t.start).Seconds())
	if err != nil {
		t.registry.operationErrors.WithLabelValues(t.operation).Inc()
	}
}

// RecordCacheResult increments the index cache hit/miss counter.
func (r *Registry) RecordCacheResult(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	r.indexCacheHits.WithLabelValues(label).Inc()
}

// RecordPluginDuration records the latency of one plugin's Extract call.
func (r *Registry) RecordPluginDuration(plugin string, d time.Duration) {
	r.pluginDuration.WithLabelValues(plugin).Observe(d.Seconds())
}
