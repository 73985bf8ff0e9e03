// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package event implements the Event Bus: synchronous, registration-order
// listener dispatch after commit, with listener-failure isolation. Grounded
// on the teacher's plugin status/trigger notification pattern
// (storage/trigger.go), generalized from storage triggers to the four named
// event kinds in §4.J.
package event

import (
	"encoding/json"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/metabase-project/metabase/record"
)

// Kind names one of the four event kinds §4.J defines.
type Kind string

const (
	FileAdded       Kind = "file_added"
	FileRemoved     Kind = "file_removed"
	MetadataChanged Kind = "metadata_changed"
	SyncComplete    Kind = "sync_complete"
)

// Event is delivered to every registered Listener after a transaction
// commits.
type Event struct {
	Kind Kind
	Path string

	// Populated for MetadataChanged.
	Old *record.Record
	New *record.Record
	// Diff is a line diff of the user sub-map (old vs new), rendered via
	// sergi/go-diff's DiffPrettyText (the merged text with ANSI-coloured
	// insertions and deletions) purely as a diagnostic convenience for
	// listeners; never required for correctness.
	Diff string

	// Populated for SyncComplete.
	Added, Updated, Removed int
}

// Listener observes committed events. A Listener that panics or returns is
// isolated by the Bus: failures never propagate to the operation that
// triggered the event.
type Listener func(Event)

// Bus dispatches events to registered listeners synchronously, in
// registration order.
type Bus struct {
	listeners []namedListener
	onFailure func(listenerName string, ev Event, recovered any)
}

type namedListener struct {
	name string
	fn   Listener
}

// New returns an empty Bus. onFailure, if non-nil, is invoked whenever a
// listener panics; the panic is always recovered regardless.
func New(onFailure func(listenerName string, ev Event, recovered any)) *Bus {
	return &Bus{onFailure: onFailure}
}

// AddListener registers fn under name, appended after any existing
// listeners.
func (b *Bus) AddListener(name string, fn Listener) {
	b.listeners = append(b.listeners, namedListener{name: name, fn: fn})
}

// Publish delivers ev to every listener in registration order. Each
// listener is invoked inside its own recover scope so one listener's
// failure cannot block or abort the rest.
func (b *Bus) Publish(ev Event) {
	for _, l := range b.listeners {
		b.invoke(l, ev)
	}
}

func (b *Bus) invoke(l namedListener, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.onFailure != nil {
			b.onFailure(l.name, ev, r)
		}
	}()
	l.fn(ev)
}

// MetadataChangedEvent builds a MetadataChanged event, attaching a
// human-readable line diff of the user sub-maps.
func MetadataChangedEvent(path string, oldRec, newRec record.Record) Event {
	return Event{
		Kind: MetadataChanged,
		Path: path,
		Old:  &oldRec,
		New:  &newRec,
		Diff: userDiff(oldRec, newRec),
	}
}

func userDiff(oldRec, newRec record.Record) string {
	oldJSON, err1 := json.MarshalIndent(oldRec.User, "", "  ")
	newJSON, err2 := json.MarshalIndent(newRec.User, "", "  ")
	if err1 != nil || err2 != nil {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(oldJSON), string(newJSON))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	return dmp.DiffPrettyText(diffs)
}
