// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package event

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metabase-project/metabase/record"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []string
	b.AddListener("first", func(Event) { order = append(order, "first") })
	b.AddListener("second", func(Event) { order = append(order, "second") })

	b.Publish(Event{Kind: FileAdded, Path: "/a.txt"})
	require.Equal(t, []string{"first", "second"}, order)
}

func TestPublishIsolatesPanickingListener(t *testing.T) {
	var failed string
	b := New(func(name string, _ Event, _ any) { failed = name })
	var ranSecond bool
	b.AddListener("broken", func(Event) { panic("boom") })
	b.AddListener("ok", func(Event) { ranSecond = true })

	require.NotPanics(t, func() { b.Publish(Event{Kind: FileAdded}) })
	require.Equal(t, "broken", failed)
	require.True(t, ranSecond)
}

func TestMetadataChangedEventIncludesDiff(t *testing.T) {
	oldRec := record.New(record.System{Path: "/a.txt"})
	oldRec.User["tag"] = "red"
	newRec := record.New(record.System{Path: "/a.txt"})
	newRec.User["tag"] = "blue"

	ev := MetadataChangedEvent("/a.txt", oldRec, newRec)
	require.Equal(t, MetadataChanged, ev.Kind)
	require.NotEmpty(t, ev.Diff)
}
