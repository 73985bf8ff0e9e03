// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metabase-project/metabase/value"
)

func TestUserOpOverlayPreservesUnspecifiedKeys(t *testing.T) {
	user := map[string]value.Value{"tags": []value.Value{"design", "ui"}, "project": "w"}
	user = Overlay(map[string]value.Value{"status": "approved"}).Apply(user)
	require.Equal(t, "w", user["project"])
	require.Equal(t, "approved", user["status"])
}

func TestUserOpReplaceDropsUnspecifiedKeys(t *testing.T) {
	user := map[string]value.Value{"department": "fin", "quarter": "Q2"}
	user = Replace(map[string]value.Value{"archived": true}).Apply(user)
	require.Equal(t, map[string]value.Value{"archived": true}, user)
}

func TestUserOpOverlayEmptyPatchIsNoOp(t *testing.T) {
	user := map[string]value.Value{"a": 1.0}
	next := Overlay(map[string]value.Value{}).Apply(user)
	require.Equal(t, user, next)
}

func TestMergePluginOutputsPriority(t *testing.T) {
	outputs := []map[string]value.Value{
		{"format": "PNG", "dpi": 72.0}, // highest priority, first in slice
		{"format": "IMAGE"},
	}
	merged := MergePluginOutputs(outputs, PolicyPriority)
	require.Equal(t, "PNG", merged["format"])
	require.Equal(t, 72.0, merged["dpi"])
}

func TestMergePluginOutputsMergeRecurses(t *testing.T) {
	outputs := []map[string]value.Value{
		{"exif": map[string]value.Value{"iso": 100.0}},
		{"exif": map[string]value.Value{"aperture": 2.8}},
	}
	merged := MergePluginOutputs(outputs, PolicyMerge)
	exif := merged["exif"].(map[string]value.Value)
	require.Equal(t, 100.0, exif["iso"])
	require.Equal(t, 2.8, exif["aperture"])
}

func TestMergePluginOutputsFirstAndLastOnly(t *testing.T) {
	outputs := []map[string]value.Value{{"a": 1.0}, {"b": 2.0}}
	require.Equal(t, map[string]value.Value{"a": 1.0}, MergePluginOutputs(outputs, PolicyFirstOnly))
	require.Equal(t, map[string]value.Value{"b": 2.0}, MergePluginOutputs(outputs, PolicyLastOnly))
}

func TestRecordJSONRoundTrip(t *testing.T) {
	r := New(System{Path: "/tmp/a.png", Filename: "a.png", Extension: "png", Size: 10})
	r.User["tags"] = []value.Value{"design", "ui"}
	r.Plugin["format"] = "PNG"

	bs, err := json.Marshal(r)
	require.NoError(t, err)

	var out Record
	require.NoError(t, json.Unmarshal(bs, &out))
	require.True(t, Equal(r, out))
}

func TestSystemValidate(t *testing.T) {
	require.Error(t, System{}.Validate())
	require.Error(t, System{Path: "/a", Size: -1}.Validate())
	require.NoError(t, System{Path: "/a", Size: 0}.Validate())
}
