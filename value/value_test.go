// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromJSONNormalizesNumbers(t *testing.T) {
	v, err := FromJSON([]byte(`{"tags":["a","b"],"size":12,"ratio":1.5}`))
	require.NoError(t, err)

	m, ok := v.(map[string]Value)
	require.True(t, ok)
	require.Equal(t, 12.0, m["size"])
	require.Equal(t, 1.5, m["ratio"])

	tags, ok := m["tags"].([]Value)
	require.True(t, ok)
	require.Equal(t, []Value{"a", "b"}, tags)
}

func TestEqualAcrossNumericRepresentations(t *testing.T) {
	require.True(t, Equal(float64(3), 3.0))
	require.True(t, Equal(int(3), 3.0))
	require.False(t, Equal("3", 3.0))
}

func TestContainsListAndSubstring(t *testing.T) {
	require.True(t, Contains([]Value{"design", "ui"}, "design"))
	require.False(t, Contains([]Value{"design", "ui"}, "x"))
	require.True(t, Contains("hello world", "wor"))
	require.False(t, Contains("hello", "zz"))
}

func TestDeepCopyIsIndependent(t *testing.T) {
	orig := map[string]Value{"tags": []Value{"a"}}
	cpy := DeepCopy(orig).(map[string]Value)
	cpy["tags"].([]Value)[0] = "b"
	require.Equal(t, "a", orig["tags"].([]Value)[0])
}

func TestSortedKeysDeterministic(t *testing.T) {
	m := map[string]Value{"b": 1.0, "a": 2.0, "c": 3.0}
	require.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
}
