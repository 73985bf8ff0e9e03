// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/value"
)

type fakePlugin struct {
	name    string
	ext     string
	out     map[string]value.Value
	failErr error
}

func (f *fakePlugin) Name() string { return f.name }
func (f *fakePlugin) Supports(path string) bool {
	return strings.HasSuffix(path, f.ext)
}
func (f *fakePlugin) Extract(context.Context, string) (map[string]value.Value, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.out, nil
}

func TestDispatchMergesByPriority(t *testing.T) {
	r := New(Options{ConflictPolicy: record.PolicyPriority})
	r.Register(&fakePlugin{name: "low", ext: ".txt", out: map[string]value.Value{"k": "low"}}, 1)
	r.Register(&fakePlugin{name: "high", ext: ".txt", out: map[string]value.Value{"k": "high"}}, 10)

	out, warnings, err := r.Dispatch(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "high", out["k"])
}

func TestDispatchOnlyMatchingPluginsRun(t *testing.T) {
	r := New(Options{})
	r.Register(&fakePlugin{name: "txt", ext: ".txt", out: map[string]value.Value{"a": 1.0}}, 1)
	r.Register(&fakePlugin{name: "png", ext: ".png", out: map[string]value.Value{"b": 2.0}}, 1)

	out, _, err := r.Dispatch(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Contains(t, out, "a")
	require.NotContains(t, out, "b")
}

func TestDispatchFirstOnly(t *testing.T) {
	r := New(Options{ConflictPolicy: record.PolicyFirstOnly})
	r.Register(&fakePlugin{name: "first", ext: ".txt", out: map[string]value.Value{"k": "first"}}, 10)
	r.Register(&fakePlugin{name: "second", ext: ".txt", out: map[string]value.Value{"k": "second"}}, 1)

	out, _, err := r.Dispatch(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Equal(t, "first", out["k"])
}

func TestDispatchErrorModeWarn(t *testing.T) {
	r := New(Options{ErrorMode: ErrorWarn})
	r.Register(&fakePlugin{name: "broken", ext: ".txt", failErr: errors.New("boom")}, 1)

	out, warnings, err := r.Dispatch(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Empty(t, out)
	require.Len(t, warnings, 1)
	require.Equal(t, "broken", warnings[0].Plugin)
}

func TestDispatchErrorModeRaise(t *testing.T) {
	r := New(Options{ErrorMode: ErrorRaise})
	r.Register(&fakePlugin{name: "broken", ext: ".txt", failErr: errors.New("boom")}, 1)

	_, _, err := r.Dispatch(context.Background(), "/a.txt")
	require.Error(t, err)
}

func TestDispatchNoMatchingPluginsReturnsEmpty(t *testing.T) {
	r := New(Options{})
	r.Register(&fakePlugin{name: "png", ext: ".png"}, 1)

	out, warnings, err := r.Dispatch(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Empty(t, out)
}
