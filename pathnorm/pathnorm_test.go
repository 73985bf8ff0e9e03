// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package pathnorm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metabase-project/metabase/storage"
)

func TestCanonicalizeRejectsEmptyPath(t *testing.T) {
	n := New(Options{})
	_, err := n.Canonicalize("   ")
	require.True(t, isInvalidPath(err))
}

func TestCanonicalizeResolvesRelativeAgainstWorkingDir(t *testing.T) {
	n := New(Options{WorkingDir: "/tmp/work"})
	got, err := n.Canonicalize("a/../b/./c.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.ToSlash(filepath.Clean("/tmp/work/b/c.txt")), got)
}

func TestCanonicalizeIsIdempotentOnAbsolutePath(t *testing.T) {
	n := New(Options{})
	got, err := n.Canonicalize("/tmp/a.txt")
	require.NoError(t, err)
	require.Equal(t, "/tmp/a.txt", got)
}

func TestCanonicalizeCaseFoldsWhenConfigured(t *testing.T) {
	n := New(Options{CaseInsensitive: true})
	got, err := n.Canonicalize("/Tmp/A.TXT")
	require.NoError(t, err)
	require.Equal(t, "/tmp/a.txt", got)
}

func TestCanonicalizeTwoInputsSamePath(t *testing.T) {
	n := New(Options{WorkingDir: "/tmp/work"})
	a, err := n.Canonicalize("./x/../x/y.txt")
	require.NoError(t, err)
	b, err := n.Canonicalize("/tmp/work/x/y.txt")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func isInvalidPath(err error) bool {
	e, ok := err.(*storage.Error)
	return ok && e.Code == storage.InvalidPathErr
}
