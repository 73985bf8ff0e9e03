// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package pathnorm implements the Path Normalizer: resolving any input
// string into the canonical, absolute path used as the primary key
// throughout the metadata index. Grounded on the standard library's
// path/filepath (the one stdlib choice in this module with no ecosystem
// alternative in the retrieval pack — see DESIGN.md), following the
// collapse/resolve/case-fold rules in §4.A.
package pathnorm

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/metabase-project/metabase/storage"
)

// Options configures a Normalizer.
type Options struct {
	// CaseInsensitive folds canonical paths to lower case, for filesystems
	// configured as case-insensitive.
	CaseInsensitive bool
	// FollowSymlinks additionally resolves symlinks via filepath.EvalSymlinks
	// after "." and ".." are collapsed lexically; a path that fails to resolve
	// keeps its lexical form. Off by default per §4.A(ii).
	FollowSymlinks bool
	// WorkingDir is used to resolve relative paths; defaults to the
	// process's current working directory if empty.
	WorkingDir string
	// EvalSymlinks is injected for testability; defaults to
	// filepath.EvalSymlinks.
	EvalSymlinks func(string) (string, error)
}

// Normalizer canonicalizes file paths.
type Normalizer struct {
	opts Options
}

// New returns a Normalizer configured by opts.
func New(opts Options) *Normalizer {
	if opts.EvalSymlinks == nil {
		opts.EvalSymlinks = filepath.EvalSymlinks
	}
	return &Normalizer{opts: opts}
}

// Canonicalize resolves raw into a canonical path, or returns an
// InvalidPathErr for empty input or input containing characters reserved on
// the host OS.
func (n *Normalizer) Canonicalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", storage.InvalidPath("path must not be empty")
	}
	if err := checkReservedChars(raw); err != nil {
		return "", storage.InvalidPath("%v", err)
	}

	abs := raw
	if !filepath.IsAbs(abs) {
		wd := n.opts.WorkingDir
		if wd == "" {
			var err error
			wd, err = filepath.Abs(".")
			if err != nil {
				return "", storage.InvalidPath("resolve working directory: %v", err)
			}
		}
		abs = filepath.Join(wd, abs)
	}

	abs = filepath.Clean(abs)

	if n.opts.FollowSymlinks {
		if resolved, err := n.opts.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
	}

	abs = filepath.ToSlash(abs)
	for strings.Contains(abs, "//") {
		abs = strings.ReplaceAll(abs, "//", "/")
	}

	if n.opts.CaseInsensitive {
		abs = strings.ToLower(abs)
	}

	return abs, nil
}

func checkReservedChars(raw string) error {
	if runtime.GOOS != "windows" {
		return nil
	}
	const reserved = `<>"|?*`
	if strings.ContainsAny(raw, reserved) {
		return fmt.Errorf("path %q contains reserved characters", raw)
	}
	return nil
}
