// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package probe implements the System Attribute Probe: reading size,
// timestamps, extension, and filename for an existing file on disk.
// Grounded on os.Stat/os.Lstat usage in the teacher's loader and internal/file
// packages, generalized to the six-field system sub-map from §3/§4.B.
package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/storage"
)

// Prober reads filesystem metadata for a canonical path.
type Prober struct {
	// FollowSymlinks controls os.Stat vs os.Lstat. Off by default per §4.B.
	FollowSymlinks bool
}

// New returns a Prober with default options.
func New() *Prober { return &Prober{} }

// Probe reads the six-field system sub-map for canonicalPath. Returns a
// FileAccessErr if the path does not exist or is not readable.
func (p *Prober) Probe(_ context.Context, canonicalPath string) (record.System, error) {
	var fi os.FileInfo
	var err error
	if p.FollowSymlinks {
		fi, err = os.Stat(canonicalPath)
	} else {
		fi, err = os.Lstat(canonicalPath)
	}
	if err != nil {
		return record.System{}, storage.FileAccessWrap(err, "stat %q", canonicalPath)
	}
	if fi.IsDir() {
		return record.System{}, storage.FileAccess("%q is a directory, not a file", canonicalPath)
	}

	modified := float64(fi.ModTime().UnixNano()) / 1e9
	created, accessed := statTimestamps(fi)
	if created == 0 {
		created = modified
	}
	if accessed == 0 {
		accessed = modified
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fi.Name())), ".")

	return record.System{
		Path:      canonicalPath,
		Filename:  fi.Name(),
		Extension: ext,
		Size:      fi.Size(),
		Created:   created,
		Modified:  modified,
		Accessed:  accessed,
	}, nil
}
