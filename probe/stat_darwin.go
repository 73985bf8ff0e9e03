// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package probe

import (
	"os"
	"syscall"
)

// statTimestamps extracts birthtime/atime from the BSD stat struct. Darwin
// is one of the few platforms that actually reports file creation time.
func statTimestamps(fi os.FileInfo) (created, accessed float64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	created = float64(st.Birthtimespec.Sec) + float64(st.Birthtimespec.Nsec)/1e9
	accessed = float64(st.Atimespec.Sec) + float64(st.Atimespec.Nsec)/1e9
	return created, accessed
}
