// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package probe

import (
	"os"
	"syscall"
)

// statTimestamps extracts ctime/atime from the platform stat struct. Linux
// exposes no creation time, so "created" here is the inode change time;
// Probe falls back to modified when the value returned here is 0.
func statTimestamps(fi os.FileInfo) (created, accessed float64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	created = float64(st.Ctim.Sec) + float64(st.Ctim.Nsec)/1e9
	accessed = float64(st.Atim.Sec) + float64(st.Atim.Nsec)/1e9
	return created, accessed
}
