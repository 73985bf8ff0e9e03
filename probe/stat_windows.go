// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package probe

import "os"

// statTimestamps on Windows relies on fi.ModTime alone; Go's os.FileInfo
// does not surface Win32FileAttributeData portably enough to be worth the
// extra syscall here. Probe fills both fields from modified.
func statTimestamps(_ os.FileInfo) (created, accessed float64) {
	return 0, 0
}
