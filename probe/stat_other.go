// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

//go:build !linux && !darwin && !windows

package probe

import "os"

func statTimestamps(_ os.FileInfo) (created, accessed float64) {
	return 0, 0
}
