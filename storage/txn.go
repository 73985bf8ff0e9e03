// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import "context"

// Txn runs fn inside a transaction on backend: begins, invokes fn, commits
// on success or aborts on error. Grounded on the teacher's storage.Txn
// convenience wrapper around NewTransaction/Commit/Abort.
func Txn(ctx context.Context, backend Backend, write bool, fn func(txn Transaction) error) error {
	txn, err := backend.Begin(ctx, write)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		if abortErr := backend.Abort(ctx, txn); abortErr != nil {
			return wrapError(InternalErr, abortErr, "abort failed after error: %v", err)
		}
		return err
	}
	return backend.Commit(ctx, txn)
}
