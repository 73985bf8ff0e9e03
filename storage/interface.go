// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"context"

	"github.com/metabase-project/metabase/record"
)

// Transaction identifies a consistent snapshot over a Backend. Grounded on
// the teacher's storage.Transaction: an opaque handle, not a connection.
type Transaction interface {
	// ID returns a unique identifier for this transaction.
	ID() uint64
}

// BulkOp is one operation within a Backend.Bulk call.
type BulkOp struct {
	Path   string
	Delete bool          // if true, remove the record at Path
	Record record.Record // ignored when Delete is true
}

// BulkResult reports the outcome of one BulkOp.
type BulkResult struct {
	Path string
	Err  error
}

// Snapshot is an opaque backend-specific restore point returned by
// Backend.Snapshot and accepted by Backend.Restore. The Manager's rollback
// does not use it; it restores the Index Registry's own snapshot instead.
type Snapshot interface{}

// Backend is the contract every storage backend implementation (in-memory,
// JSON file, embedded SQL) satisfies. Grounded directly on
// storage.Store in the teacher repo, generalized from ast.Ref/PatchOp paths
// over an arbitrary document tree to canonical-path-keyed metadata records.
type Backend interface {
	// ID returns a namespaced identifier for this backend instance.
	ID() string

	// Begin starts a transaction. Write transactions must exclude other
	// write transactions; read transactions may run concurrently with each
	// other and, per the specification's locking model, are only excluded by
	// the Index Registry's own lock, not the backend's.
	Begin(ctx context.Context, write bool) (Transaction, error)

	// Commit finalizes a transaction, flushing durably.
	Commit(ctx context.Context, txn Transaction) error

	// Abort discards a transaction's effects.
	Abort(ctx context.Context, txn Transaction) error

	// Save durably stores record at path. Idempotent: repeated saves with
	// identical arguments are equivalent to one.
	Save(ctx context.Context, txn Transaction, path string, rec record.Record) error

	// Get fetches the record at path. Returns a NotFoundErr if absent.
	Get(ctx context.Context, txn Transaction, path string) (record.Record, error)

	// Delete removes the record at path, reporting whether one existed.
	Delete(ctx context.Context, txn Transaction, path string) (bool, error)

	// IterAll streams every (path, record) pair. The callback's error, if
	// non-nil, stops iteration and is returned by IterAll.
	IterAll(ctx context.Context, txn Transaction, fn func(path string, rec record.Record) error) error

	// Bulk applies every op atomically as a group.
	Bulk(ctx context.Context, txn Transaction, ops []BulkOp) ([]BulkResult, error)

	// Snapshot captures a restore point for the active transaction.
	Snapshot(ctx context.Context, txn Transaction) (Snapshot, error)

	// Restore rolls the backend back to a previously captured snapshot.
	Restore(ctx context.Context, txn Transaction, snap Snapshot) error

	// Close releases any resources held by the backend (files, connection
	// pools). Safe to call once, after all transactions have ended.
	Close() error
}
