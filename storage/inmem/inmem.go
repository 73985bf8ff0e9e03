// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package inmem implements the in-memory Storage Backend. It is the default
// backend: a single mapping guarded by a reader-writer lock plus a writer
// mutex, exactly the concurrency shape of the teacher's storage/inmem
// package (storage.NewTransaction taking the shared or exclusive lock for
// the transaction's lifetime, Commit/Abort releasing it).
package inmem

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/storage"
)

// New returns an empty in-memory backend.
func New() storage.Backend {
	return &backend{
		id:   "inmem",
		data: map[string]record.Record{},
	}
}

type backend struct {
	id  string
	rmu sync.RWMutex // reader lock: held shared by readers, exclusive by commit
	wmu sync.Mutex   // single-writer lock

	xid  uint64
	data map[string]record.Record
}

type transaction struct {
	xid     uint64
	write   bool
	stale   bool
	backend *backend

	// pending holds the write-transaction's staged mutations so Abort can
	// discard them without ever touching backend.data.
	pending map[string]*record.Record // nil value means "delete"
}

func (b *backend) ID() string { return b.id }

func (b *backend) Begin(_ context.Context, write bool) (storage.Transaction, error) {
	xid := atomic.AddUint64(&b.xid, 1)
	if write {
		b.wmu.Lock()
	} else {
		b.rmu.RLock()
	}
	txn := &transaction{xid: xid, write: write, backend: b}
	if write {
		txn.pending = map[string]*record.Record{}
	}
	return txn, nil
}

func (t *transaction) ID() uint64 { return t.xid }

func (b *backend) underlying(txn storage.Transaction) (*transaction, error) {
	t, ok := txn.(*transaction)
	if !ok || t.backend != b {
		return nil, &storage.Error{Code: storage.InternalErr, Message: "unknown transaction"}
	}
	if t.stale {
		return nil, &storage.Error{Code: storage.InternalErr, Message: "stale transaction"}
	}
	return t, nil
}

func (b *backend) Commit(_ context.Context, txn storage.Transaction) error {
	t, err := b.underlying(txn)
	if err != nil {
		return err
	}
	if t.write {
		b.rmu.Lock()
		for path, rec := range t.pending {
			if rec == nil {
				delete(b.data, path)
			} else {
				b.data[path] = *rec
			}
		}
		t.stale = true
		b.rmu.Unlock()
		b.wmu.Unlock()
	} else {
		t.stale = true
		b.rmu.RUnlock()
	}
	return nil
}

func (b *backend) Abort(_ context.Context, txn storage.Transaction) error {
	t, err := b.underlying(txn)
	if err != nil {
		return err
	}
	t.stale = true
	if t.write {
		b.wmu.Unlock()
	} else {
		b.rmu.RUnlock()
	}
	return nil
}

func (b *backend) Save(_ context.Context, txn storage.Transaction, path string, rec record.Record) error {
	t, err := b.underlying(txn)
	if err != nil {
		return err
	}
	if !t.write {
		return &storage.Error{Code: storage.InternalErr, Message: "save during read transaction"}
	}
	cpy := rec.Clone()
	t.pending[path] = &cpy
	return nil
}

func (b *backend) Get(_ context.Context, txn storage.Transaction, path string) (record.Record, error) {
	t, err := b.underlying(txn)
	if err != nil {
		return record.Record{}, err
	}
	if t.write {
		if rec, ok := t.pending[path]; ok {
			if rec == nil {
				return record.Record{}, storage.NotFound(path)
			}
			return rec.Clone(), nil
		}
	}
	rec, ok := b.data[path]
	if !ok {
		return record.Record{}, storage.NotFound(path)
	}
	return rec.Clone(), nil
}

func (b *backend) Delete(_ context.Context, txn storage.Transaction, path string) (bool, error) {
	t, err := b.underlying(txn)
	if err != nil {
		return false, err
	}
	if !t.write {
		return false, &storage.Error{Code: storage.InternalErr, Message: "delete during read transaction"}
	}
	if rec, ok := t.pending[path]; ok {
		existed := rec != nil
		t.pending[path] = nil
		return existed, nil
	}
	_, existed := b.data[path]
	t.pending[path] = nil
	return existed, nil
}

func (b *backend) IterAll(_ context.Context, txn storage.Transaction, fn func(path string, rec record.Record) error) error {
	t, err := b.underlying(txn)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	if t.write {
		for path, rec := range t.pending {
			seen[path] = true
			if rec == nil {
				continue
			}
			if err := fn(path, rec.Clone()); err != nil {
				return err
			}
		}
	}
	for path, rec := range b.data {
		if seen[path] {
			continue
		}
		if err := fn(path, rec.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) Bulk(ctx context.Context, txn storage.Transaction, ops []storage.BulkOp) ([]storage.BulkResult, error) {
	results := make([]storage.BulkResult, len(ops))
	for i, op := range ops {
		var err error
		if op.Delete {
			_, err = b.Delete(ctx, txn, op.Path)
		} else {
			err = b.Save(ctx, txn, op.Path, op.Record)
		}
		results[i] = storage.BulkResult{Path: op.Path, Err: err}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// snapshot is a shallow clone of the data map, taken under the reader lock,
// mirroring the teacher's "snapshot is a shallow clone of the mapping under
// the lock" contract for storage.Store.
type snapshot struct {
	data map[string]record.Record
}

func (b *backend) Snapshot(_ context.Context, txn storage.Transaction) (storage.Snapshot, error) {
	if _, err := b.underlying(txn); err != nil {
		return nil, err
	}
	cpy := make(map[string]record.Record, len(b.data))
	for k, v := range b.data {
		cpy[k] = v
	}
	return snapshot{data: cpy}, nil
}

func (b *backend) Restore(_ context.Context, txn storage.Transaction, snap storage.Snapshot) error {
	t, err := b.underlying(txn)
	if err != nil {
		return err
	}
	s, ok := snap.(snapshot)
	if !ok {
		return &storage.Error{Code: storage.InternalErr, Message: "snapshot type mismatch"}
	}
	b.data = s.data
	t.pending = map[string]*record.Record{}
	return nil
}

func (b *backend) Close() error { return nil }
