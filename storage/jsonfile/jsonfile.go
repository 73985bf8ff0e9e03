// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package jsonfile implements the JSON file Storage Backend. The entire
// document is loaded into memory on startup; every commit serializes the
// full document to a write-ahead journal file tagged with a recognizable
// header, then atomically replaces the main document file with it —
// grounded on github.com/natefinch/atomic's temp-file-then-rename primitive
// (an enrichment pulled from the calvinalkan-agent-task pack entry, which
// carries exactly this library for exactly this "atomic replace on commit"
// shape) plus the teacher's emphasis, throughout storage/inmem and
// storage/disk, on never leaving the backend in a half-written state.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/storage"
)

// journalHeader tags a journal file as a fully-written, replayable document.
// Recovery refuses to trust a journal file whose header does not match
// exactly, treating a partially-written journal as if it never existed.
const journalHeader = "metabase-jsonfile-journal-v1\n"

type document struct {
	Records map[string]record.Record `json:"records"`
}

// New opens (or creates) a JSON file backend at path. If a journal file from
// an interrupted commit is found with an intact header, it is replayed
// before the main document is loaded.
func New(path string) (storage.Backend, error) {
	b := &backend{id: "jsonfile:" + path, path: path, journalPath: path + ".journal"}
	if err := b.recover(); err != nil {
		return nil, storage.Storage(b.id, err)
	}
	if err := b.load(); err != nil {
		return nil, storage.Storage(b.id, err)
	}
	return b, nil
}

type backend struct {
	mu          sync.RWMutex
	wmu         sync.Mutex
	id          string
	path        string
	journalPath string
	xid         uint64
	doc         document
}

func (b *backend) recover() error {
	raw, err := os.ReadFile(b.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read journal: %w", err)
	}
	if !bytes.HasPrefix(raw, []byte(journalHeader)) {
		// Partial/corrupt journal: discard it, the main document is still
		// authoritative.
		return os.Remove(b.journalPath)
	}
	if err := atomic.WriteFile(b.path, bytes.NewReader(raw[len(journalHeader):])); err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	return os.Remove(b.journalPath)
}

func (b *backend) load() error {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			b.doc = document{Records: map[string]record.Record{}}
			return nil
		}
		return fmt.Errorf("read document: %w", err)
	}
	if len(raw) == 0 {
		b.doc = document{Records: map[string]record.Record{}}
		return nil
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if doc.Records == nil {
		doc.Records = map[string]record.Record{}
	}
	b.doc = doc
	return nil
}

// commitToDisk serializes b.doc, prefixes the header, writes it to the
// journal file durably, then atomically replaces the main document with the
// journal's content and removes the journal.
func (b *backend) commitToDisk() error {
	bs, err := json.Marshal(b.doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	journal := append([]byte(journalHeader), bs...)
	if err := os.MkdirAll(filepath.Dir(b.journalPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(b.journalPath, journal, 0o644); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := atomic.WriteFile(b.path, bytes.NewReader(bs)); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	return os.Remove(b.journalPath)
}

type transaction struct {
	xid     uint64
	write   bool
	stale   bool
	backend *backend
	pending map[string]*record.Record
}

func (t *transaction) ID() uint64 { return t.xid }

func (b *backend) ID() string { return b.id }

func (b *backend) Begin(_ context.Context, write bool) (storage.Transaction, error) {
	b.xid++
	if write {
		b.wmu.Lock()
	} else {
		b.mu.RLock()
	}
	t := &transaction{xid: b.xid, write: write, backend: b}
	if write {
		t.pending = map[string]*record.Record{}
	}
	return t, nil
}

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
	if !t.write {
		t.stale = true
		b.mu.RUnlock()
		return nil
	}

	b.mu.Lock()
	before := make(map[string]record.Record, len(b.doc.Records))
	for k, v := range b.doc.Records {
		before[k] = v
	}
	for path, rec := range t.pending {
		if rec == nil {
			delete(b.doc.Records, path)
		} else {
			b.doc.Records[path] = *rec
		}
	}
	commitErr := b.commitToDisk()
	if commitErr != nil {
		// The in-memory document must never diverge from what's actually on
		// disk: if the write-ahead-then-rename sequence failed, undo the
		// pending mutation applied above so a caller that treats this
		// transaction as rolled back (e.g. the Manager restoring its Index
		// Registry snapshot) finds the backend's own state rolled back too.
		b.doc.Records = before
	}
	t.stale = true
	b.mu.Unlock()
	b.wmu.Unlock()
	if commitErr != nil {
		return storage.Storage(b.id, commitErr)
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
		b.mu.RUnlock()
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
	rec, ok := b.doc.Records[path]
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
	_, existed := b.doc.Records[path]
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
	for path, rec := range b.doc.Records {
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

type snapshot struct {
	records map[string]record.Record
}

func (b *backend) Snapshot(_ context.Context, txn storage.Transaction) (storage.Snapshot, error) {
	if _, err := b.underlying(txn); err != nil {
		return nil, err
	}
	cpy := make(map[string]record.Record, len(b.doc.Records))
	for k, v := range b.doc.Records {
		cpy[k] = v
	}
	return snapshot{records: cpy}, nil
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
	b.doc.Records = s.records
	t.pending = map[string]*record.Record{}
	return nil
}

func (b *backend) Close() error { return nil }
