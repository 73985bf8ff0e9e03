// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package jsonfile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/storage"
)

func TestSaveCommitPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.json")

	b, err := New(path)
	require.NoError(t, err)

	require.NoError(t, storage.Txn(ctx, b, true, func(txn storage.Transaction) error {
		return b.Save(ctx, txn, "/a.png", record.New(record.System{Path: "/a.png", Size: 1}))
	}))
	require.NoError(t, b.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	require.NoError(t, storage.Txn(ctx, reopened, false, func(txn storage.Transaction) error {
		rec, err := reopened.Get(ctx, txn, "/a.png")
		require.NoError(t, err)
		require.Equal(t, int64(1), rec.System.Size)
		return nil
	}))
}

func TestNewOnMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	b, err := New(path)
	require.NoError(t, err)

	ctx := context.Background()
	err = storage.Txn(ctx, b, false, func(txn storage.Transaction) error {
		_, err := b.Get(ctx, txn, "/x")
		return err
	})
	require.True(t, storage.IsNotFound(err))
}

func TestDeleteThenReopenReflectsRemoval(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.json")
	b, err := New(path)
	require.NoError(t, err)

	require.NoError(t, storage.Txn(ctx, b, true, func(txn storage.Transaction) error {
		return b.Save(ctx, txn, "/x", record.New(record.System{Path: "/x"}))
	}))
	require.NoError(t, storage.Txn(ctx, b, true, func(txn storage.Transaction) error {
		_, err := b.Delete(ctx, txn, "/x")
		return err
	}))

	reopened, err := New(path)
	require.NoError(t, err)
	err = storage.Txn(ctx, reopened, false, func(txn storage.Transaction) error {
		_, err := reopened.Get(ctx, txn, "/x")
		return err
	})
	require.True(t, storage.IsNotFound(err))
}
