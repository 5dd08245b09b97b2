package table

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/tessera/internal/catalog"
	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/internal/partition"
	"github.com/arkilian/tessera/internal/storage"
)

func newCheckpointEnv(t *testing.T, s *Store) (*Checkpointer, *catalog.Catalog, *storage.LocalStorage) {
	t.Helper()

	objStorage, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	return NewCheckpointer(s, objStorage, cat, nil), cat, objStorage
}

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	src := newYearStore(t, partition.RangeLeft, true)
	seedYears(t, src, "acct-1")
	ctx := context.Background()

	cp, _, objStorage := newCheckpointEnv(t, src)
	require.NoError(t, cp.Checkpoint(ctx))

	full, err := src.FullScan(ctx)
	require.NoError(t, err)
	want := full.Collect()

	// Restore into a fresh empty store sharing the same catalog and
	// object storage.
	dst := newYearStore(t, partition.RangeLeft, true)
	rcp := NewCheckpointer(dst, objStorage, cp.catalog, nil)

	n, err := rcp.Restore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	got, err := dst.FullScan(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got.Collect())
	assert.Equal(t, src.PartitionRowCounts(), dst.PartitionRowCounts())
}

func TestCheckpointRecordsCatalogPointers(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)
	seedYears(t, s, "acct-1")
	ctx := context.Background()

	cp, cat, objStorage := newCheckpointEnv(t, s)
	require.NoError(t, cp.Checkpoint(ctx))

	records, err := cat.Checkpoints(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 4)

	var total int64
	for _, rec := range records {
		ok, err := objStorage.Exists(ctx, rec.ObjectPath)
		require.NoError(t, err)
		assert.True(t, ok, "missing object %s", rec.ObjectPath)
		total += rec.RowCount
	}
	assert.Equal(t, int64(6), total)

	ver, err := cat.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ver.Version)
	assert.Equal(t, []int64{b2023, b2024, b2025}, ver.Boundaries)
}

func TestRestoreMissingVersion(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)
	cp, _, _ := newCheckpointEnv(t, s)

	_, err := cp.Restore(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, terrors.CodeVersionMissing, terrors.GetCode(err))
}

func TestRestoreReroutesThroughCurrentFunction(t *testing.T) {
	src := newYearStore(t, partition.RangeLeft, true)
	seedYears(t, src, "acct-1")
	ctx := context.Background()

	cp, _, objStorage := newCheckpointEnv(t, src)
	require.NoError(t, cp.Checkpoint(ctx))

	// The destination has an extra boundary, so restored rows land in a
	// different layout than the one they were snapshotted from.
	dst := newYearStore(t, partition.RangeLeft, true)
	_, err := dst.SplitAt(1, b2026, "")
	require.NoError(t, err)

	rcp := NewCheckpointer(dst, objStorage, cp.catalog, nil)
	n, err := rcp.Restore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	// 2022 row below the first boundary, then one partition per year,
	// with the 2025 row now split off from the catch-all.
	assert.Equal(t, []int{1, 2, 2, 1, 0}, dst.PartitionRowCounts())
}

func TestCheckpointIsRepeatablePerVersion(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)
	seedYears(t, s, "acct-1")
	ctx := context.Background()

	cp, cat, _ := newCheckpointEnv(t, s)
	require.NoError(t, cp.Checkpoint(ctx))

	// A second checkpoint at the same version replaces the pointers
	// instead of accumulating duplicates.
	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-2", "2024-11-01", 5)))
	require.NoError(t, cp.Checkpoint(ctx))

	records, err := cat.Checkpoints(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 4)

	var total int64
	for _, rec := range records {
		total += rec.RowCount
	}
	assert.Equal(t, int64(7), total)
}
