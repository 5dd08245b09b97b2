package table

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/internal/partition"
	"github.com/arkilian/tessera/pkg/types"
)

func TestSplitRedistributesRows(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-1", "2025-03-01", 1)))
	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-1", "2026-03-01", 2)))
	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-1", "2026-09-01", 3)))
	assert.Equal(t, []int{0, 0, 0, 3}, s.PartitionRowCounts())

	fn, err := s.SplitAt(1, b2026, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fn.Version())
	assert.Equal(t, uint64(2), s.Version())

	// Only the divided partition's rows moved: 2025 stays below the new
	// boundary, the 2026 rows land in the new partition.
	assert.Equal(t, []int{0, 0, 0, 1, 2}, s.PartitionRowCounts())
}

func TestSplitStaleVersion(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)

	_, err := s.SplitAt(99, b2026, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, terrors.ErrStaleVersion))
	assert.True(t, terrors.IsRetryable(err))

	// Nothing changed.
	assert.Equal(t, uint64(1), s.Version())
}

func TestSplitBoundaryConflict(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)

	_, err := s.SplitAt(1, b2024, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, terrors.ErrBoundaryConflict))
}

func TestMergeConcatenatesRows(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-1", "2023-03-01", 1)))
	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-1", "2024-03-01", 2)))
	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-1", "2024-09-01", 3)))

	fn, err := s.MergeAt(1, b2024)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fn.Version())
	assert.Equal(t, []int64{b2023, b2025}, fn.Boundaries())

	// 2023 and 2024 rows now share one partition.
	assert.Equal(t, []int{0, 3, 0}, s.PartitionRowCounts())

	// Every row still routes correctly under the new function.
	cur, err := s.FullScan(ctx)
	require.NoError(t, err)
	assert.Len(t, cur.Collect(), 3)
}

func TestMergeMissingBoundary(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)

	_, err := s.MergeAt(1, b2026)
	require.Error(t, err)
	assert.True(t, errors.Is(err, terrors.ErrBoundaryConflict))
}

func TestMergeTopmostBoundaryWithoutCatchAll(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, false)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-1", "2024-06-01", 1)))

	// Boundary 2025 closes the key space; removing it would strand the
	// rows of [2024, 2025) outside every partition.
	_, err := s.MergeAt(1, b2025)
	require.Error(t, err)
	assert.Equal(t, terrors.CodeInvalidCommand, terrors.GetCode(err))

	// Once the topmost partition is empty the boundary can go.
	cur, err := s.FullScan(ctx)
	require.NoError(t, err)
	rows := cur.Collect()
	require.Len(t, rows, 1)
	require.NoError(t, s.Delete(ctx, rows[0].RowID, rows[0].Key))

	fn, err := s.MergeAt(1, b2025)
	require.NoError(t, err)
	assert.Equal(t, []int64{b2023, b2024}, fn.Boundaries())
	assert.Equal(t, 2, fn.PartitionCount())
}

func TestSplitThenInsertLandsInNewPartition(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, false)
	ctx := context.Background()

	// The motivating sequence for extending the boundary list: inserts
	// beyond the last boundary fail until a split adds the new range.
	err := s.Insert(ctx, rowOn(t, "acct-1", "2025-06-01", 1))
	require.Error(t, err)

	_, err = s.SplitAt(1, b2026, "")
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, rowOn(t, "acct-1", "2025-06-01", 1)))
	assert.Equal(t, []int{0, 0, 0, 1}, s.PartitionRowCounts())
}

func TestMaintenanceRoundTripPreservesRows(t *testing.T) {
	s := newYearStore(t, partition.RangeLeft, true)
	ctx := context.Background()
	seedYears(t, s, "acct-1")

	before, err := s.FullScan(ctx)
	require.NoError(t, err)
	want := before.Collect()

	_, err = s.SplitAt(1, types.MustKeyForDate("2024-07-01"), "")
	require.NoError(t, err)
	_, err = s.MergeAt(2, types.MustKeyForDate("2024-07-01"))
	require.NoError(t, err)

	after, err := s.FullScan(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, after.Collect())
	assert.Equal(t, uint64(3), s.Version())
}
