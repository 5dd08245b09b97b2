// Package table implements the partitioned table store: rows grouped
// by partition with insert routing, pruned range scans, and boundary
// maintenance applied as atomic copy-on-write view swaps.
package table

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/internal/observability"
	"github.com/arkilian/tessera/internal/partition"
	"github.com/arkilian/tessera/pkg/types"
)

// shard holds one partition's rows. Locking is per-shard, so inserts
// and scans touching different partitions never block each other.
type shard struct {
	mu sync.RWMutex

	// sealed marks a shard retired by a split or merge. An insert that
	// finds its shard sealed reloads the current view and re-routes.
	sealed bool

	rows []types.Row
}

// view is an immutable snapshot of the table: one boundary function
// version, its scheme, and the shard set. Maintenance publishes a new
// view atomically; readers hold one view for the whole operation and
// see either the pre- or post-maintenance boundary set, never a mix.
type view struct {
	fn     *partition.Function
	scheme *partition.Scheme
	shards []*shard
}

// Store is a range-partitioned row store.
type Store struct {
	name string

	// maintMu serializes maintenance operations (split/merge). Inserts
	// and scans never take it.
	maintMu sync.Mutex

	view    atomic.Pointer[view]
	closed  atomic.Bool
	log     *slog.Logger
	metrics *observability.Metrics
	stats   *observability.ScanTracker
}

// Options configures optional store collaborators.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Stats   *observability.ScanTracker
}

// New creates a store for the given partition function and scheme.
func New(name string, fn *partition.Function, scheme *partition.Scheme, opts Options) (*Store, error) {
	if fn == nil || scheme == nil {
		return nil, terrors.NewTableError(terrors.CodeRoutingFailed, "store requires a partition function and scheme")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	shards := make([]*shard, fn.PartitionCount())
	for i := range shards {
		shards[i] = &shard{}
	}

	s := &Store{
		name:    name,
		log:     opts.Logger.With("table", name),
		metrics: opts.Metrics,
		stats:   opts.Stats,
	}
	s.view.Store(&view{fn: fn, scheme: scheme, shards: shards})
	return s, nil
}

// Name returns the table name.
func (s *Store) Name() string {
	return s.name
}

// Version returns the current boundary list version.
func (s *Store) Version() uint64 {
	return s.view.Load().fn.Version()
}

// Function returns the current partition function snapshot.
func (s *Store) Function() *partition.Function {
	return s.view.Load().fn
}

// Scheme returns the current partition scheme snapshot.
func (s *Store) Scheme() *partition.Scheme {
	return s.view.Load().scheme
}

// Insert routes the row by its key and appends it to the owning
// partition. The row is never silently dropped: an unroutable key
// fails with a ROUTING_FAILED error wrapping OUT_OF_RANGE.
func (s *Store) Insert(ctx context.Context, row types.Row) error {
	if s.closed.Load() {
		return terrors.NewTableError(terrors.CodeStoreClosed, "store is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		v := s.view.Load()
		idx, err := v.fn.Locate(row.Key)
		if err != nil {
			return terrors.Wrap(terrors.ErrCategoryTable, terrors.CodeRoutingFailed,
				fmt.Sprintf("row %s cannot be placed", row.RowID), err)
		}

		sh := v.shards[idx]
		sh.mu.Lock()
		if sh.sealed {
			// A concurrent split or merge retired this shard; the new
			// view is already published, so re-route against it.
			sh.mu.Unlock()
			continue
		}
		sh.rows = append(sh.rows, row)
		sh.mu.Unlock()

		s.metrics.ObserveInsert(1)
		return nil
	}
}

// InsertBatch inserts rows one by one, stopping at the first failure.
// Rows inserted before the failure remain in the store.
func (s *Store) InsertBatch(ctx context.Context, rows []types.Row) (int, error) {
	for i, row := range rows {
		if err := s.Insert(ctx, row); err != nil {
			return i, err
		}
	}
	return len(rows), nil
}

// Delete removes the row with the given ID. The key narrows the search
// to the owning partition, so only one shard is locked.
func (s *Store) Delete(ctx context.Context, rowID uuid.UUID, key int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		v := s.view.Load()
		idx, err := v.fn.Locate(key)
		if err != nil {
			return terrors.NewTableError(terrors.CodeRowNotFound,
				fmt.Sprintf("row %s not found: key %d maps to no partition", rowID, key))
		}

		sh := v.shards[idx]
		sh.mu.Lock()
		if sh.sealed {
			sh.mu.Unlock()
			continue
		}
		for i := range sh.rows {
			if sh.rows[i].RowID == rowID {
				sh.rows = append(sh.rows[:i], sh.rows[i+1:]...)
				sh.mu.Unlock()
				return nil
			}
		}
		sh.mu.Unlock()
		return terrors.NewTableError(terrors.CodeRowNotFound,
			fmt.Sprintf("row %s not found in partition %d", rowID, idx))
	}
}

// MoveKey changes a row's partitioning key as an explicit
// delete-then-reinsert; there are no in-place key updates. If the new
// key is unroutable the original row is restored, so the move either
// completes or leaves the store unchanged.
func (s *Store) MoveKey(ctx context.Context, rowID uuid.UUID, oldKey, newKey int64) error {
	row, err := s.take(ctx, rowID, oldKey)
	if err != nil {
		return err
	}

	row.Key = newKey
	if err := s.Insert(ctx, row); err != nil {
		row.Key = oldKey
		if restoreErr := s.Insert(ctx, row); restoreErr != nil {
			return terrors.NewInternalError("failed to restore row after aborted key move", restoreErr)
		}
		return err
	}
	return nil
}

// take removes and returns the row with the given ID and key.
func (s *Store) take(ctx context.Context, rowID uuid.UUID, key int64) (types.Row, error) {
	if err := ctx.Err(); err != nil {
		return types.Row{}, err
	}

	for {
		v := s.view.Load()
		idx, err := v.fn.Locate(key)
		if err != nil {
			return types.Row{}, terrors.NewTableError(terrors.CodeRowNotFound,
				fmt.Sprintf("row %s not found: key %d maps to no partition", rowID, key))
		}

		sh := v.shards[idx]
		sh.mu.Lock()
		if sh.sealed {
			sh.mu.Unlock()
			continue
		}
		for i := range sh.rows {
			if sh.rows[i].RowID == rowID {
				row := sh.rows[i]
				sh.rows = append(sh.rows[:i], sh.rows[i+1:]...)
				sh.mu.Unlock()
				return row, nil
			}
		}
		sh.mu.Unlock()
		return types.Row{}, terrors.NewTableError(terrors.CodeRowNotFound,
			fmt.Sprintf("row %s not found in partition %d", rowID, idx))
	}
}

// RangeScan returns a cursor over rows whose key falls in r. Only
// partitions whose range intersects r are touched; a partition provably
// disjoint from the predicate is never scanned.
func (s *Store) RangeScan(ctx context.Context, r types.KeyRange) (*Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := s.view.Load()
	indices := v.fn.PartitionsFor(r)
	c := newCursor(v, r, indices)

	s.metrics.ObserveScan(len(indices), v.fn.PartitionCount()-len(indices))
	if s.stats != nil {
		s.stats.Record(v.fn.PartitionCount(), len(indices))
	}
	return c, nil
}

// FullScan returns a cursor over every partition's rows, for queries
// without a key predicate (pruning not possible).
func (s *Store) FullScan(ctx context.Context) (*Cursor, error) {
	return s.RangeScan(ctx, types.FullRange())
}

// PartitionRowCounts returns the current row count per partition.
func (s *Store) PartitionRowCounts() []int {
	v := s.view.Load()
	out := make([]int, len(v.shards))
	for i, sh := range v.shards {
		sh.mu.RLock()
		out[i] = len(sh.rows)
		sh.mu.RUnlock()
	}
	return out
}

// Placements resolves the current partition→location mapping.
func (s *Store) Placements() ([]partition.Placement, error) {
	v := s.view.Load()
	return partition.ResolvePlacements(v.fn, v.scheme)
}

// Close marks the store closed. Subsequent inserts fail; scans holding
// a view remain valid.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
