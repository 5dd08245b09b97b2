// Package aggregate maintains rolling per-(group, day) sums derived
// from the partitioned table store. Entries are derived data,
// rebuildable from base rows at any time, and never authoritative:
// whenever the cache cannot prove an answer complete it reads through
// to the base store instead of returning a stale total.
package aggregate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/arkilian/tessera/internal/catalog"
	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/internal/observability"
	"github.com/arkilian/tessera/internal/table"
	"github.com/arkilian/tessera/pkg/types"
)

// entryKey identifies one Daily Aggregate Entry.
type entryKey struct {
	group string
	day   int64
}

// entry holds one (group, day) running sum. Entries are replaced whole
// under the cache lock, so a reader never observes a half-updated pair.
type entry struct {
	sum  float64
	rows int64
}

// Cache is the aggregate pre-computation cache.
type Cache struct {
	store   *table.Store
	catalog *catalog.Catalog
	log     *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[entryKey]entry

	// covered/coveredThrough form the watermark: every day strictly
	// below coveredThrough has its entries computed. Days at or above
	// it are read from the base store (hybrid read).
	covered        bool
	coveredThrough int64

	// degraded is set when a refresh fails; queries then bypass the
	// cache entirely and recompute from base rows, so a broken refresh
	// can never produce a wrong total.
	degraded bool
}

// Options configures optional cache collaborators.
type Options struct {
	Catalog *catalog.Catalog
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// New creates an empty cache over the given store.
func New(store *table.Store, opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		store:   store,
		catalog: opts.Catalog,
		log:     log.With("component", "aggregate"),
		metrics: opts.Metrics,
		entries: make(map[entryKey]entry),
	}
}

// Refresh computes entries for all days completed before asOf and
// advances the watermark. The asOf day itself stays uncovered as the
// trailing partial day served by hybrid reads. Re-running Refresh for
// an already-covered range is a no-op.
//
// Refresh assumes days before asOf are closed for writes; inserts into
// the current day are fine concurrently. Late writes into a covered
// day require Rebuild to reconcile.
func (c *Cache) Refresh(ctx context.Context, asOf time.Time) error {
	asOfDay := types.DayOf(asOf.UTC().UnixNano())

	c.mu.RLock()
	covered, through := c.covered, c.coveredThrough
	c.mu.RUnlock()

	if covered && asOfDay <= through {
		return nil
	}

	pred := types.KeyRange{Min: types.MinKey, Max: types.DayStart(asOfDay)}
	if covered {
		pred.Min = types.DayStart(through)
	}

	computed, err := c.compute(ctx, pred, "")
	if err != nil {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		c.metrics.ObserveRefresh("error")
		return terrors.NewAggregateError(terrors.CodeRefreshFailed,
			fmt.Sprintf("refresh as of day %d failed", asOfDay), err)
	}

	c.mu.Lock()
	for k, e := range computed {
		// Set, not add: the scanned range is exactly the uncovered
		// span, so a recompute after a failed attempt stays idempotent.
		c.entries[k] = e
	}
	c.covered = true
	c.coveredThrough = asOfDay
	c.degraded = false
	c.mu.Unlock()

	c.metrics.ObserveRefresh("ok")
	c.log.Info("refresh complete", "covered_through_day", asOfDay, "entries", len(computed))

	c.persist(ctx, computed)
	return nil
}

// Rebuild recomputes every entry from base rows, replacing the cache
// wholesale. Use after restoring a store from checkpoints or after
// out-of-band writes into covered days.
func (c *Cache) Rebuild(ctx context.Context, asOf time.Time) error {
	asOfDay := types.DayOf(asOf.UTC().UnixNano())
	pred := types.KeyRange{Min: types.MinKey, Max: types.DayStart(asOfDay)}

	computed, err := c.compute(ctx, pred, "")
	if err != nil {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		c.metrics.ObserveRefresh("error")
		return terrors.NewAggregateError(terrors.CodeRefreshFailed, "rebuild failed", err)
	}

	c.mu.Lock()
	c.entries = computed
	c.covered = true
	c.coveredThrough = asOfDay
	c.degraded = false
	c.mu.Unlock()

	c.metrics.ObserveRefresh("ok")
	c.log.Info("rebuild complete", "covered_through_day", asOfDay, "entries", len(computed))

	c.persist(ctx, computed)
	return nil
}

// Total is an aggregate query result.
type Total struct {
	GroupID string  `json:"group_id"`
	Sum     float64 `json:"sum"`
	Rows    int64   `json:"rows"`

	// Path reports how the total was produced: "cached", "hybrid"
	// (cached days plus a base-store scan for the trailing uncovered
	// days), or "recompute" (cache bypassed entirely).
	Path string `json:"path"`
}

// Query sums the group's rows over the inclusive day range
// [fromDay, toDay]. Results are always complete and current: uncovered
// trailing days are read from the base store, and a degraded cache
// recomputes everything from base rows.
func (c *Cache) Query(ctx context.Context, groupID string, fromDay, toDay int64) (Total, error) {
	if toDay < fromDay {
		return Total{}, terrors.New(terrors.ErrCategoryAggregate, terrors.CodeRefreshFailed,
			fmt.Sprintf("invalid day range [%d, %d]", fromDay, toDay))
	}

	c.mu.RLock()
	covered, through, degraded := c.covered, c.coveredThrough, c.degraded
	var cachedSum float64
	var cachedRows int64
	if covered && !degraded {
		upper := toDay
		if through-1 < upper {
			upper = through - 1
		}
		for day := fromDay; day <= upper; day++ {
			if e, ok := c.entries[entryKey{group: groupID, day: day}]; ok {
				cachedSum += e.sum
				cachedRows += e.rows
			}
		}
	}
	c.mu.RUnlock()

	total := Total{GroupID: groupID, Path: "cached"}

	if degraded || !covered {
		// Fall back to full recomputation rather than risk a wrong sum.
		sum, rows, err := c.scanSpan(ctx, groupID, fromDay, toDay)
		if err != nil {
			return Total{}, err
		}
		total.Sum, total.Rows, total.Path = sum, rows, "recompute"
		c.metrics.ObserveAggregateQuery(total.Path)
		return total, nil
	}

	total.Sum, total.Rows = cachedSum, cachedRows
	if toDay >= through {
		// Trailing uncovered days: hybrid read against the base store.
		scanFrom := fromDay
		if through > scanFrom {
			scanFrom = through
		}
		sum, rows, err := c.scanSpan(ctx, groupID, scanFrom, toDay)
		if err != nil {
			return Total{}, err
		}
		total.Sum += sum
		total.Rows += rows
		total.Path = "hybrid"
	}

	c.metrics.ObserveAggregateQuery(total.Path)
	return total, nil
}

// Degraded reports whether the last refresh failed.
func (c *Cache) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// CoveredThrough returns the watermark day (exclusive) and whether any
// coverage exists.
func (c *Cache) CoveredThrough() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coveredThrough, c.covered
}

// compute scans the key range and folds rows into per-(group, day)
// entries. An empty groupID folds every group.
func (c *Cache) compute(ctx context.Context, pred types.KeyRange, groupID string) (map[entryKey]entry, error) {
	cur, err := c.store.RangeScan(ctx, pred)
	if err != nil {
		return nil, err
	}

	out := make(map[entryKey]entry)
	for {
		row, ok := cur.Next()
		if !ok {
			break
		}
		if groupID != "" && row.GroupID != groupID {
			continue
		}
		k := entryKey{group: row.GroupID, day: row.Day()}
		e := out[k]
		e.sum += row.Amount
		e.rows++
		out[k] = e
	}
	return out, nil
}

// scanSpan sums one group's rows over an inclusive day span directly
// from the base store.
func (c *Cache) scanSpan(ctx context.Context, groupID string, fromDay, toDay int64) (float64, int64, error) {
	cur, err := c.store.RangeScan(ctx, types.DaySpan(fromDay, toDay))
	if err != nil {
		return 0, 0, err
	}

	var sum float64
	var rows int64
	for {
		row, ok := cur.Next()
		if !ok {
			break
		}
		if row.GroupID != groupID {
			continue
		}
		sum += row.Amount
		rows++
	}
	return sum, rows, nil
}

// persist writes computed entries to the catalog. Failures are logged
// and ignored: persisted aggregates are a convenience copy, the base
// store remains correct without them.
func (c *Cache) persist(ctx context.Context, computed map[entryKey]entry) {
	if c.catalog == nil || len(computed) == 0 {
		return
	}

	records := make([]catalog.AggregateRecord, 0, len(computed))
	for k, e := range computed {
		records = append(records, catalog.AggregateRecord{
			GroupID:  k.group,
			Day:      k.day,
			Sum:      e.sum,
			RowCount: e.rows,
		})
	}
	if err := c.catalog.UpsertAggregates(ctx, records); err != nil {
		c.log.Error("failed to persist aggregate entries", "entries", len(records), "error", err)
	}
}
