package table

import (
	"github.com/arkilian/tessera/pkg/types"
)

// Cursor is a lazy, finite, restartable sequence of rows matching a key
// predicate. Each partition's matching rows are materialized on first
// touch (under that shard's read lock only) and retained, so Reset
// replays an identical sequence without re-reading shards. The cursor
// is pinned to one table view: maintenance that runs mid-scan never
// changes what the cursor observes.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	view    *view
	pred    types.KeyRange
	indices []int

	batches     [][]types.Row
	materialized int // count of indices already read into batches

	pi int // batch position
	ri int // row position within batch

	rowsScanned int64
}

func newCursor(v *view, pred types.KeyRange, indices []int) *Cursor {
	return &Cursor{
		view:    v,
		pred:    pred,
		indices: indices,
		batches: make([][]types.Row, 0, len(indices)),
	}
}

// Next returns the next matching row. The second result is false when
// the sequence is exhausted.
func (c *Cursor) Next() (types.Row, bool) {
	for {
		if c.pi < len(c.batches) {
			batch := c.batches[c.pi]
			if c.ri < len(batch) {
				row := batch[c.ri]
				c.ri++
				c.rowsScanned++
				return row, true
			}
			c.pi++
			c.ri = 0
			continue
		}

		if c.materialized >= len(c.indices) {
			return types.Row{}, false
		}
		c.materialize()
	}
}

// materialize reads the next pending partition's matching rows.
func (c *Cursor) materialize() {
	idx := c.indices[c.materialized]
	c.materialized++

	sh := c.view.shards[idx]
	sh.mu.RLock()
	batch := make([]types.Row, 0, len(sh.rows))
	for _, row := range sh.rows {
		if c.pred.Contains(row.Key) {
			batch = append(batch, row)
		}
	}
	sh.mu.RUnlock()

	c.batches = append(c.batches, batch)
}

// Reset rewinds the cursor to the beginning. Already-materialized
// partitions are replayed as read; the rest stay lazy. The row counter
// restarts with the pass, so Report always describes rows read since
// the last Reset.
func (c *Cursor) Reset() {
	c.pi = 0
	c.ri = 0
	c.rowsScanned = 0
}

// Collect drains the cursor from its current position into a slice.
func (c *Cursor) Collect() []types.Row {
	var out []types.Row
	for {
		row, ok := c.Next()
		if !ok {
			return out
		}
		out = append(out, row)
	}
}

// Report summarizes pruning effectiveness for this cursor's scan.
func (c *Cursor) Report() ScanReport {
	total := c.view.fn.PartitionCount()
	scanned := len(c.indices)
	pruned := total - scanned

	var ratio float64
	if total > 0 {
		ratio = float64(pruned) / float64(total)
	}
	return ScanReport{
		Version:           c.view.fn.Version(),
		PartitionsTotal:   total,
		PartitionsScanned: scanned,
		PartitionsPruned:  pruned,
		PruningRatio:      ratio,
		RowsScanned:       c.rowsScanned,
	}
}

// ScanReport describes how much of the table a scan touched. The
// pruned/scanned distinction is the store's central performance
// contract: partitions disjoint from the predicate never appear in the
// scanned count.
type ScanReport struct {
	Version           uint64  `json:"version"`
	PartitionsTotal   int     `json:"partitions_total"`
	PartitionsScanned int     `json:"partitions_scanned"`
	PartitionsPruned  int     `json:"partitions_pruned"`
	PruningRatio      float64 `json:"pruning_ratio"`
	RowsScanned       int64   `json:"rows_scanned"`
}
