package table

import (
	"fmt"

	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/internal/partition"
	"github.com/arkilian/tessera/pkg/types"
)

// SplitAt inserts a boundary, dividing exactly one partition in two.
// Rows of the divided partition are redistributed by the boundary; no
// other partition is rewritten. The new view (function version+1) is
// published atomically while the affected shard's lock is held, so a
// concurrent insert either lands before the copy or re-routes against
// the new view.
//
// expectedVersion guards against lost updates under concurrent
// maintenance: a mismatch fails with STALE_VERSION and the caller may
// re-fetch the current version and resubmit.
func (s *Store) SplitAt(expectedVersion uint64, boundary int64, newLocation string) (*partition.Function, error) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	v := s.view.Load()
	if v.fn.Version() != expectedVersion {
		return nil, staleVersion(v.fn.Version(), expectedVersion)
	}

	nf, divided, err := v.fn.Split(boundary)
	if err != nil {
		return nil, err
	}
	scheme, err := v.scheme.ForSplit(divided+1, newLocation)
	if err != nil {
		return nil, err
	}

	old := v.shards[divided]
	old.mu.Lock()
	defer old.mu.Unlock()

	lower := &shard{}
	upper := &shard{}
	for _, row := range old.rows {
		if nf.BelongsBelow(row.Key, boundary) {
			lower.rows = append(lower.rows, row)
		} else {
			upper.rows = append(upper.rows, row)
		}
	}

	shards := make([]*shard, 0, len(v.shards)+1)
	shards = append(shards, v.shards[:divided]...)
	shards = append(shards, lower, upper)
	shards = append(shards, v.shards[divided+1:]...)

	s.view.Store(&view{fn: nf, scheme: scheme, shards: shards})
	old.sealed = true

	s.metrics.ObserveMaintenance("split")
	s.log.Info("split partition",
		"boundary", boundary,
		"divided", divided,
		"version", nf.Version(),
		"lower_rows", len(lower.rows),
		"upper_rows", len(upper.rows))
	return nf, nil
}

// MergeAt removes a boundary, combining the two adjacent partitions it
// separated. Rows are concatenated, not rescanned. Merging the last
// boundary of a function without a catch-all is rejected while the
// topmost partition holds rows, since those rows would no longer be
// routable.
func (s *Store) MergeAt(expectedVersion uint64, boundary int64) (*partition.Function, error) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	v := s.view.Load()
	if v.fn.Version() != expectedVersion {
		return nil, staleVersion(v.fn.Version(), expectedVersion)
	}

	nf, lowerIdx, err := v.fn.Merge(boundary)
	if err != nil {
		return nil, err
	}

	if lowerIdx+1 >= len(v.shards) {
		// Topmost boundary of a function without a catch-all: the
		// partition above the boundary does not exist, so the merge
		// just drops the boundary and the topmost addressable range.
		top := v.shards[lowerIdx]
		top.mu.Lock()
		defer top.mu.Unlock()
		if len(top.rows) > 0 {
			return nil, terrors.NewMaintenanceError(terrors.CodeInvalidCommand,
				fmt.Sprintf("merging boundary %d would strand %d rows of partition %d outside the key space",
					boundary, len(top.rows), lowerIdx))
		}

		shards := make([]*shard, 0, len(v.shards)-1)
		shards = append(shards, v.shards[:lowerIdx]...)
		s.view.Store(&view{fn: nf, scheme: v.scheme.ForMerge(lowerIdx), shards: shards})
		top.sealed = true

		s.metrics.ObserveMaintenance("merge")
		s.log.Info("merge removed empty topmost partition", "boundary", boundary, "version", nf.Version())
		return nf, nil
	}

	lower := v.shards[lowerIdx]
	upper := v.shards[lowerIdx+1]
	lower.mu.Lock()
	defer lower.mu.Unlock()
	upper.mu.Lock()
	defer upper.mu.Unlock()

	merged := &shard{rows: make([]types.Row, 0, len(lower.rows)+len(upper.rows))}
	merged.rows = append(merged.rows, lower.rows...)
	merged.rows = append(merged.rows, upper.rows...)

	shards := make([]*shard, 0, len(v.shards)-1)
	shards = append(shards, v.shards[:lowerIdx]...)
	shards = append(shards, merged)
	shards = append(shards, v.shards[lowerIdx+2:]...)

	s.view.Store(&view{fn: nf, scheme: v.scheme.ForMerge(lowerIdx + 1), shards: shards})
	lower.sealed = true
	upper.sealed = true

	s.metrics.ObserveMaintenance("merge")
	s.log.Info("merged partitions",
		"boundary", boundary,
		"lower", lowerIdx,
		"version", nf.Version(),
		"rows", len(merged.rows))
	return nf, nil
}

func staleVersion(current, expected uint64) error {
	return terrors.NewMaintenanceError(terrors.CodeStaleVersion,
		fmt.Sprintf("boundary list is at version %d, command expected %d", current, expected)).
		WithDetails(map[string]interface{}{"current": current, "expected": expected})
}
