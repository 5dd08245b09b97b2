// Package partition implements the partition function and partition
// scheme: routing of keys to partitions over an ordered boundary list,
// and placement of partitions onto storage locations.
package partition

import (
	"fmt"
	"sort"

	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/pkg/types"
)

// BoundaryPolicy controls which partition owns a key that equals a
// boundary value exactly.
type BoundaryPolicy string

const (
	// RangeLeft assigns a key equal to a boundary to the partition that
	// begins at that boundary (the upper partition).
	RangeLeft BoundaryPolicy = "left"

	// RangeRight assigns a key equal to a boundary to the partition
	// that ends at that boundary (the lower partition).
	RangeRight BoundaryPolicy = "right"
)

// Function maps a partitioning key to a partition index by binary
// search over an ordered boundary list. A Function is immutable; split
// and merge produce new Functions with a bumped version (copy-on-write),
// so readers always observe a consistent boundary set.
//
// With n boundaries the function defines n+1 ranges. The topmost range
// is only addressable when the function has a catch-all partition;
// without one, keys in the topmost range are out of range and inserts
// carrying them fail.
type Function struct {
	version    uint64
	boundaries []int64
	policy     BoundaryPolicy
	catchAll   bool
}

// Config describes a partition function at table-definition time.
type Config struct {
	// Boundaries is the ordered boundary list. Must be strictly
	// increasing with no duplicates.
	Boundaries []int64

	// Policy is the boundary-value tie-break (RangeLeft or RangeRight).
	Policy BoundaryPolicy

	// CatchAll controls whether keys beyond the last boundary map to an
	// open-ended topmost partition. When false, such keys are rejected
	// with an OUT_OF_RANGE error until the boundary list is extended.
	CatchAll bool
}

// NewFunction creates a partition function at version 1.
func NewFunction(cfg Config) (*Function, error) {
	if err := validateBoundaries(cfg.Boundaries); err != nil {
		return nil, err
	}
	switch cfg.Policy {
	case RangeLeft, RangeRight:
	default:
		return nil, terrors.NewPartitionError(terrors.CodeInvalidBoundary,
			fmt.Sprintf("unsupported boundary policy %q", cfg.Policy))
	}
	if len(cfg.Boundaries) == 0 && !cfg.CatchAll {
		return nil, terrors.NewPartitionError(terrors.CodeInvalidBoundary,
			"a function without boundaries must have a catch-all partition")
	}

	boundaries := make([]int64, len(cfg.Boundaries))
	copy(boundaries, cfg.Boundaries)

	return &Function{
		version:    1,
		boundaries: boundaries,
		policy:     cfg.Policy,
		catchAll:   cfg.CatchAll,
	}, nil
}

// Version returns the boundary list version. Every split or merge
// produces a new function with version+1.
func (f *Function) Version() uint64 {
	return f.version
}

// Policy returns the configured boundary tie-break policy.
func (f *Function) Policy() BoundaryPolicy {
	return f.policy
}

// HasCatchAll reports whether the topmost open-ended partition exists.
func (f *Function) HasCatchAll() bool {
	return f.catchAll
}

// Boundaries returns a copy of the boundary list.
func (f *Function) Boundaries() []int64 {
	out := make([]int64, len(f.boundaries))
	copy(out, f.boundaries)
	return out
}

// PartitionCount returns the number of addressable partitions.
func (f *Function) PartitionCount() int {
	if f.catchAll {
		return len(f.boundaries) + 1
	}
	return len(f.boundaries)
}

// Locate returns the partition index owning the given key, in O(log n).
// It fails with an OUT_OF_RANGE error when the key falls above every
// boundary and no catch-all partition exists.
func (f *Function) Locate(key int64) (int, error) {
	idx := f.locate(key)
	if idx >= f.PartitionCount() {
		return 0, terrors.NewPartitionError(terrors.CodeOutOfRange,
			fmt.Sprintf("key %d exceeds the last boundary and the function has no catch-all partition", key)).
			WithDetails(map[string]interface{}{"key": key, "version": f.version})
	}
	return idx, nil
}

// locate computes the raw partition index for a key. The result may be
// one past the last addressable partition when no catch-all exists.
func (f *Function) locate(key int64) int {
	n := len(f.boundaries)
	if f.policy == RangeLeft {
		// Index = number of boundaries <= key: a key equal to a
		// boundary starts the upper partition.
		return sort.Search(n, func(i int) bool { return f.boundaries[i] > key })
	}
	// RangeRight: index = number of boundaries < key: a key equal to a
	// boundary closes the lower partition.
	return sort.Search(n, func(i int) bool { return f.boundaries[i] >= key })
}

// Range returns the key range owned by partition idx. The extremes are
// open-ended toward MinKey and MaxKey. Under RangeRight the returned
// half-open range is shifted by one so that boundary ownership matches
// Locate exactly (boundary keys close the lower partition).
func (f *Function) Range(idx int) (types.KeyRange, error) {
	if idx < 0 || idx >= f.PartitionCount() {
		return types.KeyRange{}, terrors.NewPartitionError(terrors.CodeInvalidBoundary,
			fmt.Sprintf("partition index %d out of bounds (count %d)", idx, f.PartitionCount()))
	}

	r := types.FullRange()
	if idx > 0 {
		r.Min = f.boundaries[idx-1]
	}
	if idx < len(f.boundaries) {
		r.Max = f.boundaries[idx]
	}
	if f.policy == RangeRight {
		// Ownership is (lower, upper]; represent as [lower+1, upper+1).
		if idx > 0 {
			r.Min++
		}
		if idx < len(f.boundaries) {
			r.Max++
		}
	}
	return r, nil
}

// PartitionsFor returns the contiguous set of partition indices whose
// key range intersects the predicate. Partitions provably disjoint from
// the range are never included; this is the pruning contract. The
// returned slice is empty when no partition can contain a matching key.
func (f *Function) PartitionsFor(r types.KeyRange) []int {
	if r.IsEmpty() {
		return nil
	}

	count := f.PartitionCount()
	first := f.locate(r.Min)
	if first >= count {
		// The whole predicate lies above the addressable key space.
		return nil
	}
	last := f.locate(r.Max - 1)
	if last >= count {
		last = count - 1
	}

	out := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		out = append(out, i)
	}
	return out
}

// AllPartitions returns every partition index, for full scans.
func (f *Function) AllPartitions() []int {
	out := make([]int, f.PartitionCount())
	for i := range out {
		out[i] = i
	}
	return out
}

// HasBoundary reports whether the exact boundary value exists.
func (f *Function) HasBoundary(boundary int64) bool {
	i := sort.Search(len(f.boundaries), func(i int) bool { return f.boundaries[i] >= boundary })
	return i < len(f.boundaries) && f.boundaries[i] == boundary
}

// Split returns a new function with the boundary inserted and the
// version bumped, plus the index of the partition that was divided.
// The caller redistributes that partition's rows; all other partitions
// are untouched. Fails with BOUNDARY_CONFLICT if the boundary exists.
func (f *Function) Split(boundary int64) (*Function, int, error) {
	if f.HasBoundary(boundary) {
		return nil, 0, terrors.NewMaintenanceError(terrors.CodeBoundaryConflict,
			fmt.Sprintf("boundary %d already exists", boundary)).
			WithDetails(map[string]interface{}{"boundary": boundary, "version": f.version})
	}

	pos := sort.Search(len(f.boundaries), func(i int) bool { return f.boundaries[i] > boundary })

	next := make([]int64, 0, len(f.boundaries)+1)
	next = append(next, f.boundaries[:pos]...)
	next = append(next, boundary)
	next = append(next, f.boundaries[pos:]...)

	nf := &Function{
		version:    f.version + 1,
		boundaries: next,
		policy:     f.policy,
		catchAll:   f.catchAll,
	}

	// The partition being divided is the one that owned the new
	// boundary's key space before the split.
	divided := f.locate(boundary)
	if divided >= f.PartitionCount() {
		// Splitting above the last boundary without a catch-all: the
		// new topmost range exists only in the new function, so no
		// existing partition is divided.
		divided = f.PartitionCount() - 1
		if divided < 0 {
			divided = 0
		}
	}
	return nf, divided, nil
}

// Merge returns a new function with the boundary removed and the
// version bumped, plus the index of the lower of the two partitions
// that are combined. Rows of the two adjacent partitions are
// concatenated by the caller, never rescanned. Fails with
// BOUNDARY_CONFLICT if the boundary does not exist.
func (f *Function) Merge(boundary int64) (*Function, int, error) {
	if !f.HasBoundary(boundary) {
		return nil, 0, terrors.NewMaintenanceError(terrors.CodeBoundaryConflict,
			fmt.Sprintf("boundary %d does not exist", boundary)).
			WithDetails(map[string]interface{}{"boundary": boundary, "version": f.version})
	}

	pos := sort.Search(len(f.boundaries), func(i int) bool { return f.boundaries[i] >= boundary })

	next := make([]int64, 0, len(f.boundaries)-1)
	next = append(next, f.boundaries[:pos]...)
	next = append(next, f.boundaries[pos+1:]...)

	if len(next) == 0 && !f.catchAll {
		return nil, 0, terrors.NewMaintenanceError(terrors.CodeInvalidCommand,
			"merging the last boundary of a function without a catch-all would leave no partitions")
	}

	nf := &Function{
		version:    f.version + 1,
		boundaries: next,
		policy:     f.policy,
		catchAll:   f.catchAll,
	}

	// Partitions pos and pos+1 collapse into index pos of the new
	// function. pos+1 may not be addressable when the removed boundary
	// was the last one and there is no catch-all.
	return nf, pos, nil
}

// BelongsBelow reports whether a key belongs below the given boundary
// under the configured tie-break policy. Used when redistributing a
// divided partition's rows.
func (f *Function) BelongsBelow(key, boundary int64) bool {
	if f.policy == RangeLeft {
		return key < boundary
	}
	return key <= boundary
}

// validateBoundaries enforces the boundary list invariant: strictly
// increasing, no duplicates.
func validateBoundaries(boundaries []int64) error {
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return terrors.NewPartitionError(terrors.CodeInvalidBoundary,
				fmt.Sprintf("boundaries must be strictly increasing: boundary[%d]=%d, boundary[%d]=%d",
					i-1, boundaries[i-1], i, boundaries[i]))
		}
	}
	return nil
}
