package partition

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"

	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/pkg/types"
)

// PlacementMode selects how partitions map onto storage locations.
type PlacementMode string

const (
	// PlacementSingle places every partition on one location.
	PlacementSingle PlacementMode = "single"

	// PlacementPerPartition assigns locations positionally, one per
	// partition. Splits consume locations from the next-used queue.
	PlacementPerPartition PlacementMode = "per_partition"

	// PlacementHash spreads partitions over a fixed location set by
	// hashing each partition's lower boundary.
	PlacementHash PlacementMode = "hash"
)

// Scheme is a pure mapping from partition index to a storage-location
// identifier. It carries no behavior beyond lookup; validity (every
// partition has a location) is established at creation and re-checked
// when the boundary list grows.
type Scheme struct {
	mode      PlacementMode
	locations []string
	nextUsed  []string
}

// SchemeConfig describes a partition scheme at table-definition time.
type SchemeConfig struct {
	Mode PlacementMode

	// Locations is the storage-location set. Single mode uses exactly
	// one; per-partition mode needs one per partition; hash mode
	// spreads over the full set.
	Locations []string
}

// NewScheme creates a scheme and validates that every partition implied
// by the function has an assigned location.
func NewScheme(cfg SchemeConfig, fn *Function) (*Scheme, error) {
	if len(cfg.Locations) == 0 {
		return nil, terrors.NewPartitionError(terrors.CodeInvalidScheme, "scheme requires at least one location")
	}

	switch cfg.Mode {
	case PlacementSingle:
		if len(cfg.Locations) != 1 {
			return nil, terrors.NewPartitionError(terrors.CodeInvalidScheme,
				fmt.Sprintf("single placement takes exactly one location, got %d", len(cfg.Locations)))
		}
	case PlacementPerPartition:
		if len(cfg.Locations) < fn.PartitionCount() {
			return nil, terrors.NewPartitionError(terrors.CodeInvalidScheme,
				fmt.Sprintf("per-partition placement needs %d locations, got %d",
					fn.PartitionCount(), len(cfg.Locations)))
		}
	case PlacementHash:
	default:
		return nil, terrors.NewPartitionError(terrors.CodeInvalidScheme,
			fmt.Sprintf("unsupported placement mode %q", cfg.Mode))
	}

	locations := make([]string, len(cfg.Locations))
	copy(locations, cfg.Locations)

	s := &Scheme{mode: cfg.Mode, locations: locations}
	if cfg.Mode == PlacementPerPartition && len(locations) > fn.PartitionCount() {
		// Surplus locations form the next-used queue for future splits.
		s.nextUsed = locations[fn.PartitionCount():]
		s.locations = locations[:fn.PartitionCount()]
	}
	return s, nil
}

// Mode returns the placement mode.
func (s *Scheme) Mode() PlacementMode {
	return s.mode
}

// Location returns the storage location for the given partition of fn.
func (s *Scheme) Location(fn *Function, idx int) (string, error) {
	if idx < 0 || idx >= fn.PartitionCount() {
		return "", terrors.NewPartitionError(terrors.CodeInvalidScheme,
			fmt.Sprintf("partition index %d out of bounds (count %d)", idx, fn.PartitionCount()))
	}

	switch s.mode {
	case PlacementSingle:
		return s.locations[0], nil
	case PlacementPerPartition:
		if idx >= len(s.locations) {
			return "", terrors.NewPartitionError(terrors.CodeInvalidScheme,
				fmt.Sprintf("no location assigned to partition %d", idx))
		}
		return s.locations[idx], nil
	case PlacementHash:
		r, err := fn.Range(idx)
		if err != nil {
			return "", err
		}
		return s.locations[hashBucket(r.Min, len(s.locations))], nil
	}
	return "", terrors.NewPartitionError(terrors.CodeInvalidScheme,
		fmt.Sprintf("unsupported placement mode %q", s.mode))
}

// ForSplit returns the scheme to use after a split that inserts a new
// partition at index newIdx. Single and hash placement are unaffected;
// per-partition placement consumes one location from the next-used
// queue (or accepts an explicit override).
func (s *Scheme) ForSplit(newIdx int, override string) (*Scheme, error) {
	if s.mode != PlacementPerPartition {
		return s, nil
	}

	loc := override
	if loc == "" {
		if len(s.nextUsed) == 0 {
			return nil, terrors.NewPartitionError(terrors.CodeInvalidScheme,
				"per-partition placement has no next-used location for the new partition")
		}
		loc = s.nextUsed[0]
	}

	locations := make([]string, 0, len(s.locations)+1)
	locations = append(locations, s.locations[:newIdx]...)
	locations = append(locations, loc)
	locations = append(locations, s.locations[newIdx:]...)

	next := s.nextUsed
	if override == "" {
		next = s.nextUsed[1:]
	}

	return &Scheme{mode: s.mode, locations: locations, nextUsed: next}, nil
}

// ForMerge returns the scheme to use after a merge that removes the
// partition at index removedIdx. The freed location returns to the
// next-used queue under per-partition placement.
func (s *Scheme) ForMerge(removedIdx int) *Scheme {
	if s.mode != PlacementPerPartition || removedIdx >= len(s.locations) {
		return s
	}

	locations := make([]string, 0, len(s.locations)-1)
	locations = append(locations, s.locations[:removedIdx]...)
	locations = append(locations, s.locations[removedIdx+1:]...)

	next := make([]string, 0, len(s.nextUsed)+1)
	next = append(next, s.nextUsed...)
	next = append(next, s.locations[removedIdx])

	return &Scheme{mode: s.mode, locations: locations, nextUsed: next}
}

// Locations returns the distinct storage locations in use.
func (s *Scheme) Locations() []string {
	out := make([]string, len(s.locations))
	copy(out, s.locations)
	return out
}

// hashBucket maps a partition's lower boundary to a location slot using
// murmur3 over the boundary's big-endian encoding. MinKey (the
// open-ended lowest partition) hashes like any other value, so the
// assignment stays stable across splits elsewhere in the key space.
func hashBucket(lowerBound int64, buckets int) int {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(lowerBound))
	return int(murmur3.Sum64(b[:]) % uint64(buckets))
}

// Placement describes one partition's resolved placement, for catalog
// records and the partitions listing API.
type Placement struct {
	Index    int            `json:"index"`
	Range    types.KeyRange `json:"range"`
	Location string         `json:"location"`
}

// ResolvePlacements materializes the full index→location mapping.
func ResolvePlacements(fn *Function, s *Scheme) ([]Placement, error) {
	out := make([]Placement, 0, fn.PartitionCount())
	for i := 0; i < fn.PartitionCount(); i++ {
		r, err := fn.Range(i)
		if err != nil {
			return nil, err
		}
		loc, err := s.Location(fn, i)
		if err != nil {
			return nil, err
		}
		out = append(out, Placement{Index: i, Range: r, Location: loc})
	}
	return out, nil
}
