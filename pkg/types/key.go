package types

import (
	"fmt"
	"math"
	"time"
)

// nanosPerDay is the number of nanoseconds in one UTC day.
const nanosPerDay = int64(24 * time.Hour)

// MinKey and MaxKey bound the partitioning key domain.
const (
	MinKey = math.MinInt64
	MaxKey = math.MaxInt64
)

// DayOf returns the number of whole UTC days since the Unix epoch for
// the given key. Keys before the epoch floor toward negative infinity so
// that every key maps to exactly one day.
func DayOf(key int64) int64 {
	d := key / nanosPerDay
	if key < 0 && key%nanosPerDay != 0 {
		d--
	}
	return d
}

// DayStart returns the key at the start of the given UTC day.
func DayStart(day int64) int64 {
	return day * nanosPerDay
}

// KeyForTime converts a time.Time to a partitioning key.
func KeyForTime(t time.Time) int64 {
	return t.UnixNano()
}

// KeyForDate parses a YYYY-MM-DD date string into the key at midnight
// UTC of that date.
func KeyForDate(date string) (int64, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("types: invalid date %q: %w", date, err)
	}
	return t.UnixNano(), nil
}

// MustKeyForDate is KeyForDate for compile-time-constant dates in tests
// and fixtures; it panics on malformed input.
func MustKeyForDate(date string) int64 {
	k, err := KeyForDate(date)
	if err != nil {
		panic(err)
	}
	return k
}

// KeyRange is a half-open key interval [Min, Max). An empty range
// (Max <= Min) matches no keys.
type KeyRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// FullRange covers the entire key domain.
func FullRange() KeyRange {
	return KeyRange{Min: MinKey, Max: MaxKey}
}

// DayRange covers all keys on the given UTC day.
func DayRange(day int64) KeyRange {
	return KeyRange{Min: DayStart(day), Max: DayStart(day + 1)}
}

// DaySpan covers all keys from the start of fromDay through the end of
// toDay, both inclusive.
func DaySpan(fromDay, toDay int64) KeyRange {
	return KeyRange{Min: DayStart(fromDay), Max: DayStart(toDay + 1)}
}

// IsEmpty reports whether the range matches no keys.
func (r KeyRange) IsEmpty() bool {
	return r.Max <= r.Min
}

// Contains reports whether key falls inside the range.
func (r KeyRange) Contains(key int64) bool {
	return key >= r.Min && key < r.Max
}

// Overlaps reports whether two ranges share at least one key.
func (r KeyRange) Overlaps(other KeyRange) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	return r.Min < other.Max && other.Min < r.Max
}

// Intersect returns the overlap of two ranges. The result is empty when
// the ranges are disjoint.
func (r KeyRange) Intersect(other KeyRange) KeyRange {
	out := KeyRange{Min: r.Min, Max: r.Max}
	if other.Min > out.Min {
		out.Min = other.Min
	}
	if other.Max < out.Max {
		out.Max = other.Max
	}
	return out
}

func (r KeyRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Min, r.Max)
}
