// Package types provides core data types for Project Tessera.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Row represents a single data row in a partitioned table.
// Rows are immutable once inserted; a key change is performed as an
// explicit delete-then-reinsert through the table store.
type Row struct {
	// RowID uniquely identifies the row across all partitions.
	RowID uuid.UUID `json:"row_id"`

	// GroupID is the grouping key used by aggregate queries
	// (e.g. an account or tenant identifier).
	GroupID string `json:"group_id"`

	// Key is the partitioning key: a Unix timestamp in nanoseconds.
	// The partition function routes the row by this field alone.
	Key int64 `json:"key"`

	// Amount is the measure summed by the aggregate cache.
	Amount float64 `json:"amount"`

	// Attrs holds row-specific data not interpreted by the core.
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

// NewRow creates a row with a fresh RowID.
func NewRow(groupID string, key int64, amount float64) Row {
	return Row{
		RowID:   uuid.New(),
		GroupID: groupID,
		Key:     key,
		Amount:  amount,
	}
}

// Day returns the UTC day the row's key falls on.
func (r Row) Day() int64 {
	return DayOf(r.Key)
}

// Time returns the row's key as a time.Time in UTC.
func (r Row) Time() time.Time {
	return time.Unix(0, r.Key).UTC()
}
