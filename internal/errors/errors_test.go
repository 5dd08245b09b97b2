package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCategoryTable, CodeRowNotFound, "row abc not found")
	assert.Equal(t, "[TABLE:ROW_NOT_FOUND] row abc not found", err.Error())

	wrapped := Wrap(ErrCategoryCatalog, CodeCatalogIO, "write failed", stderrors.New("disk full"))
	assert.Equal(t, "[CATALOG:CATALOG_IO] write failed: disk full", wrapped.Error())
}

func TestIsMatchesByCategoryAndCode(t *testing.T) {
	err := NewPartitionError(CodeOutOfRange, "key 42 is unmapped")
	assert.True(t, stderrors.Is(err, ErrOutOfRange))
	assert.False(t, stderrors.Is(err, ErrRoutingFailed))

	// Matching survives wrapping with fmt.Errorf.
	deep := fmt.Errorf("routing: %w", err)
	assert.True(t, stderrors.Is(deep, ErrOutOfRange))
}

func TestIsDistinguishesSameCodeAcrossCategories(t *testing.T) {
	a := New(ErrCategoryPartition, "SHARED", "a")
	b := New(ErrCategoryTable, "SHARED", "b")
	assert.False(t, stderrors.Is(a, b))
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := NewStorageError(CodeUploadFailed, "put failed", cause)
	assert.True(t, stderrors.Is(err, cause))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"stale version", New(ErrCategoryMaintenance, CodeStaleVersion, ""), true},
		{"upload failed", NewStorageError(CodeUploadFailed, "", nil), true},
		{"download failed", NewStorageError(CodeDownloadFailed, "", nil), true},
		{"refresh failed", NewAggregateError(CodeRefreshFailed, "", nil), true},
		{"boundary conflict", New(ErrCategoryMaintenance, CodeBoundaryConflict, ""), false},
		{"out of range", NewPartitionError(CodeOutOfRange, ""), false},
		{"plain error", stderrors.New("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := NewTableError(CodeStoreClosed, "store is closed")
	assert.Equal(t, ErrCategoryTable, GetCategory(err))
	assert.Equal(t, CodeStoreClosed, GetCode(err))

	wrapped := fmt.Errorf("insert: %w", err)
	assert.Equal(t, ErrCategoryTable, GetCategory(wrapped))
	assert.Equal(t, CodeStoreClosed, GetCode(wrapped))

	assert.Equal(t, ErrorCategory(""), GetCategory(stderrors.New("plain")))
	assert.Equal(t, "", GetCode(stderrors.New("plain")))
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	orig := NewMaintenanceError(CodeInvalidCommand, "bad command")
	detailed := orig.WithDetails(map[string]interface{}{"boundary": int64(7)})

	require.Nil(t, orig.Details)
	assert.Equal(t, int64(7), detailed.Details["boundary"])
	assert.True(t, stderrors.Is(detailed, orig))
}
