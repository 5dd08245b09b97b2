// Package errors provides structured error types for the Tessera core.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components. The core never retries
// on its own; retry policy belongs to the caller.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryPartition   ErrorCategory = "PARTITION"
	ErrCategoryTable       ErrorCategory = "TABLE"
	ErrCategoryMaintenance ErrorCategory = "MAINTENANCE"
	ErrCategoryAggregate   ErrorCategory = "AGGREGATE"
	ErrCategoryCatalog     ErrorCategory = "CATALOG"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Partition codes
	CodeOutOfRange      = "OUT_OF_RANGE"
	CodeInvalidBoundary = "INVALID_BOUNDARY"
	CodeInvalidScheme   = "INVALID_SCHEME"

	// Table codes
	CodeRoutingFailed = "ROUTING_FAILED"
	CodeRowNotFound   = "ROW_NOT_FOUND"
	CodeStoreClosed   = "STORE_CLOSED"

	// Maintenance codes
	CodeBoundaryConflict = "BOUNDARY_CONFLICT"
	CodeStaleVersion     = "STALE_VERSION"
	CodeInvalidCommand   = "INVALID_COMMAND"

	// Aggregate codes
	CodeRefreshFailed = "REFRESH_FAILED"

	// Catalog codes
	CodeCatalogIO      = "CATALOG_IO"
	CodeVersionMissing = "VERSION_MISSING"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// TesseraError is the structured error type used throughout the system.
type TesseraError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TesseraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TesseraError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TesseraError) Is(target error) bool {
	var t *TesseraError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TesseraError.
func New(category ErrorCategory, code, message string) *TesseraError {
	return &TesseraError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new TesseraError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TesseraError {
	return &TesseraError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *TesseraError) WithDetails(details map[string]interface{}) *TesseraError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TesseraError.
func GetCategory(err error) ErrorCategory {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TesseraError.
func GetCode(err error) string {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable.
// A stale maintenance version is retryable by re-fetching the current
// version and resubmitting; boundary conflicts and routing failures are
// not, since resubmitting the identical request cannot succeed.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryMaintenance && code == CodeStaleVersion:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryAggregate && code == CodeRefreshFailed:
		return true
	default:
		return false
	}
}

// Sentinel matchers for the core error taxonomy. Callers compare with
// errors.Is; category and code are what is matched, not the message.
var (
	// ErrOutOfRange matches a key unmapped by any partition.
	ErrOutOfRange = New(ErrCategoryPartition, CodeOutOfRange, "key out of range")

	// ErrRoutingFailed matches an insert that cannot be placed.
	ErrRoutingFailed = New(ErrCategoryTable, CodeRoutingFailed, "row cannot be routed")

	// ErrBoundaryConflict matches a maintenance operation on an
	// already-existing (split) or missing (merge) boundary.
	ErrBoundaryConflict = New(ErrCategoryMaintenance, CodeBoundaryConflict, "boundary conflict")

	// ErrStaleVersion matches a maintenance operation submitted against
	// an outdated boundary list version.
	ErrStaleVersion = New(ErrCategoryMaintenance, CodeStaleVersion, "stale boundary version")
)

// Convenience constructors for common errors.

func NewPartitionError(code, message string) *TesseraError {
	return New(ErrCategoryPartition, code, message)
}

func NewTableError(code, message string) *TesseraError {
	return New(ErrCategoryTable, code, message)
}

func NewMaintenanceError(code, message string) *TesseraError {
	return New(ErrCategoryMaintenance, code, message)
}

func NewAggregateError(code, message string, cause error) *TesseraError {
	return Wrap(ErrCategoryAggregate, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *TesseraError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewStorageError(code, message string, cause error) *TesseraError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *TesseraError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
