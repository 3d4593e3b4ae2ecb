// Package errors provides structured error types for the bulk write path.
// All errors include a category, code, message, and retryable flag so the
// dispatcher can classify failures without inspecting message text.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors by write path stage.
type ErrorCategory string

const (
	ErrCategoryDecode    ErrorCategory = "DECODE"
	ErrCategoryEvaluate  ErrorCategory = "EVALUATE"
	ErrCategoryPartition ErrorCategory = "PARTITION"
	ErrCategoryWrite     ErrorCategory = "WRITE"
	ErrCategoryAdmission ErrorCategory = "ADMISSION"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Decode codes
	CodeMalformedHeader    = "MALFORMED_HEADER"
	CodeFieldCountMismatch = "FIELD_COUNT_MISMATCH"
	CodeMalformedRow       = "MALFORMED_ROW"

	// Evaluate codes
	CodeNullPrimaryKey = "NULL_PRIMARY_KEY"
	CodeInvalidValue   = "INVALID_VALUE"

	// Partition codes
	CodeCreationFailed = "CREATION_FAILED"

	// Write codes
	CodeRejected          = "REJECTED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeVersionConflict   = "VERSION_CONFLICT"
	CodeDocumentMalformed = "DOCUMENT_MALFORMED"
	CodePartitionNotFound = "PARTITION_NOT_FOUND"
	CodeRetriesExhausted  = "RETRIES_EXHAUSTED"

	// Admission codes
	CodeBudgetTimeout = "BUDGET_TIMEOUT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// NullPrimaryKeyMessage is the message carried by every null primary key error.
const NullPrimaryKeyMessage = "A primary key value must not be NULL"

// BulkError is the structured error type used throughout the write path.
type BulkError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool

	// RetryAfter is a server-provided lower bound for the next attempt.
	RetryAfter time.Duration
}

// Error returns a formatted error string.
func (e *BulkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BulkError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BulkError) Is(target error) bool {
	var t *BulkError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BulkError.
func New(category ErrorCategory, code, message string) *BulkError {
	return &BulkError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new BulkError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BulkError {
	return &BulkError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BulkError) WithDetails(details map[string]interface{}) *BulkError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithRetryAfter returns a copy of the error carrying a retry delay hint.
func (e *BulkError) WithRetryAfter(d time.Duration) *BulkError {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var be *BulkError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// RetryAfter extracts the retry delay hint from an error chain, or zero.
func RetryAfter(err error) time.Duration {
	var be *BulkError
	if errors.As(err, &be) {
		return be.RetryAfter
	}
	return 0
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BulkError.
func GetCategory(err error) ErrorCategory {
	var be *BulkError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BulkError.
func GetCode(err error) string {
	var be *BulkError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryWrite && code == CodeRejected:
		return true
	case category == ErrCategoryWrite && code == CodeUnavailable:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is matching. Only category and code are compared.
var (
	ErrMalformedHeader    = New(ErrCategoryDecode, CodeMalformedHeader, "malformed header")
	ErrFieldCountMismatch = New(ErrCategoryDecode, CodeFieldCountMismatch, "field count mismatch")
	ErrNullPrimaryKey     = New(ErrCategoryEvaluate, CodeNullPrimaryKey, NullPrimaryKeyMessage)
	ErrPartitionCreation  = New(ErrCategoryPartition, CodeCreationFailed, "partition creation failed")
	ErrBudgetTimeout      = New(ErrCategoryAdmission, CodeBudgetTimeout, "timed out acquiring in-flight budget")
)

// Convenience constructors for common errors.

func NewMalformedHeaderError(message string) *BulkError {
	return New(ErrCategoryDecode, CodeMalformedHeader, message)
}

func NewFieldCountMismatchError(expected, got int) *BulkError {
	return New(ErrCategoryDecode, CodeFieldCountMismatch,
		fmt.Sprintf("expected at most %d fields, got %d", expected, got)).
		WithDetails(map[string]interface{}{"expected": expected, "got": got})
}

func NewMalformedRowError(message string) *BulkError {
	return New(ErrCategoryDecode, CodeMalformedRow, message)
}

func NewNullPrimaryKeyError(column string) *BulkError {
	err := New(ErrCategoryEvaluate, CodeNullPrimaryKey, NullPrimaryKeyMessage)
	if column != "" {
		err = err.WithDetails(map[string]interface{}{"column": column})
	}
	return err
}

func NewInvalidValueError(message string, cause error) *BulkError {
	return Wrap(ErrCategoryEvaluate, CodeInvalidValue, message, cause)
}

func NewPartitionCreationError(partition string, cause error) *BulkError {
	return Wrap(ErrCategoryPartition, CodeCreationFailed,
		fmt.Sprintf("failed to create partition %s", partition), cause)
}

func NewRetryableWriteError(code, message string, cause error) *BulkError {
	err := Wrap(ErrCategoryWrite, code, message, cause)
	err.Retryable = true
	return err
}

func NewTerminalWriteError(code, message string, cause error) *BulkError {
	err := Wrap(ErrCategoryWrite, code, message, cause)
	err.Retryable = false
	return err
}

func NewBudgetTimeoutError(cause error) *BulkError {
	return Wrap(ErrCategoryAdmission, CodeBudgetTimeout, "timed out acquiring in-flight budget", cause)
}

func NewInternalError(message string, cause error) *BulkError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
