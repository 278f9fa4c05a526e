// Package errors provides structured error types for xapiflat.
// Every error carries a category, a code and, for per-file failures, the
// input path it belongs to.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryInput      ErrorCategory = "INPUT"
	ErrCategoryParse      ErrorCategory = "PARSE"
	ErrCategoryProjection ErrorCategory = "PROJECTION"
	ErrCategoryOutput     ErrorCategory = "OUTPUT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Input codes
	CodeFileNotFound = "FILE_NOT_FOUND"
	CodeReadFailed   = "READ_FAILED"

	// Parse codes
	CodeMalformedJSON     = "MALFORMED_JSON"
	CodeMissingStatements = "MISSING_STATEMENTS"

	// Projection codes
	CodeInvalidStatement = "INVALID_STATEMENT"
	CodeQueryFailed      = "QUERY_FAILED"

	// Output codes
	CodeCreateDirFailed = "CREATE_DIR_FAILED"
	CodeWriteFailed     = "WRITE_FAILED"

	// Storage codes
	CodeUploadFailed      = "UPLOAD_FAILED"
	CodeDownloadFailed    = "DOWNLOAD_FAILED"
	CodeObjectNotFound    = "OBJECT_NOT_FOUND"
	CodeInvalidObjectPath = "INVALID_OBJECT_PATH"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// FlattenError is the structured error type used throughout the tool.
type FlattenError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Path      string
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *FlattenError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Code, e.Path, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FlattenError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *FlattenError) Is(target error) bool {
	var t *FlattenError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new FlattenError.
func New(category ErrorCategory, code, message string) *FlattenError {
	return &FlattenError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new FlattenError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *FlattenError {
	return &FlattenError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithPath returns a copy of the error attributed to the given input file.
func (e *FlattenError) WithPath(path string) *FlattenError {
	cp := *e
	cp.Path = path
	return &cp
}

// AttachPath attributes err to path. A FlattenError keeps its category and
// code; any other error is wrapped as an internal error.
func AttachPath(err error, path string) error {
	if err == nil {
		return nil
	}
	var fe *FlattenError
	if errors.As(err, &fe) {
		if fe.Path != "" {
			return err
		}
		return fe.WithPath(path)
	}
	return NewInternalError("unexpected failure", err).WithPath(path)
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var fe *FlattenError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a FlattenError.
func GetCategory(err error) ErrorCategory {
	var fe *FlattenError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a FlattenError.
func GetCode(err error) string {
	var fe *FlattenError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// GetPath extracts the input path from an error chain.
func GetPath(err error) string {
	var fe *FlattenError
	if errors.As(err, &fe) {
		return fe.Path
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewInputError(code, message string, cause error) *FlattenError {
	return Wrap(ErrCategoryInput, code, message, cause)
}

func NewParseError(code, message string, cause error) *FlattenError {
	return Wrap(ErrCategoryParse, code, message, cause)
}

func NewProjectionError(code, message string, cause error) *FlattenError {
	return Wrap(ErrCategoryProjection, code, message, cause)
}

func NewOutputError(code, message string, cause error) *FlattenError {
	return Wrap(ErrCategoryOutput, code, message, cause)
}

func NewStorageError(code, message string, cause error) *FlattenError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string) *FlattenError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *FlattenError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
