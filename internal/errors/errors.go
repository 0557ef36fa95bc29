package errors

import (
	"errors"
	"fmt"
)

// Error is the structured error type for fstext.
type Error struct {
	// Code is the unique error code (e.g., "ERR_101_WATCH_ROOT").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so that errors.Is works against code sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Code sentinels for errors.Is checks.
var (
	ErrWatchRoot        = &Error{Code: ErrCodeWatchRoot}
	ErrIndexUnavailable = &Error{Code: ErrCodeIndexUnavailable}
	ErrIndexLocked      = &Error{Code: ErrCodeIndexLocked}
	ErrIndexWrite       = &Error{Code: ErrCodeIndexWrite}
	ErrReadFailure      = &Error{Code: ErrCodeReadFailure}
	ErrNotFound         = &Error{Code: ErrCodeNotFound}
	ErrNotText          = &Error{Code: ErrCodeNotText}
	ErrInvalidInput     = &Error{Code: ErrCodeInvalidInput}
	ErrConfigInvalid    = &Error{Code: ErrCodeConfigInvalid}
)

// WatchError reports that the watch root could not be attached.
func WatchError(root string, cause error) *Error {
	return New(ErrCodeWatchRoot, "cannot watch root directory", cause).
		WithDetail("root", root).
		WithSuggestion("check that the directory exists and is readable")
}

// IndexUnavailableError reports that the index storage cannot be opened or is closed.
func IndexUnavailableError(message string, cause error) *Error {
	return New(ErrCodeIndexUnavailable, message, cause)
}

// IndexWriteError reports a failed mutation or commit.
func IndexWriteError(op, path string, cause error) *Error {
	e := New(ErrCodeIndexWrite, op+" failed", cause)
	if path != "" {
		e.WithDetail("path", path)
	}
	return e
}

// ReadFailure reports a file whose content could not be materialized.
func ReadFailure(path string, cause error) *Error {
	return New(ErrCodeReadFailure, "cannot read file", cause).WithDetail("path", path)
}

// NotFoundError reports a path that does not resolve to a readable file.
func NotFoundError(path string) *Error {
	return New(ErrCodeNotFound, "file not found: "+path, nil).WithDetail("path", path)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if e, ok := As(err); ok {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" for unstructured errors.
func GetCode(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
