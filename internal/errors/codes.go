// Package errors provides structured error handling for fstext.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Watcher errors
//   - 2XX: Index storage errors
//   - 3XX: File content errors
//   - 4XX: Validation errors
//   - 5XX: Configuration and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryWatch indicates filesystem watch errors.
	CategoryWatch Category = "WATCH"
	// CategoryIndex indicates index storage and mutation errors.
	CategoryIndex Category = "INDEX"
	// CategoryIO indicates file content errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates configuration and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts startup.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails a single operation; the pipeline continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Watch errors (100-199)
	ErrCodeWatchRoot = "ERR_101_WATCH_ROOT"

	// Index errors (200-299)
	ErrCodeIndexUnavailable = "ERR_201_INDEX_UNAVAILABLE"
	ErrCodeIndexLocked      = "ERR_202_INDEX_LOCKED"
	ErrCodeIndexWrite       = "ERR_203_INDEX_WRITE"
	ErrCodeCorruptIndex     = "ERR_204_CORRUPT_INDEX"

	// File content errors (300-399)
	ErrCodeReadFailure  = "ERR_301_READ_FAILURE"
	ErrCodeNotFound     = "ERR_302_NOT_FOUND"
	ErrCodeFileTooLarge = "ERR_303_FILE_TOO_LARGE"
	ErrCodeNotText      = "ERR_304_NOT_TEXT"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath  = "ERR_402_INVALID_PATH"

	// Config and internal errors (500-599)
	ErrCodeConfigInvalid = "ERR_501_CONFIG_INVALID"
	ErrCodeInternal      = "ERR_502_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryWatch
	case '2':
		return CategoryIndex
	case '3':
		return CategoryIO
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeWatchRoot, ErrCodeIndexUnavailable, ErrCodeIndexLocked, ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeCorruptIndex, ErrCodeIndexWrite:
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	return code == ErrCodeIndexWrite
}
