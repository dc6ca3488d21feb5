// Package errors provides structured error handling for searchd.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and schema errors
//   - 2XX: Relational store errors
//   - 3XX: Search backend / network errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration and schema errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates relational store errors.
	CategoryStore Category = "STORE"
	// CategoryBackend indicates search backend and network errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error; the run must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeSchemaNotFound = "ERR_103_SCHEMA_NOT_FOUND"
	ErrCodeSchemaInvalid  = "ERR_104_SCHEMA_INVALID"

	// Relational store errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreQuery       = "ERR_202_STORE_QUERY_FAILED"
	ErrCodeNoSourceRows     = "ERR_203_NO_SOURCE_ROWS"

	// Search backend errors (300-399)
	ErrCodeBackendTimeout     = "ERR_301_BACKEND_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeClusterRed         = "ERR_303_CLUSTER_RED"
	ErrCodeBulkTransport      = "ERR_304_BULK_TRANSPORT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeQueryTooLong      = "ERR_402_QUERY_TOO_LONG"
	ErrCodeTooManyProductIDs = "ERR_403_TOO_MANY_PRODUCT_IDS"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeSearchFailed     = "ERR_502_SEARCH_FAILED"
	ErrCodeIndexFailed      = "ERR_503_INDEX_FAILED"
	ErrCodeDocCountMismatch = "ERR_504_DOC_COUNT_MISMATCH"
	ErrCodeEmptyIndex       = "ERR_505_EMPTY_INDEX"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract the numeric portion (e.g., "201" from "ERR_201_STORE_UNAVAILABLE")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Errors that abort an indexer run outright
	switch code {
	case ErrCodeSchemaNotFound, ErrCodeSchemaInvalid, ErrCodeNoSourceRows,
		ErrCodeClusterRed, ErrCodeDocCountMismatch, ErrCodeEmptyIndex:
		return SeverityFatal
	}

	// Retryable transport errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendTimeout, ErrCodeBackendUnavailable, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
