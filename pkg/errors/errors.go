// Package errors provides the structured error system used across the cache:
// stable codes, categories, and contextual metadata compatible with the
// standard errors.Is/errors.Unwrap machinery.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a failure class. Codes are stable strings so callers
// can match on them across versions.
type ErrorCode string

const (
	// Key errors
	ErrCodeKeyFormat ErrorCode = "KEY_FORMAT"

	// Persistent tier errors
	ErrCodeRecordCorrupt ErrorCode = "RECORD_CORRUPT"
	ErrCodeStorageWrite  ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageRead   ErrorCode = "STORAGE_READ"

	// Fetch / warming errors
	ErrCodeFetchFailed    ErrorCode = "FETCH_FAILED"
	ErrCodeJobTimeout     ErrorCode = "JOB_TIMEOUT"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeNoRequest      ErrorCode = "NO_REQUEST"

	// Invalidation errors
	ErrCodeUnknownInvalidation ErrorCode = "UNKNOWN_INVALIDATION"
	ErrCodeSweepPartial        ErrorCode = "SWEEP_PARTIAL"

	// Configuration / lifecycle errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeClosed        ErrorCode = "CLOSED"
	ErrCodeServer        ErrorCode = "SERVER"
)

// ErrorCategory groups codes for coarse handling and logging.
type ErrorCategory string

const (
	CategoryKey           ErrorCategory = "key"
	CategoryStorage       ErrorCategory = "storage"
	CategoryWarming       ErrorCategory = "warming"
	CategoryInvalidation  ErrorCategory = "invalidation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError is a structured error with a code, category, and context.
type CacheError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Retryable bool              `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error-chain traversal.
func (e *CacheError) Unwrap() error { return e.Cause }

// Is matches two CacheErrors by code.
func (e *CacheError) Is(target error) bool {
	if ce, ok := target.(*CacheError); ok {
		return e.Code == ce.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *CacheError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// New creates a CacheError with defaults derived from the code.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates a CacheError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a CacheError with an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *CacheError {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithComponent sets the originating component.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation that failed.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithDetail attaches a detail value.
func (e *CacheError) WithDetail(key string, value any) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithContext attaches a context string.
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

func categoryOf(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeKeyFormat:
		return CategoryKey
	case ErrCodeRecordCorrupt, ErrCodeStorageWrite, ErrCodeStorageRead:
		return CategoryStorage
	case ErrCodeFetchFailed, ErrCodeJobTimeout, ErrCodeRetryExhausted, ErrCodeNoRequest:
		return CategoryWarming
	case ErrCodeUnknownInvalidation, ErrCodeSweepPartial:
		return CategoryInvalidation
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeFetchFailed, ErrCodeJobTimeout, ErrCodeStorageWrite, ErrCodeStorageRead:
		return true
	default:
		return false
	}
}
