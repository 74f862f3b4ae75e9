// Package errors provides the structured error taxonomy used across tiercache.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of cache failure.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Storage
	ErrCodeStorageFull   ErrorCode = "STORAGE_FULL"
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeStorageBusy   ErrorCode = "STORAGE_BUSY"
	ErrCodeStorageRead   ErrorCode = "STORAGE_READ"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeCorruption    ErrorCode = "CORRUPTION"

	// Data
	ErrCodeSerialization ErrorCode = "SERIALIZATION_FAILURE"
	ErrCodeLoaderFailure ErrorCode = "LOADER_FAILURE"

	// State
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"
	ErrCodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"

	// Operation
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryData          ErrorCategory = "data"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError is a structured error carrying a code, context and an optional cause.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	Key       string `json:"key,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(":")
			b.WriteString(e.Operation)
		}
		b.WriteString("] ")
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Key != "" {
		fmt.Fprintf(&b, " (key=%s)", e.Key)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is matches another *CacheError by code.
func (e *CacheError) Is(target error) bool {
	if ce, ok := target.(*CacheError); ok {
		return e.Code == ce.Code
	}
	return false
}

// JSON returns the error encoded as JSON.
func (e *CacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a CacheError with category and retry defaults derived from the code.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory maps a code to its category.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeStorageFull, ErrCodeQuotaExceeded, ErrCodeStorageBusy, ErrCodeStorageRead,
		ErrCodeNotFound, ErrCodeCorruption:
		return CategoryStorage
	case ErrCodeSerialization, ErrCodeLoaderFailure:
		return CategoryData
	case ErrCodeAlreadyStarted, ErrCodeComponentStopped, ErrCodeCircuitOpen:
		return CategoryState
	case ErrCodeValidationFailed, ErrCodeOperationTimeout, ErrCodeOperationCanceled, ErrCodeRetryExhausted:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a code describes a transient condition.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeStorageBusy, ErrCodeOperationTimeout, ErrCodeInternalError:
		return true
	}
	return false
}

// WithDetail adds a detail value.
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithKey records the cache key the failure concerns.
func (e *CacheError) WithKey(key string) *CacheError {
	e.Key = key
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// Wrap builds a CacheError around cause. A nil cause yields nil.
func Wrap(cause error, code ErrorCode, message string) *CacheError {
	if cause == nil {
		return nil
	}
	return NewError(code, message).WithCause(cause)
}

// CodeOf returns the code of the first CacheError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var ce *CacheError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a CacheError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ce *CacheError
	for err != nil {
		if stderrors.As(err, &ce) {
			if ce.Code == code {
				return true
			}
			err = ce.Cause
			continue
		}
		return false
	}
	return false
}

// IsNotFound reports whether err is a substrate miss.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// IsStorageFull reports whether err means a tier refused a write for capacity reasons.
func IsStorageFull(err error) bool {
	return HasCode(err, ErrCodeStorageFull) || HasCode(err, ErrCodeQuotaExceeded)
}

// IsRetryable reports whether err carries a retryable CacheError.
func IsRetryable(err error) bool {
	var ce *CacheError
	if stderrors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
