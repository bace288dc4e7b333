package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents internal error codes for store operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Malformed input
	ErrCodeInvalidArgument  ErrorCode = 1000
	ErrCodeMalformedRequest ErrorCode = 1001
	ErrCodeUnknownCommand   ErrorCode = 1002
	ErrCodeInvalidKey       ErrorCode = 1003
	ErrCodeInvalidKeyPath   ErrorCode = 1004
	ErrCodePayloadTooLarge  ErrorCode = 1005

	// Formula errors
	ErrCodeInvalidFormula     ErrorCode = 1100
	ErrCodeInvalidBinding     ErrorCode = 1101
	ErrCodeNonNumericVariable ErrorCode = 1102
	ErrCodeEvaluation         ErrorCode = 1103

	// Server and cluster errors
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeUnavailable       ErrorCode = 2001
	ErrCodeReplicaDown       ErrorCode = 2002
	ErrCodeWriteRejected     ErrorCode = 2003
	ErrCodeResourceExhausted ErrorCode = 2004
)

// String returns a short name for the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeMalformedRequest:
		return "malformed_request"
	case ErrCodeUnknownCommand:
		return "unknown_command"
	case ErrCodeInvalidKey:
		return "invalid_key"
	case ErrCodeInvalidKeyPath:
		return "invalid_keypath"
	case ErrCodePayloadTooLarge:
		return "payload_too_large"
	case ErrCodeInvalidFormula:
		return "invalid_formula"
	case ErrCodeInvalidBinding:
		return "invalid_binding"
	case ErrCodeNonNumericVariable:
		return "non_numeric_variable"
	case ErrCodeEvaluation:
		return "evaluation_error"
	case ErrCodeUnavailable:
		return "unavailable"
	case ErrCodeReplicaDown:
		return "replica_down"
	case ErrCodeWriteRejected:
		return "write_rejected"
	case ErrCodeResourceExhausted:
		return "resource_exhausted"
	default:
		return "internal"
	}
}

// StoreError represents a structured error with code and context
type StoreError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError
func NewStoreError(code ErrorCode, message string, cause error) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInvalidArgument, message, cause)
}

func MalformedRequest(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeMalformedRequest, message, cause)
}

func UnknownCommand(command string) *StoreError {
	return NewStoreError(ErrCodeUnknownCommand, fmt.Sprintf("unknown command '%s'", command), nil).
		WithDetail("command", command)
}

func InvalidKey(key, reason string) *StoreError {
	return NewStoreError(ErrCodeInvalidKey, fmt.Sprintf("invalid key '%s': %s", key, reason), nil).
		WithDetail("key", key).
		WithDetail("reason", reason)
}

func InvalidKeyPath(path string, cause error) *StoreError {
	return NewStoreError(ErrCodeInvalidKeyPath, fmt.Sprintf("invalid keypath '%s'", path), cause).
		WithDetail("keypath", path)
}

func PayloadTooLarge(size, maxSize int) *StoreError {
	return NewStoreError(ErrCodePayloadTooLarge, fmt.Sprintf("payload size %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func InvalidFormula(reason string) *StoreError {
	return NewStoreError(ErrCodeInvalidFormula, fmt.Sprintf("invalid formula: %s", reason), nil).
		WithDetail("reason", reason)
}

func InvalidBinding(binding, reason string) *StoreError {
	return NewStoreError(ErrCodeInvalidBinding, fmt.Sprintf("invalid binding '%s': %s", binding, reason), nil).
		WithDetail("binding", binding).
		WithDetail("reason", reason)
}

func NonNumericVariable(name, keypath, found string) *StoreError {
	return NewStoreError(ErrCodeNonNumericVariable, fmt.Sprintf("variable '%s' (%s) is not a number: %s", name, keypath, found), nil).
		WithDetail("variable", name).
		WithDetail("keypath", keypath).
		WithDetail("found", found)
}

func Evaluation(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeEvaluation, message, cause)
}

func InternalError(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeUnavailable, message, cause)
}

func ReplicaDown(down, total int) *StoreError {
	return NewStoreError(ErrCodeReplicaDown, fmt.Sprintf("%d of %d replicas are unreachable", down, total), nil).
		WithDetail("down", down).
		WithDetail("total", total)
}

func WriteRejected(replica, reply string) *StoreError {
	return NewStoreError(ErrCodeWriteRejected, fmt.Sprintf("replica %s rejected write: %s", replica, reply), nil).
		WithDetail("replica", replica).
		WithDetail("reply", reply)
}

func ResourceExhausted(resource string, current, limit int) *StoreError {
	return NewStoreError(ErrCodeResourceExhausted, fmt.Sprintf("%s exhausted: %d/%d", resource, current, limit), nil).
		WithDetail("resource", resource).
		WithDetail("current", current).
		WithDetail("limit", limit)
}

// IsStoreError checks if an error is or wraps a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StoreError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}
