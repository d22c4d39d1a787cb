package shared

import (
	"fmt"

	"github.com/samber/oops"
)

// Domain error codes
const (
	ErrCodeInvalidInput     = 1001
	ErrCodeNotFound         = 1002
	ErrCodeAlreadyExists    = 1003
	ErrCodeInvalidOperation = 1004

	// Identity store errors (2000-2999)
	ErrCodeTypeMismatch = 2001
	ErrCodeMissingID    = 2002
	ErrCodeWrongKind    = 2003
)

// NewDomainError creates a new domain error using oops
func NewDomainError(code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Errorf("%s", message)
}

// NewDomainErrorf creates a new domain error with formatted message
func NewDomainErrorf(code int, format string, args ...interface{}) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Errorf(format, args...)
}

// WrapDomainError wraps an existing error with domain context
func WrapDomainError(err error, code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Wrapf(err, "%s", message)
}

func codeToString(code int) string {
	switch code {
	case ErrCodeInvalidInput:
		return "INVALID_INPUT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeAlreadyExists:
		return "ALREADY_EXISTS"
	case ErrCodeInvalidOperation:
		return "INVALID_OPERATION"
	case ErrCodeTypeMismatch:
		return "TYPE_MISMATCH"
	case ErrCodeMissingID:
		return "MISSING_ID"
	case ErrCodeWrongKind:
		return "WRONG_KIND"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Common domain error builders
func ErrInvalidInput(msg string) error {
	return NewDomainError(ErrCodeInvalidInput, msg)
}

func ErrNotFound(resource string) error {
	return NewDomainErrorf(ErrCodeNotFound, "%s not found", resource)
}

func ErrAlreadyExists(resource string) error {
	return NewDomainErrorf(ErrCodeAlreadyExists, "%s already exists", resource)
}

func ErrInvalidOperation(operation string) error {
	return NewDomainErrorf(ErrCodeInvalidOperation, "Invalid operation: %s", operation)
}

// ErrMissingID is returned when an update or delete is attempted on an entity that was never persisted
func ErrMissingID(kind string) error {
	return NewDomainErrorf(ErrCodeMissingID, "%s has no id", kind)
}

// Code extracts the string code of an oops error, or "" when err carries none
func Code(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		return fmt.Sprint(oopsErr.Code())
	}
	return ""
}
