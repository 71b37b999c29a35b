package model

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Error codes for the engine's error taxonomy
const (
	CodeValidation      = "VALIDATION"
	CodeNotFound        = "NOT_FOUND"
	CodeStateConflict   = "STATE_CONFLICT"
	CodeConcurrency     = "CONCURRENCY"
	CodeActionExecution = "ACTION_EXECUTION"
)

// DomainError represents a classified engine error.
// It unwraps to the matching errdefs class so callers may use either helper set.
type DomainError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the errdefs class of the error
func (e *DomainError) Unwrap() error {
	switch e.Code {
	case CodeValidation:
		return errdefs.ErrInvalidArgument
	case CodeNotFound:
		return errdefs.ErrNotFound
	case CodeStateConflict:
		return errdefs.ErrFailedPrecondition
	case CodeConcurrency:
		return errdefs.ErrConflict
	case CodeActionExecution:
		return errdefs.ErrUnavailable
	default:
		return errdefs.ErrUnknown
	}
}

// WithDetails returns a copy of the error carrying details
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	cp := *e
	cp.Details = details
	return &cp
}

func newError(code, format string, args ...interface{}) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError reports a malformed template, step, scenario or request
func NewValidationError(format string, args ...interface{}) *DomainError {
	return newError(CodeValidation, format, args...)
}

// NewNotFoundError reports an unknown id
func NewNotFoundError(kind, id string) *DomainError {
	return newError(CodeNotFound, "%s not found: %s", kind, id).WithDetails(map[string]interface{}{
		"kind": kind,
		"id":   id,
	})
}

// NewStateConflictError reports an illegal transition
func NewStateConflictError(format string, args ...interface{}) *DomainError {
	return newError(CodeStateConflict, format, args...)
}

// NewConcurrencyError reports an optimistic version mismatch
func NewConcurrencyError(expected, actual int) *DomainError {
	return newError(CodeConcurrency, "version mismatch: expected %d, current %d", expected, actual).WithDetails(map[string]interface{}{
		"expected_version": expected,
		"current_version":  actual,
	})
}

// NewActionExecutionError reports a dispatcher failure
func NewActionExecutionError(format string, args ...interface{}) *DomainError {
	return newError(CodeActionExecution, format, args...)
}

func hasCode(err error, code string) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == code
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound) || errdefs.IsNotFound(err)
}

// IsStateConflict checks if the error is an illegal transition
func IsStateConflict(err error) bool {
	return hasCode(err, CodeStateConflict)
}

// IsConcurrency checks if the error is an optimistic version mismatch
func IsConcurrency(err error) bool {
	return hasCode(err, CodeConcurrency)
}

// IsActionExecution checks if the error is a dispatcher failure
func IsActionExecution(err error) bool {
	return hasCode(err, CodeActionExecution)
}
