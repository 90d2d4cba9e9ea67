// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Evaluation errors
	ErrComputation = errors.New("computation error")

	// Storage errors
	ErrPersistence = errors.New("persistence error")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrDuplicateSubmission    = errors.New("duplicate submission")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "points", "leaderboard", "activity"
	Op      string // Operation that failed, e.g., "Award", "Upsert"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ValidationError builds a validation failure for the given domain and operation.
func ValidationError(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// ComputationError wraps an unexpected evaluation failure.
func ComputationError(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrComputation, "evaluation failed", err)
}

// PersistenceError wraps a store failure.
func PersistenceError(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrPersistence, "store operation failed", err)
}

// Player domain errors
var (
	ErrPlayerNotFound  = NewDomainError("player", "Find", ErrNotFound, "player not found")
	ErrInvalidPlayerID = NewDomainError("player", "Validate", ErrInvalidID, "player id must not be empty")
	ErrStaleAccount    = NewDomainError("player", "Commit", ErrConcurrentModification, "account version changed")
)

// Activity domain errors
var (
	ErrUnknownActivityType = NewDomainError("activity", "Validate", ErrValidation, "unknown activity type")
	ErrSubmissionProcessed = NewDomainError("activity", "Award", ErrDuplicateSubmission, "submission already processed")
)

// Leaderboard domain errors
var (
	ErrInvalidScope     = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid leaderboard scope")
	ErrSnapshotNotFound = NewDomainError("leaderboard", "FindSnapshot", ErrNotFound, "snapshot not found")
)

// Settings errors
var (
	ErrSettingsNotFound = NewDomainError("settings", "Load", ErrNotFound, "settings not stored")
	ErrInvalidSettings  = NewDomainError("settings", "Validate", ErrValidation, "invalid engine settings")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsComputation checks if the error came from an aborted evaluation.
func IsComputation(err error) bool {
	return errors.Is(err, ErrComputation)
}

// IsPersistence checks if the error came from a store.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsDuplicate checks if the submission was already processed.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateSubmission)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrConcurrentModification)
}
