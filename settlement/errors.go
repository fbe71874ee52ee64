/*
errors.go - Error taxonomy for the settlement engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against
  the sentinels; the structured types carry the details.

ERROR CATEGORIES:
  1. Validation  - bad input (no participants, non-positive weight, ...)
  2. Not found   - unknown group, participant, settlement or payment
  3. Consistency - zero-sum invariant violated beyond tolerance
  4. Storage     - persistence failure; the finalize transaction rolled back
  5. Conflict    - stale computation, payment already consumed

SEE ALSO:
  - api/handlers.go: maps categories onto HTTP status codes
*/
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConsistency = errors.New("zero-sum invariant violated")
	ErrStorage     = errors.New("storage failure")

	// ErrStaleResult is returned by Finalize when the computed result was
	// based on a settlement that is no longer the group's latest, or on a
	// participant set that has since changed. Recompute and retry.
	ErrStaleResult = errors.New("settlement result is stale")

	// ErrPaymentConsumed is returned when editing or deleting a payment
	// that a settlement has already archived.
	ErrPaymentConsumed = errors.New("payment already consumed by a settlement")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "group", "participant", "settlement", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError is a shorthand for &NotFoundError{...}.
func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConsistencyError means adjusted balances do not sum to zero. It signals
// a calculation or data defect and is never absorbed.
type ConsistencyError struct {
	GroupID   GroupID
	Residual  decimal.Decimal
	Tolerance decimal.Decimal
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("group %s: adjusted balances sum to %s (tolerance %s)",
		e.GroupID, e.Residual.String(), e.Tolerance.String())
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// StorageError wraps a failure from the ledger store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// wrapStorage leaves already-classified errors alone and marks anything
// else coming out of the store as a StorageError.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConsistency) || errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrStaleResult) || errors.Is(err, ErrPaymentConsumed) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request clashed with the current state
// and may succeed after the caller refreshes it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStaleResult) || errors.Is(err, ErrPaymentConsumed)
}
