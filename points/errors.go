/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores wrap these so callers can always use errors.Is / errors.As.

ERROR CATEGORIES:
  1. NotFound       - entry, rule or balance does not exist (no retry)
  2. Validation     - malformed input, rejected before any write (no retry)
  3. InvalidState   - illegal approval transition (no retry, never coerced)
  4. Conflict       - optimistic version check failed (bounded retry)

SEE ALSO:
  - approval.go: Produces InvalidState and Conflict
  - ledger.go: Produces Validation
  - api/handlers.go: Maps categories to HTTP status codes
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an entry, rule or balance does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned for illegal approval transitions.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrConflict is returned when the stored version moved between read and write.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing resource.
type NotFoundError struct {
	Kind string // "entry", "rule", "balance"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidStateError describes a refused transition.
type InvalidStateError struct {
	EntryID EntryID
	Current ApprovalState
	Action  string // "approve", "reject", "update_amount"
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s entry %s in state %s", e.Action, e.EntryID, e.Current)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ConflictError is surfaced after the retry budget is exhausted.
type ConflictError struct {
	EntryID  EntryID
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("entry %s: concurrent modification after %d attempts", e.EntryID, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// EntryNotFound returns a NotFoundError for an entry.
func EntryNotFound(id EntryID) error { return &NotFoundError{Kind: "entry", ID: string(id)} }

// RuleNotFound returns a NotFoundError for a rule.
func RuleNotFound(id RuleID) error { return &NotFoundError{Kind: "rule", ID: string(id)} }

// BalanceNotFound returns a NotFoundError for a user balance in a group.
func BalanceNotFound(userID UserID, groupID GroupID) error {
	return &NotFoundError{Kind: "balance", ID: string(groupID) + "/" + string(userID)}
}
