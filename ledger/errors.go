/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All engine error types in one place. Callers classify with errors.Is /
  errors.As; the API layer maps classes to HTTP status codes.

ERROR CATEGORIES:
  1. Input validation - rejected before touching any store
  2. Storage failures - the whole operation failed atomically, retryable
  3. Not-found        - referenced transaction/template does not exist

  Extraction anomalies are deliberately NOT errors: a malformed
  transaction extracts to zero transfers and is surfaced via logs only.
  Verifier discrepancies are results, not errors.

SEE ALSO:
  - settle.go: uses ValidateParticipants
  - api/handlers.go: status-code mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrTooFewParticipants is returned when a settlement is requested
	// for fewer than two users.
	ErrTooFewParticipants = errors.New("settlement requires at least two participants")

	// ErrInvalidUserID is returned for empty or duplicate participant ids.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrTransactionNotFound is returned when a referenced transaction
	// does not exist in the log.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTemplateNotFound is returned when a referenced recurring
	// template does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrStoreFailed wraps storage-level failures. The whole operation
	// was rolled back; the caller may retry.
	ErrStoreFailed = errors.New("store operation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ParticipantError reports which participant id failed validation.
type ParticipantError struct {
	UserID UserID
	Reason string
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("participant %q: %s", e.UserID, e.Reason)
}

func (e *ParticipantError) Unwrap() error {
	return ErrInvalidUserID
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is caused by invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrTooFewParticipants) ||
		errors.Is(err, ErrInvalidUserID)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrTemplateNotFound)
}

// ValidateParticipants checks the settlement planner's precondition:
// at least two participants, all ids non-empty and unique. It is exposed
// separately so the precondition is testable independently of planning.
func ValidateParticipants(participants []UserID) error {
	if len(participants) < 2 {
		return ErrTooFewParticipants
	}
	seen := make(map[UserID]bool, len(participants))
	for _, p := range participants {
		if p == "" {
			return &ParticipantError{UserID: p, Reason: "empty id"}
		}
		if seen[p] {
			return &ParticipantError{UserID: p, Reason: "duplicate id"}
		}
		seen[p] = true
	}
	return nil
}
