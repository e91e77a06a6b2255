/*
errors.go - Error taxonomy for the ticket lifecycle engine

PURPOSE:
  Every failure a caller can observe falls into one of six kinds. Each
  kind has a sentinel for errors.Is and a stable code so the API layer
  can decide whether to retry, prompt re-login, or report a permanent
  failure.

ERROR KINDS:
  session_expired         No caller context. Mutating operations refuse.
  stage_violation         Transition not legal for the current ledger.
  not_found               Ticket or catalog entity missing.
  invalid_argument        Malformed input (bad date, unknown direction).
  corrupt_quality_record  Persisted id/value sequences do not line up.
  persistence             Storage failed. Retryable by the caller.

PROPAGATION:
  not_found inside a listing scan is logged and the item skipped.
  Everything else is returned unchanged. Nothing is retried here.

SEE ALSO:
  - projector.go: per-item not_found swallowing
  - api/handlers.go: HTTP status per kind
*/
package checkpoint

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrSessionExpired       = errors.New("session expired")
	ErrStageViolation       = errors.New("stage violation")
	ErrNotFound             = errors.New("not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrCorruptQualityRecord = errors.New("corrupt quality record")
	ErrPersistence          = errors.New("persistence error")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// StageViolationError explains why a transition was refused.
type StageViolationError struct {
	TicketNo  TicketNo
	Requested StageCode
	Current   StageCode
	Reason    string
}

func (e *StageViolationError) Error() string {
	if e.Requested == StageNotStarted {
		return fmt.Sprintf("ticket %d: %s", e.TicketNo, e.Reason)
	}
	return fmt.Sprintf("ticket %d: cannot record %s at stage %s: %s",
		e.TicketNo, e.Requested, e.Current, e.Reason)
}

func (e *StageViolationError) Unwrap() error { return ErrStageViolation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "ticket", "supplier", "vehicle", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError for any printable id.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// PersistenceError wraps a storage failure. It matches both
// ErrPersistence and the underlying driver error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptQualityRecord, fmt.Sprintf(format, args...))
}

// persistence wraps err unless it already belongs to the taxonomy.
// Stores return taxonomy errors for conditions they detect themselves
// (missing rows, unique violations); everything else is a storage failure.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "" {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Kind returns the stable code for err, or "" for errors outside the
// taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrStageViolation):
		return "stage_violation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrCorruptQualityRecord):
		return "corrupt_quality_record"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	}
	return ""
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrStageViolation) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrSessionExpired)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
