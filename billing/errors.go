/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The taxonomy has five roots; everything else unwraps to one of them:

    ErrValidation - negative/invalid amounts, downPayment >= total, bad dates
    ErrNotFound   - unknown assignment/installment/plan/discount
    ErrConflict   - duplicate student+course assignment, cross-assignment
                    installment reference, installment already paid
    ErrState      - operation against a Cancelled/Suspended assignment
    ErrExternal   - notifier failures (always non-fatal)

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, billing.ErrNotFound) {
        // 404
    }

SEE ALSO:
  - ledger.go, discount.go: Main producers of these errors
  - api/handlers.go: Maps the taxonomy to HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// TAXONOMY ROOTS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrState      = errors.New("invalid state")
	ErrExternal   = errors.New("external collaborator error")
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrPlanNotFound is returned when a referenced fee plan doesn't exist.
	ErrPlanNotFound = wrapped{"fee plan not found", ErrNotFound}

	// ErrAssignmentNotFound is returned when a referenced assignment doesn't exist.
	ErrAssignmentNotFound = wrapped{"fee assignment not found", ErrNotFound}

	// ErrInstallmentNotFound is returned when a referenced installment doesn't exist.
	ErrInstallmentNotFound = wrapped{"installment not found", ErrNotFound}

	// ErrDiscountNotFound is returned when a referenced discount doesn't exist.
	ErrDiscountNotFound = wrapped{"discount not found", ErrNotFound}

	// ErrDuplicateAssignment is returned when a (student, course) pair already
	// has an assignment. Assignments are unique per pair.
	ErrDuplicateAssignment = wrapped{"student already has an assignment for this course", ErrConflict}

	// ErrInstallmentMismatch is returned when a payment references an
	// installment that belongs to a different assignment.
	ErrInstallmentMismatch = wrapped{"installment belongs to a different assignment", ErrConflict}

	// ErrInstallmentAlreadyPaid is returned when paying an installment that
	// is already settled.
	ErrInstallmentAlreadyPaid = wrapped{"installment is already paid", ErrConflict}

	// ErrDiscountExhausted is returned when a discount's usage limit is
	// reached. The check is a compare-and-increment, so concurrent use
	// cannot push UsedCount past the limit.
	ErrDiscountExhausted = wrapped{"discount usage limit reached", ErrConflict}

	// ErrDiscountAlreadyUsed is returned on a second usage of the same
	// discount for the same assignment.
	ErrDiscountAlreadyUsed = wrapped{"discount already applied to this assignment", ErrConflict}

	// ErrTaskAlreadyRunning is returned when the daily run for a date is
	// claimed by another invocation.
	ErrTaskAlreadyRunning = wrapped{"daily task already running for this date", ErrConflict}
)

// wrapped is a sentinel with a taxonomy root.
type wrapped struct {
	msg  string
	root error
}

func (w wrapped) Error() string { return w.msg }
func (w wrapped) Unwrap() error { return w.root }

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes invalid input with a field reference.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateError describes an operation against an assignment in the wrong state.
type StateError struct {
	AssignmentID AssignmentID
	Status       AssignmentStatus
	Operation    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: assignment %s is %s", e.Operation, e.AssignmentID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrState }

// NotifyError wraps a notifier failure. Always non-fatal: the daily run
// logs these and keeps going.
type NotifyError struct {
	InstallmentID InstallmentID
	Err           error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify failed for installment %s: %v", e.InstallmentID, e.Err)
}

func (e *NotifyError) Unwrap() error { return ErrExternal }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError returns true if the error is due to invalid client input
// rather than an engine fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrState)
}
