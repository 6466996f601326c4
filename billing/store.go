/*
store.go - Persistence interfaces for the billing engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage (tests).

KEY INTERFACES:
  PlanStore:        Fee plan templates
  AssignmentStore:  Fee assignments + lock flag compare-and-set
  InstallmentStore: Installment schedules + late-fee compare-and-set
  PaymentStore:     Payment history + atomic balance application
  AccessStore:      Per (student, batch) admin overrides
  DiscountStore:    Discounts + atomic usage recording
  TaskStore:        Daily task log claim/update + reminder dedup

ATOMICITY CONTRACT:
  Methods returning (bool, error) are compare-and-set operations: the bool
  reports whether THIS call performed the transition. A duplicate or
  concurrent daily run therefore cannot double-apply a late fee, double-
  count a lock, or send two reminders for the same installment on the same
  day. ApplyCompletedPayment and RecordDiscountUsage must each run as a
  single atomic unit in the implementation.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go, runner.go, discount.go: Main consumers
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// PLAN STORE
// =============================================================================

type PlanStore interface {
	// SavePlan upserts a plan. When plan.IsDefault is true, every other
	// plan's IsDefault is cleared in the same atomic unit.
	SavePlan(ctx context.Context, plan *FeePlan) error

	// GetPlan returns the plan, or nil if missing.
	GetPlan(ctx context.Context, id PlanID) (*FeePlan, error)

	// GetPlanByCode returns the plan with the given unique code, or nil.
	GetPlanByCode(ctx context.Context, code string) (*FeePlan, error)

	// GetDefaultPlan returns the plan flagged IsDefault, or nil.
	GetDefaultPlan(ctx context.Context) (*FeePlan, error)

	// ListPlans returns all plans ordered by name.
	ListPlans(ctx context.Context) ([]FeePlan, error)
}

// =============================================================================
// ASSIGNMENT STORE
// =============================================================================

type AssignmentStore interface {
	// CreateAssignment inserts a new assignment. Returns
	// ErrDuplicateAssignment if (student, course) already has one.
	CreateAssignment(ctx context.Context, a *FeeAssignment) error

	// GetAssignment returns the assignment, or nil if missing.
	GetAssignment(ctx context.Context, id AssignmentID) (*FeeAssignment, error)

	// GetAssignmentByStudentCourse returns the assignment for the pair, or nil.
	GetAssignmentByStudentCourse(ctx context.Context, studentID StudentID, courseID CourseID) (*FeeAssignment, error)

	// UpdateAssignment persists status/unlock-date edits. Balance fields
	// are owned by ApplyCompletedPayment and must not be written here.
	UpdateAssignment(ctx context.Context, a *FeeAssignment) error

	// ListAssignmentsForLockSweep returns Active, not-yet-locked assignments.
	ListAssignmentsForLockSweep(ctx context.Context) ([]FeeAssignment, error)

	// ListLockedAssignments returns assignments with the lock flag set.
	ListLockedAssignments(ctx context.Context) ([]FeeAssignment, error)

	// LockAssignment sets the lock flag if currently clear.
	// Compare-and-set: returns true only if this call locked it.
	LockAssignment(ctx context.Context, id AssignmentID, lockedAt time.Time) (bool, error)

	// UnlockAssignment clears the lock flag if currently set.
	// Compare-and-set: returns true only if this call unlocked it.
	UnlockAssignment(ctx context.Context, id AssignmentID) (bool, error)
}

// =============================================================================
// INSTALLMENT STORE
// =============================================================================

type InstallmentStore interface {
	// ReplaceInstallments atomically deletes the assignment's existing
	// schedule and inserts the new one. No caller ever observes a
	// zero-row schedule mid-generation.
	ReplaceInstallments(ctx context.Context, assignmentID AssignmentID, rows []Installment) error

	// ListInstallments returns the schedule ordered by installment number.
	ListInstallments(ctx context.Context, assignmentID AssignmentID) ([]Installment, error)

	// GetInstallment returns the installment, or nil if missing.
	GetInstallment(ctx context.Context, id InstallmentID) (*Installment, error)

	// MarkOverdueInstallments transitions past-due Pending rows to Overdue.
	// Returns the number of rows transitioned.
	MarkOverdueInstallments(ctx context.Context, today Date) (int, error)

	// ListOverdueWithoutLateFee returns overdue installments that have not
	// yet been charged a late fee.
	ListOverdueWithoutLateFee(ctx context.Context) ([]Installment, error)

	// ListDueInstallments returns unpaid, non-waived installments that are
	// overdue or due within the lookahead window.
	ListDueInstallments(ctx context.Context, today Date, lookaheadDays int) ([]Installment, error)

	// ApplyLateFee adds fee to the installment amount and sets
	// LateFeeApplied. Compare-and-set on LateFeeApplied=false: returns
	// true only if this call applied the fee.
	ApplyLateFee(ctx context.Context, id InstallmentID, fee Money) (bool, error)
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

type PaymentStore interface {
	// InsertPaymentRecord appends a history-only record (Pending, Failed,
	// Refunded). No balance mutation.
	InsertPaymentRecord(ctx context.Context, rec *PaymentRecord) error

	// ApplyCompletedPayment atomically: inserts the record, adds the
	// amount to the assignment's AmountPaid, rederives AmountPending,
	// transitions the assignment to Completed when settled, and - if an
	// installment is linked - marks it Paid with the payment date.
	// The balance update must be serialized per assignment (a single
	// atomic UPDATE or equivalent) so concurrent recordings cannot lose
	// an update.
	ApplyCompletedPayment(ctx context.Context, rec *PaymentRecord) error

	// ListPayments returns the assignment's payment history, newest first.
	ListPayments(ctx context.Context, assignmentID AssignmentID) ([]PaymentRecord, error)
}

// =============================================================================
// ACCESS STORE
// =============================================================================

type AccessStore interface {
	// SaveAccessControl upserts the row for (student, batch).
	SaveAccessControl(ctx context.Context, ac *BatchAccessControl) error

	// GetAccessControl returns the row, or nil if none exists.
	GetAccessControl(ctx context.Context, studentID StudentID, batchID BatchID) (*BatchAccessControl, error)

	// DeleteAccessControl removes the row, if any.
	DeleteAccessControl(ctx context.Context, studentID StudentID, batchID BatchID) error
}

// =============================================================================
// DISCOUNT STORE
// =============================================================================

type DiscountStore interface {
	SaveDiscount(ctx context.Context, d *FeeDiscount) error
	GetDiscount(ctx context.Context, id DiscountID) (*FeeDiscount, error)
	GetDiscountByCode(ctx context.Context, code string) (*FeeDiscount, error)
	ListDiscounts(ctx context.Context) ([]FeeDiscount, error)

	// RecordDiscountUsage increments the discount's UsedCount and inserts
	// the usage row in one atomic unit. The increment is a
	// compare-and-increment against UsageLimit: returns
	// ErrDiscountExhausted when the limit is reached and
	// ErrDiscountAlreadyUsed on a duplicate (discount, assignment) pair.
	RecordDiscountUsage(ctx context.Context, usage *DiscountUsage) error
}

// =============================================================================
// TASK STORE
// =============================================================================

type TaskStore interface {
	// ClaimDailyTask fetches or creates the log row for date and attempts
	// the Pending/absent/Failed -> Running transition in a single atomic
	// step. Returns (log, true) when this call won the claim. When the
	// row is Completed and force is false, returns (log, false) - the
	// idempotency short-circuit. When another invocation holds Running,
	// returns ErrTaskAlreadyRunning.
	ClaimDailyTask(ctx context.Context, date Date, force bool) (*DailyTaskLog, bool, error)

	// SaveDailyTask persists counters and status transitions.
	SaveDailyTask(ctx context.Context, logRow *DailyTaskLog) error

	// GetDailyTask returns the log row for date, or nil.
	GetDailyTask(ctx context.Context, date Date) (*DailyTaskLog, error)

	// ListDailyTasks returns the most recent log rows.
	ListDailyTasks(ctx context.Context, limit int) ([]DailyTaskLog, error)

	// MarkReminderSent records that a reminder went out for the
	// installment on the given day. Compare-and-set on the unique
	// (installment, date) pair: returns true only if this call recorded
	// it, so at most one reminder is sent per installment per day.
	MarkReminderSent(ctx context.Context, id InstallmentID, date Date) (bool, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	PlanStore
	AssignmentStore
	InstallmentStore
	PaymentStore
	AccessStore
	DiscountStore
	TaskStore
}
