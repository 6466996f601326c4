/*
gate.go - Lock-precedence decision function

PURPOSE:
  One pure function decides whether a student may access a batch's
  content right now. The rules form a strict precedence chain; the first
  matching rule wins and exactly one reason is ever reported:

    1. Enrollment inactive          -> Locked(Inactive). Nothing bypasses this.
    2. Batch not Active             -> Unlocked. Lock semantics only apply to
                                       active batches; a non-active batch is
                                       "unavailable" via a separate signal,
                                       never through this gate.
    3. Admin row AccessType=Locked  -> Locked(Admin), unless the temporary
                                       override is active today.
    4. Fee-derived                  -> unlockDate escape hatch first, then
                                       oldest overdue installment vs grace.

  Decide is pure: it sees a snapshot of inputs and returns a tagged
  decision. Gate is the thin loader that assembles the snapshot from the
  store and the catalog.

SEE ALSO:
  - runner.go: Reuses FeeLockDue (rule 4's overdue predicate) for the
    daily lock sweep
  - catalog.go: The read-only enrollment/batch refs consumed here
*/
package billing

import "context"

// =============================================================================
// DECISION - Tagged result
// =============================================================================

type LockReason string

const (
	LockReasonInactive LockReason = "inactive"
	LockReasonAdmin    LockReason = "admin"
	LockReasonPayment  LockReason = "payment"
)

// Decision is the gate's verdict: either Unlocked, or Locked with exactly
// one reason.
type Decision struct {
	Locked bool
	Reason LockReason
}

func Unlocked() Decision                    { return Decision{} }
func LockedBecause(r LockReason) Decision   { return Decision{Locked: true, Reason: r} }

// =============================================================================
// PURE DECISION FUNCTION
// =============================================================================

// DecisionInput is the snapshot Decide evaluates. Assignment and
// Installments may be nil/empty when the student has no fee assignment
// for the batch's course.
type DecisionInput struct {
	Today Date

	Enrollment *EnrollmentRef
	Batch      *BatchRef
	Override   *BatchAccessControl

	Assignment      *FeeAssignment
	Installments    []Installment
	GracePeriodDays int
}

// Decide evaluates the precedence chain. See the package comment for the
// rule order.
func Decide(in DecisionInput) Decision {
	// Rule 1: enrollment must exist and be active. No override bypasses this.
	if in.Enrollment == nil || !in.Enrollment.Active {
		return LockedBecause(LockReasonInactive)
	}

	// Rule 2: the gate only locks active batches.
	if in.Batch == nil || in.Batch.Status != BatchActive {
		return Unlocked()
	}

	// Rule 3: admin lock, with temporary override escape.
	if ov := in.Override; ov != nil && ov.InEffect(in.Today) {
		switch ov.AccessType {
		case AccessLocked:
			if ov.OverrideActive(in.Today) {
				return Unlocked()
			}
			return LockedBecause(LockReasonAdmin)
		case AccessUnlocked:
			// Explicit admin unlock short-circuits the fee check.
			return Unlocked()
		}
		// Restricted rows fall through to the fee-derived rule.
	}

	// Rule 4: derive from the fee assignment.
	return feeDecision(in.Today, in.Assignment, in.Installments, in.GracePeriodDays)
}

// feeDecision is rule 4 in isolation: unlockDate escape hatch, then the
// oldest overdue installment against the grace period.
func feeDecision(today Date, a *FeeAssignment, installments []Installment, graceDays int) Decision {
	if a == nil {
		return Unlocked()
	}
	if a.UnlockDate != nil && today.BeforeOrEqual(*a.UnlockDate) {
		return Unlocked()
	}
	if oldest := OldestOverdue(installments, today); oldest != nil {
		if oldest.DaysOverdue(today) > graceDays {
			return LockedBecause(LockReasonPayment)
		}
	}
	return Unlocked()
}

// OldestOverdue returns the overdue installment with the earliest due
// date, or nil when none is overdue.
func OldestOverdue(installments []Installment, today Date) *Installment {
	var oldest *Installment
	for i := range installments {
		inst := &installments[i]
		if !inst.IsOverdue(today) {
			continue
		}
		if oldest == nil || inst.DueDate.Before(oldest.DueDate) {
			oldest = inst
		}
	}
	return oldest
}

// FeeLockDue reports whether rule 4 alone would lock the assignment
// today. The daily lock sweep uses this predicate.
func FeeLockDue(today Date, a *FeeAssignment, installments []Installment, graceDays int) bool {
	return feeDecision(today, a, installments, graceDays).Locked
}

// =============================================================================
// GATE - Loader around the pure function
// =============================================================================

// Gate assembles DecisionInput from persistence and the catalog.
type Gate struct {
	Store   Store
	Catalog CatalogReader
}

// Decide answers: may this student access this batch right now?
func (g *Gate) Decide(ctx context.Context, studentID StudentID, batchID BatchID) (Decision, error) {
	in := DecisionInput{Today: Today()}

	enr, err := g.Catalog.Enrollment(ctx, studentID, batchID)
	if err != nil {
		return Decision{}, err
	}
	in.Enrollment = enr
	if enr == nil || !enr.Active {
		return Decide(in), nil
	}

	batch, err := g.Catalog.Batch(ctx, batchID)
	if err != nil {
		return Decision{}, err
	}
	in.Batch = batch
	if batch == nil || batch.Status != BatchActive {
		return Decide(in), nil
	}

	in.Override, err = g.Store.GetAccessControl(ctx, studentID, batchID)
	if err != nil {
		return Decision{}, err
	}

	a, err := g.Store.GetAssignmentByStudentCourse(ctx, studentID, batch.CourseID)
	if err != nil {
		return Decision{}, err
	}
	in.Assignment = a
	if a != nil {
		in.Installments, err = g.Store.ListInstallments(ctx, a.ID)
		if err != nil {
			return Decision{}, err
		}
		plan, err := g.Store.GetPlan(ctx, a.PlanID)
		if err != nil {
			return Decision{}, err
		}
		if plan != nil {
			in.GracePeriodDays = plan.GracePeriodDays
		}
	}

	return Decide(in), nil
}
