/*
gate_test.go - Lock-precedence decision tests

The precedence chain under test:
  1. inactive enrollment locks, nothing bypasses it
  2. non-active batches never lock through the gate
  3. admin Locked rows lock unless the temporary override is active
  4. fee-derived: unlockDate escape hatch, then oldest overdue vs grace
*/
package billing_test

import (
	"context"
	"testing"

	"github.com/warp/fee-engine/billing"
)

var gateToday = billing.NewDate(2026, 3, 15)

func activeEnrollment() *billing.EnrollmentRef {
	return &billing.EnrollmentRef{StudentID: "student-1", BatchID: "batch-1", CourseID: "course-1", Active: true}
}

func activeBatch() *billing.BatchRef {
	return &billing.BatchRef{ID: "batch-1", CourseID: "course-1", Status: billing.BatchActive}
}

// overdueInstallment is an unpaid EMI whose due date is `daysAgo` before
// gateToday.
func overdueInstallment(daysAgo int) billing.Installment {
	return billing.Installment{
		ID:           "inst-1",
		AssignmentID: "assign-1",
		Number:       1,
		Type:         billing.InstallmentEMI,
		Amount:       money("1666.67"),
		AmountPaid:   billing.ZeroMoney(),
		DueDate:      gateToday.AddDays(-daysAgo),
		Status:       billing.InstallmentPending,
	}
}

func TestDecide_Precedence(t *testing.T) {
	overdue := []billing.Installment{overdueInstallment(10)}
	assignment := &billing.FeeAssignment{ID: "assign-1", Status: billing.AssignmentActive}

	cases := []struct {
		name       string
		in         billing.DecisionInput
		wantLocked bool
		wantReason billing.LockReason
	}{
		{
			name:       "no enrollment locks as inactive",
			in:         billing.DecisionInput{Today: gateToday},
			wantLocked: true,
			wantReason: billing.LockReasonInactive,
		},
		{
			name: "inactive enrollment locks even with admin unlock row",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: &billing.EnrollmentRef{StudentID: "student-1", BatchID: "batch-1", Active: false},
				Batch:      activeBatch(),
				Override:   &billing.BatchAccessControl{AccessType: billing.AccessUnlocked},
			},
			wantLocked: true,
			wantReason: billing.LockReasonInactive,
		},
		{
			name: "non-active batch never locks through the gate",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      &billing.BatchRef{ID: "batch-1", CourseID: "course-1", Status: billing.BatchUpcoming},
				Override:   &billing.BatchAccessControl{AccessType: billing.AccessLocked},
			},
			wantLocked: false,
		},
		{
			name: "admin lock wins over clean fee state",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      activeBatch(),
				Override:   &billing.BatchAccessControl{AccessType: billing.AccessLocked},
			},
			wantLocked: true,
			wantReason: billing.LockReasonAdmin,
		},
		{
			name: "active override escapes an admin lock",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      activeBatch(),
				Override: &billing.BatchAccessControl{
					AccessType:     billing.AccessLocked,
					OverrideAccess: true,
					OverrideUntil:  datePtr(gateToday), // valid through today
				},
			},
			wantLocked: false,
		},
		{
			name: "expired override re-locks",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      activeBatch(),
				Override: &billing.BatchAccessControl{
					AccessType:     billing.AccessLocked,
					OverrideAccess: true,
					OverrideUntil:  datePtr(gateToday.AddDays(-1)),
				},
			},
			wantLocked: true,
			wantReason: billing.LockReasonAdmin,
		},
		{
			name: "admin unlock short-circuits the fee rule",
			in: billing.DecisionInput{
				Today:           gateToday,
				Enrollment:      activeEnrollment(),
				Batch:           activeBatch(),
				Override:        &billing.BatchAccessControl{AccessType: billing.AccessUnlocked},
				Assignment:      assignment,
				Installments:    overdue,
				GracePeriodDays: 3,
			},
			wantLocked: false,
		},
		{
			name: "restricted row falls through to the fee rule",
			in: billing.DecisionInput{
				Today:           gateToday,
				Enrollment:      activeEnrollment(),
				Batch:           activeBatch(),
				Override:        &billing.BatchAccessControl{AccessType: billing.AccessRestricted},
				Assignment:      assignment,
				Installments:    overdue,
				GracePeriodDays: 3,
			},
			wantLocked: true,
			wantReason: billing.LockReasonPayment,
		},
		{
			name: "admin row outside its effective window is ignored",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      activeBatch(),
				Override: &billing.BatchAccessControl{
					AccessType:    billing.AccessLocked,
					EffectiveFrom: datePtr(gateToday.AddDays(1)),
				},
			},
			wantLocked: false,
		},
		{
			name: "no fee assignment means unlocked",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      activeBatch(),
			},
			wantLocked: false,
		},
		{
			name: "overdue beyond grace locks for payment",
			in: billing.DecisionInput{
				Today:           gateToday,
				Enrollment:      activeEnrollment(),
				Batch:           activeBatch(),
				Assignment:      assignment,
				Installments:    overdue,
				GracePeriodDays: 3,
			},
			wantLocked: true,
			wantReason: billing.LockReasonPayment,
		},
		{
			name: "overdue within grace stays unlocked",
			in: billing.DecisionInput{
				Today:           gateToday,
				Enrollment:      activeEnrollment(),
				Batch:           activeBatch(),
				Assignment:      assignment,
				Installments:    []billing.Installment{overdueInstallment(3)},
				GracePeriodDays: 3,
			},
			wantLocked: false,
		},
		{
			name: "unlockDate escape hatch beats overdue fees",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      activeBatch(),
				Assignment: &billing.FeeAssignment{
					ID:         "assign-1",
					Status:     billing.AssignmentActive,
					UnlockDate: datePtr(gateToday),
				},
				Installments:    overdue,
				GracePeriodDays: 3,
			},
			wantLocked: false,
		},
		{
			name: "passed unlockDate no longer escapes",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      activeBatch(),
				Assignment: &billing.FeeAssignment{
					ID:         "assign-1",
					Status:     billing.AssignmentActive,
					UnlockDate: datePtr(gateToday.AddDays(-1)),
				},
				Installments:    overdue,
				GracePeriodDays: 3,
			},
			wantLocked: true,
			wantReason: billing.LockReasonPayment,
		},
		{
			name: "paid installment past its due date is not overdue",
			in: billing.DecisionInput{
				Today:      gateToday,
				Enrollment: activeEnrollment(),
				Batch:      activeBatch(),
				Assignment: assignment,
				Installments: []billing.Installment{{
					ID:         "inst-1",
					Amount:     money("1666.67"),
					AmountPaid: money("1666.67"),
					DueDate:    gateToday.AddDays(-30),
					Status:     billing.InstallmentPaid,
				}},
				GracePeriodDays: 3,
			},
			wantLocked: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := billing.Decide(tc.in)
			if got.Locked != tc.wantLocked {
				t.Fatalf("locked = %v, want %v", got.Locked, tc.wantLocked)
			}
			if got.Locked && got.Reason != tc.wantReason {
				t.Errorf("reason = %s, want %s", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestOldestOverdue_PicksEarliestDueDate(t *testing.T) {
	rows := []billing.Installment{
		overdueInstallment(5),
		overdueInstallment(20),
		overdueInstallment(10),
	}
	oldest := billing.OldestOverdue(rows, gateToday)
	if oldest == nil {
		t.Fatal("expected an overdue installment")
	}
	if !oldest.DueDate.Equal(gateToday.AddDays(-20)) {
		t.Errorf("expected the 20-day-old row, got due %s", oldest.DueDate)
	}
}

func TestOldestOverdue_NoneOverdue(t *testing.T) {
	rows := []billing.Installment{{
		Amount:  money("100"),
		DueDate: gateToday.AddDays(5),
		Status:  billing.InstallmentPending,
	}}
	if got := billing.OldestOverdue(rows, gateToday); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestGate_Decide_LoadsFromStoreAndCatalog(t *testing.T) {
	// GIVEN: An enrolled student in an active batch, with an assignment
	//        whose EMI went overdue well past grace
	// WHEN: Asking the gate
	// THEN: Locked for payment; after an admin override row, unlocked

	ctx := context.Background()
	today := billing.Today()

	plan := standardPlan()
	mem, a, rows := seedAssignment(t, plan, today.AddDays(-40))
	_ = rows // schedule row #1 is due 10 days ago, past the 3 grace days

	mem.SetBatch(billing.BatchRef{ID: "batch-1", CourseID: a.CourseID, Status: billing.BatchActive})
	mem.SetEnrollment(billing.EnrollmentRef{StudentID: a.StudentID, BatchID: "batch-1", CourseID: a.CourseID, Active: true})

	gate := &billing.Gate{Store: mem, Catalog: mem}

	decision, err := gate.Decide(ctx, a.StudentID, "batch-1")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !decision.Locked || decision.Reason != billing.LockReasonPayment {
		t.Fatalf("expected payment lock, got %+v", decision)
	}

	// Admin grants a temporary unlock.
	err = mem.SaveAccessControl(ctx, &billing.BatchAccessControl{
		StudentID:      a.StudentID,
		BatchID:        "batch-1",
		AccessType:     billing.AccessLocked,
		OverrideAccess: true,
		OverrideUntil:  datePtr(today.AddDays(7)),
	})
	if err != nil {
		t.Fatalf("save access control: %v", err)
	}

	decision, err = gate.Decide(ctx, a.StudentID, "batch-1")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Locked {
		t.Errorf("expected override to unlock, got %+v", decision)
	}
}
