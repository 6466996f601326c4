package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
)

func newAssigner(t *testing.T) (*store.Memory, *billing.Assigner) {
	t.Helper()
	mem := store.NewMemory()
	return mem, &billing.Assigner{Store: mem, Discounts: &billing.DiscountEngine{}}
}

func TestAssignFee_InstallmentPlanGeneratesSchedule(t *testing.T) {
	// GIVEN: The standard 6-installment plan
	// WHEN: Assigning it to a student
	// THEN: The assignment snapshots the total and a 7-row schedule exists

	ctx := context.Background()
	mem, assigner := newAssigner(t)

	plan := standardPlan()
	if err := mem.SavePlan(ctx, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	start := billing.NewDate(2026, 3, 1)
	a, err := assigner.AssignFee(ctx, billing.AssignFeeInput{
		StudentID:        "student-1",
		CourseID:         "course-1",
		PlanID:           plan.ID,
		PaymentStartDate: start,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if a.TotalAmount.String() != "12000.00" {
		t.Errorf("expected snapshot total 12000.00, got %s", a.TotalAmount)
	}
	if a.AmountPending.String() != "12000.00" {
		t.Errorf("expected pending 12000.00, got %s", a.AmountPending)
	}
	if !a.PaymentEndDate.Equal(start.AddDays(180)) {
		t.Errorf("expected end date %s, got %s", start.AddDays(180), a.PaymentEndDate)
	}

	rows, _ := mem.ListInstallments(ctx, a.ID)
	if len(rows) != 7 {
		t.Errorf("expected 7 installments, got %d", len(rows))
	}
}

func TestAssignFee_UsesDefaultPlanWhenUnspecified(t *testing.T) {
	ctx := context.Background()
	mem, assigner := newAssigner(t)

	plan := standardPlan()
	plan.IsDefault = true
	if err := mem.SavePlan(ctx, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	a, err := assigner.AssignFee(ctx, billing.AssignFeeInput{
		StudentID: "student-1",
		CourseID:  "course-1",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.PlanID != plan.ID {
		t.Errorf("expected default plan %s, got %s", plan.ID, a.PlanID)
	}
}

func TestAssignFee_DuplicatePair(t *testing.T) {
	// One assignment per (student, course).
	ctx := context.Background()
	mem, assigner := newAssigner(t)

	plan := standardPlan()
	if err := mem.SavePlan(ctx, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	in := billing.AssignFeeInput{StudentID: "student-1", CourseID: "course-1", PlanID: plan.ID}
	if _, err := assigner.AssignFee(ctx, in); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	_, err := assigner.AssignFee(ctx, in)
	if !errors.Is(err, billing.ErrDuplicateAssignment) {
		t.Errorf("expected ErrDuplicateAssignment, got %v", err)
	}
}

func TestAssignFee_DiscountCodeReducesSnapshot(t *testing.T) {
	// GIVEN: A 10% discount valid today
	// WHEN: Assigning with its code
	// THEN: The snapshot total drops by 1200 and the usage is recorded

	ctx := context.Background()
	mem, assigner := newAssigner(t)

	plan := standardPlan()
	if err := mem.SavePlan(ctx, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	today := billing.Today()
	d := billing.FeeDiscount{
		ID:         "disc-10",
		Code:       "SPRING10",
		Name:       "Spring 10%",
		Type:       billing.DiscountPercentage,
		Value:      decimal.NewFromInt(10),
		ValidFrom:  today.AddDays(-1),
		ValidUntil: today.AddDays(30),
		UsageLimit: intPtr(1),
		IsActive:   true,
	}
	if err := mem.SaveDiscount(ctx, &d); err != nil {
		t.Fatalf("save discount: %v", err)
	}

	a, err := assigner.AssignFee(ctx, billing.AssignFeeInput{
		StudentID:    "student-1",
		CourseID:     "course-1",
		PlanID:       plan.ID,
		DiscountCode: "SPRING10",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.TotalAmount.String() != "10800.00" {
		t.Errorf("expected discounted total 10800.00, got %s", a.TotalAmount)
	}

	got, _ := mem.GetDiscount(ctx, d.ID)
	if got.UsedCount != 1 {
		t.Errorf("expected usage recorded, got count %d", got.UsedCount)
	}

	// The limit of 1 is spent; the next student cannot use the code.
	_, err = assigner.AssignFee(ctx, billing.AssignFeeInput{
		StudentID:    "student-2",
		CourseID:     "course-1",
		PlanID:       plan.ID,
		DiscountCode: "SPRING10",
	})
	if !errors.Is(err, billing.ErrValidation) {
		t.Errorf("expected exhausted code to fail validation, got %v", err)
	}
}

func TestAssignFee_Rejections(t *testing.T) {
	ctx := context.Background()
	mem, assigner := newAssigner(t)

	plan := standardPlan()
	if err := mem.SavePlan(ctx, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	retired := standardPlan()
	retired.ID = "plan-old"
	retired.Code = "OLD-6"
	retired.IsActive = false
	if err := mem.SavePlan(ctx, retired); err != nil {
		t.Fatalf("save retired plan: %v", err)
	}

	cases := []struct {
		name string
		in   billing.AssignFeeInput
		want error
	}{
		{"missing student", billing.AssignFeeInput{CourseID: "c", PlanID: plan.ID}, billing.ErrValidation},
		{"missing course", billing.AssignFeeInput{StudentID: "s", PlanID: plan.ID}, billing.ErrValidation},
		{"unknown plan", billing.AssignFeeInput{StudentID: "s", CourseID: "c", PlanID: "missing"}, billing.ErrPlanNotFound},
		{"inactive plan", billing.AssignFeeInput{StudentID: "s", CourseID: "c", PlanID: retired.ID}, billing.ErrValidation},
		{"unknown discount code", billing.AssignFeeInput{StudentID: "s", CourseID: "c", PlanID: plan.ID, DiscountCode: "NOPE"}, billing.ErrDiscountNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := assigner.AssignFee(ctx, tc.in)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
