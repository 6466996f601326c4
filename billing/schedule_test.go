/*
schedule_test.go - Schedule generation tests

Tests for:
- BuildSchedule row layout (down payment + 30-day EMI cadence)
- The schedule-sum tolerance implied by the rounding policy
- Generate's replace-wholesale idempotency
*/
package billing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================
// Note: these helpers are shared by the other billing test files.

func intPtr(n int) *int { return &n }

func money(s string) billing.Money { return billing.MustParseMoney(s) }

func datePtr(d billing.Date) *billing.Date { return &d }

// standardPlan is the canonical fixture: 12,000 over 6 installments with a
// 2,000 down payment, 3 grace days, 100 fixed + 2% late fee.
func standardPlan() *billing.FeePlan {
	return &billing.FeePlan{
		ID:               "plan-std",
		Name:             "Standard Installments",
		Code:             "STD-6",
		TotalAmount:      money("12000"),
		PaymentType:      billing.PaymentTypeInstallment,
		InstallmentCount: intPtr(6),
		DownPayment:      money("2000"),
		GracePeriodDays:  3,
		LateFeeFixed:     money("100"),
		LateFeePercent:   decimal.NewFromInt(2),
		IsActive:         true,
	}
}

func activeAssignment(id string, plan *billing.FeePlan, start billing.Date) *billing.FeeAssignment {
	a := &billing.FeeAssignment{
		ID:               billing.AssignmentID(id),
		StudentID:        "student-1",
		CourseID:         "course-1",
		PlanID:           plan.ID,
		TotalAmount:      plan.TotalAmount,
		AmountPaid:       billing.ZeroMoney(),
		AssignedDate:     start,
		PaymentStartDate: start,
		PaymentEndDate:   billing.PaymentEndDate(plan, start),
		Status:           billing.AssignmentActive,
	}
	a.Recalculate()
	return a
}

// seedAssignment writes a plan, an assignment, and its schedule into a
// fresh memory store.
func seedAssignment(t *testing.T, plan *billing.FeePlan, start billing.Date) (*store.Memory, *billing.FeeAssignment, []billing.Installment) {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	if err := mem.SavePlan(ctx, plan); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}
	a := activeAssignment("assign-1", plan, start)
	if err := mem.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("failed to create assignment: %v", err)
	}
	scheduler := &billing.InstallmentScheduler{Store: mem}
	rows, err := scheduler.Generate(ctx, a.ID)
	if err != nil {
		t.Fatalf("failed to generate schedule: %v", err)
	}
	return mem, a, rows
}

// =============================================================================
// BUILD SCHEDULE
// =============================================================================

func TestBuildSchedule_StandardPlan(t *testing.T) {
	// GIVEN: 12,000 total, 2,000 down, 6 installments
	// WHEN: Building the schedule from March 1
	// THEN: 7 rows - down payment due on start, EMIs of 1666.67 every 30 days

	plan := standardPlan()
	start := billing.NewDate(2026, 3, 1)
	a := activeAssignment("a1", plan, start)

	rows := billing.BuildSchedule(plan, a, a.CreatedAt)

	if len(rows) != 7 {
		t.Fatalf("expected 7 rows, got %d", len(rows))
	}

	down := rows[0]
	if down.Number != 0 || down.Type != billing.InstallmentDownPayment {
		t.Errorf("row 0 should be the down payment, got number=%d type=%s", down.Number, down.Type)
	}
	if down.Amount.String() != "2000.00" {
		t.Errorf("expected down payment 2000.00, got %s", down.Amount)
	}
	if !down.DueDate.Equal(start) {
		t.Errorf("down payment should be due on start date, got %s", down.DueDate)
	}

	for i := 1; i <= 6; i++ {
		emi := rows[i]
		if emi.Number != i || emi.Type != billing.InstallmentEMI {
			t.Errorf("row %d: number=%d type=%s", i, emi.Number, emi.Type)
		}
		if emi.Amount.String() != "1666.67" {
			t.Errorf("row %d: expected EMI 1666.67, got %s", i, emi.Amount)
		}
		want := start.AddDays(i * 30)
		if !emi.DueDate.Equal(want) {
			t.Errorf("row %d: expected due %s, got %s", i, want, emi.DueDate)
		}
		if emi.Status != billing.InstallmentPending {
			t.Errorf("row %d: expected pending, got %s", i, emi.Status)
		}
	}
}

func TestBuildSchedule_SumWithinRoundingTolerance(t *testing.T) {
	// GIVEN: A total that does not divide evenly (10000 / 6 = 1666.666...)
	// WHEN: Building the schedule
	// THEN: The row sum matches the total within half a cent per installment
	//       (no final-row correction is applied)

	plan := standardPlan()
	start := billing.NewDate(2026, 3, 1)
	a := activeAssignment("a1", plan, start)

	rows := billing.BuildSchedule(plan, a, a.CreatedAt)

	sum := billing.ZeroMoney()
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}

	diff := sum.Sub(a.TotalAmount).Value.Abs()
	tolerance := decimal.NewFromFloat(0.005).Mul(decimal.NewFromInt(int64(plan.Duration())))
	if diff.GreaterThan(tolerance) {
		t.Errorf("schedule sum %s drifts from total %s by %s (tolerance %s)",
			sum, a.TotalAmount, diff, tolerance)
	}
	// For this fixture the drift is exactly two cents over.
	if sum.String() != "12000.02" {
		t.Errorf("expected sum 12000.02, got %s", sum)
	}
}

func TestBuildSchedule_NoDownPayment(t *testing.T) {
	// GIVEN: A plan with zero down payment
	// WHEN: Building the schedule
	// THEN: No row 0; EMIs start at number 1

	plan := standardPlan()
	plan.DownPayment = billing.ZeroMoney()
	start := billing.NewDate(2026, 3, 1)
	a := activeAssignment("a1", plan, start)

	rows := billing.BuildSchedule(plan, a, a.CreatedAt)

	if len(rows) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(rows))
	}
	if rows[0].Number != 1 {
		t.Errorf("first row should be EMI #1, got #%d", rows[0].Number)
	}
	if rows[0].Amount.String() != "2000.00" {
		t.Errorf("expected EMI 2000.00 (12000/6), got %s", rows[0].Amount)
	}
}

func TestBuildSchedule_ExplicitInstallmentAmountWins(t *testing.T) {
	// GIVEN: A plan with an explicit installment amount
	// WHEN: Building the schedule
	// THEN: The explicit amount is used, not the derived one

	plan := standardPlan()
	amt := money("1500")
	plan.InstallmentAmount = &amt
	a := activeAssignment("a1", plan, billing.NewDate(2026, 3, 1))

	rows := billing.BuildSchedule(plan, a, a.CreatedAt)
	if rows[1].Amount.String() != "1500.00" {
		t.Errorf("expected explicit 1500.00, got %s", rows[1].Amount)
	}
}

func TestPaymentEndDate(t *testing.T) {
	// 6 installments x 30 days = 180 days after start
	plan := standardPlan()
	start := billing.NewDate(2026, 3, 1)
	end := billing.PaymentEndDate(plan, start)
	if !end.Equal(start.AddDays(180)) {
		t.Errorf("expected end %s, got %s", start.AddDays(180), end)
	}
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_ReplacesWholesale(t *testing.T) {
	// GIVEN: An assignment with a generated schedule
	// WHEN: Generating again with no payments in between
	// THEN: Same row count, amounts and due dates (IDs aside)

	ctx := context.Background()
	mem, a, first := seedAssignment(t, standardPlan(), billing.NewDate(2026, 3, 1))

	scheduler := &billing.InstallmentScheduler{Store: mem}
	second, err := scheduler.Generate(ctx, a.ID)
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}

	if len(second) != len(first) {
		t.Fatalf("row count changed: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if !second[i].Amount.Value.Equal(first[i].Amount.Value) {
			t.Errorf("row %d amount changed: %s -> %s", i, first[i].Amount, second[i].Amount)
		}
		if !second[i].DueDate.Equal(first[i].DueDate) {
			t.Errorf("row %d due date changed: %s -> %s", i, first[i].DueDate, second[i].DueDate)
		}
	}

	// The store holds exactly the new schedule, not old + new.
	stored, err := mem.ListInstallments(ctx, a.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(stored) != len(second) {
		t.Errorf("expected %d stored rows, got %d", len(second), len(stored))
	}
}

func TestGenerate_UnknownAssignment(t *testing.T) {
	scheduler := &billing.InstallmentScheduler{Store: store.NewMemory()}
	_, err := scheduler.Generate(context.Background(), "missing")
	if !billing.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}
