/*
schedule.go - Installment schedule generation

PURPOSE:
  Expands a fee plan + assignment into concrete installment rows:

    #0        down payment, due on paymentStartDate (only when > 0)
    #1..#N    EMIs, due every 30 days after paymentStartDate

  The cadence is a fixed 30 days, NOT calendar months. This is explicit
  policy: a schedule started on Jan 31 does not bunch up in short months.

IDEMPOTENCY:
  Generate replaces any existing schedule wholesale. Two invocations with
  no payments recorded in between produce identical schedules (row IDs
  aside). The store performs delete+insert in one atomic unit, so readers
  never observe a half-generated schedule.

SEE ALSO:
  - plan.go: EMIAmount and the rounding policy
  - assign.go: Calls Generate when an installment-type plan is assigned
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InstallmentScheduler generates installment rows for assignments.
type InstallmentScheduler struct {
	Store Store
}

// BuildSchedule computes the installment rows for a plan + assignment
// without touching storage. Pure; exposed for projection and tests.
func BuildSchedule(plan *FeePlan, a *FeeAssignment, now time.Time) []Installment {
	var rows []Installment

	if plan.DownPayment.IsPositive() {
		rows = append(rows, Installment{
			ID:           InstallmentID(uuid.NewString()),
			AssignmentID: a.ID,
			Number:       0,
			Type:         InstallmentDownPayment,
			Amount:       plan.DownPayment,
			AmountPaid:   ZeroMoney(),
			DueDate:      a.PaymentStartDate,
			Status:       InstallmentPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	emi := plan.EMIAmount(a.TotalAmount)
	for i := 1; i <= plan.Duration(); i++ {
		rows = append(rows, Installment{
			ID:           InstallmentID(uuid.NewString()),
			AssignmentID: a.ID,
			Number:       i,
			Type:         InstallmentEMI,
			Amount:       emi,
			AmountPaid:   ZeroMoney(),
			DueDate:      a.PaymentStartDate.AddDays(i * 30),
			Status:       InstallmentPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	return rows
}

// PaymentEndDate returns when the last installment falls due.
func PaymentEndDate(plan *FeePlan, start Date) Date {
	return start.AddDays(plan.Duration() * 30)
}

// Generate builds and persists the schedule for an assignment, replacing
// any existing rows.
func (s *InstallmentScheduler) Generate(ctx context.Context, assignmentID AssignmentID) ([]Installment, error) {
	a, err := s.Store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAssignmentNotFound
	}

	plan, err := s.Store.GetPlan(ctx, a.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}

	rows := BuildSchedule(plan, a, time.Now().UTC())
	if err := s.Store.ReplaceInstallments(ctx, a.ID, rows); err != nil {
		return nil, err
	}
	return rows, nil
}
