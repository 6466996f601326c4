/*
assign.go - Fee assignment creation

PURPOSE:
  AssignFee is the admin-facing boundary operation that puts a student on
  a fee plan for a course. It snapshots the plan's total (optionally
  reduced by a discount code), creates the unique (student, course) row,
  and - for installment plans - generates the schedule.

SEE ALSO:
  - schedule.go: Schedule generation
  - discount.go: Discount calculation and atomic usage recording
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AssignFeeInput is the request to assign a plan to a student.
type AssignFeeInput struct {
	StudentID StudentID
	CourseID  CourseID
	PlanID    PlanID // empty = use the default plan

	// PaymentStartDate defaults to today when zero.
	PaymentStartDate Date

	// DiscountCode, when set, is validated and applied to the snapshot
	// total. Usage is recorded atomically against the discount's limit.
	DiscountCode string
}

// Assigner creates fee assignments.
type Assigner struct {
	Store     Store
	Discounts *DiscountEngine
}

// AssignFee creates the assignment and, for installment-type plans, its
// schedule. Returns ErrDuplicateAssignment when the (student, course)
// pair already has one.
func (as *Assigner) AssignFee(ctx context.Context, in AssignFeeInput) (*FeeAssignment, error) {
	if in.StudentID == "" {
		return nil, &ValidationError{Field: "studentId", Message: "must not be empty"}
	}
	if in.CourseID == "" {
		return nil, &ValidationError{Field: "courseId", Message: "must not be empty"}
	}

	plan, err := as.resolvePlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, &ValidationError{Field: "planId", Message: "plan is not active"}
	}

	today := Today()
	start := in.PaymentStartDate
	if start.IsZero() {
		start = today
	}

	total := plan.TotalAmount
	var discount *FeeDiscount
	var discountAmount Money
	if in.DiscountCode != "" {
		discount, err = as.Store.GetDiscountByCode(ctx, in.DiscountCode)
		if err != nil {
			return nil, err
		}
		if discount == nil {
			return nil, ErrDiscountNotFound
		}
		discountAmount = as.Discounts.Calculate(*discount, total, in.CourseID, today)
		if discountAmount.IsZero() {
			return nil, &ValidationError{Field: "discountCode", Message: "discount is not applicable"}
		}
		total = total.Sub(discountAmount)
	}

	now := time.Now().UTC()
	a := &FeeAssignment{
		ID:               AssignmentID(uuid.NewString()),
		StudentID:        in.StudentID,
		CourseID:         in.CourseID,
		PlanID:           plan.ID,
		TotalAmount:      total,
		AmountPaid:       ZeroMoney(),
		AssignedDate:     today,
		PaymentStartDate: start,
		PaymentEndDate:   PaymentEndDate(plan, start),
		Status:           AssignmentActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	a.Recalculate()

	if err := as.Store.CreateAssignment(ctx, a); err != nil {
		return nil, err
	}

	if discount != nil {
		usage := &DiscountUsage{
			ID:           uuid.NewString(),
			DiscountID:   discount.ID,
			AssignmentID: a.ID,
			Amount:       discountAmount,
			UsedAt:       now,
		}
		if err := as.Store.RecordDiscountUsage(ctx, usage); err != nil {
			return nil, err
		}
	}

	if plan.PaymentType == PaymentTypeInstallment {
		scheduler := &InstallmentScheduler{Store: as.Store}
		if _, err := scheduler.Generate(ctx, a.ID); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (as *Assigner) resolvePlan(ctx context.Context, id PlanID) (*FeePlan, error) {
	if id != "" {
		plan, err := as.Store.GetPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, ErrPlanNotFound
		}
		return plan, nil
	}
	plan, err := as.Store.GetDefaultPlan(ctx)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}
