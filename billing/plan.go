/*
plan.go - Fee plan catalog

PURPOSE:
  Fee plans are static templates: "12,000 over 6 installments with a 2,000
  down payment, 3 grace days, 2% late fee". Assignments snapshot a plan's
  total at creation time, so editing a plan never rewrites history.

VALIDATION:
  Plans are validated before the store sees them. The only cross-row
  invariant (at most one IsDefault) is enforced by the store, which clears
  the flag on every other plan in the same atomic write.

SEE ALSO:
  - schedule.go: Turns a plan + assignment into installment rows
  - assign.go: Snapshots plans into assignments
*/
package billing

import (
	"context"
	"strings"
)

// Validate checks a plan's internal invariants.
func (p *FeePlan) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if strings.TrimSpace(p.Code) == "" {
		return &ValidationError{Field: "code", Message: "must not be empty"}
	}
	if !p.TotalAmount.IsPositive() {
		return &ValidationError{Field: "totalAmount", Message: "must be positive"}
	}
	if p.DownPayment.IsNegative() {
		return &ValidationError{Field: "downPayment", Message: "must not be negative"}
	}
	if p.DownPayment.GreaterOrEqual(p.TotalAmount) {
		return &ValidationError{Field: "downPayment", Message: "must be less than totalAmount"}
	}
	switch p.PaymentType {
	case PaymentTypeFull, PaymentTypeInstallment, PaymentTypeCustom:
	default:
		return &ValidationError{Field: "paymentType", Message: "unknown payment type"}
	}
	if p.PaymentType == PaymentTypeInstallment {
		if p.InstallmentCount == nil || *p.InstallmentCount < 1 {
			return &ValidationError{Field: "installmentCount", Message: "required for installment plans"}
		}
	}
	if p.InstallmentAmount != nil && !p.InstallmentAmount.IsPositive() {
		return &ValidationError{Field: "installmentAmount", Message: "must be positive when set"}
	}
	if p.GracePeriodDays < 0 {
		return &ValidationError{Field: "gracePeriodDays", Message: "must not be negative"}
	}
	if p.LateFeeFixed.IsNegative() {
		return &ValidationError{Field: "lateFeeFixed", Message: "must not be negative"}
	}
	if p.LateFeePercent.IsNegative() {
		return &ValidationError{Field: "lateFeePercent", Message: "must not be negative"}
	}
	return nil
}

// EMIAmount returns the per-installment amount for the given snapshot
// total: the plan's explicit InstallmentAmount when set, otherwise
// (total - downPayment) / count rounded to two decimals.
//
// ROUNDING POLICY: each installment carries the same rounded amount; the
// final installment is NOT corrected for the division remainder. The
// schedule-sum invariant therefore holds only within half a cent per
// installment, and callers checking it must use that tolerance.
func (p *FeePlan) EMIAmount(total Money) Money {
	if p.InstallmentAmount != nil {
		return *p.InstallmentAmount
	}
	count := 1
	if p.InstallmentCount != nil && *p.InstallmentCount > 0 {
		count = *p.InstallmentCount
	}
	return total.Sub(p.DownPayment).Div(int64(count)).Round2()
}

// Duration returns the number of regular installments.
func (p *FeePlan) Duration() int {
	if p.InstallmentCount == nil {
		return 0
	}
	return *p.InstallmentCount
}

// PlanCatalog wraps plan persistence with validation.
type PlanCatalog struct {
	Store PlanStore
}

// Save validates and upserts a plan. The store clears IsDefault on all
// other plans when this one is flagged default.
func (c *PlanCatalog) Save(ctx context.Context, plan *FeePlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	return c.Store.SavePlan(ctx, plan)
}

// Deactivate retires a plan without deleting it; existing assignments
// keep their snapshot.
func (c *PlanCatalog) Deactivate(ctx context.Context, id PlanID) error {
	plan, err := c.Store.GetPlan(ctx, id)
	if err != nil {
		return err
	}
	if plan == nil {
		return ErrPlanNotFound
	}
	plan.IsActive = false
	plan.IsDefault = false
	return c.Store.SavePlan(ctx, plan)
}
