/*
discount.go - Discount validation and calculation

PURPOSE:
  Calculates discount amounts for the admin-facing assignment path. The
  daily runner never touches discounts.

CALCULATION:
  Calculate returns zero unless every precondition holds (active, inside
  validity window, usage remaining, minimum met, course applicable). The
  result is clamped to MaxDiscountAmount (percentage type) and never
  exceeds the base amount.

USAGE RECORDING:
  Recording usage is a compare-and-increment in the store: UsedCount can
  never exceed UsageLimit even under concurrent use, and a (discount,
  assignment) pair can be used at most once.
*/
package billing

// DiscountEngine computes discount amounts.
type DiscountEngine struct{}

// Calculate returns the discount amount for a base amount, or zero when
// the discount does not apply.
func (DiscountEngine) Calculate(d FeeDiscount, base Money, course CourseID, today Date) Money {
	if !d.IsActive {
		return ZeroMoney()
	}
	if today.Before(d.ValidFrom) || today.After(d.ValidUntil) {
		return ZeroMoney()
	}
	if d.UsageLimit != nil && d.UsedCount >= *d.UsageLimit {
		return ZeroMoney()
	}
	if base.LessThan(d.MinimumAmount) {
		return ZeroMoney()
	}
	if !d.AppliesTo(course) {
		return ZeroMoney()
	}

	var amount Money
	switch d.Type {
	case DiscountPercentage:
		amount = base.Percent(d.Value).Round2()
		if d.MaxDiscountAmount != nil && amount.GreaterThan(*d.MaxDiscountAmount) {
			amount = *d.MaxDiscountAmount
		}
	case DiscountFixed:
		amount = Money{Value: d.Value}
	default:
		return ZeroMoney()
	}

	// Never discount more than the base itself.
	return amount.Min(base).ClampNonNegative()
}
