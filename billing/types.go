/*
Package billing provides the installment billing and access-control engine.

PURPOSE:
  This package contains the domain types and algorithms for assigning fee
  plans to students, generating installment schedules, reconciling payments,
  deciding course/batch access, and running the once-daily maintenance cycle
  (locks, late fees, reminders).

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount backed by decimal.Decimal (no float arithmetic)
  - Date: A calendar-day time point (the engine's clock granularity)
  - FeePlan: A reusable template for how a course is paid for
  - FeeAssignment: One student's plan for one course, with running balances
  - Installment: A single scheduled charge within an assignment
  - PaymentRecord: An immutable record of a collected/attempted payment
  - DailyTaskLog: The idempotency guard and audit row for the daily run

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing student/course IDs
  3. Derivation: amountPending, daysOverdue are computed, never trusted
  4. Auditability: Payment records are never mutated once written

SEE ALSO:
  - schedule.go: Installment schedule generation
  - ledger.go: Payment reconciliation
  - gate.go: Lock-precedence decision function
  - runner.go: Daily task orchestration
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount (single currency, two-decimal precision)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money       { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money  { return Money{Value: decimal.NewFromInt(value)} }
func ZeroMoney() Money                   { return Money{Value: decimal.Zero} }

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney()
	}
	return Money{Value: d}
}

func (m Money) Add(o Money) Money          { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money          { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) Div(n int64) Money          { return Money{Value: m.Value.Div(decimal.NewFromInt(n))} }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool   { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool      { return m.Value.LessThan(o.Value) }
func (m Money) GreaterOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) Min(o Money) Money          { if m.LessThan(o) { return m }; return o }
func (m Money) String() string             { return m.Value.StringFixed(2) }

// Round2 rounds to two decimal places, half away from zero.
func (m Money) Round2() Money { return Money{Value: m.Value.Round(2)} }

// Percent returns pct% of m. Used for late fees and percentage discounts.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(pct).Div(decimal.NewFromInt(100))}
}

// ClampNonNegative floors the amount at zero.
func (m Money) ClampNonNegative() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

// =============================================================================
// DATE - Calendar-day time point
// =============================================================================

// Date is a day-granularity point in time, normalized to UTC midnight.
// All due-date and overdue arithmetic happens at this granularity.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date { return DateOf(time.Now()) }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

func (d Date) Before(o Date) bool        { return d.normalize().Before(o.normalize()) }
func (d Date) After(o Date) bool         { return d.normalize().After(o.normalize()) }
func (d Date) Equal(o Date) bool         { return d.normalize().Equal(o.normalize()) }
func (d Date) BeforeOrEqual(o Date) bool { return d.Before(o) || d.Equal(o) }
func (d Date) AfterOrEqual(o Date) bool  { return d.After(o) || d.Equal(o) }
func (d Date) IsZero() bool              { return d.Time.IsZero() }

func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// DaysSince returns the number of whole days from o to d (negative if d < o).
func (d Date) DaysSince(o Date) int {
	return int(d.normalize().Sub(o.normalize()).Hours() / 24)
}

func (d Date) String() string { return d.normalize().Format("2006-01-02") }

// ParseDate parses a 2006-01-02 date string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	PlanID        string
	AssignmentID  string
	InstallmentID string
	PaymentID     string
	DiscountID    string
	StudentID     string
	CourseID      string
	BatchID       string
)

// =============================================================================
// ENUMS
// =============================================================================

type PaymentType string

const (
	PaymentTypeFull        PaymentType = "full"
	PaymentTypeInstallment PaymentType = "installment"
	PaymentTypeCustom      PaymentType = "custom"
)

type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentSuspended AssignmentStatus = "suspended"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

type InstallmentType string

const (
	InstallmentDownPayment InstallmentType = "down_payment"
	InstallmentEMI         InstallmentType = "emi"
	InstallmentLateFee     InstallmentType = "late_fee"
	InstallmentAdjustment  InstallmentType = "adjustment"
)

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
	InstallmentWaived  InstallmentStatus = "waived"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "bank_transfer"
	MethodOnline   PaymentMethod = "online"
)

type AccessType string

const (
	AccessLocked     AccessType = "locked"
	AccessUnlocked   AccessType = "unlocked"
	AccessRestricted AccessType = "restricted"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

type BatchStatus string

const (
	BatchActive    BatchStatus = "active"
	BatchUpcoming  BatchStatus = "upcoming"
	BatchCompleted BatchStatus = "completed"
	BatchArchived  BatchStatus = "archived"
)

// =============================================================================
// FEE PLAN - Reusable fee template
// =============================================================================

// FeePlan is a template describing how a course's fee is collected.
// Invariants (enforced by Validate and the store):
//   - Code is unique
//   - DownPayment < TotalAmount
//   - At most one plan has IsDefault=true (the store clears others on write)
type FeePlan struct {
	ID          PlanID
	Name        string
	Code        string
	TotalAmount Money
	PaymentType PaymentType

	// Installment configuration. InstallmentAmount is derived from
	// (total - down) / count when nil.
	InstallmentCount  *int
	InstallmentAmount *Money
	DownPayment       Money

	GracePeriodDays int
	LateFeeFixed    Money
	LateFeePercent  decimal.Decimal

	EarlyPaymentDiscountPercent decimal.Decimal
	BulkDiscountPercent         decimal.Decimal

	IsActive  bool
	IsDefault bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// FEE ASSIGNMENT - One student's plan for one course
// =============================================================================

// FeeAssignment links a student to a fee plan for a single course.
// Unique per (student, course). TotalAmount is a snapshot taken at
// assignment time and may diverge from the plan (discounts, adjustments).
type FeeAssignment struct {
	ID        AssignmentID
	StudentID StudentID
	CourseID  CourseID
	PlanID    PlanID

	TotalAmount   Money
	AmountPaid    Money
	AmountPending Money // always TotalAmount - AmountPaid, clamped >= 0

	AssignedDate     Date
	PaymentStartDate Date
	PaymentEndDate   Date

	Status AssignmentStatus

	IsCourseLocked bool
	LockedAt       *time.Time
	UnlockDate     *Date // admin override: unlocked through this date

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recalculate rederives AmountPending from the balance fields.
func (a *FeeAssignment) Recalculate() {
	a.AmountPending = a.TotalAmount.Sub(a.AmountPaid).ClampNonNegative()
}

// IsSettled reports whether nothing is left to pay.
func (a *FeeAssignment) IsSettled() bool { return a.AmountPending.IsZero() }

// =============================================================================
// INSTALLMENT - One scheduled charge
// =============================================================================

// Installment is a single row of an assignment's schedule.
// Number 0 is the down payment; 1..N are regular EMIs.
// Unique per (assignment, number).
type Installment struct {
	ID           InstallmentID
	AssignmentID AssignmentID
	Number       int
	Type         InstallmentType

	Amount     Money
	AmountPaid Money

	DueDate  Date
	PaidDate *Date

	Status InstallmentStatus

	// LateFeeApplied guards against charging the same late fee twice.
	// Set with a compare-and-set, never a plain write.
	LateFeeApplied bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outstanding returns the unpaid remainder of this installment.
func (i Installment) Outstanding() Money {
	return i.Amount.Sub(i.AmountPaid).ClampNonNegative()
}

// IsOverdue reports whether the installment is past due and unpaid as of
// today. Waived and paid installments are never overdue. This derives
// overdue-ness from the due date so decisions are not hostage to how
// recently the status sweep ran.
func (i Installment) IsOverdue(today Date) bool {
	if i.Status == InstallmentPaid || i.Status == InstallmentWaived {
		return false
	}
	return i.DueDate.Before(today) && i.AmountPaid.LessThan(i.Amount)
}

// DaysOverdue returns how many days past due the installment is (0 if not
// overdue).
func (i Installment) DaysOverdue(today Date) int {
	if !i.IsOverdue(today) {
		return 0
	}
	return today.DaysSince(i.DueDate)
}

// =============================================================================
// PAYMENT RECORD - Immutable payment history
// =============================================================================

// PaymentRecord captures one recorded payment attempt. Only Completed
// records mutate assignment balances; Pending/Failed/Refunded rows are
// history only. In particular, refunds do NOT decrement AmountPaid -
// reconciling a refund against the balance is a manual operation.
type PaymentRecord struct {
	ID            PaymentID
	AssignmentID  AssignmentID
	InstallmentID *InstallmentID
	Amount        Money
	Method        PaymentMethod
	Date          Date
	TransactionID string
	Status        PaymentStatus
	RecordedBy    string
	CreatedAt     time.Time
}

// =============================================================================
// BATCH ACCESS CONTROL - Per (student, batch) admin override
// =============================================================================

// BatchAccessControl is an admin-set access row for one student in one
// batch. OverrideAccess grants a temporary unlock on top of a Locked row,
// valid through OverrideUntil (forever when nil).
type BatchAccessControl struct {
	ID        string
	StudentID StudentID
	BatchID   BatchID

	AccessType AccessType
	Reason     string

	EffectiveFrom  *Date
	EffectiveUntil *Date

	OverrideAccess bool
	OverrideUntil  *Date

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InEffect reports whether the row applies on the given day.
func (b BatchAccessControl) InEffect(today Date) bool {
	if b.EffectiveFrom != nil && today.Before(*b.EffectiveFrom) {
		return false
	}
	if b.EffectiveUntil != nil && today.After(*b.EffectiveUntil) {
		return false
	}
	return true
}

// OverrideActive reports whether the temporary admin unlock applies today.
func (b BatchAccessControl) OverrideActive(today Date) bool {
	if !b.OverrideAccess {
		return false
	}
	return b.OverrideUntil == nil || today.BeforeOrEqual(*b.OverrideUntil)
}

// =============================================================================
// DISCOUNTS
// =============================================================================

// FeeDiscount is a discount template with a validity window and usage limit.
type FeeDiscount struct {
	ID    DiscountID
	Code  string
	Name  string
	Type  DiscountType
	Value decimal.Decimal // percent for percentage type, amount for fixed

	MaxDiscountAmount *Money
	MinimumAmount     Money

	ValidFrom  Date
	ValidUntil Date

	UsageLimit *int
	UsedCount  int

	// ApplicableCourses restricts the discount; empty means any course.
	ApplicableCourses []CourseID

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppliesTo reports whether the discount covers the given course.
func (d FeeDiscount) AppliesTo(course CourseID) bool {
	if len(d.ApplicableCourses) == 0 {
		return true
	}
	for _, c := range d.ApplicableCourses {
		if c == course {
			return true
		}
	}
	return false
}

// DiscountUsage records one application of a discount to an assignment.
// Unique per (discount, assignment).
type DiscountUsage struct {
	ID           string
	DiscountID   DiscountID
	AssignmentID AssignmentID
	Amount       Money
	UsedAt       time.Time
}

// =============================================================================
// DAILY TASK LOG - Idempotency guard and audit row for the daily run
// =============================================================================

// DailyTaskLog is the one-row-per-date record of a daily run. Unique on
// Date; the row doubles as the idempotency guard (a Completed row
// short-circuits re-invocation) and as the audit trail of what the run did.
type DailyTaskLog struct {
	ID     string
	Date   Date
	Status TaskStatus

	CoursesLocked   int
	CoursesUnlocked int
	LateFeesApplied int
	RemindersSent   int

	TotalOverdueAmount Money
	ErrorMessage       string

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}
