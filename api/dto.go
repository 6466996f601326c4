/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary amounts cross the wire as decimal strings ("1666.67"), never
  floats. Dates are 2006-01-02 strings.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// PLAN TYPES
// =============================================================================

// PlanDTO represents a fee plan in API responses.
type PlanDTO struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Code              string  `json:"code"`
	TotalAmount       string  `json:"total_amount"`
	PaymentType       string  `json:"payment_type"`
	InstallmentCount  *int    `json:"installment_count,omitempty"`
	InstallmentAmount *string `json:"installment_amount,omitempty"`
	DownPayment       string  `json:"down_payment"`
	GracePeriodDays   int     `json:"grace_period_days"`
	LateFeeFixed      string  `json:"late_fee_fixed"`
	LateFeePercent    string  `json:"late_fee_percent"`
	IsActive          bool    `json:"is_active"`
	IsDefault         bool    `json:"is_default"`
	CreatedAt         string  `json:"created_at,omitempty"`
}

// SavePlanRequest is the request to create or update a plan.
type SavePlanRequest struct {
	ID                string  `json:"id,omitempty"`
	Name              string  `json:"name"`
	Code              string  `json:"code"`
	TotalAmount       string  `json:"total_amount"`
	PaymentType       string  `json:"payment_type"`
	InstallmentCount  *int    `json:"installment_count,omitempty"`
	InstallmentAmount *string `json:"installment_amount,omitempty"`
	DownPayment       string  `json:"down_payment"`
	GracePeriodDays   int     `json:"grace_period_days"`
	LateFeeFixed      string  `json:"late_fee_fixed"`
	LateFeePercent    string  `json:"late_fee_percent"`
	IsActive          bool    `json:"is_active"`
	IsDefault         bool    `json:"is_default"`
}

// =============================================================================
// ASSIGNMENT TYPES
// =============================================================================

// AssignFeeRequest is the request to put a student on a plan.
type AssignFeeRequest struct {
	StudentID        string `json:"student_id"`
	CourseID         string `json:"course_id"`
	PlanID           string `json:"plan_id,omitempty"` // empty = default plan
	PaymentStartDate string `json:"payment_start_date,omitempty"`
	DiscountCode     string `json:"discount_code,omitempty"`
}

// AssignmentDTO represents a fee assignment.
type AssignmentDTO struct {
	ID               string  `json:"id"`
	StudentID        string  `json:"student_id"`
	CourseID         string  `json:"course_id"`
	PlanID           string  `json:"plan_id"`
	TotalAmount      string  `json:"total_amount"`
	AmountPaid       string  `json:"amount_paid"`
	AmountPending    string  `json:"amount_pending"`
	AssignedDate     string  `json:"assigned_date"`
	PaymentStartDate string  `json:"payment_start_date"`
	PaymentEndDate   string  `json:"payment_end_date"`
	Status           string  `json:"status"`
	IsCourseLocked   bool    `json:"is_course_locked"`
	UnlockDate       *string `json:"unlock_date,omitempty"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

// UpdateAssignmentRequest edits status and the unlock escape hatch.
type UpdateAssignmentRequest struct {
	Status     *string `json:"status,omitempty"`
	UnlockDate *string `json:"unlock_date,omitempty"` // empty string clears it
}

// InstallmentDTO represents one schedule row.
type InstallmentDTO struct {
	ID             string  `json:"id"`
	AssignmentID   string  `json:"assignment_id"`
	Number         int     `json:"number"`
	Type           string  `json:"type"`
	Amount         string  `json:"amount"`
	AmountPaid     string  `json:"amount_paid"`
	Outstanding    string  `json:"outstanding"`
	DueDate        string  `json:"due_date"`
	PaidDate       *string `json:"paid_date,omitempty"`
	Status         string  `json:"status"`
	LateFeeApplied bool    `json:"late_fee_applied"`
}

// =============================================================================
// PAYMENT TYPES
// =============================================================================

// RecordPaymentRequest is the request to record a payment.
type RecordPaymentRequest struct {
	AssignmentID  string `json:"assignment_id"`
	InstallmentID string `json:"installment_id,omitempty"`
	Amount        string `json:"amount"`
	Method        string `json:"method"`
	Date          string `json:"date,omitempty"` // defaults to today
	TransactionID string `json:"transaction_id,omitempty"`
	Status        string `json:"status,omitempty"` // defaults to completed
	RecordedBy    string `json:"recorded_by,omitempty"`
}

// PaymentDTO represents a recorded payment.
type PaymentDTO struct {
	ID            string  `json:"id"`
	AssignmentID  string  `json:"assignment_id"`
	InstallmentID *string `json:"installment_id,omitempty"`
	Amount        string  `json:"amount"`
	Method        string  `json:"method"`
	Date          string  `json:"date"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Status        string  `json:"status"`
	RecordedBy    string  `json:"recorded_by,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// =============================================================================
// ACCESS TYPES
// =============================================================================

// AccessDecisionDTO is the gate's verdict for (student, batch).
type AccessDecisionDTO struct {
	StudentID string `json:"student_id"`
	BatchID   string `json:"batch_id"`
	Locked    bool   `json:"locked"`
	Reason    string `json:"reason,omitempty"`
}

// SaveAccessControlRequest upserts an admin override row.
type SaveAccessControlRequest struct {
	StudentID      string  `json:"student_id"`
	BatchID        string  `json:"batch_id"`
	AccessType     string  `json:"access_type"`
	Reason         string  `json:"reason,omitempty"`
	EffectiveFrom  *string `json:"effective_from,omitempty"`
	EffectiveUntil *string `json:"effective_until,omitempty"`
	OverrideAccess bool    `json:"override_access"`
	OverrideUntil  *string `json:"override_until,omitempty"`
}

// =============================================================================
// DISCOUNT TYPES
// =============================================================================

// DiscountDTO represents a discount template.
type DiscountDTO struct {
	ID                string   `json:"id"`
	Code              string   `json:"code"`
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	Value             string   `json:"value"`
	MaxDiscountAmount *string  `json:"max_discount_amount,omitempty"`
	MinimumAmount     string   `json:"minimum_amount"`
	ValidFrom         string   `json:"valid_from"`
	ValidUntil        string   `json:"valid_until"`
	UsageLimit        *int     `json:"usage_limit,omitempty"`
	UsedCount         int      `json:"used_count"`
	ApplicableCourses []string `json:"applicable_courses,omitempty"`
	IsActive          bool     `json:"is_active"`
}

// SaveDiscountRequest is the request to create or update a discount.
type SaveDiscountRequest struct {
	ID                string   `json:"id,omitempty"`
	Code              string   `json:"code"`
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	Value             string   `json:"value"`
	MaxDiscountAmount *string  `json:"max_discount_amount,omitempty"`
	MinimumAmount     string   `json:"minimum_amount,omitempty"`
	ValidFrom         string   `json:"valid_from"`
	ValidUntil        string   `json:"valid_until"`
	UsageLimit        *int     `json:"usage_limit,omitempty"`
	ApplicableCourses []string `json:"applicable_courses,omitempty"`
	IsActive          bool     `json:"is_active"`
}

// =============================================================================
// DAILY TASK TYPES
// =============================================================================

// RunDailyTasksRequest triggers the daily run.
type RunDailyTasksRequest struct {
	Date  string `json:"date,omitempty"` // defaults to today
	Force bool   `json:"force,omitempty"`
}

// DailyTaskDTO is the audit row of one daily run.
type DailyTaskDTO struct {
	ID                 string  `json:"id"`
	Date               string  `json:"date"`
	Status             string  `json:"status"`
	CoursesLocked      int     `json:"courses_locked"`
	CoursesUnlocked    int     `json:"courses_unlocked"`
	LateFeesApplied    int     `json:"late_fees_applied"`
	RemindersSent      int     `json:"reminders_sent"`
	TotalOverdueAmount string  `json:"total_overdue_amount"`
	ErrorMessage       string  `json:"error_message,omitempty"`
	StartedAt          *string `json:"started_at,omitempty"`
	CompletedAt        *string `json:"completed_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPlanDTO(p billing.FeePlan) PlanDTO {
	dto := PlanDTO{
		ID:              string(p.ID),
		Name:            p.Name,
		Code:            p.Code,
		TotalAmount:     p.TotalAmount.String(),
		PaymentType:     string(p.PaymentType),
		DownPayment:     p.DownPayment.String(),
		GracePeriodDays: p.GracePeriodDays,
		LateFeeFixed:    p.LateFeeFixed.String(),
		LateFeePercent:  p.LateFeePercent.String(),
		IsActive:        p.IsActive,
		IsDefault:       p.IsDefault,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
	}
	if p.InstallmentCount != nil {
		n := *p.InstallmentCount
		dto.InstallmentCount = &n
	}
	if p.InstallmentAmount != nil {
		s := p.InstallmentAmount.String()
		dto.InstallmentAmount = &s
	}
	return dto
}

func toAssignmentDTO(a billing.FeeAssignment) AssignmentDTO {
	dto := AssignmentDTO{
		ID:               string(a.ID),
		StudentID:        string(a.StudentID),
		CourseID:         string(a.CourseID),
		PlanID:           string(a.PlanID),
		TotalAmount:      a.TotalAmount.String(),
		AmountPaid:       a.AmountPaid.String(),
		AmountPending:    a.AmountPending.String(),
		AssignedDate:     a.AssignedDate.String(),
		PaymentStartDate: a.PaymentStartDate.String(),
		PaymentEndDate:   a.PaymentEndDate.String(),
		Status:           string(a.Status),
		IsCourseLocked:   a.IsCourseLocked,
		CreatedAt:        a.CreatedAt.Format(time.RFC3339),
	}
	if a.UnlockDate != nil {
		s := a.UnlockDate.String()
		dto.UnlockDate = &s
	}
	return dto
}

func toInstallmentDTO(i billing.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		ID:             string(i.ID),
		AssignmentID:   string(i.AssignmentID),
		Number:         i.Number,
		Type:           string(i.Type),
		Amount:         i.Amount.String(),
		AmountPaid:     i.AmountPaid.String(),
		Outstanding:    i.Outstanding().String(),
		DueDate:        i.DueDate.String(),
		Status:         string(i.Status),
		LateFeeApplied: i.LateFeeApplied,
	}
	if i.PaidDate != nil {
		s := i.PaidDate.String()
		dto.PaidDate = &s
	}
	return dto
}

func toInstallmentDTOs(rows []billing.Installment) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toInstallmentDTO(row)
	}
	return dtos
}

func toPaymentDTO(p billing.PaymentRecord) PaymentDTO {
	dto := PaymentDTO{
		ID:            string(p.ID),
		AssignmentID:  string(p.AssignmentID),
		Amount:        p.Amount.String(),
		Method:        string(p.Method),
		Date:          p.Date.String(),
		TransactionID: p.TransactionID,
		Status:        string(p.Status),
		RecordedBy:    p.RecordedBy,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.InstallmentID != nil {
		s := string(*p.InstallmentID)
		dto.InstallmentID = &s
	}
	return dto
}

func toDiscountDTO(d billing.FeeDiscount) DiscountDTO {
	dto := DiscountDTO{
		ID:            string(d.ID),
		Code:          d.Code,
		Name:          d.Name,
		Type:          string(d.Type),
		Value:         d.Value.String(),
		MinimumAmount: d.MinimumAmount.String(),
		ValidFrom:     d.ValidFrom.String(),
		ValidUntil:    d.ValidUntil.String(),
		UsedCount:     d.UsedCount,
		IsActive:      d.IsActive,
	}
	if d.MaxDiscountAmount != nil {
		s := d.MaxDiscountAmount.String()
		dto.MaxDiscountAmount = &s
	}
	if d.UsageLimit != nil {
		n := *d.UsageLimit
		dto.UsageLimit = &n
	}
	for _, c := range d.ApplicableCourses {
		dto.ApplicableCourses = append(dto.ApplicableCourses, string(c))
	}
	return dto
}

func toDailyTaskDTO(t billing.DailyTaskLog) DailyTaskDTO {
	dto := DailyTaskDTO{
		ID:                 t.ID,
		Date:               t.Date.String(),
		Status:             string(t.Status),
		CoursesLocked:      t.CoursesLocked,
		CoursesUnlocked:    t.CoursesUnlocked,
		LateFeesApplied:    t.LateFeesApplied,
		RemindersSent:      t.RemindersSent,
		TotalOverdueAmount: t.TotalOverdueAmount.String(),
		ErrorMessage:       t.ErrorMessage,
	}
	if t.StartedAt != nil {
		s := t.StartedAt.Format(time.RFC3339)
		dto.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}
