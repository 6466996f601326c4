/*
handlers.go - HTTP API handlers for the fee billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Plans:
    GET    /api/plans                     List fee plans
    POST   /api/plans                     Create/update a plan
    GET    /api/plans/{id}                Get a plan
    POST   /api/plans/{id}/deactivate     Retire a plan

  Assignments:
    POST   /api/assignments               Assign a plan to a student
    GET    /api/assignments/{id}          Get an assignment
    PUT    /api/assignments/{id}          Edit status / unlock date
    GET    /api/assignments/{id}/installments  The schedule
    GET    /api/assignments/{id}/payments      Payment history
    POST   /api/assignments/{id}/schedule      Regenerate the schedule

  Payments:
    POST   /api/payments                  Record a payment

  Discounts:
    GET    /api/discounts                 List discounts
    POST   /api/discounts                 Create/update a discount

  Access:
    GET    /api/access/{studentID}/{batchID}   Gate decision
    POST   /api/access-controls                Upsert admin override
    DELETE /api/access-controls/{studentID}/{batchID}

  Admin:
    POST   /api/admin/daily-tasks/run     Run the daily cycle
    GET    /api/admin/daily-tasks         Recent run log

ERROR HANDLING:
  Domain errors map to HTTP status via the billing taxonomy:
  - 400: billing.ErrValidation
  - 404: billing.ErrNotFound
  - 409: billing.ErrConflict
  - 422: billing.ErrState
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   billing.Store
	Catalog billing.CatalogReader

	Plans    *billing.PlanCatalog
	Assigner *billing.Assigner
	Ledger   *billing.PaymentLedger
	Gate     *billing.Gate
	Runner   *billing.DailyTaskRunner
}

// NewHandler wires the domain services around a store and catalog.
func NewHandler(store billing.Store, catalog billing.CatalogReader, notifier billing.Notifier) *Handler {
	return &Handler{
		Store:    store,
		Catalog:  catalog,
		Plans:    &billing.PlanCatalog{Store: store},
		Assigner: &billing.Assigner{Store: store, Discounts: &billing.DiscountEngine{}},
		Ledger:   &billing.PaymentLedger{Store: store},
		Gate:     &billing.Gate{Store: store, Catalog: catalog},
		Runner:   &billing.DailyTaskRunner{Store: store, Notifier: notifier},
	}
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// ListPlans returns all fee plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Store.ListPlans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SavePlan creates or updates a fee plan.
func (h *Handler) SavePlan(w http.ResponseWriter, r *http.Request) {
	var req SavePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, err := planFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan", err)
		return
	}

	if err := h.Plans.Save(r.Context(), plan); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(*plan))
}

// GetPlan returns a single plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := billing.PlanID(chi.URLParam(r, "id"))

	plan, err := h.Store.GetPlan(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get plan", err)
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "Plan not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

// DeactivatePlan retires a plan; existing assignments keep their snapshot.
func (h *Handler) DeactivatePlan(w http.ResponseWriter, r *http.Request) {
	id := billing.PlanID(chi.URLParam(r, "id"))

	if err := h.Plans.Deactivate(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func planFromRequest(req SavePlanRequest) (*billing.FeePlan, error) {
	total, err := parseMoney(req.TotalAmount, "total_amount")
	if err != nil {
		return nil, err
	}
	down, err := parseMoney(orZero(req.DownPayment), "down_payment")
	if err != nil {
		return nil, err
	}
	lateFixed, err := parseMoney(orZero(req.LateFeeFixed), "late_fee_fixed")
	if err != nil {
		return nil, err
	}
	latePct, err := parseDecimal(orZero(req.LateFeePercent), "late_fee_percent")
	if err != nil {
		return nil, err
	}

	plan := &billing.FeePlan{
		ID:               billing.PlanID(req.ID),
		Name:             req.Name,
		Code:             req.Code,
		TotalAmount:      total,
		PaymentType:      billing.PaymentType(req.PaymentType),
		InstallmentCount: req.InstallmentCount,
		DownPayment:      down,
		GracePeriodDays:  req.GracePeriodDays,
		LateFeeFixed:     lateFixed,
		LateFeePercent:   latePct,
		IsActive:         req.IsActive,
		IsDefault:        req.IsDefault,
	}
	if req.InstallmentAmount != nil {
		amount, err := parseMoney(*req.InstallmentAmount, "installment_amount")
		if err != nil {
			return nil, err
		}
		plan.InstallmentAmount = &amount
	}
	return plan, nil
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// CreateAssignment assigns a fee plan to a student.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := billing.AssignFeeInput{
		StudentID:    billing.StudentID(req.StudentID),
		CourseID:     billing.CourseID(req.CourseID),
		PlanID:       billing.PlanID(req.PlanID),
		DiscountCode: req.DiscountCode,
	}
	if req.PaymentStartDate != "" {
		start, err := billing.ParseDate(req.PaymentStartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_start_date (use YYYY-MM-DD)", err)
			return
		}
		in.PaymentStartDate = start
	}

	a, err := h.Assigner.AssignFee(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(*a))
}

// GetAssignment returns a single assignment.
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAssignment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(*a))
}

// UpdateAssignment edits status and the unlock-date escape hatch.
func (h *Handler) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAssignment(w, r)
	if !ok {
		return
	}

	var req UpdateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Status != nil {
		switch billing.AssignmentStatus(*req.Status) {
		case billing.AssignmentActive, billing.AssignmentCompleted,
			billing.AssignmentSuspended, billing.AssignmentCancelled:
			a.Status = billing.AssignmentStatus(*req.Status)
		default:
			writeError(w, http.StatusBadRequest, "Unknown assignment status", nil)
			return
		}
	}
	if req.UnlockDate != nil {
		if *req.UnlockDate == "" {
			a.UnlockDate = nil
		} else {
			d, err := billing.ParseDate(*req.UnlockDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid unlock_date (use YYYY-MM-DD)", err)
				return
			}
			a.UnlockDate = &d
		}
	}

	if err := h.Store.UpdateAssignment(r.Context(), a); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(*a))
}

// ListInstallments returns the assignment's schedule.
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAssignment(w, r)
	if !ok {
		return
	}

	rows, err := h.Store.ListInstallments(r.Context(), a.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(rows))
}

// ListPayments returns the assignment's payment history.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAssignment(w, r)
	if !ok {
		return
	}

	recs, err := h.Store.ListPayments(r.Context(), a.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toPaymentDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegenerateSchedule rebuilds the assignment's installment rows.
func (h *Handler) RegenerateSchedule(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAssignment(w, r)
	if !ok {
		return
	}

	scheduler := &billing.InstallmentScheduler{Store: h.Store}
	rows, err := scheduler.Generate(r.Context(), a.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(rows))
}

func (h *Handler) loadAssignment(w http.ResponseWriter, r *http.Request) (*billing.FeeAssignment, bool) {
	id := billing.AssignmentID(chi.URLParam(r, "id"))
	a, err := h.Store.GetAssignment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get assignment", err)
		return nil, false
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Assignment not found", nil)
		return nil, false
	}
	return a, true
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment records a payment against an assignment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseMoney(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	in := billing.RecordPaymentInput{
		AssignmentID:  billing.AssignmentID(req.AssignmentID),
		Amount:        amount,
		Method:        billing.PaymentMethod(req.Method),
		TransactionID: req.TransactionID,
		Status:        billing.PaymentStatus(req.Status),
		RecordedBy:    req.RecordedBy,
	}
	if req.InstallmentID != "" {
		id := billing.InstallmentID(req.InstallmentID)
		in.InstallmentID = &id
	}
	if req.Date != "" {
		d, err := billing.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		in.Date = d
	}

	rec, err := h.Ledger.RecordPayment(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*rec))
}

// =============================================================================
// DISCOUNT HANDLERS
// =============================================================================

// ListDiscounts returns all discounts.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := h.Store.ListDiscounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list discounts", err)
		return
	}
	dtos := make([]DiscountDTO, len(discounts))
	for i, d := range discounts {
		dtos[i] = toDiscountDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveDiscount creates or updates a discount.
func (h *Handler) SaveDiscount(w http.ResponseWriter, r *http.Request) {
	var req SaveDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d, err := discountFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid discount", err)
		return
	}

	if err := h.Store.SaveDiscount(r.Context(), d); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDiscountDTO(*d))
}

func discountFromRequest(req SaveDiscountRequest) (*billing.FeeDiscount, error) {
	value, err := parseDecimal(req.Value, "value")
	if err != nil {
		return nil, err
	}
	minimum, err := parseMoney(orZero(req.MinimumAmount), "minimum_amount")
	if err != nil {
		return nil, err
	}
	from, err := billing.ParseDate(req.ValidFrom)
	if err != nil {
		return nil, &billing.ValidationError{Field: "valid_from", Message: "use YYYY-MM-DD"}
	}
	until, err := billing.ParseDate(req.ValidUntil)
	if err != nil {
		return nil, &billing.ValidationError{Field: "valid_until", Message: "use YYYY-MM-DD"}
	}

	d := &billing.FeeDiscount{
		ID:            billing.DiscountID(req.ID),
		Code:          req.Code,
		Name:          req.Name,
		Type:          billing.DiscountType(req.Type),
		Value:         value,
		MinimumAmount: minimum,
		ValidFrom:     from,
		ValidUntil:    until,
		UsageLimit:    req.UsageLimit,
		IsActive:      req.IsActive,
	}
	if req.MaxDiscountAmount != nil {
		m, err := parseMoney(*req.MaxDiscountAmount, "max_discount_amount")
		if err != nil {
			return nil, err
		}
		d.MaxDiscountAmount = &m
	}
	for _, c := range req.ApplicableCourses {
		d.ApplicableCourses = append(d.ApplicableCourses, billing.CourseID(c))
	}
	switch d.Type {
	case billing.DiscountPercentage, billing.DiscountFixed:
	default:
		return nil, &billing.ValidationError{Field: "type", Message: "unknown discount type"}
	}
	return d, nil
}

// =============================================================================
// ACCESS HANDLERS
// =============================================================================

// GetAccessDecision answers: may this student access this batch right now?
func (h *Handler) GetAccessDecision(w http.ResponseWriter, r *http.Request) {
	studentID := billing.StudentID(chi.URLParam(r, "studentID"))
	batchID := billing.BatchID(chi.URLParam(r, "batchID"))

	decision, err := h.Gate.Decide(r.Context(), studentID, batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to decide access", err)
		return
	}
	writeJSON(w, http.StatusOK, AccessDecisionDTO{
		StudentID: string(studentID),
		BatchID:   string(batchID),
		Locked:    decision.Locked,
		Reason:    string(decision.Reason),
	})
}

// SaveAccessControl upserts an admin override row.
func (h *Handler) SaveAccessControl(w http.ResponseWriter, r *http.Request) {
	var req SaveAccessControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StudentID == "" || req.BatchID == "" {
		writeError(w, http.StatusBadRequest, "student_id and batch_id are required", nil)
		return
	}
	switch billing.AccessType(req.AccessType) {
	case billing.AccessLocked, billing.AccessUnlocked, billing.AccessRestricted:
	default:
		writeError(w, http.StatusBadRequest, "Unknown access_type", nil)
		return
	}

	ac := &billing.BatchAccessControl{
		StudentID:      billing.StudentID(req.StudentID),
		BatchID:        billing.BatchID(req.BatchID),
		AccessType:     billing.AccessType(req.AccessType),
		Reason:         req.Reason,
		OverrideAccess: req.OverrideAccess,
	}
	for _, f := range []struct {
		raw  *string
		dst  **billing.Date
		name string
	}{
		{req.EffectiveFrom, &ac.EffectiveFrom, "effective_from"},
		{req.EffectiveUntil, &ac.EffectiveUntil, "effective_until"},
		{req.OverrideUntil, &ac.OverrideUntil, "override_until"},
	} {
		if f.raw == nil || *f.raw == "" {
			continue
		}
		d, err := billing.ParseDate(*f.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+f.name+" (use YYYY-MM-DD)", err)
			return
		}
		*f.dst = &d
	}

	if err := h.Store.SaveAccessControl(r.Context(), ac); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// DeleteAccessControl removes an admin override row.
func (h *Handler) DeleteAccessControl(w http.ResponseWriter, r *http.Request) {
	studentID := billing.StudentID(chi.URLParam(r, "studentID"))
	batchID := billing.BatchID(chi.URLParam(r, "batchID"))

	if err := h.Store.DeleteAccessControl(r.Context(), studentID, batchID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete access control", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunDailyTasks triggers the daily maintenance cycle.
func (h *Handler) RunDailyTasks(w http.ResponseWriter, r *http.Request) {
	var req RunDailyTasksRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	date := billing.Today()
	if req.Date != "" {
		d, err := billing.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		date = d
	}

	logRow, err := h.Runner.Run(r.Context(), date, req.Force)
	if err != nil && logRow == nil {
		writeDomainError(w, err)
		return
	}
	// A failed run still returns its audit row; clients inspect status.
	writeJSON(w, http.StatusOK, toDailyTaskDTO(*logRow))
}

// ListDailyTasks returns the recent daily run log.
func (h *Handler) ListDailyTasks(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListDailyTasks(r.Context(), 30)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list daily tasks", err)
		return
	}
	dtos := make([]DailyTaskDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toDailyTaskDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseMoney(s, field string) (billing.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return billing.ZeroMoney(), &billing.ValidationError{Field: field, Message: "must be a decimal number"}
	}
	return billing.Money{Value: d}, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &billing.ValidationError{Field: field, Message: "must be a decimal number"}
	}
	return d, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the billing error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, billing.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, billing.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, billing.ErrState):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
