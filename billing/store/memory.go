/*
Package store provides an in-memory billing.Store for tests and dev.

The memory store implements the same compare-and-set contracts as the
SQLite store (lock flag, late-fee flag, reminder dedup, discount usage
limit, daily-task claim) under a single mutex, so runner and ledger tests
exercise real concurrency semantics without a database. It also
implements billing.CatalogReader; tests seed enrollments and batches with
the Set* helpers.
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/fee-engine/billing"
)

type studentCourse struct {
	Student billing.StudentID
	Course  billing.CourseID
}

type studentBatch struct {
	Student billing.StudentID
	Batch   billing.BatchID
}

type reminderKey struct {
	Installment billing.InstallmentID
	Date        string
}

type discountUse struct {
	Discount   billing.DiscountID
	Assignment billing.AssignmentID
}

// Memory is an in-memory implementation of billing.Store and
// billing.CatalogReader.
type Memory struct {
	mu sync.RWMutex

	plans        map[billing.PlanID]billing.FeePlan
	assignments  map[billing.AssignmentID]billing.FeeAssignment
	byPair       map[studentCourse]billing.AssignmentID
	installments map[billing.InstallmentID]billing.Installment
	payments     []billing.PaymentRecord
	access       map[studentBatch]billing.BatchAccessControl
	discounts    map[billing.DiscountID]billing.FeeDiscount
	usages       map[discountUse]billing.DiscountUsage
	tasks        map[string]billing.DailyTaskLog // keyed by date string
	reminders    map[reminderKey]bool

	enrollments map[studentBatch]billing.EnrollmentRef
	batches     map[billing.BatchID]billing.BatchRef
}

func NewMemory() *Memory {
	return &Memory{
		plans:        make(map[billing.PlanID]billing.FeePlan),
		assignments:  make(map[billing.AssignmentID]billing.FeeAssignment),
		byPair:       make(map[studentCourse]billing.AssignmentID),
		installments: make(map[billing.InstallmentID]billing.Installment),
		access:       make(map[studentBatch]billing.BatchAccessControl),
		discounts:    make(map[billing.DiscountID]billing.FeeDiscount),
		usages:       make(map[discountUse]billing.DiscountUsage),
		tasks:        make(map[string]billing.DailyTaskLog),
		reminders:    make(map[reminderKey]bool),
		enrollments:  make(map[studentBatch]billing.EnrollmentRef),
		batches:      make(map[billing.BatchID]billing.BatchRef),
	}
}

var (
	_ billing.Store         = (*Memory)(nil)
	_ billing.CatalogReader = (*Memory)(nil)
)

// =============================================================================
// PLANS
// =============================================================================

func (m *Memory) SavePlan(_ context.Context, plan *billing.FeePlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if plan.ID == "" {
		plan.ID = billing.PlanID(uuid.NewString())
	}
	if plan.IsDefault {
		for id, p := range m.plans {
			if id != plan.ID && p.IsDefault {
				p.IsDefault = false
				m.plans[id] = p
			}
		}
	}
	m.plans[plan.ID] = *plan
	return nil
}

func (m *Memory) GetPlan(_ context.Context, id billing.PlanID) (*billing.FeePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.plans[id]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) GetPlanByCode(_ context.Context, code string) (*billing.FeePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plans {
		if p.Code == code {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetDefaultPlan(_ context.Context) (*billing.FeePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plans {
		if p.IsDefault {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListPlans(_ context.Context) ([]billing.FeePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.FeePlan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (m *Memory) CreateAssignment(_ context.Context, a *billing.FeeAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair := studentCourse{a.StudentID, a.CourseID}
	if _, exists := m.byPair[pair]; exists {
		return billing.ErrDuplicateAssignment
	}
	if a.ID == "" {
		a.ID = billing.AssignmentID(uuid.NewString())
	}
	m.assignments[a.ID] = *a
	m.byPair[pair] = a.ID
	return nil
}

func (m *Memory) GetAssignment(_ context.Context, id billing.AssignmentID) (*billing.FeeAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.assignments[id]; ok {
		cp := a
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) GetAssignmentByStudentCourse(_ context.Context, studentID billing.StudentID, courseID billing.CourseID) (*billing.FeeAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.byPair[studentCourse{studentID, courseID}]; ok {
		a := m.assignments[id]
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) UpdateAssignment(_ context.Context, a *billing.FeeAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.assignments[a.ID]
	if !ok {
		return billing.ErrAssignmentNotFound
	}
	// Balance fields are owned by ApplyCompletedPayment.
	cur.Status = a.Status
	cur.UnlockDate = a.UnlockDate
	cur.PaymentStartDate = a.PaymentStartDate
	cur.PaymentEndDate = a.PaymentEndDate
	cur.UpdatedAt = time.Now().UTC()
	m.assignments[a.ID] = cur
	return nil
}

func (m *Memory) ListAssignmentsForLockSweep(_ context.Context) ([]billing.FeeAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.FeeAssignment
	for _, a := range m.assignments {
		if a.Status == billing.AssignmentActive && !a.IsCourseLocked {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) ListLockedAssignments(_ context.Context) ([]billing.FeeAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.FeeAssignment
	for _, a := range m.assignments {
		if a.IsCourseLocked {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) LockAssignment(_ context.Context, id billing.AssignmentID, lockedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return false, billing.ErrAssignmentNotFound
	}
	if a.IsCourseLocked {
		return false, nil
	}
	a.IsCourseLocked = true
	a.LockedAt = &lockedAt
	a.UpdatedAt = time.Now().UTC()
	m.assignments[id] = a
	return true, nil
}

func (m *Memory) UnlockAssignment(_ context.Context, id billing.AssignmentID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return false, billing.ErrAssignmentNotFound
	}
	if !a.IsCourseLocked {
		return false, nil
	}
	a.IsCourseLocked = false
	a.LockedAt = nil
	a.UpdatedAt = time.Now().UTC()
	m.assignments[id] = a
	return true, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (m *Memory) ReplaceInstallments(_ context.Context, assignmentID billing.AssignmentID, rows []billing.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, inst := range m.installments {
		if inst.AssignmentID == assignmentID {
			delete(m.installments, id)
		}
	}
	for _, row := range rows {
		m.installments[row.ID] = row
	}
	return nil
}

func (m *Memory) ListInstallments(_ context.Context, assignmentID billing.AssignmentID) ([]billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Installment
	for _, inst := range m.installments {
		if inst.AssignmentID == assignmentID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Memory) GetInstallment(_ context.Context, id billing.InstallmentID) (*billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if inst, ok := m.installments[id]; ok {
		cp := inst
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) MarkOverdueInstallments(_ context.Context, today billing.Date) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, inst := range m.installments {
		if inst.Status == billing.InstallmentPending && inst.IsOverdue(today) {
			inst.Status = billing.InstallmentOverdue
			inst.UpdatedAt = time.Now().UTC()
			m.installments[id] = inst
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListOverdueWithoutLateFee(_ context.Context) ([]billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Installment
	for _, inst := range m.installments {
		if inst.Status == billing.InstallmentOverdue && !inst.LateFeeApplied {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *Memory) ListDueInstallments(_ context.Context, today billing.Date, lookaheadDays int) ([]billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	horizon := today.AddDays(lookaheadDays)
	var out []billing.Installment
	for _, inst := range m.installments {
		if inst.Status == billing.InstallmentPaid || inst.Status == billing.InstallmentWaived {
			continue
		}
		if inst.DueDate.BeforeOrEqual(horizon) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *Memory) ApplyLateFee(_ context.Context, id billing.InstallmentID, fee billing.Money) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.installments[id]
	if !ok {
		return false, billing.ErrInstallmentNotFound
	}
	if inst.LateFeeApplied {
		return false, nil
	}
	inst.Amount = inst.Amount.Add(fee)
	inst.LateFeeApplied = true
	inst.UpdatedAt = time.Now().UTC()
	m.installments[id] = inst
	return true, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) InsertPaymentRecord(_ context.Context, rec *billing.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, *rec)
	return nil
}

func (m *Memory) ApplyCompletedPayment(_ context.Context, rec *billing.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[rec.AssignmentID]
	if !ok {
		return billing.ErrAssignmentNotFound
	}

	if rec.InstallmentID != nil {
		inst, ok := m.installments[*rec.InstallmentID]
		if !ok {
			return billing.ErrInstallmentNotFound
		}
		if inst.AssignmentID != a.ID {
			return billing.ErrInstallmentMismatch
		}
		inst.AmountPaid = inst.AmountPaid.Add(rec.Amount)
		inst.Status = billing.InstallmentPaid
		d := rec.Date
		inst.PaidDate = &d
		inst.UpdatedAt = time.Now().UTC()
		m.installments[inst.ID] = inst
	}

	a.AmountPaid = a.AmountPaid.Add(rec.Amount)
	a.Recalculate()
	if a.IsSettled() && a.Status == billing.AssignmentActive {
		a.Status = billing.AssignmentCompleted
	}
	a.UpdatedAt = time.Now().UTC()
	m.assignments[a.ID] = a

	m.payments = append(m.payments, *rec)
	return nil
}

func (m *Memory) ListPayments(_ context.Context, assignmentID billing.AssignmentID) ([]billing.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.PaymentRecord
	for _, rec := range m.payments {
		if rec.AssignmentID == assignmentID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// ACCESS CONTROLS
// =============================================================================

func (m *Memory) SaveAccessControl(_ context.Context, ac *billing.BatchAccessControl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ac.ID == "" {
		ac.ID = uuid.NewString()
	}
	m.access[studentBatch{ac.StudentID, ac.BatchID}] = *ac
	return nil
}

func (m *Memory) GetAccessControl(_ context.Context, studentID billing.StudentID, batchID billing.BatchID) (*billing.BatchAccessControl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ac, ok := m.access[studentBatch{studentID, batchID}]; ok {
		cp := ac
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) DeleteAccessControl(_ context.Context, studentID billing.StudentID, batchID billing.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.access, studentBatch{studentID, batchID})
	return nil
}

// =============================================================================
// DISCOUNTS
// =============================================================================

func (m *Memory) SaveDiscount(_ context.Context, d *billing.FeeDiscount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = billing.DiscountID(uuid.NewString())
	}
	m.discounts[d.ID] = *d
	return nil
}

func (m *Memory) GetDiscount(_ context.Context, id billing.DiscountID) (*billing.FeeDiscount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.discounts[id]; ok {
		cp := d
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) GetDiscountByCode(_ context.Context, code string) (*billing.FeeDiscount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.discounts {
		if d.Code == code {
			cp := d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListDiscounts(_ context.Context) ([]billing.FeeDiscount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.FeeDiscount, 0, len(m.discounts))
	for _, d := range m.discounts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) RecordDiscountUsage(_ context.Context, usage *billing.DiscountUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.discounts[usage.DiscountID]
	if !ok {
		return billing.ErrDiscountNotFound
	}
	use := discountUse{usage.DiscountID, usage.AssignmentID}
	if _, exists := m.usages[use]; exists {
		return billing.ErrDiscountAlreadyUsed
	}
	if d.UsageLimit != nil && d.UsedCount >= *d.UsageLimit {
		return billing.ErrDiscountExhausted
	}
	d.UsedCount++
	m.discounts[d.ID] = d
	m.usages[use] = *usage
	return nil
}

// =============================================================================
// DAILY TASKS
// =============================================================================

func (m *Memory) ClaimDailyTask(_ context.Context, date billing.Date, force bool) (*billing.DailyTaskLog, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := date.String()

	row, exists := m.tasks[key]
	if !exists {
		row = billing.DailyTaskLog{
			ID:        uuid.NewString(),
			Date:      date,
			Status:    billing.TaskRunning,
			StartedAt: &now,
			CreatedAt: now,
		}
		m.tasks[key] = row
		cp := row
		return &cp, true, nil
	}

	switch row.Status {
	case billing.TaskCompleted:
		if !force {
			cp := row
			return &cp, false, nil
		}
	case billing.TaskRunning:
		return nil, false, billing.ErrTaskAlreadyRunning
	}

	row.Status = billing.TaskRunning
	row.StartedAt = &now
	row.CompletedAt = nil
	row.ErrorMessage = ""
	m.tasks[key] = row
	cp := row
	return &cp, true, nil
}

func (m *Memory) SaveDailyTask(_ context.Context, logRow *billing.DailyTaskLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[logRow.Date.String()] = *logRow
	return nil
}

func (m *Memory) GetDailyTask(_ context.Context, date billing.Date) (*billing.DailyTaskLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.tasks[date.String()]; ok {
		cp := row
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) ListDailyTasks(_ context.Context, limit int) ([]billing.DailyTaskLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.DailyTaskLog, 0, len(m.tasks))
	for _, row := range m.tasks {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkReminderSent(_ context.Context, id billing.InstallmentID, date billing.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := reminderKey{id, date.String()}
	if m.reminders[key] {
		return false, nil
	}
	m.reminders[key] = true
	return true, nil
}

// =============================================================================
// CATALOG (billing.CatalogReader)
// =============================================================================

func (m *Memory) Enrollment(_ context.Context, studentID billing.StudentID, batchID billing.BatchID) (*billing.EnrollmentRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.enrollments[studentBatch{studentID, batchID}]; ok {
		cp := e
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) Batch(_ context.Context, batchID billing.BatchID) (*billing.BatchRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.batches[batchID]; ok {
		cp := b
		return &cp, nil
	}
	return nil, nil
}

// SetEnrollment seeds a catalog enrollment (tests/dev).
func (m *Memory) SetEnrollment(e billing.EnrollmentRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[studentBatch{e.StudentID, e.BatchID}] = e
}

// SetBatch seeds a catalog batch (tests/dev).
func (m *Memory) SetBatch(b billing.BatchRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = b
}
