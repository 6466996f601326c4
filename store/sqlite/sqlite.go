/*
Package sqlite provides the SQLite-backed implementation of billing.Store.

PURPOSE:
  Implements every persistence interface the billing engine needs
  (plans, assignments, installments, payments, access rows, discounts,
  daily task log) plus billing.CatalogReader. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  fee_plans:             Reusable fee templates (unique code, one default)
  fee_assignments:       Per (student, course) plan instances with balances
  installments:          Schedule rows, unique per (assignment, number)
  payment_records:       Immutable payment history
  batch_access_controls: Admin overrides, unique per (student, batch)
  fee_discounts:         Discount templates + usage counters
  discount_usages:       One row per (discount, assignment) application
  daily_task_logs:       One row per date - the daily run's idempotency guard
  reminder_log:          One row per (installment, date) - reminder dedup
  students/courses/batches/enrollments: The read-side catalog

COMPARE-AND-SET:
  The (bool, error) methods are implemented as single UPDATE statements
  guarded by the flag they set (is_course_locked, late_fee_applied) or as
  INSERTs against a unique index (reminder_log, discount_usages). The
  bool is derived from RowsAffected, so a duplicate daily run observes
  "already done" instead of applying twice.

MONEY AND DATES:
  Monetary amounts are stored as decimal strings (TEXT), never REAL.
  Calendar dates are stored as 2006-01-02 TEXT; timestamps as RFC3339.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode. The mutex
  serializes balance mutations (ApplyCompletedPayment), which lets the
  read-modify-write on decimal text columns stay exact.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions and atomicity contract
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/fee-engine/billing"
)

// Store implements billing.Store and billing.CatalogReader using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ billing.Store         = (*Store)(nil)
	_ billing.CatalogReader = (*Store)(nil)
)

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Fee plans (templates)
	CREATE TABLE IF NOT EXISTS fee_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		total_amount TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		installment_count INTEGER,
		installment_amount TEXT,
		down_payment TEXT NOT NULL,
		grace_period_days INTEGER NOT NULL DEFAULT 0,
		late_fee_fixed TEXT NOT NULL,
		late_fee_percent TEXT NOT NULL,
		early_payment_discount_percent TEXT NOT NULL,
		bulk_discount_percent TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Fee assignments (one per student per course)
	CREATE TABLE IF NOT EXISTS fee_assignments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		amount_pending TEXT NOT NULL,
		assigned_date TEXT NOT NULL,
		payment_start_date TEXT NOT NULL,
		payment_end_date TEXT NOT NULL,
		status TEXT NOT NULL,
		is_course_locked BOOLEAN NOT NULL DEFAULT FALSE,
		locked_at TEXT,
		unlock_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_student_course
		ON fee_assignments(student_id, course_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_status
		ON fee_assignments(status);
	-- Lock sweep scans Active, unlocked assignments (hot path for the daily run)
	CREATE INDEX IF NOT EXISTS idx_assignments_lock_sweep
		ON fee_assignments(status, is_course_locked);

	-- Installment schedule rows
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		due_date TEXT NOT NULL,
		paid_date TEXT,
		status TEXT NOT NULL,
		late_fee_applied BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_installments_assignment_number
		ON installments(assignment_id, number);
	CREATE INDEX IF NOT EXISTS idx_installments_due
		ON installments(status, due_date);
	CREATE INDEX IF NOT EXISTS idx_installments_late_fee
		ON installments(status, late_fee_applied);

	-- Payment records (append-only history)
	CREATE TABLE IF NOT EXISTS payment_records (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		installment_id TEXT,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		date TEXT NOT NULL,
		transaction_id TEXT,
		status TEXT NOT NULL,
		recorded_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_assignment
		ON payment_records(assignment_id, created_at DESC);

	-- Admin access overrides
	CREATE TABLE IF NOT EXISTS batch_access_controls (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		access_type TEXT NOT NULL,
		reason TEXT,
		effective_from TEXT,
		effective_until TEXT,
		override_access BOOLEAN NOT NULL DEFAULT FALSE,
		override_until TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_access_student_batch
		ON batch_access_controls(student_id, batch_id);

	-- Discounts
	CREATE TABLE IF NOT EXISTS fee_discounts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		max_discount_amount TEXT,
		minimum_amount TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_until TEXT NOT NULL,
		usage_limit INTEGER,
		used_count INTEGER NOT NULL DEFAULT 0,
		applicable_courses TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS discount_usages (
		id TEXT PRIMARY KEY,
		discount_id TEXT NOT NULL,
		assignment_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		used_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_discount_usage_unique
		ON discount_usages(discount_id, assignment_id);

	-- Daily task log (one row per calendar date)
	CREATE TABLE IF NOT EXISTS daily_task_logs (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		courses_locked INTEGER NOT NULL DEFAULT 0,
		courses_unlocked INTEGER NOT NULL DEFAULT 0,
		late_fees_applied INTEGER NOT NULL DEFAULT 0,
		reminders_sent INTEGER NOT NULL DEFAULT 0,
		total_overdue_amount TEXT NOT NULL DEFAULT '0',
		error_message TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Reminder dedup: at most one reminder per installment per day
	CREATE TABLE IF NOT EXISTS reminder_log (
		installment_id TEXT NOT NULL,
		date TEXT NOT NULL,
		sent_at TEXT NOT NULL,
		PRIMARY KEY (installment_id, date)
	);

	-- Catalog (read side for the access gate)
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		name TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		student_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (student_id, batch_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PLAN STORE
// =============================================================================

const planColumns = `id, name, code, total_amount, payment_type, installment_count,
	installment_amount, down_payment, grace_period_days, late_fee_fixed,
	late_fee_percent, early_payment_discount_percent, bulk_discount_percent,
	is_active, is_default, created_at, updated_at`

// SavePlan upserts a plan. Clearing other defaults and writing the row
// happen in one transaction.
func (s *Store) SavePlan(ctx context.Context, plan *billing.FeePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.ID == "" {
		plan.ID = billing.PlanID(uuid.NewString())
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if plan.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE fee_plans SET is_default = FALSE WHERE id != ?`, plan.ID); err != nil {
			return fmt.Errorf("failed to clear default plans: %w", err)
		}
	}

	query := `
		INSERT INTO fee_plans (` + planColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			total_amount = excluded.total_amount,
			payment_type = excluded.payment_type,
			installment_count = excluded.installment_count,
			installment_amount = excluded.installment_amount,
			down_payment = excluded.down_payment,
			grace_period_days = excluded.grace_period_days,
			late_fee_fixed = excluded.late_fee_fixed,
			late_fee_percent = excluded.late_fee_percent,
			early_payment_discount_percent = excluded.early_payment_discount_percent,
			bulk_discount_percent = excluded.bulk_discount_percent,
			is_active = excluded.is_active,
			is_default = excluded.is_default,
			updated_at = excluded.updated_at
	`

	var count sql.NullInt64
	if plan.InstallmentCount != nil {
		count = sql.NullInt64{Int64: int64(*plan.InstallmentCount), Valid: true}
	}
	var amount sql.NullString
	if plan.InstallmentAmount != nil {
		amount = sql.NullString{String: plan.InstallmentAmount.Value.String(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, query,
		plan.ID, plan.Name, plan.Code,
		plan.TotalAmount.Value.String(), plan.PaymentType,
		count, amount,
		plan.DownPayment.Value.String(), plan.GracePeriodDays,
		plan.LateFeeFixed.Value.String(), plan.LateFeePercent.String(),
		plan.EarlyPaymentDiscountPercent.String(), plan.BulkDiscountPercent.String(),
		plan.IsActive, plan.IsDefault,
		plan.CreatedAt.Format(time.RFC3339), plan.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("plan code %q already in use: %w", plan.Code, billing.ErrConflict)
		}
		return fmt.Errorf("failed to save plan: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetPlan(ctx context.Context, id billing.PlanID) (*billing.FeePlan, error) {
	return s.getPlanWhere(ctx, "id = ?", string(id))
}

func (s *Store) GetPlanByCode(ctx context.Context, code string) (*billing.FeePlan, error) {
	return s.getPlanWhere(ctx, "code = ?", code)
}

func (s *Store) GetDefaultPlan(ctx context.Context) (*billing.FeePlan, error) {
	return s.getPlanWhere(ctx, "is_default = TRUE", nil)
}

func (s *Store) getPlanWhere(ctx context.Context, where string, arg any) (*billing.FeePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + planColumns + ` FROM fee_plans WHERE ` + where
	var args []any
	if arg != nil {
		args = append(args, arg)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	plan, err := scanPlan(rows)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]billing.FeePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM fee_plans ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []billing.FeePlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func scanPlan(rows *sql.Rows) (billing.FeePlan, error) {
	var (
		plan             billing.FeePlan
		total, down      string
		lateFixed        string
		latePct          string
		earlyPct         string
		bulkPct          string
		count            sql.NullInt64
		amount           sql.NullString
		created, updated string
	)

	err := rows.Scan(
		&plan.ID, &plan.Name, &plan.Code, &total, &plan.PaymentType,
		&count, &amount, &down, &plan.GracePeriodDays,
		&lateFixed, &latePct, &earlyPct, &bulkPct,
		&plan.IsActive, &plan.IsDefault, &created, &updated,
	)
	if err != nil {
		return plan, fmt.Errorf("failed to scan plan: %w", err)
	}

	plan.TotalAmount = billing.MustParseMoney(total)
	plan.DownPayment = billing.MustParseMoney(down)
	plan.LateFeeFixed = billing.MustParseMoney(lateFixed)
	plan.LateFeePercent = billing.MustParseMoney(latePct).Value
	plan.EarlyPaymentDiscountPercent = billing.MustParseMoney(earlyPct).Value
	plan.BulkDiscountPercent = billing.MustParseMoney(bulkPct).Value
	if count.Valid {
		n := int(count.Int64)
		plan.InstallmentCount = &n
	}
	if amount.Valid {
		m := billing.MustParseMoney(amount.String)
		plan.InstallmentAmount = &m
	}
	plan.CreatedAt = parseTime(created)
	plan.UpdatedAt = parseTime(updated)
	return plan, nil
}

// =============================================================================
// ASSIGNMENT STORE
// =============================================================================

const assignmentColumns = `id, student_id, course_id, plan_id, total_amount,
	amount_paid, amount_pending, assigned_date, payment_start_date,
	payment_end_date, status, is_course_locked, locked_at, unlock_date,
	created_at, updated_at`

func (s *Store) CreateAssignment(ctx context.Context, a *billing.FeeAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = billing.AssignmentID(uuid.NewString())
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
		INSERT INTO fee_assignments (` + assignmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.StudentID, a.CourseID, a.PlanID,
		a.TotalAmount.Value.String(), a.AmountPaid.Value.String(), a.AmountPending.Value.String(),
		a.AssignedDate.String(), a.PaymentStartDate.String(), a.PaymentEndDate.String(),
		a.Status, a.IsCourseLocked, nullTime(a.LockedAt), nullDate(a.UnlockDate),
		a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateAssignment
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id billing.AssignmentID) (*billing.FeeAssignment, error) {
	return s.getAssignmentWhere(ctx, "id = ?", string(id))
}

func (s *Store) GetAssignmentByStudentCourse(ctx context.Context, studentID billing.StudentID, courseID billing.CourseID) (*billing.FeeAssignment, error) {
	return s.getAssignmentWhere(ctx, "student_id = ? AND course_id = ?", string(studentID), string(courseID))
}

func (s *Store) getAssignmentWhere(ctx context.Context, where string, args ...any) (*billing.FeeAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM fee_assignments WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	a, err := scanAssignment(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAssignment persists status and unlock-date edits. Balance columns
// are owned by ApplyCompletedPayment and deliberately not written here.
func (s *Store) UpdateAssignment(ctx context.Context, a *billing.FeeAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE fee_assignments
		SET status = ?, unlock_date = ?, payment_start_date = ?,
		    payment_end_date = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		a.Status, nullDate(a.UnlockDate),
		a.PaymentStartDate.String(), a.PaymentEndDate.String(),
		time.Now().UTC().Format(time.RFC3339), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return billing.ErrAssignmentNotFound
	}
	return nil
}

func (s *Store) ListAssignmentsForLockSweep(ctx context.Context) ([]billing.FeeAssignment, error) {
	return s.listAssignmentsWhere(ctx,
		"status = ? AND is_course_locked = FALSE", string(billing.AssignmentActive))
}

func (s *Store) ListLockedAssignments(ctx context.Context) ([]billing.FeeAssignment, error) {
	return s.listAssignmentsWhere(ctx, "is_course_locked = TRUE")
}

func (s *Store) listAssignmentsWhere(ctx context.Context, where string, args ...any) ([]billing.FeeAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM fee_assignments WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []billing.FeeAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LockAssignment is a compare-and-set on is_course_locked = FALSE.
func (s *Store) LockAssignment(ctx context.Context, id billing.AssignmentID, lockedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE fee_assignments
		SET is_course_locked = TRUE, locked_at = ?, updated_at = ?
		WHERE id = ? AND is_course_locked = FALSE
	`, lockedAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("failed to lock assignment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UnlockAssignment is a compare-and-set on is_course_locked = TRUE.
func (s *Store) UnlockAssignment(ctx context.Context, id billing.AssignmentID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE fee_assignments
		SET is_course_locked = FALSE, locked_at = NULL, updated_at = ?
		WHERE id = ? AND is_course_locked = TRUE
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("failed to unlock assignment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanAssignment(rows *sql.Rows) (billing.FeeAssignment, error) {
	var (
		a                    billing.FeeAssignment
		total, paid, pending string
		assigned, start, end string
		lockedAt, unlockDate sql.NullString
		created, updated     string
	)

	err := rows.Scan(
		&a.ID, &a.StudentID, &a.CourseID, &a.PlanID,
		&total, &paid, &pending,
		&assigned, &start, &end,
		&a.Status, &a.IsCourseLocked, &lockedAt, &unlockDate,
		&created, &updated,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan assignment: %w", err)
	}

	a.TotalAmount = billing.MustParseMoney(total)
	a.AmountPaid = billing.MustParseMoney(paid)
	a.AmountPending = billing.MustParseMoney(pending)
	a.AssignedDate = mustParseDate(assigned)
	a.PaymentStartDate = mustParseDate(start)
	a.PaymentEndDate = mustParseDate(end)
	if lockedAt.Valid {
		t := parseTime(lockedAt.String)
		a.LockedAt = &t
	}
	if unlockDate.Valid {
		d := mustParseDate(unlockDate.String)
		a.UnlockDate = &d
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

// =============================================================================
// INSTALLMENT STORE
// =============================================================================

const installmentColumns = `id, assignment_id, number, type, amount, amount_paid,
	due_date, paid_date, status, late_fee_applied, created_at, updated_at`

// ReplaceInstallments swaps the assignment's schedule in one transaction.
func (s *Store) ReplaceInstallments(ctx context.Context, assignmentID billing.AssignmentID, rows []billing.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM installments WHERE assignment_id = ?`, assignmentID); err != nil {
		return fmt.Errorf("failed to clear installments: %w", err)
	}

	query := `
		INSERT INTO installments (` + installmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, row := range rows {
		_, err := tx.ExecContext(ctx, query,
			row.ID, row.AssignmentID, row.Number, row.Type,
			row.Amount.Value.String(), row.AmountPaid.Value.String(),
			row.DueDate.String(), nullDate(row.PaidDate),
			row.Status, row.LateFeeApplied,
			row.CreatedAt.Format(time.RFC3339), row.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", row.Number, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListInstallments(ctx context.Context, assignmentID billing.AssignmentID) ([]billing.Installment, error) {
	return s.listInstallmentsWhere(ctx,
		"assignment_id = ? ORDER BY number ASC", string(assignmentID))
}

func (s *Store) GetInstallment(ctx context.Context, id billing.InstallmentID) (*billing.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getInstallmentLocked(ctx, id)
}

func (s *Store) MarkOverdueInstallments(ctx context.Context, today billing.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE installments
		SET status = ?, updated_at = ?
		WHERE status = ? AND due_date < ?
	`, billing.InstallmentOverdue, time.Now().UTC().Format(time.RFC3339),
		billing.InstallmentPending, today.String())
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue installments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) ListOverdueWithoutLateFee(ctx context.Context) ([]billing.Installment, error) {
	return s.listInstallmentsWhere(ctx,
		"status = ? AND late_fee_applied = FALSE", string(billing.InstallmentOverdue))
}

func (s *Store) ListDueInstallments(ctx context.Context, today billing.Date, lookaheadDays int) ([]billing.Installment, error) {
	horizon := today.AddDays(lookaheadDays)
	return s.listInstallmentsWhere(ctx,
		"status NOT IN (?, ?) AND due_date <= ?",
		string(billing.InstallmentPaid), string(billing.InstallmentWaived), horizon.String())
}

func (s *Store) listInstallmentsWhere(ctx context.Context, where string, args ...any) ([]billing.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	defer rows.Close()

	var out []billing.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ApplyLateFee is a compare-and-set on late_fee_applied = FALSE. The fee
// is added to the amount under the same guard, so a duplicate sweep can
// never charge twice.
func (s *Store) ApplyLateFee(ctx context.Context, id billing.InstallmentID, fee billing.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, err := s.getInstallmentLocked(ctx, id)
	if err != nil {
		return false, err
	}
	if inst == nil {
		return false, billing.ErrInstallmentNotFound
	}

	newAmount := inst.Amount.Add(fee)
	res, err := s.db.ExecContext(ctx, `
		UPDATE installments
		SET amount = ?, late_fee_applied = TRUE, updated_at = ?
		WHERE id = ? AND late_fee_applied = FALSE
	`, newAmount.Value.String(), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("failed to apply late fee: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) getInstallmentLocked(ctx context.Context, id billing.InstallmentID) (*billing.Installment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query installment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	inst, err := scanInstallment(rows)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func scanInstallment(rows *sql.Rows) (billing.Installment, error) {
	var (
		inst             billing.Installment
		amount, paid     string
		due              string
		paidDate         sql.NullString
		created, updated string
	)

	err := rows.Scan(
		&inst.ID, &inst.AssignmentID, &inst.Number, &inst.Type,
		&amount, &paid, &due, &paidDate,
		&inst.Status, &inst.LateFeeApplied, &created, &updated,
	)
	if err != nil {
		return inst, fmt.Errorf("failed to scan installment: %w", err)
	}

	inst.Amount = billing.MustParseMoney(amount)
	inst.AmountPaid = billing.MustParseMoney(paid)
	inst.DueDate = mustParseDate(due)
	if paidDate.Valid {
		d := mustParseDate(paidDate.String)
		inst.PaidDate = &d
	}
	inst.CreatedAt = parseTime(created)
	inst.UpdatedAt = parseTime(updated)
	return inst, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

const paymentColumns = `id, assignment_id, installment_id, amount, method, date,
	transaction_id, status, recorded_by, created_at`

func (s *Store) InsertPaymentRecord(ctx context.Context, rec *billing.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertPayment(ctx, s.db, rec)
}

func (s *Store) insertPayment(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, rec *billing.PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = billing.PaymentID(uuid.NewString())
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var instID sql.NullString
	if rec.InstallmentID != nil {
		instID = sql.NullString{String: string(*rec.InstallmentID), Valid: true}
	}

	query := `
		INSERT INTO payment_records (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		rec.ID, rec.AssignmentID, instID,
		rec.Amount.Value.String(), rec.Method, rec.Date.String(),
		nullString(rec.TransactionID), rec.Status, nullString(rec.RecordedBy),
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment record: %w", err)
	}
	return nil
}

// ApplyCompletedPayment runs the record insert, the installment update and
// the balance update in one transaction. The store mutex serializes the
// read-modify-write on the decimal balance columns.
func (s *Store) ApplyCompletedPayment(ctx context.Context, rec *billing.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := s.loadAssignmentTx(ctx, tx, rec.AssignmentID)
	if err != nil {
		return err
	}
	if a == nil {
		return billing.ErrAssignmentNotFound
	}

	if rec.InstallmentID != nil {
		inst, err := s.loadInstallmentTx(ctx, tx, *rec.InstallmentID)
		if err != nil {
			return err
		}
		if inst.AssignmentID != a.ID {
			return billing.ErrInstallmentMismatch
		}

		newPaid := inst.AmountPaid.Add(rec.Amount)
		_, err = tx.ExecContext(ctx, `
			UPDATE installments
			SET amount_paid = ?, status = ?, paid_date = ?, updated_at = ?
			WHERE id = ?
		`, newPaid.Value.String(), billing.InstallmentPaid, rec.Date.String(),
			time.Now().UTC().Format(time.RFC3339), inst.ID)
		if err != nil {
			return fmt.Errorf("failed to update installment: %w", err)
		}
	}

	a.AmountPaid = a.AmountPaid.Add(rec.Amount)
	a.Recalculate()
	if a.IsSettled() && a.Status == billing.AssignmentActive {
		a.Status = billing.AssignmentCompleted
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE fee_assignments
		SET amount_paid = ?, amount_pending = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, a.AmountPaid.Value.String(), a.AmountPending.Value.String(), a.Status,
		time.Now().UTC().Format(time.RFC3339), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update assignment balance: %w", err)
	}

	if err := s.insertPayment(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) loadAssignmentTx(ctx context.Context, tx *sql.Tx, id billing.AssignmentID) (*billing.FeeAssignment, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM fee_assignments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	a, err := scanAssignment(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) loadInstallmentTx(ctx context.Context, tx *sql.Tx, id billing.InstallmentID) (*billing.Installment, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query installment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, billing.ErrInstallmentNotFound
	}
	inst, err := scanInstallment(rows)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *Store) ListPayments(ctx context.Context, assignmentID billing.AssignmentID) ([]billing.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_records
		WHERE assignment_id = ?
		ORDER BY created_at DESC
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []billing.PaymentRecord
	for rows.Next() {
		var (
			rec          billing.PaymentRecord
			instID       sql.NullString
			amount, date string
			txID, recBy  sql.NullString
			created      string
		)
		err := rows.Scan(
			&rec.ID, &rec.AssignmentID, &instID, &amount, &rec.Method,
			&date, &txID, &rec.Status, &recBy, &created,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		if instID.Valid {
			id := billing.InstallmentID(instID.String)
			rec.InstallmentID = &id
		}
		rec.Amount = billing.MustParseMoney(amount)
		rec.Date = mustParseDate(date)
		rec.TransactionID = txID.String
		rec.RecordedBy = recBy.String
		rec.CreatedAt = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// ACCESS STORE
// =============================================================================

func (s *Store) SaveAccessControl(ctx context.Context, ac *billing.BatchAccessControl) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ac.ID == "" {
		ac.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ac.CreatedAt.IsZero() {
		ac.CreatedAt = now
	}
	ac.UpdatedAt = now

	query := `
		INSERT INTO batch_access_controls
		(id, student_id, batch_id, access_type, reason, effective_from,
		 effective_until, override_access, override_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(student_id, batch_id) DO UPDATE SET
			access_type = excluded.access_type,
			reason = excluded.reason,
			effective_from = excluded.effective_from,
			effective_until = excluded.effective_until,
			override_access = excluded.override_access,
			override_until = excluded.override_until,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		ac.ID, ac.StudentID, ac.BatchID, ac.AccessType, nullString(ac.Reason),
		nullDate(ac.EffectiveFrom), nullDate(ac.EffectiveUntil),
		ac.OverrideAccess, nullDate(ac.OverrideUntil),
		ac.CreatedAt.Format(time.RFC3339), ac.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save access control: %w", err)
	}
	return nil
}

func (s *Store) GetAccessControl(ctx context.Context, studentID billing.StudentID, batchID billing.BatchID) (*billing.BatchAccessControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, batch_id, access_type, reason, effective_from,
		       effective_until, override_access, override_until, created_at, updated_at
		FROM batch_access_controls
		WHERE student_id = ? AND batch_id = ?
	`, studentID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query access control: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var (
		ac               billing.BatchAccessControl
		reason           sql.NullString
		from, until      sql.NullString
		overrideUntil    sql.NullString
		created, updated string
	)
	err = rows.Scan(
		&ac.ID, &ac.StudentID, &ac.BatchID, &ac.AccessType, &reason,
		&from, &until, &ac.OverrideAccess, &overrideUntil, &created, &updated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan access control: %w", err)
	}
	ac.Reason = reason.String
	if from.Valid {
		d := mustParseDate(from.String)
		ac.EffectiveFrom = &d
	}
	if until.Valid {
		d := mustParseDate(until.String)
		ac.EffectiveUntil = &d
	}
	if overrideUntil.Valid {
		d := mustParseDate(overrideUntil.String)
		ac.OverrideUntil = &d
	}
	ac.CreatedAt = parseTime(created)
	ac.UpdatedAt = parseTime(updated)
	return &ac, nil
}

func (s *Store) DeleteAccessControl(ctx context.Context, studentID billing.StudentID, batchID billing.BatchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM batch_access_controls WHERE student_id = ? AND batch_id = ?`,
		studentID, batchID)
	if err != nil {
		return fmt.Errorf("failed to delete access control: %w", err)
	}
	return nil
}

// =============================================================================
// DISCOUNT STORE
// =============================================================================

const discountColumns = `id, code, name, type, value, max_discount_amount,
	minimum_amount, valid_from, valid_until, usage_limit, used_count,
	applicable_courses, is_active, created_at, updated_at`

func (s *Store) SaveDiscount(ctx context.Context, d *billing.FeeDiscount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = billing.DiscountID(uuid.NewString())
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	var maxAmount sql.NullString
	if d.MaxDiscountAmount != nil {
		maxAmount = sql.NullString{String: d.MaxDiscountAmount.Value.String(), Valid: true}
	}
	var limit sql.NullInt64
	if d.UsageLimit != nil {
		limit = sql.NullInt64{Int64: int64(*d.UsageLimit), Valid: true}
	}

	query := `
		INSERT INTO fee_discounts (` + discountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			type = excluded.type,
			value = excluded.value,
			max_discount_amount = excluded.max_discount_amount,
			minimum_amount = excluded.minimum_amount,
			valid_from = excluded.valid_from,
			valid_until = excluded.valid_until,
			usage_limit = excluded.usage_limit,
			applicable_courses = excluded.applicable_courses,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Code, d.Name, d.Type, d.Value.String(),
		maxAmount, d.MinimumAmount.Value.String(),
		d.ValidFrom.String(), d.ValidUntil.String(),
		limit, d.UsedCount,
		nullString(joinCourses(d.ApplicableCourses)), d.IsActive,
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("discount code %q already in use: %w", d.Code, billing.ErrConflict)
		}
		return fmt.Errorf("failed to save discount: %w", err)
	}
	return nil
}

func (s *Store) GetDiscount(ctx context.Context, id billing.DiscountID) (*billing.FeeDiscount, error) {
	return s.getDiscountWhere(ctx, "id = ?", string(id))
}

func (s *Store) GetDiscountByCode(ctx context.Context, code string) (*billing.FeeDiscount, error) {
	return s.getDiscountWhere(ctx, "code = ?", code)
}

func (s *Store) getDiscountWhere(ctx context.Context, where string, arg any) (*billing.FeeDiscount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+discountColumns+` FROM fee_discounts WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query discount: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	d, err := scanDiscount(rows)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDiscounts(ctx context.Context) ([]billing.FeeDiscount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+discountColumns+` FROM fee_discounts ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list discounts: %w", err)
	}
	defer rows.Close()

	var out []billing.FeeDiscount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordDiscountUsage inserts the usage row and increments used_count in
// one transaction. The increment is guarded by usage_limit, so the count
// can never exceed the limit even under concurrent use.
func (s *Store) RecordDiscountUsage(ctx context.Context, usage *billing.DiscountUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE fee_discounts
		SET used_count = used_count + 1, updated_at = ?
		WHERE id = ? AND (usage_limit IS NULL OR used_count < usage_limit)
	`, time.Now().UTC().Format(time.RFC3339), usage.DiscountID)
	if err != nil {
		return fmt.Errorf("failed to increment discount usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM fee_discounts WHERE id = ?`, usage.DiscountID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check discount: %w", err)
		}
		if count == 0 {
			return billing.ErrDiscountNotFound
		}
		return billing.ErrDiscountExhausted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO discount_usages (id, discount_id, assignment_id, amount, used_at)
		VALUES (?, ?, ?, ?, ?)
	`, usage.ID, usage.DiscountID, usage.AssignmentID,
		usage.Amount.Value.String(), usage.UsedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDiscountAlreadyUsed
		}
		return fmt.Errorf("failed to insert discount usage: %w", err)
	}

	return tx.Commit()
}

func scanDiscount(rows *sql.Rows) (billing.FeeDiscount, error) {
	var (
		d                billing.FeeDiscount
		value, minimum   string
		maxAmount        sql.NullString
		from, until      string
		limit            sql.NullInt64
		courses          sql.NullString
		created, updated string
	)

	err := rows.Scan(
		&d.ID, &d.Code, &d.Name, &d.Type, &value,
		&maxAmount, &minimum, &from, &until,
		&limit, &d.UsedCount, &courses, &d.IsActive, &created, &updated,
	)
	if err != nil {
		return d, fmt.Errorf("failed to scan discount: %w", err)
	}

	d.Value = billing.MustParseMoney(value).Value
	d.MinimumAmount = billing.MustParseMoney(minimum)
	if maxAmount.Valid {
		m := billing.MustParseMoney(maxAmount.String)
		d.MaxDiscountAmount = &m
	}
	d.ValidFrom = mustParseDate(from)
	d.ValidUntil = mustParseDate(until)
	if limit.Valid {
		n := int(limit.Int64)
		d.UsageLimit = &n
	}
	d.ApplicableCourses = splitCourses(courses.String)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

// =============================================================================
// TASK STORE
// =============================================================================

const taskColumns = `id, date, status, courses_locked, courses_unlocked,
	late_fees_applied, reminders_sent, total_overdue_amount, error_message,
	started_at, completed_at, created_at`

// ClaimDailyTask performs the absent/Pending/Failed -> Running transition.
// The store mutex plus the unique date index make the claim atomic: two
// concurrent invocations for the same date see exactly one winner.
func (s *Store) ClaimDailyTask(ctx context.Context, date billing.Date, force bool) (*billing.DailyTaskLog, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	row, err := s.getDailyTaskLocked(ctx, date)
	if err != nil {
		return nil, false, err
	}

	if row == nil {
		row = &billing.DailyTaskLog{
			ID:        uuid.NewString(),
			Date:      date,
			Status:    billing.TaskRunning,
			StartedAt: &now,
			CreatedAt: now,
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO daily_task_logs (id, date, status, started_at, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, row.ID, date.String(), row.Status,
			now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			if isUniqueConstraintError(err) {
				// Lost a race outside this process.
				return nil, false, billing.ErrTaskAlreadyRunning
			}
			return nil, false, fmt.Errorf("failed to insert daily task log: %w", err)
		}
		return row, true, nil
	}

	switch row.Status {
	case billing.TaskCompleted:
		if !force {
			return row, false, nil
		}
	case billing.TaskRunning:
		return nil, false, billing.ErrTaskAlreadyRunning
	}

	row.Status = billing.TaskRunning
	row.StartedAt = &now
	row.CompletedAt = nil
	row.ErrorMessage = ""
	_, err = s.db.ExecContext(ctx, `
		UPDATE daily_task_logs
		SET status = ?, started_at = ?, completed_at = NULL, error_message = NULL
		WHERE date = ?
	`, row.Status, now.Format(time.RFC3339), date.String())
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim daily task: %w", err)
	}
	return row, true, nil
}

func (s *Store) SaveDailyTask(ctx context.Context, logRow *billing.DailyTaskLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE daily_task_logs
		SET status = ?, courses_locked = ?, courses_unlocked = ?,
		    late_fees_applied = ?, reminders_sent = ?, total_overdue_amount = ?,
		    error_message = ?, started_at = ?, completed_at = ?
		WHERE date = ?
	`, logRow.Status, logRow.CoursesLocked, logRow.CoursesUnlocked,
		logRow.LateFeesApplied, logRow.RemindersSent,
		logRow.TotalOverdueAmount.Value.String(),
		nullString(logRow.ErrorMessage),
		nullTime(logRow.StartedAt), nullTime(logRow.CompletedAt),
		logRow.Date.String())
	if err != nil {
		return fmt.Errorf("failed to save daily task log: %w", err)
	}
	return nil
}

func (s *Store) GetDailyTask(ctx context.Context, date billing.Date) (*billing.DailyTaskLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getDailyTaskLocked(ctx, date)
}

func (s *Store) getDailyTaskLocked(ctx context.Context, date billing.Date) (*billing.DailyTaskLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM daily_task_logs WHERE date = ?`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily task log: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	row, err := scanTask(rows)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) ListDailyTasks(ctx context.Context, limit int) ([]billing.DailyTaskLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM daily_task_logs ORDER BY date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily task logs: %w", err)
	}
	defer rows.Close()

	var out []billing.DailyTaskLog
	for rows.Next() {
		row, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkReminderSent inserts into reminder_log; the (installment, date)
// primary key makes a duplicate insert report "already sent".
func (s *Store) MarkReminderSent(ctx context.Context, id billing.InstallmentID, date billing.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_log (installment_id, date, sent_at)
		VALUES (?, ?, ?)
	`, id, date.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	return true, nil
}

func scanTask(rows *sql.Rows) (billing.DailyTaskLog, error) {
	var (
		row                billing.DailyTaskLog
		date, overdue      string
		errMsg             sql.NullString
		started, completed sql.NullString
		created            string
	)

	err := rows.Scan(
		&row.ID, &date, &row.Status,
		&row.CoursesLocked, &row.CoursesUnlocked,
		&row.LateFeesApplied, &row.RemindersSent,
		&overdue, &errMsg, &started, &completed, &created,
	)
	if err != nil {
		return row, fmt.Errorf("failed to scan daily task log: %w", err)
	}

	row.Date = mustParseDate(date)
	row.TotalOverdueAmount = billing.MustParseMoney(overdue)
	row.ErrorMessage = errMsg.String
	if started.Valid {
		t := parseTime(started.String)
		row.StartedAt = &t
	}
	if completed.Valid {
		t := parseTime(completed.String)
		row.CompletedAt = &t
	}
	row.CreatedAt = parseTime(created)
	return row, nil
}

// =============================================================================
// CATALOG (billing.CatalogReader)
// =============================================================================

func (s *Store) Enrollment(ctx context.Context, studentID billing.StudentID, batchID billing.BatchID) (*billing.EnrollmentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.student_id, e.batch_id, b.course_id, e.active
		FROM enrollments e
		JOIN batches b ON b.id = e.batch_id
		WHERE e.student_id = ? AND e.batch_id = ?
	`, studentID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var e billing.EnrollmentRef
	if err := rows.Scan(&e.StudentID, &e.BatchID, &e.CourseID, &e.Active); err != nil {
		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}
	return &e, nil
}

func (s *Store) Batch(ctx context.Context, batchID billing.BatchID) (*billing.BatchRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, status FROM batches WHERE id = ?`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var b billing.BatchRef
	if err := rows.Scan(&b.ID, &b.CourseID, &b.Status); err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}
	return &b, nil
}

// UpsertBatch writes a catalog batch row (seed/admin path).
func (s *Store) UpsertBatch(ctx context.Context, b billing.BatchRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, course_id, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET course_id = excluded.course_id, status = excluded.status
	`, b.ID, b.CourseID, b.Status, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert batch: %w", err)
	}
	return nil
}

// UpsertEnrollment writes a catalog enrollment row (seed/admin path).
func (s *Store) UpsertEnrollment(ctx context.Context, e billing.EnrollmentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, batch_id, active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(student_id, batch_id) DO UPDATE SET active = excluded.active
	`, e.StudentID, e.BatchID, e.Active, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert enrollment: %w", err)
	}
	return nil
}

// UpsertStudent writes a catalog student row (seed/admin path).
func (s *Store) UpsertStudent(ctx context.Context, id billing.StudentID, name, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email
	`, id, name, nullString(email), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert student: %w", err)
	}
	return nil
}

// Contact resolves a student to a name and email for reminder delivery.
func (s *Store) Contact(ctx context.Context, id billing.StudentID) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name, email FROM students WHERE id = ?`, id)
	if err != nil {
		return "", "", fmt.Errorf("failed to query student: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", "", err
		}
		return "", "", fmt.Errorf("student %s: %w", id, billing.ErrNotFound)
	}
	var name string
	var email sql.NullString
	if err := rows.Scan(&name, &email); err != nil {
		return "", "", fmt.Errorf("failed to scan student: %w", err)
	}
	if !email.Valid || email.String == "" {
		return "", "", fmt.Errorf("student %s has no email on file", id)
	}
	return name, email.String, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *billing.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func mustParseDate(s string) billing.Date {
	d, _ := billing.ParseDate(s)
	return d
}

func joinCourses(courses []billing.CourseID) string {
	if len(courses) == 0 {
		return ""
	}
	parts := make([]string, len(courses))
	for i, c := range courses {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func splitCourses(s string) []billing.CourseID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]billing.CourseID, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, billing.CourseID(p))
		}
	}
	return out
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
