/*
runner_test.go - Daily task cycle tests

Tests for:
- The full lock / unlock / late-fee / reminder cycle
- Idempotency: a second invocation for the same date is a no-op
- Force re-runs: per-row compare-and-sets prevent double effects
- Failure isolation: a failed step preserves earlier counters
*/
package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
	"github.com/warp/fee-engine/notify"
)

var runDate = billing.NewDate(2026, 3, 15)

// seedOverdueAssignment creates the standard plan and an assignment whose
// schedule started 40 days before runDate: the down payment (due -40) and
// EMI #1 (due -10) are both overdue well past the 3 grace days.
func seedOverdueAssignment(t *testing.T) (*store.Memory, *billing.FeeAssignment) {
	t.Helper()
	mem, a, _ := seedAssignment(t, standardPlan(), runDate.AddDays(-40))
	return mem, a
}

func newRunner(s billing.Store, n billing.Notifier) *billing.DailyTaskRunner {
	return &billing.DailyTaskRunner{Store: s, Notifier: n}
}

func TestRun_FullCycle(t *testing.T) {
	// GIVEN: An assignment with two installments overdue past grace
	// WHEN: Running the daily cycle
	// THEN: The course locks, both rows get a late fee, both get a reminder

	ctx := context.Background()
	mem, a := seedOverdueAssignment(t)
	recorder := &notify.Recorder{}

	logRow, err := newRunner(mem, recorder).Run(ctx, runDate, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if logRow.Status != billing.TaskCompleted {
		t.Fatalf("expected completed, got %s (%s)", logRow.Status, logRow.ErrorMessage)
	}
	if logRow.CoursesLocked != 1 {
		t.Errorf("expected 1 lock, got %d", logRow.CoursesLocked)
	}
	if logRow.LateFeesApplied != 2 {
		t.Errorf("expected 2 late fees, got %d", logRow.LateFeesApplied)
	}
	if logRow.RemindersSent != 2 {
		t.Errorf("expected 2 reminders, got %d", logRow.RemindersSent)
	}

	// Down payment: 2000 + 100 fixed + 2% = 2140. EMI: 1666.67 + 133.33 = 1800.
	if logRow.TotalOverdueAmount.String() != "3940.00" {
		t.Errorf("expected overdue total 3940.00, got %s", logRow.TotalOverdueAmount)
	}

	locked, _ := mem.GetAssignment(ctx, a.ID)
	if !locked.IsCourseLocked || locked.LockedAt == nil {
		t.Error("assignment should be locked with a timestamp")
	}

	rows, _ := mem.ListInstallments(ctx, a.ID)
	if rows[0].Amount.String() != "2140.00" || !rows[0].LateFeeApplied {
		t.Errorf("down payment late fee: amount=%s applied=%v", rows[0].Amount, rows[0].LateFeeApplied)
	}
	if rows[1].Amount.String() != "1800.00" || !rows[1].LateFeeApplied {
		t.Errorf("EMI late fee: amount=%s applied=%v", rows[1].Amount, rows[1].LateFeeApplied)
	}
	if rows[2].LateFeeApplied {
		t.Error("future EMI must not be charged")
	}

	sent := recorder.Reminders()
	if len(sent) != 2 {
		t.Fatalf("expected 2 reminders captured, got %d", len(sent))
	}
	for _, r := range sent {
		if r.StudentID != a.StudentID || r.DaysOverdue <= 0 {
			t.Errorf("unexpected reminder: %+v", r)
		}
	}
}

func TestRun_SecondInvocationShortCircuits(t *testing.T) {
	// A completed date returns the stored row untouched; no new effects.
	ctx := context.Background()
	mem, _ := seedOverdueAssignment(t)
	recorder := &notify.Recorder{}
	runner := newRunner(mem, recorder)

	first, err := runner.Run(ctx, runDate, false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	second, err := runner.Run(ctx, runDate, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.LateFeesApplied != first.LateFeesApplied {
		t.Errorf("counters changed on re-invocation: %d -> %d", first.LateFeesApplied, second.LateFeesApplied)
	}
	if got := len(recorder.Reminders()); got != 2 {
		t.Errorf("second invocation sent reminders: total %d", got)
	}
}

func TestRun_ForceDoesNotDoubleApply(t *testing.T) {
	// GIVEN: A completed run for the date
	// WHEN: Re-running with force
	// THEN: The sweeps execute but every per-row guard reports "already
	//       done" - no second late fee, lock count, or reminder

	ctx := context.Background()
	mem, a := seedOverdueAssignment(t)
	runner := newRunner(mem, &notify.Recorder{})

	if _, err := runner.Run(ctx, runDate, false); err != nil {
		t.Fatalf("first run: %v", err)
	}

	forced, err := runner.Run(ctx, runDate, true)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}

	if forced.CoursesLocked != 0 || forced.LateFeesApplied != 0 || forced.RemindersSent != 0 {
		t.Errorf("forced run re-applied effects: locked=%d lateFees=%d reminders=%d",
			forced.CoursesLocked, forced.LateFeesApplied, forced.RemindersSent)
	}

	rows, _ := mem.ListInstallments(ctx, a.ID)
	if rows[0].Amount.String() != "2140.00" {
		t.Errorf("late fee charged twice: %s", rows[0].Amount)
	}
}

func TestRun_UnlockSweepHonorsUnlockDate(t *testing.T) {
	// GIVEN: A locked assignment whose admin unlockDate has arrived
	// WHEN: Running the cycle
	// THEN: The lock clears and the escape hatch keeps it from re-locking

	ctx := context.Background()
	mem, a := seedOverdueAssignment(t)

	if _, err := mem.LockAssignment(ctx, a.ID, runDate.Time); err != nil {
		t.Fatalf("lock: %v", err)
	}
	a.UnlockDate = datePtr(runDate)
	if err := mem.UpdateAssignment(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}

	logRow, err := newRunner(mem, &notify.Recorder{}).Run(ctx, runDate, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if logRow.CoursesUnlocked != 1 {
		t.Errorf("expected 1 unlock, got %d", logRow.CoursesUnlocked)
	}
	if logRow.CoursesLocked != 0 {
		t.Errorf("escape hatch should suppress re-locking, got %d locks", logRow.CoursesLocked)
	}

	got, _ := mem.GetAssignment(ctx, a.ID)
	if got.IsCourseLocked {
		t.Error("assignment should be unlocked")
	}
}

func TestRun_NotifierFailureIsNotFatal(t *testing.T) {
	// Delivery errors are logged and the run still completes; the reminder
	// dedup row is already written, so there is no redelivery storm.
	ctx := context.Background()
	mem, _ := seedOverdueAssignment(t)
	recorder := &notify.Recorder{Err: errors.New("smtp down")}

	logRow, err := newRunner(mem, recorder).Run(ctx, runDate, false)
	if err != nil {
		t.Fatalf("run should not fail on notifier errors: %v", err)
	}
	if logRow.Status != billing.TaskCompleted {
		t.Errorf("expected completed, got %s", logRow.Status)
	}
}

// failingReminderStore fails the reminder sweep's listing to exercise
// failure isolation.
type failingReminderStore struct {
	*store.Memory
}

func (f *failingReminderStore) ListDueInstallments(context.Context, billing.Date, int) ([]billing.Installment, error) {
	return nil, errors.New("disk on fire")
}

func TestRun_StepFailurePreservesEarlierCounters(t *testing.T) {
	// GIVEN: A store whose reminder listing fails
	// WHEN: Running the cycle
	// THEN: The run is marked Failed but lock and late-fee counters from
	//       the earlier steps survive on the log row

	ctx := context.Background()
	mem, _ := seedOverdueAssignment(t)
	failing := &failingReminderStore{Memory: mem}

	logRow, err := newRunner(failing, &notify.Recorder{}).Run(ctx, runDate, false)
	if err == nil {
		t.Fatal("expected the run to report failure")
	}
	if logRow == nil {
		t.Fatal("failed runs still return the audit row")
	}
	if logRow.Status != billing.TaskFailed {
		t.Errorf("expected failed status, got %s", logRow.Status)
	}
	if logRow.CoursesLocked != 1 || logRow.LateFeesApplied != 2 {
		t.Errorf("earlier counters lost: locked=%d lateFees=%d", logRow.CoursesLocked, logRow.LateFeesApplied)
	}

	// A later invocation can claim the Failed row and finish the job.
	retry, err := newRunner(mem, &notify.Recorder{}).Run(ctx, runDate, false)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Status != billing.TaskCompleted {
		t.Errorf("expected retry to complete, got %s", retry.Status)
	}
}

func TestRun_ConcurrentClaimIsRejected(t *testing.T) {
	// A Running row belongs to someone else; the second claim errors.
	ctx := context.Background()
	mem := store.NewMemory()

	if _, claimed, err := mem.ClaimDailyTask(ctx, runDate, false); err != nil || !claimed {
		t.Fatalf("seed claim: claimed=%v err=%v", claimed, err)
	}

	_, err := newRunner(mem, &notify.Recorder{}).Run(ctx, runDate, false)
	if !errors.Is(err, billing.ErrTaskAlreadyRunning) {
		t.Errorf("expected ErrTaskAlreadyRunning, got %v", err)
	}
}
