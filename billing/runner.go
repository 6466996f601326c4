/*
runner.go - Daily task orchestration

PURPOSE:
  Runs the once-per-calendar-day maintenance cycle over all assignments:

    Step A  Lock sweep:     lock Active assignments whose fee state says so
    Step B  Unlock sweep:   clear locks whose unlockDate has arrived
    Step C  Late-fee sweep: charge overdue installments past grace, once
    Step D  Reminder sweep: dispatch at most one reminder per installment

STATE MACHINE:
  One DailyTaskLog row per date: Pending -> Running -> Completed | Failed.
  The row is claimed with a single atomic transition, so two concurrent
  scheduler triggers cannot both run the sweeps for the same date. A
  Completed row short-circuits re-invocation unless force is set.

RE-RUN SAFETY:
  The log row is the coarse guard; the fine-grained guards are per-row
  compare-and-sets (isCourseLocked, lateFeeApplied, reminder-per-day).
  Re-running with force therefore never re-charges a late fee or
  re-counts a lock: the CAS simply reports "already done" and the counter
  stays put.

FAILURE ISOLATION:
  Each step is isolated: a failure is recorded and later steps still run.
  Counters accumulated before a failure are preserved on the log row, and
  the run is marked Failed with the collected errors. Notifier failures
  are logged, never fatal.

SEE ALSO:
  - gate.go: FeeLockDue, the lock sweep's predicate
  - store.go: The compare-and-set contract the sweeps rely on
*/
package billing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultLookaheadDays = 3
	defaultWorkers       = 4
)

// DailyTaskRunner executes the daily maintenance cycle.
type DailyTaskRunner struct {
	Store    Store
	Notifier Notifier

	// LookaheadDays is the reminder window: installments due within this
	// many days (or already overdue) get a reminder. Default 3.
	LookaheadDays int

	// Workers bounds sweep parallelism. Default 4.
	Workers int
}

// Run executes the cycle for the given date. Safe to invoke repeatedly:
// an already-Completed date returns immediately with no side effects
// unless force is set.
func (r *DailyTaskRunner) Run(ctx context.Context, date Date, force bool) (*DailyTaskLog, error) {
	logRow, claimed, err := r.Store.ClaimDailyTask(ctx, date, force)
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Printf("[Runner] %s already completed, skipping (force=false)", date)
		return logRow, nil
	}

	log.Printf("[Runner] Starting daily tasks for %s", date)

	var (
		locked    atomic.Int64
		unlocked  atomic.Int64
		lateFees  atomic.Int64
		reminders atomic.Int64

		overdueMu    sync.Mutex
		totalOverdue = ZeroMoney()

		stepErrs []string
	)
	addOverdue := func(m Money) {
		overdueMu.Lock()
		totalOverdue = totalOverdue.Add(m)
		overdueMu.Unlock()
	}
	failStep := func(step string, err error) {
		log.Printf("[Runner] Step %s failed: %v", step, err)
		stepErrs = append(stepErrs, fmt.Sprintf("%s: %v", step, err))
	}

	if err := r.lockSweep(ctx, date, &locked); err != nil {
		failStep("lock", err)
	}
	if err := r.unlockSweep(ctx, date, &unlocked); err != nil {
		failStep("unlock", err)
	}
	if err := r.lateFeeSweep(ctx, date, &lateFees, addOverdue); err != nil {
		failStep("late-fee", err)
	}
	if err := r.reminderSweep(ctx, date, &reminders); err != nil {
		failStep("reminder", err)
	}

	logRow.CoursesLocked = int(locked.Load())
	logRow.CoursesUnlocked = int(unlocked.Load())
	logRow.LateFeesApplied = int(lateFees.Load())
	logRow.RemindersSent = int(reminders.Load())
	logRow.TotalOverdueAmount = totalOverdue

	now := time.Now().UTC()
	logRow.CompletedAt = &now
	if len(stepErrs) > 0 {
		logRow.Status = TaskFailed
		logRow.ErrorMessage = strings.Join(stepErrs, "; ")
	} else {
		logRow.Status = TaskCompleted
		logRow.ErrorMessage = ""
	}

	if err := r.Store.SaveDailyTask(ctx, logRow); err != nil {
		return logRow, err
	}

	log.Printf("[Runner] %s done: locked=%d unlocked=%d lateFees=%d reminders=%d overdue=%s status=%s",
		date, logRow.CoursesLocked, logRow.CoursesUnlocked, logRow.LateFeesApplied,
		logRow.RemindersSent, logRow.TotalOverdueAmount, logRow.Status)

	if logRow.Status == TaskFailed {
		return logRow, fmt.Errorf("daily run %s failed: %s", date, logRow.ErrorMessage)
	}
	return logRow, nil
}

// =============================================================================
// STEP A - LOCK SWEEP
// =============================================================================

func (r *DailyTaskRunner) lockSweep(ctx context.Context, date Date, locked *atomic.Int64) error {
	assignments, err := r.Store.ListAssignmentsForLockSweep(ctx)
	if err != nil {
		return err
	}

	plans := newPlanCache(r.Store)
	r.parallel(len(assignments), func(i int) {
		a := assignments[i]
		plan, err := plans.get(ctx, a.PlanID)
		if err != nil || plan == nil {
			log.Printf("[Runner] lock sweep: plan %s for assignment %s: %v", a.PlanID, a.ID, err)
			return
		}
		installments, err := r.Store.ListInstallments(ctx, a.ID)
		if err != nil {
			log.Printf("[Runner] lock sweep: installments for %s: %v", a.ID, err)
			return
		}
		if !FeeLockDue(date, &a, installments, plan.GracePeriodDays) {
			return
		}
		did, err := r.Store.LockAssignment(ctx, a.ID, time.Now().UTC())
		if err != nil {
			log.Printf("[Runner] lock sweep: locking %s: %v", a.ID, err)
			return
		}
		if did {
			locked.Add(1)
		}
	})
	return nil
}

// =============================================================================
// STEP B - UNLOCK SWEEP
// =============================================================================

func (r *DailyTaskRunner) unlockSweep(ctx context.Context, date Date, unlocked *atomic.Int64) error {
	assignments, err := r.Store.ListLockedAssignments(ctx)
	if err != nil {
		return err
	}

	r.parallel(len(assignments), func(i int) {
		a := assignments[i]
		if a.UnlockDate == nil || date.Before(*a.UnlockDate) {
			return
		}
		did, err := r.Store.UnlockAssignment(ctx, a.ID)
		if err != nil {
			log.Printf("[Runner] unlock sweep: unlocking %s: %v", a.ID, err)
			return
		}
		if did {
			unlocked.Add(1)
		}
	})
	return nil
}

// =============================================================================
// STEP C - LATE-FEE SWEEP
// =============================================================================

func (r *DailyTaskRunner) lateFeeSweep(ctx context.Context, date Date, applied *atomic.Int64, addOverdue func(Money)) error {
	if n, err := r.Store.MarkOverdueInstallments(ctx, date); err != nil {
		return err
	} else if n > 0 {
		log.Printf("[Runner] marked %d installments overdue", n)
	}

	installments, err := r.Store.ListOverdueWithoutLateFee(ctx)
	if err != nil {
		return err
	}

	plans := newPlanCache(r.Store)
	r.parallel(len(installments), func(i int) {
		inst := installments[i]
		a, err := r.Store.GetAssignment(ctx, inst.AssignmentID)
		if err != nil || a == nil {
			log.Printf("[Runner] late-fee sweep: assignment %s: %v", inst.AssignmentID, err)
			return
		}
		plan, err := plans.get(ctx, a.PlanID)
		if err != nil || plan == nil {
			log.Printf("[Runner] late-fee sweep: plan %s: %v", a.PlanID, err)
			return
		}
		if inst.DaysOverdue(date) <= plan.GracePeriodDays {
			return
		}
		fee := plan.LateFeeFixed.Add(inst.Amount.Percent(plan.LateFeePercent)).Round2()
		if !fee.IsPositive() {
			return
		}
		did, err := r.Store.ApplyLateFee(ctx, inst.ID, fee)
		if err != nil {
			log.Printf("[Runner] late-fee sweep: applying to %s: %v", inst.ID, err)
			return
		}
		if did {
			applied.Add(1)
			addOverdue(inst.Outstanding().Add(fee))
		}
	})
	return nil
}

// =============================================================================
// STEP D - REMINDER SWEEP
// =============================================================================

func (r *DailyTaskRunner) reminderSweep(ctx context.Context, date Date, sent *atomic.Int64) error {
	lookahead := r.LookaheadDays
	if lookahead <= 0 {
		lookahead = defaultLookaheadDays
	}

	installments, err := r.Store.ListDueInstallments(ctx, date, lookahead)
	if err != nil {
		return err
	}

	r.parallel(len(installments), func(i int) {
		inst := installments[i]
		did, err := r.Store.MarkReminderSent(ctx, inst.ID, date)
		if err != nil {
			log.Printf("[Runner] reminder sweep: marking %s: %v", inst.ID, err)
			return
		}
		if !did {
			// Already reminded today (earlier run, or concurrent invocation).
			return
		}

		a, err := r.Store.GetAssignment(ctx, inst.AssignmentID)
		if err != nil || a == nil {
			log.Printf("[Runner] reminder sweep: assignment %s: %v", inst.AssignmentID, err)
			return
		}

		reminder := Reminder{
			StudentID:     a.StudentID,
			CourseID:      a.CourseID,
			AssignmentID:  a.ID,
			InstallmentID: inst.ID,
			Number:        inst.Number,
			Amount:        inst.Amount,
			Outstanding:   inst.Outstanding(),
			DueDate:       inst.DueDate,
			DaysOverdue:   inst.DaysOverdue(date),
		}
		// Best effort. A delivery failure never aborts the sweep.
		if err := r.Notifier.NotifyInstallmentDue(ctx, reminder); err != nil {
			log.Printf("[Runner] %v", &NotifyError{InstallmentID: inst.ID, Err: err})
		}
		sent.Add(1)
	})
	return nil
}

// =============================================================================
// WORKER POOL
// =============================================================================

// parallel runs fn(0..n-1) on a bounded worker pool. Sweep items are
// independent across rows; per-row guards make overlap safe.
func (r *DailyTaskRunner) parallel(n int, fn func(i int)) {
	workers := r.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > n {
		workers = n
	}
	if n == 0 {
		return
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// planCache avoids refetching the same plan for every row in a sweep.
type planCache struct {
	store PlanStore
	mu    sync.Mutex
	plans map[PlanID]*FeePlan
}

func newPlanCache(store PlanStore) *planCache {
	return &planCache{store: store, plans: make(map[PlanID]*FeePlan)}
}

func (c *planCache) get(ctx context.Context, id PlanID) (*FeePlan, error) {
	c.mu.Lock()
	if p, ok := c.plans[id]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := c.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.plans[id] = p
	c.mu.Unlock()
	return p, nil
}
