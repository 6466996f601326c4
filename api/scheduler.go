/*
scheduler.go - Background daily run trigger

PURPOSE:
  Fires the daily billing run once per calendar day without operator
  involvement. A ticker wakes up periodically; once the configured hour
  of day has passed, it invokes the runner for today.

IDEMPOTENCY:
  The scheduler itself keeps no state about what ran. It leans entirely
  on the task log claim: if today's row is already Completed the runner
  returns it untouched, and if another trigger (cron binary, admin
  endpoint) is mid-run the claim fails with ErrTaskAlreadyRunning, which
  the scheduler logs and ignores.

LIFECYCLE:
  Start() launches a goroutine, Stop() signals it and waits. Both are
  safe to call more than once.

SEE ALSO:
  - billing/runner.go: The run itself
  - cmd/run-daily-fee-tasks: The cron alternative to this scheduler
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/fee-engine/billing"
)

// DailyScheduler triggers the daily billing run in-process.
type DailyScheduler struct {
	Runner *billing.DailyTaskRunner

	// CheckInterval is how often the scheduler wakes up to see whether
	// today's run is due. Default: 1 hour.
	CheckInterval time.Duration

	// RunAfterHour is the local hour of day (0-23) after which today's
	// run becomes due. Default: 2 (run at ~02:00).
	RunAfterHour int

	// Enabled controls whether Start actually launches the loop.
	Enabled bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewDailyScheduler creates a scheduler with default settings.
func NewDailyScheduler(runner *billing.DailyTaskRunner) *DailyScheduler {
	return &DailyScheduler{
		Runner:        runner,
		CheckInterval: time.Hour,
		RunAfterHour:  2,
		Enabled:       true,
	}
}

// Start launches the background loop. No-op if disabled or already running.
func (s *DailyScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Daily scheduler disabled")
		return
	}
	if s.running {
		return
	}

	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop()

	log.Printf("[Scheduler] Started (check every %v, run after %02d:00)", s.CheckInterval, s.RunAfterHour)
}

// Stop signals the background loop to exit and waits for it.
func (s *DailyScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *DailyScheduler) loop() {
	defer s.wg.Done()

	// Check once at startup so a server booted after RunAfterHour does
	// not wait a full interval.
	s.check()

	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *DailyScheduler) check() {
	now := time.Now()
	if now.Hour() < s.RunAfterHour {
		return
	}
	s.RunNow(billing.Today())
}

// RunNow invokes the daily run for the given date. Already-completed
// days return their existing log row; concurrent runs elsewhere are
// logged and skipped.
func (s *DailyScheduler) RunNow(date billing.Date) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	logRow, err := s.Runner.Run(ctx, date, false)
	if err != nil {
		if errors.Is(err, billing.ErrTaskAlreadyRunning) {
			log.Printf("[Scheduler] Run for %s already in progress elsewhere", date)
			return
		}
		log.Printf("[Scheduler] Run for %s failed: %v", date, err)
		return
	}
	log.Printf("[Scheduler] Run for %s finished with status %s", date, logRow.Status)
}
