/*
main.go - One-shot daily billing run (cron entry point)

PURPOSE:
  Runs the daily maintenance cycle (lock/unlock sweeps, late fees,
  reminders) once and exits. Intended for crontab:

    0 2 * * *  /usr/local/bin/run-daily-fee-tasks -db /var/lib/fees.db

  Safe alongside the server's in-process scheduler: the per-date task
  log claim guarantees at most one effective run per calendar day.

COMMAND-LINE FLAGS:
  -db      SQLite database path (default: fees.db)
  -date    Date to run, YYYY-MM-DD (default: today)
  -force   Re-run even if the date already completed. Per-row guards
           keep the re-run from double-charging or double-counting.

EXIT CODES:
  0  run completed (or was already completed and -force was not set)
  1  run failed, or another run for this date is in progress

SEE ALSO:
  - billing/runner.go: The cycle itself
  - api/scheduler.go: The in-process alternative to cron
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/notify"
	"github.com/warp/fee-engine/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", "fees.db", "SQLite database path")
	dateStr := flag.String("date", "", "date to run (YYYY-MM-DD, default today)")
	force := flag.Bool("force", false, "re-run even if this date already completed")
	flag.Parse()

	date := billing.Today()
	if *dateStr != "" {
		parsed, err := billing.ParseDate(*dateStr)
		if err != nil {
			log.Fatalf("Invalid -date %q: %v", *dateStr, err)
		}
		date = parsed
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	var notifier billing.Notifier = notify.Console{}
	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		fromName := os.Getenv("SENDGRID_FROM_NAME")
		fromEmail := os.Getenv("SENDGRID_FROM_EMAIL")
		if fromEmail == "" {
			log.Fatal("SENDGRID_API_KEY is set but SENDGRID_FROM_EMAIL is not")
		}
		notifier = notify.NewSendgrid(key, fromName, fromEmail, store)
	}

	runner := &billing.DailyTaskRunner{Store: store, Notifier: notifier}

	logRow, err := runner.Run(context.Background(), date, *force)
	if err != nil {
		log.Printf("Daily run for %s failed: %v", date, err)
		os.Exit(1)
	}

	fmt.Printf("Daily run %s: status=%s locked=%d unlocked=%d lateFees=%d reminders=%d overdue=%s\n",
		date, logRow.Status, logRow.CoursesLocked, logRow.CoursesUnlocked,
		logRow.LateFeesApplied, logRow.RemindersSent, logRow.TotalOverdueAmount)
}
