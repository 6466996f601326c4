/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee engine HTTP server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize SQLite store
  3. Pick a notifier (SendGrid if configured, console otherwise)
  4. Create API handler and router
  5. Start the in-process daily scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port        HTTP server port (default: 8080)
  -db          SQLite database path (default: fees.db)
               Use ":memory:" for in-memory database
  -daily-hour  Hour of day (0-23) after which the daily billing run
               fires (default: 2). -1 disables the in-process
               scheduler; use the run-daily-fee-tasks binary instead.

ENVIRONMENT (via .env or the process environment):
  SENDGRID_API_KEY   Enables email reminders when set
  SENDGRID_FROM_NAME, SENDGRID_FROM_EMAIL
                     Sender identity for reminder emails

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the daily scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily run trigger
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/notify"
	"github.com/warp/fee-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "fees.db", "SQLite database path")
	dailyHour := flag.Int("daily-hour", 2, "hour of day after which the daily run fires (-1 disables)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Notifier: SendGrid when configured, console otherwise
	var notifier billing.Notifier = notify.Console{}
	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		fromName := os.Getenv("SENDGRID_FROM_NAME")
		fromEmail := os.Getenv("SENDGRID_FROM_EMAIL")
		if fromEmail == "" {
			log.Fatal("SENDGRID_API_KEY is set but SENDGRID_FROM_EMAIL is not")
		}
		notifier = notify.NewSendgrid(key, fromName, fromEmail, store)
		log.Println("[Server] Reminder emails enabled via SendGrid")
	} else {
		log.Println("[Server] SENDGRID_API_KEY not set, reminders go to the log")
	}

	// Initialize handler and router
	handler := api.NewHandler(store, store, notifier)
	router := api.NewRouter(handler)

	// In-process daily run trigger
	scheduler := api.NewDailyScheduler(handler.Runner)
	if *dailyHour < 0 {
		scheduler.Enabled = false
	} else {
		scheduler.RunAfterHour = *dailyHour
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
