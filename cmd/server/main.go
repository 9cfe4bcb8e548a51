/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the debt ledger server: configuration, store,
  handler wiring, reminder scheduler, graceful shutdown.

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: ledger.db);
                   use ":memory:" for an in-memory database
  -grace-days      Days past due before a debt counts as overdue
  -overpay-credit  Record overpayments as credit instead of rejecting
  -reminder-hours  Comma-separated UTC hours the scheduler may send at
  -reminder-days   Reminder lookahead window in days
  -reminder-cap    Maximum reminders per day (0 = unlimited)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler, drain active requests (30s
  timeout), close the database, exit.

EXAMPLES:
  ./server -db="./data/ledger.db"
  ./server -db=":memory:" -overpay-credit
  ./server -reminder-hours=9,15 -reminder-cap=200

SEE ALSO:
  - api/server.go: Router configuration
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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/warp/debt-ledger/api"
	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "ledger.db", "SQLite database path")
	graceDays := flag.Int("grace-days", 0, "days past due before a debt is overdue")
	overpayCredit := flag.Bool("overpay-credit", false, "record overpayments as credit instead of rejecting")
	reminderHours := flag.String("reminder-hours", "", "comma-separated UTC hours for reminders (empty = any)")
	reminderDays := flag.Int("reminder-days", 7, "reminder lookahead window in days")
	reminderCap := flag.Int("reminder-cap", 0, "max reminders per day (0 = unlimited)")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	cfg := ledger.Config{Grace: time.Duration(*graceDays) * 24 * time.Hour}

	handler := api.NewHandler(store, cfg)
	if *overpayCredit {
		handler.Processor.Overpay = ledger.OverpayAllowCredit
	}

	scheduler := api.NewReminderScheduler(handler.Reminders, nil, api.ReminderConfig{
		Hours:         parseHours(*reminderHours),
		Lookahead:     time.Duration(*reminderDays) * 24 * time.Hour,
		MaxDailySends: *reminderCap,
	})
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

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

func parseHours(s string) []int {
	if s == "" {
		return nil
	}
	var hours []int
	for _, part := range strings.Split(s, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || h < 0 || h > 23 {
			log.Fatalf("Invalid reminder hour: %q", part)
		}
		hours = append(hours, h)
	}
	return hours
}
