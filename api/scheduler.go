/*
scheduler.go - Reminder scheduler (external consumer of dueForReminder)

PURPOSE:
  Periodically polls the ledger's dueForReminder query and pushes
  candidates to a Notifier. The ledger core supplies candidates only; this
  scheduler owns all timing policy: which hours it runs, how far ahead it
  looks, and how many notifications may go out per day.

CONFIGURATION:
  All knobs live in ReminderConfig and are passed in explicitly —
  nothing is read from ambient process state.

DEDUPLICATION:
  A debt is reminded at most once per calendar day, and the daily send
  cap is enforced across all debts. State resets at midnight UTC.

USAGE:
  sched := NewReminderScheduler(query, notifier, ReminderConfig{...})
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - ledger/reminder.go: The read-only candidates query
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// NOTIFIER - the outbound side, owned by callers
// =============================================================================

// Notifier delivers one reminder. Implementations send email, SMS,
// webhooks; the default just logs.
type Notifier interface {
	Notify(ctx context.Context, candidate ledger.ReminderCandidate) error
}

// LogNotifier writes reminders to the process log. Useful for development
// and as a safe default.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, c ledger.ReminderCandidate) error {
	log.Printf("[Reminder] client=%s debt=%s balance=%s due=%s",
		c.Client.Name, c.Debt.ID, c.Debt.Balance, c.Debt.DueDate.Format("2006-01-02"))
	return nil
}

// =============================================================================
// CONFIG
// =============================================================================

// ReminderConfig is the scheduler's explicit policy.
type ReminderConfig struct {
	// Hours (0-23, UTC) at which a poll may trigger sends. Empty means
	// every poll is eligible.
	Hours []int

	// Lookahead is the dueForReminder window.
	Lookahead time.Duration

	// MaxDailySends caps notifications per calendar day. Zero means
	// unlimited.
	MaxDailySends int

	// CheckInterval is how often the scheduler polls. Defaults to 1 hour.
	CheckInterval time.Duration
}

// =============================================================================
// SCHEDULER
// =============================================================================

// ReminderScheduler polls for due debts and notifies.
type ReminderScheduler struct {
	Query    *ledger.ReminderQuery
	Notifier Notifier
	Config   ReminderConfig

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// Per-day send state, reset when the date changes.
	sentDay   string
	sentCount int
	sentDebts map[ledger.DebtID]bool
}

// NewReminderScheduler creates a scheduler. A nil notifier falls back to
// LogNotifier.
func NewReminderScheduler(query *ledger.ReminderQuery, notifier Notifier, cfg ReminderConfig) *ReminderScheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 7 * 24 * time.Hour
	}
	return &ReminderScheduler{
		Query:     query,
		Notifier:  notifier,
		Config:    cfg,
		stop:      make(chan struct{}),
		sentDebts: make(map[ledger.DebtID]bool),
	}
}

// Start begins polling.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.ticker = time.NewTicker(rs.Config.CheckInterval)
	rs.wg.Add(1)
	go rs.run()

	log.Printf("[Scheduler] Started with check interval: %v", rs.Config.CheckInterval)
}

// Stop stops polling and waits for the worker to exit.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *ReminderScheduler) run() {
	defer rs.wg.Done()

	// Poll immediately on start
	rs.poll(time.Now().UTC())

	for {
		select {
		case <-rs.ticker.C:
			rs.poll(time.Now().UTC())
		case <-rs.stop:
			return
		}
	}
}

// poll is one scheduler pass. Exported indirectly through tests via
// PollAt; kept deterministic by taking the clock as an argument.
func (rs *ReminderScheduler) poll(now time.Time) {
	if !rs.hourEligible(now.Hour()) {
		return
	}

	ctx := context.Background()
	candidates, err := rs.Query.DueForReminder(ctx, now, rs.Config.Lookahead)
	if err != nil {
		log.Printf("[Scheduler] Error querying reminders: %v", err)
		return
	}

	rs.mu.Lock()
	rs.resetIfNewDay(now)
	sent := 0
	for _, c := range candidates {
		if rs.Config.MaxDailySends > 0 && rs.sentCount >= rs.Config.MaxDailySends {
			break
		}
		if rs.sentDebts[c.Debt.ID] {
			continue
		}
		if err := rs.Notifier.Notify(ctx, c); err != nil {
			log.Printf("[Scheduler] Notify failed for debt %s: %v", c.Debt.ID, err)
			continue
		}
		rs.sentDebts[c.Debt.ID] = true
		rs.sentCount++
		sent++
	}
	rs.mu.Unlock()

	if sent > 0 {
		log.Printf("[Scheduler] Sent %d reminders (%d candidates)", sent, len(candidates))
	}
}

// PollAt runs one scheduler pass at the given instant. For tests and
// manual triggering.
func (rs *ReminderScheduler) PollAt(now time.Time) {
	rs.poll(now)
}

func (rs *ReminderScheduler) hourEligible(hour int) bool {
	if len(rs.Config.Hours) == 0 {
		return true
	}
	for _, h := range rs.Config.Hours {
		if h == hour {
			return true
		}
	}
	return false
}

func (rs *ReminderScheduler) resetIfNewDay(now time.Time) {
	day := now.Format("2006-01-02")
	if day != rs.sentDay {
		rs.sentDay = day
		rs.sentCount = 0
		rs.sentDebts = make(map[ledger.DebtID]bool)
	}
}
