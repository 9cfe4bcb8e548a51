/*
stats.go - Aggregate statistics over the ledger

PURPOSE:
  Read-only summaries for dashboards: per-client totals and a
  portfolio-wide view. Never mutates the store; a stats read concurrent
  with a reconciliation reflects either the pre- or post-commit state
  entirely, since payment application is atomic.

IDENTITY:
  ClientStats.TotalOwed always equals the sum of outstanding balances
  independently recomputed per debt from each payment log. The
  aggregator recomputes; it does not trust the debt cache.

SEE ALSO:
  - balance.go: Per-debt recomputation
  - reminder.go: The other read-only consumer of the store
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator computes derived statistics from the store.
type Aggregator struct {
	Store  Store
	Config Config
}

func NewAggregator(store Store, cfg Config) *Aggregator {
	return &Aggregator{Store: store, Config: cfg}
}

// ClientStats streams one client's debts and payment logs into a summary.
// Returns ErrClientNotFound for unknown clients.
func (a *Aggregator) ClientStats(ctx context.Context, clientID ClientID) (*ClientStats, error) {
	c, err := a.Store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClientNotFound
	}

	debts, err := a.Store.ListClientDebts(ctx, clientID)
	if err != nil {
		return nil, err
	}

	stats := ClientStats{
		ClientID:       clientID,
		TotalPrincipal: ZeroMoney(),
		TotalPaid:      ZeroMoney(),
		TotalOwed:      ZeroMoney(),
	}
	now := a.Config.now()

	for i := range debts {
		d := &debts[i]
		if d.Cancelled() {
			continue
		}
		payments, err := a.Store.ListPayments(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		outstanding := ComputeBalance(d.Principal, payments)
		status := DeriveStatus(d.Principal, outstanding, d.DueDate, false, now, a.Config.Grace)

		stats.TotalPrincipal = stats.TotalPrincipal.Add(d.Principal)
		stats.TotalPaid = stats.TotalPaid.Add(PaidTotal(payments))
		stats.TotalOwed = stats.TotalOwed.Add(outstanding)

		switch status {
		case StatusPaid:
			stats.PaidDebts++
		case StatusOverdue:
			stats.OpenDebts++
			stats.OverdueDebts++
		default:
			stats.OpenDebts++
		}
	}
	return &stats, nil
}

// PortfolioStats computes the book-wide view for admin dashboards.
func (a *Aggregator) PortfolioStats(ctx context.Context) (*PortfolioStats, error) {
	clients, err := a.Store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	debts, err := a.Store.ListDebts(ctx)
	if err != nil {
		return nil, err
	}

	stats := PortfolioStats{
		Clients:        len(clients),
		Debts:          len(debts),
		TotalPrincipal: ZeroMoney(),
		TotalPaid:      ZeroMoney(),
		TotalOwed:      ZeroMoney(),
	}
	now := a.Config.now()

	var paidDays float64
	var paidCount int

	for i := range debts {
		d := &debts[i]
		if d.Cancelled() {
			stats.CancelledDebts++
			continue
		}
		payments, err := a.Store.ListPayments(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		outstanding := ComputeBalance(d.Principal, payments)
		status := DeriveStatus(d.Principal, outstanding, d.DueDate, false, now, a.Config.Grace)

		stats.TotalPrincipal = stats.TotalPrincipal.Add(d.Principal)
		stats.TotalPaid = stats.TotalPaid.Add(PaidTotal(payments))
		stats.TotalOwed = stats.TotalOwed.Add(outstanding)

		switch status {
		case StatusPaid:
			stats.PaidDebts++
			if settled, ok := settledAt(payments); ok {
				paidDays += settled.Sub(d.CreatedAt).Hours() / 24
				paidCount++
			}
		case StatusOverdue:
			stats.OpenDebts++
			stats.OverdueDebts++
		default:
			stats.OpenDebts++
		}
	}

	if paidCount > 0 {
		stats.AvgDaysToPay = paidDays / float64(paidCount)
	}
	return &stats, nil
}

// settledAt returns the paid-at time of the last payment in the log, i.e.
// the moment the debt reached zero for a fully paid debt.
func settledAt(payments []Payment) (time.Time, bool) {
	if len(payments) == 0 {
		return time.Time{}, false
	}
	last := payments[0].PaidAt
	for _, p := range payments[1:] {
		if p.PaidAt.After(last) {
			last = p.PaidAt
		}
	}
	return last, true
}
