/*
reminder.go - Read-only query feeding the notification scheduler

PURPOSE:
  Supplies the debts worth reminding someone about: nonzero balance, not
  cancelled, due inside a lookahead window. That is the whole contract.
  The external scheduler owns cadence, reminder hours, and daily send
  caps — this query never decides whether anything is sent.

SEE ALSO:
  - api/scheduler.go: The consumer, with its explicit config
*/
package ledger

import (
	"context"
	"time"
)

// ReminderQuery exposes dueForReminder over a Store.
type ReminderQuery struct {
	Store  Store
	Config Config
}

func NewReminderQuery(store Store, cfg Config) *ReminderQuery {
	return &ReminderQuery{Store: store, Config: cfg}
}

// DueForReminder returns debts with outstanding balance whose due date
// falls within [asOf, asOf+lookahead]. Cancelled and fully paid debts are
// excluded. Results are ordered by due date ascending (the store's order).
func (q *ReminderQuery) DueForReminder(ctx context.Context, asOf time.Time, lookahead time.Duration) ([]ReminderCandidate, error) {
	if lookahead < 0 {
		return nil, &ValidationError{Field: "lookahead", Message: "must not be negative"}
	}
	horizon := asOf.Add(lookahead)

	debts, err := q.Store.ListDebts(ctx)
	if err != nil {
		return nil, err
	}

	clients := make(map[ClientID]*Client)
	var out []ReminderCandidate
	for i := range debts {
		d := debts[i]
		if d.Cancelled() || !d.Balance.IsPositive() {
			continue
		}
		if d.DueDate.Before(asOf) || d.DueDate.After(horizon) {
			continue
		}
		c, ok := clients[d.ClientID]
		if !ok {
			c, err = q.Store.GetClient(ctx, d.ClientID)
			if err != nil {
				return nil, err
			}
			clients[d.ClientID] = c
		}
		if c == nil || !c.Active {
			// No one to remind for archived clients.
			continue
		}
		d.Status = DeriveStatus(d.Principal, d.Balance, d.DueDate, false, asOf, q.Config.Grace)
		out = append(out, ReminderCandidate{Debt: d, Client: *c})
	}
	return out, nil
}
