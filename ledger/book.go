/*
book.go - Client and debt lifecycle on top of the Store

PURPOSE:
  The Book owns everything about clients and debts except payment
  application (that's reconcile.go). It validates creation input, enforces
  the archive guard, and re-derives cached statuses on every read so a debt
  that slid past its due date shows as overdue without waiting for a write.

VALIDATION:
  CreateDebt rejects principal <= 0, a missing currency, and a due date
  lying before creation by more than the configured grace window.

ARCHIVE GUARD:
  A client may only be archived when it has zero debts with nonzero
  outstanding balance. Cancelled and fully paid debts don't block.

SEE ALSO:
  - reconcile.go: Payment application (the only payment writer)
  - balance.go: Status derivation used on read paths
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config carries the knobs shared by Book and Processor. All policy is
// explicit here; nothing is read from ambient process state.
type Config struct {
	// Grace is added to the due date before a debt counts as overdue, and
	// bounds how far in the past a due date may lie at creation.
	Grace time.Duration

	// Now supplies the clock. Defaults to time.Now (UTC).
	Now func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// BOOK
// =============================================================================

// Book exposes client and debt operations backed by a Store.
type Book struct {
	Store  Store
	Config Config
}

func NewBook(store Store, cfg Config) *Book {
	return &Book{Store: store, Config: cfg}
}

// --- Clients ---

// CreateClient registers a new active client.
func (b *Book) CreateClient(ctx context.Context, name, email, phone string) (*Client, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	c := Client{
		ID:        ClientID(uuid.NewString()),
		Name:      strings.TrimSpace(name),
		Email:     email,
		Phone:     phone,
		Active:    true,
		CreatedAt: b.Config.now(),
	}
	if err := b.Store.SaveClient(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClient returns a client, or ErrClientNotFound.
func (b *Book) GetClient(ctx context.Context, id ClientID) (*Client, error) {
	c, err := b.Store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClientNotFound
	}
	return c, nil
}

// ListClients returns all clients.
func (b *Book) ListClients(ctx context.Context) ([]Client, error) {
	return b.Store.ListClients(ctx)
}

// ArchiveClient deactivates a client. Fails with ErrOutstandingDebts while
// any of the client's debts still carries a balance. The balance check and
// the deactivation must not interleave with a reversal reopening a debt, so
// both run under WithTx when the store supports it.
func (b *Book) ArchiveClient(ctx context.Context, id ClientID) (*Client, error) {
	if tx, ok := b.Store.(TxStore); ok {
		var c *Client
		err := tx.WithTx(ctx, func(s Store) error {
			var err error
			c, err = archiveClient(ctx, s, id)
			return err
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return archiveClient(ctx, b.Store, id)
}

func archiveClient(ctx context.Context, s Store, id ClientID) (*Client, error) {
	c, err := s.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClientNotFound
	}
	debts, err := s.ListClientDebts(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, d := range debts {
		if !d.Cancelled() && d.Balance.IsPositive() {
			return nil, ErrOutstandingDebts
		}
	}
	c.Active = false
	if err := s.SaveClient(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

// --- Debts ---

// CreateDebt opens a new debt for a client. The debt starts with
// status=open and balance=principal.
func (b *Book) CreateDebt(ctx context.Context, clientID ClientID, principal Money, currency string, dueDate time.Time) (*Debt, error) {
	if !principal.IsPositive() {
		return nil, &ValidationError{Field: "principal", Message: "must be positive"}
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, &ValidationError{Field: "currency", Message: "must not be empty"}
	}
	now := b.Config.now()
	if dueDate.Before(now.Add(-b.Config.Grace)) {
		return nil, &ValidationError{Field: "due_date", Message: "lies in the past beyond the grace window"}
	}

	client, err := b.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, &ValidationError{Field: "client_id", Message: "client is archived"}
	}

	d := Debt{
		ID:        DebtID(uuid.NewString()),
		ClientID:  clientID,
		Principal: principal,
		Currency:  currency,
		CreatedAt: now,
		DueDate:   dueDate,
		Balance:   principal,
		Status:    StatusOpen,
		Version:   1,
	}
	if err := b.Store.CreateDebt(ctx, d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDebt returns a debt with its status re-derived against the current
// clock, or ErrDebtNotFound. The stored cache is only as fresh as the last
// write; overdue is a function of time.
func (b *Book) GetDebt(ctx context.Context, id DebtID) (*Debt, error) {
	d, err := b.Store.GetDebt(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDebtNotFound
	}
	b.refreshStatus(d)
	return d, nil
}

// ListClientDebts returns one client's debts with freshened statuses.
func (b *Book) ListClientDebts(ctx context.Context, clientID ClientID) ([]Debt, error) {
	if _, err := b.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	debts, err := b.Store.ListClientDebts(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for i := range debts {
		b.refreshStatus(&debts[i])
	}
	return debts, nil
}

// ListDebts returns every debt with freshened statuses.
func (b *Book) ListDebts(ctx context.Context) ([]Debt, error) {
	debts, err := b.Store.ListDebts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range debts {
		b.refreshStatus(&debts[i])
	}
	return debts, nil
}

// CancelDebt diverts a debt to the cancelled terminal state. Paid and
// already-cancelled debts cannot be cancelled. The payment log remains
// readable afterwards.
func (b *Book) CancelDebt(ctx context.Context, id DebtID) (*Debt, error) {
	d, err := b.GetDebt(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, ErrDebtClosed
	}
	at := b.Config.now()
	if err := b.Store.CancelDebt(ctx, id, at, d.Version); err != nil {
		return nil, err
	}
	d.CancelledAt = &at
	d.Status = StatusCancelled
	d.Version++
	return d, nil
}

// ListPayments returns a debt's payment log, paid-at ascending.
func (b *Book) ListPayments(ctx context.Context, debtID DebtID) ([]Payment, error) {
	if _, err := b.GetDebt(ctx, debtID); err != nil {
		return nil, err
	}
	return b.Store.ListPayments(ctx, debtID)
}

func (b *Book) refreshStatus(d *Debt) {
	d.Status = DeriveStatus(d.Principal, d.Balance, d.DueDate, d.Cancelled(), b.Config.now(), b.Config.Grace)
}
