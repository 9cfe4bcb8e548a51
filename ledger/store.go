/*
store.go - Persistence interfaces for the debt ledger

PURPOSE:
  Defines the interface between the domain logic and the database. The
  payment log is append-only; the debts table additionally carries the
  derived balance/status cache and an optimistic version counter.

APPEND-ONLY CONTRACT:
  Payments have exactly one write operation: AppendPayment. There is no
  Update or Delete on payments. Corrections are reversal entries.

OPTIMISTIC CONCURRENCY:
  AppendPayment and CancelDebt take the debt version the caller observed.
  The store commits only if the stored version still matches, bumping it by
  one; otherwise it returns ErrConcurrentModification and writes nothing.
  Two concurrent payments against one debt can therefore never both commit
  against the same observed balance.

NOT-FOUND CONVENTION:
  Point lookups return (nil, nil) for missing rows. Callers in this package
  translate that into the typed not-found errors; the store itself stays
  silent about why a row was asked for.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - reconcile.go: The only writer of payments
  - book.go: Client/debt lifecycle on top of this interface
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - persistence contract
// =============================================================================

// Store handles persistence of clients, debts, and the append-only payment
// log. All reads return point-in-time snapshots; a read concurrent with an
// AppendPayment sees either none or all of its effects.
type Store interface {
	// --- Clients ---

	// SaveClient inserts or updates a client record.
	SaveClient(ctx context.Context, c Client) error

	// GetClient returns the client, or (nil, nil) when unknown.
	GetClient(ctx context.Context, id ClientID) (*Client, error)

	// ListClients returns all clients ordered by name.
	ListClients(ctx context.Context) ([]Client, error)

	// --- Debts ---

	// CreateDebt inserts a new debt row with its initial cache
	// (balance = principal, status = open, version = 1).
	CreateDebt(ctx context.Context, d Debt) error

	// GetDebt returns the debt with its cached balance/status and current
	// version, or (nil, nil) when unknown.
	GetDebt(ctx context.Context, id DebtID) (*Debt, error)

	// ListDebts returns every debt, ordered by due date ascending.
	ListDebts(ctx context.Context) ([]Debt, error)

	// ListClientDebts returns one client's debts, ordered by due date.
	ListClientDebts(ctx context.Context, clientID ClientID) ([]Debt, error)

	// CancelDebt marks the debt cancelled at the given time, guarded by the
	// version the caller observed. Returns ErrConcurrentModification when
	// the version moved.
	CancelDebt(ctx context.Context, id DebtID, at time.Time, expectedVersion int64) error

	// --- Payments (append-only) ---

	// AppendPayment atomically appends one payment and updates the owning
	// debt's cached balance/status, iff the stored debt version equals
	// expectedVersion. The version is incremented on commit. Either the
	// whole sequence commits or none of it does.
	AppendPayment(ctx context.Context, p Payment, expectedVersion int64, newBalance Money, newStatus DebtStatus) error

	// ListPayments returns a debt's payments ordered by paid-at ascending
	// (ties broken by creation order).
	ListPayments(ctx context.Context, debtID DebtID) ([]Payment, error)

	// GetPayment returns a payment by id, or (nil, nil) when unknown.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// FindPaymentByKey returns the payment recorded under the given
	// idempotency key for the debt, or (nil, nil) when none exists.
	FindPaymentByKey(ctx context.Context, debtID DebtID, key string) (*Payment, error)

	// HasReversal reports whether a reversal entry referencing the payment
	// already exists.
	HasReversal(ctx context.Context, paymentID PaymentID) (bool, error)
}

// TxStore wraps Store for read-check-write flows that must not interleave,
// such as the archive balance check racing a reversal that reopens a debt.
type TxStore interface {
	Store

	// WithTx executes fn serialized against every other WithTx call on the
	// same store. Individual writes inside fn stay atomic as usual; fn must
	// not call WithTx again.
	WithTx(ctx context.Context, fn func(Store) error) error
}
