/*
Package ledger provides the debt ledger and payment reconciliation core.

PURPOSE:
  This package contains the domain types and algorithms for tracking amounts
  owed by clients, recording payments against those debts, and deriving
  balances, statuses, and aggregate statistics. Everything visible around it
  (HTTP handlers, reminder scheduling, reporting) is glue; the arithmetic
  invariants live here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An exact decimal amount (never a float)
  - Client: The party that owes money
  - Debt: An amount owed, reduced over time by payments
  - Payment: An immutable ledger entry against a debt
  - DebtStatus: Closed status enumeration, always derived, never set freely

DESIGN PRINCIPLES:
  1. Immutability: Payments are never edited or deleted, only offset by
     reversal entries
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Derivation: A debt's cached balance/status must always be
     reconstructable by replaying its payment log
  4. Auditability: Every payment carries actor, method, and an optional
     idempotency key

SEE ALSO:
  - balance.go: Balance and status derivation
  - reconcile.go: Payment application with per-debt serialization
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal amount
// =============================================================================

// Money is an exact amount in the owning debt's currency. The core is
// single-currency per debt; currency conversion is out of scope.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money      { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money { return Money{Value: decimal.NewFromInt(value)} }
func ZeroMoney() Money                  { return Money{Value: decimal.Zero} }

// ParseMoney parses a decimal string like "249.99".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney(), err
	}
	return Money{Value: d}, nil
}

// MustParseMoney parses a decimal string, returning zero on failure.
// Only for trusted inputs (stored values, test fixtures).
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return ZeroMoney()
	}
	return m
}

func (m Money) Add(o Money) Money        { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money        { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) String() string           { return m.Value.String() }

// FloorZero clamps negative values to zero. Used when the overpay-credit
// policy records more than the principal; under the reject policy a
// negative outstanding is a defect, not a state.
func (m Money) FloorZero() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type DebtID string
type PaymentID string

// =============================================================================
// CLIENT - The party that owes
// =============================================================================

type Client struct {
	ID        ClientID
	Name      string
	Email     string
	Phone     string
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// DEBT - Amount owed, with a derived cache of balance/status
// =============================================================================

type DebtStatus string

const (
	StatusOpen          DebtStatus = "open"
	StatusPartiallyPaid DebtStatus = "partially_paid"
	StatusPaid          DebtStatus = "paid"
	StatusOverdue       DebtStatus = "overdue"
	StatusCancelled     DebtStatus = "cancelled"
)

// Terminal reports whether a status admits no further payments.
func (s DebtStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Debt is an amount owed by a client. Balance and Status are caches derived
// from the payment log; the log is the source of truth. Version backs the
// optimistic concurrency check on payment application.
type Debt struct {
	ID        DebtID
	ClientID  ClientID
	Principal Money
	Currency  string
	CreatedAt time.Time
	DueDate   time.Time

	// Derived cache. Reconstructable by replaying payments at any time.
	Balance Money
	Status  DebtStatus

	// Optimistic concurrency token, incremented on every committed payment.
	Version int64

	// Set when the debt is cancelled. Nil otherwise.
	CancelledAt *time.Time
}

// Outstanding returns the cached outstanding balance.
func (d *Debt) Outstanding() Money { return d.Balance }

// Cancelled reports whether the debt has been cancelled.
func (d *Debt) Cancelled() bool { return d.CancelledAt != nil }

// =============================================================================
// PAYMENT - Immutable, append-only ledger entry
// =============================================================================

type PaymentKind string

const (
	// KindPayment reduces the outstanding balance.
	KindPayment PaymentKind = "payment"
	// KindReversal offsets a prior payment, restoring balance.
	// Corrections are reversals, never edits.
	KindReversal PaymentKind = "reversal"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodCard     PaymentMethod = "card"
	MethodCheck    PaymentMethod = "check"
	MethodOther    PaymentMethod = "other"
)

// Payment is a single ledger entry against a debt. Immutable once recorded.
type Payment struct {
	ID         PaymentID
	DebtID     DebtID
	Amount     Money // Always positive; Kind carries the sign.
	Kind       PaymentKind
	ReversesID PaymentID // Set only for reversals.
	PaidAt     time.Time
	Method     PaymentMethod
	RecordedBy string // Actor supplied by the caller; this core trusts it.
	Note       string

	// Optional caller-supplied retry token. At most one payment per
	// (debt, key) is ever recorded.
	IdempotencyKey string

	CreatedAt time.Time
}

// Effect returns the signed contribution of this entry to the paid total.
func (p Payment) Effect() Money {
	if p.Kind == KindReversal {
		return p.Amount.Neg()
	}
	return p.Amount
}

// =============================================================================
// DERIVED AGGREGATES - Never stored as independent source of truth
// =============================================================================

// ClientStats summarizes one client's debts.
type ClientStats struct {
	ClientID       ClientID
	TotalPrincipal Money // Sum of principals of non-cancelled debts
	TotalPaid      Money // Sum of effective payments
	TotalOwed      Money // Sum of outstanding balances, recomputed per debt from the payment log
	OpenDebts      int   // open + partially_paid + overdue
	OverdueDebts   int
	PaidDebts      int
}

// PortfolioStats summarizes the whole book, for admin dashboards.
type PortfolioStats struct {
	Clients        int
	Debts          int
	TotalPrincipal Money
	TotalPaid      Money
	TotalOwed      Money
	OpenDebts      int
	OverdueDebts   int
	PaidDebts      int
	CancelledDebts int

	// Mean days from debt creation to the payment that settled it,
	// over fully paid debts. Zero when no debt has been paid off.
	AvgDaysToPay float64
}

// ReminderCandidate is one row of the dueForReminder query: a debt that
// still carries a balance and falls due inside the lookahead window.
// The external scheduler decides whether and when anything is sent.
type ReminderCandidate struct {
	Debt   Debt
	Client Client
}
