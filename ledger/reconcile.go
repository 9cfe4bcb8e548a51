/*
reconcile.go - Payment reconciliation processor

PURPOSE:
  Validates and atomically applies payments to debts. This is the ONLY
  writer of the payment log. Everything else reads.

RECONCILIATION FLOW (ApplyPayment):
  1. Validate input (amount > 0, currency matches the debt)
  2. Resolve the debt; reject cancelled debts
  3. Idempotency: a payment already recorded under the same key for this
     debt is returned as-is, no new entry (exactly-once under retry)
  4. Recompute the prospective balance from the full payment log — the
     cache is never trusted on the write path
  5. Overpay under the reject policy fails with OverpaymentError and
     mutates nothing
  6. Append + cache update in one atomic store operation, guarded by the
     debt version observed in step 2

CONCURRENCY:
  Two concurrent payments on one debt cannot both commit against a balance
  that ignores the other: the version check fails for the loser, the
  processor re-reads and retries a bounded number of times, and surfaces
  ConflictError when attempts run out. Operations on different debts never
  coordinate.

CORRECTIONS:
  Payments are never edited or deleted. ReversePayment appends an
  offsetting entry referencing the original; both remain in the log.

SEE ALSO:
  - balance.go: The pure derivation used in steps 4-6
  - store.go: AppendPayment's CAS contract
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// POLICY
// =============================================================================

// OverpayPolicy decides what happens when a payment exceeds the remaining
// balance. The policy is always explicit; there is no implicit clamping.
type OverpayPolicy string

const (
	// OverpayReject refuses the payment with OverpaymentError. Default.
	OverpayReject OverpayPolicy = "reject"

	// OverpayAllowCredit records the payment in full; the outstanding
	// balance floors at zero and the excess is reported as credit.
	OverpayAllowCredit OverpayPolicy = "allow_credit"
)

// DefaultMaxAttempts bounds the internal retry on version conflicts.
const DefaultMaxAttempts = 3

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor applies payments to debts with per-debt serialization.
type Processor struct {
	Store       Store
	Config      Config
	Overpay     OverpayPolicy
	MaxAttempts int
}

func NewProcessor(store Store, cfg Config) *Processor {
	return &Processor{
		Store:       store,
		Config:      cfg,
		Overpay:     OverpayReject,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (pr *Processor) maxAttempts() int {
	if pr.MaxAttempts > 0 {
		return pr.MaxAttempts
	}
	return DefaultMaxAttempts
}

// PaymentInput is the structured input mapped onto ApplyPayment by the
// request-handling layer. RecordedBy is supplied by the external
// authentication layer and trusted as-is.
type PaymentInput struct {
	Amount         Money
	Currency       string // optional; must match the debt's when set
	PaidAt         time.Time
	Method         PaymentMethod
	RecordedBy     string
	Note           string
	IdempotencyKey string
}

// Result is the outcome of a successful (or idempotently replayed)
// reconciliation.
type Result struct {
	Debt    *Debt
	Payment *Payment

	// Replayed is true when the idempotency key matched an existing
	// payment and no new entry was created.
	Replayed bool

	// Credit is the amount paid beyond the principal. Nonzero only under
	// OverpayAllowCredit.
	Credit Money
}

// ApplyPayment validates and applies one payment to one debt. Every failure
// path leaves the store exactly as it was.
func (pr *Processor) ApplyPayment(ctx context.Context, debtID DebtID, in PaymentInput) (*Result, error) {
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if in.Method == "" {
		in.Method = MethodOther
	}
	if in.PaidAt.IsZero() {
		in.PaidAt = pr.Config.now()
	}

	attempts := pr.maxAttempts()
	for attempt := 1; ; attempt++ {
		res, err := pr.tryApply(ctx, debtID, in)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrConcurrentModification) || attempt >= attempts {
			if errors.Is(err, ErrConcurrentModification) {
				return nil, &ConflictError{DebtID: debtID, Attempts: attempt}
			}
			return nil, err
		}
		// Version moved under us; re-read and try again.
	}
}

func (pr *Processor) tryApply(ctx context.Context, debtID DebtID, in PaymentInput) (*Result, error) {
	debt, err := pr.Store.GetDebt(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt == nil {
		return nil, ErrDebtNotFound
	}
	if in.Currency != "" && in.Currency != debt.Currency {
		return nil, &CurrencyMismatchError{DebtID: debtID, DebtCurrency: debt.Currency, Given: in.Currency}
	}
	if debt.Cancelled() {
		return nil, ErrDebtClosed
	}

	// Idempotent replay: same key, same result, one ledger entry.
	if in.IdempotencyKey != "" {
		prior, err := pr.Store.FindPaymentByKey(ctx, debtID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return &Result{Debt: debt, Payment: prior, Replayed: true}, nil
		}
	}

	// Recompute from the full log; the cache is an optimization, not truth.
	payments, err := pr.Store.ListPayments(ctx, debtID)
	if err != nil {
		return nil, err
	}
	outstanding := ComputeBalance(debt.Principal, payments)

	if in.Amount.GreaterThan(outstanding) && pr.Overpay == OverpayReject {
		return nil, &OverpaymentError{DebtID: debtID, Outstanding: outstanding, Requested: in.Amount}
	}

	now := pr.Config.now()
	p := Payment{
		ID:             PaymentID(uuid.NewString()),
		DebtID:         debtID,
		Amount:         in.Amount,
		Kind:           KindPayment,
		PaidAt:         in.PaidAt,
		Method:         in.Method,
		RecordedBy:     in.RecordedBy,
		Note:           in.Note,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
	}

	newBalance := outstanding.Sub(in.Amount).FloorZero()
	newStatus := DeriveStatus(debt.Principal, newBalance, debt.DueDate, false, now, pr.Config.Grace)

	err = pr.Store.AppendPayment(ctx, p, debt.Version, newBalance, newStatus)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Lost a race against an identical retry; hand back its result.
		prior, ferr := pr.Store.FindPaymentByKey(ctx, debtID, in.IdempotencyKey)
		if ferr == nil && prior != nil {
			fresh, gerr := pr.Store.GetDebt(ctx, debtID)
			if gerr == nil && fresh != nil {
				return &Result{Debt: fresh, Payment: prior, Replayed: true}, nil
			}
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	updated := *debt
	updated.Balance = newBalance
	updated.Status = newStatus
	updated.Version = debt.Version + 1

	return &Result{
		Debt:    &updated,
		Payment: &p,
		Credit:  in.Amount.Sub(outstanding).FloorZero(),
	}, nil
}

// =============================================================================
// REVERSALS
// =============================================================================

// ReversalInput describes an offsetting correction entry.
type ReversalInput struct {
	RecordedBy string
	Note       string
}

// ReversePayment appends an offsetting entry for a prior payment. The
// original stays in the log; the debt's balance and status are re-derived,
// which may move a paid debt back to partially_paid. Cancelled debts and
// already-reversed payments are rejected.
func (pr *Processor) ReversePayment(ctx context.Context, debtID DebtID, paymentID PaymentID, in ReversalInput) (*Result, error) {
	attempts := pr.maxAttempts()
	for attempt := 1; ; attempt++ {
		res, err := pr.reverseOnce(ctx, debtID, paymentID, in)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrConcurrentModification) || attempt >= attempts {
			if errors.Is(err, ErrConcurrentModification) {
				return nil, &ConflictError{DebtID: debtID, Attempts: attempt}
			}
			return nil, err
		}
	}
}

// reverseOnce runs one reversal attempt. The already-reversed check and the
// append must not interleave with an archive check or another reversal of
// the same payment, so the attempt runs under WithTx when the store
// supports it.
func (pr *Processor) reverseOnce(ctx context.Context, debtID DebtID, paymentID PaymentID, in ReversalInput) (*Result, error) {
	if tx, ok := pr.Store.(TxStore); ok {
		var res *Result
		err := tx.WithTx(ctx, func(s Store) error {
			var err error
			res, err = pr.tryReverse(ctx, s, debtID, paymentID, in)
			return err
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	return pr.tryReverse(ctx, pr.Store, debtID, paymentID, in)
}

func (pr *Processor) tryReverse(ctx context.Context, s Store, debtID DebtID, paymentID PaymentID, in ReversalInput) (*Result, error) {
	debt, err := s.GetDebt(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt == nil {
		return nil, ErrDebtNotFound
	}
	if debt.Cancelled() {
		return nil, ErrDebtClosed
	}

	orig, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if orig == nil || orig.DebtID != debtID {
		return nil, ErrPaymentNotFound
	}
	if orig.Kind == KindReversal {
		return nil, &ValidationError{Field: "payment_id", Message: "cannot reverse a reversal"}
	}
	reversed, err := s.HasReversal(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if reversed {
		return nil, ErrPaymentReversed
	}

	payments, err := s.ListPayments(ctx, debtID)
	if err != nil {
		return nil, err
	}

	now := pr.Config.now()
	rev := Payment{
		ID:         PaymentID(uuid.NewString()),
		DebtID:     debtID,
		Amount:     orig.Amount,
		Kind:       KindReversal,
		ReversesID: orig.ID,
		PaidAt:     now,
		Method:     orig.Method,
		RecordedBy: in.RecordedBy,
		Note:       in.Note,
		CreatedAt:  now,
	}

	newBalance := ComputeBalance(debt.Principal, append(payments, rev))
	newStatus := DeriveStatus(debt.Principal, newBalance, debt.DueDate, false, now, pr.Config.Grace)

	if err := s.AppendPayment(ctx, rev, debt.Version, newBalance, newStatus); err != nil {
		return nil, err
	}

	updated := *debt
	updated.Balance = newBalance
	updated.Status = newStatus
	updated.Version = debt.Version + 1

	return &Result{Debt: &updated, Payment: &rev}, nil
}
