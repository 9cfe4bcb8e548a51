/*
balance.go - Balance and status derivation

PURPOSE:
  Pure functions answering "how much is still owed, and what state is the
  debt in?". Given a principal and the ordered payment log, the outstanding
  balance and status are fully determined. No I/O, no clock reads; the
  caller supplies "now".

KEY INSIGHT:
  The cached Balance/Status on a Debt row is an optimization, never the
  truth. Recomputing from the complete payment log must always match the
  cache — for the full log and for any prefix of it. The audit checks in
  the tests rely on this.

STATUS DERIVATION:
  cancelled       debt carries a CancelledAt timestamp
  paid            outstanding == 0
  overdue         outstanding > 0 and now > dueDate + grace
  partially_paid  0 < outstanding < principal, not overdue
  open            otherwise

SEE ALSO:
  - reconcile.go: Uses these functions before and after appending
  - stats.go: Recomputes per-debt balances for aggregate identities
*/
package ledger

import "time"

// =============================================================================
// BALANCE - principal minus effective payments
// =============================================================================

// PaidTotal sums the effective contributions of the payment log:
// payments add, reversals subtract.
func PaidTotal(payments []Payment) Money {
	total := ZeroMoney()
	for _, p := range payments {
		total = total.Add(p.Effect())
	}
	return total
}

// ComputeBalance returns principal minus the effective paid total, floored
// at zero. Under the reject policy the processor never lets the raw value
// go negative; the floor only matters when the overpay-credit policy
// records more than the principal.
func ComputeBalance(principal Money, payments []Payment) Money {
	return principal.Sub(PaidTotal(payments)).FloorZero()
}

// CreditBalance returns how much was paid beyond the principal. Nonzero
// only under the overpay-credit policy.
func CreditBalance(principal Money, payments []Payment) Money {
	return PaidTotal(payments).Sub(principal).FloorZero()
}

// =============================================================================
// STATUS - always derived, never set independently
// =============================================================================

// DeriveStatus computes a debt's status from its balance, due date, and
// cancellation flag. Deterministic and side-effect-free so incremental
// updates and full recomputation audits always agree.
func DeriveStatus(principal, outstanding Money, dueDate time.Time, cancelled bool, now time.Time, grace time.Duration) DebtStatus {
	if cancelled {
		return StatusCancelled
	}
	if outstanding.IsZero() {
		return StatusPaid
	}
	if now.After(dueDate.Add(grace)) {
		return StatusOverdue
	}
	if outstanding.LessThan(principal) {
		return StatusPartiallyPaid
	}
	return StatusOpen
}

// =============================================================================
// FULL RECOMPUTATION - audit path
// =============================================================================

// Derived is the result of replaying a debt's payment log.
type Derived struct {
	Outstanding Money
	Credit      Money
	Status      DebtStatus
}

// Recompute replays the full payment log for a debt and derives balance and
// status from scratch. The result must match the cached values on the Debt
// row; a mismatch means the cache drifted and is a defect.
func Recompute(d *Debt, payments []Payment, now time.Time, grace time.Duration) Derived {
	outstanding := ComputeBalance(d.Principal, payments)
	return Derived{
		Outstanding: outstanding,
		Credit:      CreditBalance(d.Principal, payments),
		Status:      DeriveStatus(d.Principal, outstanding, d.DueDate, d.Cancelled(), now, grace),
	}
}

// RecomputePrefix replays only the first n entries of the log. Used by
// audits to verify the cache would have been correct after every single
// payment, not just the last one.
func RecomputePrefix(d *Debt, payments []Payment, n int, now time.Time, grace time.Duration) Derived {
	if n > len(payments) {
		n = len(payments)
	}
	return Recompute(d, payments[:n], now, grace)
}
