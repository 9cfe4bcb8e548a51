/*
errors.go - Error taxonomy for the ledger core

PURPOSE:
  All error kinds surfaced by the ledger in one place. The HTTP layer maps
  these to transport outcomes (not-found 404, overpay/conflict 409,
  validation 400); nothing here is ever silently absorbed.

ERROR CATEGORIES:
  1. Validation errors - malformed or out-of-range input
  2. Not-found errors  - unknown client, debt, or payment
  3. Overpayment       - amount exceeds remaining balance (reject policy)
  4. Conflict          - concurrent modification detected, retryable
  5. Currency mismatch - payment currency differs from the debt's

USAGE:
  if errors.Is(err, ledger.ErrOverpayment) { ... }
  var ce *ledger.CurrencyMismatchError
  if errors.As(err, &ce) { ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrDebtNotFound is returned when a referenced debt doesn't exist.
	ErrDebtNotFound = errors.New("debt not found")

	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrValidation is the base of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrOverpayment is returned when a payment exceeds the remaining
	// balance under the reject policy. The store is left untouched.
	ErrOverpayment = errors.New("payment exceeds outstanding balance")

	// ErrCurrencyMismatch is returned when a payment names a currency other
	// than the debt's. This core never converts.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrConcurrentModification is returned when the optimistic version
	// check fails. Retryable; the processor retries a bounded number of
	// times before surfacing it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDebtClosed is returned when recording against a cancelled or
	// otherwise terminal debt.
	ErrDebtClosed = errors.New("debt is closed")

	// ErrOutstandingDebts is returned when archiving a client that still
	// has debts with a nonzero outstanding balance.
	ErrOutstandingDebts = errors.New("client has outstanding debts")

	// ErrPaymentReversed is returned when reversing a payment that already
	// has a reversal entry.
	ErrPaymentReversed = errors.New("payment already reversed")

	// ErrDuplicateIdempotencyKey is returned by stores when an append races
	// an identical retry past the processor's key check. The processor
	// resolves it to the prior result; callers normally never see it.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// OverpaymentError reports how far a payment overshot the balance.
type OverpaymentError struct {
	DebtID      DebtID
	Outstanding Money
	Requested   Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("overpayment on debt %s: outstanding %v, requested %v",
		e.DebtID, e.Outstanding.Value, e.Requested.Value)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// Excess returns how much the request exceeded the balance.
func (e *OverpaymentError) Excess() Money { return e.Requested.Sub(e.Outstanding) }

// CurrencyMismatchError names both currencies involved.
type CurrencyMismatchError struct {
	DebtID       DebtID
	DebtCurrency string
	Given        string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch on debt %s: debt is %s, payment is %s",
		e.DebtID, e.DebtCurrency, e.Given)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// ConflictError reports an optimistic check failure after retries
// were exhausted.
type ConflictError struct {
	DebtID   DebtID
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on debt %s after %d attempts", e.DebtID, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Callers retrying through the API must reuse the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrDebtNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsClientError returns true if the error is due to invalid caller input
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrDebtClosed) ||
		errors.Is(err, ErrOutstandingDebts) ||
		errors.Is(err, ErrPaymentReversed)
}
