package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func testConfig() ledger.Config {
	return ledger.Config{Now: func() time.Time { return testNow }}
}

// newTestLedger wires a Book and Processor over a shared in-memory store
// with a fixed clock.
func newTestLedger(t *testing.T) (*ledger.Book, *ledger.Processor, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	cfg := testConfig()
	return ledger.NewBook(mem, cfg), ledger.NewProcessor(mem, cfg), mem
}

// newDebt creates a client and one debt for it.
func newDebt(t *testing.T, book *ledger.Book, principal float64, due time.Time) *ledger.Debt {
	t.Helper()
	ctx := context.Background()
	c, err := book.CreateClient(ctx, "Acme Corp", "billing@acme.test", "")
	require.NoError(t, err)
	d, err := book.CreateDebt(ctx, c.ID, money(principal), "EUR", due)
	require.NoError(t, err)
	return d
}

func apply(pr *ledger.Processor, debtID ledger.DebtID, amount float64, key string) (*ledger.Result, error) {
	return pr.ApplyPayment(context.Background(), debtID, ledger.PaymentInput{
		Amount:         money(amount),
		Method:         ledger.MethodTransfer,
		RecordedBy:     "tester",
		IdempotencyKey: key,
	})
}

// =============================================================================
// RECONCILIATION SCENARIOS
// =============================================================================

func TestApplyPayment_PartialThenFullThenRejected(t *testing.T) {
	// GIVEN: debt with principal 1000
	// WHEN:  600 is paid, then 400, then 1 more
	// THEN:  balance goes 400 -> 0; the third payment is rejected as
	//        overpayment and the balance stays 0
	book, pr, _ := newTestLedger(t)
	d := newDebt(t, book, 1000, day(2026, time.June, 1))

	res, err := apply(pr, d.ID, 600, "")
	require.NoError(t, err)
	assert.True(t, res.Debt.Balance.Equal(money(400)))
	assert.Equal(t, ledger.StatusPartiallyPaid, res.Debt.Status)

	res, err = apply(pr, d.ID, 400, "")
	require.NoError(t, err)
	assert.True(t, res.Debt.Balance.IsZero())
	assert.Equal(t, ledger.StatusPaid, res.Debt.Status)

	_, err = apply(pr, d.ID, 1, "")
	require.ErrorIs(t, err, ledger.ErrOverpayment)

	fresh, err := book.GetDebt(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Balance.IsZero(), "failed overpayment must not mutate balance")

	payments, err := book.ListPayments(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2, "rejected payment must not appear in the log")
}

func TestApplyPayment_Validation(t *testing.T) {
	book, pr, _ := newTestLedger(t)
	d := newDebt(t, book, 500, day(2026, time.June, 1))

	t.Run("zero amount", func(t *testing.T) {
		_, err := apply(pr, d.ID, 0, "")
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("negative amount", func(t *testing.T) {
		_, err := apply(pr, d.ID, -10, "")
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("unknown debt", func(t *testing.T) {
		_, err := apply(pr, "no-such-debt", 10, "")
		assert.ErrorIs(t, err, ledger.ErrDebtNotFound)
	})

	t.Run("currency mismatch", func(t *testing.T) {
		_, err := pr.ApplyPayment(context.Background(), d.ID, ledger.PaymentInput{
			Amount:   money(10),
			Currency: "USD",
		})
		assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)
		var ce *ledger.CurrencyMismatchError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "EUR", ce.DebtCurrency)
	})

	t.Run("cancelled debt", func(t *testing.T) {
		cancelled := newDebt(t, book, 200, day(2026, time.June, 1))
		_, err := book.CancelDebt(context.Background(), cancelled.ID)
		require.NoError(t, err)
		_, err = apply(pr, cancelled.ID, 10, "")
		assert.ErrorIs(t, err, ledger.ErrDebtClosed)
	})
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestApplyPayment_IdempotentRetry(t *testing.T) {
	// GIVEN: a payment recorded under an idempotency key
	// WHEN:  the identical request is submitted again
	// THEN:  exactly one ledger entry exists and both calls return the
	//        same payment
	book, pr, _ := newTestLedger(t)
	d := newDebt(t, book, 1000, day(2026, time.June, 1))

	first, err := apply(pr, d.ID, 600, "retry-abc")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := apply(pr, d.ID, 600, "retry-abc")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	payments, err := book.ListPayments(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)

	fresh, err := book.GetDebt(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Balance.Equal(money(400)), "the retry must not double-charge")
}

func TestApplyPayment_SameKeyDifferentDebts_BothApply(t *testing.T) {
	// Idempotency keys are scoped per debt.
	book, pr, _ := newTestLedger(t)
	d1 := newDebt(t, book, 100, day(2026, time.June, 1))
	d2 := newDebt(t, book, 100, day(2026, time.June, 1))

	_, err := apply(pr, d1.ID, 50, "shared-key")
	require.NoError(t, err)
	res, err := apply(pr, d2.ID, 50, "shared-key")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApplyPayment_ConcurrentJointOverpay(t *testing.T) {
	// GIVEN: debt with balance 1000
	// WHEN:  two concurrent 600 payments race (each fits alone, together
	//        they overshoot)
	// THEN:  at most one succeeds; the other fails with overpayment or
	//        conflict; the balance never goes negative
	book, pr, _ := newTestLedger(t)
	d := newDebt(t, book, 1000, day(2026, time.June, 1))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = apply(pr, d.ID, 600, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, ledger.ErrOverpayment) && !errors.Is(err, ledger.ErrConcurrentModification) {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	require.Equal(t, 1, succeeded, "exactly one of the racing payments may commit")

	fresh, err := book.GetDebt(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Balance.Equal(money(400)))
	assert.False(t, fresh.Balance.IsNegative())
}

func TestApplyPayment_ManyConcurrentSmallPayments(t *testing.T) {
	// Ten concurrent 10s against a principal of 100: every payment fits,
	// so with bounded retries most should land, and the invariant
	// balance = principal - sum(accepted) must hold exactly.
	book, pr, _ := newTestLedger(t)
	pr.MaxAttempts = 20 // generous retries so contention doesn't dominate
	d := newDebt(t, book, 100, day(2026, time.June, 1))

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = apply(pr, d.ID, 10, "")
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else if !errors.Is(err, ledger.ErrConcurrentModification) {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}

	fresh, err := book.GetDebt(context.Background(), d.ID)
	require.NoError(t, err)
	want := money(float64(100 - accepted*10))
	assert.True(t, fresh.Balance.Equal(want),
		"balance %v, want %v after %d accepted payments", fresh.Balance, want, accepted)

	payments, err := book.ListPayments(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Len(t, payments, accepted)
}

func TestApplyPayment_ConflictSurfacedAfterBoundedRetries(t *testing.T) {
	// A store that always reports a version conflict must produce
	// ConflictError with the attempt count, not loop forever.
	mem := store.NewMemory()
	pr := ledger.NewProcessor(alwaysConflict{mem}, testConfig())
	book := ledger.NewBook(mem, testConfig())
	d := newDebt(t, book, 100, day(2026, time.June, 1))

	_, err := apply(pr, d.ID, 10, "")
	require.ErrorIs(t, err, ledger.ErrConcurrentModification)

	var ce *ledger.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ledger.DefaultMaxAttempts, ce.Attempts)
}

// alwaysConflict wraps a store and fails every append with a version
// conflict.
type alwaysConflict struct {
	*store.Memory
}

func (alwaysConflict) AppendPayment(context.Context, ledger.Payment, int64, ledger.Money, ledger.DebtStatus) error {
	return ledger.ErrConcurrentModification
}

// =============================================================================
// OVERPAY POLICY
// =============================================================================

func TestApplyPayment_OverpayCreditPolicy(t *testing.T) {
	// GIVEN: the explicit allow-credit policy
	// WHEN:  1200 is paid on a principal of 1000
	// THEN:  the payment records in full, balance floors at zero, and the
	//        200 excess is reported as credit
	book, pr, _ := newTestLedger(t)
	pr.Overpay = ledger.OverpayAllowCredit
	d := newDebt(t, book, 1000, day(2026, time.June, 1))

	res, err := apply(pr, d.ID, 1200, "")
	require.NoError(t, err)
	assert.True(t, res.Debt.Balance.IsZero())
	assert.Equal(t, ledger.StatusPaid, res.Debt.Status)
	assert.True(t, res.Credit.Equal(money(200)))
}

// =============================================================================
// REVERSALS
// =============================================================================

func TestReversePayment_ReopensDebt(t *testing.T) {
	book, pr, _ := newTestLedger(t)
	d := newDebt(t, book, 1000, day(2026, time.June, 1))

	res, err := apply(pr, d.ID, 1000, "")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPaid, res.Debt.Status)

	rev, err := pr.ReversePayment(context.Background(), d.ID, res.Payment.ID, ledger.ReversalInput{
		RecordedBy: "auditor",
		Note:       "posted to the wrong client",
	})
	require.NoError(t, err)
	assert.True(t, rev.Debt.Balance.Equal(money(1000)))
	assert.Equal(t, ledger.StatusOpen, rev.Debt.Status)
	assert.Equal(t, ledger.KindReversal, rev.Payment.Kind)
	assert.Equal(t, res.Payment.ID, rev.Payment.ReversesID)

	// Both entries remain in the log.
	payments, err := book.ListPayments(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestReversePayment_OnlyOnce(t *testing.T) {
	book, pr, _ := newTestLedger(t)
	d := newDebt(t, book, 1000, day(2026, time.June, 1))

	res, err := apply(pr, d.ID, 400, "")
	require.NoError(t, err)

	_, err = pr.ReversePayment(context.Background(), d.ID, res.Payment.ID, ledger.ReversalInput{})
	require.NoError(t, err)

	_, err = pr.ReversePayment(context.Background(), d.ID, res.Payment.ID, ledger.ReversalInput{})
	assert.ErrorIs(t, err, ledger.ErrPaymentReversed)
}

func TestReversePayment_UnknownPayment(t *testing.T) {
	book, pr, _ := newTestLedger(t)
	d := newDebt(t, book, 1000, day(2026, time.June, 1))

	_, err := pr.ReversePayment(context.Background(), d.ID, "missing", ledger.ReversalInput{})
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

// =============================================================================
// CACHE AUDIT
// =============================================================================

func TestApplyPayment_CacheMatchesReplay(t *testing.T) {
	// After an arbitrary sequence of operations the cached balance/status
	// must equal a from-scratch replay of the payment log.
	book, pr, _ := newTestLedger(t)
	d := newDebt(t, book, 1000, day(2026, time.June, 1))

	r1, err := apply(pr, d.ID, 300, "k1")
	require.NoError(t, err)
	_, err = apply(pr, d.ID, 450, "k2")
	require.NoError(t, err)
	_, err = pr.ReversePayment(context.Background(), d.ID, r1.Payment.ID, ledger.ReversalInput{})
	require.NoError(t, err)

	ctx := context.Background()
	fresh, err := book.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	payments, err := book.ListPayments(ctx, d.ID)
	require.NoError(t, err)

	derived := ledger.Recompute(fresh, payments, testNow, 0)
	assert.True(t, fresh.Balance.Equal(derived.Outstanding),
		"cache %v drifted from replay %v", fresh.Balance, derived.Outstanding)
	assert.Equal(t, derived.Status, fresh.Status)
}
