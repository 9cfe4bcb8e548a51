package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/ledger/store"
)

// =============================================================================
// DEBT CREATION
// =============================================================================

func TestCreateDebt_Validation(t *testing.T) {
	book, _, _ := newTestLedger(t)
	ctx := context.Background()
	c, err := book.CreateClient(ctx, "Acme Corp", "", "")
	require.NoError(t, err)
	due := day(2026, time.June, 1)

	t.Run("zero principal", func(t *testing.T) {
		_, err := book.CreateDebt(ctx, c.ID, money(0), "EUR", due)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("negative principal", func(t *testing.T) {
		_, err := book.CreateDebt(ctx, c.ID, money(-5), "EUR", due)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("missing currency", func(t *testing.T) {
		_, err := book.CreateDebt(ctx, c.ID, money(100), "  ", due)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("due date in the past beyond grace", func(t *testing.T) {
		_, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", testNow.AddDate(0, -1, 0))
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := book.CreateDebt(ctx, "nobody", money(100), "EUR", due)
		assert.ErrorIs(t, err, ledger.ErrClientNotFound)
	})

	t.Run("valid debt starts open at full balance", func(t *testing.T) {
		d, err := book.CreateDebt(ctx, c.ID, money(100), "eur", due)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusOpen, d.Status)
		assert.True(t, d.Balance.Equal(money(100)))
		assert.Equal(t, "EUR", d.Currency, "currency is normalized to upper case")
		assert.Equal(t, int64(1), d.Version)
	})
}

func TestCreateDebt_PastDueWithinGraceAllowed(t *testing.T) {
	mem := store.NewMemory()
	cfg := ledger.Config{
		Grace: 72 * time.Hour,
		Now:   func() time.Time { return testNow },
	}
	book := ledger.NewBook(mem, cfg)
	ctx := context.Background()
	c, err := book.CreateClient(ctx, "Acme Corp", "", "")
	require.NoError(t, err)

	d, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", testNow.Add(-48*time.Hour))
	require.NoError(t, err)
	// Already due, so it derives as overdue only once past due+grace.
	assert.Equal(t, ledger.StatusOpen, d.Status)
}

// =============================================================================
// STATUS FRESHNESS ON READ
// =============================================================================

func TestGetDebt_DerivesOverdueFromClock(t *testing.T) {
	// The stored cache says "open"; once the clock passes due+grace the
	// read path must report overdue without any write happening.
	mem := store.NewMemory()
	now := testNow
	cfg := ledger.Config{Now: func() time.Time { return now }}
	book := ledger.NewBook(mem, cfg)
	ctx := context.Background()

	c, err := book.CreateClient(ctx, "Acme Corp", "", "")
	require.NoError(t, err)
	d, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", testNow.AddDate(0, 0, 2))
	require.NoError(t, err)

	now = testNow.AddDate(0, 0, 5)
	fresh, err := book.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOverdue, fresh.Status)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelDebt(t *testing.T) {
	book, pr, _ := newTestLedger(t)
	ctx := context.Background()

	t.Run("open debt cancels", func(t *testing.T) {
		d := newDebt(t, book, 100, day(2026, time.June, 1))
		cancelled, err := book.CancelDebt(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.CancelledAt)
	})

	t.Run("cancel is terminal", func(t *testing.T) {
		d := newDebt(t, book, 100, day(2026, time.June, 1))
		_, err := book.CancelDebt(ctx, d.ID)
		require.NoError(t, err)
		_, err = book.CancelDebt(ctx, d.ID)
		assert.ErrorIs(t, err, ledger.ErrDebtClosed)
	})

	t.Run("paid debt cannot be cancelled", func(t *testing.T) {
		d := newDebt(t, book, 100, day(2026, time.June, 1))
		_, err := apply(pr, d.ID, 100, "")
		require.NoError(t, err)
		_, err = book.CancelDebt(ctx, d.ID)
		assert.ErrorIs(t, err, ledger.ErrDebtClosed)
	})

	t.Run("payment log stays readable after cancel", func(t *testing.T) {
		d := newDebt(t, book, 100, day(2026, time.June, 1))
		_, err := apply(pr, d.ID, 40, "")
		require.NoError(t, err)
		_, err = book.CancelDebt(ctx, d.ID)
		require.NoError(t, err)

		payments, err := book.ListPayments(ctx, d.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	})
}

// =============================================================================
// ARCHIVE GUARD
// =============================================================================

func TestArchiveClient(t *testing.T) {
	book, pr, _ := newTestLedger(t)
	ctx := context.Background()

	t.Run("blocked while debts carry balance", func(t *testing.T) {
		c, err := book.CreateClient(ctx, "Indebted Inc", "", "")
		require.NoError(t, err)
		_, err = book.CreateDebt(ctx, c.ID, money(100), "EUR", day(2026, time.June, 1))
		require.NoError(t, err)

		_, err = book.ArchiveClient(ctx, c.ID)
		assert.ErrorIs(t, err, ledger.ErrOutstandingDebts)
	})

	t.Run("allowed once everything is settled", func(t *testing.T) {
		c, err := book.CreateClient(ctx, "Settled LLC", "", "")
		require.NoError(t, err)
		d, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", day(2026, time.June, 1))
		require.NoError(t, err)
		_, err = apply(pr, d.ID, 100, "")
		require.NoError(t, err)

		archived, err := book.ArchiveClient(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, archived.Active)
	})

	t.Run("cancelled debts do not block", func(t *testing.T) {
		c, err := book.CreateClient(ctx, "Cancelled Co", "", "")
		require.NoError(t, err)
		d, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", day(2026, time.June, 1))
		require.NoError(t, err)
		_, err = book.CancelDebt(ctx, d.ID)
		require.NoError(t, err)

		_, err = book.ArchiveClient(ctx, c.ID)
		require.NoError(t, err)
	})

	t.Run("archived client cannot take new debts", func(t *testing.T) {
		c, err := book.CreateClient(ctx, "Gone GmbH", "", "")
		require.NoError(t, err)
		_, err = book.ArchiveClient(ctx, c.ID)
		require.NoError(t, err)

		_, err = book.CreateDebt(ctx, c.ID, money(50), "EUR", day(2026, time.June, 1))
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})
}

// The same guard over a transactional store: the balance check and the
// deactivation go through WithTx so a reversal reopening a debt cannot
// slip in between them.
func TestArchiveClient_TransactionalStore(t *testing.T) {
	mem := store.NewTxMemory()
	cfg := testConfig()
	book := ledger.NewBook(mem, cfg)
	pr := ledger.NewProcessor(mem, cfg)
	ctx := context.Background()

	c, err := book.CreateClient(ctx, "Settled LLC", "", "")
	require.NoError(t, err)
	d, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", day(2026, time.June, 1))
	require.NoError(t, err)

	_, err = book.ArchiveClient(ctx, c.ID)
	assert.ErrorIs(t, err, ledger.ErrOutstandingDebts)

	res, err := apply(pr, d.ID, 100, "")
	require.NoError(t, err)

	archived, err := book.ArchiveClient(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, archived.Active)

	// Reversals route through the same serialization point.
	rev, err := pr.ReversePayment(ctx, d.ID, res.Payment.ID, ledger.ReversalInput{Note: "entered twice"})
	require.NoError(t, err)
	assert.True(t, rev.Debt.Balance.Equal(money(100)))
	assert.Equal(t, ledger.StatusOpen, rev.Debt.Status)

	_, err = book.ArchiveClient(ctx, "nobody")
	assert.ErrorIs(t, err, ledger.ErrClientNotFound)
}
