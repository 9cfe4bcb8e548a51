package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/ledger"
)

func TestDueForReminder(t *testing.T) {
	book, pr, mem := newTestLedger(t)
	q := ledger.NewReminderQuery(mem, testConfig())
	ctx := context.Background()
	lookahead := 3 * 24 * time.Hour

	c, err := book.CreateClient(ctx, "Acme Corp", "billing@acme.test", "")
	require.NoError(t, err)

	// Due in two days with 300 outstanding: the canonical candidate.
	inWindow, err := book.CreateDebt(ctx, c.ID, money(500), "EUR", testNow.AddDate(0, 0, 2))
	require.NoError(t, err)
	_, err = apply(pr, inWindow.ID, 200, "")
	require.NoError(t, err)

	// Fully paid, due in two days: nothing left to remind about.
	paid, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", testNow.AddDate(0, 0, 2))
	require.NoError(t, err)
	_, err = apply(pr, paid.ID, 100, "")
	require.NoError(t, err)

	// Due beyond the window.
	_, err = book.CreateDebt(ctx, c.ID, money(100), "EUR", testNow.AddDate(0, 0, 10))
	require.NoError(t, err)

	// Cancelled, due inside the window.
	cancelled, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", testNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	_, err = book.CancelDebt(ctx, cancelled.ID)
	require.NoError(t, err)

	got, err := q.DueForReminder(ctx, testNow, lookahead)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inWindow.ID, got[0].Debt.ID)
	assert.True(t, got[0].Debt.Balance.Equal(money(300)))
	assert.Equal(t, c.ID, got[0].Client.ID)
}

func TestDueForReminder_WindowBoundaries(t *testing.T) {
	book, _, mem := newTestLedger(t)
	q := ledger.NewReminderQuery(mem, testConfig())
	ctx := context.Background()

	c, err := book.CreateClient(ctx, "Acme Corp", "", "")
	require.NoError(t, err)
	atEdge, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", testNow.AddDate(0, 0, 3))
	require.NoError(t, err)

	// The horizon is inclusive.
	got, err := q.DueForReminder(ctx, testNow, 3*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, atEdge.ID, got[0].Debt.ID)

	// One hour short and the debt drops out.
	got, err = q.DueForReminder(ctx, testNow, 3*24*time.Hour-time.Hour)
	require.NoError(t, err)
	assert.Empty(t, got)

	// A due date behind asOf is not a reminder candidate; overdue debts
	// travel through a different channel.
	got, err = q.DueForReminder(ctx, testNow.AddDate(0, 0, 4), 3*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDueForReminder_SkipsArchivedClients(t *testing.T) {
	book, pr, mem := newTestLedger(t)
	q := ledger.NewReminderQuery(mem, testConfig())
	ctx := context.Background()

	c, err := book.CreateClient(ctx, "Gone GmbH", "", "")
	require.NoError(t, err)
	d, err := book.CreateDebt(ctx, c.ID, money(100), "EUR", testNow.AddDate(0, 0, 2))
	require.NoError(t, err)
	_, err = apply(pr, d.ID, 100, "")
	require.NoError(t, err)
	_, err = book.ArchiveClient(ctx, c.ID)
	require.NoError(t, err)

	// Reopen the debt by reversing its payment; the client stays archived.
	payments, err := mem.ListPayments(ctx, d.ID)
	require.NoError(t, err)
	_, err = pr.ReversePayment(ctx, d.ID, payments[0].ID, ledger.ReversalInput{Note: "entered twice"})
	require.NoError(t, err)

	got, err := q.DueForReminder(ctx, testNow, 3*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDueForReminder_NegativeLookahead(t *testing.T) {
	_, _, mem := newTestLedger(t)
	q := ledger.NewReminderQuery(mem, testConfig())

	_, err := q.DueForReminder(context.Background(), testNow, -time.Hour)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
