package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCart(t *testing.T, f *fixture) (*models.Transaction, uuid.UUID, uuid.UUID) {
	t.Helper()
	a := f.product(t, 250, 5)
	b := f.product(t, 100, 5)
	f.restock(t, a, 20)
	f.restock(t, b, 20)
	tx, err := f.rec.Create(context.Background(), []ItemInput{
		{ProductID: a, Quantity: 2},
		{ProductID: b, Quantity: 1},
	})
	require.NoError(t, err)
	return tx, a, b
}

func saleRows(t *testing.T, f *fixture, txID uuid.UUID) []models.StockAdjustment {
	t.Helper()
	rows, err := f.repo.Ledger.ListByTransaction(context.Background(), txID)
	require.NoError(t, err)
	return rows
}

func TestReconciliation_CreateSnapshotsPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, _ := newCart(t, f)

	assert.Equal(t, models.TransactionPending, tx.Status)
	assert.Equal(t, int64(2*250+100), tx.TotalCents)
	require.Len(t, tx.Items, 2)
	assert.Equal(t, a, tx.Items[0].ProductID)

	p, err := f.repo.Products.GetByID(ctx, a)
	require.NoError(t, err)
	p.PriceCents = 999
	require.NoError(t, f.repo.Products.Create(ctx, p))

	got, err := f.rec.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Items[0].PriceAtPurchase)
}

func TestReconciliation_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.product(t, 100, 5)

	_, err := f.rec.Create(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyItems)

	_, err = f.rec.Create(ctx, []ItemInput{{ProductID: pid, Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.rec.Create(ctx, []ItemInput{{ProductID: uuid.New(), Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotFound)

	inactive := &models.Product{ID: uuid.New(), Name: "off", PriceCents: 1, DefaultLowStockThreshold: 5}
	require.NoError(t, f.repo.Products.Create(ctx, inactive))
	_, err = f.rec.Create(ctx, []ItemInput{{ProductID: inactive.ID, Quantity: 1}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReconciliation_ConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, b := newCart(t, f)

	got, err := f.rec.Confirm(ctx, tx.ID, "cash")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)
	require.NotNil(t, got.ConfirmationMethod)
	assert.Equal(t, "cash", *got.ConfirmationMethod)

	again, err := f.rec.Confirm(ctx, tx.ID, "cash")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, again.Status)

	rows := saleRows(t, f, tx.ID)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, models.ReasonSale, r.Reason)
		assert.Nil(t, r.ActorID)
	}
	assert.Equal(t, int64(18), f.balance(t, a))
	assert.Equal(t, int64(19), f.balance(t, b))
}

func TestReconciliation_ConcurrentConfirmAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, _ := newCart(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.rec.Confirm(ctx, tx.ID, "card")
			assert.NoError(t, err)
			assert.Equal(t, models.TransactionCompleted, got.Status)
		}()
	}
	wg.Wait()

	assert.Len(t, saleRows(t, f, tx.ID), 2)
	assert.Equal(t, int64(18), f.balance(t, a))
}

func TestReconciliation_PendingExpiresAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, _ := newCart(t, f)

	f.clock.Advance(59 * time.Second)
	n, err := f.rec.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Second)
	n, err = f.rec.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.rec.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, got.Status)
	assert.Empty(t, saleRows(t, f, tx.ID))
	assert.Equal(t, int64(20), f.balance(t, a))

	_, err = f.rec.Confirm(ctx, tx.ID, "cash")
	assert.ErrorIs(t, err, ErrTransactionTerminal)
}

func TestReconciliation_ConfirmAfterWindowFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, _, _ := newCart(t, f)

	f.clock.Advance(61 * time.Second)
	got, err := f.rec.Confirm(ctx, tx.ID, "cash")
	assert.ErrorIs(t, err, ErrConfirmationWindowElapsed)
	require.NotNil(t, got)
	assert.Equal(t, models.TransactionFailed, got.Status)
	assert.Empty(t, saleRows(t, f, tx.ID))
}

func TestReconciliation_DeclineThenTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, _, _ := newCart(t, f)

	got, err := f.rec.Decline(ctx, tx.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, got.Status)

	_, err = f.rec.Decline(ctx, tx.ID, "")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.rec.ReportUncertain(ctx, tx.ID, "")
	assert.ErrorIs(t, err, ErrTransactionTerminal)
	_, err = f.rec.Reconcile(ctx, tx.ID, ResolutionConfirm, uuid.New())
	assert.ErrorIs(t, err, ErrTransactionTerminal)
}

func TestReconciliation_UncertainThenConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, b := newCart(t, f)
	admin := uuid.New()

	got, err := f.rec.ReportUncertain(ctx, tx.ID, "card reader timeout")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPaymentUncertain, got.Status)
	assert.Empty(t, saleRows(t, f, tx.ID))

	// uncertain payments are not expired by the sweep
	f.clock.Advance(10 * time.Minute)
	n, err := f.rec.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.rec.Reconcile(ctx, tx.ID, Resolution("maybe"), admin)
	assert.ErrorIs(t, err, ErrInvalidResolution)

	got, err = f.rec.Reconcile(ctx, tx.ID, ResolutionConfirm, admin)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)
	require.NotNil(t, got.ReconciledBy)
	assert.Equal(t, admin, *got.ReconciledBy)

	rows := saleRows(t, f, tx.ID)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, models.ReasonReconciliationConfirm, r.Reason)
	}
	assert.Equal(t, int64(18), f.balance(t, a))
	assert.Equal(t, int64(19), f.balance(t, b))

	_, err = f.rec.Reconcile(ctx, tx.ID, ResolutionRefund, admin)
	assert.ErrorIs(t, err, ErrTransactionTerminal)
}

func TestReconciliation_UncertainThenRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, _ := newCart(t, f)
	admin := uuid.New()

	_, err := f.rec.ReportUncertain(ctx, tx.ID, "")
	require.NoError(t, err)

	got, err := f.rec.Reconcile(ctx, tx.ID, ResolutionRefund, admin)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionRefunded, got.Status)
	assert.Empty(t, saleRows(t, f, tx.ID))
	assert.Equal(t, int64(20), f.balance(t, a))

	d, err := f.rec.Details(ctx, tx.ID)
	require.NoError(t, err)
	last := d.Events[len(d.Events)-1]
	assert.Equal(t, models.TransactionRefunded, last.ToStatus)
	assert.Equal(t, string(models.ReasonReconciliationRefundNoop), last.Reason)
	require.NotNil(t, last.ActorID)
	assert.Equal(t, admin, *last.ActorID)
}

func TestReconciliation_ReconcileRequiresUncertain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, _, _ := newCart(t, f)

	_, err := f.rec.Reconcile(ctx, tx.ID, ResolutionConfirm, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.rec.Reconcile(ctx, tx.ID, ResolutionConfirm, uuid.Nil)
	assert.ErrorIs(t, err, ErrMissingActor)
	_, err = f.rec.Reconcile(ctx, uuid.New(), ResolutionConfirm, uuid.New())
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestReconciliation_PartialAppendFailureIsNotCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, b := newCart(t, f)

	var appends int
	f.store.SetHook(func(op string) error {
		if op == "ledger.append" {
			appends++
			if appends == 2 {
				return errors.New("constraint violation")
			}
		}
		return nil
	})
	got, err := f.rec.Confirm(ctx, tx.ID, "cash")
	f.store.SetHook(nil)

	assert.ErrorIs(t, err, ErrConfirmationFailed)
	require.NotNil(t, got)
	assert.Equal(t, models.TransactionFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.True(t, strings.Contains(*got.FailureReason, "constraint violation"))

	assert.Empty(t, saleRows(t, f, tx.ID))
	assert.Equal(t, int64(20), f.balance(t, a))
	assert.Equal(t, int64(20), f.balance(t, b))
}

func unavailable(op string) error {
	return fmt.Errorf("%w: injected on %s", repository.ErrUnavailable, op)
}

func TestReconciliation_TransientOutageRecoversWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, _ := newCart(t, f)

	recoverAt := f.clock.Now().Add(9 * time.Second)
	f.store.SetHook(func(op string) error {
		if f.clock.Now().Before(recoverAt) {
			return unavailable(op)
		}
		return nil
	})
	got, err := f.rec.Confirm(ctx, tx.ID, "cash")
	f.store.SetHook(nil)

	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)
	assert.Equal(t, int64(18), f.balance(t, a))
}

func TestReconciliation_LedgerUnavailableForWindowBecomesUncertain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, _ := newCart(t, f)
	start := f.clock.Now()

	f.store.SetHook(func(op string) error {
		if op == "ledger.append" {
			return unavailable(op)
		}
		return nil
	})
	got, err := f.rec.Confirm(ctx, tx.ID, "cash")
	f.store.SetHook(nil)

	assert.ErrorIs(t, err, ErrPaymentUncertain)
	require.NotNil(t, got)
	assert.Equal(t, models.TransactionPaymentUncertain, got.Status)
	assert.False(t, f.clock.Now().Before(start.Add(30*time.Second)))
	assert.Empty(t, saleRows(t, f, tx.ID))
	assert.Equal(t, int64(20), f.balance(t, a))

	// a repeated kiosk confirmation reports the same state
	got, err = f.rec.Confirm(ctx, tx.ID, "cash")
	assert.ErrorIs(t, err, ErrPaymentUncertain)
	assert.Equal(t, models.TransactionPaymentUncertain, got.Status)
}

func TestReconciliation_TotalOutageParksAndSweeperPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, _, _ := newCart(t, f)

	f.store.SetUnavailable(true)
	got, err := f.rec.Confirm(ctx, tx.ID, "cash")
	assert.ErrorIs(t, err, ErrPaymentUncertain)
	assert.Nil(t, got)
	assert.Equal(t, []uuid.UUID{tx.ID}, f.rec.Parked())

	_, err = f.rec.ExpirePending(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	f.store.SetUnavailable(false)

	// well past the confirmation window, the parked payment must not turn into FAILED
	f.clock.Advance(5 * time.Minute)
	n, err := f.rec.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.rec.Parked())

	stored, err := f.rec.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPaymentUncertain, stored.Status)
}

func TestReconciliation_TrackingDisabledCompletesWithoutLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, a, _ := newCart(t, f)
	require.NoError(t, f.inv.SetTrackingEnabled(ctx, false, uuid.New()))

	got, err := f.rec.Confirm(ctx, tx.ID, "cash")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)
	assert.Empty(t, saleRows(t, f, tx.ID))
	assert.Equal(t, int64(20), f.balance(t, a))
}

func TestReconciliation_ListByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1, _, _ := newCart(t, f)
	_, _, _ = newCart(t, f)
	_, err := f.rec.ReportUncertain(ctx, t1.ID, "")
	require.NoError(t, err)

	st := models.TransactionPaymentUncertain
	list, total, err := f.rec.List(ctx, repository.TransactionListFilter{Status: &st})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, t1.ID, list[0].ID)
}

func TestSweeper_RunOnceNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, _ = newCart(t, f)
	f.clock.Advance(2 * time.Minute)

	sw := NewSweeper(f.rec, time.Hour, zap.NewNop())
	n, err := sw.RunOnceNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sw.Start(ctx)
	sw.Stop()
}
