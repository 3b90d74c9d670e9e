package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kiosk-service/internal/events"
	"kiosk-service/internal/migrate"
	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"
	"kiosk-service/internal/service"
	"kiosk-service/internal/testutil"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testutil.SetupTestPostgres(t)
	if err := migrate.MigrateKioskDB(context.Background(), db, zap.NewNop(), migrate.DefaultMigrateOptions()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createProduct(t *testing.T, repo *repository.Repository, threshold int32) *models.Product {
	t.Helper()
	p := &models.Product{Name: "Cola", PriceCents: 120, DefaultLowStockThreshold: threshold, IsActive: true}
	if err := repo.Products.Create(context.Background(), p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

type noopPublisher struct{}

func (noopPublisher) PublishBalance(events.BalanceChanged) {}
func (noopPublisher) PublishStatus(events.StatusChanged)   {}

func TestLedger_AppendIsImmutable(t *testing.T) {
	db := setupDB(t)
	repo := repository.New(db)
	ctx := context.Background()
	p := createProduct(t, repo, 5)

	id, err := repo.Ledger.Append(ctx, &models.StockAdjustment{ProductID: p.ID, Delta: 10, Reason: models.ReasonManualRestock})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	// the append-only trigger rejects updates and deletes
	if err := db.Exec(`UPDATE stock_adjustments SET delta = 99 WHERE id = ?`, id).Error; err == nil {
		t.Fatal("expected update to be rejected")
	}
	if err := db.Exec(`DELETE FROM stock_adjustments WHERE id = ?`, id).Error; err == nil {
		t.Fatal("expected delete to be rejected")
	}

	sum, err := repo.Ledger.SumFor(ctx, p.ID)
	if err != nil {
		t.Fatalf("SumFor: %v", err)
	}
	if sum != 10 {
		t.Fatalf("sum = %d, want 10", sum)
	}
}

func TestLedger_RejectsZeroDeltaAndUnknownReason(t *testing.T) {
	db := setupDB(t)
	repo := repository.New(db)
	ctx := context.Background()
	p := createProduct(t, repo, 5)

	if _, err := repo.Ledger.Append(ctx, &models.StockAdjustment{ProductID: p.ID, Delta: 0, Reason: models.ReasonSale}); err == nil {
		t.Fatal("expected zero delta to be rejected")
	}
	if _, err := repo.Ledger.Append(ctx, &models.StockAdjustment{ProductID: p.ID, Delta: 1, Reason: "gift"}); err == nil {
		t.Fatal("expected unknown reason to be rejected")
	}
}

func TestSnapshots_ClaimAlertOncePerEpisode(t *testing.T) {
	db := setupDB(t)
	repo := repository.New(db)
	ctx := context.Background()
	p := createProduct(t, repo, 5)

	if err := repo.Snapshots.Ensure(ctx, p.ID, 5); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := repo.Snapshots.ApplyDelta(ctx, p.ID, 3, time.Now()); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Snapshots.ClaimAlert(ctx, p.ID)
			if err != nil {
				t.Errorf("ClaimAlert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}

	// rising above threshold re-arms the flag
	s, err := repo.Snapshots.ApplyDelta(ctx, p.ID, 10, time.Now())
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if s.BelowThresholdNotified {
		t.Fatal("flag should reset above threshold")
	}
}

func TestNotifications_OnePendingPerProduct(t *testing.T) {
	db := setupDB(t)
	repo := repository.New(db)
	ctx := context.Background()
	p := createProduct(t, repo, 5)

	now := time.Now()
	a := &models.NotificationAttempt{ProductID: p.ID, TriggerBalance: 3, Status: models.NotificationPending, NextRetryAt: &now}
	if err := repo.Notifications.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := &models.NotificationAttempt{ProductID: p.ID, TriggerBalance: 2, Status: models.NotificationPending, NextRetryAt: &now}
	err := repo.Notifications.Create(ctx, dup)
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}

	due, err := repo.Notifications.ListDue(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 1 || due[0].ID != a.ID {
		t.Fatalf("ListDue mismatch: %+v", due)
	}
}

func TestTransactions_TransitionIsConditional(t *testing.T) {
	db := setupDB(t)
	repo := repository.New(db)
	ctx := context.Background()
	p := createProduct(t, repo, 5)

	tx := &models.Transaction{
		Status:     models.TransactionPending,
		TotalCents: 240,
		Items:      []models.TransactionItem{{Position: 0, ProductID: p.ID, Quantity: 2, PriceAtPurchase: 120}},
	}
	if err := repo.Transactions.Create(ctx, tx); err != nil {
		t.Fatalf("Create: %v", err)
	}

	at := time.Now()
	method := "self_reported"
	ok, err := repo.Transactions.Transition(ctx, tx.ID, models.TransactionPending, models.TransactionCompleted, map[string]any{
		"confirmation_method": &method,
		"confirmed_at":        &at,
	})
	if err != nil || !ok {
		t.Fatalf("Transition: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Transactions.Transition(ctx, tx.ID, models.TransactionPending, models.TransactionFailed, nil)
	if err != nil {
		t.Fatalf("second Transition: %v", err)
	}
	if ok {
		t.Fatal("second transition from PENDING must not apply")
	}

	got, err := repo.Transactions.GetByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.TransactionCompleted || len(got.Items) != 1 || got.ConfirmationMethod == nil {
		t.Fatalf("GetByID mismatch: %+v", got)
	}
}

func TestInventoryService_ConcurrentSalesOnPostgres(t *testing.T) {
	db := setupDB(t)
	repo := repository.New(db)
	ctx := context.Background()
	p := createProduct(t, repo, 5)
	inv := service.NewInventoryService(repo, noopPublisher{}, zap.NewNop())

	if _, err := inv.RecordManualStockUpdate(ctx, p.ID, 50, models.ReasonManualRestock, uuid.New()); err != nil {
		t.Fatalf("restock: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := inv.RecordSale(ctx, p.ID, 3, nil); err != nil {
				t.Errorf("RecordSale: %v", err)
			}
		}()
	}
	wg.Wait()

	s, err := inv.GetSnapshot(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if s.CurrentBalance != -10 {
		t.Fatalf("balance = %d, want -10", s.CurrentBalance)
	}
	res, err := inv.Rebuild(ctx, p.ID)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Drift != 0 {
		t.Fatalf("drift = %d, want 0", res.Drift)
	}
}
