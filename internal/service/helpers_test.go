package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"kiosk-service/internal/events"
	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"
	"kiosk-service/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu       sync.Mutex
	balances []events.BalanceChanged
	statuses []events.StatusChanged
}

func (p *recordingPublisher) PublishBalance(e events.BalanceChanged) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances = append(p.balances, e)
}

func (p *recordingPublisher) PublishStatus(e events.StatusChanged) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, e)
}

func (p *recordingPublisher) balanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.balances)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.Advance(d)
	return ctx.Err()
}

type fixture struct {
	store *memstore.Store
	repo  *repository.Repository
	pub   *recordingPublisher
	clock *fakeClock
	inv   *inventoryService
	rec   *reconciliationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	repo := store.Repository()
	pub := &recordingPublisher{}
	clock := newFakeClock()

	inv := NewInventoryService(repo, pub, zap.NewNop())
	inv.now = clock.Now

	rec := NewReconciliationService(repo, inv, DefaultReconciliationConfig(), zap.NewNop())
	rec.now = clock.Now
	rec.sleep = clock.sleep

	return &fixture{store: store, repo: repo, pub: pub, clock: clock, inv: inv, rec: rec}
}

func (f *fixture) product(t *testing.T, priceCents int64, threshold int32) uuid.UUID {
	t.Helper()
	p := &models.Product{
		ID:                       uuid.New(),
		Name:                     "product-" + uuid.NewString()[:8],
		PriceCents:               priceCents,
		DefaultLowStockThreshold: threshold,
		IsActive:                 true,
	}
	require.NoError(t, f.repo.Products.Create(context.Background(), p))
	return p.ID
}

func (f *fixture) restock(t *testing.T, pid uuid.UUID, qty int64) *models.InventorySnapshot {
	t.Helper()
	snap, err := f.inv.RecordManualStockUpdate(context.Background(), pid, qty, models.ReasonManualRestock, uuid.New())
	require.NoError(t, err)
	return snap
}

func (f *fixture) balance(t *testing.T, pid uuid.UUID) int64 {
	t.Helper()
	snap, err := f.inv.GetSnapshot(context.Background(), pid)
	require.NoError(t, err)
	return snap.CurrentBalance
}

func (f *fixture) ledger(t *testing.T, pid uuid.UUID) []models.StockAdjustment {
	t.Helper()
	adjs, err := f.repo.Ledger.ListFor(context.Background(), pid, nil)
	require.NoError(t, err)
	return adjs
}
