package repository

import (
	"context"
	"errors"
	"time"

	"kiosk-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SnapshotRepo interface {
	Get(ctx context.Context, productID uuid.UUID) (*models.InventorySnapshot, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, productID uuid.UUID) (*models.InventorySnapshot, error)
	Ensure(ctx context.Context, productID uuid.UUID, threshold int32) error
	// ApplyDelta adds delta to the balance and clears below_threshold_notified
	// when the new balance is strictly above the threshold.
	ApplyDelta(ctx context.Context, productID uuid.UUID, delta int64, at time.Time) (*models.InventorySnapshot, error)
	SetThreshold(ctx context.Context, productID uuid.UUID, threshold int32) (*models.InventorySnapshot, error)
	SetBalance(ctx context.Context, productID uuid.UUID, balance int64) (*models.InventorySnapshot, error)
	// ClaimAlert flips below_threshold_notified to true only if the product is
	// currently at or below its threshold and has not been alerted for this episode.
	ClaimAlert(ctx context.Context, productID uuid.UUID) (bool, error)
	List(ctx context.Context) ([]models.InventorySnapshot, error)
	ListDiscrepancies(ctx context.Context) ([]models.InventorySnapshot, error)
	ListAlertCandidates(ctx context.Context) ([]models.InventorySnapshot, error)
}

type snapshotRepo struct{ db *gorm.DB }

func NewSnapshotRepo(db *gorm.DB) SnapshotRepo { return &snapshotRepo{db: db} }

func (r *snapshotRepo) Get(ctx context.Context, productID uuid.UUID) (*models.InventorySnapshot, error) {
	return r.get(r.db.WithContext(ctx), productID)
}

func (r *snapshotRepo) GetForUpdate(ctx context.Context, productID uuid.UUID) (*models.InventorySnapshot, error) {
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), productID)
}

func (r *snapshotRepo) get(q *gorm.DB, productID uuid.UUID) (*models.InventorySnapshot, error) {
	var s models.InventorySnapshot
	err := q.First(&s, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (r *snapshotRepo) Ensure(ctx context.Context, productID uuid.UUID, threshold int32) error {
	rec := models.InventorySnapshot{
		ProductID:         productID,
		LowStockThreshold: threshold,
		UpdatedAt:         time.Now(),
	}
	return classify(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error)
}

func (r *snapshotRepo) ApplyDelta(ctx context.Context, productID uuid.UUID, delta int64, at time.Time) (*models.InventorySnapshot, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE inventory_snapshots
SET current_balance = current_balance + @delta,
    below_threshold_notified = CASE
        WHEN current_balance + @delta > low_stock_threshold THEN false
        ELSE below_threshold_notified
    END,
    last_adjustment_at = @at,
    updated_at = @at
WHERE product_id = @pid
`, map[string]any{
		"pid":   productID,
		"delta": delta,
		"at":    at,
	})
	if tx.Error != nil {
		return nil, classify(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.Get(ctx, productID)
}

func (r *snapshotRepo) SetThreshold(ctx context.Context, productID uuid.UUID, threshold int32) (*models.InventorySnapshot, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE inventory_snapshots
SET low_stock_threshold = @t,
    below_threshold_notified = CASE
        WHEN current_balance > @t THEN false
        ELSE below_threshold_notified
    END,
    updated_at = now()
WHERE product_id = @pid
`, map[string]any{"pid": productID, "t": threshold})
	if tx.Error != nil {
		return nil, classify(tx.Error)
	}
	return r.Get(ctx, productID)
}

// SetBalance overwrites the balance, clearing the notified flag when it lands above threshold.
func (r *snapshotRepo) SetBalance(ctx context.Context, productID uuid.UUID, balance int64) (*models.InventorySnapshot, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE inventory_snapshots
SET current_balance = @balance,
    below_threshold_notified = CASE
        WHEN @balance > low_stock_threshold THEN false
        ELSE below_threshold_notified
    END,
    updated_at = now()
WHERE product_id = @pid
`, map[string]any{"pid": productID, "balance": balance})
	if tx.Error != nil {
		return nil, classify(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.Get(ctx, productID)
}

func (r *snapshotRepo) ClaimAlert(ctx context.Context, productID uuid.UUID) (bool, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE inventory_snapshots
SET below_threshold_notified = true,
    updated_at = now()
WHERE product_id = @pid
  AND below_threshold_notified = false
  AND current_balance <= low_stock_threshold
`, map[string]any{"pid": productID})
	return tx.RowsAffected > 0, classify(tx.Error)
}

func (r *snapshotRepo) List(ctx context.Context) ([]models.InventorySnapshot, error) {
	var list []models.InventorySnapshot
	err := r.db.WithContext(ctx).Order("product_id ASC").Find(&list).Error
	return list, classify(err)
}

func (r *snapshotRepo) ListDiscrepancies(ctx context.Context) ([]models.InventorySnapshot, error) {
	var list []models.InventorySnapshot
	err := r.db.WithContext(ctx).
		Where("current_balance < 0").
		Order("current_balance ASC, product_id ASC").
		Find(&list).Error
	return list, classify(err)
}

func (r *snapshotRepo) ListAlertCandidates(ctx context.Context) ([]models.InventorySnapshot, error) {
	var list []models.InventorySnapshot
	err := r.db.WithContext(ctx).
		Where("below_threshold_notified = false AND current_balance <= low_stock_threshold").
		Order("product_id ASC").
		Find(&list).Error
	return list, classify(err)
}
