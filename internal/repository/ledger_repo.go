package repository

import (
	"context"
	"time"

	"kiosk-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerRepo is the append-only stock ledger. Append is the only mutation.
type LedgerRepo interface {
	Append(ctx context.Context, adj *models.StockAdjustment) (uuid.UUID, error)
	SumFor(ctx context.Context, productID uuid.UUID) (int64, error)
	// ListFor returns adjustments ordered by created_at, seq. since is exclusive.
	ListFor(ctx context.Context, productID uuid.UUID, since *time.Time) ([]models.StockAdjustment, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.StockAdjustment, error)
}

type ledgerRepo struct{ db *gorm.DB }

func NewLedgerRepo(db *gorm.DB) LedgerRepo { return &ledgerRepo{db: db} }

func (r *ledgerRepo) Append(ctx context.Context, adj *models.StockAdjustment) (uuid.UUID, error) {
	if adj.ID == uuid.Nil {
		adj.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(adj).Error; err != nil {
		return uuid.Nil, classify(err)
	}
	return adj.ID, nil
}

func (r *ledgerRepo) SumFor(ctx context.Context, productID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&models.StockAdjustment{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("product_id = ?", productID).
		Scan(&sum).Error
	return sum, classify(err)
}

func (r *ledgerRepo) ListFor(ctx context.Context, productID uuid.UUID, since *time.Time) ([]models.StockAdjustment, error) {
	q := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if since != nil {
		q = q.Where("created_at > ?", *since)
	}
	var list []models.StockAdjustment
	err := q.Order("created_at ASC, seq ASC").Find(&list).Error
	return list, classify(err)
}

func (r *ledgerRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.StockAdjustment, error) {
	var list []models.StockAdjustment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC, seq ASC").
		Find(&list).Error
	return list, classify(err)
}
