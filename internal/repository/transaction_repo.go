package repository

import (
	"context"
	"errors"
	"time"

	"kiosk-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionListFilter struct {
	Status *models.TransactionStatus
	Limit  int
	Offset int
}

type TransactionRepo interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// Transition moves the row to `to` only if its current status is `from`.
	// fields are extra columns written together with the status.
	Transition(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, fields map[string]any) (bool, error)
	List(ctx context.Context, f TransactionListFilter) ([]models.Transaction, int64, error)
	ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)
	AppendEvent(ctx context.Context, e *models.TransactionEvent) error
	ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error)
}

type transactionRepo struct{ db *gorm.DB }

func NewTransactionRepo(db *gorm.DB) TransactionRepo { return &transactionRepo{db: db} }

func (r *transactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	return classify(r.db.WithContext(ctx).Create(t).Error)
}

func (r *transactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

func (r *transactionRepo) Transition(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, fields map[string]any) (bool, error) {
	upd := map[string]any{"status": to, "updated_at": time.Now()}
	for k, v := range fields {
		upd[k] = v
	}
	tx := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(upd)
	return tx.RowsAffected > 0, classify(tx.Error)
}

func (r *transactionRepo) List(ctx context.Context, f TransactionListFilter) ([]models.Transaction, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var list []models.Transaction
	err := q.Order("created_at DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Find(&list).Error
	return list, total, classify(err)
}

func (r *transactionRepo) ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var list []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TransactionPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, classify(err)
}

func (r *transactionRepo) AppendEvent(ctx context.Context, e *models.TransactionEvent) error {
	return classify(r.db.WithContext(ctx).Create(e).Error)
}

func (r *transactionRepo) ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error) {
	var list []models.TransactionEvent
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&list).Error
	return list, classify(err)
}
