package repository

import (
	"context"
	"errors"
	"time"

	"kiosk-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationRepo interface {
	Create(ctx context.Context, a *models.NotificationAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.NotificationAttempt, error)
	GetPendingByProduct(ctx context.Context, productID uuid.UUID) (*models.NotificationAttempt, error)
	Save(ctx context.Context, a *models.NotificationAttempt) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.NotificationAttempt, error)
	List(ctx context.Context, status *models.NotificationStatus, limit int) ([]models.NotificationAttempt, error)
	RecordDelivery(ctx context.Context, d *models.NotificationDelivery) error
	ListDeliveries(ctx context.Context, attemptID uuid.UUID) ([]models.NotificationDelivery, error)
}

type notificationRepo struct{ db *gorm.DB }

func NewNotificationRepo(db *gorm.DB) NotificationRepo { return &notificationRepo{db: db} }

func (r *notificationRepo) Create(ctx context.Context, a *models.NotificationAttempt) error {
	return classify(r.db.WithContext(ctx).Create(a).Error)
}

func (r *notificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.NotificationAttempt, error) {
	var a models.NotificationAttempt
	err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

func (r *notificationRepo) GetPendingByProduct(ctx context.Context, productID uuid.UUID) (*models.NotificationAttempt, error) {
	var a models.NotificationAttempt
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND status = ?", productID, models.NotificationPending).
		Order("created_at ASC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

func (r *notificationRepo) Save(ctx context.Context, a *models.NotificationAttempt) error {
	return classify(r.db.WithContext(ctx).Save(a).Error)
}

func (r *notificationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]models.NotificationAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []models.NotificationAttempt
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", models.NotificationPending, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, classify(err)
}

func (r *notificationRepo) List(ctx context.Context, status *models.NotificationStatus, limit int) ([]models.NotificationAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var list []models.NotificationAttempt
	err := q.Order("updated_at DESC").Limit(limit).Find(&list).Error
	return list, classify(err)
}

func (r *notificationRepo) RecordDelivery(ctx context.Context, d *models.NotificationDelivery) error {
	return classify(r.db.WithContext(ctx).Create(d).Error)
}

func (r *notificationRepo) ListDeliveries(ctx context.Context, attemptID uuid.UUID) ([]models.NotificationDelivery, error) {
	var list []models.NotificationDelivery
	err := r.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("created_at ASC").
		Find(&list).Error
	return list, classify(err)
}
