package repository

import (
	"context"
	"errors"
	"time"

	"kiosk-service/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepo interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type settingsRepo struct{ db *gorm.DB }

func NewSettingsRepo(db *gorm.DB) SettingsRepo { return &settingsRepo{db: db} }

func (r *settingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var s models.KioskSetting
	err := r.db.WithContext(ctx).First(&s, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return s.Value, true, nil
}

func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	rec := models.KioskSetting{Key: key, Value: value, UpdatedAt: time.Now()}
	return classify(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rec).Error)
}
