package service

import (
	"context"
	"time"

	"kiosk-service/internal/events"
	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"

	"github.com/google/uuid"
)

const (
	minThreshold = 1
	maxThreshold = 99
)

type SaleLine struct {
	ProductID uuid.UUID
	Quantity  int32
}

type RebuildResult struct {
	ProductID uuid.UUID
	Before    int64
	After     int64
	Drift     int64
}

// EventPublisher receives post-commit notifications. Implementations must not block.
type EventPublisher interface {
	PublishBalance(e events.BalanceChanged)
	PublishStatus(e events.StatusChanged)
}

type InventoryService interface {
	// ledger writes
	RecordSale(ctx context.Context, productID uuid.UUID, quantity int32, transactionID *uuid.UUID) (*models.InventorySnapshot, error)
	RecordManualStockUpdate(ctx context.Context, productID uuid.UUID, delta int64, reason models.AdjustmentReason, actorID uuid.UUID) (*models.InventorySnapshot, error)
	RecordAdjustmentToTarget(ctx context.Context, productID uuid.UUID, target int64, reason models.AdjustmentReason, actorID uuid.UUID) (*models.InventorySnapshot, error)
	// ApplySales appends one adjustment per line and runs inTx in the same storage
	// transaction, holding every involved product lock.
	ApplySales(ctx context.Context, lines []SaleLine, reason models.AdjustmentReason, transactionID *uuid.UUID, inTx func(tx *repository.Repository) error) ([]models.InventorySnapshot, error)

	// reads
	GetSnapshot(ctx context.Context, productID uuid.UUID) (*models.InventorySnapshot, error)
	ListSnapshots(ctx context.Context) ([]models.InventorySnapshot, error)
	ListDiscrepancies(ctx context.Context) ([]models.InventorySnapshot, error)
	ListAdjustments(ctx context.Context, productID uuid.UUID, since *time.Time) ([]models.StockAdjustment, error)

	// settings
	TrackingEnabled(ctx context.Context) (bool, error)
	SetTrackingEnabled(ctx context.Context, enabled bool, actorID uuid.UUID) error
	SetLowStockThreshold(ctx context.Context, productID uuid.UUID, threshold int32) (*models.InventorySnapshot, error)

	// maintenance
	Rebuild(ctx context.Context, productID uuid.UUID) (RebuildResult, error)
}
