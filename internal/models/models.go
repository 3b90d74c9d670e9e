package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultLowStockThreshold = 5

// Product is the catalog projection this service reads. Catalog CRUD lives elsewhere.
type Product struct {
	ID                       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name                     string    `gorm:"type:text;not null"`
	PriceCents               int64     `gorm:"not null;default:0"`
	DefaultLowStockThreshold int32     `gorm:"not null;default:5"`
	IsActive                 bool      `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Product) TableName() string { return "products" }

type AdjustmentReason string

const (
	ReasonSale                     AdjustmentReason = "sale"
	ReasonManualRestock            AdjustmentReason = "manual_restock"
	ReasonManualCorrection         AdjustmentReason = "manual_correction"
	ReasonReconciliationConfirm    AdjustmentReason = "reconciliation_confirm"
	ReasonReconciliationRefundNoop AdjustmentReason = "reconciliation_refund_noop"
)

func (r AdjustmentReason) Valid() bool {
	switch r {
	case ReasonSale, ReasonManualRestock, ReasonManualCorrection,
		ReasonReconciliationConfirm, ReasonReconciliationRefundNoop:
		return true
	}
	return false
}

// StockAdjustment is an append-only ledger row. Rows are never updated or deleted.
type StockAdjustment struct {
	ID            uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Seq           int64            `gorm:"autoIncrement;not null;uniqueIndex"`
	ProductID     uuid.UUID        `gorm:"type:uuid;not null;index:ix_stock_adjustments_product_created,priority:1"`
	Delta         int64            `gorm:"not null"`
	Reason        AdjustmentReason `gorm:"type:text;not null"`
	ActorID       *uuid.UUID       `gorm:"type:uuid"`
	TransactionID *uuid.UUID       `gorm:"type:uuid;index"`

	CreatedAt time.Time `gorm:"not null;default:now();index:ix_stock_adjustments_product_created,priority:2"`
}

func (StockAdjustment) TableName() string { return "stock_adjustments" }

// InventorySnapshot is the materialized fold of stock_adjustments for one product.
type InventorySnapshot struct {
	ProductID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CurrentBalance         int64      `gorm:"not null;default:0"`
	LowStockThreshold      int32      `gorm:"not null;default:5"`
	BelowThresholdNotified bool       `gorm:"not null;default:false"`
	LastAdjustmentAt       *time.Time `gorm:""`

	// Global flag, filled in on read from kiosk_settings.
	TrackingEnabled bool `gorm:"-"`

	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (InventorySnapshot) TableName() string { return "inventory_snapshots" }

func (s InventorySnapshot) IsDiscrepancy() bool { return s.CurrentBalance < 0 }

func (s InventorySnapshot) BelowThreshold() bool {
	return s.CurrentBalance <= int64(s.LowStockThreshold)
}

type TransactionStatus string

const (
	TransactionPending          TransactionStatus = "PENDING"
	TransactionCompleted        TransactionStatus = "COMPLETED"
	TransactionFailed           TransactionStatus = "FAILED"
	TransactionPaymentUncertain TransactionStatus = "PAYMENT_UNCERTAIN"
	TransactionRefunded         TransactionStatus = "REFUNDED"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionPending, TransactionCompleted, TransactionFailed,
		TransactionPaymentUncertain, TransactionRefunded:
		return true
	}
	return false
}

func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionFailed || s == TransactionRefunded
}

type Transaction struct {
	ID                 uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Status             TransactionStatus `gorm:"type:text;not null;default:'PENDING';index"`
	TotalCents         int64             `gorm:"not null;default:0"`
	ConfirmationMethod *string           `gorm:"type:text"`
	ConfirmedAt        *time.Time
	ReconciledBy       *uuid.UUID `gorm:"type:uuid"`
	ReconciledAt       *time.Time
	FailureReason      *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`

	Items []TransactionItem `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
}

func (Transaction) TableName() string { return "kiosk_transactions" }

type TransactionItem struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Position        int32     `gorm:"not null"`
	ProductID       uuid.UUID `gorm:"type:uuid;not null"`
	Quantity        int32     `gorm:"not null"`
	PriceAtPurchase int64     `gorm:"not null"`
}

func (TransactionItem) TableName() string { return "kiosk_transaction_items" }

// TransactionEvent records each status change of a transaction.
type TransactionEvent struct {
	ID            uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID uuid.UUID         `gorm:"type:uuid;not null;index"`
	FromStatus    TransactionStatus `gorm:"type:text;not null"`
	ToStatus      TransactionStatus `gorm:"type:text;not null"`
	Reason        string            `gorm:"type:text;not null;default:''"`
	ActorID       *uuid.UUID        `gorm:"type:uuid"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (TransactionEvent) TableName() string { return "kiosk_transaction_events" }

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

func (s NotificationStatus) Valid() bool {
	return s == NotificationPending || s == NotificationSent || s == NotificationFailed
}

type NotificationAttempt struct {
	ID             uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID      uuid.UUID          `gorm:"type:uuid;not null;index"`
	TriggerBalance int64              `gorm:"not null"`
	Status         NotificationStatus `gorm:"type:text;not null;default:'pending';index"`
	AttemptCount   int32              `gorm:"not null;default:0"`
	NextRetryAt    *time.Time         `gorm:"index"`
	LastError      *string            `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (NotificationAttempt) TableName() string { return "notification_attempts" }

// NotificationDelivery is the audit row written for every delivery try.
type NotificationDelivery struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AttemptID uuid.UUID `gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID `gorm:"type:uuid;not null"`
	AttemptNo int32     `gorm:"not null"`
	Success   bool      `gorm:"not null"`
	Error     *string   `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (NotificationDelivery) TableName() string { return "notification_deliveries" }

const SettingTrackingEnabled = "tracking_enabled"

type KioskSetting struct {
	Key       string    `gorm:"type:text;primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (KioskSetting) TableName() string { return "kiosk_settings" }
