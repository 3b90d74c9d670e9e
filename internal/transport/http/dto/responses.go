package dto

import (
	"time"

	"kiosk-service/internal/models"
	"kiosk-service/internal/service"

	"github.com/google/uuid"
)

type TransactionItemResponse struct {
	ProductID       uuid.UUID `json:"productId"`
	Quantity        int32     `json:"quantity"`
	PriceAtPurchase int64     `json:"priceAtPurchase"`
}

type TransactionResponse struct {
	ID                 uuid.UUID                 `json:"id"`
	Status             models.TransactionStatus  `json:"status"`
	TotalCents         int64                     `json:"totalCents"`
	Items              []TransactionItemResponse `json:"items"`
	ConfirmationMethod *string                   `json:"confirmationMethod,omitempty"`
	ConfirmedAt        *time.Time                `json:"confirmedAt,omitempty"`
	ReconciledBy       *uuid.UUID                `json:"reconciledBy,omitempty"`
	ReconciledAt       *time.Time                `json:"reconciledAt,omitempty"`
	FailureReason      *string                   `json:"failureReason,omitempty"`
	CreatedAt          time.Time                 `json:"createdAt"`
	UpdatedAt          time.Time                 `json:"updatedAt"`
}

func NewTransactionResponse(t *models.Transaction) TransactionResponse {
	items := make([]TransactionItemResponse, 0, len(t.Items))
	for _, it := range t.Items {
		items = append(items, TransactionItemResponse{
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.PriceAtPurchase,
		})
	}
	return TransactionResponse{
		ID:                 t.ID,
		Status:             t.Status,
		TotalCents:         t.TotalCents,
		Items:              items,
		ConfirmationMethod: t.ConfirmationMethod,
		ConfirmedAt:        t.ConfirmedAt,
		ReconciledBy:       t.ReconciledBy,
		ReconciledAt:       t.ReconciledAt,
		FailureReason:      t.FailureReason,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

type TransactionListResponse struct {
	Items []TransactionResponse `json:"items"`
	Total int64                 `json:"total"`
}

type TransactionEventResponse struct {
	From    models.TransactionStatus `json:"from"`
	To      models.TransactionStatus `json:"to"`
	Reason  string                   `json:"reason"`
	ActorID *uuid.UUID               `json:"actorId,omitempty"`
	At      time.Time                `json:"at"`
}

type TransactionDetailsResponse struct {
	TransactionResponse
	Events      []TransactionEventResponse `json:"events"`
	Adjustments []AdjustmentResponse       `json:"adjustments"`
}

func NewTransactionDetailsResponse(d *service.TransactionDetails) TransactionDetailsResponse {
	out := TransactionDetailsResponse{
		TransactionResponse: NewTransactionResponse(&d.Transaction),
		Events:              make([]TransactionEventResponse, 0, len(d.Events)),
		Adjustments:         NewAdjustmentList(d.Adjustments),
	}
	for _, e := range d.Events {
		out.Events = append(out.Events, TransactionEventResponse{
			From: e.FromStatus, To: e.ToStatus, Reason: e.Reason, ActorID: e.ActorID, At: e.CreatedAt,
		})
	}
	return out
}

type SnapshotResponse struct {
	ProductID              uuid.UUID  `json:"productId"`
	Balance                int64      `json:"balance"`
	Threshold              int32      `json:"threshold"`
	BelowThresholdNotified bool       `json:"belowThresholdNotified"`
	Discrepancy            bool       `json:"discrepancy"`
	TrackingEnabled        bool       `json:"trackingEnabled"`
	LastAdjustmentAt       *time.Time `json:"lastAdjustmentAt,omitempty"`
}

func NewSnapshotResponse(s *models.InventorySnapshot) SnapshotResponse {
	return SnapshotResponse{
		ProductID:              s.ProductID,
		Balance:                s.CurrentBalance,
		Threshold:              s.LowStockThreshold,
		BelowThresholdNotified: s.BelowThresholdNotified,
		Discrepancy:            s.IsDiscrepancy(),
		TrackingEnabled:        s.TrackingEnabled,
		LastAdjustmentAt:       s.LastAdjustmentAt,
	}
}

func NewSnapshotList(list []models.InventorySnapshot) []SnapshotResponse {
	out := make([]SnapshotResponse, 0, len(list))
	for i := range list {
		out = append(out, NewSnapshotResponse(&list[i]))
	}
	return out
}

type AdjustmentResponse struct {
	ID            uuid.UUID               `json:"id"`
	ProductID     uuid.UUID               `json:"productId"`
	Delta         int64                   `json:"delta"`
	Reason        models.AdjustmentReason `json:"reason"`
	ActorID       *uuid.UUID              `json:"actorId,omitempty"`
	TransactionID *uuid.UUID              `json:"transactionId,omitempty"`
	CreatedAt     time.Time               `json:"createdAt"`
}

func NewAdjustmentList(list []models.StockAdjustment) []AdjustmentResponse {
	out := make([]AdjustmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, AdjustmentResponse{
			ID:            a.ID,
			ProductID:     a.ProductID,
			Delta:         a.Delta,
			Reason:        a.Reason,
			ActorID:       a.ActorID,
			TransactionID: a.TransactionID,
			CreatedAt:     a.CreatedAt,
		})
	}
	return out
}

type RebuildResponse struct {
	ProductID uuid.UUID `json:"productId"`
	Before    int64     `json:"before"`
	After     int64     `json:"after"`
	Drift     int64     `json:"drift"`
}

type AlertResponse struct {
	ID             uuid.UUID                 `json:"id"`
	ProductID      uuid.UUID                 `json:"productId"`
	TriggerBalance int64                     `json:"triggerBalance"`
	Status         models.NotificationStatus `json:"status"`
	AttemptCount   int32                     `json:"attemptCount"`
	NextRetryAt    *time.Time                `json:"nextRetryAt,omitempty"`
	LastError      *string                   `json:"lastError,omitempty"`
	CreatedAt      time.Time                 `json:"createdAt"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
}

func NewAlertList(list []models.NotificationAttempt) []AlertResponse {
	out := make([]AlertResponse, 0, len(list))
	for _, a := range list {
		out = append(out, AlertResponse{
			ID:             a.ID,
			ProductID:      a.ProductID,
			TriggerBalance: a.TriggerBalance,
			Status:         a.Status,
			AttemptCount:   a.AttemptCount,
			NextRetryAt:    a.NextRetryAt,
			LastError:      a.LastError,
			CreatedAt:      a.CreatedAt,
			UpdatedAt:      a.UpdatedAt,
		})
	}
	return out
}

type DeliveryResponse struct {
	AttemptNo int32     `json:"attemptNo"`
	Success   bool      `json:"success"`
	Error     *string   `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func NewDeliveryList(list []models.NotificationDelivery) []DeliveryResponse {
	out := make([]DeliveryResponse, 0, len(list))
	for _, d := range list {
		out = append(out, DeliveryResponse{AttemptNo: d.AttemptNo, Success: d.Success, Error: d.Error, At: d.CreatedAt})
	}
	return out
}
