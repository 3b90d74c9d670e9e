package dto

type TransactionItemRequest struct {
	ProductID string `json:"productId" binding:"required,uuid"`
	Quantity  int32  `json:"quantity" binding:"required"`
}

type CreateTransactionRequest struct {
	Items []TransactionItemRequest `json:"items" binding:"required,dive"`
}

type ConfirmRequest struct {
	Method string `json:"method"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ReconcileRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

type AdjustRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason" binding:"required"`
}

type TargetRequest struct {
	Target *int64 `json:"target" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

type ThresholdRequest struct {
	Threshold int32 `json:"threshold" binding:"required"`
}

type TrackingRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}
