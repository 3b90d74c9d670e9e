package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"
	"kiosk-service/internal/service"
	"kiosk-service/internal/transport/http/dto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TransactionHandler struct {
	svc service.ReconciliationService
	log *zap.Logger
}

func NewTransactionHandler(svc service.ReconciliationService, log *zap.Logger) *TransactionHandler {
	return &TransactionHandler{svc: svc, log: log}
}

// Create registers a PENDING transaction with prices snapshotted at purchase time.
func (h *TransactionHandler) Create(c *gin.Context) {
	var req dto.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, "invalid request body", err)
		return
	}
	items := make([]service.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		pid, err := uuid.Parse(it.ProductID)
		if err != nil {
			badRequest(c, h.log, "invalid productId", err)
			return
		}
		items = append(items, service.ItemInput{ProductID: pid, Quantity: it.Quantity})
	}

	t, err := h.svc.Create(c.Request.Context(), items)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewTransactionResponse(t))
}

func (h *TransactionHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	t, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTransactionResponse(t))
}

// Confirm records the customer's payment confirmation. When the ledger cannot be
// written in time the transaction is parked as PAYMENT_UNCERTAIN and 202 is returned.
func (h *TransactionHandler) Confirm(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req dto.ConfirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.log, "invalid request body", err)
			return
		}
	}

	t, err := h.svc.Confirm(c.Request.Context(), id, req.Method)
	if errors.Is(err, service.ErrPaymentUncertain) {
		h.log.Warn("confirmation deferred to reconciliation", zap.String("transaction_id", id.String()))
		body := gin.H{"id": id, "status": models.TransactionPaymentUncertain}
		if t != nil {
			body["status"] = t.Status
		}
		c.JSON(http.StatusAccepted, body)
		return
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTransactionResponse(t))
}

func (h *TransactionHandler) Decline(c *gin.Context) {
	h.withReason(c, h.svc.Decline)
}

func (h *TransactionHandler) ReportUncertain(c *gin.Context) {
	h.withReason(c, h.svc.ReportUncertain)
}

func (h *TransactionHandler) withReason(c *gin.Context, fn func(context.Context, uuid.UUID, string) (*models.Transaction, error)) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.log, "invalid request body", err)
			return
		}
	}
	t, err := fn(c.Request.Context(), id, req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTransactionResponse(t))
}

// List filters by ?status= and pages with ?limit=&offset=.
func (h *TransactionHandler) List(c *gin.Context) {
	var f repository.TransactionListFilter
	if s := c.Query("status"); s != "" {
		st := models.TransactionStatus(s)
		if !st.Valid() {
			badRequest(c, h.log, "unknown status", nil)
			return
		}
		f.Status = &st
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if f.Limit > 200 {
		f.Limit = 200
	}

	list, total, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	out := dto.TransactionListResponse{Items: make([]dto.TransactionResponse, 0, len(list)), Total: total}
	for i := range list {
		out.Items = append(out.Items, dto.NewTransactionResponse(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *TransactionHandler) Details(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	d, err := h.svc.Details(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTransactionDetailsResponse(d))
}

// Reconcile resolves a PAYMENT_UNCERTAIN transaction as confirm or refund.
func (h *TransactionHandler) Reconcile(c *gin.Context) {
	actor, err := service.RequireAdmin(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, "invalid request body", err)
		return
	}
	t, err := h.svc.Reconcile(c.Request.Context(), id, service.Resolution(req.Resolution), actor)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTransactionResponse(t))
}
