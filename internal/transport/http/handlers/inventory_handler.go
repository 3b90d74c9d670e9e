package handlers

import (
	"net/http"
	"time"

	"kiosk-service/internal/models"
	"kiosk-service/internal/service"
	"kiosk-service/internal/transport/http/dto"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	svc service.InventoryService
	log *zap.Logger
}

func NewInventoryHandler(svc service.InventoryService, log *zap.Logger) *InventoryHandler {
	return &InventoryHandler{svc: svc, log: log}
}

func (h *InventoryHandler) List(c *gin.Context) {
	list, err := h.svc.ListSnapshots(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSnapshotList(list))
}

// Discrepancies lists products whose balance went negative.
func (h *InventoryHandler) Discrepancies(c *gin.Context) {
	list, err := h.svc.ListDiscrepancies(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSnapshotList(list))
}

func (h *InventoryHandler) Get(c *gin.Context) {
	pid, ok := pathUUID(c, "productId")
	if !ok {
		return
	}
	s, err := h.svc.GetSnapshot(c.Request.Context(), pid)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSnapshotResponse(s))
}

func (h *InventoryHandler) Adjustments(c *gin.Context) {
	pid, ok := pathUUID(c, "productId")
	if !ok {
		return
	}
	var since *time.Time
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, h.log, "since must be RFC3339", err)
			return
		}
		since = &t
	}
	list, err := h.svc.ListAdjustments(c.Request.Context(), pid, since)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAdjustmentList(list))
}

// Adjust applies a signed manual delta (restock or correction).
func (h *InventoryHandler) Adjust(c *gin.Context) {
	actor, err := service.RequireAdmin(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	pid, ok := pathUUID(c, "productId")
	if !ok {
		return
	}
	var req dto.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, "invalid request body", err)
		return
	}
	s, err := h.svc.RecordManualStockUpdate(c.Request.Context(), pid, req.Delta, models.AdjustmentReason(req.Reason), actor)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSnapshotResponse(s))
}

// SetTarget sets the balance to an absolute count; the delta is computed under the product lock.
func (h *InventoryHandler) SetTarget(c *gin.Context) {
	actor, err := service.RequireAdmin(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	pid, ok := pathUUID(c, "productId")
	if !ok {
		return
	}
	var req dto.TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, "invalid request body", err)
		return
	}
	s, err := h.svc.RecordAdjustmentToTarget(c.Request.Context(), pid, *req.Target, models.AdjustmentReason(req.Reason), actor)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSnapshotResponse(s))
}

func (h *InventoryHandler) SetThreshold(c *gin.Context) {
	pid, ok := pathUUID(c, "productId")
	if !ok {
		return
	}
	var req dto.ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, "invalid request body", err)
		return
	}
	s, err := h.svc.SetLowStockThreshold(c.Request.Context(), pid, req.Threshold)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSnapshotResponse(s))
}

func (h *InventoryHandler) Rebuild(c *gin.Context) {
	pid, ok := pathUUID(c, "productId")
	if !ok {
		return
	}
	res, err := h.svc.Rebuild(c.Request.Context(), pid)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.RebuildResponse{
		ProductID: res.ProductID, Before: res.Before, After: res.After, Drift: res.Drift,
	})
}

func (h *InventoryHandler) SetTracking(c *gin.Context) {
	actor, err := service.RequireAdmin(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	var req dto.TrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, "invalid request body", err)
		return
	}
	if err := h.svc.SetTrackingEnabled(c.Request.Context(), *req.Enabled, actor); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trackingEnabled": *req.Enabled})
}
