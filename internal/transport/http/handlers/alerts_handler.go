package handlers

import (
	"context"
	"net/http"
	"strconv"

	"kiosk-service/internal/models"
	"kiosk-service/internal/transport/http/dto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AlertStore interface {
	ListAttempts(ctx context.Context, status *models.NotificationStatus, limit int) ([]models.NotificationAttempt, error)
	Deliveries(ctx context.Context, attemptID uuid.UUID) ([]models.NotificationDelivery, error)
}

type AlertsHandler struct {
	alerts AlertStore
	log    *zap.Logger
}

func NewAlertsHandler(alerts AlertStore, log *zap.Logger) *AlertsHandler {
	return &AlertsHandler{alerts: alerts, log: log}
}

// List returns low-stock alert attempts, ?status=failed shows the ones that gave up.
func (h *AlertsHandler) List(c *gin.Context) {
	var status *models.NotificationStatus
	if s := c.Query("status"); s != "" {
		st := models.NotificationStatus(s)
		if !st.Valid() {
			badRequest(c, h.log, "unknown status", nil)
			return
		}
		status = &st
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.alerts.ListAttempts(c.Request.Context(), status, limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAlertList(list))
}

func (h *AlertsHandler) Deliveries(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	list, err := h.alerts.Deliveries(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDeliveryList(list))
}
