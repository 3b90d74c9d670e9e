package router

import (
	"time"

	"kiosk-service/internal/broadcast"
	"kiosk-service/internal/service"
	"kiosk-service/internal/transport/http/handlers"
	"kiosk-service/internal/transport/http/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Deps struct {
	Inventory      service.InventoryService
	Reconciliation service.ReconciliationService
	Alerts         handlers.AlertStore
	Broadcaster    *broadcast.Broadcaster
	State          *broadcast.StateCache
	Verifier       *middleware.TokenVerifier

	ClientQueueSize   int
	HeartbeatInterval time.Duration
}

func Router(d Deps, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "If-None-Match"},
		ExposeHeaders:    []string{"Content-Length", "ETag"},
		AllowCredentials: true,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	tx := handlers.NewTransactionHandler(d.Reconciliation, log)
	inv := handlers.NewInventoryHandler(d.Inventory, log)
	alerts := handlers.NewAlertsHandler(d.Alerts, log)
	live := handlers.NewLiveHandler(d.Broadcaster, d.State, d.ClientQueueSize, d.HeartbeatInterval, log)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/transactions", tx.Create)
		v1.GET("/transactions/:id", tx.Get)
		v1.POST("/transactions/:id/confirm", tx.Confirm)
		v1.POST("/transactions/:id/decline", tx.Decline)
		v1.POST("/transactions/:id/uncertain", tx.ReportUncertain)
	}

	admin := v1.Group("/admin", middleware.AdminRequired(d.Verifier, log))
	{
		admin.GET("/inventory", inv.List)
		admin.GET("/inventory/discrepancies", inv.Discrepancies)
		admin.PUT("/inventory/tracking", inv.SetTracking)
		admin.GET("/inventory/:productId", inv.Get)
		admin.GET("/inventory/:productId/adjustments", inv.Adjustments)
		admin.POST("/inventory/:productId/adjust", inv.Adjust)
		admin.POST("/inventory/:productId/target", inv.SetTarget)
		admin.PUT("/inventory/:productId/threshold", inv.SetThreshold)
		admin.POST("/inventory/:productId/rebuild", inv.Rebuild)

		admin.GET("/transactions", tx.List)
		admin.GET("/transactions/:id", tx.Details)
		admin.POST("/transactions/:id/reconcile", tx.Reconcile)

		admin.GET("/alerts", alerts.List)
		admin.GET("/alerts/:id/deliveries", alerts.Deliveries)

		admin.GET("/stream", live.Stream)
		admin.GET("/status", live.Status)
	}

	return r
}
