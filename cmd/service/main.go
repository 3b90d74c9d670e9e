package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kiosk-service/config"
	"kiosk-service/internal/broadcast"
	"kiosk-service/internal/cache"
	"kiosk-service/internal/database"
	"kiosk-service/internal/events"
	"kiosk-service/internal/logger"
	"kiosk-service/internal/notify"
	"kiosk-service/internal/repository"
	"kiosk-service/internal/repository/memstore"
	"kiosk-service/internal/sender"
	"kiosk-service/internal/service"
	"kiosk-service/internal/transport/http/middleware"
	"kiosk-service/internal/transport/http/router"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}

	defer logger.Sync()

	log := logger.L()

	cfg := config.Load(log)
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	var repos *repository.Repository
	switch cfg.StorageDriver {
	case "memory":
		log.Warn("STORAGE_DRIVER=memory: ledger is not durable")
		repos = memstore.New().Repository()
	default:
		db := database.ConnectDB(&cfg.DB.Config, log)
		defer database.CloseDB(db, log)
		repos = repository.New(db)
	}

	var stateCache cache.Cache = cache.NewMemory()
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal("failed to create redis client", zap.Error(err))
		}
		defer redisClient.Close()
		stateCache = redisClient
		log.Info("Redis cache enabled")
	} else {
		log.Info("Redis cache disabled")
	}

	bus := events.NewBus(log.Named("events"))
	dispatcherSub := bus.Subscribe("dispatcher", cfg.Alerts.EventQueueSize)
	broadcastSub := bus.Subscribe("broadcaster", cfg.Alerts.EventQueueSize)

	inv := service.NewInventoryService(repos, bus, log.Named("inventory"))
	rec := service.NewReconciliationService(repos, inv, service.ReconciliationConfig{
		ConfirmationWindow: cfg.Kiosk.ConfirmationWindow,
		PersistenceWindow:  cfg.Kiosk.PersistenceWindow,
		PersistenceRetry:   cfg.Kiosk.PersistenceRetry,
	}, log.Named("reconciliation"))
	sweeper := service.NewSweeper(rec, cfg.Kiosk.SweepInterval, log.Named("sweeper"))

	alertSender, escalator, senderCloser := sender.Build(cfg, log)
	defer senderCloser.Close()
	ncfg := notify.DefaultConfig()
	ncfg.RetryOffsets = cfg.Alerts.RetryOffsets
	ncfg.RetryInterval = cfg.Alerts.RetryInterval
	ncfg.SafetyNetEvery = cfg.Alerts.SafetyNetEvery
	ncfg.EscalationAfter = cfg.Alerts.EscalationAfter
	ncfg.DeliveryTimeout = cfg.Alerts.DeliveryTimeout
	dispatcher := notify.NewDispatcher(repos, alertSender, escalator, bus, ncfg, log.Named("alerts"))

	src := broadcast.NewSource(repos.Products, inv, dispatcher.Degraded)
	state := broadcast.NewStateCache(src, stateCache, cfg.Kiosk.StatusCacheTTL, log.Named("state"))
	bc := broadcast.New(src, log.Named("broadcast"))
	bc.OnChange(state.Invalidate)

	r := router.Router(router.Deps{
		Inventory:         inv,
		Reconciliation:    rec,
		Alerts:            dispatcher,
		Broadcaster:       bc,
		State:             state,
		Verifier:          middleware.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience),
		ClientQueueSize:   cfg.Kiosk.ClientQueueSize,
		HeartbeatInterval: cfg.Kiosk.HeartbeatInterval,
	}, log.Named("http"))

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("failed to listen", zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx, dispatcherSub.C()) })
	g.Go(func() error { return bc.Run(gctx, broadcastSub.C()) })
	g.Go(func() error {
		log.Info("Starting HTTP server", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("Starting gRPC health server", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		healthSrv.Shutdown()

		sweeper.Stop()
		// SSE streams end when their queues close
		bc.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", zap.Error(err))
		}
		grpcServer.GracefulStop()
		bus.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("service stopped with error", zap.Error(err))
		return
	}
	log.Info("service stopped gracefully")
}
