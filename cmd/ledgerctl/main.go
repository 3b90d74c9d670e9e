// Command ledgerctl runs one-off maintenance passes against the ledger database.
//
//	ledgerctl rebuild   recompute every snapshot from the ledger and report drift
//	ledgerctl expire    fail PENDING transactions older than the confirmation window
//	ledgerctl alerts    re-evaluate owed alerts and deliver due retries once
//	ledgerctl all       all of the above
package main

import (
	"context"
	"os"

	"kiosk-service/config"
	"kiosk-service/internal/database"
	"kiosk-service/internal/events"
	"kiosk-service/internal/logger"
	"kiosk-service/internal/notify"
	"kiosk-service/internal/repository"
	"kiosk-service/internal/sender"
	"kiosk-service/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
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
	if cfg.StorageDriver != "postgres" {
		log.Fatal("ledgerctl needs STORAGE_DRIVER=postgres", zap.String("driver", cfg.StorageDriver))
	}

	db := database.ConnectDB(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	repos := repository.New(db)
	bus := events.NewBus(log)
	defer bus.Close()
	inv := service.NewInventoryService(repos, bus, log)

	ctx := context.Background()

	cmd := "all"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "rebuild":
		rebuild(ctx, repos, inv, log)
	case "expire":
		expire(ctx, repos, inv, cfg, log)
	case "alerts":
		alerts(ctx, repos, bus, cfg, log)
	case "all":
		rebuild(ctx, repos, inv, log)
		expire(ctx, repos, inv, cfg, log)
		alerts(ctx, repos, bus, cfg, log)
	default:
		log.Fatal("unknown command", zap.String("cmd", cmd))
	}
	log.Info("ledgerctl finished", zap.String("cmd", cmd))
}

func rebuild(ctx context.Context, repos *repository.Repository, inv service.InventoryService, log *zap.Logger) {
	products, err := repos.Products.List(ctx)
	if err != nil {
		log.Fatal("failed to list products", zap.Error(err))
	}
	drifted := 0
	for _, p := range products {
		res, err := inv.Rebuild(ctx, p.ID)
		if err != nil {
			log.Error("rebuild failed", zap.String("product_id", p.ID.String()), zap.Error(err))
			continue
		}
		if res.Drift != 0 {
			drifted++
		}
	}
	log.Info("snapshots rebuilt", zap.Int("products", len(products)), zap.Int("drifted", drifted))
}

func expire(ctx context.Context, repos *repository.Repository, inv service.InventoryService, cfg *config.Config, log *zap.Logger) {
	rec := service.NewReconciliationService(repos, inv, service.ReconciliationConfig{
		ConfirmationWindow: cfg.Kiosk.ConfirmationWindow,
		PersistenceWindow:  cfg.Kiosk.PersistenceWindow,
		PersistenceRetry:   cfg.Kiosk.PersistenceRetry,
	}, log)
	n, err := rec.ExpirePending(ctx)
	if err != nil {
		log.Fatal("failed to expire pending transactions", zap.Error(err))
	}
	log.Info("pending transactions expired", zap.Int("count", n))
}

func alerts(ctx context.Context, repos *repository.Repository, bus *events.Bus, cfg *config.Config, log *zap.Logger) {
	s, esc, closer := sender.Build(cfg, log)
	defer closer.Close()
	d := notify.NewDispatcher(repos, s, esc, bus, notify.DefaultConfig(), log)
	owed, err := d.Sweep(ctx)
	if err != nil {
		log.Fatal("alert sweep failed", zap.Error(err))
	}
	due, err := d.RunDue(ctx)
	if err != nil {
		log.Fatal("alert retry pass failed", zap.Error(err))
	}
	log.Info("alerts processed", zap.Int("owed", owed), zap.Int("retried", due))
}
