package main

import (
	"context"
	"os"

	"kiosk-service/config"
	"kiosk-service/internal/database"
	"kiosk-service/internal/logger"
	"kiosk-service/internal/migrate"

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
		log.Info("STORAGE_DRIVER is not postgres, nothing to migrate", zap.String("driver", cfg.StorageDriver))
		return
	}

	db := database.ConnectDBForMigration(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	if err := migrate.MigrateKioskDB(context.Background(), db, log, migrate.DefaultMigrateOptions()); err != nil {
		log.Fatal("Ошибка при выполнении миграции", zap.Error(err))
	}

	log.Info("Миграция успешно завершена")
}
