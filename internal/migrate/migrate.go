package migrate

import (
	"context"

	"kiosk-service/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MigrateOptions struct {
	CreateExtensions       bool // pgcrypto
	CreateChecks           bool // CHECK-constraint'ы
	CreateIndexes          bool // индексы и UNIQUE
	CreateFKsViaSQL        bool // FK через Exec после AutoMigrate
	CreateUpdatedAtTrigger bool // триггеры updated_at
	CreateLedgerGuard      bool // запрет UPDATE/DELETE на stock_adjustments
}

func DefaultMigrateOptions() MigrateOptions {
	return MigrateOptions{
		CreateExtensions:       true,
		CreateChecks:           true,
		CreateIndexes:          true,
		CreateFKsViaSQL:        true,
		CreateUpdatedAtTrigger: true,
		CreateLedgerGuard:      true,
	}
}

type step struct {
	name string
	sql  string
}

func exec(db *gorm.DB, log *zap.Logger, steps []step) error {
	for _, s := range steps {
		if err := db.Exec(s.sql).Error; err != nil {
			log.Error(s.name, zap.Error(err))
			return err
		}
	}
	return nil
}

func MigrateKioskDB(ctx context.Context, db *gorm.DB, log *zap.Logger, opt MigrateOptions) error {
	db = db.WithContext(ctx)
	log.Info("Начало миграции базы киоска")

	if opt.CreateExtensions {
		log.Info("Создание расширений PostgreSQL")
		if err := exec(db, log, []step{
			{"pgcrypto error", `CREATE EXTENSION IF NOT EXISTS pgcrypto`},
		}); err != nil {
			return err
		}
	}

	log.Info("Создание таблиц")
	if err := db.AutoMigrate(
		&models.Product{},
		&models.StockAdjustment{},
		&models.InventorySnapshot{},
		&models.Transaction{},
		&models.TransactionItem{},
		&models.TransactionEvent{},
		&models.NotificationAttempt{},
		&models.NotificationDelivery{},
		&models.KioskSetting{},
	); err != nil {
		log.Error("AutoMigrate error", zap.Error(err))
		return err
	}
	log.Info("Таблицы созданы")

	if opt.CreateUpdatedAtTrigger {
		log.Info("Создание триггеров updated_at")
		if err := exec(db, log, []step{{"triggers error", `
CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
BEGIN NEW.updated_at = now(); RETURN NEW; END; $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_products_updated ON products;
CREATE TRIGGER trg_products_updated BEFORE UPDATE ON products
FOR EACH ROW EXECUTE FUNCTION set_updated_at();

DROP TRIGGER IF EXISTS trg_kiosk_transactions_updated ON kiosk_transactions;
CREATE TRIGGER trg_kiosk_transactions_updated BEFORE UPDATE ON kiosk_transactions
FOR EACH ROW EXECUTE FUNCTION set_updated_at();

DROP TRIGGER IF EXISTS trg_notification_attempts_updated ON notification_attempts;
CREATE TRIGGER trg_notification_attempts_updated BEFORE UPDATE ON notification_attempts
FOR EACH ROW EXECUTE FUNCTION set_updated_at();
`}}); err != nil {
			return err
		}
	}

	if opt.CreateLedgerGuard {
		log.Info("Запрет изменения ledger")
		if err := exec(db, log, []step{{"ledger guard error", `
CREATE OR REPLACE FUNCTION stock_adjustments_append_only() RETURNS trigger AS $$
BEGIN RAISE EXCEPTION 'stock_adjustments is append-only'; END; $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_stock_adjustments_append_only ON stock_adjustments;
CREATE TRIGGER trg_stock_adjustments_append_only BEFORE UPDATE OR DELETE ON stock_adjustments
FOR EACH ROW EXECUTE FUNCTION stock_adjustments_append_only();
`}}); err != nil {
			return err
		}
	}

	if opt.CreateChecks {
		log.Info("Создание CHECK-ограничений")
		if err := exec(db, log, []step{
			{"chk adjustments.reason", `
ALTER TABLE stock_adjustments
	DROP CONSTRAINT IF EXISTS chk_stock_adjustments_reason_allowed,
	ADD CONSTRAINT chk_stock_adjustments_reason_allowed
	CHECK (reason IN ('sale','manual_restock','manual_correction','reconciliation_confirm','reconciliation_refund_noop'));`},
			{"chk adjustments.delta", `
ALTER TABLE stock_adjustments
	DROP CONSTRAINT IF EXISTS chk_stock_adjustments_delta_nonzero,
	ADD CONSTRAINT chk_stock_adjustments_delta_nonzero
	CHECK (delta <> 0);`},
			{"chk snapshots.threshold", `
ALTER TABLE inventory_snapshots
	DROP CONSTRAINT IF EXISTS chk_inventory_snapshots_threshold_range,
	ADD CONSTRAINT chk_inventory_snapshots_threshold_range
	CHECK (low_stock_threshold BETWEEN 1 AND 99);`},
			{"chk products.threshold", `
ALTER TABLE products
	DROP CONSTRAINT IF EXISTS chk_products_threshold_range,
	ADD CONSTRAINT chk_products_threshold_range
	CHECK (default_low_stock_threshold BETWEEN 1 AND 99 AND price_cents >= 0);`},
			{"chk items.qty", `
ALTER TABLE kiosk_transaction_items
	DROP CONSTRAINT IF EXISTS chk_kiosk_transaction_items_quantity_gt_zero,
	ADD CONSTRAINT chk_kiosk_transaction_items_quantity_gt_zero
	CHECK (quantity > 0 AND price_at_purchase >= 0);`},
			{"chk transactions.status", `
ALTER TABLE kiosk_transactions
	DROP CONSTRAINT IF EXISTS chk_kiosk_transactions_status_allowed,
	ADD CONSTRAINT chk_kiosk_transactions_status_allowed
	CHECK (status IN ('PENDING','COMPLETED','FAILED','PAYMENT_UNCERTAIN','REFUNDED'));`},
			{"chk attempts.status", `
ALTER TABLE notification_attempts
	DROP CONSTRAINT IF EXISTS chk_notification_attempts_status_allowed,
	ADD CONSTRAINT chk_notification_attempts_status_allowed
	CHECK (status IN ('pending','sent','failed'));`},
		}); err != nil {
			return err
		}
		log.Info("CHECK-и созданы")
	}

	if opt.CreateIndexes {
		log.Info("Создание индексов и уникальностей")
		if err := exec(db, log, []step{
			// не более одной pending-попытки на продукт
			{"ux attempts pending", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_notification_attempts_pending_product
ON notification_attempts (product_id) WHERE status = 'pending';`},
			{"ux items position", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_kiosk_transaction_items_tx_position
ON kiosk_transaction_items (transaction_id, position);`},
			{"ix transactions pending", `
CREATE INDEX IF NOT EXISTS ix_kiosk_transactions_pending_created
ON kiosk_transactions (created_at) WHERE status = 'PENDING';`},
			{"ix attempts due", `
CREATE INDEX IF NOT EXISTS ix_notification_attempts_due
ON notification_attempts (next_retry_at) WHERE status = 'pending';`},
			{"ix snapshots discrepancy", `
CREATE INDEX IF NOT EXISTS ix_inventory_snapshots_negative
ON inventory_snapshots (current_balance) WHERE current_balance < 0;`},
		}); err != nil {
			return err
		}
		log.Info("Индексы созданы")
	}

	if opt.CreateFKsViaSQL {
		log.Info("Создание внешних ключей")
		if err := exec(db, log, []step{
			{"fk snapshots.product_id", `
ALTER TABLE inventory_snapshots
  DROP CONSTRAINT IF EXISTS fk_inventory_snapshots_product,
  ADD CONSTRAINT fk_inventory_snapshots_product
    FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE;`},
			{"fk adjustments.product_id", `
ALTER TABLE stock_adjustments
  DROP CONSTRAINT IF EXISTS fk_stock_adjustments_product,
  ADD CONSTRAINT fk_stock_adjustments_product
    FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE RESTRICT;`},
			{"fk items.product_id", `
ALTER TABLE kiosk_transaction_items
  DROP CONSTRAINT IF EXISTS fk_kiosk_transaction_items_product,
  ADD CONSTRAINT fk_kiosk_transaction_items_product
    FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE RESTRICT;`},
			{"fk events.transaction_id", `
ALTER TABLE kiosk_transaction_events
  DROP CONSTRAINT IF EXISTS fk_kiosk_transaction_events_tx,
  ADD CONSTRAINT fk_kiosk_transaction_events_tx
    FOREIGN KEY (transaction_id) REFERENCES kiosk_transactions(id) ON DELETE CASCADE;`},
			{"fk deliveries.attempt_id", `
ALTER TABLE notification_deliveries
  DROP CONSTRAINT IF EXISTS fk_notification_deliveries_attempt,
  ADD CONSTRAINT fk_notification_deliveries_attempt
    FOREIGN KEY (attempt_id) REFERENCES notification_attempts(id) ON DELETE CASCADE;`},
		}); err != nil {
			return err
		}
		log.Info("Внешние ключи созданы")
	}

	log.Info("Миграция базы киоска успешно завершена")
	return nil
}
