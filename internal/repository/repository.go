package repository

import (
	"context"

	"gorm.io/gorm"
)

type Repository struct {
	Products      ProductRepo
	Ledger        LedgerRepo
	Snapshots     SnapshotRepo
	Transactions  TransactionRepo
	Notifications NotificationRepo
	Settings      SettingsRepo

	tx Transactor
}

// Transactor runs fn against a Repository bound to a single storage transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *Repository) error) error
}

type gormTransactor struct{ db *gorm.DB }

func (t gormTransactor) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(buildRepository(tx))
	})
}

func buildRepository(db *gorm.DB) *Repository {
	return &Repository{
		Products:      NewProductRepo(db),
		Ledger:        NewLedgerRepo(db),
		Snapshots:     NewSnapshotRepo(db),
		Transactions:  NewTransactionRepo(db),
		Notifications: NewNotificationRepo(db),
		Settings:      NewSettingsRepo(db),
		tx:            gormTransactor{db: db},
	}
}

func New(db *gorm.DB) *Repository { return buildRepository(db) }

// Compose assembles a Repository from arbitrary implementations (used by the in-memory store).
func Compose(p ProductRepo, l LedgerRepo, s SnapshotRepo, t TransactionRepo, n NotificationRepo, st SettingsRepo, tx Transactor) *Repository {
	return &Repository{
		Products:      p,
		Ledger:        l,
		Snapshots:     s,
		Transactions:  t,
		Notifications: n,
		Settings:      st,
		tx:            tx,
	}
}

// WithTx runs fn in one transaction across every repo. Returning an error rolls everything back.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return classify(r.tx.Transaction(ctx, fn))
}
