// Package memstore is an in-process implementation of the repository interfaces.
// It backs STORAGE_DRIVER=memory and the service tests. Transactions hold a single
// store-wide lock and restore a copy of the state on error.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"

	"github.com/google/uuid"
)

// Hook is called before every operation; a non-nil error aborts it.
type Hook func(op string) error

type Store struct {
	mu          sync.Mutex
	st          *state
	unavailable atomic.Bool
	hook        atomic.Pointer[Hook]
}

type state struct {
	products     map[uuid.UUID]models.Product
	adjustments  []models.StockAdjustment
	seq          int64
	snapshots    map[uuid.UUID]models.InventorySnapshot
	transactions map[uuid.UUID]models.Transaction
	txEvents     []models.TransactionEvent
	attempts     map[uuid.UUID]models.NotificationAttempt
	deliveries   []models.NotificationDelivery
	settings     map[string]string
}

func New() *Store {
	return &Store{st: &state{
		products:     map[uuid.UUID]models.Product{},
		snapshots:    map[uuid.UUID]models.InventorySnapshot{},
		transactions: map[uuid.UUID]models.Transaction{},
		attempts:     map[uuid.UUID]models.NotificationAttempt{},
		settings:     map[string]string{},
	}}
}

// SetUnavailable makes every following operation fail with repository.ErrUnavailable.
func (s *Store) SetUnavailable(v bool) { s.unavailable.Store(v) }

func (s *Store) SetHook(h Hook) {
	if h == nil {
		s.hook.Store(nil)
		return
	}
	s.hook.Store(&h)
}

func (s *Store) Repository() *repository.Repository { return s.view(false) }

func (s *Store) view(inTx bool) *repository.Repository {
	v := &view{s: s, inTx: inTx}
	return repository.Compose(
		productRepo{v}, ledgerRepo{v}, snapshotRepo{v},
		transactionRepo{v}, notificationRepo{v}, settingsRepo{v},
		txRunner{v},
	)
}

func (s *Store) check(op string) error {
	if s.unavailable.Load() {
		return fmt.Errorf("%w: %s", repository.ErrUnavailable, op)
	}
	if h := s.hook.Load(); h != nil {
		return (*h)(op)
	}
	return nil
}

type view struct {
	s    *Store
	inTx bool
}

func (v *view) do(op string, fn func(st *state) error) error {
	if err := v.s.check(op); err != nil {
		return err
	}
	if !v.inTx {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.st)
}

type txRunner struct{ v *view }

func (t txRunner) Transaction(ctx context.Context, fn func(tx *repository.Repository) error) error {
	if err := t.v.s.check("tx.begin"); err != nil {
		return err
	}
	if t.v.inTx {
		return fn(t.v.s.view(true))
	}
	s := t.v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.st.clone()
	if err := fn(s.view(true)); err != nil {
		s.st = backup
		return err
	}
	if err := ctx.Err(); err != nil {
		s.st = backup
		return err
	}
	return nil
}

func (st *state) clone() *state {
	c := &state{
		products:     make(map[uuid.UUID]models.Product, len(st.products)),
		adjustments:  append([]models.StockAdjustment(nil), st.adjustments...),
		seq:          st.seq,
		snapshots:    make(map[uuid.UUID]models.InventorySnapshot, len(st.snapshots)),
		transactions: make(map[uuid.UUID]models.Transaction, len(st.transactions)),
		txEvents:     append([]models.TransactionEvent(nil), st.txEvents...),
		attempts:     make(map[uuid.UUID]models.NotificationAttempt, len(st.attempts)),
		deliveries:   append([]models.NotificationDelivery(nil), st.deliveries...),
		settings:     make(map[string]string, len(st.settings)),
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.snapshots {
		c.snapshots[k] = v
	}
	for k, v := range st.transactions {
		v.Items = append([]models.TransactionItem(nil), v.Items...)
		c.transactions[k] = v
	}
	for k, v := range st.attempts {
		c.attempts[k] = v
	}
	for k, v := range st.settings {
		c.settings[k] = v
	}
	return c
}
