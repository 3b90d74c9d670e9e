package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Resolution string

const (
	ResolutionConfirm Resolution = "confirm"
	ResolutionRefund  Resolution = "refund"
)

const (
	eventReasonCreated        = "created"
	eventReasonConfirmed      = "customer_confirmed"
	eventReasonDeclined       = "customer_declined"
	eventReasonTimeout        = "confirmation_timeout"
	eventReasonWindowElapsed  = "confirmation_after_window"
	eventReasonPersistFailed  = "confirmation_persistence_failed"
	eventReasonStoreUnreached = "confirmation_storage_unavailable"
	confirmationMethodAdmin   = "admin_reconciliation"
	defaultConfirmationMethod = "self_reported"
	expireBatchSize           = 100
)

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int32
}

type TransactionDetails struct {
	Transaction models.Transaction
	Events      []models.TransactionEvent
	Adjustments []models.StockAdjustment
}

type ReconciliationConfig struct {
	ConfirmationWindow time.Duration
	PersistenceWindow  time.Duration
	PersistenceRetry   time.Duration
}

func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		ConfirmationWindow: 60 * time.Second,
		PersistenceWindow:  30 * time.Second,
		PersistenceRetry:   2 * time.Second,
	}
}

type ReconciliationService interface {
	Create(ctx context.Context, items []ItemInput) (*models.Transaction, error)
	Confirm(ctx context.Context, id uuid.UUID, method string) (*models.Transaction, error)
	Decline(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	ReportUncertain(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	Reconcile(ctx context.Context, id uuid.UUID, resolution Resolution, actorID uuid.UUID) (*models.Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	Details(ctx context.Context, id uuid.UUID) (*TransactionDetails, error)
	List(ctx context.Context, f repository.TransactionListFilter) ([]models.Transaction, int64, error)
	ExpirePending(ctx context.Context) (int, error)
}

type reconciliationService struct {
	repo *repository.Repository
	inv  InventoryService
	cfg  ReconciliationConfig
	log  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	// parked holds transactions that must become PAYMENT_UNCERTAIN but could not be stored yet.
	parked map[uuid.UUID]string
}

func NewReconciliationService(repo *repository.Repository, inv InventoryService, cfg ReconciliationConfig, log *zap.Logger) *reconciliationService {
	return &reconciliationService{
		repo:     repo,
		inv:      inv,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
		inflight: make(map[uuid.UUID]struct{}),
		parked:   make(map[uuid.UUID]string),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *reconciliationService) Create(ctx context.Context, items []ItemInput) (*models.Transaction, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids = append(ids, it.ProductID)
	}

	products, err := s.repo.Products.BatchGetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := s.now()
	t := &models.Transaction{
		ID:        uuid.New(),
		Status:    models.TransactionPending,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     make([]models.TransactionItem, 0, len(items)),
	}
	for i, it := range items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if !p.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrInactiveProduct, it.ProductID)
		}
		t.Items = append(t.Items, models.TransactionItem{
			Position:        int32(i),
			ProductID:       p.ID,
			Quantity:        it.Quantity,
			PriceAtPurchase: p.PriceCents,
		})
		t.TotalCents += p.PriceCents * int64(it.Quantity)
	}

	err = s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		if err := tx.Transactions.Create(ctx, t); err != nil {
			return err
		}
		return tx.Transactions.AppendEvent(ctx, &models.TransactionEvent{
			TransactionID: t.ID,
			ToStatus:      models.TransactionPending,
			Reason:        eventReasonCreated,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("transaction created",
		zap.String("transaction_id", t.ID.String()),
		zap.Int("items", len(t.Items)),
		zap.Int64("total_cents", t.TotalCents))
	return t, nil
}

// Confirm records the customer's payment assertion. While storage is unreachable it retries
// for the persistence window and then parks the payment as PAYMENT_UNCERTAIN.
func (s *reconciliationService) Confirm(ctx context.Context, id uuid.UUID, method string) (*models.Transaction, error) {
	if method == "" {
		method = defaultConfirmationMethod
	}
	receivedAt := s.now()

	s.track(id, true)
	defer s.track(id, false)

	// the window belongs to the transaction, not to the kiosk's HTTP request
	ctx = context.WithoutCancel(ctx)
	deadline := receivedAt.Add(s.cfg.PersistenceWindow)
	for {
		t, err := s.confirmOnce(ctx, id, method, receivedAt)
		if !errors.Is(err, ErrUnavailable) {
			return t, err
		}
		if !s.now().Before(deadline) {
			s.log.Error("storage unavailable for the whole persistence window",
				zap.String("transaction_id", id.String()), zap.Error(err))
			return s.markUncertain(ctx, id, eventReasonStoreUnreached)
		}
		s.log.Warn("confirmation not persisted, retrying",
			zap.String("transaction_id", id.String()), zap.Error(err))
		if err := s.sleep(ctx, s.cfg.PersistenceRetry); err != nil {
			return nil, err
		}
	}
}

func (s *reconciliationService) confirmOnce(ctx context.Context, id uuid.UUID, method string, receivedAt time.Time) (*models.Transaction, error) {
	for {
		t, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}

		switch t.Status {
		case models.TransactionCompleted:
			return t, nil
		case models.TransactionPaymentUncertain:
			return t, ErrPaymentUncertain
		case models.TransactionFailed, models.TransactionRefunded:
			return t, ErrTransactionTerminal
		}

		if receivedAt.Sub(t.CreatedAt) > s.cfg.ConfirmationWindow {
			failed, err := s.transition(ctx, t, models.TransactionFailed, eventReasonWindowElapsed, nil, map[string]any{
				"failure_reason": strPtr(eventReasonWindowElapsed),
			})
			if errors.Is(err, errTransitionLost) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return failed, ErrConfirmationWindowElapsed
		}

		at := s.now()
		_, err = s.inv.ApplySales(ctx, saleLines(t), models.ReasonSale, &t.ID, func(tx *repository.Repository) error {
			return s.moveInTx(ctx, tx, t, models.TransactionCompleted, eventReasonConfirmed, nil, map[string]any{
				"confirmation_method": strPtr(method),
				"confirmed_at":        &at,
			})
		})
		switch {
		case err == nil:
			s.log.Info("transaction completed",
				zap.String("transaction_id", t.ID.String()), zap.String("method", method))
			return s.load(ctx, id)
		case errors.Is(err, errTransitionLost):
			continue
		case errors.Is(err, ErrUnavailable):
			return nil, err
		default:
			return s.failPersistence(ctx, t, err)
		}
	}
}

// failPersistence handles a confirmation the store rejected for a non-transient reason.
func (s *reconciliationService) failPersistence(ctx context.Context, t *models.Transaction, cause error) (*models.Transaction, error) {
	s.log.Error("confirmation rejected by storage",
		zap.String("transaction_id", t.ID.String()), zap.Error(cause))
	failed, err := s.transition(ctx, t, models.TransactionFailed, eventReasonPersistFailed, nil, map[string]any{
		"failure_reason": strPtr(cause.Error()),
	})
	if err != nil {
		s.log.Error("could not mark transaction failed",
			zap.String("transaction_id", t.ID.String()), zap.Error(err))
		return nil, errors.Join(ErrConfirmationFailed, cause)
	}
	return failed, errors.Join(ErrConfirmationFailed, cause)
}

func (s *reconciliationService) markUncertain(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	t, err := s.load(ctx, id)
	if err == nil && t.Status == models.TransactionPending {
		t, err = s.transition(ctx, t, models.TransactionPaymentUncertain, reason, nil, nil)
	}
	if err == nil {
		return t, ErrPaymentUncertain
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}

	s.mu.Lock()
	s.parked[id] = reason
	s.mu.Unlock()
	s.log.Error("payment uncertain, parked until storage returns",
		zap.String("transaction_id", id.String()), zap.Error(err))
	return nil, ErrPaymentUncertain
}

func (s *reconciliationService) Decline(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	if reason == "" {
		reason = eventReasonDeclined
	}
	return s.simpleTransition(ctx, id, models.TransactionFailed, reason, map[string]any{
		"failure_reason": strPtr(reason),
	})
}

func (s *reconciliationService) ReportUncertain(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	if reason == "" {
		reason = "ambiguous_payment_signal"
	}
	t, err := s.simpleTransition(ctx, id, models.TransactionPaymentUncertain, reason, nil)
	if errors.Is(err, errAlreadyThere) {
		return t, nil
	}
	return t, err
}

var errAlreadyThere = errors.New("already in requested state")

// simpleTransition moves a PENDING transaction without ledger effect.
func (s *reconciliationService) simpleTransition(ctx context.Context, id uuid.UUID, to models.TransactionStatus, reason string, fields map[string]any) (*models.Transaction, error) {
	for {
		t, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case t.Status == to && to == models.TransactionPaymentUncertain:
			return t, errAlreadyThere
		case t.Status.Terminal():
			return t, ErrTransactionTerminal
		case t.Status != models.TransactionPending:
			return t, ErrInvalidTransition
		}
		out, err := s.transition(ctx, t, to, reason, nil, fields)
		if errors.Is(err, errTransitionLost) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.Info("transaction status changed",
			zap.String("transaction_id", id.String()),
			zap.String("to", string(to)), zap.String("reason", reason))
		return out, nil
	}
}

func (s *reconciliationService) Reconcile(ctx context.Context, id uuid.UUID, resolution Resolution, actorID uuid.UUID) (*models.Transaction, error) {
	if resolution != ResolutionConfirm && resolution != ResolutionRefund {
		return nil, ErrInvalidResolution
	}
	if actorID == uuid.Nil {
		return nil, ErrMissingActor
	}

	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return t, ErrTransactionTerminal
	}
	if t.Status != models.TransactionPaymentUncertain {
		return t, ErrInvalidTransition
	}

	at := s.now()
	actor := actorID
	fields := map[string]any{
		"reconciled_by": &actor,
		"reconciled_at": &at,
	}

	if resolution == ResolutionRefund {
		out, err := s.transition(ctx, t, models.TransactionRefunded, string(models.ReasonReconciliationRefundNoop), &actor, fields)
		if errors.Is(err, errTransitionLost) {
			return s.reloadConflict(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		s.log.Info("transaction refunded by reconciliation",
			zap.String("transaction_id", id.String()), zap.String("actor_id", actorID.String()))
		return out, nil
	}

	fields["confirmation_method"] = strPtr(confirmationMethodAdmin)
	fields["confirmed_at"] = &at
	snaps, err := s.inv.ApplySales(ctx, saleLines(t), models.ReasonReconciliationConfirm, &t.ID, func(tx *repository.Repository) error {
		return s.moveInTx(ctx, tx, t, models.TransactionCompleted, string(models.ReasonReconciliationConfirm), &actor, fields)
	})
	if errors.Is(err, errTransitionLost) {
		return s.reloadConflict(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	for _, sn := range snaps {
		if sn.CurrentBalance < 0 {
			s.log.Warn("retroactive deduction left product negative",
				zap.String("transaction_id", id.String()),
				zap.String("product_id", sn.ProductID.String()),
				zap.Int64("balance", sn.CurrentBalance))
		}
	}
	s.log.Info("transaction confirmed by reconciliation",
		zap.String("transaction_id", id.String()), zap.String("actor_id", actorID.String()))
	return s.load(ctx, id)
}

func (s *reconciliationService) reloadConflict(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return t, ErrTransactionTerminal
	}
	return t, ErrInvalidTransition
}

func (s *reconciliationService) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.load(ctx, id)
}

func (s *reconciliationService) Details(ctx context.Context, id uuid.UUID) (*TransactionDetails, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	evs, err := s.repo.Transactions.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	adjs, err := s.repo.Ledger.ListByTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TransactionDetails{Transaction: *t, Events: evs, Adjustments: adjs}, nil
}

func (s *reconciliationService) List(ctx context.Context, f repository.TransactionListFilter) ([]models.Transaction, int64, error) {
	return s.repo.Transactions.List(ctx, f)
}

// ExpirePending fails every PENDING transaction older than the confirmation window.
// Parked uncertain payments are persisted first and are never expired.
func (s *reconciliationService) ExpirePending(ctx context.Context) (int, error) {
	s.flushParked(ctx)

	cutoff := s.now().Add(-s.cfg.ConfirmationWindow)
	list, err := s.repo.Transactions.ListPendingCreatedBefore(ctx, cutoff, expireBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range list {
		t := &list[i]
		if s.held(t.ID) {
			continue
		}
		_, err := s.transition(ctx, t, models.TransactionFailed, eventReasonTimeout, nil, map[string]any{
			"failure_reason": strPtr(eventReasonTimeout),
		})
		if errors.Is(err, errTransitionLost) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
		s.log.Info("pending transaction expired",
			zap.String("transaction_id", t.ID.String()),
			zap.Time("created_at", t.CreatedAt))
	}
	return expired, nil
}

func (s *reconciliationService) flushParked(ctx context.Context) {
	s.mu.Lock()
	ids := make(map[uuid.UUID]string, len(s.parked))
	for id, r := range s.parked {
		ids[id] = r
	}
	s.mu.Unlock()

	for id, reason := range ids {
		t, err := s.load(ctx, id)
		if err == nil && t.Status == models.TransactionPending {
			_, err = s.transition(ctx, t, models.TransactionPaymentUncertain, reason, nil, nil)
		}
		if errors.Is(err, ErrUnavailable) {
			s.log.Warn("parked uncertain payment still not persisted", zap.String("transaction_id", id.String()))
			continue
		}
		if err != nil && !errors.Is(err, errTransitionLost) {
			s.log.Error("persist parked uncertain payment", zap.String("transaction_id", id.String()), zap.Error(err))
		}
		s.mu.Lock()
		delete(s.parked, id)
		s.mu.Unlock()
		if err == nil {
			s.log.Info("parked uncertain payment persisted", zap.String("transaction_id", id.String()))
		}
	}
}

// Parked lists transactions awaiting their PAYMENT_UNCERTAIN write.
func (s *reconciliationService) Parked() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(s.parked))
	for id := range s.parked {
		out = append(out, id)
	}
	return out
}

func (s *reconciliationService) track(id uuid.UUID, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.inflight[id] = struct{}{}
	} else {
		delete(s.inflight, id)
	}
}

func (s *reconciliationService) held(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, a := s.inflight[id]
	_, b := s.parked[id]
	return a || b
}

func (s *reconciliationService) load(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := s.repo.Transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTransactionNotFound
	}
	return t, nil
}

// transition applies a ledger-free status change in its own storage transaction.
func (s *reconciliationService) transition(ctx context.Context, t *models.Transaction, to models.TransactionStatus, reason string, actor *uuid.UUID, fields map[string]any) (*models.Transaction, error) {
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		return s.moveInTx(ctx, tx, t, to, reason, actor, fields)
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, t.ID)
}

func (s *reconciliationService) moveInTx(ctx context.Context, tx *repository.Repository, t *models.Transaction, to models.TransactionStatus, reason string, actor *uuid.UUID, fields map[string]any) error {
	moved, err := tx.Transactions.Transition(ctx, t.ID, t.Status, to, fields)
	if err != nil {
		return err
	}
	if !moved {
		return errTransitionLost
	}
	return tx.Transactions.AppendEvent(ctx, &models.TransactionEvent{
		TransactionID: t.ID,
		FromStatus:    t.Status,
		ToStatus:      to,
		Reason:        reason,
		ActorID:       actor,
		CreatedAt:     s.now(),
	})
}

func saleLines(t *models.Transaction) []SaleLine {
	lines := make([]SaleLine, 0, len(t.Items))
	for _, it := range t.Items {
		lines = append(lines, SaleLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

func strPtr(s string) *string { return &s }
