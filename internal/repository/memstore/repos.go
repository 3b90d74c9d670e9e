package memstore

import (
	"context"
	"sort"
	"time"

	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type productRepo struct{ v *view }

func (r productRepo) Create(ctx context.Context, p *models.Product) error {
	return r.v.do("products.create", func(st *state) error {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
			p.UpdatedAt = p.CreatedAt
		}
		st.products[p.ID] = *p
		return nil
	})
}

func (r productRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var out *models.Product
	err := r.v.do("products.get", func(st *state) error {
		if p, ok := st.products[id]; ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func (r productRepo) BatchGetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	out := []models.Product{}
	err := r.v.do("products.batch_get", func(st *state) error {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

func (r productRepo) List(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	err := r.v.do("products.list", func(st *state) error {
		for _, p := range st.products {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].ID.String() < out[j].ID.String()
		})
		return nil
	})
	return out, err
}

type ledgerRepo struct{ v *view }

func (r ledgerRepo) Append(ctx context.Context, adj *models.StockAdjustment) (uuid.UUID, error) {
	err := r.v.do("ledger.append", func(st *state) error {
		if adj.ID == uuid.Nil {
			adj.ID = uuid.New()
		}
		if adj.CreatedAt.IsZero() {
			adj.CreatedAt = time.Now()
		}
		st.seq++
		adj.Seq = st.seq
		st.adjustments = append(st.adjustments, *adj)
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return adj.ID, nil
}

func (r ledgerRepo) SumFor(ctx context.Context, productID uuid.UUID) (int64, error) {
	var sum int64
	err := r.v.do("ledger.sum", func(st *state) error {
		for _, a := range st.adjustments {
			if a.ProductID == productID {
				sum += a.Delta
			}
		}
		return nil
	})
	return sum, err
}

func (r ledgerRepo) ListFor(ctx context.Context, productID uuid.UUID, since *time.Time) ([]models.StockAdjustment, error) {
	return r.filter("ledger.list", func(a models.StockAdjustment) bool {
		return a.ProductID == productID && (since == nil || a.CreatedAt.After(*since))
	})
}

func (r ledgerRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.StockAdjustment, error) {
	return r.filter("ledger.list_by_transaction", func(a models.StockAdjustment) bool {
		return a.TransactionID != nil && *a.TransactionID == transactionID
	})
}

func (r ledgerRepo) filter(op string, keep func(models.StockAdjustment) bool) ([]models.StockAdjustment, error) {
	var out []models.StockAdjustment
	err := r.v.do(op, func(st *state) error {
		for _, a := range st.adjustments {
			if keep(a) {
				out = append(out, a)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].Seq < out[j].Seq
		})
		return nil
	})
	return out, err
}

type snapshotRepo struct{ v *view }

func (r snapshotRepo) Get(ctx context.Context, productID uuid.UUID) (*models.InventorySnapshot, error) {
	var out *models.InventorySnapshot
	err := r.v.do("snapshots.get", func(st *state) error {
		if s, ok := st.snapshots[productID]; ok {
			out = &s
		}
		return nil
	})
	return out, err
}

func (r snapshotRepo) GetForUpdate(ctx context.Context, productID uuid.UUID) (*models.InventorySnapshot, error) {
	return r.Get(ctx, productID)
}

func (r snapshotRepo) Ensure(ctx context.Context, productID uuid.UUID, threshold int32) error {
	return r.v.do("snapshots.ensure", func(st *state) error {
		if _, ok := st.snapshots[productID]; !ok {
			st.snapshots[productID] = models.InventorySnapshot{
				ProductID:         productID,
				LowStockThreshold: threshold,
				UpdatedAt:         time.Now(),
			}
		}
		return nil
	})
}

func (r snapshotRepo) update(op string, productID uuid.UUID, fn func(s *models.InventorySnapshot)) (*models.InventorySnapshot, error) {
	var out *models.InventorySnapshot
	err := r.v.do(op, func(st *state) error {
		s, ok := st.snapshots[productID]
		if !ok {
			return gorm.ErrRecordNotFound
		}
		fn(&s)
		st.snapshots[productID] = s
		out = &s
		return nil
	})
	return out, err
}

func (r snapshotRepo) ApplyDelta(ctx context.Context, productID uuid.UUID, delta int64, at time.Time) (*models.InventorySnapshot, error) {
	return r.update("snapshots.apply_delta", productID, func(s *models.InventorySnapshot) {
		s.CurrentBalance += delta
		if s.CurrentBalance > int64(s.LowStockThreshold) {
			s.BelowThresholdNotified = false
		}
		s.LastAdjustmentAt = &at
		s.UpdatedAt = at
	})
}

func (r snapshotRepo) SetThreshold(ctx context.Context, productID uuid.UUID, threshold int32) (*models.InventorySnapshot, error) {
	return r.update("snapshots.set_threshold", productID, func(s *models.InventorySnapshot) {
		s.LowStockThreshold = threshold
		if s.CurrentBalance > int64(threshold) {
			s.BelowThresholdNotified = false
		}
		s.UpdatedAt = time.Now()
	})
}

func (r snapshotRepo) SetBalance(ctx context.Context, productID uuid.UUID, balance int64) (*models.InventorySnapshot, error) {
	return r.update("snapshots.set_balance", productID, func(s *models.InventorySnapshot) {
		s.CurrentBalance = balance
		if balance > int64(s.LowStockThreshold) {
			s.BelowThresholdNotified = false
		}
		s.UpdatedAt = time.Now()
	})
}

func (r snapshotRepo) ClaimAlert(ctx context.Context, productID uuid.UUID) (bool, error) {
	claimed := false
	err := r.v.do("snapshots.claim_alert", func(st *state) error {
		s, ok := st.snapshots[productID]
		if !ok || s.BelowThresholdNotified || !s.BelowThreshold() {
			return nil
		}
		s.BelowThresholdNotified = true
		s.UpdatedAt = time.Now()
		st.snapshots[productID] = s
		claimed = true
		return nil
	})
	return claimed, err
}

func (r snapshotRepo) List(ctx context.Context) ([]models.InventorySnapshot, error) {
	return r.filter("snapshots.list", func(models.InventorySnapshot) bool { return true })
}

func (r snapshotRepo) ListDiscrepancies(ctx context.Context) ([]models.InventorySnapshot, error) {
	out, err := r.filter("snapshots.list_discrepancies", func(s models.InventorySnapshot) bool {
		return s.CurrentBalance < 0
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CurrentBalance < out[j].CurrentBalance })
	return out, err
}

func (r snapshotRepo) ListAlertCandidates(ctx context.Context) ([]models.InventorySnapshot, error) {
	return r.filter("snapshots.list_alert_candidates", func(s models.InventorySnapshot) bool {
		return !s.BelowThresholdNotified && s.BelowThreshold()
	})
}

func (r snapshotRepo) filter(op string, keep func(models.InventorySnapshot) bool) ([]models.InventorySnapshot, error) {
	var out []models.InventorySnapshot
	err := r.v.do(op, func(st *state) error {
		for _, s := range st.snapshots {
			if keep(s) {
				out = append(out, s)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ProductID.String() < out[j].ProductID.String() })
		return nil
	})
	return out, err
}

type transactionRepo struct{ v *view }

func (r transactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	return r.v.do("transactions.create", func(st *state) error {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		for i := range t.Items {
			if t.Items[i].ID == uuid.Nil {
				t.Items[i].ID = uuid.New()
			}
			t.Items[i].TransactionID = t.ID
		}
		c := *t
		c.Items = append([]models.TransactionItem(nil), t.Items...)
		st.transactions[t.ID] = c
		return nil
	})
}

func (r transactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.v.do("transactions.get", func(st *state) error {
		if t, ok := st.transactions[id]; ok {
			t.Items = append([]models.TransactionItem(nil), t.Items...)
			out = &t
		}
		return nil
	})
	return out, err
}

func (r transactionRepo) Transition(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, fields map[string]any) (bool, error) {
	moved := false
	err := r.v.do("transactions.transition", func(st *state) error {
		t, ok := st.transactions[id]
		if !ok || t.Status != from {
			return nil
		}
		t.Status = to
		t.UpdatedAt = time.Now()
		for k, v := range fields {
			switch k {
			case "confirmation_method":
				t.ConfirmationMethod = v.(*string)
			case "confirmed_at":
				t.ConfirmedAt = v.(*time.Time)
			case "reconciled_by":
				t.ReconciledBy = v.(*uuid.UUID)
			case "reconciled_at":
				t.ReconciledAt = v.(*time.Time)
			case "failure_reason":
				t.FailureReason = v.(*string)
			}
		}
		st.transactions[id] = t
		moved = true
		return nil
	})
	return moved, err
}

func (r transactionRepo) List(ctx context.Context, f repository.TransactionListFilter) ([]models.Transaction, int64, error) {
	var all []models.Transaction
	err := r.v.do("transactions.list", func(st *state) error {
		for _, t := range st.transactions {
			if f.Status != nil && t.Status != *f.Status {
				continue
			}
			t.Items = append([]models.TransactionItem(nil), t.Items...)
			all = append(all, t)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 || f.Offset > len(all) {
		f.Offset = len(all)
	}
	end := f.Offset + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[f.Offset:end], total, nil
}

func (r transactionRepo) ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	err := r.v.do("transactions.list_pending", func(st *state) error {
		for _, t := range st.transactions {
			if t.Status == models.TransactionPending && t.CreatedAt.Before(before) {
				out = append(out, t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r transactionRepo) AppendEvent(ctx context.Context, e *models.TransactionEvent) error {
	return r.v.do("transactions.append_event", func(st *state) error {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		st.txEvents = append(st.txEvents, *e)
		return nil
	})
}

func (r transactionRepo) ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error) {
	var out []models.TransactionEvent
	err := r.v.do("transactions.list_events", func(st *state) error {
		for _, e := range st.txEvents {
			if e.TransactionID == transactionID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

type notificationRepo struct{ v *view }

func (r notificationRepo) Create(ctx context.Context, a *models.NotificationAttempt) error {
	return r.v.do("notifications.create", func(st *state) error {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		st.attempts[a.ID] = *a
		return nil
	})
}

func (r notificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.NotificationAttempt, error) {
	var out *models.NotificationAttempt
	err := r.v.do("notifications.get", func(st *state) error {
		if a, ok := st.attempts[id]; ok {
			out = &a
		}
		return nil
	})
	return out, err
}

func (r notificationRepo) GetPendingByProduct(ctx context.Context, productID uuid.UUID) (*models.NotificationAttempt, error) {
	var out *models.NotificationAttempt
	err := r.v.do("notifications.get_pending", func(st *state) error {
		for _, a := range st.attempts {
			if a.ProductID == productID && a.Status == models.NotificationPending {
				if out == nil || a.CreatedAt.Before(out.CreatedAt) {
					c := a
					out = &c
				}
			}
		}
		return nil
	})
	return out, err
}

func (r notificationRepo) Save(ctx context.Context, a *models.NotificationAttempt) error {
	return r.v.do("notifications.save", func(st *state) error {
		st.attempts[a.ID] = *a
		return nil
	})
}

func (r notificationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]models.NotificationAttempt, error) {
	out, err := r.filter("notifications.list_due", func(a models.NotificationAttempt) bool {
		return a.Status == models.NotificationPending && a.NextRetryAt != nil && !a.NextRetryAt.After(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r notificationRepo) List(ctx context.Context, status *models.NotificationStatus, limit int) ([]models.NotificationAttempt, error) {
	out, err := r.filter("notifications.list", func(a models.NotificationAttempt) bool {
		return status == nil || a.Status == *status
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r notificationRepo) filter(op string, keep func(models.NotificationAttempt) bool) ([]models.NotificationAttempt, error) {
	var out []models.NotificationAttempt
	err := r.v.do(op, func(st *state) error {
		for _, a := range st.attempts {
			if keep(a) {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func (r notificationRepo) RecordDelivery(ctx context.Context, d *models.NotificationDelivery) error {
	return r.v.do("notifications.record_delivery", func(st *state) error {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		st.deliveries = append(st.deliveries, *d)
		return nil
	})
}

func (r notificationRepo) ListDeliveries(ctx context.Context, attemptID uuid.UUID) ([]models.NotificationDelivery, error) {
	var out []models.NotificationDelivery
	err := r.v.do("notifications.list_deliveries", func(st *state) error {
		for _, d := range st.deliveries {
			if d.AttemptID == attemptID {
				out = append(out, d)
			}
		}
		return nil
	})
	return out, err
}

type settingsRepo struct{ v *view }

func (r settingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		val string
		ok  bool
	)
	err := r.v.do("settings.get", func(st *state) error {
		val, ok = st.settings[key]
		return nil
	})
	return val, ok, err
}

func (r settingsRepo) Set(ctx context.Context, key, value string) error {
	return r.v.do("settings.set", func(st *state) error {
		st.settings[key] = value
		return nil
	})
}
