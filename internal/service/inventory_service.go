package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"kiosk-service/internal/events"
	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type inventoryService struct {
	repo  *repository.Repository
	pub   EventPublisher
	locks *keyLocker
	log   *zap.Logger
	now   func() time.Time
}

func NewInventoryService(repo *repository.Repository, pub EventPublisher, log *zap.Logger) *inventoryService {
	return &inventoryService{
		repo:  repo,
		pub:   pub,
		locks: newKeyLocker(),
		log:   log,
		now:   time.Now,
	}
}

// applied is a committed ledger change waiting to be published.
type applied struct {
	snap   models.InventorySnapshot
	delta  int64
	reason string
}

func (s *inventoryService) RecordSale(ctx context.Context, productID uuid.UUID, quantity int32, transactionID *uuid.UUID) (*models.InventorySnapshot, error) {
	snaps, err := s.ApplySales(ctx, []SaleLine{{ProductID: productID, Quantity: quantity}}, models.ReasonSale, transactionID, nil)
	if err != nil {
		return nil, err
	}
	return &snaps[0], nil
}

func (s *inventoryService) ApplySales(ctx context.Context, lines []SaleLine, reason models.AdjustmentReason, transactionID *uuid.UUID, inTx func(tx *repository.Repository) error) ([]models.InventorySnapshot, error) {
	if reason != models.ReasonSale && reason != models.ReasonReconciliationConfirm {
		return nil, fmt.Errorf("%w: sale reason %q", ErrValidation, reason)
	}
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids = append(ids, l.ProductID)
	}

	unlock := s.locks.LockAll(ids)
	var (
		done     []applied
		snaps    []models.InventorySnapshot
		tracking bool
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		done, snaps = nil, make([]models.InventorySnapshot, 0, len(lines))
		if inTx != nil {
			if err := inTx(tx); err != nil {
				return err
			}
		}

		var err error
		tracking, err = trackingEnabled(ctx, tx)
		if err != nil {
			return err
		}

		for _, l := range lines {
			if !tracking {
				// the sale happened physically, the ledger just does not follow it
				snap, err := s.lockSnapshot(ctx, tx, l.ProductID)
				if err != nil {
					return err
				}
				snaps = append(snaps, *snap)
				continue
			}
			snap, err := s.appendLocked(ctx, tx, &models.StockAdjustment{
				ProductID:     l.ProductID,
				Delta:         -int64(l.Quantity),
				Reason:        reason,
				TransactionID: transactionID,
			})
			if err != nil {
				return err
			}
			snaps = append(snaps, *snap)
			done = append(done, applied{snap: *snap, delta: -int64(l.Quantity), reason: string(reason)})
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	for i := range snaps {
		snaps[i].TrackingEnabled = tracking
	}
	if !tracking {
		s.log.Debug("tracking disabled, sale not recorded", zap.Int("lines", len(lines)))
	}
	s.publish(tracking, done)
	return snaps, nil
}

func (s *inventoryService) RecordManualStockUpdate(ctx context.Context, productID uuid.UUID, delta int64, reason models.AdjustmentReason, actorID uuid.UUID) (*models.InventorySnapshot, error) {
	if err := validateManual(reason, actorID); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, ErrInvalidDelta
	}
	if reason == models.ReasonManualRestock && delta < 0 {
		return nil, ErrNegativeRestock
	}
	return s.manual(ctx, productID, reason, actorID, func(models.InventorySnapshot) int64 { return delta })
}

func (s *inventoryService) RecordAdjustmentToTarget(ctx context.Context, productID uuid.UUID, target int64, reason models.AdjustmentReason, actorID uuid.UUID) (*models.InventorySnapshot, error) {
	if err := validateManual(reason, actorID); err != nil {
		return nil, err
	}
	if target < 0 {
		return nil, ErrInvalidTarget
	}
	return s.manual(ctx, productID, reason, actorID, func(cur models.InventorySnapshot) int64 {
		return target - cur.CurrentBalance
	})
}

func validateManual(reason models.AdjustmentReason, actorID uuid.UUID) error {
	if reason != models.ReasonManualRestock && reason != models.ReasonManualCorrection {
		return ErrInvalidReason
	}
	if actorID == uuid.Nil {
		return ErrMissingActor
	}
	return nil
}

// manual runs read-balance, compute-delta, append as one unit under the product lock.
func (s *inventoryService) manual(ctx context.Context, productID uuid.UUID, reason models.AdjustmentReason, actorID uuid.UUID, deltaFor func(cur models.InventorySnapshot) int64) (*models.InventorySnapshot, error) {
	unlock := s.locks.Lock(productID)
	var (
		out   *models.InventorySnapshot
		delta int64
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		on, err := trackingEnabled(ctx, tx)
		if err != nil {
			return err
		}
		if !on {
			return ErrTrackingDisabled
		}
		cur, err := s.lockSnapshot(ctx, tx, productID)
		if err != nil {
			return err
		}
		delta = deltaFor(*cur)
		if reason == models.ReasonManualRestock && delta < 0 {
			return ErrNegativeRestock
		}
		if delta == 0 {
			out = cur
			return nil
		}
		actor := actorID
		out, err = s.appendLocked(ctx, tx, &models.StockAdjustment{
			ProductID: productID,
			Delta:     delta,
			Reason:    reason,
			ActorID:   &actor,
		})
		return err
	})
	unlock()
	if err != nil {
		return nil, err
	}

	out.TrackingEnabled = true
	s.log.Info("manual stock update",
		zap.String("product_id", productID.String()),
		zap.Int64("delta", delta),
		zap.String("reason", string(reason)),
		zap.String("actor_id", actorID.String()),
		zap.Int64("balance", out.CurrentBalance))
	if delta != 0 {
		s.publish(true, []applied{{snap: *out, delta: delta, reason: string(reason)}})
	}
	return out, nil
}

func (s *inventoryService) GetSnapshot(ctx context.Context, productID uuid.UUID) (*models.InventorySnapshot, error) {
	snap, err := s.repo.Snapshots.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		p, err := s.repo.Products.GetByID(ctx, productID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrProductNotFound
		}
		// no adjustments yet
		snap = &models.InventorySnapshot{ProductID: productID, LowStockThreshold: thresholdFor(p)}
	}
	on, err := trackingEnabled(ctx, s.repo)
	if err != nil {
		return nil, err
	}
	snap.TrackingEnabled = on
	return snap, nil
}

func (s *inventoryService) ListSnapshots(ctx context.Context) ([]models.InventorySnapshot, error) {
	return s.withTracking(ctx, s.repo.Snapshots.List)
}

func (s *inventoryService) ListDiscrepancies(ctx context.Context) ([]models.InventorySnapshot, error) {
	return s.withTracking(ctx, s.repo.Snapshots.ListDiscrepancies)
}

func (s *inventoryService) withTracking(ctx context.Context, list func(context.Context) ([]models.InventorySnapshot, error)) ([]models.InventorySnapshot, error) {
	items, err := list(ctx)
	if err != nil {
		return nil, err
	}
	on, err := trackingEnabled(ctx, s.repo)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].TrackingEnabled = on
	}
	return items, nil
}

func (s *inventoryService) ListAdjustments(ctx context.Context, productID uuid.UUID, since *time.Time) ([]models.StockAdjustment, error) {
	p, err := s.repo.Products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	return s.repo.Ledger.ListFor(ctx, productID, since)
}

func (s *inventoryService) TrackingEnabled(ctx context.Context) (bool, error) {
	return trackingEnabled(ctx, s.repo)
}

func (s *inventoryService) SetTrackingEnabled(ctx context.Context, enabled bool, actorID uuid.UUID) error {
	if actorID == uuid.Nil {
		return ErrMissingActor
	}
	if err := s.repo.Settings.Set(ctx, models.SettingTrackingEnabled, strconv.FormatBool(enabled)); err != nil {
		return err
	}
	s.log.Info("inventory tracking toggled",
		zap.Bool("enabled", enabled), zap.String("actor_id", actorID.String()))
	s.pub.PublishStatus(events.StatusChanged{TrackingEnabled: &enabled, At: s.now()})
	return nil
}

func (s *inventoryService) SetLowStockThreshold(ctx context.Context, productID uuid.UUID, threshold int32) (*models.InventorySnapshot, error) {
	if threshold < minThreshold || threshold > maxThreshold {
		return nil, ErrInvalidThreshold
	}

	unlock := s.locks.Lock(productID)
	var out *models.InventorySnapshot
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		if _, err := s.lockSnapshot(ctx, tx, productID); err != nil {
			return err
		}
		var err error
		out, err = tx.Snapshots.SetThreshold(ctx, productID, threshold)
		return err
	})
	unlock()
	if err != nil {
		return nil, err
	}

	on, err := trackingEnabled(ctx, s.repo)
	if err != nil {
		return nil, err
	}
	out.TrackingEnabled = on
	// a new threshold can open a below-threshold episode without any stock movement
	s.publish(on, []applied{{snap: *out, reason: "threshold_changed"}})
	return out, nil
}

func (s *inventoryService) Rebuild(ctx context.Context, productID uuid.UUID) (RebuildResult, error) {
	res := RebuildResult{ProductID: productID}

	unlock := s.locks.Lock(productID)
	var out *models.InventorySnapshot
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		cur, err := s.lockSnapshot(ctx, tx, productID)
		if err != nil {
			return err
		}
		sum, err := tx.Ledger.SumFor(ctx, productID)
		if err != nil {
			return err
		}
		res.Before, res.After, res.Drift = cur.CurrentBalance, sum, sum-cur.CurrentBalance
		out = cur
		if res.Drift == 0 {
			return nil
		}
		out, err = tx.Snapshots.SetBalance(ctx, productID, sum)
		return err
	})
	unlock()
	if err != nil {
		return RebuildResult{}, err
	}

	if res.Drift != 0 {
		s.log.Warn("snapshot drift corrected from ledger",
			zap.String("product_id", productID.String()),
			zap.Int64("before", res.Before), zap.Int64("after", res.After))
		on, err := trackingEnabled(ctx, s.repo)
		if err != nil {
			return res, err
		}
		s.publish(on, []applied{{snap: *out, delta: res.Drift, reason: "rebuild"}})
	}
	return res, nil
}

// lockSnapshot returns the product's snapshot row locked for the rest of tx, creating it on first use.
func (s *inventoryService) lockSnapshot(ctx context.Context, tx *repository.Repository, productID uuid.UUID) (*models.InventorySnapshot, error) {
	snap, err := tx.Snapshots.GetForUpdate(ctx, productID)
	if err != nil || snap != nil {
		return snap, err
	}
	p, err := tx.Products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err := tx.Snapshots.Ensure(ctx, productID, thresholdFor(p)); err != nil {
		return nil, err
	}
	snap, err = tx.Snapshots.GetForUpdate(ctx, productID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: snapshot for %s", ErrProductNotFound, productID)
	}
	return snap, nil
}

// appendLocked writes the ledger row and folds it into the snapshot. Caller holds the product lock.
func (s *inventoryService) appendLocked(ctx context.Context, tx *repository.Repository, adj *models.StockAdjustment) (*models.InventorySnapshot, error) {
	if _, err := s.lockSnapshot(ctx, tx, adj.ProductID); err != nil {
		return nil, err
	}
	adj.CreatedAt = s.now()
	if _, err := tx.Ledger.Append(ctx, adj); err != nil {
		return nil, err
	}
	return tx.Snapshots.ApplyDelta(ctx, adj.ProductID, adj.Delta, adj.CreatedAt)
}

func (s *inventoryService) publish(tracking bool, done []applied) {
	for _, a := range done {
		s.pub.PublishBalance(events.BalanceChanged{
			ProductID:              a.snap.ProductID,
			Delta:                  a.delta,
			Reason:                 a.reason,
			Balance:                a.snap.CurrentBalance,
			Threshold:              a.snap.LowStockThreshold,
			BelowThresholdNotified: a.snap.BelowThresholdNotified,
			TrackingEnabled:        tracking,
			At:                     s.now(),
		})
	}
}

func thresholdFor(p *models.Product) int32 {
	if p.DefaultLowStockThreshold >= minThreshold && p.DefaultLowStockThreshold <= maxThreshold {
		return p.DefaultLowStockThreshold
	}
	return models.DefaultLowStockThreshold
}

// trackingEnabled reads the global flag; a missing row means enabled.
func trackingEnabled(ctx context.Context, r *repository.Repository) (bool, error) {
	v, ok, err := r.Settings.Get(ctx, models.SettingTrackingEnabled)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse setting %s: %w", models.SettingTrackingEnabled, err)
	}
	return on, nil
}
