package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"kiosk-service/internal/events"
	"kiosk-service/internal/models"
	"kiosk-service/internal/repository"
	"kiosk-service/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	// RetryOffsets are measured from the previous failed attempt. One immediate
	// attempt plus len(RetryOffsets) retries, then the attempt is failed.
	RetryOffsets    []time.Duration
	RetryInterval   time.Duration
	SafetyNetEvery  time.Duration
	EscalationAfter time.Duration
	DeliveryTimeout time.Duration
	DueBatch        int
}

func DefaultConfig() Config {
	return Config{
		RetryOffsets:    []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		RetryInterval:   15 * time.Second,
		SafetyNetEvery:  time.Minute,
		EscalationAfter: 15 * time.Minute,
		DeliveryTimeout: 10 * time.Second,
		DueBatch:        50,
	}
}

type StatusPublisher interface {
	PublishStatus(e events.StatusChanged)
}

// Dispatcher decides when a low-stock alert is owed and drives its delivery.
// All work runs on the goroutine that calls Run, so attempts are never delivered twice concurrently.
type Dispatcher struct {
	repo   *repository.Repository
	sender Sender
	esc    Escalator
	status StatusPublisher
	cfg    Config
	log    *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	failingSince *time.Time
	lastFailure  *models.NotificationAttempt
	escalated    bool
	degraded     atomic.Bool
}

func NewDispatcher(repo *repository.Repository, sender Sender, esc Escalator, status StatusPublisher, cfg Config, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		sender: sender,
		esc:    esc,
		status: status,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// Degraded reports whether alert deliveries are currently in an escalated failing run.
func (d *Dispatcher) Degraded() bool { return d.degraded.Load() }

func (d *Dispatcher) Run(ctx context.Context, sub <-chan events.Event) error {
	d.log.Info("alert dispatcher started")
	retry := time.NewTicker(d.cfg.RetryInterval)
	defer retry.Stop()
	safety := time.NewTicker(d.cfg.SafetyNetEvery)
	defer safety.Stop()

	d.sweep(ctx)

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				d.log.Info("alert dispatcher stopped")
				return nil
			}
			d.Handle(ctx, ev)
		case <-retry.C:
			if _, err := d.RunDue(ctx); err != nil {
				d.log.Error("alert retry pass failed", zap.Error(err))
			}
			d.checkEscalation(ctx)
		case <-safety.C:
			d.sweep(ctx)
		case <-ctx.Done():
			d.log.Info("alert dispatcher cancelled")
			return nil
		}
	}
}

func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindBalanceChanged:
		b := ev.Balance
		if !b.TrackingEnabled || b.Balance > int64(b.Threshold) {
			return
		}
		if _, err := d.Evaluate(ctx, b.ProductID); err != nil {
			d.log.Error("alert evaluation failed",
				zap.String("product_id", b.ProductID.String()), zap.Error(err))
		}
	case events.KindStatusChanged:
		if ev.Status.TrackingEnabled != nil && *ev.Status.TrackingEnabled {
			d.sweep(ctx)
		}
	}
}

// Evaluate claims the below-threshold episode for the product and, if this call won it,
// records the attempt and delivers it immediately. It returns nil when no alert is owed.
func (d *Dispatcher) Evaluate(ctx context.Context, productID uuid.UUID) (*models.NotificationAttempt, error) {
	on, err := trackingEnabled(ctx, d.repo)
	if err != nil || !on {
		return nil, err
	}

	var (
		attempt *models.NotificationAttempt
		fresh   bool
	)
	now := d.now()
	err = d.repo.WithTx(ctx, func(tx *repository.Repository) error {
		claimed, err := tx.Snapshots.ClaimAlert(ctx, productID)
		if err != nil || !claimed {
			return err
		}
		snap, err := tx.Snapshots.Get(ctx, productID)
		if err != nil {
			return err
		}
		pending, err := tx.Notifications.GetPendingByProduct(ctx, productID)
		if err != nil {
			return err
		}
		if pending != nil {
			// previous episode still retrying: it now speaks for the new one
			pending.TriggerBalance = snap.CurrentBalance
			pending.UpdatedAt = now
			attempt = pending
			return tx.Notifications.Save(ctx, pending)
		}
		attempt = &models.NotificationAttempt{
			ID:             uuid.New(),
			ProductID:      productID,
			TriggerBalance: snap.CurrentBalance,
			Status:         models.NotificationPending,
			NextRetryAt:    &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		fresh = true
		return tx.Notifications.Create(ctx, attempt)
	})
	if err != nil || attempt == nil {
		return nil, err
	}

	d.log.Info("low-stock alert owed",
		zap.String("product_id", productID.String()),
		zap.String("attempt_id", attempt.ID.String()),
		zap.Int64("balance", attempt.TriggerBalance),
		zap.Bool("new_attempt", fresh))
	if fresh {
		if err := d.deliver(ctx, attempt); err != nil {
			return attempt, err
		}
	}
	return attempt, nil
}

// RunDue delivers every pending attempt whose retry time has come.
func (d *Dispatcher) RunDue(ctx context.Context) (int, error) {
	due, err := d.repo.Notifications.ListDue(ctx, d.now(), d.cfg.DueBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range due {
		if err := d.deliver(ctx, &due[i]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Sweep re-evaluates every product that is below threshold without an alert.
// It recovers alerts whose balance event was dropped.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	on, err := trackingEnabled(ctx, d.repo)
	if err != nil || !on {
		return 0, err
	}
	cands, err := d.repo.Snapshots.ListAlertCandidates(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range cands {
		a, err := d.Evaluate(ctx, c.ProductID)
		if err != nil {
			d.log.Error("safety-net evaluation failed",
				zap.String("product_id", c.ProductID.String()), zap.Error(err))
			continue
		}
		if a != nil {
			n++
		}
	}
	return n, nil
}

func (d *Dispatcher) sweep(ctx context.Context) {
	n, err := d.Sweep(ctx)
	if err != nil {
		d.log.Error("alert safety-net sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		d.log.Warn("safety-net sweep recovered alerts", zap.Int("count", n))
	}
}

// deliver makes one delivery try and stores its outcome. The returned error is a storage error only.
func (d *Dispatcher) deliver(ctx context.Context, a *models.NotificationAttempt) error {
	msg := Message{
		AttemptID:   a.ID,
		AttemptNo:   a.AttemptCount + 1,
		ProductID:   a.ProductID,
		ProductName: a.ProductID.String(),
		Balance:     a.TriggerBalance,
		At:          d.now(),
	}
	if p, err := d.repo.Products.GetByID(ctx, a.ProductID); err == nil && p != nil {
		msg.ProductName = p.Name
	}
	if s, err := d.repo.Snapshots.Get(ctx, a.ProductID); err == nil && s != nil {
		msg.Threshold = s.LowStockThreshold
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	sendErr := d.sender.Send(sendCtx, msg)
	cancel()

	now := d.now()
	a.AttemptCount++
	a.UpdatedAt = now
	rec := &models.NotificationDelivery{
		AttemptID: a.ID,
		ProductID: a.ProductID,
		AttemptNo: a.AttemptCount,
		Success:   sendErr == nil,
		CreatedAt: now,
	}

	fields := []zap.Field{
		zap.String("attempt_id", a.ID.String()),
		zap.String("product_id", a.ProductID.String()),
		zap.Int32("attempt_no", a.AttemptCount),
		zap.Time("at", now),
	}

	if sendErr == nil {
		a.Status = models.NotificationSent
		a.NextRetryAt = nil
		a.LastError = nil
		d.log.Info("low-stock alert delivered", fields...)
	} else {
		msg := sendErr.Error()
		a.LastError = &msg
		rec.Error = &msg
		if int(a.AttemptCount) > len(d.cfg.RetryOffsets) {
			a.Status = models.NotificationFailed
			a.NextRetryAt = nil
			d.log.Error("low-stock alert permanently failed", append(fields, zap.Error(sendErr))...)
		} else {
			next := now.Add(d.cfg.RetryOffsets[a.AttemptCount-1])
			a.NextRetryAt = &next
			d.log.Warn("low-stock alert delivery failed, retry scheduled",
				append(fields, zap.Time("next_retry_at", next), zap.Error(sendErr))...)
		}
	}

	err := d.repo.WithTx(ctx, func(tx *repository.Repository) error {
		if err := tx.Notifications.RecordDelivery(ctx, rec); err != nil {
			return err
		}
		return tx.Notifications.Save(ctx, a)
	})
	if err != nil {
		d.log.Error("could not store delivery outcome", append(fields, zap.Error(err))...)
	}

	d.observe(ctx, a, sendErr)
	return err
}

// observe tracks the continuous failing run across all alerts.
func (d *Dispatcher) observe(ctx context.Context, a *models.NotificationAttempt, sendErr error) {
	d.mu.Lock()
	if sendErr == nil {
		wasEscalated := d.escalated
		d.failingSince, d.lastFailure, d.escalated = nil, nil, false
		d.mu.Unlock()
		if wasEscalated {
			d.degraded.Store(false)
			off := false
			d.status.PublishStatus(events.StatusChanged{AlertsDegraded: &off, At: d.now()})
			d.log.Info("alert delivery recovered")
		}
		return
	}
	if d.failingSince == nil {
		t := d.now()
		d.failingSince = &t
	}
	cp := *a
	d.lastFailure = &cp
	d.mu.Unlock()

	d.checkEscalation(ctx)
}

func (d *Dispatcher) checkEscalation(ctx context.Context) {
	d.mu.Lock()
	if d.failingSince == nil || d.escalated {
		d.mu.Unlock()
		return
	}
	now := d.now()
	since := *d.failingSince
	if now.Sub(since) <= d.cfg.EscalationAfter {
		d.mu.Unlock()
		return
	}
	e := Escalation{FailingSince: since, FailingFor: now.Sub(since), At: now}
	if d.lastFailure != nil {
		e.AttemptID = d.lastFailure.ID
		e.ProductID = d.lastFailure.ProductID
		if d.lastFailure.LastError != nil {
			e.LastError = *d.lastFailure.LastError
		}
	}
	d.mu.Unlock()

	// sent outside the lock; a failed escalation is retried on the next tick
	escCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	err := d.esc.Escalate(escCtx, e)
	cancel()
	if err != nil {
		d.log.Error("alert escalation failed", zap.Duration("failing_for", e.FailingFor), zap.Error(err))
		return
	}

	d.mu.Lock()
	d.escalated = true
	d.mu.Unlock()
	d.degraded.Store(true)
	on := true
	d.status.PublishStatus(events.StatusChanged{AlertsDegraded: &on, At: now})
	d.log.Error("alert deliveries failing, escalated",
		zap.Time("failing_since", since), zap.Duration("failing_for", e.FailingFor))
}

func (d *Dispatcher) ListAttempts(ctx context.Context, status *models.NotificationStatus, limit int) ([]models.NotificationAttempt, error) {
	return d.repo.Notifications.List(ctx, status, limit)
}

func (d *Dispatcher) Deliveries(ctx context.Context, attemptID uuid.UUID) ([]models.NotificationDelivery, error) {
	a, err := d.repo.Notifications.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAttemptNotFound
	}
	return d.repo.Notifications.ListDeliveries(ctx, attemptID)
}

var ErrAttemptNotFound = fmt.Errorf("%w: notification attempt not found", service.ErrNotFound)

func trackingEnabled(ctx context.Context, r *repository.Repository) (bool, error) {
	v, ok, err := r.Settings.Get(ctx, models.SettingTrackingEnabled)
	if err != nil || !ok {
		return err == nil, err
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return true, nil
	}
	return on, nil
}
