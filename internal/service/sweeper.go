package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type pendingExpirer interface {
	ExpirePending(ctx context.Context) (int, error)
}

// Sweeper actively fails PENDING transactions whose confirmation window has passed.
type Sweeper struct {
	rec      pendingExpirer
	interval time.Duration
	log      *zap.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  atomic.Bool
}

func NewSweeper(rec pendingExpirer, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{
		rec:      rec,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info("starting transaction sweeper", zap.Duration("interval", s.interval))
	s.started.Store(true)
	go s.run(ctx)
}

func (s *Sweeper) Stop() {
	s.log.Info("stopping transaction sweeper")
	close(s.stopCh)
	if s.started.Load() {
		<-s.doneCh
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnceNow(ctx); err != nil {
				s.log.Error("pending transaction sweep failed", zap.Error(err))
			}
		case <-s.stopCh:
			s.log.Info("transaction sweeper stopped")
			return
		case <-ctx.Done():
			s.log.Info("transaction sweeper cancelled")
			return
		}
	}
}

func (s *Sweeper) RunOnceNow(ctx context.Context) (int, error) {
	n, err := s.rec.ExpirePending(ctx)
	if n > 0 {
		s.log.Info("expired pending transactions", zap.Int("count", n))
	}
	return n, err
}
