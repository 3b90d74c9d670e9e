// Package events carries post-commit notifications from the inventory service
// to its in-process consumers (alert dispatcher, live broadcaster).
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindBalanceChanged Kind = "balance_changed"
	KindStatusChanged  Kind = "status_changed"
)

// BalanceChanged is published after a ledger append has committed.
type BalanceChanged struct {
	ProductID              uuid.UUID
	Delta                  int64
	Reason                 string
	Balance                int64
	Threshold              int32
	BelowThresholdNotified bool
	TrackingEnabled        bool
	At                     time.Time
}

// StatusChanged describes kiosk-wide state: tracking flag and alert channel health.
type StatusChanged struct {
	TrackingEnabled *bool
	AlertsDegraded  *bool
	At              time.Time
}

type Event struct {
	Kind    Kind
	Balance *BalanceChanged
	Status  *StatusChanged
}

type Subscription struct {
	name string
	ch   chan Event
}

func (s *Subscription) C() <-chan Event { return s.ch }

// Bus fans events out to bounded subscriber queues. Publish never blocks:
// a full queue drops the event for that subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
	log    *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{log: log}
}

func (b *Bus) Subscribe(name string, size int) *Subscription {
	if size <= 0 {
		size = 1
	}
	s := &Subscription{name: name, ch: make(chan Event, size)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.log.Warn("event dropped, subscriber queue full",
				zap.String("subscriber", s.name), zap.String("kind", string(ev.Kind)))
		}
	}
}

func (b *Bus) PublishBalance(e BalanceChanged) {
	b.Publish(Event{Kind: KindBalanceChanged, Balance: &e})
}

func (b *Bus) PublishStatus(e StatusChanged) {
	b.Publish(Event{Kind: KindStatusChanged, Status: &e})
}

// Close closes every subscriber channel so consumer loops can drain and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
