// Package broadcast pushes live inventory and kiosk status to connected admin clients.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"kiosk-service/internal/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	EventInit   EventType = "inventory:init"
	EventUpdate EventType = "inventory:update"
	EventStatus EventType = "status:update"
)

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type ProductUpdate struct {
	ProductID              uuid.UUID `json:"productId"`
	Delta                  int64     `json:"delta"`
	Reason                 string    `json:"reason"`
	Balance                int64     `json:"balance"`
	Threshold              int32     `json:"threshold"`
	BelowThresholdNotified bool      `json:"belowThresholdNotified"`
	Discrepancy            bool      `json:"discrepancy"`
	At                     time.Time `json:"at"`
}

// Channel is one client's outbound path. Send must not block; false means the
// client can no longer be served.
type Channel interface {
	Send(ev Event) bool
	Close()
}

var ErrClosed = errors.New("broadcaster closed")

// maxBacklog bounds the events held for a client while its init is being built.
const maxBacklog = 256

type client struct {
	id           uuid.UUID
	ch           Channel
	adminID      uuid.UUID
	registeredAt time.Time

	ready   bool
	backlog []Event
}

type Broadcaster struct {
	src      *Source
	onChange func(ctx context.Context)
	log      *zap.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*client
	closed  bool
}

func New(src *Source, log *zap.Logger) *Broadcaster {
	return &Broadcaster{src: src, log: log, clients: map[uuid.UUID]*client{}}
}

// OnChange registers a hook run for every relayed event before it is broadcast.
func (b *Broadcaster) OnChange(fn func(ctx context.Context)) { b.onChange = fn }

// Register adds a client and sends it the full state as its first message.
// The state is read without holding the client lock; events broadcast meanwhile
// are queued for the client and delivered right after the init.
func (b *Broadcaster) Register(ctx context.Context, ch Channel, adminID uuid.UUID) (uuid.UUID, error) {
	c := &client{id: uuid.New(), ch: ch, adminID: adminID, registeredAt: time.Now()}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch.Close()
		return uuid.Nil, ErrClosed
	}
	b.clients[c.id] = c
	b.mu.Unlock()

	st, err := b.src.State(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c.id]; !ok {
		// closed or dropped for backlog overflow while the init was built
		if b.closed {
			return uuid.Nil, ErrClosed
		}
		return uuid.Nil, errors.New("client dropped before init")
	}
	if err != nil {
		b.removeLocked(c.id, "init failed")
		return uuid.Nil, err
	}
	if !ch.Send(Event{Type: EventInit, Data: st}) {
		b.removeLocked(c.id, "init rejected")
		return uuid.Nil, errors.New("client channel rejected init")
	}
	for _, ev := range c.backlog {
		if !ch.Send(ev) {
			b.removeLocked(c.id, "send failed")
			return uuid.Nil, errors.New("client channel rejected backlog")
		}
	}
	c.backlog, c.ready = nil, true

	b.log.Info("live client registered",
		zap.String("client_id", c.id.String()),
		zap.String("admin_id", adminID.String()),
		zap.Int("clients", len(b.clients)))
	return c.id, nil
}

func (b *Broadcaster) Remove(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id, "disconnected")
}

func (b *Broadcaster) removeLocked(id uuid.UUID, why string) {
	c, ok := b.clients[id]
	if !ok {
		return
	}
	delete(b.clients, id)
	c.ch.Close()
	b.log.Info("live client removed",
		zap.String("client_id", id.String()),
		zap.String("reason", why),
		zap.Duration("connected_for", time.Since(c.registeredAt)))
}

// Broadcast sends ev to every client and drops the ones whose send fails.
// It returns the number of clients that accepted the event.
func (b *Broadcaster) Broadcast(ev Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, c := range b.clients {
		if !c.ready {
			if len(c.backlog) >= maxBacklog {
				b.removeLocked(id, "backlog overflow")
				continue
			}
			c.backlog = append(c.backlog, ev)
			n++
			continue
		}
		if c.ch.Send(ev) {
			n++
			continue
		}
		b.removeLocked(id, "send failed")
	}
	return n
}

func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client and rejects new registrations.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id := range b.clients {
		b.removeLocked(id, "shutdown")
	}
}

// Run relays bus events to clients until the subscription closes or ctx ends.
func (b *Broadcaster) Run(ctx context.Context, sub <-chan events.Event) error {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			b.relay(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Broadcaster) relay(ctx context.Context, ev events.Event) {
	if b.onChange != nil {
		b.onChange(ctx)
	}
	switch ev.Kind {
	case events.KindBalanceChanged:
		bc := ev.Balance
		b.Broadcast(Event{Type: EventUpdate, Data: ProductUpdate{
			ProductID:              bc.ProductID,
			Delta:                  bc.Delta,
			Reason:                 bc.Reason,
			Balance:                bc.Balance,
			Threshold:              bc.Threshold,
			BelowThresholdNotified: bc.BelowThresholdNotified,
			Discrepancy:            bc.Balance < 0,
			At:                     bc.At,
		}})
	case events.KindStatusChanged:
		st, err := b.src.Status(ctx)
		if err != nil {
			b.log.Warn("kiosk status read failed, using event values", zap.Error(err))
		}
		if ev.Status.TrackingEnabled != nil {
			st.TrackingEnabled = *ev.Status.TrackingEnabled
		}
		if ev.Status.AlertsDegraded != nil {
			st.AlertsDegraded = *ev.Status.AlertsDegraded
		}
		b.Broadcast(Event{Type: EventStatus, Data: st})
	}
}
