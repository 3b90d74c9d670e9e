package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one low-stock alert delivery.
type Message struct {
	AttemptID   uuid.UUID `json:"attempt_id"`
	AttemptNo   int32     `json:"attempt_no"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Balance     int64     `json:"balance"`
	Threshold   int32     `json:"threshold"`
	At          time.Time `json:"at"`
}

func (m Message) Subject() string {
	return fmt.Sprintf("Low stock: %s (%d left)", m.ProductName, m.Balance)
}

func (m Message) Body() string {
	return fmt.Sprintf("Product %s (%s) is at %d units, threshold %d.\nAlert %s, delivery attempt %d, %s.",
		m.ProductName, m.ProductID, m.Balance, m.Threshold, m.AttemptID, m.AttemptNo, m.At.Format(time.RFC3339))
}

// Escalation is raised once per continuous run of failed deliveries.
type Escalation struct {
	FailingSince time.Time     `json:"failing_since"`
	FailingFor   time.Duration `json:"failing_for_ns"`
	LastError    string        `json:"last_error"`
	AttemptID    uuid.UUID     `json:"attempt_id"`
	ProductID    uuid.UUID     `json:"product_id"`
	At           time.Time     `json:"at"`
}

// Sender delivers alerts; the dispatcher does not care about the transport.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Escalator is the separate, higher-severity channel used when Sender keeps failing.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}
