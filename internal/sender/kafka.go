package sender

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"kiosk-service/internal/notify"

	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// KafkaSender publishes alerts and escalations as JSON to two topics.
// Downstream consumers fan them out to whatever channel operators use.
type KafkaSender struct {
	alerts      *kafka.Writer
	escalations *kafka.Writer
}

func NewKafkaSender(brokers []string, alertTopic, escalationTopic string) *KafkaSender {
	return &KafkaSender{
		alerts:      newWriter(brokers, alertTopic),
		escalations: newWriter(brokers, escalationTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (p *KafkaSender) Send(ctx context.Context, m notify.Message) error {
	return write(ctx, p.alerts, m.ProductID.String(), m)
}

func (p *KafkaSender) Escalate(ctx context.Context, e notify.Escalation) error {
	return write(ctx, p.escalations, e.ProductID.String(), e)
}

func (p *KafkaSender) Close() error {
	return errors.Join(p.alerts.Close(), p.escalations.Close())
}

func write(ctx context.Context, w *kafka.Writer, key string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}
