// Package sender holds the delivery channels behind notify.Sender and notify.Escalator.
package sender

import (
	"context"
	"errors"
	"io"

	"kiosk-service/config"
	"kiosk-service/internal/notify"

	"go.uber.org/zap"
)

// Build picks the alert channel from ALERT_CHANNEL. Escalations always reach the error
// log, and also Kafka when brokers are configured and Kafka is not the alert channel.
// The returned closer releases any writers and must be called on shutdown.
func Build(cfg *config.Config, log *zap.Logger) (notify.Sender, notify.Escalator, io.Closer) {
	var (
		kafkaSender *KafkaSender
		closer      io.Closer = nopCloser{}
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSender = NewKafkaSender(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, cfg.Kafka.EscalationTopic)
		closer = kafkaSender
	}

	esc := escalators(cfg.Alerts.Channel, kafkaSender, log)

	switch cfg.Alerts.Channel {
	case "email":
		log.Info("alert channel: email", zap.Strings("to", cfg.SMTP.To))
		return NewEmailSender(cfg.SMTP), esc, closer
	case "kafka":
		log.Info("alert channel: kafka", zap.String("topic", cfg.Kafka.AlertTopic))
		return kafkaSender, esc, closer
	default:
		log.Info("alert channel: log")
		return NewLogSender(log.Named("alerts")), esc, closer
	}
}

func escalators(channel string, kafkaSender *KafkaSender, log *zap.Logger) *fanoutEscalator {
	esc := &fanoutEscalator{targets: []notify.Escalator{NewLogSender(log.Named("escalation"))}}
	if kafkaSender != nil && channel != "kafka" {
		esc.targets = append(esc.targets, kafkaSender)
	}
	return esc
}

// fanoutEscalator raises an escalation on every target. It fails only when no target accepted it.
type fanoutEscalator struct {
	targets []notify.Escalator
}

func (f *fanoutEscalator) Escalate(ctx context.Context, e notify.Escalation) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.Escalate(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f.targets) {
		return errors.Join(errs...)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
