package sender

import (
	"context"

	"kiosk-service/internal/notify"

	"go.uber.org/zap"
)

// LogSender writes alerts to the service log. Used when no external channel is configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender { return &LogSender{log: log} }

func (s *LogSender) Send(_ context.Context, m notify.Message) error {
	s.log.Warn("LOW STOCK",
		zap.String("product_id", m.ProductID.String()),
		zap.String("product", m.ProductName),
		zap.Int64("balance", m.Balance),
		zap.Int32("threshold", m.Threshold),
		zap.String("attempt_id", m.AttemptID.String()),
		zap.Int32("attempt_no", m.AttemptNo))
	return nil
}

func (s *LogSender) Escalate(_ context.Context, e notify.Escalation) error {
	s.log.Error("ALERT DELIVERY FAILING",
		zap.Time("failing_since", e.FailingSince),
		zap.Duration("failing_for", e.FailingFor),
		zap.String("last_error", e.LastError),
		zap.String("product_id", e.ProductID.String()))
	return nil
}
