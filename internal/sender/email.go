package sender

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"kiosk-service/config"
	"kiosk-service/internal/notify"

	gopkgmail "gopkg.in/gomail.v2"
)

var alertHTML = template.Must(template.New("low_stock").Parse(`<html><body>
<h3>Low stock: {{.ProductName}}</h3>
<p>Balance is <b>{{.Balance}}</b>, threshold {{.Threshold}}.</p>
<p style="color:#888">Alert {{.AttemptID}}, attempt {{.AttemptNo}}, {{.At.Format "2006-01-02 15:04:05 MST"}}</p>
</body></html>`))

type mailDialer interface {
	DialAndSend(m ...*gopkgmail.Message) error
}

// EmailSender delivers low-stock alerts to the operator mailboxes over SMTP.
type EmailSender struct {
	from   string
	to     []string
	dialer mailDialer
}

func NewEmailSender(cfg config.SMTP) *EmailSender {
	d := gopkgmail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.SSL = cfg.SSL
	return &EmailSender{from: cfg.From, to: cfg.To, dialer: d}
}

func (s *EmailSender) Send(ctx context.Context, msg notify.Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}

	// gomail has no context support; the dial is abandoned on ctx timeout
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func (s *EmailSender) build(msg notify.Message) (*gopkgmail.Message, error) {
	if len(s.to) == 0 {
		return nil, fmt.Errorf("smtp send: no recipients configured")
	}
	var html bytes.Buffer
	if err := alertHTML.Execute(&html, msg); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	m := gopkgmail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to...)
	m.SetHeader("Subject", msg.Subject())
	m.SetBody("text/plain", msg.Body())
	m.AddAlternative("text/html", html.String())
	return m, nil
}
