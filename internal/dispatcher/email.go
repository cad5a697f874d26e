package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"
)

// mailDialer is the slice of gomail the sender needs; swapped in tests.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers EMAIL notifications over SMTP.
type EmailSender struct {
	cfg    config.SMTPConfig
	dialer mailDialer
	logger *zap.Logger
}

// NewEmailSender creates the SMTP sender.
func NewEmailSender(cfg config.SMTPConfig, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// Name implements Sender.
func (s *EmailSender) Name() string {
	return models.ChannelEmail
}

// Send implements Sender. Fails when the recipient has no resolvable email
// address or the transport rejects the message.
func (s *EmailSender) Send(ctx context.Context, delivery *models.Delivery) error {
	if delivery.RecipientEmail == nil || *delivery.RecipientEmail == "" {
		return fmt.Errorf("missing recipient email address")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.FromEmail, s.cfg.FromName)
	m.SetHeader("To", *delivery.RecipientEmail)
	m.SetHeader("Subject", delivery.MessageTitle)
	m.SetBody("text/plain", delivery.MessageBody)

	// gomail has no context support; run the send aside so a stalled SMTP
	// conversation cannot outlive the per-send timeout.
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send timed out: %w", ctx.Err())
	}
}
