// Package mailer is the outbound mail collaborator. Retry on failure is
// owned by the email job queue, so a sender performs exactly one bounded
// delivery attempt per call.
package mailer

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/fleetyard/backoffice/internal/config"
)

// Sender delivers one message. Implementations must respect ctx so a slow
// SMTP server cannot block the scheduler tick.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

type smtpSender struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
}

// NewSMTPSender builds a gomail-backed Sender from the mail config.
func NewSMTPSender(cfg config.MailConfig) Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return &smtpSender{
		dialer:        d,
		senderAddress: cfg.SenderAddress,
		senderName:    cfg.SenderName,
	}
}

func (s *smtpSender) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	// gomail has no context support; run the dial in a goroutine and bound
	// it with ctx.
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(msg)
	}()

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
