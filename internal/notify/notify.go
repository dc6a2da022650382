// Package notify delivers departure alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"

	"github.com/andresmejia3/rollcall/internal/sink"
)

// DefaultSMTPAddr is the submission endpoint used when none is configured.
const DefaultSMTPAddr = "smtp.gmail.com:587"

// Log writes alerts to the structured log only.
type Log struct{}

func (Log) Notify(ctx context.Context, a sink.Alert) error {
	slog.Warn("notify: departure", "identity", a.Identity, "subject", a.Subject(), "body", a.Body())
	return nil
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP mails alerts. smtp.SendMail upgrades to STARTTLS when the server offers it.
type SMTP struct {
	Addr string
	User string
	Pass string
	To   string

	send SendFunc
}

// NewSMTP validates the credentials needed to send mail.
func NewSMTP(addr, user, pass, to string) (*SMTP, error) {
	if addr == "" {
		addr = DefaultSMTPAddr
	}
	if user == "" || to == "" {
		return nil, errors.New("smtp notifier requires EMAIL_USER and EMAIL_TO")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("invalid SMTP address %q: %w", addr, err)
	}
	return &SMTP{Addr: addr, User: user, Pass: pass, To: to, send: smtp.SendMail}, nil
}

// Message renders the RFC 5322 message for an alert.
func (s *SMTP) Message(a sink.Alert) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", s.User, s.To, a.Subject(), a.Body()))
}

func (s *SMTP) Notify(ctx context.Context, a sink.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(s.Addr)
	auth := smtp.PlainAuth("", s.User, s.Pass, host)
	if err := s.send(s.Addr, auth, s.User, []string{s.To}, s.Message(a)); err != nil {
		return fmt.Errorf("email failed: %w", err)
	}
	return nil
}
