// Package mailer delivers transactional email.
package mailer

import (
	"bookmart/config"
	"bookmart/logger"
	"context"
	"fmt"
	"github.com/wneessen/go-mail"
	"strings"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New returns an SMTP sender when a host is configured and a log-only
// sender otherwise.
func New(cfg config.SMTPConfig) Sender {
	if cfg.Host == "" {
		return LogSender{}
	}
	return &SMTPSender{cfg: cfg}
}

type SMTPSender struct {
	cfg config.SMTPConfig
}

func (s *SMTPSender) message(to, subject, body string) (*mail.Msg, error) {
	if strings.ContainsAny(subject, "\r\n") {
		return nil, fmt.Errorf("mailer: line break in subject")
	}

	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("mailer: sender %q: %w", s.cfg.From, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("mailer: recipient: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	m, err := s.message(to, subject, body)
	if err != nil {
		return err
	}

	// STARTTLS when the server offers it; WithPort overrides the policy's port
	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithPort(s.cfg.Port),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", to, err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to, subject, body string) error {
	logger.Ctx(ctx).Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email not sent, smtp disabled")
	return nil
}

func PasswordResetBody(resetURL, token string) string {
	link := token
	if resetURL != "" {
		link = resetURL + "?token=" + token
	}
	return "We received a request to reset your BookMart password.\n\n" +
		"Use the link below within 15 minutes to choose a new password:\n" +
		link + "\n\n" +
		"If you did not ask for this, you can ignore this email."
}
