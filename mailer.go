package accounts

import (
	"context"

	"github.com/goliatone/go-errors"
	"gopkg.in/gomail.v2"
)

// MailMessage is a rendered plain text message
type MailMessage struct {
	To      string
	Subject string
	Body    string
}

// MailerFunc adapts a function to the Mailer interface
type MailerFunc func(ctx context.Context, msg MailMessage) error

// Send implements Mailer
func (f MailerFunc) Send(ctx context.Context, msg MailMessage) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// SMTPConfig holds the SMTP connection settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends messages through an SMTP relay
type SMTPMailer struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
	logger Logger
}

// NewSMTPMailer creates a mailer that dials cfg for every message
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: defaultLogger(),
	}
}

// WithLogger overrides the logger used by the mailer
func (m *SMTPMailer) WithLogger(logger Logger) *SMTPMailer {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Send implements Mailer
func (m *SMTPMailer) Send(ctx context.Context, msg MailMessage) error {
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryOperation, "context cancelled before sending mail")
	default:
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.cfg.From)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)

	if err := m.dialer.DialAndSend(gm); err != nil {
		m.logger.Error("could not send mail", "to", msg.To, "error", err)
		return errors.Wrap(err, errors.CategoryOperation, "failed to send mail").
			WithMetadata(map[string]any{"to": msg.To})
	}

	return nil
}

// LogMailer writes messages to the logger instead of sending them.
// Useful for development.
type LogMailer struct {
	logger Logger
}

// NewLogMailer creates a LogMailer
func NewLogMailer(logger Logger) *LogMailer {
	if logger == nil {
		logger = defaultLogger()
	}
	return &LogMailer{logger: logger}
}

// Send implements Mailer
func (m *LogMailer) Send(_ context.Context, msg MailMessage) error {
	m.logger.Info("mail",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*LogMailer)(nil)
	_ Mailer = MailerFunc(nil)
)
