package mailer

import (
	"context"
	"crypto/tls"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/abc-bedarieux/newsletter/internal/config"
	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// dialer is the part of *gomail.Dialer the transport needs.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPTransport relays through an authenticated SMTP server.
type SMTPTransport struct {
	dialer dialer
}

// NewSMTPTransport creates an SMTP transport. Port 465 uses implicit TLS,
// other ports negotiate STARTTLS.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	if cfg.SkipTLSVerify {
		logger.Warn("smtp: TLS certificate verification is disabled", "host", cfg.Host)
	}
	return &SMTPTransport{dialer: d}
}

// Send opens a connection, delivers msg and closes. gomail does not take a
// context, so cancellation is only checked before dialing.
func (t *SMTPTransport) Send(ctx context.Context, msg *domain.EmailMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, id, err := buildMessage(msg)
	if err != nil {
		return "", err
	}
	if err := t.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	logger.Debug("smtp: sent", "to", msg.To, "message_id", id)
	return id, nil
}
