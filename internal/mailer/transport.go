// Package mailer hands rendered messages to an outbound mail transport:
// an SMTP relay, Amazon SES, or the log (development).
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/abc-bedarieux/newsletter/internal/config"
	"github.com/abc-bedarieux/newsletter/internal/domain"
)

// ErrNoRecipient is returned for a message without a To address.
var ErrNoRecipient = errors.New("mailer: message has no recipient")

// Transport sends one message. A nil error means the transport accepted
// the message; it says nothing about final delivery.
type Transport interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (messageID string, err error)
}

// New builds the transport selected by cfg.Transport.
func New(ctx context.Context, cfg config.MailConfig) (Transport, error) {
	switch cfg.Transport {
	case "smtp":
		return NewSMTPTransport(cfg.SMTP), nil
	case "ses":
		return NewSESTransport(ctx, cfg.SES)
	case "log", "":
		return NewLogTransport(), nil
	}
	return nil, fmt.Errorf("mailer: unknown transport %q", cfg.Transport)
}

// buildMessage converts msg to a MIME message with a fresh Message-ID.
func buildMessage(msg *domain.EmailMessage) (*gomail.Message, string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, "", ErrNoRecipient
	}
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(msg.FromEmail))
	m.SetHeader("Message-ID", id)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	if msg.TextContent != "" {
		m.SetBody("text/plain", msg.TextContent)
		m.AddAlternative("text/html", msg.HTMLContent)
	} else {
		m.SetBody("text/html", msg.HTMLContent)
	}

	for _, a := range msg.Attachments {
		a := a
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				rc, err := a.Open()
				if err != nil {
					return fmt.Errorf("open attachment %s: %w", a.Filename, err)
				}
				defer rc.Close()
				_, err = io.Copy(w, rc)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		m.Attach(a.Filename, settings...)
	}
	return m, id, nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
