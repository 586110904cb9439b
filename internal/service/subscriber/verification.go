package subscriber

import (
	"context"
	"fmt"

	"github.com/abc-bedarieux/newsletter/internal/config"
	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailer"
	"github.com/abc-bedarieux/newsletter/internal/mailing"
)

// VerificationSender delivers the double opt-in email.
type VerificationSender interface {
	SendVerification(ctx context.Context, s *domain.Subscriber) error
}

// MailVerifier renders the verification template and hands it to the
// configured mail transport.
type MailVerifier struct {
	renderer  *mailing.Renderer
	transport mailer.Transport
	mail      config.MailConfig
}

func NewMailVerifier(r *mailing.Renderer, t mailer.Transport, mail config.MailConfig) *MailVerifier {
	return &MailVerifier{renderer: r, transport: t, mail: mail}
}

func (v *MailVerifier) SendVerification(ctx context.Context, s *domain.Subscriber) error {
	out, err := v.renderer.Verification(s)
	if err != nil {
		return fmt.Errorf("render verification: %w", err)
	}
	msg := &domain.EmailMessage{
		SubscriberID: s.ID,
		To:           s.Email,
		FromName:     v.mail.FromName,
		FromEmail:    v.mail.FromEmail,
		ReplyTo:      v.mail.ReplyTo,
		Subject:      out.Subject,
		HTMLContent:  out.HTML,
		TextContent:  out.Text,
	}
	if _, err := v.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}
