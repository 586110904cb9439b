package mailer

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// LogTransport logs messages instead of sending them and keeps the last
// ones in memory. Used in development and by the end-to-end tests.
type LogTransport struct {
	mu   sync.Mutex
	sent []domain.EmailMessage
}

// NewLogTransport creates a LogTransport.
func NewLogTransport() *LogTransport { return &LogTransport{} }

const logKeep = 100

func (t *LogTransport) Send(ctx context.Context, msg *domain.EmailMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.To == "" {
		return "", ErrNoRecipient
	}
	id := uuid.NewString()
	logger.Info("mail (log transport)", "to", msg.To, "subject", msg.Subject, "campaign_id", msg.CampaignID, "message_id", id)

	t.mu.Lock()
	t.sent = append(t.sent, *msg)
	if len(t.sent) > logKeep {
		t.sent = t.sent[len(t.sent)-logKeep:]
	}
	t.mu.Unlock()
	return id, nil
}

// Sent returns a copy of the retained messages.
func (t *LogTransport) Sent() []domain.EmailMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.EmailMessage(nil), t.sent...)
}
