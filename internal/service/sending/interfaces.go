// Package sending runs campaign batches: it renders one personalized email
// per receivable subscriber, hands it to the mail transport and records a
// CampaignSent row for every attempt.
//
// A failed recipient never aborts the batch. Nothing is retried
// automatically; RetryFailed and Resend are explicit admin actions.
package sending

import (
	"context"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailing"
	"github.com/abc-bedarieux/newsletter/internal/pkg/distlock"
)

// CampaignStore is the subset of the campaign repository the orchestrator
// needs.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error
	MarkSent(ctx context.Context, id string, at time.Time) error
}

// SubscriberSource lists recipients.
type SubscriberSource interface {
	// ListReceivable returns active, verified subscribers whose preferences
	// match the audience, ordered by subscription date.
	ListReceivable(ctx context.Context, audience domain.Audience) ([]domain.Subscriber, error)
	GetByID(ctx context.Context, id string) (*domain.Subscriber, error)
}

// SentStore persists per-subscriber delivery records.
type SentStore interface {
	// RecordDelivery upserts the (campaign, subscriber) row with the
	// outcome of a send attempt. Tracking timestamps are left untouched.
	RecordDelivery(ctx context.Context, rec *domain.CampaignSent) error
	// ListFailed returns subscriber IDs whose last attempt failed.
	ListFailed(ctx context.Context, campaignID string) ([]string, error)
	// RefreshCounters recomputes the campaign's aggregate counters.
	RefreshCounters(ctx context.Context, campaignID string) error
}

// ContentLoader resolves the campaign's selected events, places and posts.
type ContentLoader interface {
	Load(ctx context.Context, c *domain.Campaign) (domain.ContentBlocks, error)
}

// AttachmentSource lists the files attached to a campaign.
type AttachmentSource interface {
	ListAttachments(ctx context.Context, campaignID string) ([]domain.Attachment, error)
}

// Renderer produces the personalized email.
type Renderer interface {
	Newsletter(c *domain.Campaign, s *domain.Subscriber, blocks domain.ContentBlocks) (*mailing.Rendered, error)
	Links() mailing.Links
}

// LockFactory hands out the per-campaign send lock.
type LockFactory interface {
	For(key string) distlock.DistLock
}
