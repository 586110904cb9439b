package campaign

import (
	"context"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, newest first, and the
	// total count before pagination.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign. c.ID is set by the caller.
	Create(ctx context.Context, c *domain.Campaign) error

	// Update applies the non-nil fields. Only draft and scheduled campaigns
	// are updated; others yield ErrImmutable.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes the campaign; sent records and attachment rows cascade.
	Delete(ctx context.Context, id string) error

	// TransitionStatus moves the campaign to `to` only if its current status
	// is one of `from`, atomically. Returns ErrInvalidTransition otherwise.
	TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error

	// MarkSent sets status sent and stamps sentAt.
	MarkSent(ctx context.Context, id string, at time.Time) error

	// DueScheduled returns scheduled campaigns whose scheduledAt <= now.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// StuckSending returns campaigns in sending whose last update is older
	// than the cutoff.
	StuckSending(ctx context.Context, cutoff time.Time) ([]domain.Campaign, error)
}

// AttachmentRepository stores attachment metadata rows.
type AttachmentRepository interface {
	AddAttachment(ctx context.Context, a *domain.Attachment) error
	ListAttachments(ctx context.Context, campaignID string) ([]domain.Attachment, error)
	// GetAttachment returns ErrAttachmentNotFound if missing.
	GetAttachment(ctx context.Context, campaignID, id string) (*domain.Attachment, error)
	DeleteAttachment(ctx context.Context, campaignID, id string) error
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Type   string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Title       *string
	Subject     *string
	Content     *string
	Type        *domain.CampaignType
	Audience    *domain.Audience
	EventIDs    *[]string
	PlaceIDs    *[]string
	PostIDs     *[]string
	Status      *domain.CampaignStatus
	ScheduledAt **time.Time
}

// Empty reports whether no field is set.
func (u UpdateFields) Empty() bool {
	return u.Title == nil && u.Subject == nil && u.Content == nil && u.Type == nil &&
		u.Audience == nil && u.EventIDs == nil && u.PlaceIDs == nil && u.PostIDs == nil &&
		u.Status == nil && u.ScheduledAt == nil
}
