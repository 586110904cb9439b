package subscriber

import (
	"context"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

// Repository defines the data access contract for subscribers and their
// preference rows. Implementations must be safe for concurrent use.
type Repository interface {
	// GetByID, GetByEmail and GetByUnsubscribeToken return ErrNotFound
	// when no row matches. Emails are compared normalized.
	GetByID(ctx context.Context, id string) (*domain.Subscriber, error)
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
	GetByUnsubscribeToken(ctx context.Context, token string) (*domain.Subscriber, error)

	// ConsumeVerificationToken marks the owner of token verified and clears
	// the token in one statement, so a token verifies at most once.
	// Returns ErrInvalidToken when no subscriber holds it.
	ConsumeVerificationToken(ctx context.Context, token string, at time.Time) (*domain.Subscriber, error)

	// Create inserts the subscriber and its preferences. Returns
	// ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, s *domain.Subscriber) error

	// Save overwrites every mutable field and the preferences.
	Save(ctx context.Context, s *domain.Subscriber) error

	// Delete hard-deletes the subscriber; preferences and sent records
	// cascade.
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, f ListFilter) ([]domain.Subscriber, int, error)
}

// CampaignAttribution links a subscriber to the campaigns it received:
// which campaign an unsubscribe came from, and which cached totals must be
// recounted once the subscriber's sent records are gone.
type CampaignAttribution interface {
	// MarkUnsubscribed stamps unsubscribedAt on the sent record if unset
	// and reports whether a row changed.
	MarkUnsubscribed(ctx context.Context, campaignID, subscriberID string, at time.Time) (bool, error)
	CampaignIDsForSubscriber(ctx context.Context, subscriberID string) ([]string, error)
	RefreshCounters(ctx context.Context, campaignID string) error
}

// ListFilter controls the admin subscriber list.
type ListFilter struct {
	Active   *bool
	Verified *bool
	Search   string
	Limit    int
	Offset   int
}
