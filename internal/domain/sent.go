package domain

import "time"

// SentStatus enumerates the per-subscriber delivery states.
type SentStatus string

const (
	SentPending SentStatus = "pending"
	// SentDelivered means the message was handed to the mail transport
	// without error. No carrier confirmation exists.
	SentDelivered SentStatus = "delivered"
	SentOpened    SentStatus = "opened"
	SentClicked   SentStatus = "clicked"
	SentFailed    SentStatus = "failed"
)

// CampaignSent is the delivery and tracking record for one
// (campaign, subscriber) pair. At most one exists per pair.
type CampaignSent struct {
	CampaignID     string     `json:"campaignId" db:"campaign_id"`
	SubscriberID   string     `json:"subscriberId" db:"subscriber_id"`
	Status         SentStatus `json:"status" db:"status"`
	SentAt         *time.Time `json:"sentAt,omitempty" db:"sent_at"`
	OpenedAt       *time.Time `json:"openedAt,omitempty" db:"opened_at"`
	ClickedAt      *time.Time `json:"clickedAt,omitempty" db:"clicked_at"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty" db:"unsubscribed_at"`
	ErrorMessage   string     `json:"errorMessage,omitempty" db:"error_message"`
}

// Delivered reports whether the transport accepted the message.
func (s *CampaignSent) Delivered() bool {
	return s.Status == SentDelivered || s.Status == SentOpened || s.Status == SentClicked
}

// ActivityKind labels an entry of the recent activity feed.
type ActivityKind string

const (
	ActivityOpen  ActivityKind = "open"
	ActivityClick ActivityKind = "click"
)

// Activity is one open or click shown in the admin statistics view.
type Activity struct {
	SubscriberID string       `json:"subscriberId"`
	Email        string       `json:"email"`
	Kind         ActivityKind `json:"kind"`
	At           time.Time    `json:"at"`
}

// Failure is one failed delivery shown in the admin statistics view.
type Failure struct {
	SubscriberID string    `json:"subscriberId"`
	Email        string    `json:"email"`
	ErrorMessage string    `json:"errorMessage"`
	At           time.Time `json:"at"`
}
