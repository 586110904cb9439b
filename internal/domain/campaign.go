package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignSending    CampaignStatus = "sending"
	CampaignStatusSent CampaignStatus = "sent"
	CampaignArchived   CampaignStatus = "archived"
)

// Valid reports whether s is a known status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignStatusSent, CampaignArchived:
		return true
	}
	return false
}

// CampaignType distinguishes regular newsletters from one-off announcements.
type CampaignType string

const (
	CampaignNewsletter   CampaignType = "newsletter"
	CampaignAnnouncement CampaignType = "announcement"
)

// Audience holds the preference flags a campaign targets. A campaign with
// no flag set targets every active, verified subscriber.
type Audience struct {
	Events bool `json:"events"`
	Places bool `json:"places"`
	Offers bool `json:"offers"`
	News   bool `json:"news"`
}

// Any reports whether at least one preference flag is targeted.
func (a Audience) Any() bool {
	return a.Events || a.Places || a.Offers || a.News
}

// Counters is the aggregate cache stored on the campaign row. It is always
// recomputed from CampaignSent rows and never incremented in place.
type Counters struct {
	TotalSent         int `json:"totalSent" db:"total_sent"`
	TotalDelivered    int `json:"totalDelivered" db:"total_delivered"`
	TotalOpened       int `json:"totalOpened" db:"total_opened"`
	TotalClicked      int `json:"totalClicked" db:"total_clicked"`
	TotalUnsubscribed int `json:"totalUnsubscribed" db:"total_unsubscribed"`
}

// Campaign is a newsletter or announcement sent to subscribers.
type Campaign struct {
	ID       string         `json:"id" db:"id"`
	Title    string         `json:"title" db:"title"`
	Subject  string         `json:"subject" db:"subject"`
	Content  string         `json:"content" db:"content"`
	Type     CampaignType   `json:"type" db:"type"`
	Status   CampaignStatus `json:"status" db:"status"`
	Audience Audience       `json:"audience"`

	EventIDs []string `json:"eventIds" db:"event_ids"`
	PlaceIDs []string `json:"placeIds" db:"place_ids"`
	PostIDs  []string `json:"postIds" db:"post_ids"`

	Counters

	ScheduledAt *time.Time `json:"scheduledAt,omitempty" db:"scheduled_at"`
	SentAt      *time.Time `json:"sentAt,omitempty" db:"sent_at"`
	CreatedBy   string     `json:"createdBy,omitempty" db:"created_by"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsEditable reports whether the campaign content may still change.
// Content is immutable once sending has started.
func (c *Campaign) IsEditable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// CanSend reports whether a send batch may start for this campaign.
func (c *Campaign) CanSend() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// Attachment is a file attached to every email of a campaign. The binary
// lives in the blob store under StorageKey.
type Attachment struct {
	ID          string    `json:"id" db:"id"`
	CampaignID  string    `json:"campaignId" db:"campaign_id"`
	Filename    string    `json:"filename" db:"filename"`
	ContentType string    `json:"contentType" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	StorageKey  string    `json:"-" db:"storage_key"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
