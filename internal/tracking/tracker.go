// Package tracking records opens and clicks coming back from sent emails:
// the 1×1 pixel, the web-view page and the click redirector.
package tracking

import (
	"context"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/pkg/metrics"
)

// EventType is the kind of tracking hit.
type EventType string

const (
	EventOpen  EventType = "open"
	EventClick EventType = "click"
)

// Event is one tracking hit.
type Event struct {
	Type         EventType
	CampaignID   string
	SubscriberID string
	LinkURL      string
	IPAddress    string
	UserAgent    string
	Timestamp    time.Time
}

// Store mutates CampaignSent rows. Each call is a single conditional
// UPDATE, so concurrent hits cannot move a timestamp once set.
type Store interface {
	// MarkOpened sets openedAt if unset and reports whether a row changed.
	// A missing row is not an error.
	MarkOpened(ctx context.Context, campaignID, subscriberID string, at time.Time) (bool, error)
	// MarkClicked sets clickedAt if unset (and openedAt, since a click
	// implies an open) and reports whether a row changed.
	MarkClicked(ctx context.Context, campaignID, subscriberID string, at time.Time) (bool, error)
	// RefreshCounters recomputes the campaign's aggregates by counting.
	RefreshCounters(ctx context.Context, campaignID string) error
}

// Tracker applies tracking events.
type Tracker struct {
	store Store
	now   func() time.Time
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Record applies e and refreshes the campaign counters when the hit changed
// a row. Repeated hits are no-ops.
func (t *Tracker) Record(ctx context.Context, e Event) (bool, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now().UTC()
	}
	var (
		changed bool
		err     error
	)
	switch e.Type {
	case EventClick:
		changed, err = t.store.MarkClicked(ctx, e.CampaignID, e.SubscriberID, e.Timestamp)
	default:
		changed, err = t.store.MarkOpened(ctx, e.CampaignID, e.SubscriberID, e.Timestamp)
	}
	if err != nil {
		metrics.IncTracking(string(e.Type), "error")
		return false, err
	}
	if !changed {
		metrics.IncTracking(string(e.Type), "noop")
		return false, nil
	}
	metrics.IncTracking(string(e.Type), "recorded")
	logger.Debug("tracking hit recorded",
		"type", string(e.Type),
		"campaign_id", e.CampaignID,
		"subscriber_id", e.SubscriberID,
		"link_url", e.LinkURL,
		"ip", e.IPAddress,
		"user_agent", e.UserAgent,
	)

	if err := t.store.RefreshCounters(ctx, e.CampaignID); err != nil {
		return true, err
	}
	return true, nil
}
