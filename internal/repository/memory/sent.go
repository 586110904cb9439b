package memory

import (
	"context"
	"sort"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/service/stats"
)

// SentRepo implements the orchestrator's SentStore, the tracker Store,
// unsubscribe attribution and the statistics read model.
type SentRepo struct{ db *DB }

func (r *SentRepo) RecordDelivery(_ context.Context, rec *domain.CampaignSent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := sentKey{rec.CampaignID, rec.SubscriberID}
	row, ok := r.db.sent[k]
	if !ok {
		row = domain.CampaignSent{CampaignID: rec.CampaignID, SubscriberID: rec.SubscriberID}
	}
	keep := rec.Status == domain.SentDelivered &&
		(row.Status == domain.SentOpened || row.Status == domain.SentClicked)
	if !keep {
		row.Status = rec.Status
	}
	row.SentAt = rec.SentAt
	row.ErrorMessage = rec.ErrorMessage
	r.db.sent[k] = row
	return nil
}

func (r *SentRepo) ListFailed(_ context.Context, campaignID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []domain.CampaignSent
	for k, row := range r.db.sent {
		if k.campaignID == campaignID && row.Status == domain.SentFailed {
			rows = append(rows, row)
		}
	}
	byTime(rows, sentAt, false)
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.SubscriberID)
	}
	return ids, nil
}

func (r *SentRepo) CampaignIDsForSubscriber(_ context.Context, subscriberID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ids := []string{}
	for k := range r.db.sent {
		if k.subscriberID == subscriberID {
			ids = append(ids, k.campaignID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RefreshCounters recomputes the campaign's cached totals by counting.
func (r *SentRepo) RefreshCounters(_ context.Context, campaignID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[campaignID]
	if !ok {
		return nil
	}
	n := r.counts(campaignID)
	c.Counters = domain.Counters{
		TotalSent:         n.Sent,
		TotalDelivered:    n.Delivered,
		TotalOpened:       n.Opened,
		TotalClicked:      n.Clicked,
		TotalUnsubscribed: n.Unsubscribed,
	}
	r.db.campaigns[campaignID] = c
	return nil
}

func (r *SentRepo) MarkOpened(_ context.Context, campaignID, subscriberID string, at time.Time) (bool, error) {
	return r.update(campaignID, subscriberID, func(row *domain.CampaignSent) bool {
		if row.OpenedAt != nil {
			return false
		}
		row.OpenedAt = &at
		if row.Status != domain.SentClicked {
			row.Status = domain.SentOpened
		}
		return true
	}), nil
}

func (r *SentRepo) MarkClicked(_ context.Context, campaignID, subscriberID string, at time.Time) (bool, error) {
	return r.update(campaignID, subscriberID, func(row *domain.CampaignSent) bool {
		if row.ClickedAt != nil {
			return false
		}
		row.ClickedAt = &at
		if row.OpenedAt == nil {
			row.OpenedAt = &at
		}
		row.Status = domain.SentClicked
		return true
	}), nil
}

func (r *SentRepo) MarkUnsubscribed(_ context.Context, campaignID, subscriberID string, at time.Time) (bool, error) {
	return r.update(campaignID, subscriberID, func(row *domain.CampaignSent) bool {
		if row.UnsubscribedAt != nil {
			return false
		}
		row.UnsubscribedAt = &at
		return true
	}), nil
}

func (r *SentRepo) update(campaignID, subscriberID string, fn func(*domain.CampaignSent) bool) bool {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := sentKey{campaignID, subscriberID}
	row, ok := r.db.sent[k]
	if !ok || !fn(&row) {
		return false
	}
	r.db.sent[k] = row
	return true
}

func (r *SentRepo) CampaignCounts(_ context.Context, campaignID string) (stats.Counts, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.counts(campaignID), nil
}

// counts must be called with the lock held.
func (r *SentRepo) counts(campaignID string) stats.Counts {
	var n stats.Counts
	for k, row := range r.db.sent {
		if k.campaignID != campaignID {
			continue
		}
		n.Sent++
		if row.Delivered() {
			n.Delivered++
		}
		if row.OpenedAt != nil {
			n.Opened++
		}
		if row.ClickedAt != nil {
			n.Clicked++
		}
		if row.Status == domain.SentFailed {
			n.Failed++
		}
		if row.UnsubscribedAt != nil {
			n.Unsubscribed++
		}
	}
	return n
}

func (r *SentRepo) RecentFailures(_ context.Context, campaignID string, limit int) ([]domain.Failure, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []domain.Failure{}
	for k, row := range r.db.sent {
		if k.campaignID != campaignID || row.Status != domain.SentFailed {
			continue
		}
		f := domain.Failure{SubscriberID: row.SubscriberID, Email: r.email(row.SubscriberID), ErrorMessage: row.ErrorMessage}
		if row.SentAt != nil {
			f.At = *row.SentAt
		}
		out = append(out, f)
	}
	byTime(out, func(f domain.Failure) time.Time { return f.At }, true)
	return page(out, limit, 0), nil
}

func (r *SentRepo) RecentActivity(_ context.Context, campaignID string, limit int) ([]domain.Activity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []domain.Activity{}
	for k, row := range r.db.sent {
		if k.campaignID != campaignID {
			continue
		}
		if row.OpenedAt != nil {
			out = append(out, domain.Activity{SubscriberID: row.SubscriberID, Email: r.email(row.SubscriberID), Kind: domain.ActivityOpen, At: *row.OpenedAt})
		}
		if row.ClickedAt != nil {
			out = append(out, domain.Activity{SubscriberID: row.SubscriberID, Email: r.email(row.SubscriberID), Kind: domain.ActivityClick, At: *row.ClickedAt})
		}
	}
	byTime(out, func(a domain.Activity) time.Time { return a.At }, true)
	return page(out, limit, 0), nil
}

func (r *SentRepo) email(subscriberID string) string {
	return r.db.subscribers[subscriberID].Email
}

func sentAt(row domain.CampaignSent) time.Time {
	if row.SentAt == nil {
		return time.Time{}
	}
	return *row.SentAt
}
