// Package memory holds in-process implementations of the newsletter
// repositories. They back the local stub server and end-to-end tests, and
// follow the same contracts as the postgres package: cascading deletes,
// compare-and-set status transitions, counters recomputed by counting.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

type sentKey struct{ campaignID, subscriberID string }

// DB is the shared state behind the repositories.
type DB struct {
	mu          sync.Mutex
	campaigns   map[string]domain.Campaign
	subscribers map[string]domain.Subscriber
	sent        map[sentKey]domain.CampaignSent
	attachments map[string]domain.Attachment
	events      map[string]domain.Event
	places      map[string]domain.Place
	posts       map[string]domain.Post
	now         func() time.Time
}

func New() *DB {
	return &DB{
		campaigns:   map[string]domain.Campaign{},
		subscribers: map[string]domain.Subscriber{},
		sent:        map[sentKey]domain.CampaignSent{},
		attachments: map[string]domain.Attachment{},
		events:      map[string]domain.Event{},
		places:      map[string]domain.Place{},
		posts:       map[string]domain.Post{},
		now:         time.Now,
	}
}

func (d *DB) Campaigns() *CampaignRepo     { return &CampaignRepo{db: d} }
func (d *DB) Subscribers() *SubscriberRepo { return &SubscriberRepo{db: d} }
func (d *DB) Sent() *SentRepo              { return &SentRepo{db: d} }
func (d *DB) Content() *ContentRepo        { return &ContentRepo{db: d} }

// Seed adds site content for campaigns to reference.
func (d *DB) Seed(events []domain.Event, places []domain.Place, posts []domain.Post) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range events {
		d.events[e.ID] = e
	}
	for _, p := range places {
		d.places[p.ID] = p
	}
	for _, p := range posts {
		d.posts[p.ID] = p
	}
}

// SentRecord returns a copy of one CampaignSent row.
func (d *DB) SentRecord(campaignID, subscriberID string) (domain.CampaignSent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.sent[sentKey{campaignID, subscriberID}]
	return rec, ok
}

func cloneCampaign(c domain.Campaign) domain.Campaign {
	c.EventIDs = append([]string{}, c.EventIDs...)
	c.PlaceIDs = append([]string{}, c.PlaceIDs...)
	c.PostIDs = append([]string{}, c.PostIDs...)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneSubscriber(s domain.Subscriber) domain.Subscriber {
	s.VerificationToken = cloneString(s.VerificationToken)
	s.UnsubscribeToken = cloneString(s.UnsubscribeToken)
	return s
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func byTime[T any](items []T, at func(T) time.Time, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return at(items[i]).After(at(items[j]))
		}
		return at(items[i]).Before(at(items[j]))
	})
}
