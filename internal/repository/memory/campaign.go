package memory

import (
	"context"
	"slices"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository and campaign.AttachmentRepository.
type CampaignRepo struct{ db *DB }

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	c = cloneCampaign(c)
	return &c, nil
}

func (r *CampaignRepo) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.db.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		if f.Status == "" && c.Status == domain.CampaignArchived {
			continue
		}
		if f.Type != "" && string(c.Type) != f.Type {
			continue
		}
		if f.Search != "" && !contains(c.Title, f.Search) && !contains(c.Subject, f.Search) {
			continue
		}
		out = append(out, cloneCampaign(c))
	}
	byTime(out, func(c domain.Campaign) time.Time { return c.CreatedAt }, true)
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := cloneCampaign(*c)
	cp.UpdatedAt = cp.CreatedAt
	r.db.campaigns[c.ID] = cp
	return nil
}

func (r *CampaignRepo) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.Empty() {
		return nil
	}
	if !c.IsEditable() {
		return campaign.ErrImmutable
	}
	if u.Title != nil {
		c.Title = *u.Title
	}
	if u.Subject != nil {
		c.Subject = *u.Subject
	}
	if u.Content != nil {
		c.Content = *u.Content
	}
	if u.Type != nil {
		c.Type = *u.Type
	}
	if u.Audience != nil {
		c.Audience = *u.Audience
	}
	if u.EventIDs != nil {
		c.EventIDs = append([]string{}, (*u.EventIDs)...)
	}
	if u.PlaceIDs != nil {
		c.PlaceIDs = append([]string{}, (*u.PlaceIDs)...)
	}
	if u.PostIDs != nil {
		c.PostIDs = append([]string{}, (*u.PostIDs)...)
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.ScheduledAt != nil {
		c.ScheduledAt = *u.ScheduledAt
	}
	c.UpdatedAt = r.db.now()
	r.db.campaigns[id] = c
	return nil
}

func (r *CampaignRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.campaigns[id]; !ok {
		return campaign.ErrNotFound
	}
	delete(r.db.campaigns, id)
	for k := range r.db.sent {
		if k.campaignID == id {
			delete(r.db.sent, k)
		}
	}
	for k, a := range r.db.attachments {
		if a.CampaignID == id {
			delete(r.db.attachments, k)
		}
	}
	return nil
}

func (r *CampaignRepo) TransitionStatus(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if !slices.Contains(from, c.Status) {
		return campaign.ErrInvalidTransition
	}
	c.Status = to
	c.UpdatedAt = r.db.now()
	r.db.campaigns[id] = c
	return nil
}

func (r *CampaignRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = domain.CampaignStatusSent
	c.SentAt = &at
	c.UpdatedAt = r.db.now()
	r.db.campaigns[id] = c
	return nil
}

func (r *CampaignRepo) DueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	return r.filter(func(c domain.Campaign) bool {
		return c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
	}, func(c domain.Campaign) time.Time { return *c.ScheduledAt }, limit), nil
}

func (r *CampaignRepo) StuckSending(_ context.Context, cutoff time.Time) ([]domain.Campaign, error) {
	return r.filter(func(c domain.Campaign) bool {
		return c.Status == domain.CampaignSending && c.UpdatedAt.Before(cutoff)
	}, func(c domain.Campaign) time.Time { return c.UpdatedAt }, 0), nil
}

func (r *CampaignRepo) filter(keep func(domain.Campaign) bool, at func(domain.Campaign) time.Time, limit int) []domain.Campaign {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []domain.Campaign{}
	for _, c := range r.db.campaigns {
		if keep(c) {
			out = append(out, cloneCampaign(c))
		}
	}
	byTime(out, at, false)
	return page(out, limit, 0)
}

func (r *CampaignRepo) AddAttachment(_ context.Context, a *domain.Attachment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.campaigns[a.CampaignID]; !ok {
		return campaign.ErrNotFound
	}
	r.db.attachments[a.ID] = *a
	return nil
}

func (r *CampaignRepo) ListAttachments(_ context.Context, campaignID string) ([]domain.Attachment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []domain.Attachment{}
	for _, a := range r.db.attachments {
		if a.CampaignID == campaignID {
			out = append(out, a)
		}
	}
	byTime(out, func(a domain.Attachment) time.Time { return a.CreatedAt }, false)
	return out, nil
}

func (r *CampaignRepo) GetAttachment(_ context.Context, campaignID, id string) (*domain.Attachment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.attachments[id]
	if !ok || a.CampaignID != campaignID {
		return nil, campaign.ErrAttachmentNotFound
	}
	return &a, nil
}

func (r *CampaignRepo) DeleteAttachment(_ context.Context, campaignID, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.attachments[id]
	if !ok || a.CampaignID != campaignID {
		return campaign.ErrAttachmentNotFound
	}
	delete(r.db.attachments, id)
	return nil
}
