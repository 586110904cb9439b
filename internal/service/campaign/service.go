package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/storage"
)

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repositories are.
type Service struct {
	repo        Repository
	attachments AttachmentRepository
	blobs       storage.BlobStore
	feeds       FeedFetcher
	checkLiquid func(string) error
	now         func() time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

// WithAttachments enables attachment operations.
func WithAttachments(repo AttachmentRepository, blobs storage.BlobStore) Option {
	return func(s *Service) {
		s.attachments = repo
		s.blobs = blobs
	}
}

// WithFeeds enables ImportFeed.
func WithFeeds(f FeedFetcher) Option {
	return func(s *Service) { s.feeds = f }
}

// WithContentCheck validates personalization tags in campaign content.
func WithContentCheck(fn func(string) error) Option {
	return func(s *Service) { s.checkLiquid = fn }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Subject     string          `json:"subject" validate:"required,max=200"`
	Content     string          `json:"content"`
	Type        string          `json:"type" validate:"omitempty,oneof=newsletter announcement"`
	Status      string          `json:"status" validate:"omitempty,oneof=draft scheduled"`
	Audience    domain.Audience `json:"audience"`
	EventIDs    []string        `json:"eventIds"`
	PlaceIDs    []string        `json:"placeIds"`
	PostIDs     []string        `json:"postIds"`
	ScheduledAt *time.Time      `json:"scheduledAt"`
	CreatedBy   string          `json:"-"`
}

// UpdateInput holds the editable fields; nil means unchanged.
type UpdateInput struct {
	Title    *string          `json:"title" validate:"omitempty,max=200"`
	Subject  *string          `json:"subject" validate:"omitempty,max=200"`
	Content  *string          `json:"content"`
	Type     *string          `json:"type" validate:"omitempty,oneof=newsletter announcement"`
	Audience *domain.Audience `json:"audience"`
	EventIDs *[]string        `json:"eventIds"`
	PlaceIDs *[]string        `json:"placeIds"`
	PostIDs  *[]string        `json:"postIds"`
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" && !domain.CampaignStatus(f.Status).Valid() {
		return nil, 0, domain.NewValidationError("status", "unknown status")
	}
	return s.repo.List(ctx, f)
}

// Create validates and persists a new campaign in draft status, or in
// scheduled status when a scheduledAt is given.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	now := s.now()
	verr := &domain.ValidationError{}
	if strings.TrimSpace(in.Title) == "" {
		verr.Add("title", "is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		verr.Add("subject", "is required")
	}
	typ := domain.CampaignNewsletter
	if in.Type != "" {
		typ = domain.CampaignType(in.Type)
		if typ != domain.CampaignNewsletter && typ != domain.CampaignAnnouncement {
			verr.Add("type", "must be newsletter or announcement")
		}
	}
	status := domain.CampaignDraft
	switch in.Status {
	case "":
		if in.ScheduledAt != nil {
			status = domain.CampaignScheduled
		}
	case string(domain.CampaignDraft), string(domain.CampaignScheduled):
		status = domain.CampaignStatus(in.Status)
	default:
		verr.Add("status", "must be draft or scheduled")
	}
	if status == domain.CampaignScheduled {
		if in.ScheduledAt == nil {
			verr.Add("scheduledAt", "is required for a scheduled campaign")
		} else if !in.ScheduledAt.After(now) {
			verr.Add("scheduledAt", "must be in the future")
		}
	}
	s.checkContent(in.Content, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	c := &domain.Campaign{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(in.Title),
		Subject:   strings.TrimSpace(in.Subject),
		Content:   in.Content,
		Type:      typ,
		Status:    status,
		Audience:  in.Audience,
		EventIDs:  nonNil(in.EventIDs),
		PlaceIDs:  nonNil(in.PlaceIDs),
		PostIDs:   nonNil(in.PostIDs),
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == domain.CampaignScheduled {
		at := in.ScheduledAt.UTC()
		c.ScheduledAt = &at
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	logger.Info("campaign created", "campaign_id", c.ID, "status", string(c.Status), "created_by", c.CreatedBy)
	return c, nil
}

// Update modifies content fields of a draft or scheduled campaign.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsEditable() {
		return nil, ErrImmutable
	}

	verr := &domain.ValidationError{}
	u := UpdateFields{
		Content:  in.Content,
		Audience: in.Audience,
		EventIDs: in.EventIDs,
		PlaceIDs: in.PlaceIDs,
		PostIDs:  in.PostIDs,
	}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			verr.Add("title", "cannot be empty")
		}
		u.Title = &t
	}
	if in.Subject != nil {
		sub := strings.TrimSpace(*in.Subject)
		if sub == "" {
			verr.Add("subject", "cannot be empty")
		}
		u.Subject = &sub
	}
	if in.Type != nil {
		typ := domain.CampaignType(*in.Type)
		if typ != domain.CampaignNewsletter && typ != domain.CampaignAnnouncement {
			verr.Add("type", "must be newsletter or announcement")
		}
		u.Type = &typ
	}
	if in.Content != nil {
		s.checkContent(*in.Content, verr)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if u.Empty() {
		return c, nil
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Schedule sets or moves the send time of a draft or scheduled campaign.
func (s *Service) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	if !at.After(s.now()) {
		return nil, domain.NewValidationError("scheduledAt", "must be in the future")
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsEditable() {
		return nil, ErrInvalidTransition
	}
	status := domain.CampaignScheduled
	when := at.UTC()
	ptr := &when
	if err := s.repo.Update(ctx, id, UpdateFields{Status: &status, ScheduledAt: &ptr}); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Unschedule returns a scheduled campaign to draft.
func (s *Service) Unschedule(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignScheduled {
		return nil, ErrInvalidTransition
	}
	status := domain.CampaignDraft
	var none *time.Time
	if err := s.repo.Update(ctx, id, UpdateFields{Status: &status, ScheduledAt: &none}); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Archive hides a campaign from the active list. A campaign that is
// currently sending cannot be archived.
func (s *Service) Archive(ctx context.Context, id string) error {
	from := []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignStatusSent}
	if err := s.repo.TransitionStatus(ctx, id, from, domain.CampaignArchived); err != nil {
		return err
	}
	logger.Info("campaign archived", "campaign_id", id)
	return nil
}

// Delete removes a campaign that was never sent, or an archived one, with
// its attachment blobs.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignSending || c.Status == domain.CampaignStatusSent {
		return ErrInvalidTransition
	}

	var keys []string
	if s.attachments != nil {
		atts, err := s.attachments.ListAttachments(ctx, id)
		if err != nil {
			return fmt.Errorf("list attachments: %w", err)
		}
		for _, a := range atts {
			keys = append(keys, a.StorageKey)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.blobs.Delete(ctx, k); err != nil {
			logger.Warn("campaign delete: orphan attachment blob", "campaign_id", id, "key", k, "error", err)
		}
	}
	logger.Info("campaign deleted", "campaign_id", id)
	return nil
}

func (s *Service) checkContent(content string, verr *domain.ValidationError) {
	if s.checkLiquid == nil || content == "" {
		return
	}
	if err := s.checkLiquid(content); err != nil {
		verr.Add("content", "invalid template tag: "+err.Error())
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
