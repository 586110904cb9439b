package campaign_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/service/campaign"
	"github.com/abc-bedarieux/newsletter/internal/storage"
)

// memRepo is an in-memory campaign repository for unit testing.
type memRepo struct {
	mu          sync.Mutex
	campaigns   map[string]*domain.Campaign // keyed by id
	attachments map[string]*domain.Attachment
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns:   make(map[string]*domain.Campaign),
		attachments: make(map[string]*domain.Attachment),
	}
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) || f.Limit <= 0 {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		return fmt.Errorf("id required")
	}
	cp := *c
	m.campaigns[cp.ID] = &cp
	return nil
}

func (m *memRepo) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
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
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.ScheduledAt != nil {
		c.ScheduledAt = *u.ScheduledAt
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return campaign.ErrNotFound
	}
	delete(m.campaigns, id)
	for k, a := range m.attachments {
		if a.CampaignID == id {
			delete(m.attachments, k)
		}
	}
	return nil
}

func (m *memRepo) TransitionStatus(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return nil
		}
	}
	return campaign.ErrInvalidTransition
}

func (m *memRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = domain.CampaignStatusSent
	c.SentAt = &at
	return nil
}

func (m *memRepo) DueScheduled(context.Context, time.Time, int) ([]domain.Campaign, error) {
	return nil, nil
}

func (m *memRepo) StuckSending(context.Context, time.Time) ([]domain.Campaign, error) {
	return nil, nil
}

func (m *memRepo) AddAttachment(_ context.Context, a *domain.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.attachments[a.ID] = &cp
	return nil
}

func (m *memRepo) ListAttachments(_ context.Context, campaignID string) ([]domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Attachment
	for _, a := range m.attachments {
		if a.CampaignID == campaignID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) GetAttachment(_ context.Context, campaignID, id string) (*domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attachments[id]
	if !ok || a.CampaignID != campaignID {
		return nil, campaign.ErrAttachmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) DeleteAttachment(_ context.Context, campaignID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attachments, id)
	return nil
}

// memBlobs is an in-memory storage.BlobStore.
type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{blobs: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, key, _ string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.blobs[key] = data
	b.mu.Unlock()
	return int64(len(data)), nil
}

func (b *memBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.blobs, key)
	b.mu.Unlock()
	return nil
}

type stubFeed struct {
	feed *gofeed.Feed
	err  error
}

func (s stubFeed) Fetch(context.Context, string) (*gofeed.Feed, error) { return s.feed, s.err }

var fixedNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func newService(repo *memRepo, opts ...campaign.Option) *campaign.Service {
	opts = append([]campaign.Option{campaign.WithClock(func() time.Time { return fixedNow })}, opts...)
	return campaign.NewService(repo, opts...)
}

func TestCreate(t *testing.T) {
	svc := newService(newMemRepo())
	c, err := svc.Create(context.Background(), campaign.CreateInput{
		Title: "Lettre d'octobre", Subject: "Les nouvelles d'octobre", Content: "<p>Bonjour</p>",
		EventIDs: []string{"e1"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if c.Status != domain.CampaignDraft {
		t.Fatalf("expected draft, got %s", c.Status)
	}
	if c.Type != domain.CampaignNewsletter {
		t.Fatalf("expected newsletter type, got %s", c.Type)
	}
	if c.PlaceIDs == nil || len(c.PlaceIDs) != 0 {
		t.Fatalf("expected empty place IDs, got %v", c.PlaceIDs)
	}
}

func TestCreate_ScheduledWhenScheduledAtGiven(t *testing.T) {
	svc := newService(newMemRepo())
	at := fixedNow.Add(24 * time.Hour)
	c, err := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S", ScheduledAt: &at})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != domain.CampaignScheduled || c.ScheduledAt == nil || !c.ScheduledAt.Equal(at) {
		t.Fatalf("expected scheduled at %v, got %s %v", at, c.Status, c.ScheduledAt)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newService(newMemRepo())
	past := fixedNow.Add(-time.Hour)
	_, err := svc.Create(context.Background(), campaign.CreateInput{
		Title: " ", Type: "promo", Status: "scheduled", ScheduledAt: &past,
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, f := range []string{"title", "subject", "type", "scheduledAt"} {
		if _, ok := verr.Fields[f]; !ok {
			t.Errorf("expected field %q in %v", f, verr.Fields)
		}
	}
}

func TestCreate_ContentCheck(t *testing.T) {
	svc := newService(newMemRepo(), campaign.WithContentCheck(func(s string) error {
		if strings.Contains(s, "{%") {
			return errors.New("unclosed tag")
		}
		return nil
	}))
	_, err := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S", Content: "{% if"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["content"] == "" {
		t.Fatalf("expected content validation error, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := newService(newMemRepo())
	_, err := svc.Get(context.Background(), "nope")
	if !errors.Is(err, campaign.ErrNotFound) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList_DefaultLimitAndStatusFilter(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"}); err != nil {
			t.Fatal(err)
		}
	}
	list, total, err := svc.List(context.Background(), campaign.ListFilter{Status: "draft"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(list) != 3 {
		t.Fatalf("expected 3 campaigns, got %d/%d", len(list), total)
	}
	if _, _, err := svc.List(context.Background(), campaign.ListFilter{Status: "bogus"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestUpdate_ImmutableAfterSend(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	c, _ := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"})

	title := "Nouveau titre"
	got, err := svc.Update(context.Background(), c.ID, campaign.UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != title {
		t.Fatalf("expected %q, got %q", title, got.Title)
	}

	_ = repo.MarkSent(context.Background(), c.ID, fixedNow)
	_, err = svc.Update(context.Background(), c.ID, campaign.UpdateInput{Title: &title})
	if !errors.Is(err, campaign.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
}

func TestScheduleUnschedule(t *testing.T) {
	svc := newService(newMemRepo())
	c, _ := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"})

	if _, err := svc.Schedule(context.Background(), c.ID, fixedNow.Add(-time.Minute)); err == nil {
		t.Fatal("expected error scheduling in the past")
	}
	got, err := svc.Schedule(context.Background(), c.ID, fixedNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got.Status != domain.CampaignScheduled || got.ScheduledAt == nil {
		t.Fatalf("expected scheduled, got %s", got.Status)
	}
	got, err = svc.Unschedule(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Unschedule: %v", err)
	}
	if got.Status != domain.CampaignDraft || got.ScheduledAt != nil {
		t.Fatalf("expected draft without schedule, got %s %v", got.Status, got.ScheduledAt)
	}
	if _, err := svc.Unschedule(context.Background(), c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestArchive(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	c, _ := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"})
	_ = repo.TransitionStatus(context.Background(), c.ID, []domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignSending)

	if err := svc.Archive(context.Background(), c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while sending, got %v", err)
	}
	_ = repo.MarkSent(context.Background(), c.ID, fixedNow)
	if err := svc.Archive(context.Background(), c.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	got, _ := svc.Get(context.Background(), c.ID)
	if got.Status != domain.CampaignArchived {
		t.Fatalf("expected archived, got %s", got.Status)
	}
}

func TestDelete(t *testing.T) {
	repo := newMemRepo()
	blobs := newMemBlobs()
	svc := newService(repo, campaign.WithAttachments(repo, blobs))
	c, _ := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"})
	a, err := svc.AddAttachment(context.Background(), c.ID, "programme.pdf", "application/pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}

	if err := svc.Delete(context.Background(), c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(context.Background(), c.ID); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := blobs.Open(context.Background(), a.StorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected attachment blob removed, got %v", err)
	}
}

func TestDelete_SentCampaignRefused(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	c, _ := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"})
	_ = repo.MarkSent(context.Background(), c.ID, fixedNow)
	if err := svc.Delete(context.Background(), c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAttachments(t *testing.T) {
	repo := newMemRepo()
	blobs := newMemBlobs()
	svc := newService(repo, campaign.WithAttachments(repo, blobs))
	c, _ := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"})

	a, err := svc.AddAttachment(context.Background(), c.ID, "../../Programme été.pdf", "", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}
	if a.Filename != "Programme_été.pdf" {
		t.Fatalf("unexpected sanitized name %q", a.Filename)
	}
	if a.Size != 5 || a.ContentType != "application/octet-stream" {
		t.Fatalf("unexpected attachment %+v", a)
	}
	if !strings.HasPrefix(a.StorageKey, "campaigns/"+c.ID+"/") {
		t.Fatalf("unexpected storage key %q", a.StorageKey)
	}

	list, err := svc.ListAttachments(context.Background(), c.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListAttachments: %v %v", list, err)
	}

	if err := svc.RemoveAttachment(context.Background(), c.ID, a.ID); err != nil {
		t.Fatalf("RemoveAttachment: %v", err)
	}
	if err := svc.RemoveAttachment(context.Background(), c.ID, a.ID); !errors.Is(err, campaign.ErrAttachmentNotFound) {
		t.Fatalf("expected ErrAttachmentNotFound, got %v", err)
	}
}

func TestAddAttachment_TooLarge(t *testing.T) {
	repo := newMemRepo()
	blobs := newMemBlobs()
	svc := newService(repo, campaign.WithAttachments(repo, blobs))
	c, _ := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"})

	big := bytes.NewReader(make([]byte, campaign.MaxAttachmentSize+1))
	_, err := svc.AddAttachment(context.Background(), c.ID, "big.bin", "", big)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(blobs.blobs) != 0 {
		t.Fatalf("expected oversized blob dropped, %d left", len(blobs.blobs))
	}
}

func TestAddAttachment_RequiresEditable(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo, campaign.WithAttachments(repo, newMemBlobs()))
	c, _ := svc.Create(context.Background(), campaign.CreateInput{Title: "T", Subject: "S"})
	_ = repo.MarkSent(context.Background(), c.ID, fixedNow)
	_, err := svc.AddAttachment(context.Background(), c.ID, "a.txt", "text/plain", strings.NewReader("x"))
	if !errors.Is(err, campaign.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
}

func TestImportFeed(t *testing.T) {
	old := fixedNow.Add(-30 * 24 * time.Hour)
	recent := fixedNow.Add(-24 * time.Hour)
	feed := &gofeed.Feed{
		Title: "Actualités ABC",
		Items: []*gofeed.Item{
			{Title: "Marché <nocturne>", Link: "https://abc-bedarieux.fr/posts/marche", Description: "<p>Vendredi soir &amp; samedi</p>", PublishedParsed: &recent},
			{Title: "Ancien article", Link: "https://abc-bedarieux.fr/posts/ancien", PublishedParsed: &old},
		},
	}
	svc := newService(newMemRepo(), campaign.WithFeeds(stubFeed{feed: feed}))
	since := fixedNow.Add(-7 * 24 * time.Hour)
	c, err := svc.ImportFeed(context.Background(), campaign.FeedImportInput{URL: "https://abc-bedarieux.fr/feed", Since: &since})
	if err != nil {
		t.Fatalf("ImportFeed: %v", err)
	}
	if c.Status != domain.CampaignDraft || c.Title != "Actualités ABC" || c.Subject != c.Title {
		t.Fatalf("unexpected campaign %+v", c)
	}
	if !strings.Contains(c.Content, `href="https://abc-bedarieux.fr/posts/marche"`) {
		t.Fatalf("missing item link: %s", c.Content)
	}
	if !strings.Contains(c.Content, "Marché &lt;nocturne&gt;") || !strings.Contains(c.Content, "Vendredi soir &amp; samedi") {
		t.Fatalf("item text not escaped: %s", c.Content)
	}
	if strings.Contains(c.Content, "ancien") {
		t.Fatalf("old item should be skipped: %s", c.Content)
	}
}

func TestImportFeed_Unavailable(t *testing.T) {
	svc := newService(newMemRepo(), campaign.WithFeeds(stubFeed{err: fmt.Errorf("%w: status 502", campaign.ErrFeedUnavailable)}))
	_, err := svc.ImportFeed(context.Background(), campaign.FeedImportInput{URL: "https://example.org/feed"})
	if !errors.Is(err, campaign.ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable, got %v", err)
	}
}
