package sending

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailing"
	"github.com/abc-bedarieux/newsletter/internal/pkg/distlock"
)

type memCampaigns struct {
	mu sync.Mutex
	c  map[string]*domain.Campaign
}

func (m *memCampaigns) Get(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.c[id]
	if !ok {
		return nil, fmt.Errorf("campaign %w", domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaigns) TransitionStatus(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.c[id]
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return nil
		}
	}
	return fmt.Errorf("transition: %w", domain.ErrConflict)
}

func (m *memCampaigns) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c[id].Status = domain.CampaignStatusSent
	m.c[id].SentAt = &at
	return nil
}

func (m *memCampaigns) status(id string) domain.CampaignStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c[id].Status
}

// memSubscribers returns every subscriber from ListReceivable so the
// orchestrator's own eligibility check is exercised.
type memSubscribers struct {
	subs []domain.Subscriber
}

func (m *memSubscribers) ListReceivable(context.Context, domain.Audience) ([]domain.Subscriber, error) {
	return append([]domain.Subscriber(nil), m.subs...), nil
}

func (m *memSubscribers) GetByID(_ context.Context, id string) (*domain.Subscriber, error) {
	for i := range m.subs {
		if m.subs[i].ID == id {
			cp := m.subs[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("subscriber %w", domain.ErrNotFound)
}

type memSent struct {
	mu        sync.Mutex
	rows      map[string]domain.CampaignSent // keyed by subscriber id
	refreshes int
}

func newMemSent() *memSent { return &memSent{rows: map[string]domain.CampaignSent{}} }

func (m *memSent) RecordDelivery(_ context.Context, rec *domain.CampaignSent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.SubscriberID] = *rec
	return nil
}

func (m *memSent) ListFailed(_ context.Context, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, r := range m.rows {
		if r.Status == domain.SentFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memSent) RefreshCounters(context.Context, string) error {
	m.mu.Lock()
	m.refreshes++
	m.mu.Unlock()
	return nil
}

type fakeTransport struct {
	mu     sync.Mutex
	failOn map[string]bool
	sent   []*domain.EmailMessage
	hook   func(*domain.EmailMessage)
}

func (f *fakeTransport) Send(_ context.Context, msg *domain.EmailMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hook != nil {
		f.hook(msg)
	}
	if f.failOn[msg.To] {
		return "", errors.New("550 mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("<%d@test>", len(f.sent)), nil
}

type memBlobs struct{}

func (memBlobs) Put(context.Context, string, string, io.Reader) (int64, error) { return 0, nil }
func (memBlobs) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte("%PDF"))), nil
}
func (memBlobs) Delete(context.Context, string) error { return nil }

type memAttachments []domain.Attachment

func (m memAttachments) ListAttachments(context.Context, string) ([]domain.Attachment, error) {
	return m, nil
}

func sub(id, email string, active, verified bool) domain.Subscriber {
	tok := "unsub-" + id
	return domain.Subscriber{
		ID: id, Email: email, FirstName: "Ami", IsActive: active, IsVerified: verified,
		UnsubscribeToken: &tok, Preferences: domain.DefaultPreferences(),
	}
}

type fixture struct {
	orch      *Orchestrator
	campaigns *memCampaigns
	sent      *memSent
	transport *fakeTransport
}

func newFixture(t *testing.T, subs []domain.Subscriber, cfg Config) *fixture {
	t.Helper()
	campaigns := &memCampaigns{c: map[string]*domain.Campaign{
		"c1": {ID: "c1", Title: "Octobre", Subject: "La lettre d'octobre", Content: "<p>Bonjour {{ first_name }}</p>",
			Status: domain.CampaignDraft, Type: domain.CampaignNewsletter},
	}}
	sent := newMemSent()
	transport := &fakeTransport{failOn: map[string]bool{}}
	renderer := mailing.NewRenderer(mailing.NewTemplateService(), mailing.NewLinks("https://abc.test", "link-key"), "ABC Bédarieux")
	cfg.FromEmail = "lettre@abc.test"
	cfg.FromName = "ABC Bédarieux"
	orch := NewOrchestrator(Deps{
		Campaigns:   campaigns,
		Subscribers: &memSubscribers{subs: subs},
		Sent:        sent,
		Renderer:    renderer,
		Transport:   transport,
		Locks:       distlock.NewFactory(nil, nil, time.Minute),
	}, cfg)
	return &fixture{orch: orch, campaigns: campaigns, sent: sent, transport: transport}
}

func TestSend_PartialFailure(t *testing.T) {
	subs := []domain.Subscriber{
		sub("s1", "one@x.com", true, true),
		sub("s2", "two@x.com", true, true),
		sub("s3", "three@x.com", true, true),
	}
	f := newFixture(t, subs, Config{})
	f.transport.failOn["two@x.com"] = true

	sum, err := f.orch.Send(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Attempted)
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 1, sum.Errors)
	require.Len(t, sum.ErrorMessages, 1)
	assert.Contains(t, sum.ErrorMessages[0], "550")

	assert.Equal(t, domain.SentDelivered, f.sent.rows["s1"].Status)
	assert.Equal(t, domain.SentFailed, f.sent.rows["s2"].Status)
	assert.NotEmpty(t, f.sent.rows["s2"].ErrorMessage)
	assert.Equal(t, domain.SentDelivered, f.sent.rows["s3"].Status)

	assert.Equal(t, domain.CampaignStatusSent, f.campaigns.status("c1"))
	assert.NotNil(t, f.campaigns.c["c1"].SentAt)
	assert.Equal(t, 1, f.sent.refreshes)
}

func TestSend_SkipsInactiveAndUnverified(t *testing.T) {
	subs := []domain.Subscriber{
		sub("s1", "one@x.com", true, true),
		sub("s2", "two@x.com", false, true),
		sub("s3", "three@x.com", true, false),
	}
	f := newFixture(t, subs, Config{})

	sum, err := f.orch.Send(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, sum.Skipped)
	_, hasInactive := f.sent.rows["s2"]
	_, hasUnverified := f.sent.rows["s3"]
	assert.False(t, hasInactive, "inactive subscriber must get no record")
	assert.False(t, hasUnverified, "unverified subscriber must get no record")
}

func TestSend_AudienceFilter(t *testing.T) {
	offersOnly := sub("s2", "two@x.com", true, true)
	offersOnly.Preferences = domain.Preferences{Offers: true, Frequency: domain.FrequencyWeekly}
	f := newFixture(t, []domain.Subscriber{sub("s1", "one@x.com", true, true), offersOnly}, Config{})
	f.campaigns.c["c1"].Audience = domain.Audience{Events: true}

	sum, err := f.orch.Send(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Skipped)
}

func TestSend_MessageEnvelope(t *testing.T) {
	f := newFixture(t, []domain.Subscriber{sub("s1", "one@x.com", true, true)}, Config{ReplyTo: "contact@abc.test"})
	f.orch.Attachments = memAttachments{{ID: "a1", Filename: "programme.pdf", ContentType: "application/pdf", StorageKey: "k"}}
	f.orch.Blobs = memBlobs{}

	_, err := f.orch.Send(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, f.transport.sent, 1)
	msg := f.transport.sent[0]
	assert.Equal(t, "lettre@abc.test", msg.FromEmail)
	assert.Equal(t, "contact@abc.test", msg.ReplyTo)
	assert.Equal(t, "La lettre d'octobre", msg.Subject)
	assert.Contains(t, msg.HTMLContent, "Bonjour Ami")
	assert.Contains(t, msg.HTMLContent, "https://abc.test/tracking/open?c=c1&amp;s=s1")
	assert.Contains(t, msg.Headers["List-Unsubscribe"], "token=unsub-s1")
	assert.Equal(t, "List-Unsubscribe=One-Click", msg.Headers["List-Unsubscribe-Post"])
	require.Len(t, msg.Attachments, 1)
	rc, err := msg.Attachments[0].Open()
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "%PDF", string(data))
}

func TestSend_RefusesNonDraft(t *testing.T) {
	f := newFixture(t, nil, Config{})
	f.campaigns.c["c1"].Status = domain.CampaignSending
	_, err := f.orch.Send(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrAlreadySending)

	f.campaigns.c["c1"].Status = domain.CampaignArchived
	_, err = f.orch.Send(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotSendable)

	_, err = f.orch.Send(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSend_LockHeld(t *testing.T) {
	f := newFixture(t, []domain.Subscriber{sub("s1", "one@x.com", true, true)}, Config{})
	locks := distlock.NewFactory(nil, nil, time.Minute)
	f.orch.Locks = locks
	held := locks.For(distlock.CampaignSendKey("c1"))
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release(context.Background())

	_, err = f.orch.Send(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrAlreadySending)
	assert.Equal(t, domain.CampaignDraft, f.campaigns.status("c1"))
}

func TestSend_WorkerPoolKeepsContract(t *testing.T) {
	var subs []domain.Subscriber
	for i := 0; i < 25; i++ {
		subs = append(subs, sub(fmt.Sprintf("s%02d", i), fmt.Sprintf("u%02d@x.com", i), true, i != 7))
	}
	f := newFixture(t, subs, Config{Concurrency: 4, ErrorSampleSize: 2})
	for _, e := range []string{"u03@x.com", "u10@x.com", "u20@x.com"} {
		f.transport.failOn[e] = true
	}

	sum, err := f.orch.Send(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 24, sum.Attempted)
	assert.Equal(t, 21, sum.Sent)
	assert.Equal(t, 3, sum.Errors)
	assert.Equal(t, 1, sum.Skipped)
	assert.Len(t, sum.ErrorMessages, 2)
	assert.Contains(t, sum.ErrorMessages[0], "u03@x.com", "errors are collected in subscriber order")
	assert.Len(t, f.sent.rows, 24)
	assert.Equal(t, domain.CampaignStatusSent, f.campaigns.status("c1"))
}

func TestSend_InterruptedLeavesSending(t *testing.T) {
	subs := []domain.Subscriber{
		sub("s1", "one@x.com", true, true),
		sub("s2", "two@x.com", true, true),
		sub("s3", "three@x.com", true, true),
	}
	f := newFixture(t, subs, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	f.transport.hook = func(*domain.EmailMessage) { cancel() }

	sum, err := f.orch.Send(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, 1, sum.Attempted)
	assert.Equal(t, domain.CampaignSending, f.campaigns.status("c1"))
	assert.Len(t, f.sent.rows, 1, "the record of the email already sent persists")
}

func TestRetryFailed(t *testing.T) {
	subs := []domain.Subscriber{
		sub("s1", "one@x.com", true, true),
		sub("s2", "two@x.com", true, true),
	}
	f := newFixture(t, subs, Config{})
	f.transport.failOn["two@x.com"] = true
	_, err := f.orch.Send(context.Background(), "c1")
	require.NoError(t, err)

	f.transport.failOn = map[string]bool{}
	sum, err := f.orch.RetryFailed(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Attempted)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, domain.SentDelivered, f.sent.rows["s2"].Status)
	assert.Len(t, f.transport.sent, 2, "s1 is not emailed twice")
}

func TestResend(t *testing.T) {
	subs := []domain.Subscriber{sub("s1", "one@x.com", true, true), sub("s2", "two@x.com", false, true)}
	f := newFixture(t, subs, Config{})

	_, err := f.orch.Resend(context.Background(), "c1", "s1")
	assert.ErrorIs(t, err, ErrNotSent)

	_, err = f.orch.Send(context.Background(), "c1")
	require.NoError(t, err)

	sum, err := f.orch.Resend(context.Background(), "c1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)

	_, err = f.orch.Resend(context.Background(), "c1", "s2")
	assert.ErrorIs(t, err, ErrNotReceivable)
}
