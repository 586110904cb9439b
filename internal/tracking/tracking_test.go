package tracking

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailing"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// memStore mimics the conditional updates of the Postgres store.
type memStore struct {
	mu       sync.Mutex
	rows     map[string]*domain.CampaignSent // campaign/subscriber
	opened   map[string]int                  // recomputed totals per campaign
	clicked  map[string]int
	refreshN int
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*domain.CampaignSent{}, opened: map[string]int{}, clicked: map[string]int{}}
}

func (m *memStore) add(cid, sid string) {
	m.rows[cid+"/"+sid] = &domain.CampaignSent{CampaignID: cid, SubscriberID: sid, Status: domain.SentDelivered}
}

func (m *memStore) MarkOpened(_ context.Context, cid, sid string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[cid+"/"+sid]
	if !ok || r.OpenedAt != nil {
		return false, nil
	}
	r.OpenedAt = &at
	if r.Status != domain.SentClicked {
		r.Status = domain.SentOpened
	}
	return true, nil
}

func (m *memStore) MarkClicked(_ context.Context, cid, sid string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[cid+"/"+sid]
	if !ok || r.ClickedAt != nil {
		return false, nil
	}
	r.ClickedAt = &at
	if r.OpenedAt == nil {
		r.OpenedAt = &at
	}
	r.Status = domain.SentClicked
	return true, nil
}

func (m *memStore) RefreshCounters(_ context.Context, cid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshN++
	m.opened[cid], m.clicked[cid] = 0, 0
	for _, r := range m.rows {
		if r.CampaignID != cid {
			continue
		}
		if r.OpenedAt != nil {
			m.opened[cid]++
		}
		if r.ClickedAt != nil {
			m.clicked[cid]++
		}
	}
	return nil
}

func TestTracker_FirstOpenWins(t *testing.T) {
	store := newMemStore()
	store.add("c", "s")
	tr := NewTracker(store)

	first := time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)
	changed, err := tr.Record(context.Background(), Event{Type: EventOpen, CampaignID: "c", SubscriberID: "s", Timestamp: first})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = tr.Record(context.Background(), Event{Type: EventOpen, CampaignID: "c", SubscriberID: "s", Timestamp: first.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, first, *store.rows["c/s"].OpenedAt, "openedAt is never overwritten")
	assert.Equal(t, 1, store.opened["c"])
	assert.Equal(t, 1, store.refreshN, "no refresh when nothing changed")
}

func TestTracker_LogsHitDetails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(zap.NewNop()) })

	store := newMemStore()
	store.add("c", "s")
	_, err := NewTracker(store).Record(context.Background(), Event{
		Type: EventClick, CampaignID: "c", SubscriberID: "s",
		LinkURL: "https://example.org/agenda", IPAddress: "203.0.113.7", UserAgent: "Thunderbird/128",
	})
	require.NoError(t, err)

	hits := logs.FilterMessage("tracking hit recorded").All()
	require.Len(t, hits, 1)
	fields := hits[0].ContextMap()
	assert.Equal(t, "https://example.org/agenda", fields["link_url"])
	assert.Equal(t, "203.0.113.7", fields["ip"])
	assert.Equal(t, "Thunderbird/128", fields["user_agent"])
}

func TestTracker_ClickImpliesOpen(t *testing.T) {
	store := newMemStore()
	store.add("c", "s")
	tr := NewTracker(store)

	_, err := tr.Record(context.Background(), Event{Type: EventClick, CampaignID: "c", SubscriberID: "s"})
	require.NoError(t, err)
	row := store.rows["c/s"]
	assert.Equal(t, domain.SentClicked, row.Status)
	assert.NotNil(t, row.OpenedAt)
	assert.Equal(t, 1, store.opened["c"])
	assert.Equal(t, 1, store.clicked["c"])

	// A later pixel load does not downgrade the status.
	_, err = tr.Record(context.Background(), Event{Type: EventOpen, CampaignID: "c", SubscriberID: "s"})
	require.NoError(t, err)
	assert.Equal(t, domain.SentClicked, row.Status)
}

type fakeCampaigns map[string]*domain.Campaign

func (f fakeCampaigns) Get(_ context.Context, id string) (*domain.Campaign, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("campaign %w", domain.ErrNotFound)
}

type fakeSubscribers map[string]*domain.Subscriber

func (f fakeSubscribers) GetByID(_ context.Context, id string) (*domain.Subscriber, error) {
	if s, ok := f[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("subscriber %w", domain.ErrNotFound)
}

type handlerFixture struct {
	router http.Handler
	store  *memStore
	links  mailing.Links
	cid    string
	sid    string
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	cid, sid := uuid.NewString(), uuid.NewString()
	store := newMemStore()
	store.add(cid, sid)
	campaigns := fakeCampaigns{cid: {
		ID: cid, Title: "Octobre", Subject: "La lettre d'octobre",
		Content: `<p>Bonjour {{ first_name }}, <a href="https://example.org/agenda">agenda</a></p>`,
		Status:  domain.CampaignStatusSent,
	}}
	subs := fakeSubscribers{sid: {ID: sid, Email: "a@x.com", FirstName: "Anne"}}
	links := mailing.NewLinks("https://abc.test", "link-key")
	renderer := mailing.NewRenderer(mailing.NewTemplateService(), links, "ABC Bédarieux")
	h := NewHandler(NewTracker(store), campaigns, subs, nil, renderer)
	return &handlerFixture{router: h.Routes(), store: store, links: links, cid: cid, sid: sid}
}

func (f *handlerFixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleOpen_AlwaysPixel(t *testing.T) {
	f := newHandlerFixture(t)
	paths := []string{
		"/tracking/open",
		"/tracking/open?c=bogus&s=bogus",
		"/tracking/open?c=" + uuid.NewString() + "&s=" + uuid.NewString(),
		"/tracking/open?c=" + f.cid + "&s=" + f.sid,
	}
	for _, p := range paths {
		rec := f.get(p)
		assert.Equal(t, http.StatusOK, rec.Code, p)
		assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"), p)
		assert.True(t, bytes.Equal(pixelGIF, rec.Body.Bytes()), p)
		assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	}
	assert.NotNil(t, f.store.rows[f.cid+"/"+f.sid].OpenedAt)
	assert.Equal(t, 1, f.store.opened[f.cid])

	f.get("/tracking/open?c=" + f.cid + "&s=" + f.sid)
	assert.Equal(t, 1, f.store.opened[f.cid], "totalOpened stays at 1")
}

func TestHandleWebView(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.get("/web-view?c=" + f.cid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Lien incomplet")

	rec = f.get("/web-view?c=" + uuid.NewString() + "&s=" + f.sid)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lettre introuvable")

	rec = f.get("/web-view?c=" + f.cid + "&s=not-a-uuid")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get("/web-view?c=" + f.cid + "&s=" + f.sid)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Bonjour Anne")
	assert.NotContains(t, body, "/tracking/open", "web view has no pixel")
	assert.Contains(t, body, "/tracking/click?")
	assert.NotNil(t, f.store.rows[f.cid+"/"+f.sid].OpenedAt, "page load counts as an open")
}

// relative strips scheme and host so the path hits the test router.
func relative(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.RequestURI()
}

func TestHandleClick(t *testing.T) {
	f := newHandlerFixture(t)
	target := "https://example.org/agenda?x=1"
	rec := f.get(relative(t, f.links.Click(f.cid, f.sid, target)))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, target, rec.Header().Get("Location"))
	assert.Equal(t, 1, f.store.clicked[f.cid])

	rec = f.get(relative(t, f.links.Click(f.cid, f.sid, "javascript:alert(1)")))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://abc.test/", rec.Header().Get("Location"))
}

func TestHandleClick_RejectsUnsignedTargets(t *testing.T) {
	f := newHandlerFixture(t)
	phish := "https://evil.example/phish"
	signed := f.links.Click(f.cid, f.sid, "https://example.org/agenda")
	sig, err := url.Parse(signed)
	require.NoError(t, err)

	other := mailing.NewLinks("https://abc.test", "someone-else")
	moved, err := url.Parse(f.links.Click(f.cid, uuid.NewString(), phish))
	require.NoError(t, err)
	q := moved.Query()
	q.Set("s", f.sid)
	moved.RawQuery = q.Encode()

	paths := []string{
		"/tracking/click?u=" + url.QueryEscape(phish),
		"/tracking/click?c=" + f.cid + "&s=" + f.sid + "&u=" + url.QueryEscape(phish),
		"/tracking/click?c=" + f.cid + "&s=" + f.sid + "&u=" + url.QueryEscape(phish) + "&sig=" + sig.Query().Get("sig"),
		relative(t, other.Click(f.cid, f.sid, phish)),
		moved.RequestURI(),
	}
	for _, p := range paths {
		rec := f.get(p)
		assert.Equal(t, http.StatusFound, rec.Code, p)
		assert.Equal(t, "https://abc.test/", rec.Header().Get("Location"), p)
	}
	assert.Zero(t, f.store.clicked[f.cid], "rejected clicks are not recorded")
}
