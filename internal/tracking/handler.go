package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailing"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/pkg/metrics"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// CampaignGetter and SubscriberGetter return an error wrapping
// domain.ErrNotFound for unknown IDs.
type CampaignGetter interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
}

type SubscriberGetter interface {
	GetByID(ctx context.Context, id string) (*domain.Subscriber, error)
}

type ContentLoader interface {
	Load(ctx context.Context, c *domain.Campaign) (domain.ContentBlocks, error)
}

// Handler serves the public tracking endpoints.
type Handler struct {
	tracker     *Tracker
	campaigns   CampaignGetter
	subscribers SubscriberGetter
	content     ContentLoader
	renderer    *mailing.Renderer
}

func NewHandler(t *Tracker, campaigns CampaignGetter, subscribers SubscriberGetter, content ContentLoader, r *mailing.Renderer) *Handler {
	return &Handler{tracker: t, campaigns: campaigns, subscribers: subscribers, content: content, renderer: r}
}

// Mount registers the tracking routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/tracking/open", h.HandleOpen)
	r.Get("/tracking/click", h.HandleClick)
	r.Get("/web-view", h.HandleWebView)
}

// Routes returns a standalone router for the tracking binary.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen always answers with the pixel. Bad or unknown IDs are logged
// and ignored.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	defer h.servePixel(w)

	cid, sid, ok := ids(r)
	if !ok {
		logger.Debug("open pixel with invalid ids", "c", r.URL.Query().Get("c"), "s", r.URL.Query().Get("s"))
		return
	}
	h.record(r, Event{Type: EventOpen, CampaignID: cid, SubscriberID: sid})
}

// HandleClick records the click and redirects. Only targets signed by
// Links.Click are followed; anything else, and any target that is not an
// absolute http(s) URL, sends the reader to the site root.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	links := h.renderer.Links()
	target := links.Base()

	cid, sid, ok := ids(r)
	switch {
	case !ok:
		logger.Debug("click with invalid ids", "c", q.Get("c"), "s", q.Get("s"))
	case !links.VerifyClick(q.Get("c"), q.Get("s"), q.Get("u"), q.Get("sig")):
		metrics.IncTracking(string(EventClick), "bad_signature")
		logger.Warn("click with bad signature", "campaign_id", cid, "subscriber_id", sid)
	default:
		target = safeTarget(q.Get("u"), target)
		h.record(r, Event{Type: EventClick, CampaignID: cid, SubscriberID: sid, LinkURL: target})
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleWebView renders the browser copy of a campaign for one subscriber
// and counts it as an open.
func (h *Handler) HandleWebView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("c") == "" || q.Get("s") == "" {
		h.page(w, http.StatusBadRequest, mailing.Notice{
			Heading: "Lien incomplet",
			Message: "Ce lien de consultation est incomplet. Utilisez le lien reçu dans votre email.",
		})
		return
	}
	cid, sid, ok := ids(r)
	if !ok {
		h.notFound(w)
		return
	}

	c, err := h.campaigns.Get(r.Context(), cid)
	if err != nil {
		h.lookupFailed(w, err, "campaign_id", cid)
		return
	}
	s, err := h.subscribers.GetByID(r.Context(), sid)
	if err != nil {
		h.lookupFailed(w, err, "subscriber_id", sid)
		return
	}

	h.record(r, Event{Type: EventOpen, CampaignID: cid, SubscriberID: sid})

	var blocks domain.ContentBlocks
	if h.content != nil {
		if blocks, err = h.content.Load(r.Context(), c); err != nil {
			logger.Warn("web-view content load failed", "campaign_id", cid, "error", err)
		}
	}
	body, err := h.renderer.WebView(c, s, blocks)
	if err != nil {
		logger.Error("web-view render failed", "campaign_id", cid, "error", err)
		h.page(w, http.StatusInternalServerError, mailing.Notice{
			Heading: "Affichage impossible",
			Message: "Cette lettre ne peut pas être affichée pour le moment.",
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// record never fails the request; tracking is best effort.
func (h *Handler) record(r *http.Request, e Event) {
	e.IPAddress = realIP(r)
	e.UserAgent = r.UserAgent()
	e.Timestamp = time.Now().UTC()
	if _, err := h.tracker.Record(r.Context(), e); err != nil {
		logger.Error("tracking record failed", "type", string(e.Type), "campaign_id", e.CampaignID, "subscriber_id", e.SubscriberID, "error", err)
	}
}

func (h *Handler) lookupFailed(w http.ResponseWriter, err error, key, id string) {
	if errors.Is(err, domain.ErrNotFound) {
		h.notFound(w)
		return
	}
	logger.Error("web-view lookup failed", key, id, "error", err)
	h.page(w, http.StatusInternalServerError, mailing.Notice{
		Heading: "Affichage impossible",
		Message: "Cette lettre ne peut pas être affichée pour le moment.",
	})
}

func (h *Handler) notFound(w http.ResponseWriter) {
	h.page(w, http.StatusNotFound, mailing.Notice{
		Heading:   "Lettre introuvable",
		Message:   "Cette lettre d'information n'existe pas ou n'est plus disponible.",
		LinkURL:   h.renderer.Links().Base(),
		LinkLabel: "Retour au site",
	})
}

func (h *Handler) page(w http.ResponseWriter, status int, n mailing.Notice) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(h.renderer.Page(n)))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
}

// ids returns the c and s parameters when both are UUIDs.
func ids(r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	cid, err := uuid.Parse(q.Get("c"))
	if err != nil {
		return "", "", false
	}
	sid, err := uuid.Parse(q.Get("s"))
	if err != nil {
		return "", "", false
	}
	return cid.String(), sid.String(), true
}

func safeTarget(raw, fallback string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fallback
	}
	return u.String()
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
