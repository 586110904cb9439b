package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/abc-bedarieux/newsletter/internal/auth"
	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailing"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/pkg/metrics"
	"github.com/abc-bedarieux/newsletter/internal/service/campaign"
	"github.com/abc-bedarieux/newsletter/internal/service/sending"
	"github.com/abc-bedarieux/newsletter/internal/service/stats"
	"github.com/abc-bedarieux/newsletter/internal/service/subscriber"
	"github.com/abc-bedarieux/newsletter/internal/tracking"
)

// CampaignService is the admin campaign surface.
type CampaignService interface {
	Create(ctx context.Context, in campaign.CreateInput) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Update(ctx context.Context, id string, in campaign.UpdateInput) (*domain.Campaign, error)
	Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)
	Unschedule(ctx context.Context, id string) (*domain.Campaign, error)
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	AddAttachment(ctx context.Context, campaignID, filename, contentType string, r io.Reader) (*domain.Attachment, error)
	ListAttachments(ctx context.Context, campaignID string) ([]domain.Attachment, error)
	RemoveAttachment(ctx context.Context, campaignID, id string) error
	ImportFeed(ctx context.Context, in campaign.FeedImportInput) (*domain.Campaign, error)
}

// SubscriberService covers the public lifecycle and the admin list.
type SubscriberService interface {
	Subscribe(ctx context.Context, in subscriber.SubscribeInput) (*subscriber.SubscribeResult, error)
	Status(ctx context.Context, email string) (*subscriber.Status, error)
	Verify(ctx context.Context, token string) (*domain.Subscriber, error)
	ByUnsubscribeToken(ctx context.Context, token string) (*domain.Subscriber, error)
	Unsubscribe(ctx context.Context, token, campaignID string) (*domain.Subscriber, error)
	UpdatePreferences(ctx context.Context, token string, p domain.Preferences) (*domain.Subscriber, error)
	HandleGDPR(ctx context.Context, req subscriber.GDPRRequest) (*subscriber.GDPRResult, error)
	Create(ctx context.Context, in subscriber.CreateInput) (*subscriber.SubscribeResult, error)
	List(ctx context.Context, f subscriber.ListFilter) ([]domain.Subscriber, int, error)
}

// Sender runs send batches.
type Sender interface {
	Send(ctx context.Context, campaignID string) (*sending.Summary, error)
	RetryFailed(ctx context.Context, campaignID string) (*sending.Summary, error)
	Resend(ctx context.Context, campaignID, subscriberID string) (*sending.Summary, error)
}

// StatsService computes campaign statistics.
type StatsService interface {
	CampaignStats(ctx context.Context, campaignID string) (*stats.CampaignStats, error)
}

// Deps are the collaborators of the router. Health may be nil.
type Deps struct {
	Campaigns   CampaignService
	Subscribers SubscriberService
	Sender      Sender
	Stats       StatsService
	Tracking    *tracking.Handler
	Renderer    *mailing.Renderer
	Auth        *auth.Manager
	Health      *HealthChecker
}

// NewRouter wires the public newsletter routes, the tracking endpoints and
// the admin API behind bearer auth.
func NewRouter(d Deps, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(metrics.Middleware)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := d.Health
	if health == nil {
		health = NewHealthChecker(nil, nil)
	}
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)
	r.Handle("/metrics", metrics.Handler())

	pub := &publicHandlers{subscribers: d.Subscribers, renderer: d.Renderer}
	r.Route("/newsletter", func(r chi.Router) {
		r.Post("/subscribe", pub.subscribe)
		r.Get("/subscribe", pub.status)
		r.Get("/verify", pub.verify)
		r.Get("/unsubscribe", pub.unsubscribePage)
		r.Post("/unsubscribe", pub.unsubscribe)
		r.Put("/preferences", pub.updatePreferences)
		r.Post("/gdpr", pub.gdpr)
	})

	if d.Tracking != nil {
		d.Tracking.Mount(r)
	}

	adm := &adminHandlers{campaigns: d.Campaigns, subscribers: d.Subscribers, sender: d.Sender, stats: d.Stats}
	r.Group(func(r chi.Router) {
		r.Use(d.Auth.RequireAdmin)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", adm.createCampaign)
			r.Get("/", adm.listCampaigns)
			r.Post("/import-feed", adm.importFeed)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", adm.getCampaign)
				r.Put("/", adm.updateCampaign)
				r.Delete("/", adm.deleteCampaign)
				r.Post("/archive", adm.archiveCampaign)
				r.Post("/schedule", adm.scheduleCampaign)
				r.Post("/unschedule", adm.unscheduleCampaign)
				r.Post("/send", adm.sendCampaign)
				r.Post("/retry-failed", adm.retryFailed)
				r.Post("/resend/{subscriberId}", adm.resend)
				r.Get("/stats", adm.campaignStats)
				r.Post("/attachments", adm.uploadAttachment)
				r.Get("/attachments", adm.listAttachments)
				r.Delete("/attachments/{attachmentId}", adm.deleteAttachment)
			})
		})

		r.Route("/subscribers", func(r chi.Router) {
			r.Get("/", adm.listSubscribers)
			r.Post("/", adm.createSubscriber)
		})
	})

	return r
}

// requestLogger logs one line per request. Query strings carry tokens and
// are left out.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
