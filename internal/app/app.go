// Package app assembles the newsletter services from configuration. The
// server, tracking and worker binaries share this wiring.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abc-bedarieux/newsletter/internal/api"
	"github.com/abc-bedarieux/newsletter/internal/auth"
	"github.com/abc-bedarieux/newsletter/internal/config"
	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailer"
	"github.com/abc-bedarieux/newsletter/internal/mailing"
	"github.com/abc-bedarieux/newsletter/internal/pkg/distlock"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/repository/memory"
	"github.com/abc-bedarieux/newsletter/internal/repository/postgres"
	"github.com/abc-bedarieux/newsletter/internal/service/campaign"
	"github.com/abc-bedarieux/newsletter/internal/service/content"
	"github.com/abc-bedarieux/newsletter/internal/service/sending"
	"github.com/abc-bedarieux/newsletter/internal/service/stats"
	"github.com/abc-bedarieux/newsletter/internal/service/subscriber"
	"github.com/abc-bedarieux/newsletter/internal/storage"
	"github.com/abc-bedarieux/newsletter/internal/tracking"
	"github.com/abc-bedarieux/newsletter/internal/worker"
)

// CampaignStore is everything the services need from campaign persistence.
type CampaignStore interface {
	campaign.Repository
	campaign.AttachmentRepository
}

// SubscriberStore adds the recipient query to the subscriber repository.
type SubscriberStore interface {
	subscriber.Repository
	ListReceivable(ctx context.Context, a domain.Audience) ([]domain.Subscriber, error)
}

// SentStore is the CampaignSent table seen by sending, tracking and stats.
type SentStore interface {
	sending.SentStore
	tracking.Store
	stats.Repository
	subscriber.CampaignAttribution
}

// Stores groups one persistence backend.
type Stores struct {
	Campaigns   CampaignStore
	Subscribers SubscriberStore
	Sent        SentStore
	Content     content.Repository
}

// PostgresStores returns the SQL repositories over db.
func PostgresStores(db *sql.DB) Stores {
	return Stores{
		Campaigns:   postgres.NewCampaignRepo(db),
		Subscribers: postgres.NewSubscriberRepo(db),
		Sent:        postgres.NewSentRepo(db),
		Content:     postgres.NewContentRepo(db),
	}
}

// MemoryStores returns in-process repositories over mem.
func MemoryStores(mem *memory.DB) Stores {
	return Stores{
		Campaigns:   mem.Campaigns(),
		Subscribers: mem.Subscribers(),
		Sent:        mem.Sent(),
		Content:     mem.Content(),
	}
}

// App holds the wired services.
type App struct {
	Config    *config.Config
	DB        *sql.DB       // nil for the in-memory backend
	Redis     *redis.Client // nil when not configured or unreachable
	Stores    Stores
	Renderer  *mailing.Renderer
	Transport mailer.Transport

	Campaigns   *campaign.Service
	Subscribers *subscriber.Service
	Sender      *sending.Orchestrator
	Stats       *stats.Aggregator
	Tracking    *tracking.Handler
	Auth        *auth.Manager
	Health      *api.HealthChecker
	Scheduler   *worker.CampaignScheduler
}

// New connects to PostgreSQL and the optional Redis, then wires every
// service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("app: database.url (DATABASE_URL) is required")
	}
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected", "max_open_conns", cfg.Database.MaxOpenConns)

	rdb := ConnectRedis(ctx, cfg.Redis)
	a, err := Build(ctx, cfg, PostgresStores(db), db, rdb)
	if err != nil {
		db.Close()
		if rdb != nil {
			rdb.Close()
		}
		return nil, err
	}
	return a, nil
}

// NewInMemory wires the services over an in-process store. Nothing
// survives a restart.
func NewInMemory(ctx context.Context, cfg *config.Config, mem *memory.DB) (*App, error) {
	return Build(ctx, cfg, MemoryStores(mem), nil, nil)
}

// Build wires the services over st. db and rdb only back the send lock and
// the health checks; both may be nil.
func Build(ctx context.Context, cfg *config.Config, st Stores, db *sql.DB, rdb *redis.Client) (*App, error) {
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	transport, err := mailer.New(ctx, cfg.Mail)
	if err != nil {
		return nil, fmt.Errorf("init mail transport: %w", err)
	}
	if cfg.Server.PublicBaseURL == "" {
		return nil, errors.New("app: server.public_base_url is required for email links")
	}
	if cfg.LinkSigningKey() == "" {
		return nil, errors.New("app: server.tracking_secret or auth.jwt_secret is required to sign click links")
	}

	templates := mailing.NewTemplateService()
	renderer := mailing.NewRenderer(templates, mailing.NewLinks(cfg.Server.PublicBaseURL, cfg.LinkSigningKey()), "")
	loader := content.NewLoader(st.Content)

	locks := distlock.NewFactory(rdb, db, cfg.Sending.LockTTL())

	a := &App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Stores:    st,
		Renderer:  renderer,
		Transport: transport,
		Auth:      auth.NewManager(cfg.Auth),
	}
	a.Campaigns = campaign.NewService(st.Campaigns,
		campaign.WithAttachments(st.Campaigns, blobs),
		campaign.WithFeeds(campaign.NewHTTPFeedFetcher(nil)),
		campaign.WithContentCheck(templates.Validate),
	)
	a.Subscribers = subscriber.NewService(st.Subscribers,
		subscriber.WithVerifier(subscriber.NewMailVerifier(renderer, transport, cfg.Mail)),
		subscriber.WithCampaignAttribution(st.Sent),
	)
	a.Sender = sending.NewOrchestrator(sending.Deps{
		Campaigns:   st.Campaigns,
		Subscribers: st.Subscribers,
		Sent:        st.Sent,
		Content:     loader,
		Attachments: st.Campaigns,
		Blobs:       blobs,
		Renderer:    renderer,
		Transport:   transport,
		Locks:       locks,
	}, sending.Config{
		FromEmail:       cfg.Mail.FromEmail,
		FromName:        cfg.Mail.FromName,
		ReplyTo:         cfg.Mail.ReplyTo,
		Concurrency:     cfg.Sending.Concurrency,
		ErrorSampleSize: cfg.Sending.ErrorSampleSize,
	})
	a.Stats = stats.NewAggregator(st.Campaigns, st.Sent)
	a.Tracking = tracking.NewHandler(tracking.NewTracker(st.Sent), st.Campaigns, st.Subscribers, loader, renderer)

	var pinger api.Pinger
	if db != nil {
		pinger = db
	}
	a.Health = api.NewHealthChecker(pinger, rdb)

	a.Scheduler = worker.NewCampaignScheduler(st.Campaigns, a.Sender, locks)
	a.Scheduler.SetPollInterval(cfg.Scheduler.Interval())
	a.Scheduler.SetStuckAfter(cfg.Sending.LockTTL())
	return a, nil
}

// APIDeps returns the router collaborators.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Campaigns:   a.Campaigns,
		Subscribers: a.Subscribers,
		Sender:      a.Sender,
		Stats:       a.Stats,
		Tracking:    a.Tracking,
		Renderer:    a.Renderer,
		Auth:        a.Auth,
		Health:      a.Health,
	}
}

// Close releases the connections.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("database close failed", "error", err)
		}
	}
}

// ConnectRedis returns a client for cfg, or nil when Redis is disabled or
// does not answer. Callers then fall back to PostgreSQL advisory locks.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		logger.Info("redis not configured, using PostgreSQL advisory locks")
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(cfg.Addr); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, falling back to PostgreSQL advisory locks", "addr", cfg.Addr, "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected", "addr", cfg.Addr)
	return client
}

// LoadConfig reads path with environment overrides and applies the log
// settings.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())
	return cfg, nil
}

// CheckPortAvailable fails fast when another process holds addr.
func CheckPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}
