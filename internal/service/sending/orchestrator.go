package sending

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailer"
	"github.com/abc-bedarieux/newsletter/internal/pkg/distlock"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/pkg/metrics"
	"github.com/abc-bedarieux/newsletter/internal/storage"
)

const maxErrorMessageLen = 500

// Config is the fixed envelope and batch tuning.
type Config struct {
	FromEmail       string
	FromName        string
	ReplyTo         string
	Concurrency     int // <= 1 sends sequentially
	ErrorSampleSize int // error messages kept in the summary
}

// Deps are the orchestrator's collaborators. Attachments, Blobs and Locks
// are optional.
type Deps struct {
	Campaigns   CampaignStore
	Subscribers SubscriberSource
	Sent        SentStore
	Content     ContentLoader
	Attachments AttachmentSource
	Blobs       storage.BlobStore
	Renderer    Renderer
	Transport   mailer.Transport
	Locks       LockFactory
}

// Orchestrator runs send batches.
type Orchestrator struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewOrchestrator(d Deps, cfg Config) *Orchestrator {
	if cfg.ErrorSampleSize <= 0 {
		cfg.ErrorSampleSize = 10
	}
	if d.Locks == nil {
		d.Locks = distlock.NewFactory(nil, nil, time.Hour)
	}
	return &Orchestrator{Deps: d, cfg: cfg, now: time.Now}
}

// SetClock overrides time.Now (tests).
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Summary reports the outcome of a batch.
type Summary struct {
	CampaignID    string    `json:"campaignId"`
	Attempted     int       `json:"attempted"`
	Sent          int       `json:"sent"`
	Errors        int       `json:"errors"`
	Skipped       int       `json:"skipped"`
	ErrorMessages []string  `json:"errorMessages"`
	Interrupted   bool      `json:"interrupted,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// batch is what every email of a run shares.
type batch struct {
	campaign    *domain.Campaign
	blocks      domain.ContentBlocks
	attachments []domain.Attachment
}

// outcome is the result of one dispatch, applied by the collecting loop.
type outcome struct {
	sub       *domain.Subscriber
	messageID string
	err       error
	at        time.Time
	skipped   bool // context was done before dispatch
}

// Send runs the full batch for a draft or scheduled campaign: it moves the
// campaign to sending, emails every receivable subscriber, then marks the
// campaign sent. If ctx ends mid-batch the campaign stays in sending and
// the summary is flagged Interrupted.
func (o *Orchestrator) Send(ctx context.Context, campaignID string) (*Summary, error) {
	c, err := o.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := sendable(c); err != nil {
		return nil, err
	}

	release, err := o.lock(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	subs, err := o.Subscribers.ListReceivable(ctx, c.Audience)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	b, err := o.prepare(ctx, c)
	if err != nil {
		return nil, err
	}

	from := []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled}
	if err := o.Campaigns.TransitionStatus(ctx, campaignID, from, domain.CampaignSending); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, ErrAlreadySending
		}
		return nil, err
	}
	logger.Info("campaign send started", "campaign_id", campaignID, "recipients", len(subs), "concurrency", o.cfg.Concurrency)

	sum := o.newSummary(campaignID)
	o.run(ctx, b, subs, sum)
	sum.FinishedAt = o.now()
	metrics.ObserveSend(sum.FinishedAt.Sub(sum.StartedAt))

	// Records already written must survive a canceled request.
	bg := context.WithoutCancel(ctx)
	if sum.Interrupted {
		logger.Warn("campaign send interrupted; campaign left in sending for operator follow-up",
			"campaign_id", campaignID, "attempted", sum.Attempted, "remaining", len(subs)-sum.Attempted-sum.Skipped)
		o.refresh(bg, campaignID)
		return sum, nil
	}
	if err := o.Campaigns.MarkSent(bg, campaignID, sum.FinishedAt); err != nil {
		return sum, fmt.Errorf("mark sent: %w", err)
	}
	o.refresh(bg, campaignID)
	logger.Info("campaign send finished", "campaign_id", campaignID,
		"attempted", sum.Attempted, "sent", sum.Sent, "errors", sum.Errors, "skipped", sum.Skipped)
	return sum, nil
}

// RetryFailed re-sends to subscribers whose last attempt for a sent
// campaign failed. Subscribers that are no longer receivable are skipped.
func (o *Orchestrator) RetryFailed(ctx context.Context, campaignID string) (*Summary, error) {
	c, err := o.sentCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	release, err := o.lock(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	ids, err := o.Sent.ListFailed(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	sum := o.newSummary(campaignID)
	subs := make([]domain.Subscriber, 0, len(ids))
	for _, id := range ids {
		s, err := o.Subscribers.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				sum.Skipped++
				continue
			}
			return nil, err
		}
		subs = append(subs, *s)
	}
	b, err := o.prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	o.run(ctx, b, subs, sum)
	sum.FinishedAt = o.now()
	o.refresh(context.WithoutCancel(ctx), campaignID)
	logger.Info("campaign retry finished", "campaign_id", campaignID,
		"attempted", sum.Attempted, "sent", sum.Sent, "errors", sum.Errors, "skipped", sum.Skipped)
	return sum, nil
}

// Resend emails one subscriber again for a sent campaign.
func (o *Orchestrator) Resend(ctx context.Context, campaignID, subscriberID string) (*Summary, error) {
	c, err := o.sentCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	s, err := o.Subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if !s.Receivable() {
		return nil, ErrNotReceivable
	}
	release, err := o.lock(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := o.prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	sum := o.newSummary(campaignID)
	o.run(ctx, b, []domain.Subscriber{*s}, sum)
	sum.FinishedAt = o.now()
	o.refresh(context.WithoutCancel(ctx), campaignID)
	return sum, nil
}

func sendable(c *domain.Campaign) error {
	switch {
	case c.CanSend():
		return nil
	case c.Status == domain.CampaignSending || c.Status == domain.CampaignStatusSent:
		return ErrAlreadySending
	}
	return ErrNotSendable
}

func (o *Orchestrator) sentCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := o.Campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignStatusSent {
		return nil, ErrNotSent
	}
	return c, nil
}

// lock takes the per-campaign send lock. A held lock means another run is
// in progress.
func (o *Orchestrator) lock(ctx context.Context, campaignID string) (func(), error) {
	l := o.Locks.For(distlock.CampaignSendKey(campaignID))
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire send lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadySending
	}
	return func() {
		if err := l.Release(context.Background()); err != nil {
			logger.Warn("release send lock failed", "campaign_id", campaignID, "error", err)
		}
	}, nil
}

// prepare loads what every email of the batch shares, once.
func (o *Orchestrator) prepare(ctx context.Context, c *domain.Campaign) (*batch, error) {
	b := &batch{campaign: c}
	if o.Content != nil {
		blocks, err := o.Content.Load(ctx, c)
		if err != nil {
			return nil, err
		}
		b.blocks = blocks
	}
	if o.Attachments != nil && o.Blobs != nil {
		atts, err := o.Attachments.ListAttachments(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list attachments: %w", err)
		}
		b.attachments = atts
	}
	return b, nil
}

func (o *Orchestrator) newSummary(campaignID string) *Summary {
	return &Summary{CampaignID: campaignID, ErrorMessages: []string{}, StartedAt: o.now()}
}

// dispatch renders and sends one email. It never records anything.
func (o *Orchestrator) dispatch(ctx context.Context, b *batch, s *domain.Subscriber) outcome {
	if ctx.Err() != nil {
		return outcome{sub: s, skipped: true}
	}
	msg, err := o.message(ctx, b, s)
	if err != nil {
		return outcome{sub: s, err: fmt.Errorf("render: %w", err), at: o.now()}
	}
	id, err := o.Transport.Send(ctx, msg)
	return outcome{sub: s, messageID: id, err: err, at: o.now()}
}

func (o *Orchestrator) message(ctx context.Context, b *batch, s *domain.Subscriber) (*domain.EmailMessage, error) {
	c := b.campaign
	out, err := o.Renderer.Newsletter(c, s, b.blocks)
	if err != nil {
		return nil, err
	}
	msg := &domain.EmailMessage{
		CampaignID:   c.ID,
		SubscriberID: s.ID,
		To:           s.Email,
		FromName:     o.cfg.FromName,
		FromEmail:    o.cfg.FromEmail,
		ReplyTo:      o.cfg.ReplyTo,
		Subject:      out.Subject,
		HTMLContent:  out.HTML,
		TextContent:  out.Text,
		Headers:      map[string]string{"X-Campaign-ID": c.ID},
	}
	if s.UnsubscribeToken != nil {
		msg.Headers["List-Unsubscribe"] = "<" + o.Renderer.Links().Unsubscribe(*s.UnsubscribeToken, c.ID) + ">"
		msg.Headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}
	for _, a := range b.attachments {
		key := a.StorageKey
		msg.Attachments = append(msg.Attachments, domain.MessageAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Open:        func() (io.ReadCloser, error) { return o.Blobs.Open(ctx, key) },
		})
	}
	return msg, nil
}

// apply records an outcome and folds it into the summary.
func (o *Orchestrator) apply(ctx context.Context, b *batch, out outcome, sum *Summary) {
	if out.skipped {
		sum.Interrupted = true
		return
	}
	sum.Attempted++
	rec := &domain.CampaignSent{
		CampaignID:   b.campaign.ID,
		SubscriberID: out.sub.ID,
		SentAt:       &out.at,
	}
	if out.err != nil {
		sum.Errors++
		msg := truncate(out.err.Error(), maxErrorMessageLen)
		if len(sum.ErrorMessages) < o.cfg.ErrorSampleSize {
			sum.ErrorMessages = append(sum.ErrorMessages, out.sub.Email+": "+msg)
		}
		rec.Status = domain.SentFailed
		rec.ErrorMessage = msg
		metrics.IncEmail("failed")
		logger.Warn("campaign email failed", "campaign_id", b.campaign.ID, "subscriber_id", out.sub.ID, "email", out.sub.Email, "error", out.err)
	} else {
		sum.Sent++
		rec.Status = domain.SentDelivered
		metrics.IncEmail("delivered")
		logger.Debug("campaign email handed off", "campaign_id", b.campaign.ID, "subscriber_id", out.sub.ID, "message_id", out.messageID)
	}
	if err := o.Sent.RecordDelivery(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("record delivery failed", "campaign_id", b.campaign.ID, "subscriber_id", out.sub.ID, "error", err)
	}
}

func (o *Orchestrator) refresh(ctx context.Context, campaignID string) {
	if err := o.Sent.RefreshCounters(ctx, campaignID); err != nil {
		logger.Error("counter refresh failed", "campaign_id", campaignID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
