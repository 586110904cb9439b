package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/service/stats"
)

// SentRepo owns newsletter_campaign_sent. It serves the send orchestrator,
// the tracker, unsubscribe attribution and the statistics read model.
type SentRepo struct{ db *sql.DB }

func NewSentRepo(db *sql.DB) *SentRepo { return &SentRepo{db: db} }

// RecordDelivery upserts the outcome of a send attempt. A successful resend
// keeps an opened or clicked status.
func (r *SentRepo) RecordDelivery(ctx context.Context, rec *domain.CampaignSent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO newsletter_campaign_sent (campaign_id, subscriber_id, status, sent_at, error_message)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (campaign_id, subscriber_id) DO UPDATE SET
			status = CASE
				WHEN EXCLUDED.status = 'delivered' AND newsletter_campaign_sent.status IN ('opened', 'clicked')
				THEN newsletter_campaign_sent.status
				ELSE EXCLUDED.status
			END,
			sent_at = EXCLUDED.sent_at,
			error_message = EXCLUDED.error_message
	`, rec.CampaignID, rec.SubscriberID, string(rec.Status), rec.SentAt, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (r *SentRepo) ListFailed(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT subscriber_id FROM newsletter_campaign_sent
		WHERE campaign_id = $1 AND status = 'failed'
		ORDER BY sent_at, subscriber_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CampaignIDsForSubscriber lists the campaigns holding a sent record for
// the subscriber.
func (r *SentRepo) CampaignIDsForSubscriber(ctx context.Context, subscriberID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id FROM newsletter_campaign_sent
		WHERE subscriber_id = $1
		ORDER BY campaign_id
	`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("campaigns for subscriber: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RefreshCounters recomputes the cached totals on the campaign row by
// counting sent records, so it is safe to call any number of times.
func (r *SentRepo) RefreshCounters(ctx context.Context, campaignID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_campaigns c SET
			total_sent = a.sent,
			total_delivered = a.delivered,
			total_opened = a.opened,
			total_clicked = a.clicked,
			total_unsubscribed = a.unsubscribed
		FROM (
			SELECT COUNT(*) AS sent,
				COUNT(*) FILTER (WHERE status IN ('delivered', 'opened', 'clicked')) AS delivered,
				COUNT(opened_at) AS opened,
				COUNT(clicked_at) AS clicked,
				COUNT(unsubscribed_at) AS unsubscribed
			FROM newsletter_campaign_sent WHERE campaign_id = $1
		) a
		WHERE c.id = $1
	`, campaignID)
	if err != nil {
		return fmt.Errorf("refresh counters: %w", err)
	}
	return nil
}

func (r *SentRepo) MarkOpened(ctx context.Context, campaignID, subscriberID string, at time.Time) (bool, error) {
	return r.stamp(ctx, "mark opened", `
		UPDATE newsletter_campaign_sent SET
			opened_at = $3,
			status = CASE WHEN status = 'clicked' THEN status ELSE 'opened' END
		WHERE campaign_id = $1 AND subscriber_id = $2 AND opened_at IS NULL
	`, campaignID, subscriberID, at)
}

func (r *SentRepo) MarkClicked(ctx context.Context, campaignID, subscriberID string, at time.Time) (bool, error) {
	return r.stamp(ctx, "mark clicked", `
		UPDATE newsletter_campaign_sent SET
			clicked_at = $3,
			opened_at = COALESCE(opened_at, $3),
			status = 'clicked'
		WHERE campaign_id = $1 AND subscriber_id = $2 AND clicked_at IS NULL
	`, campaignID, subscriberID, at)
}

func (r *SentRepo) MarkUnsubscribed(ctx context.Context, campaignID, subscriberID string, at time.Time) (bool, error) {
	return r.stamp(ctx, "mark unsubscribed", `
		UPDATE newsletter_campaign_sent SET unsubscribed_at = $3
		WHERE campaign_id = $1 AND subscriber_id = $2 AND unsubscribed_at IS NULL
	`, campaignID, subscriberID, at)
}

func (r *SentRepo) stamp(ctx context.Context, op, q, campaignID, subscriberID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, campaignID, subscriberID, at)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func (r *SentRepo) CampaignCounts(ctx context.Context, campaignID string) (stats.Counts, error) {
	var c stats.Counts
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('delivered', 'opened', 'clicked')),
			COUNT(opened_at),
			COUNT(clicked_at),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(unsubscribed_at)
		FROM newsletter_campaign_sent WHERE campaign_id = $1
	`, campaignID).Scan(&c.Sent, &c.Delivered, &c.Opened, &c.Clicked, &c.Failed, &c.Unsubscribed)
	if err != nil {
		return stats.Counts{}, fmt.Errorf("campaign counts: %w", err)
	}
	return c, nil
}

func (r *SentRepo) RecentFailures(ctx context.Context, campaignID string, limit int) ([]domain.Failure, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cs.subscriber_id, COALESCE(s.email, ''), COALESCE(cs.error_message, ''), cs.sent_at
		FROM newsletter_campaign_sent cs
		LEFT JOIN newsletter_subscribers s ON s.id = cs.subscriber_id
		WHERE cs.campaign_id = $1 AND cs.status = 'failed'
		ORDER BY cs.sent_at DESC NULLS LAST
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer rows.Close()

	out := []domain.Failure{}
	for rows.Next() {
		var f domain.Failure
		var at sql.NullTime
		if err := rows.Scan(&f.SubscriberID, &f.Email, &f.ErrorMessage, &at); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.At = at.Time
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SentRepo) RecentActivity(ctx context.Context, campaignID string, limit int) ([]domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.subscriber_id, COALESCE(s.email, ''), a.kind, a.at FROM (
			SELECT subscriber_id, 'open' AS kind, opened_at AS at
			FROM newsletter_campaign_sent WHERE campaign_id = $1 AND opened_at IS NOT NULL
			UNION ALL
			SELECT subscriber_id, 'click' AS kind, clicked_at AS at
			FROM newsletter_campaign_sent WHERE campaign_id = $1 AND clicked_at IS NOT NULL
		) a
		LEFT JOIN newsletter_subscribers s ON s.id = a.subscriber_id
		ORDER BY a.at DESC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	out := []domain.Activity{}
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.SubscriberID, &a.Email, &a.Kind, &a.At); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
