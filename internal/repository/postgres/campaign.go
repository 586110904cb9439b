package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository and campaign.AttachmentRepository
// against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, title, subject, content, type, status,
	target_events, target_places, target_offers, target_news,
	event_ids, place_ids, post_ids,
	total_sent, total_delivered, total_opened, total_clicked, total_unsubscribed,
	scheduled_at, sent_at, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var scheduledAt, sentAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Title, &c.Subject, &c.Content, &c.Type, &c.Status,
		&c.Audience.Events, &c.Audience.Places, &c.Audience.Offers, &c.Audience.News,
		pq.Array(&c.EventIDs), pq.Array(&c.PlaceIDs), pq.Array(&c.PostIDs),
		&c.TotalSent, &c.TotalDelivered, &c.TotalOpened, &c.TotalClicked, &c.TotalUnsubscribed,
		&scheduledAt, &sentAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ScheduledAt = nullTime(scheduledAt)
	c.SentAt = nullTime(sentAt)
	return c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM newsletter_campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"TRUE"}
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	} else {
		where = append(where, "status <> 'archived'")
	}
	if f.Type != "" {
		where = append(where, fmt.Sprintf("type = $%d", idx))
		args = append(args, f.Type)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR subject ILIKE $%d)", idx, idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM newsletter_campaigns WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM newsletter_campaigns WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		campaignColumns, cond, idx, idx+1)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out, err := collectCampaigns(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func collectCampaigns(rows *sql.Rows) ([]domain.Campaign, error) {
	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO newsletter_campaigns
			(id, title, subject, content, type, status,
			 target_events, target_places, target_offers, target_news,
			 event_ids, place_ids, post_ids, scheduled_at, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, c.ID, c.Title, c.Subject, c.Content, c.Type, c.Status,
		c.Audience.Events, c.Audience.Places, c.Audience.Offers, c.Audience.News,
		pq.Array(c.EventIDs), pq.Array(c.PlaceIDs), pq.Array(c.PostIDs),
		c.ScheduledAt, c.CreatedBy, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// Update applies u to a draft or scheduled campaign.
func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.Content != nil {
		add("content", *u.Content)
	}
	if u.Type != nil {
		add("type", string(*u.Type))
	}
	if u.Audience != nil {
		add("target_events", u.Audience.Events)
		add("target_places", u.Audience.Places)
		add("target_offers", u.Audience.Offers)
		add("target_news", u.Audience.News)
	}
	if u.EventIDs != nil {
		add("event_ids", pq.Array(*u.EventIDs))
	}
	if u.PlaceIDs != nil {
		add("place_ids", pq.Array(*u.PlaceIDs))
	}
	if u.PostIDs != nil {
		add("post_ids", pq.Array(*u.PostIDs))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.ScheduledAt != nil {
		add("scheduled_at", *u.ScheduledAt)
	}

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	q := fmt.Sprintf("UPDATE newsletter_campaigns SET %s WHERE id = $%d AND status IN ('draft','scheduled')",
		strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOr(ctx, id, campaign.ErrImmutable)
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM newsletter_campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// TransitionStatus is a compare-and-set on status; concurrent callers
// cannot both win.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, string(to), id, pq.Array(states))
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOr(ctx, id, campaign.ErrInvalidTransition)
	}
	return nil
}

func (r *CampaignRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_campaigns SET status = 'sent', sent_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM newsletter_campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due scheduled: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *CampaignRepo) StuckSending(ctx context.Context, cutoff time.Time) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM newsletter_campaigns
		WHERE status = 'sending' AND updated_at < $1
		ORDER BY updated_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stuck sending: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// missOr tells a missing campaign apart from a failed condition after an
// UPDATE touched no row.
func (r *CampaignRepo) missOr(ctx context.Context, id string, conditionErr error) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM newsletter_campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return conditionErr
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
