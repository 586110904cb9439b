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
	"github.com/abc-bedarieux/newsletter/internal/service/subscriber"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// SubscriberRepo implements subscriber.Repository and the recipient source
// used by the send orchestrator. Preferences live in their own table and are
// written in the same statement as the subscriber row.
type SubscriberRepo struct{ db *sql.DB }

func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

const subscriberSelect = `
	SELECT s.id, s.email, COALESCE(s.first_name, ''), COALESCE(s.last_name, ''),
		s.verification_token, s.unsubscribe_token, s.is_active, s.is_verified,
		COALESCE(p.events, TRUE), COALESCE(p.places, TRUE), COALESCE(p.offers, TRUE), COALESCE(p.news, TRUE),
		COALESCE(p.frequency, 'WEEKLY'),
		s.subscribed_at, s.verified_at, s.unsubscribed_at, s.created_at, s.updated_at
	FROM newsletter_subscribers s
	LEFT JOIN newsletter_subscriber_preferences p ON p.subscriber_id = s.id`

func scanSubscriber(row rowScanner) (*domain.Subscriber, error) {
	s := &domain.Subscriber{}
	var verifyTok, unsubTok sql.NullString
	var verifiedAt, unsubscribedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.Email, &s.FirstName, &s.LastName,
		&verifyTok, &unsubTok, &s.IsActive, &s.IsVerified,
		&s.Preferences.Events, &s.Preferences.Places, &s.Preferences.Offers, &s.Preferences.News,
		&s.Preferences.Frequency,
		&s.SubscribedAt, &verifiedAt, &unsubscribedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.VerificationToken = nullString(verifyTok)
	s.UnsubscribeToken = nullString(unsubTok)
	s.VerifiedAt = nullTime(verifiedAt)
	s.UnsubscribedAt = nullTime(unsubscribedAt)
	return s, nil
}

func (r *SubscriberRepo) getOne(ctx context.Context, where string, arg interface{}) (*domain.Subscriber, error) {
	s, err := scanSubscriber(r.db.QueryRowContext(ctx, subscriberSelect+` WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscriber.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return s, nil
}

func (r *SubscriberRepo) GetByID(ctx context.Context, id string) (*domain.Subscriber, error) {
	return r.getOne(ctx, `s.id = $1`, id)
}

func (r *SubscriberRepo) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	return r.getOne(ctx, `lower(s.email) = $1`, domain.NormalizeEmail(email))
}

func (r *SubscriberRepo) GetByUnsubscribeToken(ctx context.Context, token string) (*domain.Subscriber, error) {
	return r.getOne(ctx, `s.unsubscribe_token = $1`, token)
}

func (r *SubscriberRepo) ConsumeVerificationToken(ctx context.Context, token string, at time.Time) (*domain.Subscriber, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		UPDATE newsletter_subscribers
		SET is_verified = TRUE, verified_at = $2, verification_token = NULL, updated_at = $2
		WHERE verification_token = $1
		RETURNING id
	`, token, at).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscriber.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *SubscriberRepo) Create(ctx context.Context, s *domain.Subscriber) error {
	p := s.Preferences
	_, err := r.db.ExecContext(ctx, `
		WITH s AS (
			INSERT INTO newsletter_subscribers
				(id, email, first_name, last_name, verification_token, unsubscribe_token,
				 is_active, is_verified, subscribed_at, verified_at, unsubscribed_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			RETURNING id
		)
		INSERT INTO newsletter_subscriber_preferences (subscriber_id, events, places, offers, news, frequency)
		SELECT id, $13, $14, $15, $16, $17 FROM s
	`, s.ID, domain.NormalizeEmail(s.Email), s.FirstName, s.LastName, s.VerificationToken, s.UnsubscribeToken,
		s.IsActive, s.IsVerified, s.SubscribedAt, s.VerifiedAt, s.UnsubscribedAt, s.CreatedAt,
		p.Events, p.Places, p.Offers, p.News, string(p.Frequency))
	if isUniqueViolation(err) {
		return subscriber.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	return nil
}

func (r *SubscriberRepo) Save(ctx context.Context, s *domain.Subscriber) error {
	p := s.Preferences
	res, err := r.db.ExecContext(ctx, `
		WITH s AS (
			UPDATE newsletter_subscribers SET
				email = $2, first_name = $3, last_name = $4,
				verification_token = $5, unsubscribe_token = $6,
				is_active = $7, is_verified = $8,
				subscribed_at = $9, verified_at = $10, unsubscribed_at = $11, updated_at = $12
			WHERE id = $1
			RETURNING id
		)
		INSERT INTO newsletter_subscriber_preferences (subscriber_id, events, places, offers, news, frequency)
		SELECT id, $13, $14, $15, $16, $17 FROM s
		ON CONFLICT (subscriber_id) DO UPDATE SET
			events = EXCLUDED.events, places = EXCLUDED.places, offers = EXCLUDED.offers,
			news = EXCLUDED.news, frequency = EXCLUDED.frequency
	`, s.ID, domain.NormalizeEmail(s.Email), s.FirstName, s.LastName, s.VerificationToken, s.UnsubscribeToken,
		s.IsActive, s.IsVerified, s.SubscribedAt, s.VerifiedAt, s.UnsubscribedAt, s.UpdatedAt,
		p.Events, p.Places, p.Offers, p.News, string(p.Frequency))
	if isUniqueViolation(err) {
		return subscriber.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("save subscriber: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subscriber.ErrNotFound
	}
	return nil
}

func (r *SubscriberRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM newsletter_subscribers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subscriber.ErrNotFound
	}
	return nil
}

func (r *SubscriberRepo) List(ctx context.Context, f subscriber.ListFilter) ([]domain.Subscriber, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	idx := 1
	if f.Active != nil {
		where = append(where, fmt.Sprintf("s.is_active = $%d", idx))
		args = append(args, *f.Active)
		idx++
	}
	if f.Verified != nil {
		where = append(where, fmt.Sprintf("s.is_verified = $%d", idx))
		args = append(args, *f.Verified)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("(s.email ILIKE $%d OR s.first_name ILIKE $%d OR s.last_name ILIKE $%d)", idx, idx, idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM newsletter_subscribers s WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count subscribers: %w", err)
	}

	q := fmt.Sprintf(`%s WHERE %s ORDER BY s.subscribed_at DESC LIMIT $%d OFFSET $%d`, subscriberSelect, cond, idx, idx+1)
	rows, err := r.db.QueryContext(ctx, q, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	out, err := collectSubscribers(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListReceivable returns active, verified subscribers whose preferences
// intersect the audience. An empty audience targets everyone.
func (r *SubscriberRepo) ListReceivable(ctx context.Context, a domain.Audience) ([]domain.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, subscriberSelect+`
		WHERE s.is_active AND s.is_verified
		  AND (NOT $1::boolean
		       OR ($2::boolean AND COALESCE(p.events, TRUE))
		       OR ($3::boolean AND COALESCE(p.places, TRUE))
		       OR ($4::boolean AND COALESCE(p.offers, TRUE))
		       OR ($5::boolean AND COALESCE(p.news, TRUE)))
		ORDER BY s.subscribed_at, s.id
	`, a.Any(), a.Events, a.Places, a.Offers, a.News)
	if err != nil {
		return nil, fmt.Errorf("list receivable: %w", err)
	}
	defer rows.Close()
	return collectSubscribers(rows)
}

func collectSubscribers(rows *sql.Rows) ([]domain.Subscriber, error) {
	out := []domain.Subscriber{}
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
