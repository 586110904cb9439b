package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

// ContentRepo reads the site's events, places and posts. The newsletter
// never writes these tables.
type ContentRepo struct{ db *sql.DB }

func NewContentRepo(db *sql.DB) *ContentRepo { return &ContentRepo{db: db} }

func (r *ContentRepo) EventsByIDs(ctx context.Context, ids []string) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(summary, ''), COALESCE(location, ''), COALESCE(url, ''),
			COALESCE(image_url, ''), starts_at, ends_at
		FROM events WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("events by ids: %w", err)
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var ends sql.NullTime
		if err := rows.Scan(&e.ID, &e.Title, &e.Summary, &e.Location, &e.URL, &e.ImageURL, &e.StartsAt, &ends); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EndsAt = nullTime(ends)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ContentRepo) PlacesByIDs(ctx context.Context, ids []string) ([]domain.Place, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(summary, ''), COALESCE(address, ''), COALESCE(url, ''), COALESCE(image_url, '')
		FROM places WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("places by ids: %w", err)
	}
	defer rows.Close()

	out := []domain.Place{}
	for rows.Next() {
		var p domain.Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Summary, &p.Address, &p.URL, &p.ImageURL); err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ContentRepo) PostsByIDs(ctx context.Context, ids []string) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(excerpt, ''), COALESCE(url, ''), COALESCE(image_url, ''), published_at
		FROM posts WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("posts by ids: %w", err)
	}
	defer rows.Close()

	out := []domain.Post{}
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Excerpt, &p.URL, &p.ImageURL, &p.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
