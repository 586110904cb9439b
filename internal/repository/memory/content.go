package memory

import (
	"context"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

// ContentRepo serves seeded events, places and posts.
type ContentRepo struct{ db *DB }

func (r *ContentRepo) EventsByIDs(_ context.Context, ids []string) ([]domain.Event, error) {
	return pick(r.db, r.db.events, ids), nil
}

func (r *ContentRepo) PlacesByIDs(_ context.Context, ids []string) ([]domain.Place, error) {
	return pick(r.db, r.db.places, ids), nil
}

func (r *ContentRepo) PostsByIDs(_ context.Context, ids []string) ([]domain.Post, error) {
	return pick(r.db, r.db.posts, ids), nil
}

func pick[T any](db *DB, m map[string]T, ids []string) []T {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := []T{}
	for _, id := range ids {
		if v, ok := m[id]; ok {
			out = append(out, v)
		}
	}
	return out
}
