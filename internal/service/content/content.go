// Package content resolves the events, places and posts a campaign
// features into the blocks rendered in every email of a batch.
package content

import (
	"context"
	"fmt"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// Repository reads the site content tables. Unknown IDs are simply absent
// from the result.
type Repository interface {
	EventsByIDs(ctx context.Context, ids []string) ([]domain.Event, error)
	PlacesByIDs(ctx context.Context, ids []string) ([]domain.Place, error)
	PostsByIDs(ctx context.Context, ids []string) ([]domain.Post, error)
}

// Loader builds content blocks for a campaign.
type Loader struct {
	repo Repository
}

func NewLoader(repo Repository) *Loader {
	return &Loader{repo: repo}
}

// Load fetches the campaign's selected items once, keeping the order the
// admin chose. Missing items are logged and skipped.
func (l *Loader) Load(ctx context.Context, c *domain.Campaign) (domain.ContentBlocks, error) {
	var blocks domain.ContentBlocks
	if len(c.EventIDs) > 0 {
		events, err := l.repo.EventsByIDs(ctx, c.EventIDs)
		if err != nil {
			return blocks, fmt.Errorf("load events: %w", err)
		}
		blocks.Events = ordered(c.EventIDs, events, func(e domain.Event) string { return e.ID })
	}
	if len(c.PlaceIDs) > 0 {
		places, err := l.repo.PlacesByIDs(ctx, c.PlaceIDs)
		if err != nil {
			return blocks, fmt.Errorf("load places: %w", err)
		}
		blocks.Places = ordered(c.PlaceIDs, places, func(p domain.Place) string { return p.ID })
	}
	if len(c.PostIDs) > 0 {
		posts, err := l.repo.PostsByIDs(ctx, c.PostIDs)
		if err != nil {
			return blocks, fmt.Errorf("load posts: %w", err)
		}
		blocks.Posts = ordered(c.PostIDs, posts, func(p domain.Post) string { return p.ID })
	}
	if missing := len(c.EventIDs) + len(c.PlaceIDs) + len(c.PostIDs) -
		len(blocks.Events) - len(blocks.Places) - len(blocks.Posts); missing > 0 {
		logger.Warn("campaign references missing content", "campaign_id", c.ID, "missing", missing)
	}
	return blocks, nil
}

func ordered[T any](ids []string, items []T, key func(T) string) []T {
	byID := make(map[string]T, len(items))
	for _, it := range items {
		byID[key(it)] = it
	}
	out := make([]T, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if it, ok := byID[id]; ok && !seen[id] {
			out = append(out, it)
			seen[id] = true
		}
	}
	return out
}
