package domain

import "time"

// Event is an association event that can be featured in a campaign.
type Event struct {
	ID       string     `json:"id" db:"id"`
	Title    string     `json:"title" db:"title"`
	Summary  string     `json:"summary" db:"summary"`
	Location string     `json:"location" db:"location"`
	URL      string     `json:"url" db:"url"`
	ImageURL string     `json:"imageUrl" db:"image_url"`
	StartsAt time.Time  `json:"startsAt" db:"starts_at"`
	EndsAt   *time.Time `json:"endsAt,omitempty" db:"ends_at"`
}

// Place is a local business listed in the directory.
type Place struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Summary  string `json:"summary" db:"summary"`
	Address  string `json:"address" db:"address"`
	URL      string `json:"url" db:"url"`
	ImageURL string `json:"imageUrl" db:"image_url"`
}

// Post is an article published by the association.
type Post struct {
	ID          string    `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Excerpt     string    `json:"excerpt" db:"excerpt"`
	URL         string    `json:"url" db:"url"`
	ImageURL    string    `json:"imageUrl" db:"image_url"`
	PublishedAt time.Time `json:"publishedAt" db:"published_at"`
}

// ContentBlocks groups the items featured in one campaign.
type ContentBlocks struct {
	Events []Event `json:"events"`
	Places []Place `json:"places"`
	Posts  []Post  `json:"posts"`
}

// Empty reports whether there is nothing to feature.
func (b ContentBlocks) Empty() bool {
	return len(b.Events) == 0 && len(b.Places) == 0 && len(b.Posts) == 0
}
