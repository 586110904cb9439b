package campaign

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/httpretry"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// FeedFetcher downloads and parses an RSS/Atom/JSON feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// HTTPFeedFetcher fetches feeds through a retrying HTTP client.
type HTTPFeedFetcher struct {
	client httpretry.HTTPDoer
	parser *gofeed.Parser
}

// NewHTTPFeedFetcher wraps client (nil means a default retry client).
func NewHTTPFeedFetcher(client httpretry.HTTPDoer) *HTTPFeedFetcher {
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: 20 * time.Second}, 2)
	}
	return &HTTPFeedFetcher{client: client, parser: gofeed.NewParser()}
}

func (f *HTTPFeedFetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewValidationError("url", "is not a valid URL")
	}
	req.Header.Set("User-Agent", "abc-newsletter/1.0 (+feed import)")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFeedUnavailable, resp.StatusCode)
	}
	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	return feed, nil
}

// FeedImportInput describes a draft built from a feed.
type FeedImportInput struct {
	URL       string     `json:"url" validate:"required,http_url"`
	Limit     int        `json:"limit" validate:"omitempty,min=1,max=50"`
	Since     *time.Time `json:"since"`
	Title     string     `json:"title" validate:"max=200"`
	Subject   string     `json:"subject" validate:"max=200"`
	CreatedBy string     `json:"-"`
}

// ImportFeed creates a draft newsletter listing the latest feed items.
func (s *Service) ImportFeed(ctx context.Context, in FeedImportInput) (*domain.Campaign, error) {
	if s.feeds == nil {
		return nil, fmt.Errorf("feed import is not configured: %w", domain.ErrInvalid)
	}
	if strings.TrimSpace(in.URL) == "" {
		return nil, domain.NewValidationError("url", "is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	feed, err := s.feeds.Fetch(ctx, in.URL)
	if err != nil {
		return nil, err
	}
	items := selectItems(feed.Items, in.Since, limit)
	if len(items) == 0 {
		return nil, domain.NewValidationError("url", "feed has no items to import")
	}

	title := in.Title
	if title == "" {
		title = feed.Title
	}
	if title == "" {
		title = "Les dernières nouvelles"
	}
	subject := in.Subject
	if subject == "" {
		subject = title
	}
	logger.Info("feed imported", "url", in.URL, "items", len(items))
	return s.Create(ctx, CreateInput{
		Title:     title,
		Subject:   subject,
		Content:   feedContent(items),
		Type:      string(domain.CampaignNewsletter),
		Status:    string(domain.CampaignDraft),
		Audience:  domain.Audience{News: true},
		CreatedBy: in.CreatedBy,
	})
}

func selectItems(items []*gofeed.Item, since *time.Time, limit int) []*gofeed.Item {
	out := make([]*gofeed.Item, 0, limit)
	for _, it := range items {
		if it == nil || (it.Title == "" && it.Link == "") {
			continue
		}
		if since != nil && it.PublishedParsed != nil && it.PublishedParsed.Before(*since) {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out
}

// feedContent renders items as the HTML body of the draft. Item text is
// escaped; descriptions are reduced to plain text first.
func feedContent(items []*gofeed.Item) string {
	var b strings.Builder
	b.WriteString("<ul class=\"feed-items\">\n")
	for _, it := range items {
		b.WriteString("<li>")
		if it.Link != "" {
			fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(it.Link), html.EscapeString(it.Title))
		} else {
			b.WriteString(html.EscapeString(it.Title))
		}
		if d := summarize(it.Description, 40); d != "" {
			fmt.Fprintf(&b, "<br>%s", html.EscapeString(d))
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>\n")
	return b.String()
}

func summarize(s string, words int) string {
	var out strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			out.WriteRune(' ')
		case !inTag:
			out.WriteRune(r)
		}
	}
	f := strings.Fields(html.UnescapeString(out.String()))
	if len(f) > words {
		return strings.Join(f[:words], " ") + "…"
	}
	return strings.Join(f, " ")
}
