package mailing

import (
	"fmt"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

// Rendered is a ready-to-send email body.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Notice is the content of a small public HTML page (unsubscribe result,
// web-view error, verification result).
type Notice struct {
	Heading   string
	Message   string
	LinkURL   string
	LinkLabel string
	// FormAction, when set, adds a button that POSTs to it.
	FormAction string
	FormLabel  string
}

// Renderer turns campaigns and subscribers into HTML.
type Renderer struct {
	ts       *TemplateService
	links    Links
	siteName string
}

// NewRenderer creates a Renderer.
func NewRenderer(ts *TemplateService, links Links, siteName string) *Renderer {
	if siteName == "" {
		siteName = "ABC Bédarieux"
	}
	return &Renderer{ts: ts, links: links, siteName: siteName}
}

// Links exposes the URL builder the renderer uses.
func (r *Renderer) Links() Links { return r.links }

// Newsletter renders the personalized email for one subscriber: web-view,
// unsubscribe and preferences links, the open pixel and click-tracked links.
func (r *Renderer) Newsletter(c *domain.Campaign, s *domain.Subscriber, blocks domain.ContentBlocks) (*Rendered, error) {
	token := ""
	if s.UnsubscribeToken != nil {
		token = *s.UnsubscribeToken
	}
	b := r.campaignBindings(c, s, blocks)
	b["is_web_view"] = false
	b["web_view_url"] = r.links.WebView(c.ID, s.ID)
	b["unsubscribe_url"] = r.links.Unsubscribe(token, c.ID)
	b["preferences_url"] = r.links.Preferences(token)

	body, err := r.ts.Render("newsletter", newsletterTemplate, b)
	if err != nil {
		return nil, err
	}
	click := func(target string) string { return r.links.Click(c.ID, s.ID, target) }
	body, err = InjectTracking(body, r.links.OpenPixel(c.ID, s.ID), click, r.links.Internal)
	if err != nil {
		return nil, err
	}
	text, err := PlainText(body)
	if err != nil {
		return nil, err
	}
	return &Rendered{Subject: c.Subject, HTML: body, Text: text}, nil
}

// WebView renders the browser copy. Links are click-tracked, no pixel is
// added since the page load itself records the open.
func (r *Renderer) WebView(c *domain.Campaign, s *domain.Subscriber, blocks domain.ContentBlocks) (string, error) {
	b := r.campaignBindings(c, s, blocks)
	b["is_web_view"] = true
	body, err := r.ts.Render("newsletter", newsletterTemplate, b)
	if err != nil {
		return "", err
	}
	click := func(target string) string { return r.links.Click(c.ID, s.ID, target) }
	return InjectTracking(body, "", click, r.links.Internal)
}

// Verification renders the double opt-in email.
func (r *Renderer) Verification(s *domain.Subscriber) (*Rendered, error) {
	if s.VerificationToken == nil {
		return nil, fmt.Errorf("subscriber %s has no verification token", s.ID)
	}
	subject := "Confirmez votre inscription à la lettre de " + r.siteName
	body, err := r.ts.Render("verification", verificationTemplate, map[string]interface{}{
		"page_title": subject,
		"site_name":  r.siteName,
		"first_name": s.FirstName,
		"verify_url": r.links.Verify(*s.VerificationToken),
	})
	if err != nil {
		return nil, err
	}
	text, err := PlainText(body)
	if err != nil {
		return nil, err
	}
	return &Rendered{Subject: subject, HTML: body, Text: text}, nil
}

// Page renders a Notice. Rendering failures degrade to a bare page so the
// caller can always answer the browser.
func (r *Renderer) Page(n Notice) string {
	out, err := r.ts.Render("notice", noticeTemplate, map[string]interface{}{
		"page_title":  n.Heading + " · " + r.siteName,
		"site_name":   r.siteName,
		"home_url":    r.links.Base(),
		"heading":     n.Heading,
		"message":     n.Message,
		"link_url":    n.LinkURL,
		"link_label":  n.LinkLabel,
		"form_action": n.FormAction,
		"form_label":  n.FormLabel,
	})
	if err != nil {
		return "<!DOCTYPE html><html><body><h1>" + n.Heading + "</h1></body></html>"
	}
	return out
}

func (r *Renderer) campaignBindings(c *domain.Campaign, s *domain.Subscriber, blocks domain.ContentBlocks) map[string]interface{} {
	b := map[string]interface{}{
		"page_title": c.Subject,
		"site_name":  r.siteName,
		"title":      c.Title,
		"first_name": s.FirstName,
		"events":     r.eventBindings(blocks.Events),
		"places":     r.placeBindings(blocks.Places),
		"posts":      r.postBindings(blocks.Posts),
		"year":       time.Now().Year(),
	}
	b["content"] = r.content(c, b)
	return b
}

// content lets campaign bodies use the same personalization tags as the
// layout ({{ first_name }}). Content that does not parse is sent verbatim.
func (r *Renderer) content(c *domain.Campaign, b map[string]interface{}) string {
	key := "content:" + c.ID + ":" + c.UpdatedAt.Format(time.RFC3339Nano)
	out, err := r.ts.Render(key, c.Content, b)
	if err != nil {
		return c.Content
	}
	return out
}

func (r *Renderer) eventBindings(events []domain.Event) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]interface{}{
			"title":    e.Title,
			"summary":  e.Summary,
			"location": e.Location,
			"url":      r.links.Absolute(e.URL),
			"date":     FormatDate(e.StartsAt),
		})
	}
	return out
}

func (r *Renderer) placeBindings(places []domain.Place) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(places))
	for _, p := range places {
		out = append(out, map[string]interface{}{
			"name":    p.Name,
			"summary": p.Summary,
			"address": p.Address,
			"url":     r.links.Absolute(p.URL),
		})
	}
	return out
}

func (r *Renderer) postBindings(posts []domain.Post) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(posts))
	for _, p := range posts {
		out = append(out, map[string]interface{}{
			"title":   p.Title,
			"excerpt": p.Excerpt,
			"url":     r.links.Absolute(p.URL),
			"date":    FormatDate(p.PublishedAt),
		})
	}
	return out
}
