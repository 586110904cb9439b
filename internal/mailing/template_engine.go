// Package mailing renders newsletter emails, web-view pages and the small
// public HTML pages of the pipeline with Liquid templates, and rewrites
// outgoing HTML for open and click tracking.
package mailing

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // Europe/Paris in minimal containers

	"github.com/osteele/liquid"
)

// TemplateService handles Liquid template rendering with caching
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateService creates a new template service with custom filters
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerCustomFilters()
	return ts
}

func (ts *TemplateService) registerCustomFilters() {
	// {{ first_name | default: "à tous" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := strings.TrimSpace(fmt.Sprintf("%v", value)); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ summary | truncate_words: 30 }}
	ts.engine.RegisterFilter("truncate_words", func(s string, n int) string {
		words := strings.Fields(s)
		if n <= 0 || len(words) <= n {
			return s
		}
		return strings.Join(words[:n], " ") + "…"
	})
}

// Render parses (or reuses) the template stored under cacheKey and renders it.
// An empty cacheKey disables caching.
func (ts *TemplateService) Render(cacheKey, src string, bindings map[string]interface{}) (string, error) {
	var tpl *liquid.Template
	if cacheKey != "" {
		if cached, ok := ts.cache.Load(cacheKey); ok {
			tpl = cached.(*liquid.Template)
		}
	}
	if tpl == nil {
		parsed, err := ts.engine.ParseString(src)
		if err != nil {
			return "", fmt.Errorf("parse template %q: %w", cacheKey, err)
		}
		tpl = parsed
		if cacheKey != "" {
			ts.cache.Store(cacheKey, tpl)
		}
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template %q: %w", cacheKey, err)
	}
	return out, nil
}

// Validate parses src without rendering. Used when an admin saves campaign
// content that itself contains Liquid tags.
func (ts *TemplateService) Validate(src string) error {
	if _, err := ts.engine.ParseString(src); err != nil {
		return err
	}
	return nil
}

var (
	frenchDays   = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}
	frenchMonths = [...]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet",
		"août", "septembre", "octobre", "novembre", "décembre"}
	paris = loadParis()
)

func loadParis() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatDate renders t the way the association writes dates:
// "samedi 14 novembre 2026". A non-midnight local time adds " à 18h30".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(paris)
	s := fmt.Sprintf("%s %d %s %d", frenchDays[t.Weekday()], t.Day(), frenchMonths[t.Month()-1], t.Year())
	if t.Hour() != 0 || t.Minute() != 0 {
		s += fmt.Sprintf(" à %dh%02d", t.Hour(), t.Minute())
	}
	return s
}
