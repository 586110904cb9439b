package mailing

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// InjectTracking appends the open pixel (when pixelURL is non-empty) and
// rewrites every absolute http(s) link through clickURL. Links for which
// skip returns true are left untouched.
func InjectTracking(htmlDoc, pixelURL string, clickURL func(target string) string, skip func(href string) bool) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlDoc))
	if err != nil {
		return "", fmt.Errorf("parse email html: %w", err)
	}

	if clickURL != nil {
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href := strings.TrimSpace(a.AttrOr("href", ""))
			if !isHTTP(href) || (skip != nil && skip(href)) {
				return
			}
			a.SetAttr("href", clickURL(href))
		})
	}

	if pixelURL != "" {
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:block;width:1px;height:1px;border:0" />`,
			html.EscapeString(pixelURL))
		doc.Find("body").AppendHtml(pixel)
	}

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize email html: %w", err)
	}
	return out, nil
}

func isHTTP(href string) bool {
	l := strings.ToLower(href)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

var (
	spaceRun = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// PlainText derives the text/plain alternative of an HTML email. Links keep
// their target in parentheses so the text part stays usable.
func PlainText(htmlDoc string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlDoc))
	if err != nil {
		return "", fmt.Errorf("parse email html: %w", err)
	}
	doc.Find("head, style, script, img").Remove()
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if isHTTP(href) && strings.TrimSpace(a.Text()) != href {
			a.AppendHtml(" (" + html.EscapeString(href) + ")")
		}
	})
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, h1, h2, h3, h4, li, tr, footer").AfterHtml("\n\n")

	lines := strings.Split(doc.Text(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	text := blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text) + "\n", nil
}
