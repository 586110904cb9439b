package mailing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Links builds the public URLs embedded in emails. Every URL is absolute and
// rooted at the configured public base URL. Click links carry an HMAC over
// campaign, subscriber and target so the redirector only follows targets
// this pipeline wrote.
type Links struct {
	base string
	key  []byte
}

// NewLinks returns a Links rooted at baseURL (trailing slash ignored) that
// signs click targets with signingKey.
func NewLinks(baseURL, signingKey string) Links {
	return Links{base: strings.TrimRight(baseURL, "/"), key: []byte(signingKey)}
}

// Base returns the public root, used as the fallback redirect target.
func (l Links) Base() string { return l.base + "/" }

func (l Links) build(path string, q url.Values) string {
	return l.base + path + "?" + q.Encode()
}

// OpenPixel is the tracking pixel URL for a campaign/subscriber pair.
func (l Links) OpenPixel(campaignID, subscriberID string) string {
	return l.build("/tracking/open", url.Values{"c": {campaignID}, "s": {subscriberID}})
}

// WebView is the browser copy of a campaign for one subscriber.
func (l Links) WebView(campaignID, subscriberID string) string {
	return l.build("/web-view", url.Values{"c": {campaignID}, "s": {subscriberID}})
}

// Click wraps target so the visit is recorded before redirecting.
func (l Links) Click(campaignID, subscriberID, target string) string {
	return l.build("/tracking/click", url.Values{
		"c":   {campaignID},
		"s":   {subscriberID},
		"u":   {target},
		"sig": {l.sign(campaignID, subscriberID, target)},
	})
}

// VerifyClick reports whether sig was issued by Click for these values.
func (l Links) VerifyClick(campaignID, subscriberID, target, sig string) bool {
	if sig == "" {
		return false
	}
	return hmac.Equal([]byte(l.sign(campaignID, subscriberID, target)), []byte(sig))
}

func (l Links) sign(parts ...string) string {
	h := hmac.New(sha256.New, l.key)
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Unsubscribe is keyed by the subscriber's unsubscribe token; campaignID
// attributes the unsubscription and may be empty.
func (l Links) Unsubscribe(token, campaignID string) string {
	q := url.Values{"token": {token}}
	if campaignID != "" {
		q.Set("c", campaignID)
	}
	return l.build("/newsletter/unsubscribe", q)
}

// Verify is the confirmation link of the double opt-in email.
func (l Links) Verify(token string) string {
	return l.build("/newsletter/verify", url.Values{"token": {token}})
}

// Preferences lets a subscriber edit preferences with the unsubscribe token.
func (l Links) Preferences(token string) string {
	return l.build("/newsletter/preferences", url.Values{"token": {token}})
}

// Absolute resolves a site-relative path against the public base.
func (l Links) Absolute(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return l.base + "/" + strings.TrimLeft(ref, "/")
}

// Internal reports whether u is one of the pipeline's own endpoints, so
// tracking and unsubscribe links are never wrapped for click tracking.
// Ordinary pages of the public site are still tracked.
func (l Links) Internal(u string) bool {
	for _, p := range [...]string{"/tracking/", "/newsletter/", "/web-view"} {
		if strings.HasPrefix(u, l.base+p) {
			return true
		}
	}
	return false
}
