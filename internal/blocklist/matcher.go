// Package blocklist maps URLs to block-list membership decisions.
package blocklist

import (
	"net/url"
	"strings"

	"github.com/timewall/timewall/pkg/models"
)

// Trackable reports whether a URL should be timed at all. Browser-internal
// pages and the new-tab page never open a session.
func Trackable(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, prefix := range []string{"chrome://", "chrome-extension://", "about:", "edge://", "brave://"} {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	if strings.Contains(lower, "newtab") {
		return false
	}
	return strings.Contains(lower, "://")
}

// Normalize extracts the canonical domain from a URL: lowercased hostname
// with any leading "www." stripped. Malformed URLs yield "", which callers
// treat as untrackable.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// NormalizeEntry canonicalizes a user-entered website string the same way
// Normalize treats live URLs, tolerating a missing scheme.
func NormalizeEntry(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if !strings.Contains(text, "://") {
		text = "https://" + text
	}
	return Normalize(text)
}

// ValidSyntax reports whether a user-entered website looks like a real
// domain: at least one dot and a TLD of two or more characters.
func ValidSyntax(text string) bool {
	domain := NormalizeEntry(text)
	if domain == "" {
		return false
	}
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return false
	}
	tld := parts[len(parts)-1]
	return len(tld) >= 2
}

// Matcher is an immutable snapshot of the block list. Rebuild it whenever
// the website list changes; never mutate one in place.
type Matcher struct {
	domains map[string]struct{}
}

// NewMatcher builds a matcher from the current website list.
func NewMatcher(websites []models.Website) *Matcher {
	domains := make(map[string]struct{}, len(websites))
	for _, site := range websites {
		if d := NormalizeEntry(site.Domain); d != "" {
			domains[d] = struct{}{}
		}
	}
	return &Matcher{domains: domains}
}

// Matches reports whether a normalized domain is on the block list.
func (m *Matcher) Matches(domain string) bool {
	_, ok := m.domains[domain]
	return ok
}

// MatchesURL reports whether a raw URL resolves to a blocked domain.
func (m *Matcher) MatchesURL(rawURL string) bool {
	d := Normalize(rawURL)
	return d != "" && m.Matches(d)
}

// Len returns the number of blocked domains.
func (m *Matcher) Len() int { return len(m.domains) }
