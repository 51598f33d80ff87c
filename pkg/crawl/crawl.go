// Package crawl fetches the pages of a site for keyword analysis.
package crawl

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Crawl bounds used when options leave them unset.
const (
	DefaultMaxPages = 100
	DefaultMaxDepth = 3
)

// ErrNoPages is returned when a crawl succeeds but yields nothing to analyze.
var ErrNoPages = errors.New("crawl returned no pages")

// DefaultExcludePatterns skips administrative and API paths.
var DefaultExcludePatterns = []string{
	"/wp-admin", "/wp-login", "/admin", "/api/", "/login", "/logout",
	"/cart", "/checkout", "/account", "/feed", "?replytocom=",
}

// Page is one crawled page.
type Page struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Topics  []string `json:"topics,omitempty"`
	// Links are internal links found on the page, absolute.
	Links []string `json:"links,omitempty"`
}

// Crawler returns the pages of a site. An error means no usable corpus.
type Crawler interface {
	Name() string
	Crawl(ctx context.Context, siteURL string) ([]Page, error)
}

// Options are shared by every crawler.
type Options struct {
	MaxPages          int
	MaxDepth          int
	ExcludePatterns   []string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Logger            logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.ExcludePatterns == nil {
		o.ExcludePatterns = DefaultExcludePatterns
	}
	if o.UserAgent == "" {
		o.UserAgent = "linkscout/1.0"
	}
	if o.Timeout <= 0 {
		o.Timeout = 45 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Filter decides which URLs are crawlable.
type Filter struct {
	exclude []string
}

// NewFilter creates a filter from case-insensitive substring patterns.
func NewFilter(patterns []string) *Filter {
	exclude := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			exclude = append(exclude, p)
		}
	}
	return &Filter{exclude: exclude}
}

// Allows reports whether rawURL matches none of the exclude patterns.
func (f *Filter) Allows(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if u, err := url.Parse(lower); err == nil && u.Host != "" {
		lower = u.RequestURI()
	}
	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}
	return true
}

// normalizeURL resolves ref against base and drops the fragment. It returns
// false for non-HTTP schemes.
func normalizeURL(base *url.URL, ref string) (*url.URL, bool) {
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u, true
}

// collapseSpace joins whitespace runs into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
