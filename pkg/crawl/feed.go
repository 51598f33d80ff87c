package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// Feed builds pages from a site's RSS or Atom feed. Useful for blogs that
// cannot be crawled directly.
type Feed struct {
	client   *http.Client
	parser   *gofeed.Parser
	feedPath string
	opts     Options
	filter   *Filter
}

// NewFeed creates a feed crawler. feedPath is resolved against the site URL
// and defaults to /feed.
func NewFeed(feedPath string, opts Options) *Feed {
	opts = opts.withDefaults()
	if feedPath == "" {
		feedPath = "/feed"
	}
	return &Feed{
		client:   &http.Client{Timeout: opts.Timeout},
		parser:   gofeed.NewParser(),
		feedPath: feedPath,
		opts:     opts,
		filter:   NewFilter(opts.ExcludePatterns),
	}
}

func (f *Feed) Name() string { return "feed" }

func (f *Feed) Crawl(ctx context.Context, siteURL string) ([]Page, error) {
	base, err := url.Parse(siteURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}
	feedURL, err := base.Parse(f.feedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve feed path %q: %w", f.feedPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", feedURL, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	seen := make(map[string]bool)
	var pages []Page
	for _, entry := range parsed.Items {
		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}
		u, ok := normalizeURL(base, link)
		if !ok || seen[u.String()] || !f.filter.Allows(u.String()) {
			continue
		}

		body := entry.Content
		if body == "" {
			body = entry.Description
		}
		text, err := htmlText(body)
		if err != nil {
			f.opts.Logger.WithField("url", u.String()).WithError(err).Warn("skipping feed entry")
			continue
		}

		seen[u.String()] = true
		pages = append(pages, Page{
			URL:     u.String(),
			Title:   collapseSpace(entry.Title),
			Content: text,
			Topics:  entry.Categories,
			Links:   feedLinks(body, u, base.Host),
		})
		if len(pages) == f.opts.MaxPages {
			break
		}
	}

	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	return pages, nil
}

// htmlText strips markup from an entry body.
func htmlText(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	return extractText(doc), nil
}

// feedLinks returns the same-host links inside an entry body.
func feedLinks(fragment string, pageURL *url.URL, host string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil
	}
	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		u, ok := normalizeURL(pageURL, href)
		if !ok || !strings.EqualFold(u.Host, host) || seen[u.String()] {
			return
		}
		seen[u.String()] = true
		links = append(links, u.String())
	})
	return links
}
