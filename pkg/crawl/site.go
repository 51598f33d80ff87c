package crawl

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// maxPageBytes caps how much of a response body is parsed.
const maxPageBytes = 5 << 20

// Site crawls a site directly, breadth first, staying on the start host.
type Site struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	filter  *Filter
}

// NewSite creates a direct site crawler.
func NewSite(opts Options) *Site {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Site{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		filter:  NewFilter(opts.ExcludePatterns),
	}
}

func (s *Site) Name() string { return "site" }

type queued struct {
	url   string
	depth int
}

// Crawl fetches up to MaxPages pages within MaxDepth links of siteURL.
// Pages that fail to load are skipped; failing to load siteURL is an error.
func (s *Site) Crawl(ctx context.Context, siteURL string) ([]Page, error) {
	base, err := url.Parse(siteURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}
	root, ok := normalizeURL(base, siteURL)
	if !ok {
		return nil, fmt.Errorf("unsupported site url %q", siteURL)
	}

	queue := []queued{{url: root.String(), depth: 0}}
	visited := map[string]bool{root.String(): true}
	var pages []Page

	for len(queue) > 0 && len(pages) < s.opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		page, err := s.fetch(ctx, cur.url, root.Host)
		if err != nil {
			if cur.depth == 0 {
				return nil, fmt.Errorf("fetch %s: %w", cur.url, err)
			}
			s.opts.Logger.WithField("url", cur.url).WithError(err).Warn("skipping page")
			continue
		}
		pages = append(pages, *page)

		if cur.depth >= s.opts.MaxDepth {
			continue
		}
		for _, link := range page.Links {
			if visited[link] {
				continue
			}
			visited[link] = true
			queue = append(queue, queued{url: link, depth: cur.depth + 1})
		}
	}

	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	return pages, nil
}

func (s *Site) fetch(ctx context.Context, pageURL, host string) (*Page, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, _ := mime.ParseMediaType(ct); mt != "text/html" && mt != "application/xhtml+xml" {
			return nil, fmt.Errorf("unsupported content type %q", mt)
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	// The final URL after redirects is the base for relative links.
	base := resp.Request.URL
	return &Page{
		URL:     pageURL,
		Title:   collapseSpace(doc.Find("title").First().Text()),
		Content: extractText(doc),
		Links:   s.internalLinks(doc, base, host),
	}, nil
}

// extractText returns the visible body text of doc.
func extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template, svg, iframe").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		return collapseSpace(doc.Text())
	}
	return collapseSpace(body.Text())
}

// internalLinks returns the sorted, deduplicated crawlable links of doc that
// stay on host.
func (s *Site) internalLinks(doc *goquery.Document, base *url.URL, host string) []string {
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if rel, _ := sel.Attr("rel"); rel == "nofollow" {
			return
		}
		href, _ := sel.Attr("href")
		u, ok := normalizeURL(base, href)
		if !ok || u.Host != host {
			return
		}
		link := u.String()
		if s.filter.Allows(link) {
			seen[link] = true
		}
	})

	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	sort.Strings(links)
	return links
}
