package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// API delegates crawling to an external crawl provider.
type API struct {
	client   *http.Client
	endpoint string
	apiKey   string
	opts     Options
	filter   *Filter
}

// NewAPI creates a crawler backed by the provider at endpoint.
func NewAPI(endpoint, apiKey string, opts Options) *API {
	opts = opts.withDefaults()
	return &API{
		client:   &http.Client{Timeout: opts.Timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		opts:     opts,
		filter:   NewFilter(opts.ExcludePatterns),
	}
}

func (a *API) Name() string { return "api" }

type apiRequest struct {
	URL             string   `json:"url"`
	MaxDepth        int      `json:"maxDepth"`
	PageLimit       int      `json:"pageLimit"`
	ExcludePatterns []string `json:"excludePatterns"`
}

type apiPage struct {
	URL              string   `json:"url"`
	Title            string   `json:"title"`
	ExtractedContent string   `json:"extractedContent"`
	Topics           []string `json:"topics"`
	Links            []string `json:"links"`
}

func (a *API) Crawl(ctx context.Context, siteURL string) ([]Page, error) {
	if a.endpoint == "" {
		return nil, fmt.Errorf("crawl provider endpoint not configured")
	}

	body, err := json.Marshal(apiRequest{
		URL:             siteURL,
		MaxDepth:        a.opts.MaxDepth,
		PageLimit:       a.opts.MaxPages,
		ExcludePatterns: a.opts.ExcludePatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal crawl request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create crawl request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", a.opts.UserAgent)
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call crawl provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("crawl provider status %d", resp.StatusCode)
	}

	var raw []apiPage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode crawl response: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	pages := make([]Page, 0, len(raw))
	for _, p := range raw {
		if p.URL == "" || seen[p.URL] {
			a.opts.Logger.WithField("url", p.URL).Warn("skipping crawled page without a unique url")
			continue
		}
		if !a.filter.Allows(p.URL) {
			continue
		}
		seen[p.URL] = true
		pages = append(pages, Page{
			URL:     p.URL,
			Title:   collapseSpace(p.Title),
			Content: collapseSpace(p.ExtractedContent),
			Topics:  p.Topics,
			Links:   p.Links,
		})
		if len(pages) == a.opts.MaxPages {
			break
		}
	}

	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	return pages, nil
}
