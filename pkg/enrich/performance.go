package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SearchPerformanceFetcher loads query/page analytics for a site.
type SearchPerformanceFetcher interface {
	FetchSearchPerformance(ctx context.Context, siteURL string) (Result[SearchPerformance], error)
}

// SearchConsoleOptions configures the search analytics client.
type SearchConsoleOptions struct {
	URL           string
	AccessToken   string
	DateRangeDays int
	RowLimit      int
	Timeout       time.Duration
}

// SearchConsole fetches query/page rows from a search analytics API.
type SearchConsole struct {
	client *http.Client
	opts   SearchConsoleOptions
	now    func() time.Time
}

// NewSearchConsole creates a search analytics client.
func NewSearchConsole(opts SearchConsoleOptions) *SearchConsole {
	if opts.DateRangeDays <= 0 {
		opts.DateRangeDays = 28
	}
	if opts.RowLimit <= 0 {
		opts.RowLimit = 25000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	return &SearchConsole{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		now:    time.Now,
	}
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type performanceRequest struct {
	SiteURL    string    `json:"siteUrl"`
	DateRange  dateRange `json:"dateRange"`
	Dimensions []string  `json:"dimensions"`
	RowLimit   int       `json:"rowLimit"`
}

type performanceResponse struct {
	Rows []Row `json:"rows"`
}

// FetchSearchPerformance returns aggregated rows keyed by PerformanceKey.
// Without an access token it returns Unavailable and makes no request.
func (s *SearchConsole) FetchSearchPerformance(ctx context.Context, siteURL string) (Result[SearchPerformance], error) {
	if s.opts.URL == "" || s.opts.AccessToken == "" {
		return Unavailable[SearchPerformance](), fmt.Errorf("search performance: %w", ErrNotConfigured)
	}

	end := s.now().UTC()
	start := end.AddDate(0, 0, -s.opts.DateRangeDays)
	body, err := json.Marshal(performanceRequest{
		SiteURL: siteURL,
		DateRange: dateRange{
			StartDate: start.Format("2006-01-02"),
			EndDate:   end.Format("2006-01-02"),
		},
		Dimensions: []string{"query", "page"},
		RowLimit:   s.opts.RowLimit,
	})
	if err != nil {
		return Unavailable[SearchPerformance](), fmt.Errorf("marshal performance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, bytes.NewReader(body))
	if err != nil {
		return Unavailable[SearchPerformance](), fmt.Errorf("create performance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.opts.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return Unavailable[SearchPerformance](), fmt.Errorf("call search analytics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unavailable[SearchPerformance](), fmt.Errorf("search analytics status %d", resp.StatusCode)
	}

	var parsed performanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Unavailable[SearchPerformance](), fmt.Errorf("decode performance response: %w", err)
	}
	return Enriched(Aggregate(parsed.Rows)), nil
}
