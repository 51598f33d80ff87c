package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// MaxKeywordBatch is the most keywords the volume provider accepts per call.
const MaxKeywordBatch = 100

// ErrNotConfigured is returned by fetchers that lack an endpoint or credential.
var ErrNotConfigured = errors.New("enrichment source not configured")

// KeywordMetricsFetcher looks up volume and difficulty for keywords.
type KeywordMetricsFetcher interface {
	FetchKeywordMetrics(ctx context.Context, keywords []string) (Result[KeywordMetric], error)
}

// KeywordProviderOptions configures the HTTP keyword volume provider.
type KeywordProviderOptions struct {
	URL               string
	APIKey            string
	Location          string
	Language          string
	BatchSize         int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// KeywordProvider fetches keyword metrics from an HTTP volume API.
type KeywordProvider struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    KeywordProviderOptions
}

// NewKeywordProvider creates a keyword volume client.
func NewKeywordProvider(opts KeywordProviderOptions) *KeywordProvider {
	if opts.BatchSize <= 0 || opts.BatchSize > MaxKeywordBatch {
		opts.BatchSize = MaxKeywordBatch
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.Location == "" {
		opts.Location = "United States"
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &KeywordProvider{
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
	}
}

type keywordRequest struct {
	Keywords []string `json:"keywords"`
	Location string   `json:"location"`
	Language string   `json:"language"`
}

type keywordResponseItem struct {
	Keyword           string   `json:"keyword"`
	SearchVolume      int      `json:"searchVolume"`
	CompetitionIndex  float64  `json:"competitionIndex"`
	CPC               float64  `json:"cpc"`
	KeywordDifficulty *float64 `json:"keywordDifficulty,omitempty"`
}

// FetchKeywordMetrics queries keywords in batches. Batches that fail are
// skipped; the result is Unavailable only when no batch succeeded.
func (p *KeywordProvider) FetchKeywordMetrics(ctx context.Context, keywords []string) (Result[KeywordMetric], error) {
	if p.opts.URL == "" {
		return Unavailable[KeywordMetric](), fmt.Errorf("keyword metrics: %w", ErrNotConfigured)
	}
	if len(keywords) == 0 {
		return Enriched[KeywordMetric](nil), nil
	}

	values := make(map[string]KeywordMetric)
	var errs []error
	succeeded := 0
	for start := 0; start < len(keywords); start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(keywords))
		items, err := p.fetchBatch(ctx, keywords[start:end])
		if err != nil {
			errs = append(errs, fmt.Errorf("batch %d-%d: %w", start, end, err))
			continue
		}
		succeeded++
		for _, it := range items {
			m := toKeywordMetric(it)
			values[m.Keyword] = m
		}
	}

	err := errors.Join(errs...)
	if succeeded == 0 {
		return Unavailable[KeywordMetric](), fmt.Errorf("keyword metrics: %w", err)
	}
	return Enriched(values), err
}

func (p *KeywordProvider) fetchBatch(ctx context.Context, batch []string) ([]keywordResponseItem, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(keywordRequest{
		Keywords: batch,
		Location: p.opts.Location,
		Language: p.opts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal keyword request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create keyword request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "linkscout/1.0")
	if p.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call keyword provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("keyword provider status %d", resp.StatusCode)
	}

	var items []keywordResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode keyword response: %w", err)
	}
	return items, nil
}

// toKeywordMetric normalizes a provider item. Providers without a difficulty
// score get the competition index as difficulty.
func toKeywordMetric(it keywordResponseItem) KeywordMetric {
	kd := it.CompetitionIndex
	if it.KeywordDifficulty != nil {
		kd = *it.KeywordDifficulty
	}
	kd = max(0, min(kd, 100))
	return KeywordMetric{
		Keyword:           strings.ToLower(strings.TrimSpace(it.Keyword)),
		SearchVolume:      it.SearchVolume,
		KeywordDifficulty: kd,
		CPC:               it.CPC,
		CompetitionIndex:  it.CompetitionIndex,
	}
}
