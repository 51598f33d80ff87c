// Package enrich fetches external keyword and search performance data.
// Fetch failures never abort an analysis; they produce Unavailable results.
package enrich

import (
	"strings"
)

// KeywordMetric is search volume data for one keyword.
type KeywordMetric struct {
	Keyword           string  `json:"keyword"`
	SearchVolume      int     `json:"search_volume"`
	KeywordDifficulty float64 `json:"keyword_difficulty"`
	CPC               float64 `json:"cpc"`
	CompetitionIndex  float64 `json:"competition_index"`
}

// SearchPerformance is aggregated search analytics for a (keyword, page) pair.
type SearchPerformance struct {
	Keyword     string  `json:"keyword"`
	PageURL     string  `json:"page_url"`
	Impressions int     `json:"impressions"`
	Clicks      int     `json:"clicks"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// PageTotals is search performance rolled up to a page.
type PageTotals struct {
	Impressions int
	AvgPosition float64
}

// Result tags fetched values with whether the source answered at all, so a
// measured zero can be told apart from missing data.
type Result[T any] struct {
	Values    map[string]T
	Available bool
}

// Enriched wraps values from a source that answered.
func Enriched[T any](values map[string]T) Result[T] {
	if values == nil {
		values = make(map[string]T)
	}
	return Result[T]{Values: values, Available: true}
}

// Unavailable is the result of a source that could not be reached.
func Unavailable[T any]() Result[T] {
	return Result[T]{Values: make(map[string]T)}
}

// Get returns the value stored under key.
func (r Result[T]) Get(key string) (T, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Len returns the number of values.
func (r Result[T]) Len() int { return len(r.Values) }

// PerformanceKey builds the "keyword|pageUrl" lookup key.
func PerformanceKey(keyword, pageURL string) string {
	return strings.ToLower(keyword) + "|" + pageURL
}

// Row is a raw search analytics row.
type Row struct {
	Query       string  `json:"query"`
	Page        string  `json:"page"`
	Impressions int     `json:"impressions"`
	Clicks      int     `json:"clicks"`
	Position    float64 `json:"position"`
}

// Aggregate folds raw rows into one SearchPerformance per (query, page):
// impressions and clicks are summed, position is the best one observed.
func Aggregate(rows []Row) map[string]SearchPerformance {
	out := make(map[string]SearchPerformance)
	for _, r := range rows {
		if r.Query == "" || r.Page == "" {
			continue
		}
		key := PerformanceKey(r.Query, r.Page)
		sp, ok := out[key]
		if !ok {
			sp = SearchPerformance{
				Keyword:  strings.ToLower(r.Query),
				PageURL:  r.Page,
				Position: r.Position,
			}
		} else if r.Position < sp.Position {
			sp.Position = r.Position
		}
		sp.Impressions += r.Impressions
		sp.Clicks += r.Clicks
		out[key] = sp
	}

	for key, sp := range out {
		if sp.Impressions > 0 {
			sp.CTR = float64(sp.Clicks) / float64(sp.Impressions)
		}
		out[key] = sp
	}
	return out
}

// PageTotalsFrom rolls (keyword, page) performance up to pages. Impressions
// are summed; the position is the mean of the per-keyword best positions.
func PageTotalsFrom(perf map[string]SearchPerformance) map[string]PageTotals {
	type acc struct {
		impressions int
		posSum      float64
		n           int
	}
	accs := make(map[string]*acc)
	for _, sp := range perf {
		a := accs[sp.PageURL]
		if a == nil {
			a = &acc{}
			accs[sp.PageURL] = a
		}
		a.impressions += sp.Impressions
		a.posSum += sp.Position
		a.n++
	}

	out := make(map[string]PageTotals, len(accs))
	for url, a := range accs {
		out[url] = PageTotals{
			Impressions: a.impressions,
			AvgPosition: a.posSum / float64(a.n),
		}
	}
	return out
}
