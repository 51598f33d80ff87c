// Package opportunity turns scored keywords and search data into ranked
// internal link suggestions.
package opportunity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/elonfeng/linkscout/pkg/enrich"
)

// Thresholds are the tunable constants of the scoring model.
type Thresholds struct {
	// MinKeywordScore prunes (source, keyword) pairs before the target sweep.
	MinKeywordScore float64 `yaml:"min_keyword_score"`
	// KeywordsPerSource is how many relevant keywords of a page are tried.
	KeywordsPerSource int `yaml:"keywords_per_source"`
	// NoDataRelevance dampens keywords without performance data for the page.
	NoDataRelevance float64 `yaml:"no_data_relevance"`
	// DefaultPosition is assumed for target pages without performance data.
	DefaultPosition float64 `yaml:"default_position"`
	// TrafficLiftRate is the share of target impressions a link is expected to add.
	TrafficLiftRate float64 `yaml:"traffic_lift_rate"`
}

// DefaultThresholds returns the reference scoring constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinKeywordScore:   100,
		KeywordsPerSource: 10,
		NoDataRelevance:   0.5,
		DefaultPosition:   100,
		TrafficLiftRate:   0.1,
	}
}

// Keyword is a scored term of a page, best first within a page.
type Keyword struct {
	Term     string
	Score    float64
	Relevant bool
}

// Page is a crawled page with its extracted keywords.
type Page struct {
	ID       string
	URL      string
	Content  string
	Keywords []Keyword
}

// Opportunity suggests linking SourceURL to TargetURL with Keyword.
type Opportunity struct {
	SourcePageID         string  `json:"source_page_id" db:"source_page_id"`
	SourceURL            string  `json:"source_url" db:"source_url"`
	TargetPageID         string  `json:"target_page_id" db:"target_page_id"`
	TargetURL            string  `json:"target_url" db:"target_url"`
	Keyword              string  `json:"keyword" db:"keyword"`
	KeywordScore         float64 `json:"keyword_score" db:"keyword_score"`
	PageScore            float64 `json:"page_score" db:"page_score"`
	PriorityScore        float64 `json:"priority_score" db:"priority_score"`
	SuggestedAnchorText  string  `json:"suggested_anchor_text" db:"suggested_anchor_text"`
	EstimatedTrafficLift int     `json:"estimated_traffic_lift" db:"estimated_traffic_lift"`
}

// Inputs is everything a sweep reads.
type Inputs struct {
	Pages       []Page
	Metrics     enrich.Result[enrich.KeywordMetric]
	Performance enrich.Result[enrich.SearchPerformance]
	// IncomingLinks counts existing internal links by target URL.
	IncomingLinks map[string]int
}

// Stats summarizes one sweep.
type Stats struct {
	KeywordsConsidered int
	KeywordsPruned     int
	Candidates         int
}

// AnchorText is the default anchor for a keyword.
func AnchorText(keyword string) string {
	return fmt.Sprintf("Learn more about %s", keyword)
}

// Scorer generates opportunities under a set of thresholds.
type Scorer struct {
	th Thresholds
}

// NewScorer creates a scorer. Start from DefaultThresholds: zero is a valid
// MinKeywordScore, NoDataRelevance or TrafficLiftRate and is kept as given.
// Only negative values, or a non-positive KeywordsPerSource or
// DefaultPosition, fall back to defaults.
func NewScorer(th Thresholds) *Scorer {
	def := DefaultThresholds()
	if th.MinKeywordScore < 0 {
		th.MinKeywordScore = def.MinKeywordScore
	}
	if th.KeywordsPerSource <= 0 {
		th.KeywordsPerSource = def.KeywordsPerSource
	}
	if th.NoDataRelevance < 0 {
		th.NoDataRelevance = def.NoDataRelevance
	}
	if th.DefaultPosition <= 0 {
		th.DefaultPosition = def.DefaultPosition
	}
	if th.TrafficLiftRate < 0 {
		th.TrafficLiftRate = def.TrafficLiftRate
	}
	return &Scorer{th: th}
}

// Thresholds returns the effective thresholds.
func (s *Scorer) Thresholds() Thresholds { return s.th }

// KeywordScore rates keyword on the page at pageURL:
// volume*impressions/(difficulty+1)*relevance.
func (s *Scorer) KeywordScore(in *Inputs, pageURL, keyword string) float64 {
	m, _ := in.Metrics.Get(keyword)
	relevance := s.th.NoDataRelevance
	impressions := 0
	if sp, ok := in.Performance.Get(enrich.PerformanceKey(keyword, pageURL)); ok {
		relevance = 1.0
		impressions = sp.Impressions
	}
	return float64(m.SearchVolume) * float64(impressions) / (m.KeywordDifficulty + 1) * relevance
}

// PageScore rates a target page by its traffic headroom, damped by the links
// it already receives.
func (s *Scorer) PageScore(totals enrich.PageTotals, hasData bool, incoming int) float64 {
	pos := s.th.DefaultPosition
	if hasData {
		pos = totals.AvgPosition
	}
	ctrPotential := math.Max(0.30-pos*0.002, 0.01)
	rankFactor := math.Max(1-pos/100, 0.1)
	return float64(totals.Impressions) * ctrPotential / float64(incoming+1) * rankFactor
}

// Generate sweeps every (source, keyword, target) triple and returns the
// opportunities in generation order.
func (s *Scorer) Generate(in *Inputs) ([]Opportunity, Stats) {
	var stats Stats
	pageTotals := enrich.PageTotalsFrom(in.Performance.Values)
	index := newContainmentIndex(in.Pages)

	var out []Opportunity
	for si, src := range in.Pages {
		for _, kw := range s.sourceKeywords(src) {
			stats.KeywordsConsidered++
			kwScore := s.KeywordScore(in, src.URL, kw.Term)
			if kwScore < s.th.MinKeywordScore {
				stats.KeywordsPruned++
				continue
			}

			for _, ti := range index.pagesContaining(kw.Term) {
				if ti == si {
					continue
				}
				stats.Candidates++
				tgt := in.Pages[ti]
				totals, ok := pageTotals[tgt.URL]
				pgScore := s.PageScore(totals, ok, in.IncomingLinks[tgt.URL])
				if pgScore <= 0 {
					continue
				}
				out = append(out, Opportunity{
					SourcePageID:         src.ID,
					SourceURL:            src.URL,
					TargetPageID:         tgt.ID,
					TargetURL:            tgt.URL,
					Keyword:              kw.Term,
					KeywordScore:         kwScore,
					PageScore:            pgScore,
					PriorityScore:        kwScore * pgScore,
					SuggestedAnchorText:  AnchorText(kw.Term),
					EstimatedTrafficLift: int(math.Round(float64(totals.Impressions) * s.th.TrafficLiftRate)),
				})
			}
		}
	}
	return out, stats
}

// sourceKeywords returns the first KeywordsPerSource relevant keywords.
func (s *Scorer) sourceKeywords(p Page) []Keyword {
	var kws []Keyword
	for _, kw := range p.Keywords {
		if !kw.Relevant {
			continue
		}
		kws = append(kws, kw)
		if len(kws) == s.th.KeywordsPerSource {
			break
		}
	}
	return kws
}

// Rank orders opportunities by priority, highest first. Equal priorities keep
// generation order.
func Rank(opps []Opportunity) []Opportunity {
	ranked := make([]Opportunity, len(opps))
	copy(ranked, opps)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PriorityScore > ranked[j].PriorityScore
	})
	return ranked
}

// Top returns at most n opportunities from the front of opps.
func Top(opps []Opportunity, n int) []Opportunity {
	if n >= 0 && len(opps) > n {
		return opps[:n]
	}
	return opps
}

// containmentIndex memoizes which pages contain a keyword as a
// case-insensitive substring.
type containmentIndex struct {
	lowered []string
	hits    map[string][]int
}

func newContainmentIndex(pages []Page) *containmentIndex {
	lowered := make([]string, len(pages))
	for i, p := range pages {
		lowered[i] = strings.ToLower(p.Content)
	}
	return &containmentIndex{lowered: lowered, hits: make(map[string][]int)}
}

func (c *containmentIndex) pagesContaining(keyword string) []int {
	kw := strings.ToLower(keyword)
	if hits, ok := c.hits[kw]; ok {
		return hits
	}
	hits := []int{}
	for i, content := range c.lowered {
		if strings.Contains(content, kw) {
			hits = append(hits, i)
		}
	}
	c.hits[kw] = hits
	return hits
}
