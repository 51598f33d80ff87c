// Package analysis runs the crawl, keyword, enrichment and scoring pipeline
// for one project and persists its results.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/elonfeng/linkscout/internal/store"
	"github.com/elonfeng/linkscout/pkg/alert"
	"github.com/elonfeng/linkscout/pkg/anchor"
	"github.com/elonfeng/linkscout/pkg/crawl"
	"github.com/elonfeng/linkscout/pkg/enrich"
	"github.com/elonfeng/linkscout/pkg/opportunity"
	"github.com/elonfeng/linkscout/pkg/tfidf"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidRequest is returned for a request missing its project or site.
	ErrInvalidRequest = errors.New("invalid analysis request")
	// ErrCrawlFailed wraps every crawl adapter failure.
	ErrCrawlFailed = errors.New("crawl failed")
	// ErrRunInProgress is returned while the project already has a live run.
	ErrRunInProgress = store.ErrRunInProgress
)

// Request triggers one analysis.
type Request struct {
	ProjectID string `json:"projectId"`
	SiteURL   string `json:"siteUrl"`
	Name      string `json:"analysisName,omitempty"`
}

// Response is the success payload of a run.
type Response struct {
	Success            bool                      `json:"success"`
	AnalysisID         string                    `json:"analysisId"`
	PagesCrawled       int                       `json:"pages_crawled"`
	KeywordsExtracted  int                       `json:"keywords_extracted"`
	OpportunitiesFound int                       `json:"opportunities_found"`
	TopOpportunities   []opportunity.Opportunity `json:"top_opportunities"`
	Message            string                    `json:"message"`
}

// Failure is the error payload of a run.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// FailureFrom builds the error payload for err.
func FailureFrom(err error) Failure {
	return Failure{Success: false, Error: err.Error()}
}

// Options tunes the pipeline. A zero Options selects DefaultOptions.
// Otherwise a zero MinTFIDFScore or RelevanceScore is kept as given and
// other zero values fall back to defaults.
type Options struct {
	KeywordsPerPage int           `yaml:"keywords_per_page"`
	MinTFIDFScore   float64       `yaml:"min_tfidf_score"`
	RelevanceScore  float64       `yaml:"relevance_score"`
	MaxPersisted    int           `yaml:"max_persisted"`
	SummarySize     int           `yaml:"summary_size"`
	CallTimeout     time.Duration `yaml:"-"`
	RunLockTTL      time.Duration `yaml:"-"`
}

// DefaultOptions returns the reference pipeline settings.
func DefaultOptions() Options {
	return Options{
		KeywordsPerPage: 20,
		MinTFIDFScore:   tfidf.DefaultMinScore,
		RelevanceScore:  tfidf.DefaultRelevanceScore,
		MaxPersisted:    50,
		SummarySize:     10,
		CallTimeout:     60 * time.Second,
		RunLockTTL:      time.Hour,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o == (Options{}) {
		return def
	}
	if o.KeywordsPerPage <= 0 {
		o.KeywordsPerPage = def.KeywordsPerPage
	}
	if o.MinTFIDFScore < 0 {
		o.MinTFIDFScore = def.MinTFIDFScore
	}
	if o.RelevanceScore < 0 {
		o.RelevanceScore = def.RelevanceScore
	}
	if o.MaxPersisted <= 0 {
		o.MaxPersisted = def.MaxPersisted
	}
	if o.SummarySize <= 0 {
		o.SummarySize = def.SummarySize
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = def.CallTimeout
	}
	if o.RunLockTTL <= 0 {
		o.RunLockTTL = def.RunLockTTL
	}
	return o
}

// Config wires an Analyzer. Store and Crawler are required; missing
// fetchers run the pipeline in degraded mode.
type Config struct {
	Store       store.Store
	Crawler     crawl.Crawler
	Keywords    enrich.KeywordMetricsFetcher
	Performance enrich.SearchPerformanceFetcher
	Scorer      *opportunity.Scorer
	Anchors     anchor.Suggester
	Alerts      *alert.Manager
	Logger      logrus.FieldLogger
	Options     Options
}

// Analyzer runs analyses.
type Analyzer struct {
	store       store.Store
	crawler     crawl.Crawler
	keywords    enrich.KeywordMetricsFetcher
	performance enrich.SearchPerformanceFetcher
	scorer      *opportunity.Scorer
	anchors     anchor.Suggester
	alerts      *alert.Manager
	log         logrus.FieldLogger
	opts        Options
	now         func() time.Time
}

// New creates an Analyzer.
func New(cfg Config) *Analyzer {
	a := &Analyzer{
		store:       cfg.Store,
		crawler:     cfg.Crawler,
		keywords:    cfg.Keywords,
		performance: cfg.Performance,
		scorer:      cfg.Scorer,
		anchors:     cfg.Anchors,
		alerts:      cfg.Alerts,
		log:         cfg.Logger,
		opts:        cfg.Options.withDefaults(),
		now:         time.Now,
	}
	if a.scorer == nil {
		a.scorer = opportunity.NewScorer(opportunity.DefaultThresholds())
	}
	if a.anchors == nil {
		a.anchors = anchor.Template{}
	}
	if a.log == nil {
		a.log = logrus.StandardLogger()
	}
	return a
}

// Run analyzes req.SiteURL for req.ProjectID. Once the run row exists, any
// fatal error marks it failed before returning.
func (a *Analyzer) Run(ctx context.Context, req Request) (resp *Response, err error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.SiteURL = strings.TrimSpace(req.SiteURL)
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		req.Name = "Analysis " + a.now().UTC().Format("2006-01-02 15:04")
	}

	run := &store.Run{ProjectID: req.ProjectID, Name: req.Name, SiteURL: req.SiteURL}
	if err := a.store.StartRun(ctx, run, a.opts.RunLockTTL); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	log := a.log.WithFields(logrus.Fields{"project": req.ProjectID, "run": run.ID})
	log.WithField("url", req.SiteURL).Info("analysis started")

	defer func() {
		if err == nil {
			return
		}
		if ferr := a.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); ferr != nil {
			log.WithError(ferr).Error("mark run failed")
		}
		log.WithError(err).Error("analysis failed")
	}()

	return a.execute(ctx, log, req, run)
}

func validate(req Request) error {
	if req.ProjectID == "" {
		return fmt.Errorf("%w: projectId is required", ErrInvalidRequest)
	}
	if req.SiteURL == "" {
		return fmt.Errorf("%w: siteUrl is required", ErrInvalidRequest)
	}
	u, err := url.Parse(req.SiteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: siteUrl must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}

func (a *Analyzer) execute(ctx context.Context, log logrus.FieldLogger, req Request, run *store.Run) (*Response, error) {
	crawled, err := a.crawl(ctx, req.SiteURL)
	if err != nil {
		return nil, err
	}
	log.WithField("pages", len(crawled)).Info("crawl finished")

	pages := a.storePages(ctx, log, req.ProjectID, crawled)
	if len(pages) == 0 {
		return nil, fmt.Errorf("store pages: %w", crawl.ErrNoPages)
	}

	scored, extracted := a.extractKeywords(ctx, log, req.ProjectID, pages)

	metrics, perf := a.enrich(ctx, log, req.SiteURL, uniqueTerms(scored))
	a.storeEnrichment(ctx, log, req.ProjectID, metrics, perf)

	incoming, err := a.store.CountIncomingLinks(ctx, req.ProjectID)
	if err != nil {
		log.WithError(err).Warn("count incoming links")
		incoming = map[string]int{}
	}

	opps, stats := a.scorer.Generate(&opportunity.Inputs{
		Pages:         scored,
		Metrics:       metrics,
		Performance:   perf,
		IncomingLinks: incoming,
	})
	ranked := opportunity.Rank(opps)
	log.WithFields(logrus.Fields{
		"considered": stats.KeywordsConsidered,
		"pruned":     stats.KeywordsPruned,
		"candidates": stats.Candidates,
		"found":      len(ranked),
	}).Info("opportunities generated")

	persisted := opportunity.Top(ranked, a.opts.MaxPersisted)
	persisted, err = a.anchors.Suggest(ctx, persisted)
	if err != nil {
		log.WithError(err).Warn("anchor suggestions fell back to template")
	}
	if err := a.store.InsertOpportunities(ctx, run.ID, req.ProjectID, persisted); err != nil {
		return nil, fmt.Errorf("store opportunities: %w", err)
	}

	top := opportunity.Top(persisted, a.opts.SummarySize)
	run.PagesCrawled = len(pages)
	run.KeywordsExtracted = extracted
	run.OpportunitiesFound = len(ranked)
	run.Summary = top
	if err := a.store.CompleteRun(ctx, run); err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}

	a.notify(ctx, log, run, top)

	log.Info("analysis completed")
	return &Response{
		Success:            true,
		AnalysisID:         run.ID,
		PagesCrawled:       run.PagesCrawled,
		KeywordsExtracted:  run.KeywordsExtracted,
		OpportunitiesFound: run.OpportunitiesFound,
		TopOpportunities:   top,
		Message: fmt.Sprintf("Analysis completed: %d pages crawled, %d keywords extracted, %d opportunities found",
			run.PagesCrawled, run.KeywordsExtracted, run.OpportunitiesFound),
	}, nil
}

func (a *Analyzer) crawl(ctx context.Context, siteURL string) ([]crawl.Page, error) {
	cctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	pages, err := a.crawler.Crawl(cctx, siteURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCrawlFailed, a.crawler.Name(), err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrCrawlFailed, crawl.ErrNoPages)
	}
	return pages, nil
}

// storePages upserts crawled pages and their outgoing links. Pages that fail
// to store are dropped from the run.
func (a *Analyzer) storePages(ctx context.Context, log logrus.FieldLogger, projectID string, crawled []crawl.Page) []store.Page {
	var pages []store.Page
	var sources []string
	var links []store.InternalLink
	for _, cp := range crawled {
		p := store.Page{
			ProjectID: projectID,
			URL:       cp.URL,
			Title:     cp.Title,
			Content:   cp.Content,
			WordCount: len(strings.Fields(cp.Content)),
			Topics:    cp.Topics,
		}
		if err := a.store.UpsertPage(ctx, &p); err != nil {
			log.WithError(err).WithField("url", cp.URL).Warn("store page")
			continue
		}
		pages = append(pages, p)
		sources = append(sources, cp.URL)
		for _, target := range cp.Links {
			links = append(links, store.InternalLink{SourceURL: cp.URL, TargetURL: target})
		}
	}

	if len(sources) > 0 {
		if err := a.store.ReplaceInternalLinks(ctx, projectID, sources, links); err != nil {
			log.WithError(err).Warn("store internal links")
		}
	}
	return pages
}

// extractKeywords scores every page against the run's corpus and persists
// the top keywords of each page.
func (a *Analyzer) extractKeywords(ctx context.Context, log logrus.FieldLogger, projectID string, pages []store.Page) ([]opportunity.Page, int) {
	docs := make([]string, len(pages))
	for i, p := range pages {
		docs[i] = p.Content
	}
	corpus := tfidf.BuildCorpus(docs, tfidf.WithMinScore(a.opts.MinTFIDFScore))

	scored := make([]opportunity.Page, len(pages))
	extracted := 0
	for i, p := range pages {
		terms, err := corpus.Top(i, a.opts.KeywordsPerPage)
		if err != nil {
			log.WithError(err).WithField("url", p.URL).Warn("score page keywords")
			scored[i] = opportunity.Page{ID: p.ID, URL: p.URL, Content: p.Content}
			continue
		}

		kws := make([]store.Keyword, len(terms))
		okws := make([]opportunity.Keyword, len(terms))
		for j, t := range terms {
			relevant := t.Score > a.opts.RelevanceScore
			kws[j] = store.Keyword{
				Keyword:           t.Term,
				TFIDFScore:        t.Score,
				TermFrequency:     t.TermFrequency,
				DocumentFrequency: t.DocumentFrequency,
				IsRelevant:        relevant,
			}
			okws[j] = opportunity.Keyword{Term: t.Term, Score: t.Score, Relevant: relevant}
		}
		if err := a.store.ReplaceKeywords(ctx, projectID, p.ID, kws); err != nil {
			log.WithError(err).WithField("url", p.URL).Warn("store keywords")
		}

		extracted += len(terms)
		scored[i] = opportunity.Page{ID: p.ID, URL: p.URL, Content: p.Content, Keywords: okws}
	}
	return scored, extracted
}

// enrich fetches keyword metrics and search performance concurrently.
// Failures degrade to Unavailable results.
func (a *Analyzer) enrich(ctx context.Context, log logrus.FieldLogger, siteURL string, terms []string) (enrich.Result[enrich.KeywordMetric], enrich.Result[enrich.SearchPerformance]) {
	metrics := enrich.Unavailable[enrich.KeywordMetric]()
	perf := enrich.Unavailable[enrich.SearchPerformance]()

	g, gctx := errgroup.WithContext(ctx)
	if a.keywords != nil && len(terms) > 0 {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, a.opts.CallTimeout)
			defer cancel()
			res, err := a.keywords.FetchKeywordMetrics(cctx, terms)
			if err != nil {
				log.WithError(err).Warn("keyword metrics unavailable")
			}
			if res.Values != nil {
				metrics = res
			}
			return nil
		})
	}
	if a.performance != nil {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, a.opts.CallTimeout)
			defer cancel()
			res, err := a.performance.FetchSearchPerformance(cctx, siteURL)
			if err != nil {
				log.WithError(err).Warn("search performance unavailable")
			}
			if res.Values != nil {
				perf = res
			}
			return nil
		})
	}
	g.Wait()

	log.WithFields(logrus.Fields{
		"metrics":     metrics.Len(),
		"performance": perf.Len(),
	}).Info("enrichment finished")
	return metrics, perf
}

func (a *Analyzer) storeEnrichment(ctx context.Context, log logrus.FieldLogger, projectID string, metrics enrich.Result[enrich.KeywordMetric], perf enrich.Result[enrich.SearchPerformance]) {
	for _, m := range metrics.Values {
		if err := a.store.UpsertKeywordMetric(ctx, projectID, m); err != nil {
			log.WithError(err).WithField("keyword", m.Keyword).Warn("store keyword metric")
		}
	}
	for _, sp := range perf.Values {
		if err := a.store.UpsertSearchPerformance(ctx, projectID, sp); err != nil {
			log.WithError(err).WithField("keyword", sp.Keyword).Warn("store search performance")
		}
	}
}

func (a *Analyzer) notify(ctx context.Context, log logrus.FieldLogger, run *store.Run, top []opportunity.Opportunity) {
	if !a.alerts.HasNotifiers() || run.OpportunitiesFound == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	n := alert.NewRunNotification(run.ProjectID, run.ID, run.SiteURL, run.PagesCrawled, run.OpportunitiesFound, top)
	if err := a.alerts.Broadcast(nctx, n); err != nil {
		log.WithError(err).Warn("alert delivery")
	}
}

// uniqueTerms returns every extracted keyword once, sorted.
func uniqueTerms(pages []opportunity.Page) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, p := range pages {
		for _, kw := range p.Keywords {
			if !seen[kw.Term] {
				seen[kw.Term] = true
				terms = append(terms, kw.Term)
			}
		}
	}
	sort.Strings(terms)
	return terms
}
