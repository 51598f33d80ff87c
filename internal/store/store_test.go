package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/linkscout/pkg/enrich"
	"github.com/elonfeng/linkscout/pkg/opportunity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated file-backed Store in a temp dir.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "linkscout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertPage_KeepsIDAcrossCrawls(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &Page{ProjectID: "proj", URL: "https://a.test/", Title: "Home", Content: "first", Topics: []string{"seo"}}
	require.NoError(t, s.UpsertPage(ctx, p))
	require.NotEmpty(t, p.ID)
	firstID := p.ID

	again := &Page{ProjectID: "proj", URL: "https://a.test/", Title: "Home v2", Content: "second"}
	require.NoError(t, s.UpsertPage(ctx, again))
	assert.Equal(t, firstID, again.ID)

	pages, err := s.ListPages(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Home v2", pages[0].Title)
	assert.Equal(t, "second", pages[0].Content)
	assert.Empty(t, pages[0].Topics)
}

func TestUpsertPage_ScopedByProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Page{ProjectID: "one", URL: "https://a.test/"}
	b := &Page{ProjectID: "two", URL: "https://a.test/"}
	require.NoError(t, s.UpsertPage(ctx, a))
	require.NoError(t, s.UpsertPage(ctx, b))
	assert.NotEqual(t, a.ID, b.ID)

	pages, err := s.ListPages(ctx, "one")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestUpsertPage_RequiresURL(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.UpsertPage(context.Background(), &Page{ProjectID: "proj"}))
}

func TestInternalLinks_ReplaceAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	links := []InternalLink{
		{SourceURL: "https://a.test/", TargetURL: "https://a.test/b"},
		{SourceURL: "https://a.test/", TargetURL: "https://a.test/"},
		{SourceURL: "https://a.test/c", TargetURL: "https://a.test/b"},
		{SourceURL: "https://a.test/c", TargetURL: "https://a.test/b"},
	}
	require.NoError(t, s.ReplaceInternalLinks(ctx, "proj", []string{"https://a.test/", "https://a.test/c"}, links))

	counts, err := s.CountIncomingLinks(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"https://a.test/b": 2}, counts)

	// Recrawling c without links drops its edge.
	require.NoError(t, s.ReplaceInternalLinks(ctx, "proj", []string{"https://a.test/c"}, nil))
	counts, err = s.CountIncomingLinks(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, counts["https://a.test/b"])
}

func TestKeywords_ReplaceAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &Page{ProjectID: "proj", URL: "https://a.test/"}
	require.NoError(t, s.UpsertPage(ctx, p))

	require.NoError(t, s.ReplaceKeywords(ctx, "proj", p.ID, []Keyword{
		{Keyword: "shoes", TFIDFScore: 0.2, TermFrequency: 3, DocumentFrequency: 1, IsRelevant: true},
		{Keyword: "running", TFIDFScore: 0.5, TermFrequency: 5, DocumentFrequency: 1, IsRelevant: true},
	}))
	require.NoError(t, s.ReplaceKeywords(ctx, "proj", p.ID, []Keyword{
		{Keyword: "trail", TFIDFScore: 0.3, TermFrequency: 2, DocumentFrequency: 2},
		{Keyword: "running", TFIDFScore: 0.5, TermFrequency: 5, DocumentFrequency: 1, IsRelevant: true},
	}))

	kws, err := s.ListKeywords(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, kws, 2)
	assert.Equal(t, "running", kws[0].Keyword)
	assert.True(t, kws[0].IsRelevant)
	assert.Equal(t, "trail", kws[1].Keyword)
	assert.False(t, kws[1].IsRelevant)
}

func TestKeywords_RequirePage(t *testing.T) {
	s := openTestStore(t)
	err := s.ReplaceKeywords(context.Background(), "proj", "missing", []Keyword{{Keyword: "x"}})
	assert.Error(t, err)
}

func TestMetricsAndPerformance_Upsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertKeywordMetric(ctx, "proj", enrich.KeywordMetric{Keyword: "shoes", SearchVolume: 10}))
	require.NoError(t, s.UpsertKeywordMetric(ctx, "proj", enrich.KeywordMetric{Keyword: "shoes", SearchVolume: 20, KeywordDifficulty: 5}))

	var vol int
	require.NoError(t, s.db.Get(&vol, "SELECT search_volume FROM keyword_metrics WHERE project_id = ? AND keyword = ?", "proj", "shoes"))
	assert.Equal(t, 20, vol)

	sp := enrich.SearchPerformance{Keyword: "shoes", PageURL: "https://a.test/", Impressions: 100, Clicks: 5, CTR: 0.05, Position: 4}
	require.NoError(t, s.UpsertSearchPerformance(ctx, "proj", sp))
	sp.Impressions = 150
	require.NoError(t, s.UpsertSearchPerformance(ctx, "proj", sp))

	var impressions int
	require.NoError(t, s.db.Get(&impressions, "SELECT impressions FROM search_performance WHERE project_id = ?", "proj"))
	assert.Equal(t, 150, impressions)
}

func TestStartRun_RejectsConcurrentRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &Run{ProjectID: "proj", SiteURL: "https://a.test"}
	require.NoError(t, s.StartRun(ctx, first, time.Hour))
	assert.Equal(t, RunRunning, first.Status)

	second := &Run{ProjectID: "proj", SiteURL: "https://a.test"}
	err := s.StartRun(ctx, second, time.Hour)
	assert.True(t, errors.Is(err, ErrRunInProgress))

	other := &Run{ProjectID: "other", SiteURL: "https://b.test"}
	assert.NoError(t, s.StartRun(ctx, other, time.Hour))

	require.NoError(t, s.FailRun(ctx, first.ID, "boom"))
	assert.NoError(t, s.StartRun(ctx, second, time.Hour))
}

func TestStartRun_StaleRunDoesNotBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	require.NoError(t, s.StartRun(ctx, &Run{ProjectID: "proj", SiteURL: "https://a.test"}, time.Hour))

	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	assert.ErrorIs(t, s.StartRun(ctx, &Run{ProjectID: "proj", SiteURL: "https://a.test"}, time.Hour), ErrRunInProgress)

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.NoError(t, s.StartRun(ctx, &Run{ProjectID: "proj", SiteURL: "https://a.test"}, time.Hour))
}

func TestCompleteRun_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &Run{ProjectID: "proj", Name: "weekly", SiteURL: "https://a.test"}
	require.NoError(t, s.StartRun(ctx, r, time.Hour))

	r.PagesCrawled = 3
	r.KeywordsExtracted = 12
	r.OpportunitiesFound = 1
	r.Summary = []opportunity.Opportunity{{SourceURL: "https://a.test/", TargetURL: "https://a.test/b", Keyword: "shoes", PriorityScore: 42}}
	require.NoError(t, s.CompleteRun(ctx, r))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, "weekly", got.Name)
	assert.Equal(t, 3, got.PagesCrawled)
	assert.Equal(t, 12, got.KeywordsExtracted)
	require.Len(t, got.Summary, 1)
	assert.Equal(t, "shoes", got.Summary[0].Keyword)
	require.NotNil(t, got.CompletedAt)
}

func TestCompleteRun_Unknown(t *testing.T) {
	s := openTestStore(t)
	err := s.CompleteRun(context.Background(), &Run{ID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailRun_RecordsReason(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &Run{ProjectID: "proj", SiteURL: "https://a.test"}
	require.NoError(t, s.StartRun(ctx, r, time.Hour))
	require.NoError(t, s.FailRun(ctx, r.ID, "crawl failed"))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, "crawl failed", got.Error)
	assert.Empty(t, got.Summary)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		r := &Run{ProjectID: "proj", Name: name, SiteURL: "https://a.test"}
		require.NoError(t, s.StartRun(ctx, r, 0))
		require.NoError(t, s.CompleteRun(ctx, r))
	}

	runs, err := s.ListRuns(ctx, "proj", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].Name)
	assert.Equal(t, "second", runs[1].Name)
}

func TestOpportunities_LatestCompletedRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	old := &Run{ProjectID: "proj", SiteURL: "https://a.test"}
	require.NoError(t, s.StartRun(ctx, old, time.Hour))
	require.NoError(t, s.InsertOpportunities(ctx, old.ID, "proj", []opportunity.Opportunity{
		{SourceURL: "https://a.test/", TargetURL: "https://a.test/old", Keyword: "stale", PriorityScore: 999},
	}))
	require.NoError(t, s.CompleteRun(ctx, old))

	s.now = func() time.Time { return base.Add(time.Hour) }
	latest := &Run{ProjectID: "proj", SiteURL: "https://a.test"}
	require.NoError(t, s.StartRun(ctx, latest, time.Hour))
	require.NoError(t, s.InsertOpportunities(ctx, latest.ID, "proj", []opportunity.Opportunity{
		{SourceURL: "https://a.test/", TargetURL: "https://a.test/b", Keyword: "shoes", PriorityScore: 10},
		{SourceURL: "https://a.test/c", TargetURL: "https://a.test/b", Keyword: "trail", PriorityScore: 30},
	}))
	require.NoError(t, s.CompleteRun(ctx, latest))

	opps, err := s.ListOpportunities(ctx, OpportunityListOpts{ProjectID: "proj"})
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "trail", opps[0].Keyword)
	assert.Equal(t, OpportunityPending, opps[0].Status)
	assert.Equal(t, latest.ID, opps[0].AnalysisID)

	byRun, err := s.ListOpportunities(ctx, OpportunityListOpts{ProjectID: "proj", AnalysisID: old.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, "stale", byRun[0].Keyword)
}

func TestOpportunities_NoCompletedRun(t *testing.T) {
	s := openTestStore(t)
	opps, err := s.ListOpportunities(context.Background(), OpportunityListOpts{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Empty(t, opps)
}
