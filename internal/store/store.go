package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/linkscout/pkg/enrich"
	"github.com/elonfeng/linkscout/pkg/opportunity"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// OpportunityPending is the status of a freshly persisted opportunity.
const OpportunityPending = "pending"

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunInProgress is returned by StartRun while the project has a live run.
	ErrRunInProgress = errors.New("analysis already running for project")
)

// Page is a crawled page of a project.
type Page struct {
	ID         string    `db:"id" json:"id"`
	ProjectID  string    `db:"project_id" json:"project_id"`
	URL        string    `db:"url" json:"url"`
	Title      string    `db:"title" json:"title"`
	Content    string    `db:"content" json:"-"`
	WordCount  int       `db:"word_count" json:"word_count"`
	TopicsJSON string    `db:"topics" json:"-"`
	Topics     []string  `db:"-" json:"topics,omitempty"`
	CrawledAt  time.Time `db:"crawled_at" json:"crawled_at"`
}

// InternalLink is an existing link between two pages of a project.
type InternalLink struct {
	SourceURL string `db:"source_url"`
	TargetURL string `db:"target_url"`
}

// Keyword is a TF-IDF scored term of a page.
type Keyword struct {
	ID                int64   `db:"id" json:"-"`
	ProjectID         string  `db:"project_id" json:"-"`
	PageID            string  `db:"page_id" json:"page_id"`
	Keyword           string  `db:"keyword" json:"keyword"`
	TFIDFScore        float64 `db:"tf_idf_score" json:"tf_idf_score"`
	TermFrequency     int     `db:"term_frequency" json:"term_frequency"`
	DocumentFrequency int     `db:"document_frequency" json:"document_frequency"`
	IsRelevant        bool    `db:"is_relevant" json:"is_relevant"`
}

// Run is one analysis run of a project.
type Run struct {
	ID                 string                    `db:"id" json:"id"`
	ProjectID          string                    `db:"project_id" json:"project_id"`
	Name               string                    `db:"name" json:"name"`
	SiteURL            string                    `db:"site_url" json:"site_url"`
	Status             string                    `db:"status" json:"status"`
	PagesCrawled       int                       `db:"pages_crawled" json:"pages_crawled"`
	KeywordsExtracted  int                       `db:"keywords_extracted" json:"keywords_extracted"`
	OpportunitiesFound int                       `db:"opportunities_found" json:"opportunities_found"`
	SummaryJSON        string                    `db:"summary" json:"-"`
	Summary            []opportunity.Opportunity `db:"-" json:"summary"`
	Error              string                    `db:"error" json:"error,omitempty"`
	StartedAt          time.Time                 `db:"started_at" json:"started_at"`
	CompletedAt        *time.Time                `db:"completed_at" json:"completed_at,omitempty"`
}

// Opportunity is a persisted link suggestion.
type Opportunity struct {
	ID         int64  `db:"id" json:"id"`
	AnalysisID string `db:"analysis_id" json:"analysis_id"`
	ProjectID  string `db:"project_id" json:"project_id"`
	opportunity.Opportunity
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OpportunityListOpts controls opportunity listing. Without an AnalysisID the
// latest completed run of the project is used.
type OpportunityListOpts struct {
	ProjectID  string
	AnalysisID string
	Limit      int
}

// Store is the persistence interface.
type Store interface {
	UpsertPage(ctx context.Context, p *Page) error
	ListPages(ctx context.Context, projectID string) ([]Page, error)

	ReplaceInternalLinks(ctx context.Context, projectID string, sources []string, links []InternalLink) error
	CountIncomingLinks(ctx context.Context, projectID string) (map[string]int, error)

	ReplaceKeywords(ctx context.Context, projectID, pageID string, kws []Keyword) error
	ListKeywords(ctx context.Context, pageID string) ([]Keyword, error)

	UpsertKeywordMetric(ctx context.Context, projectID string, m enrich.KeywordMetric) error
	UpsertSearchPerformance(ctx context.Context, projectID string, sp enrich.SearchPerformance) error

	StartRun(ctx context.Context, r *Run, staleAfter time.Duration) error
	CompleteRun(ctx context.Context, r *Run) error
	FailRun(ctx context.Context, runID, reason string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, projectID string, limit int) ([]Run, error)

	InsertOpportunities(ctx context.Context, analysisID, projectID string, opps []opportunity.Opportunity) error
	ListOpportunities(ctx context.Context, opts OpportunityListOpts) ([]Opportunity, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertPage inserts or supersedes the page with the same project and URL.
// The page ID is kept across crawls and written back to p.
func (s *SQLiteStore) UpsertPage(ctx context.Context, p *Page) error {
	if p.ProjectID == "" || p.URL == "" {
		return fmt.Errorf("upsert page: project and url are required")
	}
	topicsJSON, _ := json.Marshal(p.Topics)
	if p.Topics == nil {
		topicsJSON = []byte("[]")
	}
	if p.CrawledAt.IsZero() {
		p.CrawledAt = s.now()
	}

	var id string
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO pages (id, project_id, url, title, content, word_count, topics, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			word_count = excluded.word_count,
			topics = excluded.topics,
			crawled_at = excluded.crawled_at
		RETURNING id
	`, uuid.NewString(), p.ProjectID, p.URL, p.Title, p.Content, p.WordCount,
		string(topicsJSON), p.CrawledAt)
	if err != nil {
		return fmt.Errorf("upsert page %s: %w", p.URL, err)
	}
	p.ID = id
	p.TopicsJSON = string(topicsJSON)
	return nil
}

func (s *SQLiteStore) ListPages(ctx context.Context, projectID string) ([]Page, error) {
	var pages []Page
	err := s.db.SelectContext(ctx, &pages,
		"SELECT * FROM pages WHERE project_id = ? ORDER BY url", projectID)
	if err != nil {
		return nil, fmt.Errorf("list pages %s: %w", projectID, err)
	}
	for i := range pages {
		json.Unmarshal([]byte(pages[i].TopicsJSON), &pages[i].Topics)
	}
	return pages, nil
}

// ReplaceInternalLinks drops the recorded outgoing links of every URL in
// sources and records links instead. Self links are ignored.
func (s *SQLiteStore) ReplaceInternalLinks(ctx context.Context, projectID string, sources []string, links []InternalLink) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace links: %w", err)
	}
	defer tx.Rollback()

	for _, src := range sources {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM internal_links WHERE project_id = ? AND source_url = ?", projectID, src); err != nil {
			return fmt.Errorf("clear links from %s: %w", src, err)
		}
	}
	for _, l := range links {
		if l.SourceURL == l.TargetURL {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO internal_links (project_id, source_url, target_url) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, projectID, l.SourceURL, l.TargetURL); err != nil {
			return fmt.Errorf("insert link %s -> %s: %w", l.SourceURL, l.TargetURL, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountIncomingLinks(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT target_url, COUNT(*) AS cnt FROM internal_links
		WHERE project_id = ? GROUP BY target_url
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("count incoming links %s: %w", projectID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var target string
		var cnt int
		if err := rows.Scan(&target, &cnt); err != nil {
			return nil, err
		}
		counts[target] = cnt
	}
	return counts, rows.Err()
}

// ReplaceKeywords swaps the keyword set of a page.
func (s *SQLiteStore) ReplaceKeywords(ctx context.Context, projectID, pageID string, kws []Keyword) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace keywords: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM keywords WHERE page_id = ?", pageID); err != nil {
		return fmt.Errorf("clear keywords %s: %w", pageID, err)
	}
	for _, kw := range kws {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO keywords (project_id, page_id, keyword, tf_idf_score, term_frequency, document_frequency, is_relevant)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, projectID, pageID, kw.Keyword, kw.TFIDFScore, kw.TermFrequency, kw.DocumentFrequency, kw.IsRelevant)
		if err != nil {
			return fmt.Errorf("insert keyword %s: %w", kw.Keyword, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListKeywords(ctx context.Context, pageID string) ([]Keyword, error) {
	var kws []Keyword
	err := s.db.SelectContext(ctx, &kws,
		"SELECT * FROM keywords WHERE page_id = ? ORDER BY tf_idf_score DESC, keyword", pageID)
	if err != nil {
		return nil, fmt.Errorf("list keywords %s: %w", pageID, err)
	}
	return kws, nil
}

func (s *SQLiteStore) UpsertKeywordMetric(ctx context.Context, projectID string, m enrich.KeywordMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keyword_metrics (project_id, keyword, search_volume, keyword_difficulty, cpc, competition_index, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, keyword) DO UPDATE SET
			search_volume = excluded.search_volume,
			keyword_difficulty = excluded.keyword_difficulty,
			cpc = excluded.cpc,
			competition_index = excluded.competition_index,
			updated_at = excluded.updated_at
	`, projectID, m.Keyword, m.SearchVolume, m.KeywordDifficulty, m.CPC, m.CompetitionIndex, s.now())
	if err != nil {
		return fmt.Errorf("upsert keyword metric %s: %w", m.Keyword, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertSearchPerformance(ctx context.Context, projectID string, sp enrich.SearchPerformance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_performance (project_id, keyword, page_url, impressions, clicks, ctr, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, keyword, page_url) DO UPDATE SET
			impressions = excluded.impressions,
			clicks = excluded.clicks,
			ctr = excluded.ctr,
			position = excluded.position,
			updated_at = excluded.updated_at
	`, projectID, sp.Keyword, sp.PageURL, sp.Impressions, sp.Clicks, sp.CTR, sp.Position, s.now())
	if err != nil {
		return fmt.Errorf("upsert search performance %s|%s: %w", sp.Keyword, sp.PageURL, err)
	}
	return nil
}

// StartRun records r as running unless the project already has a running
// run that started within staleAfter. A zero staleAfter never expires.
func (s *SQLiteStore) StartRun(ctx context.Context, r *Run, staleAfter time.Duration) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = RunRunning
	r.StartedAt = s.now()
	r.SummaryJSON = "[]"

	cutoff := time.Time{}
	if staleAfter > 0 {
		cutoff = r.StartedAt.Add(-staleAfter)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (id, project_id, name, site_url, status, summary, started_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM analysis_runs
			WHERE project_id = ? AND status = ? AND started_at > ?
		)
	`, r.ID, r.ProjectID, r.Name, r.SiteURL, RunRunning, r.SummaryJSON, r.StartedAt,
		r.ProjectID, RunRunning, cutoff)
	if err != nil {
		return fmt.Errorf("start run %s: %w", r.ProjectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunInProgress
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, r *Run) error {
	summaryJSON, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if r.Summary == nil {
		summaryJSON = []byte("[]")
	}
	now := s.now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = ?, pages_crawled = ?, keywords_extracted = ?,
			opportunities_found = ?, summary = ?, completed_at = ?
		WHERE id = ?
	`, RunCompleted, r.PagesCrawled, r.KeywordsExtracted, r.OpportunitiesFound,
		string(summaryJSON), now, r.ID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete run %s: %w", r.ID, ErrNotFound)
	}
	r.Status = RunCompleted
	r.SummaryJSON = string(summaryJSON)
	r.CompletedAt = &now
	return nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, RunFailed, reason, s.now(), runID, RunRunning)
	if err != nil {
		return fmt.Errorf("fail run %s: %w", runID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, "SELECT * FROM analysis_runs WHERE id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	json.Unmarshal([]byte(r.SummaryJSON), &r.Summary)
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, projectID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	err := s.db.SelectContext(ctx, &runs, `
		SELECT * FROM analysis_runs WHERE project_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", projectID, err)
	}
	for i := range runs {
		json.Unmarshal([]byte(runs[i].SummaryJSON), &runs[i].Summary)
	}
	return runs, nil
}

// InsertOpportunities persists opps for a run with pending status.
func (s *SQLiteStore) InsertOpportunities(ctx context.Context, analysisID, projectID string, opps []opportunity.Opportunity) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert opportunities: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	for _, o := range opps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO link_opportunities (analysis_id, project_id, source_page_id, source_url, target_page_id, target_url,
				keyword, keyword_score, page_score, priority_score, suggested_anchor_text, estimated_traffic_lift, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, analysisID, projectID, o.SourcePageID, o.SourceURL, o.TargetPageID, o.TargetURL,
			o.Keyword, o.KeywordScore, o.PageScore, o.PriorityScore, o.SuggestedAnchorText,
			o.EstimatedTrafficLift, OpportunityPending, now)
		if err != nil {
			return fmt.Errorf("insert opportunity %s -> %s: %w", o.SourceURL, o.TargetURL, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListOpportunities(ctx context.Context, opts OpportunityListOpts) ([]Opportunity, error) {
	query := "SELECT * FROM link_opportunities WHERE 1=1"
	var args []any

	if opts.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, opts.ProjectID)
	}
	if opts.AnalysisID != "" {
		query += " AND analysis_id = ?"
		args = append(args, opts.AnalysisID)
	} else {
		query += ` AND analysis_id = (
			SELECT id FROM analysis_runs WHERE project_id = ? AND status = ?
			ORDER BY started_at DESC LIMIT 1)`
		args = append(args, opts.ProjectID, RunCompleted)
	}

	query += " ORDER BY priority_score DESC, id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var opps []Opportunity
	if err := s.db.SelectContext(ctx, &opps, query, args...); err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	return opps, nil
}

