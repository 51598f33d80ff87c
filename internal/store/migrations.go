package store

const schema = `
CREATE TABLE IF NOT EXISTS pages (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    url         TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL DEFAULT '',
    word_count  INTEGER NOT NULL DEFAULT 0,
    topics      TEXT NOT NULL DEFAULT '[]',
    crawled_at  DATETIME NOT NULL,
    UNIQUE(project_id, url)
);

CREATE INDEX IF NOT EXISTS idx_pages_project ON pages(project_id);

CREATE TABLE IF NOT EXISTS internal_links (
    project_id  TEXT NOT NULL,
    source_url  TEXT NOT NULL,
    target_url  TEXT NOT NULL,
    PRIMARY KEY (project_id, source_url, target_url)
);

CREATE INDEX IF NOT EXISTS idx_links_target ON internal_links(project_id, target_url);

CREATE TABLE IF NOT EXISTS keywords (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id          TEXT NOT NULL,
    page_id             TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    keyword             TEXT NOT NULL,
    tf_idf_score        REAL NOT NULL,
    term_frequency      INTEGER NOT NULL,
    document_frequency  INTEGER NOT NULL,
    is_relevant         BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_keywords_page ON keywords(page_id);
CREATE INDEX IF NOT EXISTS idx_keywords_project ON keywords(project_id, keyword);

CREATE TABLE IF NOT EXISTS keyword_metrics (
    project_id          TEXT NOT NULL,
    keyword             TEXT NOT NULL,
    search_volume       INTEGER NOT NULL DEFAULT 0,
    keyword_difficulty  REAL NOT NULL DEFAULT 0,
    cpc                 REAL NOT NULL DEFAULT 0,
    competition_index   REAL NOT NULL DEFAULT 0,
    updated_at          DATETIME NOT NULL,
    PRIMARY KEY (project_id, keyword)
);

CREATE TABLE IF NOT EXISTS search_performance (
    project_id   TEXT NOT NULL,
    keyword      TEXT NOT NULL,
    page_url     TEXT NOT NULL,
    impressions  INTEGER NOT NULL DEFAULT 0,
    clicks       INTEGER NOT NULL DEFAULT 0,
    ctr          REAL NOT NULL DEFAULT 0,
    position     REAL NOT NULL DEFAULT 0,
    updated_at   DATETIME NOT NULL,
    PRIMARY KEY (project_id, keyword, page_url)
);

CREATE TABLE IF NOT EXISTS analysis_runs (
    id                   TEXT PRIMARY KEY,
    project_id           TEXT NOT NULL,
    name                 TEXT NOT NULL DEFAULT '',
    site_url             TEXT NOT NULL,
    status               TEXT NOT NULL,
    pages_crawled        INTEGER NOT NULL DEFAULT 0,
    keywords_extracted   INTEGER NOT NULL DEFAULT 0,
    opportunities_found  INTEGER NOT NULL DEFAULT 0,
    summary              TEXT NOT NULL DEFAULT '[]',
    error                TEXT NOT NULL DEFAULT '',
    started_at           DATETIME NOT NULL,
    completed_at         DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_project ON analysis_runs(project_id, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON analysis_runs(project_id, status);

CREATE TABLE IF NOT EXISTS link_opportunities (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    analysis_id             TEXT NOT NULL REFERENCES analysis_runs(id),
    project_id              TEXT NOT NULL,
    source_page_id          TEXT NOT NULL,
    source_url              TEXT NOT NULL,
    target_page_id          TEXT NOT NULL,
    target_url              TEXT NOT NULL,
    keyword                 TEXT NOT NULL,
    keyword_score           REAL NOT NULL,
    page_score              REAL NOT NULL,
    priority_score          REAL NOT NULL,
    suggested_anchor_text   TEXT NOT NULL,
    estimated_traffic_lift  INTEGER NOT NULL DEFAULT 0,
    status                  TEXT NOT NULL DEFAULT 'pending',
    created_at              DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opps_analysis ON link_opportunities(analysis_id, priority_score);
CREATE INDEX IF NOT EXISTS idx_opps_project ON link_opportunities(project_id);
`
