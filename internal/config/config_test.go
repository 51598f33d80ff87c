package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkscout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "./linkscout.db", cfg.Database.Path)
	assert.Equal(t, "site", cfg.Crawl.Mode)
	assert.Equal(t, 100, cfg.Crawl.MaxPages)
	assert.Equal(t, 3, cfg.Crawl.MaxDepth)
	assert.Equal(t, 100, cfg.Keywords.BatchSize)
	assert.Equal(t, 28, cfg.SearchConsole.DateRangeDays)
	assert.Equal(t, 20, cfg.Analysis.KeywordsPerPage)
	assert.Equal(t, 50, cfg.Analysis.MaxPersisted)
	assert.Equal(t, 100.0, cfg.Scoring.MinKeywordScore)
	assert.Equal(t, 10, cfg.Scoring.KeywordsPerSource)
	assert.Equal(t, 0.1, cfg.Scoring.TrafficLiftRate)
	assert.False(t, cfg.Anchor.LLM.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/linkscout.db
crawl:
  mode: api
  api_url: https://crawler.test/run
  max_pages: 40
scoring:
  min_keyword_score: 250
analysis:
  run_lock_ttl: 30m
schedule:
  interval: 6h
  projects:
    - id: shop
      site_url: https://shop.test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/linkscout.db", cfg.Database.Path)
	assert.Equal(t, "api", cfg.Crawl.Mode)
	assert.Equal(t, 40, cfg.Crawl.MaxPages)
	assert.Equal(t, 3, cfg.Crawl.MaxDepth)
	assert.Equal(t, 250.0, cfg.Scoring.MinKeywordScore)
	assert.Equal(t, 0.5, cfg.Scoring.NoDataRelevance)
	assert.Equal(t, 30*time.Minute, cfg.Analysis.ParseRunLockTTL())
	assert.Equal(t, 6*time.Hour, cfg.Schedule.ParseInterval())
	require.Len(t, cfg.Schedule.Projects, 1)
	assert.Equal(t, "shop", cfg.Schedule.Projects[0].ID)
}

func TestLoad_ExplicitZeroThresholdsAreKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scoring:
  min_keyword_score: 0
  no_data_relevance: 0
analysis:
  min_tfidf_score: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Scoring.MinKeywordScore)
	assert.Equal(t, 0.0, cfg.Scoring.NoDataRelevance)
	assert.Equal(t, 0.0, cfg.Analysis.MinTFIDFScore)
	assert.Equal(t, 10, cfg.Scoring.KeywordsPerSource)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "crawl: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LINKSCOUT_DB_PATH", "/tmp/env.db")
	t.Setenv("LINKSCOUT_KEYWORDS_API_KEY", "kw-key")
	t.Setenv("LINKSCOUT_GSC_TOKEN", "gsc-token")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/x")
	t.Setenv("LINKSCOUT_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "kw-key", cfg.Keywords.APIKey)
	assert.Equal(t, "gsc-token", cfg.SearchConsole.AccessToken)
	assert.True(t, cfg.Alerts.Slack.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_LLMKeyDoesNotEnableAnchors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Anchor.LLM.Enabled)
	assert.Equal(t, "openai", cfg.Anchor.LLM.Provider)
	assert.Equal(t, "sk-openai", cfg.Anchor.LLM.APIKey)

	path := writeConfig(t, `
anchor:
  llm:
    enabled: true
    provider: anthropic
    model: claude-3-5-haiku-latest
`)
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Anchor.LLM.Enabled)
	assert.Equal(t, "sk-ant", cfg.Anchor.LLM.APIKey)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Anchor.LLM.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"feed mode", func(c *Config) { c.Crawl.Mode = "feed" }, true},
		{"api without url", func(c *Config) { c.Crawl.Mode = "api" }, false},
		{"unknown mode", func(c *Config) { c.Crawl.Mode = "browser" }, false},
		{"zero keyword floor", func(c *Config) { c.Scoring.MinKeywordScore = 0 }, true},
		{"negative relevance", func(c *Config) { c.Scoring.NoDataRelevance = -0.5 }, false},
		{"zero keywords per source", func(c *Config) { c.Scoring.KeywordsPerSource = 0 }, false},
		{"negative tfidf floor", func(c *Config) { c.Analysis.MinTFIDFScore = -1 }, false},
		{"project without site", func(c *Config) {
			c.Schedule.Projects = []ProjectConfig{{ID: "shop"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestParseDurationFallbacks(t *testing.T) {
	assert.Equal(t, 24*time.Hour, ScheduleConfig{Interval: "soon"}.ParseInterval())
	assert.Equal(t, time.Hour, AnalysisConfig{RunLockTTL: "-5m"}.ParseRunLockTTL())
	assert.Equal(t, 15*time.Second, CrawlConfig{}.ParseTimeout())
	assert.Equal(t, 2*time.Second, KeywordsConfig{Timeout: "2s"}.ParseTimeout())
}
