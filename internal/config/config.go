package config

import (
	"fmt"
	"os"
	"time"

	"github.com/elonfeng/linkscout/pkg/opportunity"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database      DatabaseConfig         `yaml:"database"`
	Crawl         CrawlConfig            `yaml:"crawl"`
	Keywords      KeywordsConfig         `yaml:"keywords"`
	SearchConsole SearchConsoleConfig    `yaml:"search_console"`
	Analysis      AnalysisConfig         `yaml:"analysis"`
	Scoring       opportunity.Thresholds `yaml:"scoring"`
	Anchor        AnchorConfig           `yaml:"anchor"`
	Schedule      ScheduleConfig         `yaml:"schedule"`
	Alerts        AlertsConfig           `yaml:"alerts"`
	Server        ServerConfig           `yaml:"server"`
	Logging       LoggingConfig          `yaml:"logging"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CrawlConfig selects and tunes the crawl adapter.
type CrawlConfig struct {
	Mode              string   `yaml:"mode"` // "site", "api" or "feed"
	APIURL            string   `yaml:"api_url"`
	APIKey            string   `yaml:"api_key"`
	FeedPath          string   `yaml:"feed_path"`
	MaxPages          int      `yaml:"max_pages"`
	MaxDepth          int      `yaml:"max_depth"`
	ExcludePatterns   []string `yaml:"exclude_patterns"`
	UserAgent         string   `yaml:"user_agent"`
	Timeout           string   `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
}

// ParseTimeout returns the per-request crawl timeout.
func (c CrawlConfig) ParseTimeout() time.Duration {
	return parseDuration(c.Timeout, 15*time.Second)
}

// KeywordsConfig configures the keyword volume provider.
type KeywordsConfig struct {
	URL               string  `yaml:"url"`
	APIKey            string  `yaml:"api_key"`
	Location          string  `yaml:"location"`
	Language          string  `yaml:"language"`
	BatchSize         int     `yaml:"batch_size"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ParseTimeout returns the per-batch timeout.
func (k KeywordsConfig) ParseTimeout() time.Duration {
	return parseDuration(k.Timeout, 45*time.Second)
}

// SearchConsoleConfig configures the search analytics provider.
type SearchConsoleConfig struct {
	URL           string `yaml:"url"`
	AccessToken   string `yaml:"access_token"`
	DateRangeDays int    `yaml:"date_range_days"`
	RowLimit      int    `yaml:"row_limit"`
	Timeout       string `yaml:"timeout"`
}

// ParseTimeout returns the request timeout.
func (s SearchConsoleConfig) ParseTimeout() time.Duration {
	return parseDuration(s.Timeout, 45*time.Second)
}

// AnalysisConfig tunes the pipeline.
type AnalysisConfig struct {
	KeywordsPerPage int     `yaml:"keywords_per_page"`
	MinTFIDFScore   float64 `yaml:"min_tfidf_score"`
	RelevanceScore  float64 `yaml:"relevance_score"`
	MaxPersisted    int     `yaml:"max_persisted"`
	SummarySize     int     `yaml:"summary_size"`
	CallTimeout     string  `yaml:"call_timeout"`
	RunLockTTL      string  `yaml:"run_lock_ttl"`
}

// ParseCallTimeout returns the bound applied to each external call.
func (a AnalysisConfig) ParseCallTimeout() time.Duration {
	return parseDuration(a.CallTimeout, 60*time.Second)
}

// ParseRunLockTTL returns how long a running run blocks its project.
func (a AnalysisConfig) ParseRunLockTTL() time.Duration {
	return parseDuration(a.RunLockTTL, time.Hour)
}

// AnchorConfig configures anchor text suggestions.
type AnchorConfig struct {
	LLM LLMConfig `yaml:"llm"`
}

// LLMConfig configures the optional LLM anchor writer.
type LLMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint (optional)
	Timeout  string `yaml:"timeout"`
}

// ParseTimeout returns the LLM request timeout.
func (l LLMConfig) ParseTimeout() time.Duration {
	return parseDuration(l.Timeout, 60*time.Second)
}

// ScheduleConfig configures periodic re-analysis.
type ScheduleConfig struct {
	Interval string          `yaml:"interval"`
	Projects []ProjectConfig `yaml:"projects"`
}

// ParseInterval returns the analysis interval as time.Duration.
func (s ScheduleConfig) ParseInterval() time.Duration {
	return parseDuration(s.Interval, 24*time.Hour)
}

// ProjectConfig is a project analyzed on schedule.
type ProjectConfig struct {
	ID      string `yaml:"id"`
	SiteURL string `yaml:"site_url"`
	Name    string `yaml:"name"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./linkscout.db"},
		Crawl: CrawlConfig{
			Mode:              "site",
			FeedPath:          "/feed",
			MaxPages:          100,
			MaxDepth:          3,
			UserAgent:         "linkscout/1.0",
			Timeout:           "15s",
			RequestsPerSecond: 5,
		},
		Keywords: KeywordsConfig{
			Location:  "United States",
			Language:  "en",
			BatchSize: 100,
			Timeout:   "45s",
		},
		SearchConsole: SearchConsoleConfig{
			DateRangeDays: 28,
			RowLimit:      25000,
			Timeout:       "45s",
		},
		Analysis: AnalysisConfig{
			KeywordsPerPage: 20,
			MinTFIDFScore:   0.1,
			RelevanceScore:  0.2,
			MaxPersisted:    50,
			SummarySize:     10,
			CallTimeout:     "60s",
			RunLockTTL:      "1h",
		},
		Scoring: opportunity.DefaultThresholds(),
		Anchor: AnchorConfig{
			LLM: LLMConfig{
				Provider: "openai",
				Model:    "gpt-4o-mini",
				Timeout:  "60s",
			},
		},
		Schedule: ScheduleConfig{Interval: "24h"},
		Alerts:   AlertsConfig{},
		Server:   ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file, loads a .env file if present
// and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Missing .env is fine; real env vars win over it.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Crawl.Mode {
	case "site", "feed":
	case "api":
		if c.Crawl.APIURL == "" {
			return fmt.Errorf("crawl.api_url is required for api mode")
		}
	default:
		return fmt.Errorf("unknown crawl.mode %q", c.Crawl.Mode)
	}
	sc := c.Scoring
	if sc.MinKeywordScore < 0 || sc.NoDataRelevance < 0 || sc.TrafficLiftRate < 0 {
		return fmt.Errorf("scoring thresholds must not be negative")
	}
	if sc.KeywordsPerSource <= 0 || sc.DefaultPosition <= 0 {
		return fmt.Errorf("scoring.keywords_per_source and scoring.default_position must be positive")
	}
	if c.Analysis.MinTFIDFScore < 0 || c.Analysis.RelevanceScore < 0 {
		return fmt.Errorf("analysis scores must not be negative")
	}
	for i, p := range c.Schedule.Projects {
		if p.ID == "" || p.SiteURL == "" {
			return fmt.Errorf("schedule.projects[%d]: id and site_url are required", i)
		}
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LINKSCOUT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LINKSCOUT_CRAWL_API_KEY"); v != "" {
		cfg.Crawl.APIKey = v
	}
	if v := os.Getenv("LINKSCOUT_KEYWORDS_API_KEY"); v != "" {
		cfg.Keywords.APIKey = v
	}
	if v := os.Getenv("LINKSCOUT_GSC_TOKEN"); v != "" {
		cfg.SearchConsole.AccessToken = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	// Provider keys only fill in credentials; anchor.llm.enabled still has to be set.
	if cfg.Anchor.LLM.APIKey == "" {
		switch cfg.Anchor.LLM.Provider {
		case "openai":
			cfg.Anchor.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.Anchor.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if v := os.Getenv("LINKSCOUT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
