package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/linkscout/internal/config"
	"github.com/elonfeng/linkscout/internal/scheduler"
	"github.com/elonfeng/linkscout/internal/store"
	"github.com/elonfeng/linkscout/pkg/alert"
	"github.com/elonfeng/linkscout/pkg/analysis"
	"github.com/elonfeng/linkscout/pkg/anchor"
	"github.com/elonfeng/linkscout/pkg/crawl"
	"github.com/elonfeng/linkscout/pkg/enrich"
	"github.com/elonfeng/linkscout/pkg/export"
	"github.com/elonfeng/linkscout/pkg/opportunity"
	"github.com/elonfeng/linkscout/pkg/server"
	"github.com/sirupsen/logrus"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func buildCrawler(cfg *config.Config, log logrus.FieldLogger) crawl.Crawler {
	opts := crawl.Options{
		MaxPages:          cfg.Crawl.MaxPages,
		MaxDepth:          cfg.Crawl.MaxDepth,
		ExcludePatterns:   cfg.Crawl.ExcludePatterns,
		UserAgent:         cfg.Crawl.UserAgent,
		Timeout:           cfg.Crawl.ParseTimeout(),
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		Logger:            log,
	}
	switch cfg.Crawl.Mode {
	case "api":
		return crawl.NewAPI(cfg.Crawl.APIURL, cfg.Crawl.APIKey, opts)
	case "feed":
		return crawl.NewFeed(cfg.Crawl.FeedPath, opts)
	default:
		return crawl.NewSite(opts)
	}
}

func buildAnchors(cfg *config.Config, log logrus.FieldLogger) anchor.Suggester {
	llm := cfg.Anchor.LLM
	if !llm.Enabled || llm.APIKey == "" {
		return anchor.Template{}
	}
	log.WithFields(logrus.Fields{"provider": llm.Provider, "model": llm.Model}).Info("llm anchor text enabled")
	return anchor.NewLLM(llm.Provider, llm.Model, llm.APIKey, llm.BaseURL, llm.ParseTimeout())
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func buildAnalyzer(cfg *config.Config, db store.Store, log logrus.FieldLogger) *analysis.Analyzer {
	acfg := analysis.Config{
		Store:   db,
		Crawler: buildCrawler(cfg, log),
		Scorer:  opportunity.NewScorer(cfg.Scoring),
		Anchors: buildAnchors(cfg, log),
		Alerts:  buildAlertManager(cfg),
		Logger:  log,
		Options: analysis.Options{
			KeywordsPerPage: cfg.Analysis.KeywordsPerPage,
			MinTFIDFScore:   cfg.Analysis.MinTFIDFScore,
			RelevanceScore:  cfg.Analysis.RelevanceScore,
			MaxPersisted:    cfg.Analysis.MaxPersisted,
			SummarySize:     cfg.Analysis.SummarySize,
			CallTimeout:     cfg.Analysis.ParseCallTimeout(),
			RunLockTTL:      cfg.Analysis.ParseRunLockTTL(),
		},
	}

	// Unconfigured providers stay nil and the pipeline runs degraded.
	if cfg.Keywords.URL != "" {
		acfg.Keywords = enrich.NewKeywordProvider(enrich.KeywordProviderOptions{
			URL:               cfg.Keywords.URL,
			APIKey:            cfg.Keywords.APIKey,
			Location:          cfg.Keywords.Location,
			Language:          cfg.Keywords.Language,
			BatchSize:         cfg.Keywords.BatchSize,
			Timeout:           cfg.Keywords.ParseTimeout(),
			RequestsPerSecond: cfg.Keywords.RequestsPerSecond,
		})
	} else {
		log.Warn("keywords.url not set, keyword metrics disabled")
	}
	if cfg.SearchConsole.URL != "" {
		acfg.Performance = enrich.NewSearchConsole(enrich.SearchConsoleOptions{
			URL:           cfg.SearchConsole.URL,
			AccessToken:   cfg.SearchConsole.AccessToken,
			DateRangeDays: cfg.SearchConsole.DateRangeDays,
			RowLimit:      cfg.SearchConsole.RowLimit,
			Timeout:       cfg.SearchConsole.ParseTimeout(),
		})
	} else {
		log.Warn("search_console.url not set, search performance disabled")
	}

	return analysis.New(acfg)
}

// setup loads config and opens the store shared by every command.
func setup() (*config.Config, *store.SQLiteStore, *logrus.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.Logging, os.Stderr)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, db, log, nil
}

func runAnalyze(project, site, name string, jsonOutput bool) error {
	cfg, db, log, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	resp, err := buildAnalyzer(cfg, db, log).Run(ctx, analysis.Request{
		ProjectID: project,
		SiteURL:   site,
		Name:      name,
	})
	if err != nil {
		if jsonOutput {
			printJSON(analysis.FailureFrom(err))
		}
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println(resp.Message)
	fmt.Printf("analysis: %s\n\n", resp.AnalysisID)
	return printOpportunities(resp.TopOpportunities)
}

func runOpportunities(project, run string, limit int, jsonOutput bool) error {
	_, db, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	opps, err := db.ListOpportunities(context.Background(), store.OpportunityListOpts{
		ProjectID:  project,
		AnalysisID: run,
		Limit:      limit,
	})
	if err != nil {
		return fmt.Errorf("list opportunities: %w", err)
	}

	if jsonOutput {
		return printJSON(opps)
	}
	if len(opps) == 0 {
		fmt.Println("no opportunities found (try analyzing first: linkscout analyze)")
		return nil
	}

	plain := make([]opportunity.Opportunity, len(opps))
	for i, o := range opps {
		plain[i] = o.Opportunity
	}
	return printOpportunities(plain)
}

func runRuns(project string, limit int, jsonOutput bool) error {
	_, db, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(context.Background(), project, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if jsonOutput {
		return printJSON(runs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPAGES\tKEYWORDS\tOPPORTUNITIES\tSTARTED\tNAME")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.PagesCrawled, r.KeywordsExtracted, r.OpportunitiesFound,
			r.StartedAt.Format(time.RFC3339), r.Name)
	}
	return w.Flush()
}

func runExport(project, out, format string, limit int) error {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}

	_, db, log, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	opps, err := db.ListOpportunities(context.Background(), store.OpportunityListOpts{
		ProjectID: project,
		Limit:     limit,
	})
	if err != nil {
		return fmt.Errorf("list opportunities: %w", err)
	}

	file, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	defer file.Close()

	if err := export.Write(file, f, opps); err != nil {
		return fmt.Errorf("export %s: %w", out, err)
	}
	log.WithFields(logrus.Fields{"project": project, "rows": len(opps), "file": out}).Info("export written")
	return nil
}

func runServe(port int) error {
	cfg, db, log, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	if port == 0 {
		port = cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(db, buildAnalyzer(cfg, db, log), port, cfg.Server.AllowedOrigins, log)
	return srv.ListenAndServe(ctx)
}

func runDaemon(port int) error {
	cfg, db, log, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	if port == 0 {
		port = cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	analyzer := buildAnalyzer(cfg, db, log)

	projects := make([]analysis.Request, len(cfg.Schedule.Projects))
	for i, p := range cfg.Schedule.Projects {
		projects[i] = analysis.Request{ProjectID: p.ID, SiteURL: p.SiteURL, Name: p.Name}
	}
	sched := scheduler.New(analyzer, projects, cfg.Schedule.ParseInterval(), log)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("scheduler stopped")
		}
	}()

	srv := server.New(db, analyzer, port, cfg.Server.AllowedOrigins, log)
	return srv.ListenAndServe(ctx)
}

func printOpportunities(opps []opportunity.Opportunity) error {
	if len(opps) == 0 {
		fmt.Println("no opportunities found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tKEYWORD\tSOURCE\tTARGET\tLIFT\tANCHOR")
	for _, o := range opps {
		fmt.Fprintf(w, "%.1f\t%s\t%s\t%s\t%d\t%s\n",
			o.PriorityScore, o.Keyword, o.SourceURL, o.TargetURL,
			o.EstimatedTrafficLift, o.SuggestedAnchorText)
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
