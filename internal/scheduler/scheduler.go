package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/elonfeng/linkscout/pkg/analysis"
	"github.com/sirupsen/logrus"
)

// Runner executes one analysis.
type Runner interface {
	Run(ctx context.Context, req analysis.Request) (*analysis.Response, error)
}

// Scheduler re-analyzes a fixed set of projects periodically.
type Scheduler struct {
	runner   Runner
	projects []analysis.Request
	interval time.Duration
	log      logrus.FieldLogger
}

// New creates a new scheduler.
func New(runner Runner, projects []analysis.Request, interval time.Duration, log logrus.FieldLogger) *Scheduler {
	if interval == 0 {
		interval = 24 * time.Hour
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		runner:   runner,
		projects: projects,
		interval: interval,
		log:      log,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("projects", len(s.projects)).Info("scheduler: initial analysis")
	s.RunOnce(ctx)

	s.log.WithField("interval", s.interval.String()).Info("scheduler: running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce analyzes every project in turn. Failures are logged and the
// remaining projects still run.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, req := range s.projects {
		if ctx.Err() != nil {
			return
		}
		log := s.log.WithField("project", req.ProjectID)

		resp, err := s.runner.Run(ctx, req)
		switch {
		case errors.Is(err, analysis.ErrRunInProgress):
			log.Info("scheduler: analysis already running, skipped")
		case err != nil:
			log.WithError(err).Warn("scheduler: analysis failed")
		default:
			log.WithFields(logrus.Fields{
				"run":           resp.AnalysisID,
				"pages":         resp.PagesCrawled,
				"opportunities": resp.OpportunitiesFound,
			}).Info("scheduler: analysis completed")
		}
	}
}
