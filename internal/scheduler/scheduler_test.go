package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/linkscout/pkg/analysis"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (f *fakeRunner) Run(_ context.Context, req analysis.Request) (*analysis.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.ProjectID)
	if err := f.errs[req.ProjectID]; err != nil {
		return nil, err
	}
	return &analysis.Response{Success: true, AnalysisID: "run-" + req.ProjectID}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func projects() []analysis.Request {
	return []analysis.Request{
		{ProjectID: "one", SiteURL: "https://one.test"},
		{ProjectID: "two", SiteURL: "https://two.test"},
		{ProjectID: "three", SiteURL: "https://three.test"},
	}
}

func TestRunOnce_ContinuesAfterFailures(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{
		"one": errors.New("crawl failed"),
		"two": analysis.ErrRunInProgress,
	}}
	s := New(r, projects(), time.Hour, quietLogger())

	s.RunOnce(context.Background())
	assert.Equal(t, []string{"one", "two", "three"}, r.calls)
}

func TestRunOnce_StopsWhenCancelled(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, projects(), time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunOnce(ctx)
	assert.Empty(t, r.calls)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, projects()[:1], 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return r.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNew_Defaults(t *testing.T) {
	s := New(&fakeRunner{}, nil, 0, nil)
	assert.Equal(t, 24*time.Hour, s.interval)
	assert.NotNil(t, s.log)
}
