// Package alert announces finished analyses to chat and webhook destinations.
package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/elonfeng/linkscout/pkg/opportunity"
)

// maxListed caps how many opportunities chat messages list.
const maxListed = 5

// Notification describes a completed analysis run.
type Notification struct {
	ProjectID          string                    `json:"project_id"`
	RunID              string                    `json:"run_id"`
	SiteURL            string                    `json:"site_url"`
	Title              string                    `json:"title"`
	Body               string                    `json:"body"`
	PagesCrawled       int                       `json:"pages_crawled"`
	OpportunitiesFound int                       `json:"opportunities_found"`
	Opportunities      []opportunity.Opportunity `json:"opportunities"`
}

// NewRunNotification builds the notification for a completed run.
func NewRunNotification(projectID, runID, siteURL string, pages, found int, top []opportunity.Opportunity) *Notification {
	return &Notification{
		ProjectID:          projectID,
		RunID:              runID,
		SiteURL:            siteURL,
		Title:              fmt.Sprintf("%d internal link opportunities for %s", found, siteURL),
		Body:               fmt.Sprintf("Analysis %s crawled %d pages of project %s.", runID, pages, projectID),
		PagesCrawled:       pages,
		OpportunitiesFound: found,
		Opportunities:      top,
	}
}

// listed returns the opportunities shown in chat messages.
func (n *Notification) listed() []opportunity.Opportunity {
	if len(n.Opportunities) > maxListed {
		return n.Opportunities[:maxListed]
	}
	return n.Opportunities
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// postJSON sends body to url and requires a 2xx answer.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
