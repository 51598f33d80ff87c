package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
	now        func() time.Time
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		now:        time.Now,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	var lines []string
	for _, o := range n.listed() {
		lines = append(lines, fmt.Sprintf("• %s → %s: **%s**", o.SourceURL, o.TargetURL, o.Keyword))
	}

	embed := map[string]any{
		"title":       n.Title,
		"url":         n.SiteURL,
		"description": fmt.Sprintf("**Pages:** %d | **Opportunities:** %d\n\n%s\n\n%s", n.PagesCrawled, n.OpportunitiesFound, n.Body, strings.Join(lines, "\n")),
		"color":       0x2E86DE,
		"timestamp":   d.now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	if err := postJSON(ctx, d.client, d.webhookURL, body, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
