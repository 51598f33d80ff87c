package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/linkscout/pkg/opportunity"
)

const batchPrompt = `You write anchor text for internal links on a website.

For each suggested link below, write a short natural anchor phrase (2 to 8 words) that a
reader would click on the source page to reach the target page. The anchor MUST contain
the keyword exactly as given. Do not use quotes, emojis or trailing punctuation.

Links:
%s

Respond with a JSON array. Each element must have: "index" (integer from the list) and "anchor" (string).
Example: [{"index":0,"anchor":"our guide to running shoes"}]

Return ONLY the JSON array, no other text.`

// LLM asks a chat model for anchor text. Opportunities the model skips or
// answers without the keyword keep the template anchor.
type LLM struct {
	client   *http.Client
	provider string // "openai" or "anthropic"
	model    string
	apiKey   string
	baseURL  string
}

type llmAnchor struct {
	Index  int    `json:"index"`
	Anchor string `json:"anchor"`
}

// NewLLM creates an LLM anchor suggester.
func NewLLM(provider, model, apiKey, baseURL string, timeout time.Duration) *LLM {
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-20250514"
		default:
			model = "gpt-4o-mini"
		}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLM{
		client:   &http.Client{Timeout: timeout},
		provider: provider,
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
	}
}

// Suggest returns opps with model anchors applied. On error the template
// anchors are returned alongside the error.
func (l *LLM) Suggest(ctx context.Context, opps []opportunity.Opportunity) ([]opportunity.Opportunity, error) {
	out, _ := Template{}.Suggest(ctx, opps)
	if len(opps) == 0 {
		return out, nil
	}

	var lines []string
	for i, o := range opps {
		lines = append(lines, fmt.Sprintf("- Index: %d | Keyword: %s | Source: %s | Target: %s",
			i, o.Keyword, o.SourceURL, o.TargetURL))
	}
	prompt := fmt.Sprintf(batchPrompt, strings.Join(lines, "\n"))

	var raw string
	var err error
	switch l.provider {
	case "anthropic":
		raw, err = l.callAnthropic(ctx, prompt)
	default:
		raw, err = l.callOpenAI(ctx, prompt)
	}
	if err != nil {
		return out, err
	}

	var anchors []llmAnchor
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &anchors); err != nil {
		return out, fmt.Errorf("parse llm anchors: %w", err)
	}

	for _, a := range anchors {
		if a.Index < 0 || a.Index >= len(out) {
			continue
		}
		text := strings.TrimSpace(a.Anchor)
		if text == "" || !strings.Contains(strings.ToLower(text), strings.ToLower(out[a.Index].Keyword)) {
			continue
		}
		out[a.Index].SuggestedAnchorText = text
	}
	return out, nil
}

// stripCodeFence removes a markdown code block around a model reply.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
			raw = raw[3+idx+1:]
		}
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	return strings.TrimSpace(raw)
}

// chat posts payload to one provider endpoint and decodes the reply into out.
func (l *LLM) chat(ctx context.Context, provider, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s status %d", provider, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

func (l *LLM) endpoint(def, path string) string {
	if l.baseURL != "" {
		return l.baseURL + path
	}
	return def + path
}

func (l *LLM) callOpenAI(ctx context.Context, prompt string) (string, error) {
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	err := l.chat(ctx, "openai", l.endpoint("https://api.openai.com", "/v1/chat/completions"),
		map[string]string{"Authorization": "Bearer " + l.apiKey},
		map[string]any{
			"model":       l.model,
			"messages":    []map[string]string{{"role": "user", "content": prompt}},
			"temperature": 0.3,
		}, &result)
	if err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (l *LLM) callAnthropic(ctx context.Context, prompt string) (string, error) {
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	err := l.chat(ctx, "anthropic", l.endpoint("https://api.anthropic.com", "/v1/messages"),
		map[string]string{"x-api-key": l.apiKey, "anthropic-version": "2023-06-01"},
		map[string]any{
			"model":      l.model,
			"max_tokens": 2048,
			"messages":   []map[string]string{{"role": "user", "content": prompt}},
		}, &result)
	if err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}
