package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebSearchTool queries a configurable search API and returns the top
// results as text. The endpoint is expected to accept ?q=<query> and return
// a JSON array of {title, url, snippet}.
type WebSearchTool struct {
	Endpoint string
	APIKey   string
	client   *http.Client
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Searches the web and returns the top results." }
func (t *WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	}
}
func (t *WebSearchTool) Timeout() time.Duration { return 10 * time.Second }

func (t *WebSearchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("missing query")
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Endpoint+"?q="+query, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("search status %d: %s", resp.StatusCode, body)
	}

	var results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("decode results: %w", err)
	}

	out := ""
	for i, r := range results {
		if i >= 5 {
			break
		}
		out += fmt.Sprintf("%d. %s (%s) — %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return out, nil
}
