package tools

import (
	"context"
	"fmt"
	"time"
)

// BrowserTool is a narrow-interface stub for a browser-automation provider
// (navigate/click/read page text). Per scope, the provider itself is an
// external collaborator; this tool only exercises the Tool contract so the
// registry and agent loop are exact regardless of which automation backend
// is wired in later.
type BrowserTool struct {
	// Navigate is set by the concrete browser-automation integration; if
	// nil the tool reports itself unavailable rather than panicking.
	Navigate func(ctx context.Context, url string) (string, error)
}

func (t *BrowserTool) Name() string        { return "browse" }
func (t *BrowserTool) Description() string { return "Navigates to a URL and returns the page's visible text." }
func (t *BrowserTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"url": map[string]any{"type": "string"}},
		"required":   []any{"url"},
	}
}
func (t *BrowserTool) Timeout() time.Duration { return 20 * time.Second }
func (t *BrowserTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if t.Navigate == nil {
		return "", fmt.Errorf("browser automation provider not configured")
	}
	url, _ := args["url"].(string)
	if url == "" {
		return "", fmt.Errorf("missing url")
	}
	return t.Navigate(ctx, url)
}

// VoiceCloneTool is a narrow-interface stub for a voice-cloning provider
// that produces a new voice identifier from a reference sample path.
type VoiceCloneTool struct {
	Clone func(ctx context.Context, samplePath, label string) (string, error)
}

func (t *VoiceCloneTool) Name() string        { return "clone_voice" }
func (t *VoiceCloneTool) Description() string { return "Creates a cloned voice identifier from a reference audio sample." }
func (t *VoiceCloneTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sample_path": map[string]any{"type": "string"},
			"label":       map[string]any{"type": "string"},
		},
		"required": []any{"sample_path", "label"},
	}
}
func (t *VoiceCloneTool) Timeout() time.Duration { return 60 * time.Second }
func (t *VoiceCloneTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if t.Clone == nil {
		return "", fmt.Errorf("voice cloning provider not configured")
	}
	sample, _ := args["sample_path"].(string)
	label, _ := args["label"].(string)
	if sample == "" || label == "" {
		return "", fmt.Errorf("missing sample_path or label")
	}
	return t.Clone(ctx, sample, label)
}
