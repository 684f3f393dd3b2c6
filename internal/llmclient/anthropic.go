package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voxgateway/agent/internal/session"
)

// AnthropicClient streams the Anthropic Messages API with tool use. The
// wire shape differs from OpenAI's (content_block_start/delta/stop events
// keyed by block index, input_json_delta carrying partial_json fragments)
// but the same index-keyed accumulation technique grounds both backends.
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicClient builds a client for the Anthropic Messages API.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.anthropic.com",
		client:  &http.Client{Timeout: 0},
	}
}

type anthMessage struct {
	Role    string        `json:"role"`
	Content []anthContent `json:"content"`
}

type anthContent struct {
	Type      string         `json:"type"` // "text" | "tool_use" | "tool_result"
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []anthMessage `json:"messages"`
	Tools     []anthTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

// convertHistoryAnthropic splits the system message out (Anthropic carries
// it as a top-level field) and converts assistant tool-calls / tool results
// into Anthropic's content-block shape.
func convertHistoryAnthropic(history []session.Message) (string, []anthMessage) {
	var system string
	msgs := make([]anthMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case session.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case session.RoleUser:
			msgs = append(msgs, anthMessage{Role: "user", Content: []anthContent{{Type: "text", Text: m.Content}}})
		case session.RoleAssistant:
			blocks := []anthContent{}
			if m.Content != "" {
				blocks = append(blocks, anthContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
			}
			msgs = append(msgs, anthMessage{Role: "assistant", Content: blocks})
		case session.RoleTool:
			msgs = append(msgs, anthMessage{Role: "user", Content: []anthContent{{
				Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content,
			}}})
		}
	}
	return system, msgs
}

func convertToolsAnthropic(tools []ToolSpec) []anthTool {
	out := make([]anthTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

// Stream implements Adapter.
func (c *AnthropicClient) Stream(ctx context.Context, history []session.Message, tools []ToolSpec) (<-chan Event, error) {
	system, msgs := convertHistoryAnthropic(history)
	reqBody := anthRequest{
		Model:     c.model,
		System:    system,
		Messages:  msgs,
		Tools:     convertToolsAnthropic(tools),
		MaxTokens: 4096,
		Stream:    true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llmclient(anthropic): marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient(anthropic): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient(anthropic): request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("llmclient(anthropic): status %d: %s", resp.StatusCode, errBody)
	}

	out := make(chan Event, 32)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		streamAnthropicSSE(resp.Body, out)
	}()
	return out, nil
}

type anthEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

func streamAnthropicSSE(body io.Reader, out chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	calls := map[int]*toolCallAccumulator{}
	var order []int
	finish := FinishStop
	outputTokens := 0

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		var ev anthEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				calls[ev.Index] = &toolCallAccumulator{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				order = append(order, ev.Index)
			}
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				out <- Event{Kind: EventText, TextDelta: ev.Delta.Text}
			}
			if ev.Delta.Type == "input_json_delta" {
				if acc, ok := calls[ev.Index]; ok {
					acc.args += ev.Delta.PartialJSON
				}
			}
		case "message_delta":
			if ev.Delta != nil {
				switch ev.Delta.StopReason {
				case "tool_use":
					finish = FinishToolCalls
				case "max_tokens":
					finish = FinishLength
				default:
					finish = FinishStop
				}
			}
			if ev.Usage != nil {
				outputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			// terminal; fall through to emit assembled tool calls below
		}
	}

	for _, idx := range order {
		acc := calls[idx]
		var args map[string]any
		argErr := false
		if acc.args == "" {
			args = map[string]any{}
		} else if err := json.Unmarshal([]byte(acc.args), &args); err != nil {
			argErr = true
		}
		out <- Event{Kind: EventToolCall, ToolCall: ToolCallEvent{
			ID:             acc.id,
			Name:           acc.name,
			Arguments:      args,
			ArgumentsError: argErr,
		}}
	}
	if len(order) > 0 && finish == FinishStop {
		finish = FinishToolCalls
	}
	out <- Event{Kind: EventEnd, FinishReason: finish, Usage: outputTokens}
}

var _ Adapter = (*AnthropicClient)(nil)
