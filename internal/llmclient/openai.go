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

// OpenAIClient streams OpenAI-compatible (including Ollama's /v1) chat
// completions with tool-calling. Grounded on the teacher's manual
// HTTP+SSE streaming style (pipeline/llm.go, pipeline/llm_openai.go) and on
// the OpenAI streamed tool_calls accumulation pattern from the tool-calling
// reference loop: deltas are keyed by stream index and assembled into
// complete argument strings before being parsed as JSON.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIClient builds a client against baseURL (e.g. "https://api.openai.com"
// or a local Ollama's "http://localhost:11434").
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 0},
	}
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiToolCall struct {
	Index    int             `json:"index,omitempty"`
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Function oaiToolFunction `json:"function"`
}

type oaiToolFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type oaiRequest struct {
	Model         string            `json:"model"`
	Messages      []oaiMessage      `json:"messages"`
	Tools         []oaiTool         `json:"tools,omitempty"`
	Stream        bool              `json:"stream"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiDelta struct {
	Content   string        `json:"content,omitempty"`
	ToolCalls []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta        oaiDelta `json:"delta"`
		FinishReason *string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

func convertHistory(history []session.Message) []oaiMessage {
	out := make([]oaiMessage, 0, len(history))
	for _, m := range history {
		om := oaiMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, oaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaiToolFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func convertTools(tools []ToolSpec) []oaiTool {
	out := make([]oaiTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Stream implements Adapter.
func (c *OpenAIClient) Stream(ctx context.Context, history []session.Message, tools []ToolSpec) (<-chan Event, error) {
	reqBody := oaiRequest{
		Model:         c.model,
		Messages:      convertHistory(history),
		Tools:         convertTools(tools),
		Stream:        true,
		StreamOptions: &oaiStreamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llmclient(openai): marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient(openai): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient(openai): request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("llmclient(openai): status %d: %s", resp.StatusCode, errBody)
	}

	out := make(chan Event, 32)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		streamOpenAISSE(resp.Body, out)
	}()
	return out, nil
}

// streamOpenAISSE scans the chat-completions SSE body, accumulating
// fragmented tool-call argument deltas keyed by stream index until the
// terminal [DONE]/finish_reason, emitting text deltas inline.
func streamOpenAISSE(body io.Reader, out chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	calls := map[int]*toolCallAccumulator{}
	var order []int
	finish := FinishStop
	completionTokens := 0

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			completionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			out <- Event{Kind: EventText, TextDelta: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := calls[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				calls[tc.Index] = acc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args += tc.Function.Arguments
		}
		if choice.FinishReason != nil {
			switch *choice.FinishReason {
			case "tool_calls":
				finish = FinishToolCalls
			case "length":
				finish = FinishLength
			default:
				finish = FinishStop
			}
		}
	}

	for _, idx := range order {
		acc := calls[idx]
		var args map[string]any
		argErr := false
		if err := json.Unmarshal([]byte(acc.args), &args); err != nil {
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
	out <- Event{Kind: EventEnd, FinishReason: finish, Usage: completionTokens}
}

var _ Adapter = (*OpenAIClient)(nil)
