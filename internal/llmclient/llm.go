// Package llmclient implements the LLM Adapter (C4): streams chat
// completions with tool-calling support, assembling fragmented tool-call
// argument deltas into well-formed JSON before emitting them.
package llmclient

import (
	"context"

	"github.com/voxgateway/agent/internal/session"
)

// EventKind discriminates the three event kinds streamed from an adapter.
type EventKind int

const (
	EventText EventKind = iota
	EventToolCall
	EventEnd
)

// FinishReason is the terminal reason an end event carries.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// ToolCallEvent is a fully-assembled tool invocation request.
type ToolCallEvent struct {
	ID             string
	Name           string
	Arguments      map[string]any
	ArgumentsError bool // set if assembled arguments failed to parse as JSON
}

// Event is one item streamed from Adapter.Stream.
type Event struct {
	Kind         EventKind
	TextDelta    string
	ToolCall     ToolCallEvent
	FinishReason FinishReason
	// Usage is the completion token count reported on EventEnd, when the
	// backend's stream includes it (0 otherwise).
	Usage int
}

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Adapter is the contract every LLM backend (real or fake) satisfies.
type Adapter interface {
	// Stream submits history plus the tool schema list to the model and
	// returns a channel of events terminated by exactly one EventEnd.
	Stream(ctx context.Context, history []session.Message, tools []ToolSpec) (<-chan Event, error)
}

// toolCallAccumulator assembles streamed, fragmented tool-call argument
// deltas keyed by the provider's per-call stream index. Grounded on the
// tcAccumulator pattern used for OpenAI-style SSE tool-call streaming.
type toolCallAccumulator struct {
	id   string
	name string
	args string
}
