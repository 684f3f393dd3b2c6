// Package agent implements the Agent Loop (C7): a bounded multi-round
// LLM-and-tool cycle that decides when to speak.
package agent

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/voxgateway/agent/internal/llmclient"
	"github.com/voxgateway/agent/internal/session"
	"github.com/voxgateway/agent/internal/tools"
)

// EventKind discriminates the events streamed out of Run.
type EventKind int

const (
	// EventText carries an incremental assistant text delta, forwarded as
	// the LLM streams it until the round's first tool call has arrived; it
	// also carries the round-budget terminal message. Text that precedes
	// a round's tool calls is forwarded, not withheld.
	EventText EventKind = iota
	EventToolStart
	EventToolResult
	// EventEnd is terminal; FinalText carries the complete committed
	// assistant message (empty on cancellation, since nothing was committed).
	EventEnd
)

// ToolEvent describes one tool invocation's lifecycle.
type ToolEvent struct {
	ID        string
	Name      string
	Arguments map[string]any
	Result    string
	IsError   bool
}

// Event is one item streamed out of Run.
type Event struct {
	Kind      EventKind
	TextDelta string
	Tool      ToolEvent
	FinalText string
	Cancelled bool
	// Tokens is the cumulative completion-token count reported by the LLM
	// adapter across every round of this turn, carried on EventEnd (0 if
	// the adapter's stream never reports usage).
	Tokens int
}

// Loop runs the bounded LLM-tool cycle for one turn.
type Loop struct {
	LLM       llmclient.Adapter
	Tools     *tools.Registry
	MaxRounds int // default 5
}

const maxReasoningRoundsMessage = "(reached maximum reasoning rounds)"

// Run executes up to Loop.MaxRounds rounds against sess's current history
// and emits events on the returned channel, always terminated by exactly
// one EventEnd. Assumes the orchestrator has already appended the user
// message (and a fresh system prompt) to sess before calling Run.
func (l *Loop) Run(ctx context.Context, sess *session.Session) <-chan Event {
	out := make(chan Event, 32)
	maxRounds := l.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}

	go func() {
		defer close(out)
		totalTokens := 0
		for round := 0; round < maxRounds; round++ {
			if ctx.Err() != nil {
				out <- Event{Kind: EventEnd, Cancelled: true}
				return
			}

			history := sess.HistorySnapshot()
			toolSpecs := toLLMTools(l.Tools.Describe())

			events, err := l.LLM.Stream(ctx, history, toolSpecs)
			if err != nil {
				out <- Event{Kind: EventEnd, Cancelled: true}
				return
			}

			var textBuf strings.Builder
			var queued []llmclient.ToolCallEvent
			finish := llmclient.FinishStop
			streamCancelled := false

		drain:
			for {
				select {
				case <-ctx.Done():
					streamCancelled = true
					break drain
				case ev, ok := <-events:
					if !ok {
						break drain
					}
					switch ev.Kind {
					case llmclient.EventText:
						textBuf.WriteString(ev.TextDelta)
						// Only forward deltas when no tool calls are queued
						// yet. Both HTTP adapters emit tool calls after their
						// stream ends, so prose that a tool round streams
						// before that point still reaches the caller.
						if len(queued) == 0 {
							out <- Event{Kind: EventText, TextDelta: ev.TextDelta}
						}
					case llmclient.EventToolCall:
						queued = append(queued, ev.ToolCall)
					case llmclient.EventEnd:
						finish = ev.FinishReason
						totalTokens += ev.Usage
					}
				}
			}

			if streamCancelled || ctx.Err() != nil {
				out <- Event{Kind: EventEnd, Cancelled: true}
				return
			}

			if len(queued) == 0 {
				assistantText := textBuf.String()
				sess.Append(session.Message{Role: session.RoleAssistant, Content: assistantText})
				out <- Event{Kind: EventEnd, FinalText: assistantText, Tokens: totalTokens}
				return
			}

			// A tool round: commit the assistant message (with its
			// tool-call manifest, text discarded per §4.7) and execute.
			toolCalls := make([]session.ToolCall, len(queued))
			for i, tc := range queued {
				toolCalls[i] = session.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, ArgumentsError: tc.ArgumentsError}
			}
			sess.Append(session.Message{Role: session.RoleAssistant, ToolCalls: toolCalls})

			results := make([]ToolEvent, len(queued))
			g, gctx := errgroup.WithContext(ctx)
			for i, tc := range queued {
				i, tc := i, tc
				out <- Event{Kind: EventToolStart, Tool: ToolEvent{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}}
				g.Go(func() error {
					if tc.ArgumentsError {
						results[i] = ToolEvent{ID: tc.ID, Name: tc.Name, Result: "tool call arguments failed to parse", IsError: true}
						return nil
					}
					res := l.Tools.Invoke(gctx, tc.Name, tc.Arguments)
					results[i] = ToolEvent{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, Result: res.Text, IsError: res.IsError}
					return nil
				})
			}
			_ = g.Wait()

			if ctx.Err() != nil {
				out <- Event{Kind: EventEnd, Cancelled: true}
				return
			}

			// Append results in issuance order regardless of completion
			// order, per §9's determinism requirement.
			for _, r := range results {
				sess.Append(session.Message{Role: session.RoleTool, Content: r.Result, ToolCallID: r.ID})
				out <- Event{Kind: EventToolResult, Tool: r}
			}

			_ = finish // consumed implicitly: presence of queued tool calls drives iteration
		}

		// Round budget exhausted.
		terminal := maxReasoningRoundsMessage
		sess.Append(session.Message{Role: session.RoleAssistant, Content: terminal})
		out <- Event{Kind: EventText, TextDelta: terminal}
		out <- Event{Kind: EventEnd, FinalText: terminal, Tokens: totalTokens}
	}()

	return out
}

func toLLMTools(specs []tools.Spec) []llmclient.ToolSpec {
	out := make([]llmclient.ToolSpec, len(specs))
	for i, s := range specs {
		out[i] = llmclient.ToolSpec{Name: s.Name, Description: s.Description, Parameters: s.Schema}
	}
	return out
}
