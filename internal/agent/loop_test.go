package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxgateway/agent/internal/llmclient"
	"github.com/voxgateway/agent/internal/session"
	"github.com/voxgateway/agent/internal/tools"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestLoop_NoToolsSingleRound(t *testing.T) {
	fake := &llmclient.Fake{Responses: [][]llmclient.Event{
		{
			{Kind: llmclient.EventText, TextDelta: "Hi "},
			{Kind: llmclient.EventText, TextDelta: "there."},
			{Kind: llmclient.EventEnd, FinishReason: llmclient.FinishStop},
		},
	}}
	sess := session.New("s1")
	sess.Append(session.Message{Role: session.RoleUser, Content: "hello"})

	loop := &Loop{LLM: fake, Tools: tools.NewRegistry(time.Second)}
	events := drain(loop.Run(context.Background(), sess))

	require.Equal(t, EventText, events[0].Kind)
	require.Equal(t, EventEnd, events[len(events)-1].Kind)
	require.Equal(t, "Hi there.", events[len(events)-1].FinalText)

	hist := sess.HistorySnapshot()
	require.Equal(t, session.RoleAssistant, hist[len(hist)-1].Role)
	require.Equal(t, "Hi there.", hist[len(hist)-1].Content)
}

func TestLoop_ToolCallThenAnswer(t *testing.T) {
	fake := &llmclient.Fake{Responses: [][]llmclient.Event{
		{
			{Kind: llmclient.EventToolCall, ToolCall: llmclient.ToolCallEvent{ID: "call_1", Name: "get_datetime", Arguments: map[string]any{}}},
			{Kind: llmclient.EventEnd, FinishReason: llmclient.FinishToolCalls},
		},
		{
			{Kind: llmclient.EventText, TextDelta: "It is now."},
			{Kind: llmclient.EventEnd, FinishReason: llmclient.FinishStop},
		},
	}}
	sess := session.New("s1")
	sess.Append(session.Message{Role: session.RoleUser, Content: "what time is it?"})

	reg := tools.NewRegistry(time.Second)
	reg.Register(&tools.DatetimeTool{})
	loop := &Loop{LLM: fake, Tools: reg}

	events := drain(loop.Run(context.Background(), sess))

	var sawStart, sawResult bool
	for _, e := range events {
		if e.Kind == EventToolStart && e.Tool.Name == "get_datetime" {
			sawStart = true
		}
		if e.Kind == EventToolResult && e.Tool.Name == "get_datetime" {
			sawResult = true
			require.False(t, e.Tool.IsError)
		}
	}
	require.True(t, sawStart)
	require.True(t, sawResult)

	hist := sess.HistorySnapshot()
	// assistant(tool_calls) -> tool(result) -> assistant(final text)
	require.Equal(t, session.RoleAssistant, hist[len(hist)-3].Role)
	require.Len(t, hist[len(hist)-3].ToolCalls, 1)
	require.Equal(t, session.RoleTool, hist[len(hist)-2].Role)
	require.Equal(t, "call_1", hist[len(hist)-2].ToolCallID)
	require.Equal(t, session.RoleAssistant, hist[len(hist)-1].Role)
	require.Equal(t, "It is now.", hist[len(hist)-1].Content)
}

func TestLoop_RoundExhaustion(t *testing.T) {
	loopingCall := llmclient.Event{Kind: llmclient.EventToolCall, ToolCall: llmclient.ToolCallEvent{ID: "call_x", Name: "get_datetime", Arguments: map[string]any{}}}
	end := llmclient.Event{Kind: llmclient.EventEnd, FinishReason: llmclient.FinishToolCalls}
	fake := &llmclient.Fake{Responses: [][]llmclient.Event{
		{loopingCall, end}, {loopingCall, end}, {loopingCall, end}, {loopingCall, end}, {loopingCall, end},
	}}
	sess := session.New("s1")
	sess.Append(session.Message{Role: session.RoleUser, Content: "loop forever"})

	reg := tools.NewRegistry(time.Second)
	reg.Register(&tools.DatetimeTool{})
	loop := &Loop{LLM: fake, Tools: reg, MaxRounds: 5}

	events := drain(loop.Run(context.Background(), sess))
	last := events[len(events)-1]
	require.Equal(t, EventEnd, last.Kind)
	require.Equal(t, "(reached maximum reasoning rounds)", last.FinalText)

	hist := sess.HistorySnapshot()
	require.Equal(t, "(reached maximum reasoning rounds)", hist[len(hist)-1].Content)
}

func TestLoop_CancellationDiscardsPartialAssistantMessage(t *testing.T) {
	fake := &llmclient.Fake{Responses: [][]llmclient.Event{
		{{Kind: llmclient.EventText, TextDelta: "partial"}},
	}}
	sess := session.New("s1")
	sess.Append(session.Message{Role: session.RoleUser, Content: "hi"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := &Loop{LLM: fake, Tools: tools.NewRegistry(time.Second)}
	events := drain(loop.Run(ctx, sess))

	require.Equal(t, EventEnd, events[len(events)-1].Kind)
	require.True(t, events[len(events)-1].Cancelled)

	hist := sess.HistorySnapshot()
	for _, m := range hist {
		require.NotEqual(t, session.RoleAssistant, m.Role)
	}
}
