package llmclient

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamOpenAISSE_TextAndToolCalls(t *testing.T) {
	sse := "" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"get_datetime\",\"arguments\":\"\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"tz\\\":\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"UTC\\\"}\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
		"data: [DONE]\n\n"

	out := make(chan Event, 16)
	streamOpenAISSE(bytes.NewBufferString(sse), out)
	close(out)

	var events []Event
	for e := range out {
		events = append(events, e)
	}

	require.Len(t, events, 4)
	require.Equal(t, EventText, events[0].Kind)
	require.Equal(t, "Hel", events[0].TextDelta)
	require.Equal(t, EventText, events[1].Kind)
	require.Equal(t, "lo", events[1].TextDelta)
	require.Equal(t, EventToolCall, events[2].Kind)
	require.Equal(t, "get_datetime", events[2].ToolCall.Name)
	require.Equal(t, "call_1", events[2].ToolCall.ID)
	require.False(t, events[2].ToolCall.ArgumentsError)
	require.Equal(t, "UTC", events[2].ToolCall.Arguments["tz"])
	require.Equal(t, EventEnd, events[3].Kind)
	require.Equal(t, FinishToolCalls, events[3].FinishReason)
}

func TestStreamOpenAISSE_UsageOnFinalChunk(t *testing.T) {
	sse := "" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"completion_tokens\":7}}\n\n" +
		"data: [DONE]\n\n"

	out := make(chan Event, 16)
	streamOpenAISSE(bytes.NewBufferString(sse), out)
	close(out)

	var last Event
	for e := range out {
		last = e
	}
	require.Equal(t, EventEnd, last.Kind)
	require.Equal(t, 7, last.Usage)
}

func TestStreamOpenAISSE_ArgumentsError(t *testing.T) {
	sse := "" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_2\",\"function\":{\"name\":\"broken\",\"arguments\":\"{not json\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
		"data: [DONE]\n\n"

	out := make(chan Event, 16)
	streamOpenAISSE(bytes.NewBufferString(sse), out)
	close(out)

	var last Event
	var toolEvent Event
	for e := range out {
		if e.Kind == EventToolCall {
			toolEvent = e
		}
		last = e
	}
	require.True(t, toolEvent.ToolCall.ArgumentsError)
	require.Equal(t, EventEnd, last.Kind)
}
