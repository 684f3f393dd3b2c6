package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/voxgateway/agent/internal/asr"
	"github.com/voxgateway/agent/internal/identity"
	"github.com/voxgateway/agent/internal/llmclient"
	"github.com/voxgateway/agent/internal/tools"
	"github.com/voxgateway/agent/internal/transport"
	"github.com/voxgateway/agent/internal/ttsclient"
)

// harness wires one orchestrator.Session over a real websocket loopback
// (httptest server + gorilla client dialer), so the state machine, ASR fake,
// LLM fake, and TTS fake are exercised exactly as the gateway would drive
// them in production.
type harness struct {
	t       *testing.T
	srv     *httptest.Server
	client  *websocket.Conn
	fakeASR *asr.Fake
	done    chan struct{}
}

func newHarness(t *testing.T, llm llmclient.Adapter) *harness {
	t.Helper()
	h := &harness{t: t, fakeASR: asr.NewFake(), done: make(chan struct{})}

	ident, err := identity.Open(t.TempDir())
	require.NoError(t, err)

	registry := tools.NewRegistry(2 * time.Second)
	registry.Register(&tools.ArithmeticTool{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Upgrade(w, r)
		require.NoError(t, err)
		sess := New(Deps{
			ASR:                   h.fakeASR,
			LLM:                   llm,
			TTS:                   &ttsclient.Fake{ChunkBytes: 4},
			Tools:                 registry,
			Identity:              ident,
			Conn:                  conn,
			MaxRounds:             5,
			OperatingInstructions: "be helpful",
		})
		// r.Context() is cancelled when ServeHTTP returns, which happens
		// right after this handler hands off to the goroutine below —
		// the connection's lifetime must outlive that, so it gets its
		// own background context instead.
		go func() {
			sess.Run(context.Background())
			close(h.done)
		}()
	})

	h.srv = httptest.NewServer(mux)

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	h.client = c
	return h
}

func (h *harness) close() {
	h.client.Close()
	h.srv.Close()
}

func (h *harness) send(v any) {
	require.NoError(h.t, h.client.WriteJSON(v))
}

// readUntil reads JSON text frames until one decodes with the given "type"
// field, failing the test if none arrives within the timeout. Binary (PCM)
// frames are skipped.
func (h *harness) readUntil(wantType string, timeout time.Duration) map[string]any {
	h.t.Helper()
	h.client.SetReadDeadline(time.Now().Add(timeout))
	for {
		kind, data, err := h.client.ReadMessage()
		require.NoError(h.t, err)
		if kind != websocket.TextMessage {
			continue
		}
		var m map[string]any
		require.NoError(h.t, json.Unmarshal(data, &m))
		if m["type"] == wantType {
			return m
		}
	}
}

func TestOrchestrator_HelloWorldTurn(t *testing.T) {
	llm := &llmclient.Fake{Responses: [][]llmclient.Event{
		{
			{Kind: llmclient.EventText, TextDelta: "Hello there."},
			{Kind: llmclient.EventEnd, FinishReason: llmclient.FinishStop},
		},
	}}
	h := newHarness(t, llm)
	defer h.close()

	_ = h.readUntil("session_info", time.Second)

	h.send(map[string]string{"type": "start_session"})
	_ = h.readUntil("state", time.Second) // listening

	h.fakeASR.EmitEndpoint("hi there")

	committed := h.readUntil("turn", time.Second)
	require.Equal(t, "user_committed", committed["event"])

	llmMsg := h.readUntil("llm", time.Second)
	require.Equal(t, "Hello there.", llmMsg["text"])

	finished := h.readUntil("turn", time.Second)
	require.Equal(t, "finished", finished["event"])

	_ = h.readUntil("metrics", time.Second)
}

func TestOrchestrator_ToolCallThenAnswer(t *testing.T) {
	llm := &llmclient.Fake{Responses: [][]llmclient.Event{
		{
			{Kind: llmclient.EventToolCall, ToolCall: llmclient.ToolCallEvent{
				ID: "call_1", Name: "arithmetic",
				Arguments: map[string]any{"a": 2.0, "b": 3.0, "op": "+"},
			}},
			{Kind: llmclient.EventEnd, FinishReason: llmclient.FinishToolCalls},
		},
		{
			{Kind: llmclient.EventText, TextDelta: "The answer is 5."},
			{Kind: llmclient.EventEnd, FinishReason: llmclient.FinishStop},
		},
	}}
	h := newHarness(t, llm)
	defer h.close()

	_ = h.readUntil("session_info", time.Second)
	h.send(map[string]string{"type": "start_session"})
	_ = h.readUntil("state", time.Second)

	h.fakeASR.EmitEndpoint("what is 2 plus 3")

	_ = h.readUntil("turn", time.Second) // user_committed

	toolStart := h.readUntil("tool", time.Second)
	require.Equal(t, "start", toolStart["event"])
	require.Equal(t, "arithmetic", toolStart["name"])

	toolResult := h.readUntil("tool", time.Second)
	require.Equal(t, "result", toolResult["event"])
	require.Equal(t, "5", toolResult["content"])

	llmMsg := h.readUntil("llm", time.Second)
	require.Equal(t, "The answer is 5.", llmMsg["text"])

	finished := h.readUntil("turn", time.Second)
	require.Equal(t, "finished", finished["event"])
}

func TestOrchestrator_Interrupt(t *testing.T) {
	llm := &llmclient.Fake{Responses: [][]llmclient.Event{
		{
			{Kind: llmclient.EventText, TextDelta: "This is a long answer that keeps going."},
			{Kind: llmclient.EventEnd, FinishReason: llmclient.FinishStop},
		},
	}}
	h := newHarness(t, llm)
	defer h.close()

	_ = h.readUntil("session_info", time.Second)
	h.send(map[string]string{"type": "start_session"})
	_ = h.readUntil("state", time.Second)

	h.fakeASR.EmitEndpoint("tell me a story")
	_ = h.readUntil("turn", time.Second) // user_committed
	_ = h.readUntil("llm", time.Second)  // first delta, enters speaking

	h.send(map[string]string{"type": "interrupt"})

	finished := h.readUntil("turn", time.Second)
	require.Equal(t, "finished", finished["event"])

	state := h.readUntil("state", time.Second)
	require.Equal(t, "listening", state["state"])
}

func TestOrchestrator_SkillToggle(t *testing.T) {
	llm := &llmclient.Fake{}
	h := newHarness(t, llm)
	defer h.close()

	_ = h.readUntil("session_info", time.Second)

	h.send(map[string]string{"type": "activate_skill", "name": "weather"})
	activated := h.readUntil("skill", time.Second)
	require.Equal(t, "activated", activated["event"])
	require.Contains(t, activated["skills"], "weather")
}
