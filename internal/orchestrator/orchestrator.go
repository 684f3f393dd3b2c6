// Package orchestrator implements the Session Orchestrator (C8), the apex
// component: a single-owner five-state machine binding the transport, ASR,
// LLM, TTS, and tool-registry components together for one client
// connection's lifetime. Grounded on the teacher's sentence-boundary
// LLM-to-TTS pipelining (pipeline.streamLLMWithTTS/consumeSentences,
// internal/pipeline/pipeline.go) generalized from a fixed call-flow into an
// explicit state machine driven by a single select loop over four event
// sources.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxgateway/agent/internal/agent"
	"github.com/voxgateway/agent/internal/asr"
	"github.com/voxgateway/agent/internal/identity"
	"github.com/voxgateway/agent/internal/llmclient"
	"github.com/voxgateway/agent/internal/metrics"
	"github.com/voxgateway/agent/internal/session"
	"github.com/voxgateway/agent/internal/skills"
	"github.com/voxgateway/agent/internal/tools"
	"github.com/voxgateway/agent/internal/trace"
	"github.com/voxgateway/agent/internal/transport"
	"github.com/voxgateway/agent/internal/ttsclient"
)

// barge-in thresholds, per §4.9.
const (
	bargeInMinChars = 3
	bargeInMinApart = 1500 * time.Millisecond
)

// Deps are the adapters and configuration a Session is built from.
type Deps struct {
	ASR      asr.Adapter
	LLM      llmclient.Adapter
	TTS      ttsclient.Adapter
	Tools    *tools.Registry
	Identity *identity.Store
	Skills   *skills.Catalog
	Conn     *transport.Conn
	Tracer   *trace.Tracer // nil-safe; no-op when tracing is disabled

	// Sess, if set, is used as the session state this Session drives instead
	// of creating a fresh one. Callers that build a tool registry bound to a
	// *session.Session (skill activation tools) before the orchestrator
	// exists must construct it themselves and pass it here, so the tool's
	// mutations land on the same object the orchestrator reads from.
	Sess *session.Session

	MaxRounds int

	ASRModel string
	LLMModel string
	TTSVoice string

	OperatingInstructions string
}

// Session drives one client connection's state machine for its lifetime.
type Session struct {
	deps Deps
	sess *session.Session

	rootCtx    context.Context
	rootCancel context.CancelFunc

	turn          *session.Turn
	turnUserText  string
	turnFinalText strings.Builder
	turnRunID     string
	turnMetrics  *metrics.Turn
	agentEvents  <-chan agent.Event
	ttsStream    ttsclient.PCMStream
	ttsTextIn    chan string
	sentBuf      sentenceBuffer
	listenStart  time.Time

	lastBargeInText string
	lastBargeInAt   time.Time

	toolStarted map[string]time.Time
}

// New builds a session in state idle.
func New(deps Deps) *Session {
	sess := deps.Sess
	if sess == nil {
		sess = session.New(uuid.NewString())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		deps:       deps,
		sess:       sess,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Run drives the event loop until the connection closes or ctx is done.
func (o *Session) Run(ctx context.Context) error {
	defer o.rootCancel()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	o.sendSessionInfo()

	for {
		var ttsCh <-chan []byte
		if o.ttsStream != nil {
			ttsCh = o.ttsStream.PCM()
		}

		select {
		case <-ctx.Done():
			o.teardown()
			return ctx.Err()

		case frame, ok := <-o.deps.Conn.Frames():
			if !ok || frame.Kind == transport.FrameClosed {
				o.teardown()
				return nil
			}
			o.handleFrame(frame)

		case ev, ok := <-o.deps.ASR.Events():
			if ok {
				o.handleASREvent(ev)
			}

		case ev, ok := <-o.agentEvents:
			if ok {
				o.handleAgentEvent(ev)
			} else {
				o.agentEvents = nil
			}

		case chunk, ok := <-ttsCh:
			if !ok {
				o.handleTTSComplete()
			} else {
				o.forwardPCM(chunk)
			}
		}
	}
}

func (o *Session) teardown() {
	if o.turn != nil {
		if o.ttsStream != nil {
			o.ttsStream.Cancel()
		}
		o.turn.Cancel()
	}
	_ = o.deps.ASR.Close()
}

func (o *Session) setState(next session.State) {
	o.sess.SetState(next)
	o.send(transport.StateMessage{Type: "state", State: string(next)})
}

func (o *Session) send(v any) {
	if err := o.deps.Conn.WriteJSON(v); err != nil {
		slog.Warn("orchestrator: write failed", "error", err, "session_id", o.sess.ID)
	}
}

func (o *Session) sendSessionInfo() {
	var skillNames []string
	if o.deps.Skills != nil {
		for _, sk := range o.deps.Skills.List() {
			skillNames = append(skillNames, sk.Name)
		}
	}
	var toolNames []string
	for _, s := range o.deps.Tools.Describe() {
		toolNames = append(toolNames, s.Name)
	}
	o.send(transport.SessionInfoMessage{
		Type:            "session_info",
		ASRModel:        o.deps.ASRModel,
		LLMModel:        o.deps.LLMModel,
		TTSVoice:        o.deps.TTSVoice,
		ASRConfigured:   o.deps.ASR != nil,
		LLMConfigured:   o.deps.LLM != nil,
		TTSConfigured:   o.deps.TTS != nil,
		Tools:           toolNames,
		Skills:          skillNames,
		IdentitySummary: firstLine(o.deps.Identity.Persona()),
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ---- client control frames ----

func (o *Session) handleFrame(frame transport.Frame) {
	switch frame.Kind {
	case transport.FrameBinary:
		if o.sess.CurrentState() != session.StateIdle {
			_ = o.deps.ASR.Feed(frame.Binary)
		}
	case transport.FrameJSON:
		var msg transport.ClientMessage
		if err := json.Unmarshal(frame.JSON, &msg); err != nil {
			metrics.Errors.WithLabelValues("transport", "malformed_message").Inc()
			o.emitError("", fmt.Sprintf("malformed control message: %v", err))
			return
		}
		o.handleClientMessage(msg)
	}
}

func (o *Session) handleClientMessage(msg transport.ClientMessage) {
	switch msg.Type {
	case transport.ClientStartSession:
		if o.sess.CurrentState() == session.StateIdle {
			o.enterListening()
		}
	case transport.ClientStopSession:
		o.stopSession()
	case transport.ClientInterrupt:
		switch o.sess.CurrentState() {
		case session.StateThinking, session.StateExecuting, session.StateSpeaking:
			o.cancelTurn()
			o.enterListening()
		}
	case transport.ClientActivateSkill:
		o.sess.ActivateSkill(msg.Name)
		o.send(transport.SkillMessage{Type: "skill", Event: "activated", Name: msg.Name, Skills: o.sess.SkillList()})
	case transport.ClientDeactivateSkill:
		o.sess.DeactivateSkill(msg.Name)
		o.send(transport.SkillMessage{Type: "skill", Event: "deactivated", Name: msg.Name, Skills: o.sess.SkillList()})
	}
}

func (o *Session) enterListening() {
	o.listenStart = time.Now()
	o.setState(session.StateListening)
}

func (o *Session) stopSession() {
	if o.turn != nil {
		o.cancelTurn()
	}
	o.setState(session.StateIdle)
}

// ---- ASR events ----

func (o *Session) handleASREvent(ev asr.Event) {
	state := o.sess.CurrentState()
	switch ev.Kind {
	case asr.EventPartial:
		if state == session.StateListening {
			o.send(transport.ASRMessage{Type: "asr", Text: ev.Text, IsFinal: false})
		}
	case asr.EventFinal:
		if state == session.StateListening {
			o.send(transport.ASRMessage{Type: "asr", Text: ev.Text, IsFinal: true})
			return
		}
		if state == session.StateSpeaking || state == session.StateExecuting {
			o.maybeBargeIn(ev.Text)
		}
	case asr.EventEndpoint:
		if state == session.StateListening {
			o.commitUtterance(ev.Text)
		}
	case asr.EventError:
		o.send(transport.ConnectionStatusMessage{Type: "connection_status", Service: "asr", Status: "error", Detail: ev.Err.Error()})
		metrics.Errors.WithLabelValues("asr", "stream").Inc()
		if o.turn != nil {
			o.emitError(o.turn.ID, ev.Err.Error())
			o.cancelTurn()
			o.enterListening()
		}
	}
}

func (o *Session) maybeBargeIn(text string) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if len([]rune(normalized)) < bargeInMinChars {
		return
	}
	if normalized == o.lastBargeInText {
		return
	}
	now := time.Now()
	if !o.lastBargeInAt.IsZero() && now.Sub(o.lastBargeInAt) < bargeInMinApart {
		return
	}
	o.lastBargeInText = normalized
	o.lastBargeInAt = now

	o.cancelTurn()
	o.enterListening()
	// The triggering final belongs to the new listening period so the next
	// endpoint's commit text matches the finals seen since listening began.
	o.send(transport.ASRMessage{Type: "asr", Text: text, IsFinal: true})
}

// ---- turn lifecycle ----

func (o *Session) commitUtterance(text string) {
	if o.turn != nil {
		o.cancelTurn()
	}

	turnID := uuid.NewString()
	o.turn = session.NewTurn(o.rootCtx, turnID)
	o.turnUserText = text
	o.turnFinalText.Reset()
	o.turnRunID = o.deps.Tracer.StartRun()
	o.toolStarted = make(map[string]time.Time)
	o.turnMetrics = &metrics.Turn{ListeningStart: o.listenStart, ListeningEnd: time.Now(), ThinkingStart: time.Now()}

	o.sess.SetSystemMessage(o.buildSystemPrompt())
	o.sess.Append(session.Message{Role: session.RoleUser, Content: text})

	o.send(transport.TurnMessage{Type: "turn", Event: "user_committed", TurnID: turnID, Text: text})
	o.setState(session.StateThinking)

	loop := &agent.Loop{LLM: o.deps.LLM, Tools: o.deps.Tools, MaxRounds: o.deps.MaxRounds}
	o.agentEvents = loop.Run(o.turn.Context(), o.sess)
}

func (o *Session) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(o.deps.Identity.Persona())
	b.WriteString("\n\n")
	b.WriteString(o.deps.Identity.Profile())
	b.WriteString("\n\n")
	b.WriteString(o.deps.OperatingInstructions)
	if o.deps.Skills != nil {
		for _, name := range o.sess.SkillList() {
			if sk, ok := o.deps.Skills.Get(name); ok {
				b.WriteString("\n\n")
				b.WriteString(sk.Declaration)
			}
		}
	}
	b.WriteString("\n\nAvailable tools:\n")
	for _, spec := range o.deps.Tools.Describe() {
		b.WriteString(fmt.Sprintf("- %s: %s\n", spec.Name, spec.Description))
	}
	return b.String()
}

func (o *Session) handleAgentEvent(ev agent.Event) {
	if o.turn == nil {
		return
	}
	switch ev.Kind {
	case agent.EventText:
		if o.turnMetrics.FirstLLMToken.IsZero() {
			o.turnMetrics.FirstLLMToken = time.Now()
		}
		if o.sess.CurrentState() != session.StateSpeaking {
			o.startSpeaking()
		}
		o.send(transport.LLMMessage{Type: "llm", TurnID: o.turn.ID, Text: ev.TextDelta, Done: false})
		o.turnFinalText.WriteString(ev.TextDelta)
		o.feedTTS(ev.TextDelta)

	case agent.EventToolStart:
		if o.sess.CurrentState() == session.StateThinking {
			o.setState(session.StateExecuting)
		}
		raw, _ := json.Marshal(ev.Tool.Arguments)
		var argsMap map[string]any
		_ = json.Unmarshal(raw, &argsMap)
		o.send(transport.ToolMessage{Type: "tool", Event: "start", TurnID: o.turn.ID, ToolCallID: ev.Tool.ID, Name: ev.Tool.Name, Arguments: argsMap})
		o.turnMetrics.ToolCallCount++
		o.toolStarted[ev.Tool.ID] = time.Now()
		metrics.ToolCallsTotal.Inc()

	case agent.EventToolResult:
		isErr := ev.Tool.IsError
		o.send(transport.ToolMessage{Type: "tool", Event: "result", TurnID: o.turn.ID, ToolCallID: ev.Tool.ID, Name: ev.Tool.Name, Content: ev.Tool.Result, IsError: &isErr})
		if isErr {
			metrics.Errors.WithLabelValues("tool", ev.Tool.Name).Inc()
		}
		if started, ok := o.toolStarted[ev.Tool.ID]; ok {
			status := "ok"
			if ev.Tool.IsError {
				status = "error"
			}
			argsJSON, _ := json.Marshal(ev.Tool.Arguments)
			o.deps.Tracer.RecordSpan(o.turnRunID, "tool:"+ev.Tool.Name, started, float64(time.Since(started).Milliseconds()), string(argsJSON), ev.Tool.Result, status, "")
			delete(o.toolStarted, ev.Tool.ID)
		}

	case agent.EventEnd:
		if ev.Cancelled {
			return
		}
		o.turnMetrics.LLMTokens = ev.Tokens
		if rest := o.sentBuf.Flush(); rest != "" {
			o.feedTTS(rest)
		}
		o.send(transport.LLMMessage{Type: "llm", TurnID: o.turn.ID, Text: "", Done: true})
		if o.ttsTextIn != nil {
			close(o.ttsTextIn)
		} else {
			// The round never produced any text, so startSpeaking was
			// never entered and nothing will close ttsStream.PCM() to
			// drive handleTTSComplete. Finish the turn directly instead
			// of leaving it stuck in thinking; set the speaking/token/audio
			// timestamps to now so Finish measures them to this moment
			// (speaking reads as zero) rather than from zero time.Time values.
			now := time.Now()
			o.turnMetrics.SpeakingStart = now
			o.turnMetrics.FirstLLMToken = now
			o.turnMetrics.FirstTTSAudio = now
			o.handleTTSComplete()
		}
	}
}

func (o *Session) startSpeaking() {
	o.setState(session.StateSpeaking)
	o.turnMetrics.SpeakingStart = time.Now()
	o.ttsTextIn = make(chan string, 16)
	stream, err := o.deps.TTS.Synthesize(o.turn.Context(), o.ttsTextIn)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "dial").Inc()
		o.emitError(o.turn.ID, fmt.Sprintf("tts: %v", err))
		o.cancelTurn()
		o.enterListening()
		return
	}
	o.ttsStream = stream
}

func (o *Session) feedTTS(delta string) {
	for _, sentence := range o.sentBuf.Add(delta) {
		if o.ttsTextIn != nil {
			o.ttsTextIn <- sentence
		}
	}
}

func (o *Session) forwardPCM(chunk []byte) {
	if o.turnMetrics.FirstTTSAudio.IsZero() {
		o.turnMetrics.FirstTTSAudio = time.Now()
	}
	o.turnMetrics.TTSChunks++
	if err := o.deps.Conn.WriteBinary(chunk); err != nil {
		slog.Warn("orchestrator: pcm write failed", "error", err)
	}
}

func (o *Session) handleTTSComplete() {
	if o.turn == nil {
		return
	}
	o.turnMetrics.SpeakingEnd = time.Now()

	summary := fmt.Sprintf("turn %s: user said %q", o.turn.ID, o.turnUserText)
	if err := o.deps.Identity.AppendMemory(summary); err != nil {
		slog.Warn("orchestrator: append memory failed", "error", err)
	}

	snapshot := o.turnMetrics.Finish()
	o.deps.Tracer.EndRun(o.turnRunID, float64(snapshot.E2ELatencyMs), o.turnUserText, o.turnFinalText.String(), "completed")
	o.send(transport.TurnMessage{Type: "turn", Event: "finished", TurnID: o.turn.ID})
	o.sendMetrics(snapshot)

	o.turn = nil
	o.turnUserText = ""
	o.turnFinalText.Reset()
	o.turnRunID = ""
	o.turnMetrics = nil
	o.agentEvents = nil
	o.ttsStream = nil
	o.ttsTextIn = nil
	o.enterListening()
}

func (o *Session) sendMetrics(s metrics.Snapshot) {
	payload := map[string]any{"type": "metrics"}
	raw, _ := json.Marshal(s)
	_ = json.Unmarshal(raw, &payload)
	o.send(payload)
}

// cancelTurn implements the barge-in cancellation order of §4.8: TTS first,
// then the agent-loop/LLM-stream context, then notify the client. It never
// transitions state itself — callers transition to listening afterward.
func (o *Session) cancelTurn() {
	if o.turn == nil {
		return
	}
	if o.ttsStream != nil {
		o.ttsStream.Cancel()
	}
	o.turn.Cancel()
	metrics.TurnsCancelled.Inc()

	var elapsedMs float64
	if o.turnMetrics != nil && !o.turnMetrics.ThinkingStart.IsZero() {
		elapsedMs = float64(time.Since(o.turnMetrics.ThinkingStart).Milliseconds())
	}
	o.deps.Tracer.EndRun(o.turnRunID, elapsedMs, o.turnUserText, o.turnFinalText.String(), "cancelled")

	o.send(transport.TurnMessage{Type: "turn", Event: "finished", TurnID: o.turn.ID})

	o.turn = nil
	o.turnUserText = ""
	o.turnFinalText.Reset()
	o.turnRunID = ""
	o.turnMetrics = nil
	o.agentEvents = nil
	o.ttsStream = nil
	o.ttsTextIn = nil
	o.sentBuf = sentenceBuffer{}
	o.toolStarted = nil
}

func (o *Session) emitError(turnID, message string) {
	o.send(transport.ErrorMessage{Type: "error", TurnID: turnID, Message: message})
}
