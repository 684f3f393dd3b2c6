package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxgateway/agent/internal/asr"
	"github.com/voxgateway/agent/internal/identity"
	"github.com/voxgateway/agent/internal/llmclient"
	"github.com/voxgateway/agent/internal/orchestrator"
	"github.com/voxgateway/agent/internal/readiness"
	"github.com/voxgateway/agent/internal/session"
	"github.com/voxgateway/agent/internal/skills"
	"github.com/voxgateway/agent/internal/tools"
	"github.com/voxgateway/agent/internal/trace"
	"github.com/voxgateway/agent/internal/transport"
	"github.com/voxgateway/agent/internal/ttsclient"
)

// deps collects everything the HTTP routes need to build a session.
type deps struct {
	cfg        gatewayConfig
	t          tuning
	ident      *identity.Store
	skillCt    *skills.Catalog
	check      *readiness.Checker
	traceStore *trace.Store // nil disables tracing

	newASR func(ctx context.Context) (asr.Adapter, error)
	newLLM func() llmclient.Adapter
	newTTS func() ttsclient.Adapter
}

func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("/ws", d.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", d.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("GET /sessions", d.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", d.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/runs/{runID}", d.handleGetRun)
}

// handleListSessions, handleGetSession, and handleGetRun expose the trace
// store's read side (turn/span history) for post-hoc debugging. They 503
// when tracing isn't configured rather than 404, since the routes exist
// regardless of POSTGRES_URL.
func (d deps) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if d.traceStore == nil {
		http.Error(w, "tracing not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	offset := 0
	sessions, total, err := d.traceStore.ListSessions(limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"sessions": sessions, "total": total})
}

func (d deps) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if d.traceStore == nil {
		http.Error(w, "tracing not configured", http.StatusServiceUnavailable)
		return
	}
	sess, runs, err := d.traceStore.GetSession(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"session": sess, "runs": runs})
}

func (d deps) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if d.traceStore == nil {
		http.Error(w, "tracing not configured", http.StatusServiceUnavailable)
		return
	}
	run, spans, err := d.traceStore.GetRun(r.PathValue("id"), r.PathValue("runID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"run": run, "spans": spans})
}

func (d deps) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	statuses := d.check.Probe(ctx)
	allHealthy := true
	for _, s := range statuses {
		if !s.Healthy {
			allHealthy = false
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if !allHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(statuses)
}

func (d deps) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		slog.Warn("gateway: upgrade failed", "error", err)
		return
	}

	ctx := r.Context()
	asrAdapter, err := d.newASR(ctx)
	if err != nil {
		slog.Error("gateway: asr dial failed", "error", err)
		conn.Close()
		return
	}

	sess := session.New(uuid.NewString())
	registry := d.buildToolRegistry(ctx, sess)

	var tracer *trace.Tracer
	if d.traceStore != nil {
		if err := d.traceStore.CreateSession(sess.ID, r.RemoteAddr); err != nil {
			slog.Warn("gateway: trace session create failed", "error", err)
		}
		tracer = trace.NewTracer(d.traceStore, sess.ID)
		defer tracer.Close()
		defer d.traceStore.EndSession(sess.ID)
	}

	orch := orchestrator.New(orchestrator.Deps{
		ASR:                   asrAdapter,
		LLM:                   d.newLLM(),
		TTS:                   d.newTTS(),
		Tools:                 registry,
		Identity:              d.ident,
		Skills:                d.skillCt,
		Conn:                  conn,
		Tracer:                tracer,
		Sess:                  sess,
		MaxRounds:             d.t.MaxReasoningRounds,
		ASRModel:              d.cfg.ASRLanguage,
		LLMModel:              d.llmModelName(),
		TTSVoice:              d.cfg.TTSVoice,
		OperatingInstructions: d.t.OperatingInstructions,
	})

	if err := orch.Run(ctx); err != nil {
		slog.Info("gateway: session ended", "error", err)
	}
}

func (d deps) llmModelName() string {
	switch d.cfg.LLMBackend {
	case "anthropic":
		return d.t.AnthropicModel
	case "openai":
		return d.t.OpenAIModel
	default:
		return "fake"
	}
}

// buildToolRegistry assembles a fresh registry per connection since some
// tools (skill activation) bind directly to that connection's session state.
func (d deps) buildToolRegistry(ctx context.Context, sess *session.Session) *tools.Registry {
	reg := tools.NewRegistry(toolTimeout(d.t))

	reg.Register(&tools.DatetimeTool{})
	reg.Register(&tools.ArithmeticTool{})
	reg.Register(&tools.UpdateUserProfileTool{Store: d.ident})
	reg.Register(&tools.SkillToggleTool{Activate: true, Sess: sess})
	reg.Register(&tools.SkillToggleTool{Activate: false, Sess: sess})
	reg.Register(&tools.PythonSandboxTool{Interpreter: d.cfg.SandboxPython, ToolTimeout: toolTimeout(d.t)})

	if d.cfg.WebSearchURL != "" {
		reg.Register(&tools.WebSearchTool{Endpoint: d.cfg.WebSearchURL})
	}

	if d.cfg.FileReadRoot != "" {
		reg.Register(&tools.FileReadTool{Root: d.cfg.FileReadRoot})
	}

	if d.cfg.MCPServerURL != "" {
		mcpTools, err := tools.ConnectSSE(ctx, d.cfg.MCPServerURL)
		if err != nil {
			slog.Warn("gateway: mcp server connect failed, continuing without its tools", "error", err)
		} else {
			for _, mt := range mcpTools {
				reg.Register(mt)
			}
		}
	}

	return reg
}
