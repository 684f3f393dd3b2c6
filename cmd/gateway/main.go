package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxgateway/agent/internal/asr"
	"github.com/voxgateway/agent/internal/identity"
	"github.com/voxgateway/agent/internal/llmclient"
	"github.com/voxgateway/agent/internal/readiness"
	"github.com/voxgateway/agent/internal/skills"
	"github.com/voxgateway/agent/internal/trace"
	"github.com/voxgateway/agent/internal/ttsclient"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using process environment")
	}

	t := loadTuning("gateway.json")
	cfg := loadGatewayConfig()

	ident, err := identity.Open(cfg.IdentityRoot)
	if err != nil {
		slog.Error("identity store open failed", "error", err)
		os.Exit(1)
	}

	skillCt, err := skills.NewCatalog(cfg.SkillsRoot)
	if err != nil {
		slog.Warn("skills catalog open failed, continuing without skills", "error", err)
		skillCt = nil
	} else {
		defer skillCt.Close()
	}

	check := readiness.NewChecker(map[readiness.Backend]string{
		readiness.BackendASR: cfg.ASRURL,
		readiness.BackendLLM: "",
		readiness.BackendTTS: cfg.TTSURL,
	})

	var traceStore *trace.Store
	if cfg.PostgresURL != "" {
		traceStore, err = trace.Open(cfg.PostgresURL)
		if err != nil {
			slog.Warn("trace store open failed, continuing without tracing", "error", err)
			traceStore = nil
		} else {
			defer traceStore.Close()
		}
	}

	d := deps{
		cfg:        cfg,
		t:          t,
		ident:      ident,
		skillCt:    skillCt,
		check:      check,
		traceStore: traceStore,
		newASR: func(ctx context.Context) (asr.Adapter, error) {
			if cfg.ASRURL == "" {
				return asr.NewFake(), nil
			}
			return asr.New(ctx, cfg.ASRURL, cfg.ASRLanguage)
		},
		newLLM: func() llmclient.Adapter {
			switch cfg.LLMBackend {
			case "anthropic":
				return llmclient.NewAnthropicClient(cfg.AnthropicAPIKey, t.AnthropicModel)
			case "openai":
				return llmclient.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, t.OpenAIModel)
			default:
				slog.Warn("LLM_BACKEND unset or 'fake'; using scripted fake adapter, turns will fail once its script is exhausted")
				return &llmclient.Fake{}
			}
		},
		newTTS: func() ttsclient.Adapter {
			if cfg.TTSURL == "" {
				return &ttsclient.Fake{ChunkBytes: 3200}
			}
			return ttsclient.New(cfg.TTSURL, cfg.TTSVoice)
		},
	}

	mux := http.NewServeMux()
	registerRoutes(mux, d)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv)

	slog.Info("gateway starting", "addr", addr, "llm_backend", cfg.LLMBackend)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

func awaitShutdown(srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
