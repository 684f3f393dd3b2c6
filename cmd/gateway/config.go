package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/voxgateway/agent/internal/env"
)

// tuning holds knobs loaded from gateway.json. These are values that may
// eventually move to a database; for now a JSON file keeps them out of env
// vars.
type tuning struct {
	OperatingInstructions string `json:"operating_instructions"`
	MaxReasoningRounds    int    `json:"max_reasoning_rounds"`
	ToolTimeoutSeconds    int    `json:"tool_timeout_seconds"`
	OpenAIModel           string `json:"openai_model"`
	AnthropicModel        string `json:"anthropic_model"`
}

func defaultTuning() tuning {
	return tuning{
		OperatingInstructions: "Respond conversationally and concisely, as in natural speech. " +
			"Use tools when they would answer the user more accurately than your own knowledge.",
		MaxReasoningRounds: 5,
		ToolTimeoutSeconds: 30,
		OpenAIModel:        "gpt-4.1-nano",
		AnthropicModel:     "claude-sonnet-4-5",
	}
}

func loadTuning(path string) tuning {
	t := defaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no config file, using defaults", "path", path)
		return t
	}
	if err := json.Unmarshal(data, &t); err != nil {
		slog.Warn("bad config file, using defaults", "path", path, "error", err)
		return defaultTuning()
	}
	slog.Info("loaded config", "path", path)
	return t
}

// gatewayConfig collects every deployment env var read at startup.
type gatewayConfig struct {
	Port string

	ASRURL      string
	ASRLanguage string

	OpenAIBaseURL   string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	LLMBackend      string // "openai" | "anthropic" | "fake"

	TTSURL   string
	TTSVoice string

	IdentityRoot string
	SkillsRoot   string

	MCPServerURL  string
	WebSearchURL  string
	SandboxPython string
	FileReadRoot  string // empty disables the read_file tool

	PostgresURL string // empty disables turn/span tracing
}

func loadGatewayConfig() gatewayConfig {
	return gatewayConfig{
		Port: env.Str("GATEWAY_PORT", "8000"),

		ASRURL:      env.Str("ASR_WS_URL", ""),
		ASRLanguage: env.Str("ASR_LANGUAGE", "en"),

		OpenAIBaseURL:   env.Str("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:    env.Str("OPENAI_API_KEY", ""),
		AnthropicAPIKey: env.Str("ANTHROPIC_API_KEY", ""),
		LLMBackend:      env.Str("LLM_BACKEND", "fake"),

		TTSURL:   env.Str("TTS_WS_URL", ""),
		TTSVoice: env.Str("TTS_VOICE", "default"),

		IdentityRoot: env.Str("IDENTITY_ROOT", "./identity"),
		SkillsRoot:   env.Str("SKILLS_ROOT", "./skills"),

		MCPServerURL:  env.Str("MCP_SERVER_URL", ""),
		WebSearchURL:  env.Str("WEB_SEARCH_URL", ""),
		SandboxPython: env.Str("SANDBOX_PYTHON", "python3"),
		FileReadRoot:  env.Str("FILE_READ_ROOT", ""),

		PostgresURL: env.Str("POSTGRES_URL", ""),
	}
}

func toolTimeout(t tuning) time.Duration {
	return time.Duration(t.ToolTimeoutSeconds) * time.Second
}
