// Package metrics implements the Metrics component (C9): per-turn timing
// counters, surfaced both to Prometheus (promauto, as the teacher does) and
// to the client as a `metrics` message (§6) via Snapshot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceagent_sessions_active",
		Help: "Currently connected client sessions",
	})

	TurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceagent_turns_total",
		Help: "Total turns committed",
	})

	TurnsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceagent_turns_cancelled_total",
		Help: "Total turns cancelled by barge-in or interrupt",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voiceagent_stage_duration_seconds",
		Help:    "Per-stage latency (listening, thinking, speaking)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	E2ELatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceagent_e2e_latency_seconds",
		Help:    "End-to-end latency from turn commit to first TTS audio",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	LLMFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceagent_llm_first_token_seconds",
		Help:    "Latency to first LLM token",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
	})

	TTSFirstAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceagent_tts_first_audio_seconds",
		Help:    "Latency to first TTS audio chunk",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
	})

	ToolCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceagent_tool_calls_total",
		Help: "Total tool invocations",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_errors_total",
		Help: "Error counts by component and error type",
	}, []string{"component", "error_type"})
)

// Turn is the per-turn timing accumulator that backs the client-facing
// `metrics` message (§6).
type Turn struct {
	ListeningStart time.Time
	ListeningEnd   time.Time
	ThinkingStart  time.Time
	FirstLLMToken  time.Time
	SpeakingStart  time.Time
	FirstTTSAudio  time.Time
	SpeakingEnd    time.Time

	LLMTokens     int
	ToolCallCount int
	TTSChunks     int
}

// Snapshot is the JSON-serializable shape of the `metrics` client message.
type Snapshot struct {
	ListeningDurationMs int64   `json:"listening_duration_ms"`
	ThinkingMs          int64   `json:"thinking_ms"`
	SpeakingMs          int64   `json:"speaking_ms"`
	LLMFirstTokenMs     int64   `json:"llm_first_token_ms"`
	TTSFirstAudioMs     int64   `json:"tts_first_audio_ms"`
	E2ELatencyMs        int64   `json:"e2e_latency_ms"`
	TTSAudioChunks      int     `json:"tts_audio_chunks"`
	TTSEstDurationMs    int64   `json:"tts_est_duration_ms"`
	LLMTokens           int     `json:"llm_tokens"`
	LLMTokPerSec        float64 `json:"llm_tok_per_sec"`
	ToolCalls           int     `json:"tool_calls"`
}

// Finish computes the client-facing snapshot and records the Prometheus
// observations, called once on clean turn commit.
func (t *Turn) Finish() Snapshot {
	listening := t.ListeningEnd.Sub(t.ListeningStart)
	thinking := t.SpeakingStart.Sub(t.ThinkingStart)
	speaking := t.SpeakingEnd.Sub(t.SpeakingStart)
	firstTok := t.FirstLLMToken.Sub(t.ThinkingStart)
	firstAudio := t.FirstTTSAudio.Sub(t.ThinkingStart)
	e2e := t.FirstTTSAudio.Sub(t.ListeningEnd)

	StageDuration.WithLabelValues("listening").Observe(listening.Seconds())
	StageDuration.WithLabelValues("thinking").Observe(thinking.Seconds())
	StageDuration.WithLabelValues("speaking").Observe(speaking.Seconds())
	if firstTok > 0 {
		LLMFirstToken.Observe(firstTok.Seconds())
	}
	if firstAudio > 0 {
		TTSFirstAudio.Observe(firstAudio.Seconds())
		E2ELatency.Observe(e2e.Seconds())
	}
	TurnsTotal.Inc()

	tokPerSec := 0.0
	if speaking.Seconds() > 0 {
		tokPerSec = float64(t.LLMTokens) / speaking.Seconds()
	}

	// TTSEstDurationMs is the observed speaking wall-clock time; no PCM
	// byte count is tracked, so it is not derived from the audio length.
	return Snapshot{
		ListeningDurationMs: listening.Milliseconds(),
		ThinkingMs:          thinking.Milliseconds(),
		SpeakingMs:          speaking.Milliseconds(),
		LLMFirstTokenMs:     firstTok.Milliseconds(),
		TTSFirstAudioMs:     firstAudio.Milliseconds(),
		E2ELatencyMs:        e2e.Milliseconds(),
		TTSAudioChunks:      t.TTSChunks,
		TTSEstDurationMs:    speaking.Milliseconds(),
		LLMTokens:           t.LLMTokens,
		LLMTokPerSec:        tokPerSec,
		ToolCalls:           t.ToolCallCount,
	}
}
