package llmclient

import (
	"context"

	"github.com/voxgateway/agent/internal/session"
)

// Fake is a scriptable Adapter for agent-loop and orchestrator tests. Each
// call to Stream pops the next scripted response (by round, 1-indexed
// implicitly by call order).
type Fake struct {
	Responses [][]Event
	calls     int
}

// Stream returns the next scripted event slice as a channel, ignoring
// history/tools. Panics (via index out of range) if over-called, which
// surfaces a test authoring bug immediately.
func (f *Fake) Stream(ctx context.Context, history []session.Message, tools []ToolSpec) (<-chan Event, error) {
	resp := f.Responses[f.calls]
	f.calls++
	out := make(chan Event, len(resp))
	for _, e := range resp {
		out <- e
	}
	close(out)
	return out, nil
}

var _ Adapter = (*Fake)(nil)
