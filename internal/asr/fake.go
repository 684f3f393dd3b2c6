package asr

import "context"

// Fake is a scriptable in-memory Adapter for orchestrator tests. Feed is a
// no-op; tests drive behavior by calling Emit/EmitEndpoint directly.
type Fake struct {
	events chan Event
	closed bool
}

// NewFake returns a ready-to-use fake adapter.
func NewFake() *Fake {
	return &Fake{events: make(chan Event, 64)}
}

func (f *Fake) Feed(pcm []byte) error { return nil }

func (f *Fake) Events() <-chan Event { return f.events }

func (f *Fake) Reconnect(ctx context.Context) error { return nil }

func (f *Fake) Close() error {
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// EmitPartial pushes a partial transcript event.
func (f *Fake) EmitPartial(text string) { f.events <- Event{Kind: EventPartial, Text: text} }

// EmitFinal pushes a final transcript event.
func (f *Fake) EmitFinal(text string) { f.events <- Event{Kind: EventFinal, Text: text} }

// EmitEndpoint pushes an endpoint event carrying the committed utterance text.
func (f *Fake) EmitEndpoint(committedText string) {
	f.events <- Event{Kind: EventEndpoint, Text: committedText}
}

var _ Adapter = (*Fake)(nil)
