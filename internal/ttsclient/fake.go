package ttsclient

import (
	"context"
	"sync/atomic"
)

// Fake is an in-memory Adapter for orchestrator tests. It echoes one PCM
// chunk per text fragment received (ChunkBytes*len(text) bytes of zero,
// standing in for synthesized audio) and respects Cancel via FakeStream.
type Fake struct {
	ChunkBytes int // bytes emitted per character of a text fragment, default 64 if zero
}

// FakeStream is the Fake adapter's Stream-compatible handle.
type FakeStream struct {
	out       chan []byte
	cancelled atomic.Bool
	done      chan struct{}
}

func (s *FakeStream) PCM() <-chan []byte { return s.out }

func (s *FakeStream) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		close(s.done)
	}
}

// Synthesize implements Adapter.
func (f *Fake) Synthesize(ctx context.Context, textIn <-chan string) (PCMStream, error) {
	n := f.ChunkBytes
	if n == 0 {
		n = 64
	}
	s := &FakeStream{out: make(chan []byte, 32), done: make(chan struct{})}
	go func() {
		defer close(s.out)
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case text, ok := <-textIn:
				if !ok {
					return
				}
				if s.cancelled.Load() {
					return
				}
				chunk := make([]byte, n*len(text))
				select {
				case s.out <- chunk:
				case <-s.done:
					return
				}
			}
		}
	}()
	return s, nil
}

var (
	_ Adapter   = (*Fake)(nil)
	_ PCMStream = (*FakeStream)(nil)
)
