// Package ttsclient implements the TTS Adapter (C3): consumes a lazy text
// stream and produces a lazy 24kHz mono PCM stream, with a cancel() that
// must stop audio within ~50ms and never leak the synchronous provider SDK's
// worker goroutines.
package ttsclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Adapter is the contract every TTS backend (real or fake) satisfies.
type Adapter interface {
	// Synthesize consumes text fragments from textIn (closed by the caller
	// to signal end-of-text) and returns a PCMStream of audio chunks.
	Synthesize(ctx context.Context, textIn <-chan string) (PCMStream, error)
}

// PCMStream is a single synthesis session's output.
type PCMStream interface {
	PCM() <-chan []byte
	Cancel()
}

// Stream is a single synthesis session's output. It wraps the synchronous
// provider SDK in an isolated worker pair (sender/receiver) coordinated by a
// shared cancellation flag, per the sync-SDK bridging design: cancellation
// closes the upstream connection so recvLoop's blocked read unblocks with an
// error and neither goroutine blocks forever. recvLoop is pcm's sole closer
// (guarded by pcmOnce) so Cancel never races a send against that close.
type Stream struct {
	pcm       chan []byte // internal queue; closed exactly once, by recvLoop
	out       chan []byte // public-facing channel, closed once on cancel/EOS
	cancelled atomic.Bool
	wg        sync.WaitGroup
	conn      *websocket.Conn
	closeOnce sync.Once // guards closing conn
	pcmOnce   sync.Once // guards closing pcm
}

// PCM returns the channel of synthesized audio chunks. Closed when
// synthesis completes or Cancel returns.
func (s *Stream) PCM() <-chan []byte { return s.out }

// Cancel stops synthesis: no further chunks are forwarded and the upstream
// connection is closed, which ends recvLoop. It waits at most ~50ms for the
// workers; sendLoop exits once ctx is cancelled or textIn is closed.
// Idempotent: calls after the first return immediately.
func (s *Stream) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.closeOnce.Do(func() {
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *Stream) closePCM() {
	s.pcmOnce.Do(func() { close(s.pcm) })
}

func (s *Stream) forward() {
	defer close(s.out)
	for chunk := range s.pcm {
		if s.cancelled.Load() {
			return
		}
		s.out <- chunk
	}
}

// Client streams text to a websocket-based TTS provider (e.g. an
// ElevenLabs/Piper-style streaming synthesis endpoint) and emits PCM chunks
// as they arrive, starting upload as soon as the first text fragment is
// available rather than waiting for end-of-stream, per the first-audio
// latency requirement.
type Client struct {
	url   string
	voice string
}

// New returns a Client targeting a streaming TTS websocket endpoint.
func New(url, voice string) *Client {
	return &Client{url: url, voice: voice}
}

type ttsTextFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize implements Adapter.
func (c *Client) Synthesize(ctx context.Context, textIn <-chan string) (PCMStream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ttsclient: dial: %w", err)
	}

	s := &Stream{
		pcm:  make(chan []byte, 32),
		out:  make(chan []byte, 32),
		conn: conn,
	}

	s.wg.Add(2)
	go s.sendLoop(ctx, textIn)
	go s.recvLoop()
	go s.forward()

	return s, nil
}

func (s *Stream) sendLoop(ctx context.Context, textIn <-chan string) {
	defer s.wg.Done()
	for {
		if s.cancelled.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case text, ok := <-textIn:
			if !ok {
				_ = s.conn.WriteJSON(map[string]string{"type": "flush"})
				return
			}
			if err := s.conn.WriteJSON(map[string]string{"type": "text", "text": text}); err != nil {
				return
			}
		}
	}
}

func (s *Stream) recvLoop() {
	defer s.wg.Done()
	defer s.closePCM()
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			// Cancel's conn.Close() unblocks this read, so a cancelled
			// session also exits here — closePCM above is the only
			// place pcm closes, whichever path returns.
			return
		}
		if kind == websocket.BinaryMessage {
			select {
			case s.pcm <- data:
			default:
				// queue full under cancellation race; drop rather than block past 50ms budget
			}
			continue
		}
		// a text control frame ("end") signals clean completion
		return
	}
}

var _ Adapter = (*Client)(nil)
