package ttsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// newTTSTestServer starts a websocket server that mimics a streaming TTS
// backend: it echoes one binary audio chunk per "text" frame it receives and
// otherwise just blocks reading, so a client can exercise Cancel() against a
// recvLoop that is genuinely parked in ReadMessage.
func newTTSTestServer(t *testing.T) (wsURL string, cleanup func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame map[string]string
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame["type"] == "text" {
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte("audiochunk"))
			}
		}
	})
	srv := httptest.NewServer(mux)
	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/tts"
	return wsURL, srv.Close
}

func TestFake_EmitsOneChunkPerFragment(t *testing.T) {
	f := &Fake{ChunkBytes: 8}
	textIn := make(chan string, 4)
	stream, err := f.Synthesize(context.Background(), textIn)
	require.NoError(t, err)

	textIn <- "hello"
	textIn <- "world"
	close(textIn)

	got := 0
	timeout := time.After(time.Second)
	for got < 2 {
		select {
		case chunk, ok := <-stream.PCM():
			if !ok {
				t.Fatalf("stream closed after only %d chunks", got)
			}
			require.NotEmpty(t, chunk)
			got++
		case <-timeout:
			t.Fatal("timed out waiting for chunks")
		}
	}

	_, ok := <-stream.PCM()
	require.False(t, ok, "stream closes once textIn is drained and closed")
}

func TestFake_CancelStopsFurtherChunks(t *testing.T) {
	f := &Fake{ChunkBytes: 8}
	textIn := make(chan string)
	stream, err := f.Synthesize(context.Background(), textIn)
	require.NoError(t, err)

	stream.Cancel()

	select {
	case textIn <- "should never be synthesized":
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case chunk, ok := <-stream.PCM():
		if ok {
			t.Fatalf("expected no chunks after cancel, got %v", chunk)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("stream did not close within a reasonable bound after cancel")
	}
}

func TestFake_CancelIsIdempotent(t *testing.T) {
	f := &Fake{}
	textIn := make(chan string)
	stream, err := f.Synthesize(context.Background(), textIn)
	require.NoError(t, err)

	stream.Cancel()
	require.NotPanics(t, func() { stream.Cancel() })
}

// TestClient_CancelDuringBlockedRecvDoesNotPanic exercises the real
// websocket-backed Stream's barge-in cancel path: recvLoop is parked in
// ReadMessage when Cancel closes the connection to unblock it. Previously
// Cancel also sent a sentinel on the internal pcm channel, racing recvLoop's
// own close(pcm) on the read-error path and panicking on a send to a closed
// channel whenever the close won the race.
func TestClient_CancelDuringBlockedRecvDoesNotPanic(t *testing.T) {
	wsURL, cleanup := newTTSTestServer(t)
	defer cleanup()

	c := New(wsURL, "default")
	textIn := make(chan string)

	for i := 0; i < 20; i++ {
		stream, err := c.Synthesize(context.Background(), textIn)
		require.NoError(t, err)

		// give recvLoop a moment to reach its blocking ReadMessage call
		time.Sleep(2 * time.Millisecond)

		require.NotPanics(t, func() { stream.Cancel() })

		select {
		case _, ok := <-stream.PCM():
			require.False(t, ok, "pcm channel should be closed, not yielding chunks, after cancel")
		case <-time.After(200 * time.Millisecond):
			t.Fatal("pcm channel never closed after cancel")
		}
	}
}

// TestClient_ConcurrentCancelIsSafe calls Cancel from multiple goroutines at
// once, matching the barge-in path where a rapid re-trigger could invoke
// cancelTurn twice in close succession.
func TestClient_ConcurrentCancelIsSafe(t *testing.T) {
	wsURL, cleanup := newTTSTestServer(t)
	defer cleanup()

	c := New(wsURL, "default")
	textIn := make(chan string)
	stream, err := c.Synthesize(context.Background(), textIn)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NotPanics(t, func() { stream.Cancel() })
		}()
	}
	wg.Wait()
}

// TestClient_AudioThenCancelDrainsCleanly exercises the path where a chunk
// is already in flight when cancellation lands.
func TestClient_AudioThenCancelDrainsCleanly(t *testing.T) {
	wsURL, cleanup := newTTSTestServer(t)
	defer cleanup()

	c := New(wsURL, "default")
	textIn := make(chan string, 1)
	stream, err := c.Synthesize(context.Background(), textIn)
	require.NoError(t, err)

	textIn <- "hello"

	select {
	case chunk, ok := <-stream.PCM():
		require.True(t, ok)
		require.NotEmpty(t, chunk)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first chunk")
	}

	require.NotPanics(t, func() { stream.Cancel() })
}
