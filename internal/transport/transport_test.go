package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newLoopback(t *testing.T) (*Conn, *websocket.Conn, func()) {
	t.Helper()
	connCh := make(chan *Conn, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		require.NoError(t, err)
		connCh <- c
	})
	srv := httptest.NewServer(mux)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	server := <-connCh
	return server, client, func() {
		client.Close()
		server.Close()
		srv.Close()
	}
}

func TestConn_JSONRoundTrip(t *testing.T) {
	server, client, cleanup := newLoopback(t)
	defer cleanup()

	require.NoError(t, client.WriteJSON(map[string]string{"type": "start_session"}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	frame := <-server.Frames()
	require.Equal(t, FrameJSON, frame.Kind)
	require.Contains(t, string(frame.JSON), "start_session")
}

func TestConn_BinaryRoundTrip(t *testing.T) {
	server, client, cleanup := newLoopback(t)
	defer cleanup()

	payload := []byte{1, 2, 3, 4}
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, payload))

	frame := <-server.Frames()
	require.Equal(t, FrameBinary, frame.Kind)
	require.Equal(t, payload, frame.Binary)
}

func TestConn_WriteBinaryReachesClient(t *testing.T) {
	server, client, cleanup := newLoopback(t)
	defer cleanup()

	require.NoError(t, server.WriteBinary([]byte{9, 9, 9}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	kind, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.Equal(t, []byte{9, 9, 9}, data)
}

func TestConn_CloseProducesClosedFrame(t *testing.T) {
	server, client, cleanup := newLoopback(t)
	defer cleanup()

	client.Close()

	frame := <-server.Frames()
	require.Equal(t, FrameClosed, frame.Kind)

	_, ok := <-server.Frames()
	require.False(t, ok, "frames channel closes after exactly one FrameClosed")
}
