// Package transport implements the Transport component (C1): one
// bidirectional websocket channel per client carrying JSON control messages
// and binary PCM frames, preserving order in both directions. Grounded on
// the teacher's ws/handler.go connection-pump structure, generalized from a
// call-center audio gateway to the client control-message shapes of §6.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FrameKind discriminates the frames read from the client: JSON text,
// binary PCM, and the final FrameClosed marker emitted when the read fails.
type FrameKind int

const (
	FrameJSON FrameKind = iota
	FrameBinary
	FrameClosed
)

// Frame is one inbound unit from the client.
type Frame struct {
	Kind   FrameKind
	JSON   json.RawMessage
	Binary []byte
	Err    error
}

// Conn wraps one upgraded websocket connection. Reads are pumped on a
// single goroutine into a channel; writes are serialized by writeMu since
// gorilla's Conn forbids concurrent writers.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	frames  chan Frame
}

// Upgrade promotes an HTTP request to a websocket connection and starts the
// read pump.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	c := &Conn{ws: ws, frames: make(chan Frame, 64)}
	go c.readPump()
	return c, nil
}

func (c *Conn) readPump() {
	defer close(c.frames)
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.frames <- Frame{Kind: FrameClosed, Err: err}
			return
		}
		switch kind {
		case websocket.TextMessage:
			c.frames <- Frame{Kind: FrameJSON, JSON: json.RawMessage(data)}
		case websocket.BinaryMessage:
			c.frames <- Frame{Kind: FrameBinary, Binary: data}
		}
	}
}

// Frames returns the channel of inbound frames, terminated by exactly one
// FrameClosed.
func (c *Conn) Frames() <-chan Frame { return c.frames }

// WriteJSON marshals v and sends it as a text frame.
func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// WriteBinary sends pcm as a binary frame.
func (c *Conn) WriteBinary(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, pcm)
}

// Close terminates the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
