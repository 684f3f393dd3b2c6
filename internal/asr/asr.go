// Package asr implements the ASR Adapter (C2): streams uplink PCM to a
// speech-recognition provider and parses its event stream into partial/final
// text updates and endpoint markers.
package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventKind discriminates the four event kinds the adapter emits.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventEndpoint
	EventError
)

// Event is one adapter-emitted item.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Adapter is the contract every ASR backend (real or fake) satisfies.
type Adapter interface {
	// Feed accepts raw 16kHz mono s16le PCM. Safe to call concurrently with
	// Events draining the event channel.
	Feed(pcm []byte) error
	// Events returns the channel of asynchronous ASR events for this
	// connection's lifetime. Closed when the adapter is closed.
	Events() <-chan Event
	// Reconnect re-establishes the upstream connection after an
	// unrecoverable failure placed the adapter in a half-open state.
	Reconnect(ctx context.Context) error
	// Close tears down the adapter and its upstream connection.
	Close() error
}

// Client streams PCM to a websocket-based ASR provider (e.g. a
// whisper.cpp-compatible streaming endpoint) and parses its JSON event
// stream. Grounded on the teacher's pipeline.asr.go request shape, adapted
// from request/response HTTP to a persistent streaming session per §4.2.
type Client struct {
	url      string
	language string

	mu         sync.Mutex
	conn       *websocket.Conn
	halfOpen   bool
	events     chan Event
	finalBuf   []string
	closed     bool
	retriedNoP bool // already retried once with proxy disabled
}

// New dials url (a ws:// or wss:// endpoint) and starts the event pump.
// language is passed as a connection hint (e.g. "en").
func New(ctx context.Context, rawURL, language string) (*Client, error) {
	c := &Client{url: rawURL, language: language, events: make(chan Event, 64)}
	if err := c.dial(ctx, true); err != nil {
		return nil, err
	}
	go c.pump()
	return c, nil
}

func (c *Client) dial(ctx context.Context, allowProxyRetry bool) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("asr: parse url: %w", err)
	}
	q := u.Query()
	q.Set("language", c.language)
	q.Set("endpointing", "true")
	u.RawQuery = q.Encode()

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if allowProxyRetry && !c.retriedNoP {
			// Retry once with outbound proxying disabled, per §4.2.
			c.retriedNoP = true
			noProxyDialer := *websocket.DefaultDialer
			noProxyDialer.Proxy = nil
			conn2, _, err2 := noProxyDialer.DialContext(ctx, u.String(), nil)
			if err2 != nil {
				c.enterHalfOpen(fmt.Errorf("asr: dial (retried without proxy): %w", err2))
				return err2
			}
			c.mu.Lock()
			c.conn = conn2
			c.halfOpen = false
			c.mu.Unlock()
			return nil
		}
		c.enterHalfOpen(fmt.Errorf("asr: dial: %w", err))
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.halfOpen = false
	c.mu.Unlock()
	return nil
}

func (c *Client) enterHalfOpen(err error) {
	c.mu.Lock()
	c.halfOpen = true
	c.mu.Unlock()
	select {
	case c.events <- Event{Kind: EventError, Err: err}:
	default:
	}
}

// wireEvent mirrors the provider's streaming JSON frame shape.
type wireEvent struct {
	Type string `json:"type"` // "partial" | "final" | "endpoint"
	Text string `json:"text"`
}

func (c *Client) pump() {
	for {
		c.mu.Lock()
		conn := c.conn
		halfOpen := c.halfOpen
		closed := c.closed
		c.mu.Unlock()
		if closed {
			close(c.events)
			return
		}
		if halfOpen || conn == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.enterHalfOpen(fmt.Errorf("asr: stream read: %w", err))
			continue
		}
		var we wireEvent
		if err := json.Unmarshal(data, &we); err != nil {
			continue
		}
		switch we.Type {
		case "partial":
			c.events <- Event{Kind: EventPartial, Text: we.Text}
		case "final":
			c.mu.Lock()
			c.finalBuf = append(c.finalBuf, we.Text)
			c.mu.Unlock()
			c.events <- Event{Kind: EventFinal, Text: we.Text}
		case "endpoint":
			c.mu.Lock()
			committed := joinFinal(c.finalBuf)
			c.finalBuf = nil
			c.mu.Unlock()
			c.events <- Event{Kind: EventEndpoint, Text: committed}
		}
	}
}

func joinFinal(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// Feed sends raw PCM upstream. Silently drops if half-open, per §4.2.
func (c *Client) Feed(pcm []byte) error {
	c.mu.Lock()
	conn := c.conn
	halfOpen := c.halfOpen
	c.mu.Unlock()
	if halfOpen || conn == nil {
		return nil
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		c.enterHalfOpen(fmt.Errorf("asr: feed: %w", err))
		return nil
	}
	return nil
}

func (c *Client) Events() <-chan Event { return c.events }

// Reconnect re-dials the provider to leave the half-open state. It must be
// called explicitly; the orchestrator does not call it, so a client that went
// half-open keeps dropping Feed calls until some caller does.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.retriedNoP = false
	c.mu.Unlock()
	return c.dial(ctx, true)
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
