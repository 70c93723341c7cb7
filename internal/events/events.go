// Package events fans out listener and pipeline events to in-process
// subscribers and to WebSocket clients connected to the /events endpoint.
//
// Publishing never blocks: a subscriber whose buffer is full misses the event
// and the drop is counted. The audio loop publishes from its hot path, so a
// stalled dashboard must not be able to slow it down.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Type names an event.
type Type string

const (
	TypeWake         Type = "wake"
	TypeSegment      Type = "segment"
	TypeSegmentError Type = "segment_error"
	TypeDesync       Type = "desync"
	TypeTranscript   Type = "transcript"
	TypeResponse     Type = "response"
	TypeToolCall     Type = "tool_call"
	TypeTimer        Type = "timer"
)

// Event is one notification. Fields that do not apply to a Type are left
// zero and omitted from the JSON encoding.
type Event struct {
	Type      Type      `json:"type"`
	Time      time.Time `json:"time"`
	SegmentID string    `json:"segment_id,omitempty"`
	// Seq is the stream position of the frame that caused the event.
	Seq    uint64 `json:"seq,omitempty"`
	Frames int    `json:"frames,omitempty"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to [Publisher].
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

const defaultBuffer = 32

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the per-subscriber channel capacity. Default: 32.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithWriteTimeout bounds a single WebSocket write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// Hub is a [Publisher] that broadcasts to every subscriber. It also serves
// the WebSocket feed through ServeHTTP. Safe for concurrent use.
type Hub struct {
	buffer       int
	writeTimeout time.Duration

	mu      sync.Mutex
	subs    map[chan Event]struct{}
	dropped atomic.Int64
}

var (
	_ Publisher    = (*Hub)(nil)
	_ http.Handler = (*Hub)(nil)
)

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer:       defaultBuffer,
		writeTimeout: 5 * time.Second,
		subs:         make(map[chan Event]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish delivers e to every subscriber with room in its buffer. A zero
// e.Time is set to the current time.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the number of deliveries skipped because a subscriber was
// full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ServeHTTP upgrades the request to a WebSocket and streams every event as a
// JSON text message until the client disconnects. Messages from the client
// are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("events: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead discards client frames and cancels ctx once the peer goes
	// away.
	ctx := conn.CloseRead(r.Context())
	ch, cancel := h.Subscribe()
	defer cancel()

	slog.Debug("events: subscriber connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-ch:
			if err := h.write(ctx, conn, e); err != nil {
				slog.Debug("events: subscriber write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
