// Package statusfeed broadcasts completion-level reassembly events (frame
// and NAL-unit boundaries, not per-packet debug traces) to connected
// WebSocket clients, for dashboards and operator tooling watching a running
// vstreamd instance.
package statusfeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one completion-level notification broadcast to subscribers.
type Event struct {
	SessionKey string    `json:"sessionKey"`
	Kind       string    `json:"kind"`
	Size       int       `json:"size,omitempty"`
	Missed     int       `json:"missed,omitempty"`
	Time       time.Time `json:"time"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out Events to every currently connected WebSocket client. It
// never blocks a publisher on a slow subscriber: an event is dropped for any
// subscriber whose send queue is full.
type Hub struct {
	log *slog.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	send chan Event
}

// NewHub creates an empty Hub. If log is nil, slog.Default() is used.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:         log.With("component", "statusfeed"),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Publish broadcasts ev to every connected subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- ev:
		default:
			h.log.Warn("subscriber send queue full, dropping event")
		}
	}
}

// SubscriberCount reports how many clients are currently connected.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

const subscriberQueueSize = 32

// ServeHTTP upgrades the request to a WebSocket connection and streams
// Events to it as JSON text frames until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{send: make(chan Event, subscriberQueueSize)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("status feed subscriber connected", "remote", r.RemoteAddr)
	defer func() {
		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
		h.log.Debug("status feed subscriber disconnected", "remote", r.RemoteAddr)
	}()

	// Drain client-initiated frames (pings, close) on their own goroutine
	// so a client that never sends anything doesn't block detection of a
	// dropped connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-sub.send:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Debug("marshal status event failed", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
