package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claudeutils/claude-queue/internal/types"
)

const (
	// subscriberBuffer bounds the per-connection send queue. A
	// subscriber that falls this far behind is dropped rather than
	// allowed to stall the queue loop.
	subscriberBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Hub fans queue events out to websocket subscribers. Publish never
// blocks: events to a full subscriber buffer are discarded and the
// subscriber is closed. Implements queue.Broadcaster.
type Hub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	conn *websocket.Conn
	send chan types.Event
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control plane binds to loopback; origin checks add
			// nothing there and break CLI clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: map[*subscriber]struct{}{},
	}
}

// Publish sends an event to every subscriber. Slow subscribers are
// disconnected instead of applying backpressure to the caller.
func (h *Hub) Publish(ev types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			log.Printf("dropping slow event subscriber %s", sub.conn.RemoteAddr())
			delete(h.subs, sub)
			sub.close()
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan types.Event, subscriberBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	go h.readPump(sub)
}

// writePump drains the subscriber's buffer onto the wire and keeps the
// connection alive with pings.
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(sub)
	}()

	for {
		select {
		case ev := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // deadline best-effort
			if err := sub.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; its job is to notice disconnects.
func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)

	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // deadline best-effort
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

func (sub *subscriber) close() {
	sub.once.Do(func() {
		_ = sub.conn.Close() //nolint:errcheck // teardown
	})
}
