package events

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/progimage/progimage/src/pkg/images/storage"
)

type EventType string

const (
	EventCreated   EventType = "created"
	EventConverted EventType = "converted"
	EventDeleted   EventType = "deleted"
	EventPruned    EventType = "pruned"
)

const (
	subscriberBuffer = 100
	writeWait        = 10 * time.Second
)

// Event describes a change to an image record.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Record    *storage.Record `json:"record"`
}

// Hub fans record events out to subscribers. Publishing never blocks: a
// subscriber whose queue is full misses the event.
type Hub struct {
	done     atomic.Bool
	mu       sync.Mutex
	nextID   int
	subs     map[int]chan Event
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[int]chan Event),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) RecordChanged(eventType EventType, record *storage.Record) {
	if err := h.Publish(Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Record:    record.Clone(),
	}); err != nil {
		slog.Debug("record event not published", "type", eventType, "error", err)
	}
}

func (h *Hub) Publish(event Event) error {
	if h.done.Load() {
		return fmt.Errorf("publisher is closed")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped int
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("event queue is full for %d subscriber(s), dropping event", dropped)
	}
	return nil
}

// Subscribe registers a new listener. The returned function unsubscribes and
// closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.done.Load() {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// ServeHTTP streams events to a websocket client until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, upgradeErr := h.upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		slog.Warn("Failed to upgrade events connection", "error", upgradeErr)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("Failed to close events connection", "error", err)
		}
	}()

	events, unsubscribe := h.Subscribe()
	defer unsubscribe()

	// Reading is only needed to notice the peer closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("Failed to send event", "error", err)
				return
			}
		}
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	if h.done.Swap(true) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
