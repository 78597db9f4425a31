package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stackdeck/stackdeck/internal/model"
	"github.com/stackdeck/stackdeck/internal/service"
)

// Conn is the subset of *websocket.Conn the hub writes to. Tests inject
// fakes; the presentation layer registers real connections.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Event is one message pushed to subscribers. Type is "stack" for a
// single-stack change and "staleness" for a full-list resynchronization of
// outdated flags.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// subscriber pairs a connection with its own lock so one slow client cannot
// serialize writes to the others.
type subscriber struct {
	conn Conn
	mu   sync.Mutex
}

// Hub maintains the set of connected live-update subscribers and fans out
// change events to all of them. Delivery failures remove the subscriber
// without aborting delivery to the rest.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[string]*subscriber
	writeTimeout time.Duration
	logger       *slog.Logger
}

const defaultWriteTimeout = 5 * time.Second

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers:  make(map[string]*subscriber),
		writeTimeout: defaultWriteTimeout,
		logger:       logger,
	}
}

// Register adds a connection to the subscriber set and returns its id.
func (h *Hub) Register(conn Conn) string {
	id := uuid.New().String()
	h.mu.Lock()
	h.subscribers[id] = &subscriber{conn: conn}
	count := len(h.subscribers)
	h.mu.Unlock()
	h.logger.Debug("subscriber connected", "id", id, "active", count)
	return id
}

// Unregister removes a connection from the subscriber set.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
		h.logger.Debug("subscriber disconnected", "id", id, "active", count)
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// BroadcastStack pushes a single-stack change event to all subscribers.
func (h *Hub) BroadcastStack(stack *model.Stack) {
	h.broadcast(Event{Type: "stack", Payload: stack})
}

// BroadcastStaleness pushes a bulk staleness update to all subscribers.
func (h *Hub) BroadcastStaleness(entries []service.StalenessEntry) {
	h.broadcast(Event{Type: "staleness", Payload: entries})
}

// SendTo delivers one event to a single subscriber, used for the full-list
// resynchronization on connect.
func (h *Hub) SendTo(id string, event Event) {
	h.mu.RLock()
	sub, ok := h.subscribers[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to serialize event", "type", event.Type, "error", err)
		return
	}
	if err := h.write(sub, payload); err != nil {
		h.logger.Debug("send failed, dropping subscriber", "id", id, "error", err)
		h.Unregister(id)
	}
}

// Close drops every subscriber, closing their connections.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.conn.Close()
	}
}

func (h *Hub) broadcast(event Event) {
	// Serialize once per event, not per subscriber.
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to serialize event", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	targets := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		targets[id] = sub
	}
	h.mu.RUnlock()

	var dead []string
	for id, sub := range targets {
		if err := h.write(sub, payload); err != nil {
			h.logger.Debug("broadcast failed, dropping subscriber", "id", id, "error", err)
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		h.Unregister(id)
	}
}

func (h *Hub) write(sub *subscriber, payload []byte) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if err := sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return sub.conn.WriteMessage(websocket.TextMessage, payload)
}
