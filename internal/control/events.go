package control

import (
	"encoding/json"
	"sync"

	"github.com/simgunz/udp-ip-stack/internal/engine"
)

// eventMessage is the websocket frame for one engine event or status
// snapshot.
type eventMessage struct {
	SchemaVersion int            `json:"schema_version"`
	Type          string         `json:"type"`
	Timestamp     int64          `json:"timestamp"`
	Event         *engine.Event  `json:"event,omitempty"`
	Status        *engine.Status `json:"status,omitempty"`
}

func newEventMessage(ev engine.Event) eventMessage {
	return eventMessage{
		SchemaVersion: 1,
		Type:          "event",
		Timestamp:     ev.Time.UnixMilli(),
		Event:         &ev,
	}
}

func newStatusMessage(st engine.Status) eventMessage {
	return eventMessage{
		SchemaVersion: 1,
		Type:          "status",
		Status:        &st,
	}
}

// EventHub fans engine events out to websocket clients. Slow clients miss
// messages rather than stalling the engine.
type EventHub struct {
	mu        sync.Mutex
	clients   map[*eventClient]struct{}
	broadcast chan eventMessage
	ctxDone   <-chan struct{}
}

type eventClient struct {
	send      chan []byte
	closeOnce sync.Once
}

func NewEventHub(ctxDone <-chan struct{}) *EventHub {
	h := &EventHub{
		clients:   make(map[*eventClient]struct{}),
		broadcast: make(chan eventMessage, 128),
		ctxDone:   ctxDone,
	}
	go h.run()
	return h
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.ctxDone:
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*eventClient]struct{})
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				client.enqueue(data)
			}
			h.mu.Unlock()
		}
	}
}

// Observe is an engine.EventFunc.
func (h *EventHub) Observe(ev engine.Event) {
	h.Broadcast(newEventMessage(ev))
}

func (h *EventHub) Register(client *eventClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) Unregister(client *eventClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (h *EventHub) Broadcast(msg eventMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Clients reports the number of connected websocket clients.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// enqueue must not race with close: the hub only calls it under h.mu and
// clients are removed from the map before being closed.
func (c *eventClient) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *eventClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
