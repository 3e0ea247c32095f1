package sse

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Event is one server-sent payload, already JSON-encoded.
type Event struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// Client is one connected event-stream consumer. SessionID, when set,
// restricts delivery to events of that session.
type Client struct {
	ClientID    string
	SessionID   *uuid.UUID
	MessageChan chan *Event
	closeOnce   sync.Once
}

func NewClient(clientID string, sessionID *uuid.UUID, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{
		ClientID:    clientID,
		SessionID:   sessionID,
		MessageChan: make(chan *Event, buffer),
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.MessageChan) })
}

var ErrClientNotFound = errors.New("sse client not found")

// Hub manages connected event-stream clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers an event to every client subscribed to the session, and
// to every unfiltered client. Slow clients drop events instead of blocking.
func (h *Hub) Broadcast(sessionID uuid.UUID, event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.SessionID != nil && *c.SessionID != sessionID {
			continue
		}
		trySend(c, event)
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *Client, event *Event) bool {
	select {
	case c.MessageChan <- event:
		return true
	default:
		return false
	}
}
