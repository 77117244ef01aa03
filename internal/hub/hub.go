// Package hub fans committed scan events out to connected dashboard
// clients.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

const (
	EventSessionStarted = "cret.session.started"
	EventSessionEnded   = "cret.session.ended"
	EventSessionsSwept  = "cret.sessions.swept"
)

type Subscription struct {
	// EventType filters delivery; empty subscribes to everything.
	EventType string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	EventType string `json:"event_type"`
}

type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Publish wraps payload in an envelope and broadcasts it to every client
// subscribed to eventType. Slow clients are skipped, not waited on.
func (h *Hub) Publish(eventType string, payload interface{}, at time.Time) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("hub marshal error type=%s: %v", eventType, err)
		return
	}
	data, err := json.Marshal(Envelope{Type: eventType, Payload: raw, CreatedAt: at})
	if err != nil {
		log.Printf("hub envelope error type=%s: %v", eventType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.EventType != "" && client.Subscription.EventType != eventType {
			continue
		}
		select {
		case client.Send <- data:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
