// Package ws fans signal and trade events out to websocket subscribers.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types pushed to subscribers
const (
	EventSignalCreated    = "signal_created"
	EventSignalUpgraded   = "signal_updated"
	EventSignalClosed     = "signal_closed"
	EventPaperTradeOpened = "paper_trade_opened"
	EventPaperTradeClosed = "paper_trade_closed"
	EventConfigPromoted   = "config_promoted"
)

// Publisher is the event sink the pipeline components publish through.
// In a single process this is the Hub itself; across processes the queue
// package provides a NATS-backed implementation.
type Publisher interface {
	Publish(eventType string, payload interface{})
}

// Event is the wire envelope pushed to every connected client
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Hub tracks connected clients and broadcasts events to all of them.
// Slow clients are dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub creates a hub; call Run in a goroutine to start it
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", count).Msg("Websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", count).Msg("Websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// client cannot keep up; it will be unregistered
					// when its write pump exits
					go func(c *Client) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts the hub down and disconnects every client
func (h *Hub) Stop() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Publish broadcasts a typed event to every connected client
func (h *Hub) Publish(eventType string, payload interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to marshal websocket event")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Warn().Str("event", eventType).Msg("Websocket broadcast buffer full, event dropped")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
