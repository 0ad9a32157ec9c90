// Package ws pushes committed engine events to websocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shellsino/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is checked by middleware.WebSocketCORSCheck
	},
}

// EventSource is the read side used to replay missed events on request.
type EventSource interface {
	Events(ctx context.Context, after int64, limit int) ([]models.Event, error)
}

// Client is one connected subscriber and its filter.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	filter Filter
}

// Filter narrows the feed. Zero values match everything.
type Filter struct {
	Game    string `json:"game,omitempty"`
	Tier    int64  `json:"tier,omitempty"`
	Subject string `json:"subject,omitempty"`
}

func (f Filter) match(ev models.Event) bool {
	if f.Game != "" && f.Game != ev.Game {
		return false
	}
	if f.Tier != 0 && f.Tier != ev.Tier {
		return false
	}
	if f.Subject != "" && f.Subject != ev.Subject {
		return false
	}
	return true
}

// Hub maintains the set of active clients. It implements events.Publisher.
type Hub struct {
	source     EventSource
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub(source EventSource) *Hub {
	return &Hub{
		source:     source,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns client registration until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Subscriber connected (%d active)", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Subscriber disconnected (%d active)", n)

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers ev to every client whose filter matches. Slow clients
// drop the message rather than block the publisher. Frames carry Seq; a
// client that sees a gap or an older Seq asks for a replay.
func (h *Hub) Publish(ctx context.Context, ev models.Event) error {
	data, err := json.Marshal(envelope{Type: "event", Event: &ev})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Printf("[WS] Send buffer full, dropping event %d (%s)", ev.Seq, ev.Type)
		}
	}
	return nil
}

// envelope is every server -> client frame.
type envelope struct {
	Type    string         `json:"type"`
	Event   *models.Event  `json:"event,omitempty"`
	Events  []models.Event `json:"events,omitempty"`
	Filter  *Filter        `json:"filter,omitempty"`
	Message string         `json:"message,omitempty"`
}

func (c *Client) wants(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.match(ev)
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] Ping error: %v", err)
				return
			}
		}
	}
}

// reply queues a frame for this client only. send is closed by the hub on
// unregister, so membership is checked under the hub lock.
func (c *Client) reply(v envelope) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(message string) {
	c.reply(envelope{Type: "error", Message: message})
}
