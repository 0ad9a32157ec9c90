package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const replayLimit = 200

// Inbound message types
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type replayData struct {
	After int64 `json:"after"`
}

// ServeWS upgrades the request and subscribes the connection to the event
// feed. Query parameters game, tier and subject set the initial filter.
func (h *Hub) ServeWS(c *gin.Context) {
	var f Filter
	f.Game = c.Query("game")
	f.Subject = c.Query("subject")
	if t := c.Query("tier"); t != "" {
		tier, err := strconv.ParseInt(t, 10, 64)
		if err != nil || tier <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier", "code": "unsupported_tier"})
			return
		}
		f.Tier = tier
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		filter: f,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads subscriber commands until the connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Unexpected close: %v", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("Invalid message")
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage processes subscriber commands: subscribe replaces the
// filter, replay sends stored events after a sequence number.
func (c *Client) handleMessage(msg WSMessage) {
	switch msg.Type {
	case "subscribe":
		var f Filter
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &f); err != nil {
				c.sendError("Invalid filter")
				return
			}
		}
		c.mu.Lock()
		c.filter = f
		c.mu.Unlock()
		c.reply(envelope{Type: "subscribed", Filter: &f})

	case "replay":
		var data replayData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				c.sendError("Invalid replay request")
				return
			}
		}
		if c.hub.source == nil {
			c.sendError("Replay unavailable")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		evs, err := c.hub.source.Events(ctx, data.After, replayLimit)
		if err != nil {
			log.Printf("[WS] Replay after %d failed: %v", data.After, err)
			c.sendError("Replay failed")
			return
		}
		out := evs[:0]
		for _, ev := range evs {
			if c.wants(ev) {
				out = append(out, ev)
			}
		}
		c.reply(envelope{Type: "replay", Events: out})

	case "ping":
		c.reply(envelope{Type: "pong"})

	default:
		c.sendError("Unknown message type")
	}
}
