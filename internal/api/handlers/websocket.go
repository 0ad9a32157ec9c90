package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/ws"
)

// HandleEventFeed streams committed events over a websocket.
func HandleEventFeed(hub *ws.Hub) gin.HandlerFunc {
	return hub.ServeWS
}
