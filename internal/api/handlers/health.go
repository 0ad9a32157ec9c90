package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/ws"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck reports uptime and whether the store can open a unit of work.
// An unreachable store answers 503.
func HealthCheck(s store.Store, hub *ws.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		storeState := "ok"

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if tx, err := s.Begin(ctx); err != nil {
			status, code, storeState = "degraded", http.StatusServiceUnavailable, err.Error()
		} else {
			tx.Rollback()
		}

		body := gin.H{
			"status":  status,
			"service": "shellsino-api",
			"version": version,
			"uptime":  time.Since(startTime).String(),
			"store":   storeState,
		}
		if hub != nil {
			body["subscribers"] = hub.Clients()
		}
		c.JSON(code, body)
	}
}
