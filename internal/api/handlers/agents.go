package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/registry"
	"github.com/shellsino/backend/internal/store"
)

// RegisterAgent binds a display name to the caller's identity.
func RegisterAgent(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "name required")
			return
		}

		agent, err := reg.Register(c.Request.Context(), caller(c), req.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, agent)
	}
}

// GetAgentStats returns wins, losses, wagered and name for :id.
func GetAgentStats(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, err := reg.Stats(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, agent)
	}
}

// GetMe returns the caller's own statistics.
func GetMe(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, err := reg.Stats(c.Request.Context(), caller(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, agent)
	}
}

func GetLeaderboard(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", 20)
		if !ok {
			return
		}
		if limit == 0 || limit > 100 {
			limit = 100
		}
		agents, err := reg.Leaderboard(c.Request.Context(), int(limit))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": agents})
	}
}

// GetBalance returns the caller's available and escrowed amounts.
func GetBalance(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := s.Balance(c.Request.Context(), caller(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}

// GetLedgerEntries returns the caller's most recent journal entries.
func GetLedgerEntries(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", 50)
		if !ok {
			return
		}
		entries, err := s.Entries(c.Request.Context(), caller(c), int(limit))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

// ListEvents returns committed events with seq greater than ?after.
func ListEvents(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		after, ok := intQuery(c, "after", 0)
		if !ok {
			return
		}
		limit, ok := intQuery(c, "limit", 100)
		if !ok {
			return
		}
		if limit == 0 || limit > 500 {
			limit = 500
		}
		evs, err := s.Events(c.Request.Context(), after, int(limit))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": evs})
	}
}
