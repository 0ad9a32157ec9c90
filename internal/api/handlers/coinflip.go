package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/coinflip"
)

type choiceRequest struct {
	Choice string `json:"choice" binding:"required"`
}

// EnterPool parks the caller in the :tier pool or matches the waiter.
func EnterPool(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier, ok := tierParam(c)
		if !ok {
			return
		}
		var req choiceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "choice required")
			return
		}

		res, err := e.EnterPool(c.Request.Context(), caller(c), tier, req.Choice)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func ExitPool(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier, ok := tierParam(c)
		if !ok {
			return
		}
		if err := e.ExitPool(c.Request.Context(), caller(c), tier); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exited": true, "refund": tier})
	}
}

func GetPoolStatus(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier, ok := tierParam(c)
		if !ok {
			return
		}
		st, err := e.PoolStatus(tier)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func ListPools(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pools": e.Pools()})
	}
}

// GetGame returns a resolved game with its fairness record.
func GetGame(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		g, err := e.Game(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	}
}

// CreateChallenge escrows the caller's stake against a named opponent.
func CreateChallenge(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Opponent string `json:"opponent" binding:"required"`
			Tier     int64  `json:"tier" binding:"required"`
			Choice   string `json:"choice" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "opponent, tier and choice required")
			return
		}

		ch, err := e.CreateChallenge(c.Request.Context(), caller(c), req.Opponent, req.Tier, req.Choice)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, ch)
	}
}

func AcceptChallenge(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req choiceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "choice required")
			return
		}
		g, err := e.AcceptChallenge(c.Request.Context(), caller(c), c.Param("id"), req.Choice)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	}
}

func CancelChallenge(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := e.CancelChallenge(c.Request.Context(), caller(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ch)
	}
}

func GetChallenge(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := e.Challenge(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ch)
	}
}

// ListChallenges returns pending challenges created by or addressed to the
// caller.
func ListChallenges(e *coinflip.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		chs, err := e.PendingChallenges(c.Request.Context(), caller(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"challenges": chs})
	}
}
