package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/roulette"
)

// EnterChamber seats the caller; the sixth seat fires the round.
func EnterChamber(e *roulette.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier, ok := tierParam(c)
		if !ok {
			return
		}
		res, err := e.EnterChamber(c.Request.Context(), caller(c), tier)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func ExitChamber(e *roulette.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier, ok := tierParam(c)
		if !ok {
			return
		}
		if err := e.ExitChamber(c.Request.Context(), caller(c), tier); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exited": true, "refund": tier})
	}
}

func GetChamberStatus(e *roulette.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier, ok := tierParam(c)
		if !ok {
			return
		}
		st, err := e.ChamberStatus(tier)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func ListChambers(e *roulette.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"chambers": e.Chambers()})
	}
}

func GetRound(e *roulette.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := e.Round(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, r)
	}
}
