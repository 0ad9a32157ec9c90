package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/bankroll"
)

type transferRequest struct {
	To     string `json:"to" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	Ref    string `json:"ref"`
}

// AdminDeposit credits an identity's available balance. It stands in for
// external custody moving funds into the engine.
func AdminDeposit(b *bankroll.Reserve) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "to and amount required")
			return
		}
		ref := req.Ref
		if ref == "" {
			ref = "admin:" + caller(c)
		}

		bal, err := b.Deposit(c.Request.Context(), req.To, req.Amount, ref)
		if err != nil {
			respondError(c, err)
			return
		}
		log.Printf("[ADMIN] %s deposited %d to %s (ref=%s)", caller(c), req.Amount, req.To, ref)
		c.JSON(http.StatusOK, bal)
	}
}

// AdminSweep moves collected fees out of the reserve.
func AdminSweep(b *bankroll.Reserve) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "to and amount required")
			return
		}

		bal, err := b.Sweep(c.Request.Context(), req.To, req.Amount)
		if err != nil {
			respondError(c, err)
			return
		}
		log.Printf("[ADMIN] %s swept %d from reserve to %s", caller(c), req.Amount, req.To)
		c.JSON(http.StatusOK, bal)
	}
}

func GetBankroll(b *bankroll.Reserve) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := b.Balance(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}
