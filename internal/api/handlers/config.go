package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/config"
)

// GetConfig returns the fee rate and tier sets agents need to pick a stake.
func GetConfig(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"fee_bps":               cfg.FeeBps,
			"coinflip_tiers":        cfg.CoinflipTiers,
			"roulette_tiers":        cfg.RouletteTiers,
			"challenge_ttl_minutes": cfg.ChallengeTTLMinutes,
			"require_registration":  cfg.RequireRegistration,
		})
	}
}
