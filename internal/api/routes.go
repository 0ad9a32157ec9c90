package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shellsino/backend/internal/api/handlers"
	"github.com/shellsino/backend/internal/bankroll"
	"github.com/shellsino/backend/internal/coinflip"
	"github.com/shellsino/backend/internal/config"
	"github.com/shellsino/backend/internal/fairness"
	"github.com/shellsino/backend/internal/middleware"
	"github.com/shellsino/backend/internal/registry"
	"github.com/shellsino/backend/internal/roulette"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/ws"
)

// Deps are the components the HTTP surface drives.
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Oracle   *fairness.Oracle
	Registry *registry.Registry
	Bankroll *bankroll.Reserve
	Coinflip *coinflip.Engine
	Roulette *roulette.Engine
	Hub      *ws.Hub
	Gatherer prometheus.Gatherer
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	cfg := d.Config
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Next()
		})
		log.Println("[DEV MODE] no-cache headers enabled for all routes")
	}

	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(d.Store, d.Hub))
		v1.GET("/config", handlers.GetConfig(cfg))

		// Public reads
		v1.GET("/agents/:id/stats", handlers.GetAgentStats(d.Registry))
		v1.GET("/leaderboard", handlers.GetLeaderboard(d.Registry))
		v1.GET("/events", handlers.ListEvents(d.Store))
		v1.POST("/fairness/verify", handlers.VerifyResolution)
		v1.GET("/fairness/next", handlers.GetNextSeedHash(d.Oracle))
		if d.Hub != nil {
			v1.GET("/ws", middleware.WebSocketCORSCheck(cfg), handlers.HandleEventFeed(d.Hub))
		}

		cf := v1.Group("/coinflip")
		{
			cf.GET("/pools", handlers.ListPools(d.Coinflip))
			cf.GET("/pools/:tier", handlers.GetPoolStatus(d.Coinflip))
			cf.GET("/games/:id", handlers.GetGame(d.Coinflip))
			cf.GET("/challenges/:id", handlers.GetChallenge(d.Coinflip))
		}
		rl := v1.Group("/roulette")
		{
			rl.GET("/chambers", handlers.ListChambers(d.Roulette))
			rl.GET("/chambers/:tier", handlers.GetChamberStatus(d.Roulette))
			rl.GET("/rounds/:id", handlers.GetRound(d.Roulette))
		}

		// Authenticated: the token subject is the acting identity
		auth := v1.Group("", handlers.AuthMiddleware(cfg))
		{
			auth.POST("/agents/register", handlers.RegisterAgent(d.Registry))
			auth.GET("/me", handlers.GetMe(d.Registry))
			auth.GET("/balance", handlers.GetBalance(d.Store))
			auth.GET("/ledger", handlers.GetLedgerEntries(d.Store))

			auth.POST("/coinflip/pools/:tier/enter", handlers.EnterPool(d.Coinflip))
			auth.POST("/coinflip/pools/:tier/exit", handlers.ExitPool(d.Coinflip))
			auth.GET("/coinflip/challenges", handlers.ListChallenges(d.Coinflip))
			auth.POST("/coinflip/challenges", handlers.CreateChallenge(d.Coinflip))
			auth.POST("/coinflip/challenges/:id/accept", handlers.AcceptChallenge(d.Coinflip))
			auth.POST("/coinflip/challenges/:id/cancel", handlers.CancelChallenge(d.Coinflip))

			auth.POST("/roulette/chambers/:tier/enter", handlers.EnterChamber(d.Roulette))
			auth.POST("/roulette/chambers/:tier/exit", handlers.ExitChamber(d.Roulette))

			auth.POST("/fairness/commit", handlers.CommitOutcome(d.Oracle))
			auth.POST("/fairness/reveal", handlers.RevealOutcome(d.Oracle))
		}

		admin := v1.Group("/admin", handlers.AuthMiddleware(cfg), handlers.AdminMiddleware(cfg))
		{
			admin.GET("/bankroll", handlers.GetBankroll(d.Bankroll))
			admin.POST("/deposit", handlers.AdminDeposit(d.Bankroll))
			admin.POST("/sweep", handlers.AdminSweep(d.Bankroll))
		}
	}
}
