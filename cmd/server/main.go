package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shellsino/backend/internal/api"
	"github.com/shellsino/backend/internal/bankroll"
	"github.com/shellsino/backend/internal/coinflip"
	"github.com/shellsino/backend/internal/config"
	"github.com/shellsino/backend/internal/database"
	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/fairness"
	"github.com/shellsino/backend/internal/metrics"
	"github.com/shellsino/backend/internal/migrations"
	"github.com/shellsino/backend/internal/redis"
	"github.com/shellsino/backend/internal/registry"
	"github.com/shellsino/backend/internal/roulette"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/store/memory"
	"github.com/shellsino/backend/internal/store/postgres"
	"github.com/shellsino/backend/internal/wager"
	"github.com/shellsino/backend/internal/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	s, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer s.Close()

	// Initialize Redis (optional: without it events go straight to the ws hub)
	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// With Redis every instance's hub is fed by the subscriber, so local
	// events go to Redis only.
	hub := ws.NewHub(s)
	var transport events.Publisher = hub
	if rdb != nil {
		transport = events.NewRedisPublisher(rdb, cfg.EventsChannel)
		log.Printf("[EVENTS] Publishing to Redis channel %s", cfg.EventsChannel)
	}
	pub := events.Fanout{transport, m}

	// Engines
	oracle := fairness.NewOracle(fairness.SystemEntropy{})
	agents := registry.New(s, pub, cfg.RequireRegistration)
	reserve := bankroll.New(s, cfg.FeeSink, pub)

	cf := coinflip.New(coinflip.Config{
		Tiers:        wager.NewTiers(cfg.CoinflipTiers),
		FeeBps:       cfg.FeeBps,
		FeeSink:      cfg.FeeSink,
		ChallengeTTL: time.Duration(cfg.ChallengeTTLMinutes) * time.Minute,
	}, s, oracle, coinflip.Options{Verifier: agents, Publisher: pub, Metrics: m})
	if err := cf.Rehydrate(ctx); err != nil {
		log.Fatalf("Failed to rehydrate coinflip pools: %v", err)
	}

	rl := roulette.New(roulette.Config{
		Tiers:   wager.NewTiers(cfg.RouletteTiers),
		FeeBps:  cfg.FeeBps,
		FeeSink: cfg.FeeSink,
	}, s, oracle, roulette.Options{Verifier: agents, Publisher: pub, Metrics: m})
	if err := rl.Rehydrate(ctx); err != nil {
		log.Fatalf("Failed to rehydrate roulette chambers: %v", err)
	}

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, api.Deps{
		Config:   cfg,
		Store:    s,
		Oracle:   oracle,
		Registry: agents,
		Bankroll: reserve,
		Coinflip: cf,
		Roulette: rl,
		Hub:      hub,
		Gatherer: reg,
	})

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if rdb != nil {
		g.Go(func() error {
			return ws.StartEventSubscriber(gctx, rdb, cfg.EventsChannel, hub)
		})
	}
	g.Go(func() error {
		log.Printf("Starting Shellsino server on port %s (store=%s, fee=%dbps)", port, cfg.StoreDriver, cfg.FeeBps)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.MigrateOnStart {
			log.Println("↗ Running DB migrations on startup...")
			if err := migrations.RunMigrations(cfg.DatabaseURL, migrations.DefaultDir); err != nil {
				return nil, err
			}
		}
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.New(db), nil
	case "memory", "":
		log.Println("[STORE] Using in-memory store; state is lost on restart")
		return memory.New(), nil
	default:
		return nil, errors.New("unknown STORE_DRIVER " + cfg.StoreDriver)
	}
}
