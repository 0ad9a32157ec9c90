package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shellsino/backend/internal/api/handlers"
	"github.com/shellsino/backend/internal/bankroll"
	"github.com/shellsino/backend/internal/config"
	"github.com/shellsino/backend/internal/database"
	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/redis"
	"github.com/shellsino/backend/internal/registry"
	"github.com/shellsino/backend/internal/store/postgres"
	"github.com/shellsino/backend/internal/wager"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()
	ctx := context.Background()

	// Initialize database
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	s := postgres.New(db)
	defer s.Close()

	var pub events.Publisher
	if cfg.RedisURL != "" {
		rdb, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("Redis unavailable, events will only be stored: %v", err)
		} else {
			defer rdb.Close()
			pub = events.NewRedisPublisher(rdb, cfg.EventsChannel)
		}
	}

	id := os.Getenv("AGENT_ID")
	if id == "" {
		log.Fatal("AGENT_ID is required")
	}
	name := os.Getenv("AGENT_NAME")
	if name == "" {
		name = id
		log.Printf("Using agent id as display name: %s", name)
	}

	agent, err := registry.New(s, pub, true).Register(ctx, id, name)
	switch {
	case wager.CodeOf(err) == wager.CodeAlreadyRegistered:
		log.Printf("Agent %s already registered, keeping existing name", id)
	case err != nil:
		log.Fatalf("Failed to register agent: %v", err)
	default:
		log.Printf("✓ Agent registered: %s (%s)", agent.ID, agent.Name)
	}

	if raw := os.Getenv("AGENT_DEPOSIT"); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || amount <= 0 {
			log.Fatalf("AGENT_DEPOSIT must be a positive integer, got %q", raw)
		}
		bal, err := bankroll.New(s, cfg.FeeSink, pub).Deposit(ctx, id, amount, "seed-agent")
		if err != nil {
			log.Fatalf("Failed to credit agent: %v", err)
		}
		log.Printf("✓ Credited %d, available balance %d", amount, bal.Available)
	}

	ttl := 24 * time.Hour
	if raw := os.Getenv("TOKEN_TTL_HOURS"); raw != "" {
		if h, err := strconv.Atoi(raw); err == nil && h > 0 {
			ttl = time.Duration(h) * time.Hour
		}
	}
	token, err := handlers.IssueToken(cfg.JWTSecret, id, ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	if cfg.JWTSecret == "change-me-in-production" {
		log.Printf("WARNING: Using default JWT secret. Set JWT_SECRET env var in production!")
	}
	log.Printf("Bearer token (expires in %s):", ttl)
	fmt.Println(token)
}
