package config

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	StoreDriver    string
	MigrateOnStart bool

	// Redis
	RedisURL      string
	EventsChannel string

	// Server
	Port        string
	FrontendURL string

	// Game Settings
	CoinflipTiers       []int64
	RouletteTiers       []int64
	FeeBps              int
	FeeSink             string
	ChallengeTTLMinutes int
	RequireRegistration bool

	// Security
	JWTSecret       string
	AdminIdentities []string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/shellsino?sslmode=disable"),
		StoreDriver:    getEnv("STORE_DRIVER", "memory"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),

		// Redis
		RedisURL:      getEnv("REDIS_URL", ""),
		EventsChannel: getEnv("EVENTS_CHANNEL", "game_events"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Game Settings
		CoinflipTiers:       getEnvInt64List("COINFLIP_TIERS", []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000}),
		RouletteTiers:       getEnvInt64List("ROULETTE_TIERS", []int64{10, 25, 50, 100, 250}),
		FeeBps:              getEnvInt("FEE_BPS", 200),
		FeeSink:             getEnv("FEE_SINK", "house"),
		ChallengeTTLMinutes: getEnvInt("CHALLENGE_TTL_MINUTES", 60),
		RequireRegistration: getEnvBool("REQUIRE_REGISTRATION", true),

		// Security
		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production"),
		AdminIdentities: getEnvList("ADMIN_IDENTITIES", nil),
	}
}

// IsAdmin reports whether identity is listed in ADMIN_IDENTITIES.
func (c *Config) IsAdmin(identity string) bool {
	for _, a := range c.AdminIdentities {
		if a == identity {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvInt64List parses a comma separated list of positive amounts. Any
// malformed entry makes the whole value fall back to the default.
func getEnvInt64List(key string, defaultValue []int64) []int64 {
	parts := getEnvList(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v <= 0 {
			return defaultValue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
