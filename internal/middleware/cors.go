package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/config"
)

var devOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

var devHosts = []string{"http://localhost:", "http://127.0.0.1:"}

func allowedOrigins(cfg *config.Config) []string {
	var origins []string
	if cfg.Environment == "development" {
		origins = append(origins, devOrigins...)
	}
	if cfg.FrontendURL != "" {
		origins = append(origins, cfg.FrontendURL)
	}
	return origins
}

// originPolicy reports whether a browser origin may call the API. The same
// policy backs CORSMiddleware and WebSocketCORSCheck. A nil policy means
// every origin is allowed.
func originPolicy(cfg *config.Config) func(origin string) bool {
	origins := allowedOrigins(cfg)
	if len(origins) == 0 {
		return nil
	}
	dev := cfg.Environment == "development"
	return func(origin string) bool {
		for _, o := range origins {
			if origin == o {
				return true
			}
		}
		if dev {
			// any local dev server port
			for _, h := range devHosts {
				if strings.HasPrefix(origin, h) {
					return true
				}
			}
		}
		return false
	}
}

// CORSMiddleware returns a CORS middleware configured for the environment
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	allow := originPolicy(cfg)
	log.Printf("[CORS] Environment: %s, allowed origins: %v", cfg.Environment, allowedOrigins(cfg))

	corsConfig := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Length", "Content-Type", "Authorization",
			"Accept", "Cache-Control", "X-Requested-With",
		},
		ExposeHeaders: []string{
			"Content-Length",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allow == nil {
		// agents call from servers, not browsers
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOriginFunc = allow
	}
	return cors.New(corsConfig)
}

// WebSocketCORSCheck validates WebSocket upgrade origins. Requests without an
// Origin header come from non-browser agents and are let through.
func WebSocketCORSCheck(cfg *config.Config) gin.HandlerFunc {
	allow := originPolicy(cfg)
	return func(c *gin.Context) {
		if !strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		if origin == "" || allow == nil || allow(origin) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "WebSocket origin not allowed", "code": "forbidden"})
	}
}
