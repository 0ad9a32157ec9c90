package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/shellsino/backend/internal/config"
	"github.com/shellsino/backend/internal/wager"
)

// IssueToken signs an HS256 token whose subject is identity.
func IssueToken(secret, identity string, ttl time.Duration) (string, error) {
	if err := wager.ValidateIdentity(identity); err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthMiddleware validates the bearer JWT and sets the caller identity from
// its subject. Engines trust this identity as authenticated.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token", "code": wager.CodeUnauthenticated})
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")

		var claims jwt.RegisteredClaims
		parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": wager.CodeUnauthenticated})
			return
		}
		if wager.ValidateIdentity(claims.Subject) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject", "code": wager.CodeUnauthenticated})
			return
		}

		c.Set(identityKey, claims.Subject)
		c.Next()
	}
}

// AdminMiddleware admits callers listed in ADMIN_IDENTITIES. Must run after
// AuthMiddleware.
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.IsAdmin(caller(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "operator access required", "code": wager.CodeForbidden})
			return
		}
		c.Next()
	}
}
