package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/wager"
)

const identityKey = "identity"

// statusFor maps an engine error onto an HTTP status.
func statusFor(err error) int {
	switch wager.CodeOf(err) {
	case wager.CodeNotFound, wager.CodeChallengeNotFound, wager.CodeEscrowNotFound, wager.CodeCommitmentNotFound:
		return http.StatusNotFound
	case wager.CodeUnauthenticated:
		return http.StatusUnauthorized
	}
	switch wager.KindOf(err) {
	case wager.KindInvalidInput:
		return http.StatusBadRequest
	case wager.KindStateConflict, wager.KindFairnessViolation:
		return http.StatusConflict
	case wager.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case wager.KindUnauthorized:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// respondError writes {"error", "code"}. Unclassified errors are logged and
// reported as internal.
func respondError(c *gin.Context, err error) {
	var we *wager.Error
	if !errors.As(err, &we) {
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
		return
	}
	msg := we.Msg
	if msg == "" {
		msg = string(we.Code)
	}
	c.JSON(statusFor(err), gin.H{"error": msg, "code": we.Code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_request"})
}

// caller returns the identity set by AuthMiddleware.
func caller(c *gin.Context) string {
	return c.GetString(identityKey)
}

// tierParam reads the :tier path parameter.
func tierParam(c *gin.Context) (int64, bool) {
	tier, err := strconv.ParseInt(c.Param("tier"), 10, 64)
	if err != nil {
		respondError(c, wager.InvalidInput(wager.CodeUnsupportedTier, "tier %q is not a number", c.Param("tier")))
		return 0, false
	}
	return tier, true
}

// intQuery reads a non-negative integer query parameter.
func intQuery(c *gin.Context, key string, def int64) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		badRequest(c, key+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}
