package handlers

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shellsino/backend/internal/fairness"
	"github.com/shellsino/backend/internal/wager"
)

// commitKey namespaces agent commitments so they can never bind an engine
// outcome key.
func commitKey(identity, key string) string {
	return "agent:" + identity + ":" + key
}

// CommitOutcome registers a Keccak-256 commitment for a caller-named outcome.
func CommitOutcome(o *fairness.Oracle) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Key        string `json:"key" binding:"required"`
			Commitment string `json:"commitment" binding:"required"`
			Inputs     string `json:"inputs"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "key and commitment required")
			return
		}
		hash, err := hex.DecodeString(strings.TrimPrefix(req.Commitment, "0x"))
		if err != nil {
			respondError(c, wager.InvalidInput(wager.CodeCommitmentMismatch, "commitment is not hex"))
			return
		}

		identity := caller(c)
		key := commitKey(identity, req.Key)
		id, err := o.Commit(identity, key, hash, req.Inputs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"commitment_id": id, "key": key})
	}
}

// RevealOutcome reveals the secret behind a commitment and returns the
// derived resolution. A mismatching secret forfeits the commitment.
func RevealOutcome(o *fairness.Oracle) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CommitmentID string `json:"commitment_id" binding:"required"`
			Secret       string `json:"secret" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "commitment_id and secret required")
			return
		}
		secret, err := hex.DecodeString(strings.TrimPrefix(req.Secret, "0x"))
		if err != nil {
			respondError(c, wager.InvalidInput(wager.CodeCommitmentMismatch, "secret is not hex"))
			return
		}

		res, err := o.Reveal(c.Request.Context(), req.CommitmentID, secret)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// GetNextSeedHash publishes the hash of the server seed the next outcome
// will consume.
func GetNextSeedHash(o *fairness.Oracle) gin.HandlerFunc {
	return func(c *gin.Context) {
		hash, err := o.NextSeedHash(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"next_seed_hash": hash})
	}
}

// VerifyResolution recomputes a resolution record from its inputs.
func VerifyResolution(c *gin.Context) {
	var res fairness.Resolution
	if err := c.ShouldBindJSON(&res); err != nil || res.Seed == "" {
		badRequest(c, "resolution required")
		return
	}
	if err := fairness.Verify(res); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error(), "code": wager.CodeOf(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}
