package ledger

import (
	"testing"

	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/wager"
	"github.com/stretchr/testify/assert"
)

func locked(id, owner string, amount int64) models.Escrow {
	return models.Escrow{ID: id, Owner: owner, Amount: amount, Status: models.EscrowLocked}
}

func TestSettlementCheckConservation(t *testing.T) {
	escrows := []models.Escrow{locked("e1", "a", 10), locked("e2", "b", 10)}

	ok := Settlement{Ref: "g1", EscrowIDs: []string{"e1", "e2"}, Payouts: []Payout{{To: "a", Amount: 19}}, Fee: 1, FeeSink: "house"}
	assert.NoError(t, ok.Check(escrows))
	assert.Equal(t, int64(20), ok.Total())

	over := Settlement{Ref: "g1", EscrowIDs: []string{"e1", "e2"}, Payouts: []Payout{{To: "a", Amount: 20}}, Fee: 1, FeeSink: "house"}
	assert.Equal(t, wager.CodeConservation, wager.CodeOf(over.Check(escrows)))

	under := Settlement{Ref: "g1", EscrowIDs: []string{"e1", "e2"}, Payouts: []Payout{{To: "a", Amount: 18}}, Fee: 1, FeeSink: "house"}
	assert.Equal(t, wager.CodeConservation, wager.CodeOf(under.Check(escrows)))
}

func TestSettlementCheckEscrowState(t *testing.T) {
	closed := locked("e1", "a", 10)
	closed.Status = models.EscrowReleased

	s := Settlement{Ref: "g", EscrowIDs: []string{"e1"}, Payouts: []Payout{{To: "a", Amount: 10}}}
	assert.Equal(t, wager.CodeEscrowClosed, wager.CodeOf(s.Check([]models.Escrow{closed})))
	assert.Equal(t, wager.CodeEscrowNotFound, wager.CodeOf(s.Check(nil)))

	dup := Settlement{Ref: "g", EscrowIDs: []string{"e1", "e1"}, Payouts: []Payout{{To: "a", Amount: 20}}}
	assert.Error(t, dup.Check([]models.Escrow{locked("e1", "a", 10)}))

	noSink := Settlement{Ref: "g", EscrowIDs: []string{"e1"}, Payouts: []Payout{{To: "a", Amount: 9}}, Fee: 1}
	assert.Error(t, noSink.Check([]models.Escrow{locked("e1", "a", 10)}))
}

func TestRefs(t *testing.T) {
	assert.Equal(t, "coinflip:pool:10", PoolRef(models.GameCoinflip, 10))
	assert.Equal(t, "coinflip:challenge:abc", ChallengeRef("abc"))
}
