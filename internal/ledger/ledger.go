// Package ledger holds the value-movement rules shared by every store
// backend: what a settlement is and when it conserves funds.
package ledger

import (
	"fmt"

	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/wager"
)

// ledger entry kinds, one row per balance movement
const (
	EntryDeposit = "DEPOSIT"
	EntryEscrow  = "ESCROW"
	EntryRelease = "RELEASE"
	EntryPayout  = "PAYOUT"
	EntryFee     = "FEE"
	EntrySweep   = "SWEEP"
)

// Entry is one journal row.
type Entry struct {
	ID     int64  `db:"id" json:"id"`
	Owner  string `db:"owner" json:"owner"`
	Kind   string `db:"kind" json:"kind"`
	Amount int64  `db:"amount" json:"amount"`
	Ref    string `db:"ref" json:"ref"`
}

// Payout credits Amount to To out of the settled escrows.
type Payout struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// Settlement distributes a batch of locked escrows. Sum(payouts) + Fee must
// equal the sum of the escrowed amounts exactly.
type Settlement struct {
	Ref       string
	EscrowIDs []string
	Payouts   []Payout
	Fee       int64
	FeeSink   string
}

// Total is everything the settlement pays out, fee included.
func (s Settlement) Total() int64 {
	total := s.Fee
	for _, p := range s.Payouts {
		total += p.Amount
	}
	return total
}

// Check validates the settlement against the escrows it consumes. Backends
// call it after locking the escrow rows and before moving any value.
func (s Settlement) Check(escrows []models.Escrow) error {
	if len(s.EscrowIDs) == 0 {
		return wager.InvalidInput(wager.CodeConservation, "settlement %s has no escrows", s.Ref)
	}
	if s.Fee < 0 {
		return wager.InvalidInput(wager.CodeConservation, "settlement %s has negative fee", s.Ref)
	}
	if s.Fee > 0 && s.FeeSink == "" {
		return wager.InvalidInput(wager.CodeConservation, "settlement %s has a fee but no sink", s.Ref)
	}
	for _, p := range s.Payouts {
		if p.Amount < 0 || p.To == "" {
			return wager.InvalidInput(wager.CodeConservation, "settlement %s has invalid payout %+v", s.Ref, p)
		}
	}

	byID := make(map[string]models.Escrow, len(escrows))
	for _, e := range escrows {
		byID[e.ID] = e
	}
	seen := make(map[string]bool, len(s.EscrowIDs))
	var escrowed int64
	for _, id := range s.EscrowIDs {
		if seen[id] {
			return wager.InvalidInput(wager.CodeConservation, "escrow %s listed twice in settlement %s", id, s.Ref)
		}
		seen[id] = true
		e, ok := byID[id]
		if !ok {
			return wager.Conflict(wager.CodeEscrowNotFound, "escrow %s not found", id)
		}
		if e.Status != models.EscrowLocked {
			return wager.Conflict(wager.CodeEscrowClosed, "escrow %s is %s", id, e.Status)
		}
		escrowed += e.Amount
	}

	if paid := s.Total(); paid != escrowed {
		return wager.Fairness(wager.CodeConservation,
			"settlement %s pays %d but escrows hold %d", s.Ref, paid, escrowed)
	}
	return nil
}

// PoolRef is the escrow reference of a pool or chamber entry.
func PoolRef(game string, tier int64) string {
	return fmt.Sprintf("%s:pool:%d", game, tier)
}

// ChallengeRef is the escrow reference of a challenge stake.
func ChallengeRef(id string) string {
	return "coinflip:challenge:" + id
}
