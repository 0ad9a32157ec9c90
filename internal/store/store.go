// Package store defines the unit of work every engine transition runs in.
//
// A Tx groups the value movement (escrow, settle, release), the statistics
// update, the durable pool/challenge/game/round records and the event
// appends of one transition. Either Commit makes all of it visible at once,
// or Rollback leaves no trace. Store reads never observe a half-applied Tx.
package store

import (
	"context"
	"errors"

	"github.com/shellsino/backend/internal/ledger"
	"github.com/shellsino/backend/internal/models"
)

// ErrTxDone is returned by Tx methods after Commit or Rollback.
var ErrTxDone = errors.New("store: transaction already committed or rolled back")

// Store is the read side plus the Tx factory. Read methods must not be
// called from inside an open Tx of the same store.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	Balance(ctx context.Context, owner string) (models.Balance, error)
	Entries(ctx context.Context, owner string, limit int) ([]ledger.Entry, error)
	Agent(ctx context.Context, id string) (*models.Agent, error)
	Agents(ctx context.Context, limit int) ([]models.Agent, error)
	Challenge(ctx context.Context, id string) (*models.Challenge, error)
	PendingChallenges(ctx context.Context) ([]models.Challenge, error)
	PoolEntries(ctx context.Context, game string) ([]models.PoolEntry, error)
	Game(ctx context.Context, id string) (*models.Game, error)
	Round(ctx context.Context, id string) (*models.Round, error)
	LastRoundNumber(ctx context.Context, tier int64) (int64, error)
	Events(ctx context.Context, after int64, limit int) ([]models.Event, error)

	Close() error
}

// Tx is one atomic unit of work.
type Tx interface {
	// StakeLedger
	Deposit(ctx context.Context, owner string, amount int64, ref string) error
	Escrow(ctx context.Context, owner string, amount int64, ref string) (string, error)
	Release(ctx context.Context, escrowID string) error
	Settle(ctx context.Context, s ledger.Settlement) error
	Transfer(ctx context.Context, from, to string, amount int64, ref string) error
	Balance(ctx context.Context, owner string) (models.Balance, error)

	// AgentRegistry / StatsLedger
	InsertAgent(ctx context.Context, a *models.Agent) error
	RecordOutcome(ctx context.Context, o models.Outcome) error

	// Durable engine state and facts
	PutPoolEntry(ctx context.Context, e models.PoolEntry) error
	DeletePoolEntry(ctx context.Context, game string, tier int64, participant string) error
	PutChallenge(ctx context.Context, c models.Challenge) error
	InsertGame(ctx context.Context, g *models.Game) error
	InsertRound(ctx context.Context, r *models.Round) error
	AppendEvent(ctx context.Context, e *models.Event) error

	Commit() error
	Rollback() error
}

// Append appends ev through tx and adds the sequenced copy to out, so the
// caller can publish exactly what was committed.
func Append(ctx context.Context, tx Tx, out *[]models.Event, ev models.Event) error {
	if err := tx.AppendEvent(ctx, &ev); err != nil {
		return err
	}
	*out = append(*out, ev)
	return nil
}

// RunInTx begins a Tx, runs fn and commits. Any error from fn rolls back.
func RunInTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
