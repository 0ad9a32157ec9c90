package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shellsino/backend/internal/ledger"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fund(t *testing.T, s *Store, owner string, amount int64) {
	t.Helper()
	require.NoError(t, store.RunInTx(context.Background(), s, func(tx store.Tx) error {
		return tx.Deposit(context.Background(), owner, amount, "test")
	}))
}

func TestEscrowSettleConservesFunds(t *testing.T) {
	ctx := context.Background()
	s := New()
	fund(t, s, "a", 100)
	fund(t, s, "b", 100)

	var e1, e2 string
	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		var err error
		if e1, err = tx.Escrow(ctx, "a", 10, "coinflip:pool:10"); err != nil {
			return err
		}
		e2, err = tx.Escrow(ctx, "b", 10, "coinflip:pool:10")
		return err
	}))

	bal, _ := s.Balance(ctx, "a")
	assert.Equal(t, models.Balance{Owner: "a", Available: 90, Locked: 10}, bal)

	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		return tx.Settle(ctx, ledger.Settlement{
			Ref:       "g1",
			EscrowIDs: []string{e1, e2},
			Payouts:   []ledger.Payout{{To: "b", Amount: 19}},
			Fee:       1,
			FeeSink:   "house",
		})
	}))

	a, _ := s.Balance(ctx, "a")
	b, _ := s.Balance(ctx, "b")
	h, _ := s.Balance(ctx, "house")
	assert.Equal(t, int64(90), a.Available)
	assert.Equal(t, int64(0), a.Locked)
	assert.Equal(t, int64(109), b.Available)
	assert.Equal(t, int64(1), h.Available)
	assert.Equal(t, int64(200), a.Available+b.Available+h.Available)

	// Settling the same escrows again is rejected.
	err := store.RunInTx(ctx, s, func(tx store.Tx) error {
		return tx.Settle(ctx, ledger.Settlement{Ref: "g1", EscrowIDs: []string{e1, e2}, Payouts: []ledger.Payout{{To: "b", Amount: 20}}})
	})
	assert.Equal(t, wager.CodeEscrowClosed, wager.CodeOf(err))
}

func TestEscrowInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	s := New()
	fund(t, s, "a", 5)

	err := store.RunInTx(ctx, s, func(tx store.Tx) error {
		_, err := tx.Escrow(ctx, "a", 10, "ref")
		return err
	})
	assert.True(t, errors.Is(err, wager.ErrInsufficientFunds))
	bal, _ := s.Balance(ctx, "a")
	assert.Equal(t, int64(5), bal.Available)
}

func TestReleaseReturnsStakeUnchanged(t *testing.T) {
	ctx := context.Background()
	s := New()
	fund(t, s, "a", 25)

	var id string
	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		var err error
		id, err = tx.Escrow(ctx, "a", 25, "ref")
		return err
	}))
	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error { return tx.Release(ctx, id) }))

	bal, _ := s.Balance(ctx, "a")
	assert.Equal(t, models.Balance{Owner: "a", Available: 25}, bal)

	err := store.RunInTx(ctx, s, func(tx store.Tx) error { return tx.Release(ctx, id) })
	assert.Equal(t, wager.CodeEscrowClosed, wager.CodeOf(err))

	entries, _ := s.Entries(ctx, "a", 0)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.EntryRelease, entries[0].Kind)
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()
	fund(t, s, "a", 50)

	boom := errors.New("boom")
	err := store.RunInTx(ctx, s, func(tx store.Tx) error {
		id, err := tx.Escrow(ctx, "a", 10, "coinflip:pool:10")
		require.NoError(t, err)
		require.NoError(t, tx.PutPoolEntry(ctx, models.PoolEntry{Game: "coinflip", Tier: 10, Participant: "a", EscrowID: id}))
		require.NoError(t, tx.RecordOutcome(ctx, models.Outcome{Participant: "a", Wagered: 10, Win: true}))
		require.NoError(t, tx.InsertAgent(ctx, &models.Agent{ID: "z", Name: "zed"}))
		require.NoError(t, tx.PutChallenge(ctx, models.Challenge{ID: "c1", Status: models.ChallengePending}))
		require.NoError(t, tx.InsertGame(ctx, &models.Game{ID: "g1"}))
		require.NoError(t, tx.InsertRound(ctx, &models.Round{ID: "r1", Tier: 10, Number: 1}))
		ev := models.NewEvent(models.EventPoolEntered, "coinflip", 10, "a", nil)
		require.NoError(t, tx.AppendEvent(ctx, &ev))
		require.NoError(t, tx.Deposit(ctx, "new-owner", 5, "x"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, _ := s.Balance(ctx, "a")
	assert.Equal(t, models.Balance{Owner: "a", Available: 50}, bal)
	entries, _ := s.PoolEntries(ctx, "coinflip")
	assert.Empty(t, entries)
	_, err = s.Agent(ctx, "a")
	assert.Error(t, err)
	_, err = s.Agent(ctx, "z")
	assert.Error(t, err)
	_, err = s.Challenge(ctx, "c1")
	assert.Error(t, err)
	_, err = s.Game(ctx, "g1")
	assert.Error(t, err)
	_, err = s.Round(ctx, "r1")
	assert.Error(t, err)
	n, _ := s.LastRoundNumber(ctx, 10)
	assert.Equal(t, int64(0), n)
	events, _ := s.Events(ctx, 0, 0)
	assert.Empty(t, events)
	nb, _ := s.Balance(ctx, "new-owner")
	assert.Equal(t, int64(0), nb.Available)
	ledgerRows, _ := s.Entries(ctx, "a", 0)
	assert.Len(t, ledgerRows, 1)
}

func TestTxClosedAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), store.ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(), store.ErrTxDone)
	assert.ErrorIs(t, tx.Deposit(ctx, "a", 1, ""), store.ErrTxDone)
}

func TestPoolEntriesKeepAdmissionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		for _, p := range []string{"p3", "p1", "p2"} {
			if err := tx.PutPoolEntry(ctx, models.PoolEntry{Game: "roulette", Tier: 10, Participant: p}); err != nil {
				return err
			}
		}
		return nil
	}))

	err := store.RunInTx(ctx, s, func(tx store.Tx) error {
		return tx.PutPoolEntry(ctx, models.PoolEntry{Game: "roulette", Tier: 10, Participant: "p1"})
	})
	assert.True(t, errors.Is(err, wager.ErrDuplicateEntry))

	entries, _ := s.PoolEntries(ctx, "roulette")
	require.Len(t, entries, 3)
	assert.Equal(t, "p3", entries[0].Participant)
	assert.Equal(t, "p1", entries[1].Participant)
	assert.Equal(t, "p2", entries[2].Participant)
}

func TestEventsAreSequenced(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
			ev := models.NewEvent(models.EventPlayerJoined, "roulette", 10, "p", map[string]int{"i": i})
			return tx.AppendEvent(ctx, &ev)
		}))
	}
	events, _ := s.Events(ctx, 1, 0)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)

	limited, _ := s.Events(ctx, 0, 1)
	assert.Len(t, limited, 1)
}
