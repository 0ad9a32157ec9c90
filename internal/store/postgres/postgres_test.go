package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shellsino/backend/internal/database"
	"github.com/shellsino/backend/internal/fairness"
	"github.com/shellsino/backend/internal/ledger"
	"github.com/shellsino/backend/internal/migrations"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to TEST_DATABASE_URL and applies the migrations.
// Tests using it are skipped when the variable is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, migrations.RunMigrations(url, filepath.Join("..", "..", "..", migrations.DefaultDir)))

	db, err := database.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

// owner returns a unique account name so runs do not collide.
func owner(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestPostgresEscrowSettle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, b, house := owner("a"), owner("b"), owner("house")

	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		if err := tx.Deposit(ctx, a, 100, "seed"); err != nil {
			return err
		}
		return tx.Deposit(ctx, b, 100, "seed")
	}))

	var e1, e2 string
	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		var err error
		if e1, err = tx.Escrow(ctx, a, 10, ledger.PoolRef(models.GameCoinflip, 10)); err != nil {
			return err
		}
		e2, err = tx.Escrow(ctx, b, 10, ledger.PoolRef(models.GameCoinflip, 10))
		return err
	}))

	gameID := uuid.NewString()
	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		if err := tx.Settle(ctx, ledger.Settlement{
			Ref: gameID, EscrowIDs: []string{e1, e2},
			Payouts: []ledger.Payout{{To: a, Amount: 19}}, Fee: 1, FeeSink: house,
		}); err != nil {
			return err
		}
		if err := tx.RecordOutcome(ctx, models.Outcome{Participant: a, Wagered: 10, Won: 19, Win: true}); err != nil {
			return err
		}
		return tx.InsertGame(ctx, &models.Game{
			ID: gameID, Tier: 10, Source: models.SourcePool,
			PlayerA: a, ChoiceA: "heads", PlayerB: b, ChoiceB: "tails",
			Outcome: "heads", Winner: a, Payout: 19, Fee: 1,
			Resolution: fairness.Resolution{Key: "coinflip:game:" + gameID, Seed: "00"},
		})
	}))

	ba, _ := s.Balance(ctx, a)
	bb, _ := s.Balance(ctx, b)
	bh, _ := s.Balance(ctx, house)
	assert.Equal(t, int64(109), ba.Available)
	assert.Equal(t, int64(90), bb.Available)
	assert.Equal(t, int64(1), bh.Available)
	assert.Equal(t, int64(0), ba.Locked+bb.Locked)

	g, err := s.Game(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, a, g.Winner)
	assert.Equal(t, "coinflip:game:"+gameID, g.Resolution.Key)

	agent, err := s.Agent(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agent.Wins)
	assert.Equal(t, int64(19), agent.TotalWon)

	err = store.RunInTx(ctx, s, func(tx store.Tx) error {
		return tx.Release(ctx, e1)
	})
	assert.Equal(t, wager.CodeEscrowClosed, wager.CodeOf(err))
}

func TestPostgresRollbackAndDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := owner("a")

	boom := errors.New("boom")
	err := store.RunInTx(ctx, s, func(tx store.Tx) error {
		require.NoError(t, tx.Deposit(ctx, a, 50, "seed"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	bal, _ := s.Balance(ctx, a)
	assert.Equal(t, int64(0), bal.Available)

	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		if err := tx.Deposit(ctx, a, 50, "seed"); err != nil {
			return err
		}
		id, err := tx.Escrow(ctx, a, 10, "roulette:pool:10")
		if err != nil {
			return err
		}
		return tx.PutPoolEntry(ctx, models.PoolEntry{Game: models.GameRoulette, Tier: 10, Participant: a, EscrowID: id})
	}))

	err = store.RunInTx(ctx, s, func(tx store.Tx) error {
		id, err := tx.Escrow(ctx, a, 10, "roulette:pool:10")
		if err != nil {
			return err
		}
		return tx.PutPoolEntry(ctx, models.PoolEntry{Game: models.GameRoulette, Tier: 10, Participant: a, EscrowID: id})
	})
	assert.True(t, errors.Is(err, wager.ErrDuplicateEntry))
	bal, _ = s.Balance(ctx, a)
	assert.Equal(t, models.Balance{Owner: a, Available: 40, Locked: 10}, bal)

	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		return tx.InsertAgent(ctx, &models.Agent{ID: a, Name: "first"})
	}))
	err = store.RunInTx(ctx, s, func(tx store.Tx) error {
		return tx.InsertAgent(ctx, &models.Agent{ID: a, Name: "second"})
	})
	assert.Equal(t, wager.CodeAlreadyRegistered, wager.CodeOf(err))
}

func TestPostgresEventsOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
			ev := models.NewEvent(models.EventPlayerJoined, models.GameRoulette, 10, "p", map[string]int{"i": i})
			if err := tx.AppendEvent(ctx, &ev); err != nil {
				return err
			}
			seqs = append(seqs, ev.Seq)
			return nil
		}))
	}
	require.Len(t, seqs, 3)
	assert.Less(t, seqs[0], seqs[1])
	assert.Less(t, seqs[1], seqs[2])

	events, err := s.Events(ctx, seqs[0], 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, seqs[1], events[0].Seq)
}

func TestPostgresEventStreamsDoNotBlockEachOther(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx10, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx10.Rollback()
	ev10 := models.NewEvent(models.EventPlayerJoined, models.GameRoulette, 10, "p", nil)
	require.NoError(t, tx10.AppendEvent(ctx, &ev10))

	// a second tier appends while the first transaction is still open
	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	tx25, err := s.Begin(waitCtx)
	require.NoError(t, err)
	defer tx25.Rollback()
	ev25 := models.NewEvent(models.EventPlayerJoined, models.GameRoulette, 25, "q", nil)
	require.NoError(t, tx25.AppendEvent(waitCtx, &ev25))
	require.NoError(t, tx25.Commit())
	require.NoError(t, tx10.Commit())

	from := ev10.Seq
	if ev25.Seq < from {
		from = ev25.Seq
	}
	events, err := s.Events(ctx, from-1, 0)
	require.NoError(t, err)
	seen := map[int64]bool{}
	for i, ev := range events {
		if i > 0 {
			assert.Greater(t, ev.Seq, events[i-1].Seq)
		}
		seen[ev.Seq] = true
	}
	assert.True(t, seen[ev10.Seq])
	assert.True(t, seen[ev25.Seq])
}
