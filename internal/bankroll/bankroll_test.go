package bankroll

import (
	"context"
	"testing"

	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/store/memory"
	"github.com/shellsino/backend/internal/wager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositAndSweep(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &events.Recorder{}
	r := New(s, "house", rec)

	bal, err := r.Deposit(ctx, "house", 30, "seed")
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal.Available)

	left, err := r.Sweep(ctx, "treasury", 25)
	require.NoError(t, err)
	assert.Equal(t, int64(5), left.Available)

	tr, _ := s.Balance(ctx, "treasury")
	assert.Equal(t, int64(25), tr.Available)

	_, err = r.Sweep(ctx, "treasury", 6)
	assert.Equal(t, wager.CodeInsufficientReserve, wager.CodeOf(err))
	assert.Equal(t, wager.KindInsufficientFunds, wager.KindOf(err))

	_, err = r.Sweep(ctx, "house", 1)
	assert.Error(t, err)

	assert.Equal(t, []string{models.EventDeposit, models.EventSweep}, rec.Types())
	house, _ := r.Balance(ctx)
	assert.Equal(t, int64(5), house.Available)
}

func TestEnsureCapacityInsideTx(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := New(s, "house", nil)

	err := store.RunInTx(ctx, s, func(tx store.Tx) error {
		if err := tx.Deposit(ctx, "house", 10, "seed"); err != nil {
			return err
		}
		if err := r.EnsureCapacity(ctx, tx, 10); err != nil {
			return err
		}
		return r.EnsureCapacity(ctx, tx, 11)
	})
	assert.Equal(t, wager.CodeInsufficientReserve, wager.CodeOf(err))

	// the failed unit of work left nothing behind
	bal, _ := r.Balance(ctx)
	assert.Equal(t, int64(0), bal.Available)
	assert.Equal(t, "house", r.Sink())
}

func TestDepositRejectsBadInput(t *testing.T) {
	r := New(memory.New(), "house", nil)
	_, err := r.Deposit(context.Background(), "alice", 0, "x")
	assert.Equal(t, wager.CodeInvalidAmount, wager.CodeOf(err))
	_, err = r.Deposit(context.Background(), "", 5, "x")
	assert.Equal(t, wager.CodeInvalidIdentity, wager.CodeOf(err))
}
