// Package bankroll manages the house account: the fee sink every settlement
// credits, the capacity check backing house-funded payouts, and operator
// treasury moves.
package bankroll

import (
	"context"
	"log"

	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
)

type Reserve struct {
	store     store.Store
	sink      string
	publisher events.Publisher
}

func New(s store.Store, sink string, pub events.Publisher) *Reserve {
	return &Reserve{store: s, sink: sink, publisher: pub}
}

// Sink is the account fees are credited to.
func (r *Reserve) Sink() string { return r.sink }

func (r *Reserve) Balance(ctx context.Context) (models.Balance, error) {
	return r.store.Balance(ctx, r.sink)
}

// EnsureCapacity fails with insufficient_reserve unless the house can cover
// amount from its available balance. It reads through tx so the check and
// the payout it guards land in the same unit of work.
func (r *Reserve) EnsureCapacity(ctx context.Context, tx store.Tx, amount int64) error {
	if amount <= 0 {
		return wager.InvalidInput(wager.CodeInvalidAmount, "amount must be positive")
	}
	bal, err := tx.Balance(ctx, r.sink)
	if err != nil {
		return err
	}
	if bal.Available < amount {
		return wager.Insufficient(wager.CodeInsufficientReserve,
			"reserve holds %d, %d requested", bal.Available, amount)
	}
	return nil
}

// Sweep moves amount out of the reserve to another account.
func (r *Reserve) Sweep(ctx context.Context, to string, amount int64) (models.Balance, error) {
	if err := wager.ValidateIdentity(to); err != nil {
		return models.Balance{}, err
	}
	if to == r.sink {
		return models.Balance{}, wager.InvalidInput(wager.CodeInvalidIdentity, "cannot sweep the reserve into itself")
	}

	var (
		ev  models.Event
		bal models.Balance
	)
	err := store.RunInTx(ctx, r.store, func(tx store.Tx) error {
		if err := r.EnsureCapacity(ctx, tx, amount); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, r.sink, to, amount, "sweep:"+to); err != nil {
			return err
		}
		var err error
		if bal, err = tx.Balance(ctx, r.sink); err != nil {
			return err
		}
		ev = models.NewEvent(models.EventSweep, "", 0, to, map[string]int64{"amount": amount})
		return tx.AppendEvent(ctx, &ev)
	})
	if err != nil {
		return models.Balance{}, err
	}

	log.Printf("[BANKROLL] Swept %d from %s to %s (remaining=%d)", amount, r.sink, to, bal.Available)
	events.Emit(ctx, r.publisher, []models.Event{ev})
	return bal, nil
}

// Deposit credits owner from outside the system. It stands in for the
// external custody collaborator and is operator-only.
func (r *Reserve) Deposit(ctx context.Context, owner string, amount int64, ref string) (models.Balance, error) {
	if err := wager.ValidateIdentity(owner); err != nil {
		return models.Balance{}, err
	}
	var (
		ev  models.Event
		bal models.Balance
	)
	err := store.RunInTx(ctx, r.store, func(tx store.Tx) error {
		if err := tx.Deposit(ctx, owner, amount, ref); err != nil {
			return err
		}
		var err error
		if bal, err = tx.Balance(ctx, owner); err != nil {
			return err
		}
		ev = models.NewEvent(models.EventDeposit, "", 0, owner, map[string]interface{}{"amount": amount, "ref": ref})
		return tx.AppendEvent(ctx, &ev)
	})
	if err != nil {
		return models.Balance{}, err
	}

	log.Printf("[BANKROLL] Deposit %d to %s ref=%s", amount, owner, ref)
	events.Emit(ctx, r.publisher, []models.Event{ev})
	return bal, nil
}
