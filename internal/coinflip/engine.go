// Package coinflip runs the two-party tiered pools and direct challenges.
//
// Each tier has one matching slot. The first entrant parks in it with an
// escrowed stake; the next distinct entrant is matched immediately and the
// pair is resolved, settled and recorded in a single store unit of work.
// Slots are guarded per tier, so different tiers never contend.
package coinflip

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/fairness"
	"github.com/shellsino/backend/internal/ledger"
	"github.com/shellsino/backend/internal/metrics"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
)

// Resolver derives an outcome for a key from the locked-in inputs.
type Resolver interface {
	Resolve(ctx context.Context, key, inputs string) (fairness.Resolution, error)
}

// Verifier is the capability check run before any state change.
type Verifier interface {
	Verified(ctx context.Context, id string) error
}

type Config struct {
	Tiers        wager.Tiers
	FeeBps       int
	FeeSink      string
	ChallengeTTL time.Duration
}

type Engine struct {
	cfg      Config
	store    store.Store
	oracle   Resolver
	verifier Verifier
	pub      events.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time

	// one slot per configured tier; the map itself is never written after New
	slots map[int64]*slot

	// serializes challenge transitions
	chMu sync.Mutex
}

type slot struct {
	mu     sync.Mutex
	waiter *models.PoolEntry
}

// Options carries the optional collaborators of an Engine.
type Options struct {
	Verifier  Verifier
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

func New(cfg Config, s store.Store, oracle Resolver, opts Options) *Engine {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = time.Hour
	}
	e := &Engine{
		cfg:      cfg,
		store:    s,
		oracle:   oracle,
		verifier: opts.Verifier,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		now:      time.Now,
		slots:    make(map[int64]*slot),
	}
	for _, t := range cfg.Tiers.Amounts() {
		e.slots[t] = &slot{}
	}
	return e
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) Tiers() []int64 { return e.cfg.Tiers.Amounts() }

// EnterResult is the outcome of EnterPool.
type EnterResult struct {
	Matched  bool         `json:"matched"`
	Opponent string       `json:"opponent,omitempty"`
	Winner   string       `json:"winner,omitempty"`
	Payout   int64        `json:"payout,omitempty"`
	Game     *models.Game `json:"game,omitempty"`
}

// PoolStatus is a consistent snapshot of one tier slot.
type PoolStatus struct {
	Tier      int64      `json:"tier"`
	Occupancy int        `json:"occupancy"`
	Occupants []string   `json:"occupants"`
	Since     *time.Time `json:"since,omitempty"`
}

func (e *Engine) authorize(ctx context.Context, caller string) error {
	if err := wager.ValidateIdentity(caller); err != nil {
		return err
	}
	if e.verifier == nil {
		return nil
	}
	return e.verifier.Verified(ctx, caller)
}

// EnterPool parks caller in the tier slot, or matches and resolves against
// the waiting entrant.
func (e *Engine) EnterPool(ctx context.Context, caller string, tier int64, choice string) (res *EnterResult, err error) {
	defer func() { e.metrics.Rejected("coinflip_enter", err) }()

	if err := e.cfg.Tiers.Validate(tier); err != nil {
		return nil, err
	}
	side, err := wager.ParseChoice(choice)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, caller); err != nil {
		return nil, err
	}

	sl := e.slots[tier]
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.waiter == nil {
		return e.park(ctx, sl, caller, tier, side)
	}
	if sl.waiter.Participant == caller {
		return nil, wager.Conflict(wager.CodeDuplicateEntry, "%s already waiting in coinflip tier %d", caller, tier)
	}
	return e.match(ctx, sl, caller, tier, side)
}

func (e *Engine) park(ctx context.Context, sl *slot, caller string, tier int64, side wager.Choice) (*EnterResult, error) {
	entry := models.PoolEntry{
		Game:        models.GameCoinflip,
		Tier:        tier,
		Participant: caller,
		Choice:      string(side),
		EnteredAt:   e.now().UTC(),
	}
	var evs []models.Event
	err := store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		id, err := tx.Escrow(ctx, caller, tier, ledger.PoolRef(models.GameCoinflip, tier))
		if err != nil {
			return err
		}
		entry.EscrowID = id
		if err := tx.PutPoolEntry(ctx, entry); err != nil {
			return err
		}
		return store.Append(ctx, tx, &evs, models.NewEvent(models.EventPoolEntered, models.GameCoinflip, tier, caller, nil))
	})
	if err != nil {
		return nil, err
	}

	sl.waiter = &entry
	log.Printf("[COINFLIP] %s parked in tier %d", caller, tier)
	e.metrics.Entered(models.GameCoinflip, "parked")
	events.Emit(ctx, e.pub, evs)
	return &EnterResult{Matched: false}, nil
}

func (e *Engine) match(ctx context.Context, sl *slot, caller string, tier int64, side wager.Choice) (*EnterResult, error) {
	waiter := *sl.waiter
	start := time.Now()

	var (
		game      *models.Game
		evs       []models.Event
		abandoned error
	)
	err := store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		escrowB, err := tx.Escrow(ctx, caller, tier, ledger.PoolRef(models.GameCoinflip, tier))
		if err != nil {
			return err
		}
		pair := pairing{
			id: uuid.NewString(), tier: tier, source: models.SourcePool,
			a: waiter.Participant, choiceA: wager.Choice(waiter.Choice), escrowA: waiter.EscrowID,
			b: caller, choiceB: side, escrowB: escrowB,
		}

		res, err := e.oracle.Resolve(ctx, pair.key(), pair.inputs())
		if wager.KindOf(err) == wager.KindFairnessViolation {
			abandoned = err
			if err := tx.DeletePoolEntry(ctx, models.GameCoinflip, tier, waiter.Participant); err != nil {
				return err
			}
			return e.abandon(ctx, tx, &evs, pair, err)
		}
		if err != nil {
			return err
		}

		if game, err = e.settle(ctx, tx, pair, res); err != nil {
			return err
		}
		if err := tx.DeletePoolEntry(ctx, models.GameCoinflip, tier, waiter.Participant); err != nil {
			return err
		}
		return store.Append(ctx, tx, &evs, models.NewEvent(models.EventInstantMatch, models.GameCoinflip, tier, game.Winner, matchPayload(game)))
	})
	if err != nil {
		return nil, err
	}

	sl.waiter = nil
	events.Emit(ctx, e.pub, evs)
	if abandoned != nil {
		e.metrics.Abandoned(models.GameCoinflip)
		return nil, abandoned
	}

	e.metrics.Entered(models.GameCoinflip, "matched")
	e.metrics.Settled(models.GameCoinflip, 2*tier, game.Fee, time.Since(start))
	return &EnterResult{
		Matched:  true,
		Opponent: waiter.Participant,
		Winner:   game.Winner,
		Payout:   game.Payout,
		Game:     game,
	}, nil
}

// ExitPool releases the waiting entrant's escrow and empties the slot.
func (e *Engine) ExitPool(ctx context.Context, caller string, tier int64) (err error) {
	defer func() { e.metrics.Rejected("coinflip_exit", err) }()

	if err := e.cfg.Tiers.Validate(tier); err != nil {
		return err
	}
	if err := wager.ValidateIdentity(caller); err != nil {
		return err
	}

	sl := e.slots[tier]
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.waiter == nil || sl.waiter.Participant != caller {
		return wager.Conflict(wager.CodeNotOccupant, "%s is not waiting in coinflip tier %d", caller, tier)
	}
	waiter := *sl.waiter

	var evs []models.Event
	err = store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		if err := tx.Release(ctx, waiter.EscrowID); err != nil {
			return err
		}
		if err := tx.DeletePoolEntry(ctx, models.GameCoinflip, tier, caller); err != nil {
			return err
		}
		return store.Append(ctx, tx, &evs, models.NewEvent(models.EventPoolExited, models.GameCoinflip, tier, caller, nil))
	})
	if err != nil {
		return err
	}

	sl.waiter = nil
	log.Printf("[COINFLIP] %s left tier %d", caller, tier)
	e.metrics.Exited(models.GameCoinflip, "exit")
	events.Emit(ctx, e.pub, evs)
	return nil
}

func (e *Engine) PoolStatus(tier int64) (PoolStatus, error) {
	if err := e.cfg.Tiers.Validate(tier); err != nil {
		return PoolStatus{}, err
	}
	return e.slots[tier].status(tier), nil
}

// Pools returns the status of every tier in ascending order.
func (e *Engine) Pools() []PoolStatus {
	out := make([]PoolStatus, 0, len(e.slots))
	for _, t := range e.cfg.Tiers.Amounts() {
		out = append(out, e.slots[t].status(t))
	}
	return out
}

func (sl *slot) status(tier int64) PoolStatus {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	st := PoolStatus{Tier: tier, Occupants: []string{}}
	if sl.waiter != nil {
		since := sl.waiter.EnteredAt
		st.Occupancy = 1
		st.Occupants = append(st.Occupants, sl.waiter.Participant)
		st.Since = &since
	}
	return st
}

// Rehydrate rebuilds the tier slots from the durable pool entries.
func (e *Engine) Rehydrate(ctx context.Context) error {
	entries, err := e.store.PoolEntries(ctx, models.GameCoinflip)
	if err != nil {
		return fmt.Errorf("load coinflip pool entries: %w", err)
	}
	for i := range entries {
		entry := entries[i]
		sl, ok := e.slots[entry.Tier]
		if !ok {
			log.Printf("[COINFLIP] Rehydrate: %s waiting in unconfigured tier %d, escrow %s left locked", entry.Participant, entry.Tier, entry.EscrowID)
			continue
		}
		sl.mu.Lock()
		if sl.waiter != nil {
			log.Printf("[COINFLIP] Rehydrate: tier %d already has %s, ignoring %s", entry.Tier, sl.waiter.Participant, entry.Participant)
		} else {
			sl.waiter = &entry
		}
		sl.mu.Unlock()
	}
	log.Printf("[COINFLIP] Rehydrated %d waiting entrants", len(entries))
	return nil
}

// Game returns a resolved game with its fairness record.
func (e *Engine) Game(ctx context.Context, id string) (*models.Game, error) {
	return e.store.Game(ctx, id)
}
