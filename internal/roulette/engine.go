// Package roulette runs six-seat elimination chambers, one per stake tier.
// The sixth admission fires the chamber: one seat is eliminated uniformly at
// random and the five survivors split the pot less the fee.
package roulette

import (
	"context"
	"fmt"
	"log"
	"strings"
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

const (
	// Seats is the number of occupants that fires a chamber.
	Seats = 6
	// Survivors is the number of seats paid out per round.
	Survivors = Seats - 1
)

type Resolver interface {
	Resolve(ctx context.Context, key, inputs string) (fairness.Resolution, error)
}

type Verifier interface {
	Verified(ctx context.Context, id string) error
}

type Config struct {
	Tiers   wager.Tiers
	FeeBps  int
	FeeSink string
}

type Options struct {
	Verifier  Verifier
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

type Engine struct {
	cfg      Config
	store    store.Store
	oracle   Resolver
	verifier Verifier
	pub      events.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time

	chambers map[int64]*chamber
}

type chamber struct {
	mu        sync.Mutex
	occupants []models.PoolEntry // admission order
	lastRound int64
}

func New(cfg Config, s store.Store, oracle Resolver, opts Options) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    s,
		oracle:   oracle,
		verifier: opts.Verifier,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		now:      time.Now,
		chambers: make(map[int64]*chamber),
	}
	for _, t := range cfg.Tiers.Amounts() {
		e.chambers[t] = &chamber{}
	}
	return e
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) Tiers() []int64 { return e.cfg.Tiers.Amounts() }

// EnterResult is the outcome of EnterChamber.
type EnterResult struct {
	Triggered  bool          `json:"triggered"`
	Eliminated string        `json:"eliminated,omitempty"`
	Occupancy  int           `json:"occupancy"`
	Round      *models.Round `json:"round,omitempty"`
}

type ChamberStatus struct {
	Tier      int64      `json:"tier"`
	Occupancy int        `json:"occupancy"`
	Occupants []string   `json:"occupants"`
	Since     *time.Time `json:"since,omitempty"`
	NextRound int64      `json:"next_round"`
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

func (c *chamber) seated(participant string) int {
	for i, o := range c.occupants {
		if o.Participant == participant {
			return i
		}
	}
	return -1
}

// EnterChamber seats caller. The sixth seat fires the round.
func (e *Engine) EnterChamber(ctx context.Context, caller string, tier int64) (res *EnterResult, err error) {
	defer func() { e.metrics.Rejected("roulette_enter", err) }()

	if err := e.cfg.Tiers.Validate(tier); err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, caller); err != nil {
		return nil, err
	}

	c := e.chambers[tier]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seated(caller) >= 0 {
		return nil, wager.Conflict(wager.CodeDuplicateEntry, "%s already seated in roulette tier %d", caller, tier)
	}
	if len(c.occupants) < Survivors {
		return e.seat(ctx, c, caller, tier)
	}
	return e.fire(ctx, c, caller, tier)
}

func (e *Engine) seat(ctx context.Context, c *chamber, caller string, tier int64) (*EnterResult, error) {
	entry := models.PoolEntry{
		Game:        models.GameRoulette,
		Tier:        tier,
		Participant: caller,
		EnteredAt:   e.now().UTC(),
	}
	occupancy := len(c.occupants) + 1

	var evs []models.Event
	err := store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		id, err := tx.Escrow(ctx, caller, tier, ledger.PoolRef(models.GameRoulette, tier))
		if err != nil {
			return err
		}
		entry.EscrowID = id
		if err := tx.PutPoolEntry(ctx, entry); err != nil {
			return err
		}
		return store.Append(ctx, tx, &evs, models.NewEvent(models.EventPlayerJoined, models.GameRoulette, tier, caller,
			map[string]int{"occupancy": occupancy}))
	})
	if err != nil {
		return nil, err
	}

	c.occupants = append(c.occupants, entry)
	log.Printf("[ROULETTE] %s seated in tier %d (%d/%d)", caller, tier, occupancy, Seats)
	e.metrics.Entered(models.GameRoulette, "seated")
	events.Emit(ctx, e.pub, evs)
	return &EnterResult{Occupancy: occupancy}, nil
}

func (e *Engine) fire(ctx context.Context, c *chamber, caller string, tier int64) (*EnterResult, error) {
	start := time.Now()
	number := c.lastRound + 1
	round := &models.Round{
		ID:     uuid.NewString(),
		Tier:   tier,
		Number: number,
		Pot:    Seats * tier,
	}
	for _, o := range c.occupants {
		round.Participants = append(round.Participants, o.Participant)
	}
	round.Participants = append(round.Participants, caller)

	key := "roulette:round:" + round.ID
	inputs := fmt.Sprintf("tier=%d|round=%d|seats=%s", tier, number, strings.Join(round.Participants, ","))

	var (
		evs       []models.Event
		abandoned error
	)
	err := store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		last, err := tx.Escrow(ctx, caller, tier, ledger.PoolRef(models.GameRoulette, tier))
		if err != nil {
			return err
		}
		escrowIDs := make([]string, 0, Seats)
		for _, o := range c.occupants {
			escrowIDs = append(escrowIDs, o.EscrowID)
		}
		escrowIDs = append(escrowIDs, last)

		for _, o := range c.occupants {
			if err := tx.DeletePoolEntry(ctx, models.GameRoulette, tier, o.Participant); err != nil {
				return err
			}
		}

		res, err := e.oracle.Resolve(ctx, key, inputs)
		if wager.KindOf(err) == wager.KindFairnessViolation {
			abandoned = err
			return e.abandon(ctx, tx, &evs, round, escrowIDs, err)
		}
		if err != nil {
			return err
		}

		round.Resolution = res
		round.EliminatedIndex = res.Index(Seats)
		round.Eliminated = round.Participants[round.EliminatedIndex]
		round.PerSurvivor, round.Fee = wager.SplitPot(round.Pot, Survivors, e.cfg.FeeBps)
		round.CreatedAt = e.now().UTC()

		payouts := make([]ledger.Payout, 0, Survivors)
		for _, p := range round.Survivors() {
			payouts = append(payouts, ledger.Payout{To: p, Amount: round.PerSurvivor})
		}
		if err := tx.Settle(ctx, ledger.Settlement{
			Ref:       key,
			EscrowIDs: escrowIDs,
			Payouts:   payouts,
			Fee:       round.Fee,
			FeeSink:   e.cfg.FeeSink,
		}); err != nil {
			return err
		}

		for i, p := range round.Participants {
			o := models.Outcome{Participant: p, Wagered: tier}
			if i == round.EliminatedIndex {
				o.Lost = tier
			} else {
				o.Won = round.PerSurvivor
				o.Win = true
			}
			if err := tx.RecordOutcome(ctx, o); err != nil {
				return err
			}
		}
		if err := tx.InsertRound(ctx, round); err != nil {
			return err
		}
		return store.Append(ctx, tx, &evs, models.NewEvent(models.EventRoundFired, models.GameRoulette, tier, round.Eliminated, map[string]interface{}{
			"round_id":     round.ID,
			"number":       round.Number,
			"eliminated":   round.Eliminated,
			"survivors":    round.Survivors(),
			"pot":          round.Pot,
			"per_survivor": round.PerSurvivor,
			"fee":          round.Fee,
		}))
	})
	if err != nil {
		return nil, err
	}

	c.occupants = nil
	events.Emit(ctx, e.pub, evs)
	if abandoned != nil {
		e.metrics.Abandoned(models.GameRoulette)
		return nil, abandoned
	}

	c.lastRound = number
	log.Printf("[ROULETTE] Round %s #%d tier=%d eliminated=%s per_survivor=%d fee=%d",
		round.ID, number, tier, round.Eliminated, round.PerSurvivor, round.Fee)
	e.metrics.Entered(models.GameRoulette, "fired")
	e.metrics.Settled(models.GameRoulette, round.Pot, round.Fee, time.Since(start))
	return &EnterResult{
		Triggered:  true,
		Eliminated: round.Eliminated,
		Occupancy:  Seats,
		Round:      round,
	}, nil
}

// abandon returns all six stakes unchanged after a fairness violation. The
// round number is not consumed.
func (e *Engine) abandon(ctx context.Context, tx store.Tx, evs *[]models.Event, round *models.Round, escrowIDs []string, cause error) error {
	for _, id := range escrowIDs {
		if err := tx.Release(ctx, id); err != nil {
			return err
		}
	}
	log.Printf("[ROULETTE] Round %s tier=%d abandoned, %d stakes returned: %v", round.ID, round.Tier, len(escrowIDs), cause)
	return store.Append(ctx, tx, evs, models.NewEvent(models.EventRoundAbandoned, models.GameRoulette, round.Tier, round.ID, map[string]interface{}{
		"participants": []string(round.Participants),
		"reason":       string(wager.CodeOf(cause)),
	}))
}

// ExitChamber releases caller's seat while the chamber is still filling.
func (e *Engine) ExitChamber(ctx context.Context, caller string, tier int64) (err error) {
	defer func() { e.metrics.Rejected("roulette_exit", err) }()

	if err := e.cfg.Tiers.Validate(tier); err != nil {
		return err
	}
	if err := wager.ValidateIdentity(caller); err != nil {
		return err
	}

	c := e.chambers[tier]
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.seated(caller)
	if idx < 0 {
		return wager.Conflict(wager.CodeNotOccupant, "%s is not seated in roulette tier %d", caller, tier)
	}
	entry := c.occupants[idx]
	occupancy := len(c.occupants) - 1

	var evs []models.Event
	err = store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		if err := tx.Release(ctx, entry.EscrowID); err != nil {
			return err
		}
		if err := tx.DeletePoolEntry(ctx, models.GameRoulette, tier, caller); err != nil {
			return err
		}
		return store.Append(ctx, tx, &evs, models.NewEvent(models.EventPlayerLeft, models.GameRoulette, tier, caller,
			map[string]int{"occupancy": occupancy}))
	})
	if err != nil {
		return err
	}

	c.occupants = append(c.occupants[:idx:idx], c.occupants[idx+1:]...)
	log.Printf("[ROULETTE] %s left tier %d (%d/%d)", caller, tier, occupancy, Seats)
	e.metrics.Exited(models.GameRoulette, "exit")
	events.Emit(ctx, e.pub, evs)
	return nil
}

func (e *Engine) ChamberStatus(tier int64) (ChamberStatus, error) {
	if err := e.cfg.Tiers.Validate(tier); err != nil {
		return ChamberStatus{}, err
	}
	return e.chambers[tier].status(tier), nil
}

func (e *Engine) Chambers() []ChamberStatus {
	out := make([]ChamberStatus, 0, len(e.chambers))
	for _, t := range e.cfg.Tiers.Amounts() {
		out = append(out, e.chambers[t].status(t))
	}
	return out
}

func (c *chamber) status(tier int64) ChamberStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ChamberStatus{
		Tier:      tier,
		Occupancy: len(c.occupants),
		Occupants: make([]string, 0, len(c.occupants)),
		NextRound: c.lastRound + 1,
	}
	for _, o := range c.occupants {
		st.Occupants = append(st.Occupants, o.Participant)
	}
	if len(c.occupants) > 0 {
		since := c.occupants[0].EnteredAt
		st.Since = &since
	}
	return st
}

// Rehydrate rebuilds seated occupants and round counters from the store.
func (e *Engine) Rehydrate(ctx context.Context) error {
	entries, err := e.store.PoolEntries(ctx, models.GameRoulette)
	if err != nil {
		return fmt.Errorf("load roulette pool entries: %w", err)
	}
	for tier, c := range e.chambers {
		last, err := e.store.LastRoundNumber(ctx, tier)
		if err != nil {
			return fmt.Errorf("load last round for tier %d: %w", tier, err)
		}
		c.mu.Lock()
		c.lastRound = last
		c.occupants = nil
		c.mu.Unlock()
	}
	for _, entry := range entries {
		c, ok := e.chambers[entry.Tier]
		if !ok {
			log.Printf("[ROULETTE] Rehydrate: %s seated in unconfigured tier %d, escrow %s left locked", entry.Participant, entry.Tier, entry.EscrowID)
			continue
		}
		c.mu.Lock()
		if len(c.occupants) < Survivors {
			c.occupants = append(c.occupants, entry)
		} else {
			log.Printf("[ROULETTE] Rehydrate: tier %d full, ignoring %s", entry.Tier, entry.Participant)
		}
		c.mu.Unlock()
	}
	log.Printf("[ROULETTE] Rehydrated %d seated entrants", len(entries))
	return nil
}

func (e *Engine) Round(ctx context.Context, id string) (*models.Round, error) {
	return e.store.Round(ctx, id)
}
