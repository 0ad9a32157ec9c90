package coinflip

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/ledger"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
)

// CreateChallenge escrows caller's stake and addresses a pending challenge
// to opponent.
func (e *Engine) CreateChallenge(ctx context.Context, caller, opponent string, tier int64, choice string) (c *models.Challenge, err error) {
	defer func() { e.metrics.Rejected("challenge_create", err) }()

	if err := e.cfg.Tiers.Validate(tier); err != nil {
		return nil, err
	}
	side, err := wager.ParseChoice(choice)
	if err != nil {
		return nil, err
	}
	if err := wager.ValidateIdentity(opponent); err != nil {
		return nil, err
	}
	if caller == opponent {
		return nil, wager.InvalidInput(wager.CodeSelfChallenge, "cannot challenge yourself")
	}
	if err := e.authorize(ctx, caller); err != nil {
		return nil, err
	}

	e.chMu.Lock()
	defer e.chMu.Unlock()

	now := e.now().UTC()
	ch := models.Challenge{
		ID:        uuid.NewString(),
		Creator:   caller,
		Opponent:  opponent,
		Tier:      tier,
		Choice:    string(side),
		Status:    models.ChallengePending,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.ChallengeTTL),
	}
	var evs []models.Event
	err = store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		id, err := tx.Escrow(ctx, caller, tier, ledger.ChallengeRef(ch.ID))
		if err != nil {
			return err
		}
		ch.EscrowID = id
		if err := tx.PutChallenge(ctx, ch); err != nil {
			return err
		}
		return store.Append(ctx, tx, &evs, models.NewEvent(models.EventChallengeCreated, models.GameCoinflip, tier, caller, map[string]interface{}{
			"challenge_id": ch.ID,
			"opponent":     opponent,
			"expires_at":   ch.ExpiresAt,
		}))
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[COINFLIP] Challenge %s created: %s -> %s tier=%d expires=%s", ch.ID, caller, opponent, tier, ch.ExpiresAt.Format(time.RFC3339))
	e.metrics.Entered(models.GameCoinflip, "challenge")
	events.Emit(ctx, e.pub, evs)
	return &ch, nil
}

// AcceptChallenge resolves a pending challenge against the addressed
// opponent. An expired challenge is closed instead: the creator's stake is
// returned, that transition is committed, and challenge_expired is returned.
func (e *Engine) AcceptChallenge(ctx context.Context, caller, id, choice string) (g *models.Game, err error) {
	defer func() { e.metrics.Rejected("challenge_accept", err) }()

	side, err := wager.ParseChoice(choice)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, caller); err != nil {
		return nil, err
	}

	e.chMu.Lock()
	defer e.chMu.Unlock()

	ch, err := e.store.Challenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.Status != models.ChallengePending {
		return nil, wager.Conflict(wager.CodeChallengeNotPending, "challenge %s is %s", id, ch.Status)
	}
	if caller != ch.Opponent {
		return nil, wager.Conflict(wager.CodeNotOpponent, "challenge %s is addressed to another agent", id)
	}

	now := e.now().UTC()
	if !now.Before(ch.ExpiresAt) {
		if err := e.close(ctx, *ch, models.ChallengeExpired, models.EventChallengeExpired, "expired"); err != nil {
			return nil, err
		}
		return nil, wager.Conflict(wager.CodeChallengeExpired, "challenge %s expired at %s", id, ch.ExpiresAt.Format(time.RFC3339))
	}

	start := time.Now()
	var (
		game      *models.Game
		evs       []models.Event
		abandoned error
	)
	err = store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		escrowB, err := tx.Escrow(ctx, caller, ch.Tier, ledger.ChallengeRef(ch.ID))
		if err != nil {
			return err
		}
		pair := pairing{
			id: uuid.NewString(), tier: ch.Tier, source: models.SourceChallenge,
			a: ch.Creator, choiceA: wager.Choice(ch.Choice), escrowA: ch.EscrowID,
			b: caller, choiceB: side, escrowB: escrowB,
		}
		closed := *ch
		closed.ClosedAt = &now

		res, err := e.oracle.Resolve(ctx, pair.key(), pair.inputs())
		if wager.KindOf(err) == wager.KindFairnessViolation {
			abandoned = err
			closed.Status = models.ChallengeAbandoned
			if err := tx.PutChallenge(ctx, closed); err != nil {
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
		closed.Status = models.ChallengeResolved
		closed.GameID = game.ID
		if err := tx.PutChallenge(ctx, closed); err != nil {
			return err
		}
		payload := matchPayload(game)
		payload["challenge_id"] = ch.ID
		return store.Append(ctx, tx, &evs, models.NewEvent(models.EventChallengeAccepted, models.GameCoinflip, ch.Tier, caller, payload))
	})
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, e.pub, evs)
	if abandoned != nil {
		e.metrics.Abandoned(models.GameCoinflip)
		return nil, abandoned
	}
	e.metrics.Settled(models.GameCoinflip, 2*ch.Tier, game.Fee, time.Since(start))
	return game, nil
}

// CancelChallenge returns the creator's stake. Only the creator may cancel,
// and only while the challenge is pending (expired or not).
func (e *Engine) CancelChallenge(ctx context.Context, caller, id string) (c *models.Challenge, err error) {
	defer func() { e.metrics.Rejected("challenge_cancel", err) }()

	if err := wager.ValidateIdentity(caller); err != nil {
		return nil, err
	}

	e.chMu.Lock()
	defer e.chMu.Unlock()

	ch, err := e.store.Challenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != ch.Creator {
		return nil, wager.Conflict(wager.CodeNotCreator, "only the creator may cancel challenge %s", id)
	}
	if ch.Status != models.ChallengePending {
		return nil, wager.Conflict(wager.CodeChallengeNotPending, "challenge %s is %s", id, ch.Status)
	}
	if err := e.close(ctx, *ch, models.ChallengeCancelled, models.EventChallengeCancelled, "cancel"); err != nil {
		return nil, err
	}
	return e.store.Challenge(ctx, id)
}

// close releases a pending challenge's escrow and moves it to status.
// Callers hold chMu.
func (e *Engine) close(ctx context.Context, ch models.Challenge, status, eventType, reason string) error {
	now := e.now().UTC()
	ch.Status = status
	ch.ClosedAt = &now

	var evs []models.Event
	err := store.RunInTx(ctx, e.store, func(tx store.Tx) error {
		if err := tx.Release(ctx, ch.EscrowID); err != nil {
			return err
		}
		if err := tx.PutChallenge(ctx, ch); err != nil {
			return err
		}
		return store.Append(ctx, tx, &evs, models.NewEvent(eventType, models.GameCoinflip, ch.Tier, ch.Creator, map[string]interface{}{
			"challenge_id": ch.ID,
			"opponent":     ch.Opponent,
			"refund":       ch.Tier,
		}))
	})
	if err != nil {
		return err
	}

	log.Printf("[COINFLIP] Challenge %s %s, %d returned to %s", ch.ID, status, ch.Tier, ch.Creator)
	e.metrics.Exited(models.GameCoinflip, reason)
	events.Emit(ctx, e.pub, evs)
	return nil
}

func (e *Engine) Challenge(ctx context.Context, id string) (*models.Challenge, error) {
	return e.store.Challenge(ctx, id)
}

// PendingChallenges lists pending challenges created by or addressed to
// identity, oldest first.
func (e *Engine) PendingChallenges(ctx context.Context, identity string) ([]models.Challenge, error) {
	all, err := e.store.PendingChallenges(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Challenge, 0, len(all))
	for _, c := range all {
		if c.Creator == identity || c.Opponent == identity {
			out = append(out, c)
		}
	}
	return out, nil
}
