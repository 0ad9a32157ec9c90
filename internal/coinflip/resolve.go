package coinflip

import (
	"context"
	"fmt"
	"log"

	"github.com/shellsino/backend/internal/fairness"
	"github.com/shellsino/backend/internal/ledger"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
)

// pairing is two escrowed entrants about to be resolved. A entered first
// (pool waiter or challenge creator).
type pairing struct {
	id      string
	tier    int64
	source  string
	a, b    string
	choiceA wager.Choice
	choiceB wager.Choice
	escrowA string
	escrowB string
}

func (p pairing) key() string { return "coinflip:game:" + p.id }

func (p pairing) inputs() string {
	return fmt.Sprintf("tier=%d|a=%s:%s|b=%s:%s", p.tier, p.a, p.choiceA, p.b, p.choiceB)
}

// winner applies the outcome bit. When the two sides differ the entrant who
// called the outcome wins; when they are equal the bit picks by position.
func (p pairing) winner(bit int) string {
	outcome := wager.ChoiceFromBit(bit)
	if p.choiceA != p.choiceB {
		if p.choiceA == outcome {
			return p.a
		}
		return p.b
	}
	if bit == 0 {
		return p.a
	}
	return p.b
}

// settle pays the winner, credits the fee sink, folds both outcomes into the
// agents' stats and records the game, all through tx.
func (e *Engine) settle(ctx context.Context, tx store.Tx, p pairing, res fairness.Resolution) (*models.Game, error) {
	payout, fee := wager.SplitPot(2*p.tier, 1, e.cfg.FeeBps)
	winner := p.winner(res.Bit())

	game := &models.Game{
		ID:         p.id,
		Tier:       p.tier,
		Source:     p.source,
		PlayerA:    p.a,
		ChoiceA:    string(p.choiceA),
		PlayerB:    p.b,
		ChoiceB:    string(p.choiceB),
		Outcome:    string(wager.ChoiceFromBit(res.Bit())),
		Winner:     winner,
		Payout:     payout,
		Fee:        fee,
		Resolution: res,
		CreatedAt:  e.now().UTC(),
	}

	if err := tx.Settle(ctx, ledger.Settlement{
		Ref:       p.key(),
		EscrowIDs: []string{p.escrowA, p.escrowB},
		Payouts:   []ledger.Payout{{To: winner, Amount: payout}},
		Fee:       fee,
		FeeSink:   e.cfg.FeeSink,
	}); err != nil {
		return nil, err
	}
	if err := tx.RecordOutcome(ctx, models.Outcome{Participant: winner, Wagered: p.tier, Won: payout, Win: true}); err != nil {
		return nil, err
	}
	if err := tx.RecordOutcome(ctx, models.Outcome{Participant: game.Loser(), Wagered: p.tier, Lost: p.tier}); err != nil {
		return nil, err
	}
	if err := tx.InsertGame(ctx, game); err != nil {
		return nil, err
	}

	log.Printf("[COINFLIP] Game %s tier=%d %s(%s) vs %s(%s) outcome=%s winner=%s payout=%d fee=%d",
		game.ID, p.tier, p.a, p.choiceA, p.b, p.choiceB, game.Outcome, winner, payout, fee)
	return game, nil
}

// abandon returns both stakes unchanged after a fairness violation and
// records the abandonment. The pool or challenge bookkeeping is the caller's.
func (e *Engine) abandon(ctx context.Context, tx store.Tx, evs *[]models.Event, p pairing, cause error) error {
	if err := tx.Release(ctx, p.escrowA); err != nil {
		return err
	}
	if err := tx.Release(ctx, p.escrowB); err != nil {
		return err
	}
	log.Printf("[COINFLIP] Game %s tier=%d abandoned, stakes returned to %s and %s: %v", p.id, p.tier, p.a, p.b, cause)
	return store.Append(ctx, tx, evs, models.NewEvent(models.EventGameAbandoned, models.GameCoinflip, p.tier, p.id, map[string]interface{}{
		"source":       p.source,
		"participants": []string{p.a, p.b},
		"reason":       string(wager.CodeOf(cause)),
	}))
}

func matchPayload(g *models.Game) map[string]interface{} {
	return map[string]interface{}{
		"game_id": g.ID,
		"source":  g.Source,
		"players": []string{g.PlayerA, g.PlayerB},
		"outcome": g.Outcome,
		"winner":  g.Winner,
		"payout":  g.Payout,
		"fee":     g.Fee,
	}
}
