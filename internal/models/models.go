package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/shellsino/backend/internal/fairness"
)

// Game names used as keys for pools, escrow references and events.
const (
	GameCoinflip = "coinflip"
	GameRoulette = "roulette"
)

// Agent is a registered participant and its running statistics.
type Agent struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	RegisteredAt time.Time `db:"registered_at" json:"registered_at"`
	GamesPlayed  int64     `db:"games_played" json:"games_played"`
	Wins         int64     `db:"wins" json:"wins"`
	Losses       int64     `db:"losses" json:"losses"`
	TotalWagered int64     `db:"total_wagered" json:"total_wagered"`
	TotalWon     int64     `db:"total_won" json:"total_won"`
	TotalLost    int64     `db:"total_lost" json:"total_lost"`
}

// Outcome is one participant's share of a settlement, folded into Agent stats.
type Outcome struct {
	Participant string
	Wagered     int64
	Won         int64
	Lost        int64
	Win         bool
}

// Balance is an owner's spendable and escrowed amounts in base units.
type Balance struct {
	Owner     string `db:"owner" json:"owner"`
	Available int64  `db:"available" json:"available"`
	Locked    int64  `db:"locked" json:"locked"`
}

// Escrow statuses
const (
	EscrowLocked   = "LOCKED"
	EscrowSettled  = "SETTLED"
	EscrowReleased = "RELEASED"
)

// Escrow is a stake locked for one pending settlement.
type Escrow struct {
	ID        string     `db:"id" json:"id"`
	Owner     string     `db:"owner" json:"owner"`
	Amount    int64      `db:"amount" json:"amount"`
	Ref       string     `db:"ref" json:"ref"`
	Status    string     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ClosedAt  *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// PoolEntry is a participant parked in a tier pool (coinflip slot or
// roulette chamber seat).
type PoolEntry struct {
	Game        string    `db:"game" json:"game"`
	Tier        int64     `db:"tier" json:"tier"`
	Participant string    `db:"participant" json:"participant"`
	Choice      string    `db:"choice" json:"choice,omitempty"`
	EscrowID    string    `db:"escrow_id" json:"escrow_id"`
	EnteredAt   time.Time `db:"entered_at" json:"entered_at"`
}

// Challenge statuses
const (
	ChallengePending   = "PENDING"
	ChallengeResolved  = "RESOLVED"
	ChallengeCancelled = "CANCELLED"
	ChallengeExpired   = "EXPIRED"
	ChallengeAbandoned = "ABANDONED"
)

// Challenge is a directed coinflip invitation.
type Challenge struct {
	ID        string     `db:"id" json:"id"`
	Creator   string     `db:"creator" json:"creator"`
	Opponent  string     `db:"opponent" json:"opponent"`
	Tier      int64      `db:"tier" json:"tier"`
	Choice    string     `db:"choice" json:"choice"`
	EscrowID  string     `db:"escrow_id" json:"escrow_id"`
	Status    string     `db:"status" json:"status"`
	GameID    string     `db:"game_id" json:"game_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	ClosedAt  *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// Game sources
const (
	SourcePool      = "pool"
	SourceChallenge = "challenge"
)

// Game is a resolved coinflip pair. Player A entered first (pool waiter or
// challenge creator).
type Game struct {
	ID         string              `db:"id" json:"id"`
	Tier       int64               `db:"tier" json:"tier"`
	Source     string              `db:"source" json:"source"`
	PlayerA    string              `db:"player_a" json:"player_a"`
	ChoiceA    string              `db:"choice_a" json:"choice_a"`
	PlayerB    string              `db:"player_b" json:"player_b"`
	ChoiceB    string              `db:"choice_b" json:"choice_b"`
	Outcome    string              `db:"outcome" json:"outcome"`
	Winner     string              `db:"winner" json:"winner"`
	Payout     int64               `db:"payout" json:"payout"`
	Fee        int64               `db:"fee" json:"fee"`
	Resolution fairness.Resolution `db:"-" json:"resolution"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
}

// Loser returns the participant who did not win.
func (g *Game) Loser() string {
	if g.Winner == g.PlayerA {
		return g.PlayerB
	}
	return g.PlayerA
}

// Round is a fired six-seat roulette chamber.
type Round struct {
	ID              string              `db:"id" json:"id"`
	Tier            int64               `db:"tier" json:"tier"`
	Number          int64               `db:"number" json:"number"`
	Participants    pq.StringArray      `db:"participants" json:"participants"`
	EliminatedIndex int                 `db:"eliminated_index" json:"eliminated_index"`
	Eliminated      string              `db:"eliminated" json:"eliminated"`
	Pot             int64               `db:"pot" json:"pot"`
	PerSurvivor     int64               `db:"per_survivor" json:"per_survivor"`
	Fee             int64               `db:"fee" json:"fee"`
	Resolution      fairness.Resolution `db:"-" json:"resolution"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
}

// Survivors returns every participant except the eliminated one, in seat order.
func (r *Round) Survivors() []string {
	out := make([]string, 0, len(r.Participants))
	for i, p := range r.Participants {
		if i != r.EliminatedIndex {
			out = append(out, p)
		}
	}
	return out
}

// Event types
const (
	EventPoolEntered        = "PoolEntered"
	EventPoolExited         = "PoolExited"
	EventInstantMatch       = "InstantMatch"
	EventGameAbandoned      = "GameAbandoned"
	EventChallengeCreated   = "ChallengeCreated"
	EventChallengeAccepted  = "ChallengeAccepted"
	EventChallengeCancelled = "ChallengeCancelled"
	EventChallengeExpired   = "ChallengeExpired"
	EventPlayerJoined       = "PlayerJoined"
	EventPlayerLeft         = "PlayerLeft"
	EventRoundFired         = "RoundFired"
	EventRoundAbandoned     = "RoundAbandoned"
	EventAgentRegistered    = "AgentRegistered"
	EventDeposit            = "Deposit"
	EventSweep              = "Sweep"
)

// Event is an immutable life-cycle record. Seq is assigned by the store when
// the unit of work that produced the event commits its append.
type Event struct {
	Seq       int64           `db:"seq" json:"seq"`
	Type      string          `db:"type" json:"type"`
	Game      string          `db:"game" json:"game,omitempty"`
	Tier      int64           `db:"tier" json:"tier,omitempty"`
	Subject   string          `db:"subject" json:"subject,omitempty"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// NewEvent builds an event with a JSON payload. Marshal failures produce an
// empty object; payloads are plain maps and structs.
func NewEvent(typ, game string, tier int64, subject string, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return Event{
		Type:    typ,
		Game:    game,
		Tier:    tier,
		Subject: subject,
		Payload: data,
	}
}
