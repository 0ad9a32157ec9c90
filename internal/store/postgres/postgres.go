// Package postgres is the durable store. Every Tx is a single database
// transaction; balance and escrow rows are locked FOR UPDATE before they are
// checked or moved, and event appends are serialized with an advisory lock so
// sequence order matches commit order.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shellsino/backend/internal/fairness"
	"github.com/shellsino/backend/internal/ledger"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
)

// eventLockClass is the first key of the two-key pg_advisory_xact_lock taken
// per event stream (game and tier). The second key hashes the stream name.
const eventLockClass = 0x5e11

const uniqueViolation = "23505"

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	t, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &tx{tx: t}, nil
}

func isUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

const balanceCols = `owner, available, locked`
const agentCols = `id, name, registered_at, games_played, wins, losses, total_wagered, total_won, total_lost`
const challengeCols = `id, creator, opponent, tier, choice, escrow_id, status, game_id, created_at, expires_at, closed_at`
const poolCols = `game, tier, participant, choice, escrow_id, entered_at`
const gameCols = `id, tier, source, player_a, choice_a, player_b, choice_b, outcome, winner, payout, fee, resolution, created_at`
const roundCols = `id, tier, number, participants, eliminated_index, eliminated, pot, per_survivor, fee, resolution, created_at`
const eventCols = `seq, type, game, tier, subject, payload, created_at`

// gameRow and roundRow carry the JSONB resolution next to the model.
type gameRow struct {
	models.Game
	ResolutionJSON []byte `db:"resolution"`
}

func (r gameRow) model() (*models.Game, error) {
	g := r.Game
	if err := json.Unmarshal(r.ResolutionJSON, &g.Resolution); err != nil {
		return nil, fmt.Errorf("decode game %s resolution: %w", g.ID, err)
	}
	return &g, nil
}

type roundRow struct {
	models.Round
	ResolutionJSON []byte `db:"resolution"`
}

func (r roundRow) model() (*models.Round, error) {
	rd := r.Round
	if err := json.Unmarshal(r.ResolutionJSON, &rd.Resolution); err != nil {
		return nil, fmt.Errorf("decode round %s resolution: %w", rd.ID, err)
	}
	return &rd, nil
}

func (s *Store) Balance(ctx context.Context, owner string) (models.Balance, error) {
	var b models.Balance
	err := s.db.GetContext(ctx, &b, `SELECT `+balanceCols+` FROM balances WHERE owner=$1`, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Balance{Owner: owner}, nil
	}
	return b, err
}

func (s *Store) Entries(ctx context.Context, owner string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []ledger.Entry
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, owner, kind, amount, ref FROM ledger_entries WHERE owner=$1 ORDER BY id DESC LIMIT $2`, owner, limit)
	return out, err
}

func (s *Store) Agent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	err := s.db.GetContext(ctx, &a, `SELECT `+agentCols+` FROM agents WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wager.Conflict(wager.CodeNotFound, "agent %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Agents(ctx context.Context, limit int) ([]models.Agent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.Agent
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+agentCols+` FROM agents ORDER BY wins DESC, id ASC LIMIT $1`, limit)
	return out, err
}

func (s *Store) Challenge(ctx context.Context, id string) (*models.Challenge, error) {
	var c models.Challenge
	err := s.db.GetContext(ctx, &c, `SELECT `+challengeCols+` FROM challenges WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wager.Conflict(wager.CodeChallengeNotFound, "challenge %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) PendingChallenges(ctx context.Context) ([]models.Challenge, error) {
	var out []models.Challenge
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+challengeCols+` FROM challenges WHERE status=$1 ORDER BY created_at`, models.ChallengePending)
	return out, err
}

func (s *Store) PoolEntries(ctx context.Context, game string) ([]models.PoolEntry, error) {
	var out []models.PoolEntry
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+poolCols+` FROM pool_entries WHERE game=$1 ORDER BY tier, entered_at`, game)
	return out, err
}

func (s *Store) Game(ctx context.Context, id string) (*models.Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row, `SELECT `+gameCols+` FROM games WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wager.Conflict(wager.CodeNotFound, "game %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.model()
}

func (s *Store) Round(ctx context.Context, id string) (*models.Round, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `SELECT `+roundCols+` FROM rounds WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wager.Conflict(wager.CodeNotFound, "round %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.model()
}

func (s *Store) LastRoundNumber(ctx context.Context, tier int64) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COALESCE(MAX(number), 0) FROM rounds WHERE tier=$1`, tier)
	return n, err
}

func (s *Store) Events(ctx context.Context, after int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	var out []models.Event
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+eventCols+` FROM events WHERE seq > $1 ORDER BY seq LIMIT $2`, after, limit)
	return out, err
}

type tx struct {
	tx   *sqlx.Tx
	done bool
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	return ctx.Err()
}

func (t *tx) Commit() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	return t.tx.Rollback()
}

// lockAccount returns owner's balance row locked FOR UPDATE, creating it first
// when missing.
func (t *tx) lockAccount(ctx context.Context, owner string) (models.Balance, error) {
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO balances (owner) VALUES ($1) ON CONFLICT (owner) DO NOTHING`, owner); err != nil {
		return models.Balance{}, err
	}
	var b models.Balance
	err := t.tx.GetContext(ctx, &b, `SELECT `+balanceCols+` FROM balances WHERE owner=$1 FOR UPDATE`, owner)
	return b, err
}

func (t *tx) adjust(ctx context.Context, owner string, available, locked int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (owner, available, locked) VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO UPDATE
		SET available = balances.available + EXCLUDED.available,
		    locked = balances.locked + EXCLUDED.locked`, owner, available, locked)
	return err
}

func (t *tx) journal(ctx context.Context, owner, kind string, amount int64, ref string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (owner, kind, amount, ref, created_at) VALUES ($1,$2,$3,$4,NOW())`,
		owner, kind, amount, ref)
	return err
}

func (t *tx) Deposit(ctx context.Context, owner string, amount int64, ref string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if amount <= 0 {
		return wager.InvalidInput(wager.CodeInvalidAmount, "deposit must be positive")
	}
	if err := t.adjust(ctx, owner, amount, 0); err != nil {
		return err
	}
	return t.journal(ctx, owner, ledger.EntryDeposit, amount, ref)
}

func (t *tx) Escrow(ctx context.Context, owner string, amount int64, ref string) (string, error) {
	if err := t.check(ctx); err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", wager.InvalidInput(wager.CodeInvalidAmount, "escrow must be positive")
	}
	bal, err := t.lockAccount(ctx, owner)
	if err != nil {
		return "", err
	}
	if bal.Available < amount {
		return "", wager.Insufficient(wager.CodeInsufficientFunds,
			"%s has %d available, stake is %d", owner, bal.Available, amount)
	}

	id := uuid.NewString()
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO escrows (id, owner, amount, ref, status, created_at) VALUES ($1,$2,$3,$4,$5,NOW())`,
		id, owner, amount, ref, models.EscrowLocked); err != nil {
		return "", err
	}
	if err := t.adjust(ctx, owner, -amount, amount); err != nil {
		return "", err
	}
	if err := t.journal(ctx, owner, ledger.EntryEscrow, -amount, ref); err != nil {
		return "", err
	}
	return id, nil
}

func (t *tx) lockEscrows(ctx context.Context, ids []string) ([]models.Escrow, error) {
	var out []models.Escrow
	err := t.tx.SelectContext(ctx, &out,
		`SELECT id, owner, amount, ref, status, created_at, closed_at FROM escrows WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(ids))
	return out, err
}

func (t *tx) Release(ctx context.Context, escrowID string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	escrows, err := t.lockEscrows(ctx, []string{escrowID})
	if err != nil {
		return err
	}
	if len(escrows) == 0 {
		return wager.Conflict(wager.CodeEscrowNotFound, "escrow %s not found", escrowID)
	}
	e := escrows[0]
	if e.Status != models.EscrowLocked {
		return wager.Conflict(wager.CodeEscrowClosed, "escrow %s is %s", escrowID, e.Status)
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE escrows SET status=$1, closed_at=NOW() WHERE id=$2`, models.EscrowReleased, e.ID); err != nil {
		return err
	}
	if err := t.adjust(ctx, e.Owner, e.Amount, -e.Amount); err != nil {
		return err
	}
	return t.journal(ctx, e.Owner, ledger.EntryRelease, e.Amount, e.Ref)
}

func (t *tx) Settle(ctx context.Context, st ledger.Settlement) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	escrows, err := t.lockEscrows(ctx, st.EscrowIDs)
	if err != nil {
		return err
	}
	if err := st.Check(escrows); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE escrows SET status=$1, closed_at=NOW() WHERE id = ANY($2)`,
		models.EscrowSettled, pq.Array(st.EscrowIDs)); err != nil {
		return err
	}
	for _, e := range escrows {
		if err := t.adjust(ctx, e.Owner, 0, -e.Amount); err != nil {
			return err
		}
	}
	for _, p := range st.Payouts {
		if p.Amount == 0 {
			continue
		}
		if err := t.adjust(ctx, p.To, p.Amount, 0); err != nil {
			return err
		}
		if err := t.journal(ctx, p.To, ledger.EntryPayout, p.Amount, st.Ref); err != nil {
			return err
		}
	}
	if st.Fee > 0 {
		if err := t.adjust(ctx, st.FeeSink, st.Fee, 0); err != nil {
			return err
		}
		if err := t.journal(ctx, st.FeeSink, ledger.EntryFee, st.Fee, st.Ref); err != nil {
			return err
		}
	}
	log.Printf("[STORE] Settled %s: escrows=%d paid=%d fee=%d", st.Ref, len(st.EscrowIDs), st.Total()-st.Fee, st.Fee)
	return nil
}

func (t *tx) Transfer(ctx context.Context, from, to string, amount int64, ref string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if amount <= 0 {
		return wager.InvalidInput(wager.CodeInvalidAmount, "transfer must be positive")
	}
	bal, err := t.lockAccount(ctx, from)
	if err != nil {
		return err
	}
	if bal.Available < amount {
		return wager.Insufficient(wager.CodeInsufficientFunds, "%s has %d available, transfer is %d", from, bal.Available, amount)
	}
	if err := t.adjust(ctx, from, -amount, 0); err != nil {
		return err
	}
	if err := t.adjust(ctx, to, amount, 0); err != nil {
		return err
	}
	if err := t.journal(ctx, from, ledger.EntrySweep, -amount, ref); err != nil {
		return err
	}
	return t.journal(ctx, to, ledger.EntrySweep, amount, ref)
}

func (t *tx) Balance(ctx context.Context, owner string) (models.Balance, error) {
	if err := t.check(ctx); err != nil {
		return models.Balance{}, err
	}
	var b models.Balance
	err := t.tx.GetContext(ctx, &b, `SELECT `+balanceCols+` FROM balances WHERE owner=$1`, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Balance{Owner: owner}, nil
	}
	return b, err
}

func (t *tx) InsertAgent(ctx context.Context, a *models.Agent) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	// A row may already exist with stats accrued before registration; only
	// an unnamed row can be claimed.
	var out models.Agent
	err := t.tx.GetContext(ctx, &out, `
		INSERT INTO agents (id, name, registered_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, registered_at = EXCLUDED.registered_at
		WHERE agents.name = ''
		RETURNING `+agentCols, a.ID, a.Name, a.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wager.Conflict(wager.CodeAlreadyRegistered, "agent %s already registered", a.ID)
	}
	if err != nil {
		return err
	}
	*a = out
	return nil
}

func (t *tx) RecordOutcome(ctx context.Context, o models.Outcome) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	var wins, losses int64
	if o.Win {
		wins = 1
	} else {
		losses = 1
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO agents (id, games_played, wins, losses, total_wagered, total_won, total_lost)
		VALUES ($1, 1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			games_played  = agents.games_played + 1,
			wins          = agents.wins + EXCLUDED.wins,
			losses        = agents.losses + EXCLUDED.losses,
			total_wagered = agents.total_wagered + EXCLUDED.total_wagered,
			total_won     = agents.total_won + EXCLUDED.total_won,
			total_lost    = agents.total_lost + EXCLUDED.total_lost`,
		o.Participant, wins, losses, o.Wagered, o.Won, o.Lost)
	return err
}

func (t *tx) PutPoolEntry(ctx context.Context, e models.PoolEntry) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO pool_entries (`+poolCols+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		e.Game, e.Tier, e.Participant, e.Choice, e.EscrowID, e.EnteredAt)
	if isUnique(err) {
		return wager.Conflict(wager.CodeDuplicateEntry, "%s already in %s:%d", e.Participant, e.Game, e.Tier)
	}
	return err
}

func (t *tx) DeletePoolEntry(ctx context.Context, game string, tier int64, participant string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM pool_entries WHERE game=$1 AND tier=$2 AND participant=$3`, game, tier, participant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wager.Conflict(wager.CodeNotOccupant, "%s not in %s:%d", participant, game, tier)
	}
	return nil
}

func (t *tx) PutChallenge(ctx context.Context, c models.Challenge) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO challenges (`+challengeCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, game_id = EXCLUDED.game_id, closed_at = EXCLUDED.closed_at`,
		c.ID, c.Creator, c.Opponent, c.Tier, c.Choice, c.EscrowID, c.Status, c.GameID, c.CreatedAt, c.ExpiresAt, c.ClosedAt)
	return err
}

func encodeResolution(r fairness.Resolution) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *tx) InsertGame(ctx context.Context, g *models.Game) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	res, err := encodeResolution(g.Resolution)
	if err != nil {
		return err
	}
	err = t.tx.GetContext(ctx, &g.CreatedAt, `
		INSERT INTO games (id, tier, source, player_a, choice_a, player_b, choice_b, outcome, winner, payout, fee, resolution, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb, COALESCE($13::timestamptz, NOW()))
		RETURNING created_at`,
		g.ID, g.Tier, g.Source, g.PlayerA, g.ChoiceA, g.PlayerB, g.ChoiceB, g.Outcome, g.Winner, g.Payout, g.Fee, res, nullTime(g.CreatedAt))
	if isUnique(err) {
		return wager.Fairness(wager.CodeAlreadyResolved, "game %s already recorded", g.ID)
	}
	return err
}

func (t *tx) InsertRound(ctx context.Context, r *models.Round) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	res, err := encodeResolution(r.Resolution)
	if err != nil {
		return err
	}
	err = t.tx.GetContext(ctx, &r.CreatedAt, `
		INSERT INTO rounds (id, tier, number, participants, eliminated_index, eliminated, pot, per_survivor, fee, resolution, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb, COALESCE($11::timestamptz, NOW()))
		RETURNING created_at`,
		r.ID, r.Tier, r.Number, r.Participants, r.EliminatedIndex, r.Eliminated, r.Pot, r.PerSurvivor, r.Fee, res, nullTime(r.CreatedAt))
	if isUnique(err) {
		return wager.Fairness(wager.CodeAlreadyResolved, "round %s already recorded", r.ID)
	}
	return err
}

func (t *tx) AppendEvent(ctx context.Context, e *models.Event) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	// Seq follows commit order within one stream; different tiers don't wait
	// on each other.
	stream := fmt.Sprintf("%s:%d", e.Game, e.Tier)
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1::int, hashtext($2))`, eventLockClass, stream); err != nil {
		return err
	}
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	row := t.tx.QueryRowxContext(ctx, `
		INSERT INTO events (type, game, tier, subject, payload, created_at)
		VALUES ($1,$2,$3,$4,$5::jsonb, COALESCE($6::timestamptz, NOW()))
		RETURNING seq, created_at`,
		e.Type, e.Game, e.Tier, e.Subject, payload, nullTime(e.CreatedAt))
	return row.Scan(&e.Seq, &e.CreatedAt)
}

func nullTime(v interface{ IsZero() bool }) interface{} {
	if v.IsZero() {
		return nil
	}
	return v
}
