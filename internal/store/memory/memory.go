// Package memory is an in-process store. A Tx holds the store lock from
// Begin until Commit or Rollback and records an undo step for every
// mutation, so readers only ever see committed state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shellsino/backend/internal/ledger"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	balances   map[string]*models.Balance
	escrows    map[string]*models.Escrow
	entries    []ledger.Entry
	agents     map[string]*models.Agent
	pools      map[string][]models.PoolEntry // game:tier -> entries in admission order
	challenges map[string]*models.Challenge
	games      map[string]*models.Game
	rounds     map[string]*models.Round
	lastRound  map[int64]int64
	events     []models.Event
	entrySeq   int64
}

func New() *Store {
	return &Store{
		now:        time.Now,
		balances:   make(map[string]*models.Balance),
		escrows:    make(map[string]*models.Escrow),
		agents:     make(map[string]*models.Agent),
		pools:      make(map[string][]models.PoolEntry),
		challenges: make(map[string]*models.Challenge),
		games:      make(map[string]*models.Game),
		rounds:     make(map[string]*models.Round),
		lastRound:  make(map[int64]int64),
	}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func poolKey(game string, tier int64) string {
	return fmt.Sprintf("%s:%d", game, tier)
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &tx{s: s}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Balance(ctx context.Context, owner string) (models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(owner), nil
}

func (s *Store) balanceLocked(owner string) models.Balance {
	if b, ok := s.balances[owner]; ok {
		return *b
	}
	return models.Balance{Owner: owner}
}

func (s *Store) Entries(ctx context.Context, owner string, limit int) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Owner != owner {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Agent(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, wager.Conflict(wager.CodeNotFound, "agent %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) Agents(ctx context.Context, limit int) ([]models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Challenge(ctx context.Context, id string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, wager.Conflict(wager.CodeChallengeNotFound, "challenge %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) PendingChallenges(ctx context.Context) ([]models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Challenge
	for _, c := range s.challenges {
		if c.Status == models.ChallengePending {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) PoolEntries(ctx context.Context, game string) ([]models.PoolEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PoolEntry
	for _, entries := range s.pools {
		for _, e := range entries {
			if e.Game == game {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].EnteredAt.Before(out[j].EnteredAt)
	})
	return out, nil
}

func (s *Store) Game(ctx context.Context, id string) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return nil, wager.Conflict(wager.CodeNotFound, "game %s not found", id)
	}
	cp := *g
	return &cp, nil
}

func (s *Store) Round(ctx context.Context, id string) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, wager.Conflict(wager.CodeNotFound, "round %s not found", id)
	}
	cp := *r
	cp.Participants = append([]string(nil), r.Participants...)
	return &cp, nil
}

func (s *Store) LastRoundNumber(ctx context.Context, tier int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRound[tier], nil
}

func (s *Store) Events(ctx context.Context, after int64, limit int) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.Seq <= after {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// tx mutates the store directly while holding its lock.
type tx struct {
	s    *Store
	undo []func()
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
	t.undo = nil
	t.s.mu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return store.ErrTxDone
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.done = true
	t.undo = nil
	t.s.mu.Unlock()
	return nil
}

// account returns the live balance row for owner, creating it (with an undo
// step) when missing.
func (t *tx) account(owner string) *models.Balance {
	b, ok := t.s.balances[owner]
	if !ok {
		b = &models.Balance{Owner: owner}
		t.s.balances[owner] = b
		t.undo = append(t.undo, func() { delete(t.s.balances, owner) })
	}
	return b
}

func (t *tx) adjust(owner string, available, locked int64) {
	b := t.account(owner)
	b.Available += available
	b.Locked += locked
	t.undo = append(t.undo, func() {
		b.Available -= available
		b.Locked -= locked
	})
}

func (t *tx) journal(owner, kind string, amount int64, ref string) {
	t.s.entrySeq++
	t.s.entries = append(t.s.entries, ledger.Entry{ID: t.s.entrySeq, Owner: owner, Kind: kind, Amount: amount, Ref: ref})
	t.undo = append(t.undo, func() {
		t.s.entries = t.s.entries[:len(t.s.entries)-1]
		t.s.entrySeq--
	})
}

func (t *tx) Deposit(ctx context.Context, owner string, amount int64, ref string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if amount <= 0 {
		return wager.InvalidInput(wager.CodeInvalidAmount, "deposit must be positive")
	}
	t.adjust(owner, amount, 0)
	t.journal(owner, ledger.EntryDeposit, amount, ref)
	return nil
}

func (t *tx) Escrow(ctx context.Context, owner string, amount int64, ref string) (string, error) {
	if err := t.check(ctx); err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", wager.InvalidInput(wager.CodeInvalidAmount, "escrow must be positive")
	}
	if bal := t.s.balanceLocked(owner); bal.Available < amount {
		return "", wager.Insufficient(wager.CodeInsufficientFunds,
			"%s has %d available, stake is %d", owner, bal.Available, amount)
	}

	id := uuid.NewString()
	e := &models.Escrow{ID: id, Owner: owner, Amount: amount, Ref: ref, Status: models.EscrowLocked, CreatedAt: t.s.now().UTC()}
	t.s.escrows[id] = e
	t.undo = append(t.undo, func() { delete(t.s.escrows, id) })
	t.adjust(owner, -amount, amount)
	t.journal(owner, ledger.EntryEscrow, -amount, ref)
	return id, nil
}

func (t *tx) close(e *models.Escrow, status string) {
	prev := e.Status
	prevClosed := e.ClosedAt
	now := t.s.now().UTC()
	e.Status = status
	e.ClosedAt = &now
	t.undo = append(t.undo, func() {
		e.Status = prev
		e.ClosedAt = prevClosed
	})
}

func (t *tx) Release(ctx context.Context, escrowID string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	e, ok := t.s.escrows[escrowID]
	if !ok {
		return wager.Conflict(wager.CodeEscrowNotFound, "escrow %s not found", escrowID)
	}
	if e.Status != models.EscrowLocked {
		return wager.Conflict(wager.CodeEscrowClosed, "escrow %s is %s", escrowID, e.Status)
	}
	t.close(e, models.EscrowReleased)
	t.adjust(e.Owner, e.Amount, -e.Amount)
	t.journal(e.Owner, ledger.EntryRelease, e.Amount, e.Ref)
	return nil
}

func (t *tx) Settle(ctx context.Context, st ledger.Settlement) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	escrows := make([]models.Escrow, 0, len(st.EscrowIDs))
	for _, id := range st.EscrowIDs {
		if e, ok := t.s.escrows[id]; ok {
			escrows = append(escrows, *e)
		}
	}
	if err := st.Check(escrows); err != nil {
		return err
	}

	for _, id := range st.EscrowIDs {
		e := t.s.escrows[id]
		t.close(e, models.EscrowSettled)
		t.adjust(e.Owner, 0, -e.Amount)
	}
	for _, p := range st.Payouts {
		if p.Amount == 0 {
			continue
		}
		t.adjust(p.To, p.Amount, 0)
		t.journal(p.To, ledger.EntryPayout, p.Amount, st.Ref)
	}
	if st.Fee > 0 {
		t.adjust(st.FeeSink, st.Fee, 0)
		t.journal(st.FeeSink, ledger.EntryFee, st.Fee, st.Ref)
	}
	return nil
}

func (t *tx) Transfer(ctx context.Context, from, to string, amount int64, ref string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if amount <= 0 {
		return wager.InvalidInput(wager.CodeInvalidAmount, "transfer must be positive")
	}
	if bal := t.s.balanceLocked(from); bal.Available < amount {
		return wager.Insufficient(wager.CodeInsufficientFunds, "%s has %d available, transfer is %d", from, bal.Available, amount)
	}
	t.adjust(from, -amount, 0)
	t.adjust(to, amount, 0)
	t.journal(from, ledger.EntrySweep, -amount, ref)
	t.journal(to, ledger.EntrySweep, amount, ref)
	return nil
}

func (t *tx) Balance(ctx context.Context, owner string) (models.Balance, error) {
	if err := t.check(ctx); err != nil {
		return models.Balance{}, err
	}
	return t.s.balanceLocked(owner), nil
}

func (t *tx) InsertAgent(ctx context.Context, a *models.Agent) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if existing, ok := t.s.agents[a.ID]; ok && existing.Name != "" {
		return wager.Conflict(wager.CodeAlreadyRegistered, "agent %s already registered as %q", a.ID, existing.Name)
	}
	prev, had := t.s.agents[a.ID]
	cp := *a
	if had {
		// keep stats accrued before registration
		cp.GamesPlayed, cp.Wins, cp.Losses = prev.GamesPlayed, prev.Wins, prev.Losses
		cp.TotalWagered, cp.TotalWon, cp.TotalLost = prev.TotalWagered, prev.TotalWon, prev.TotalLost
	}
	t.s.agents[a.ID] = &cp
	t.undo = append(t.undo, func() {
		if had {
			t.s.agents[a.ID] = prev
		} else {
			delete(t.s.agents, a.ID)
		}
	})
	*a = cp
	return nil
}

func (t *tx) RecordOutcome(ctx context.Context, o models.Outcome) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	a, ok := t.s.agents[o.Participant]
	if !ok {
		a = &models.Agent{ID: o.Participant, RegisteredAt: t.s.now().UTC()}
		t.s.agents[o.Participant] = a
		t.undo = append(t.undo, func() { delete(t.s.agents, o.Participant) })
	}
	before := *a
	a.GamesPlayed++
	if o.Win {
		a.Wins++
	} else {
		a.Losses++
	}
	a.TotalWagered += o.Wagered
	a.TotalWon += o.Won
	a.TotalLost += o.Lost
	t.undo = append(t.undo, func() { *a = before })
	return nil
}

func (t *tx) PutPoolEntry(ctx context.Context, e models.PoolEntry) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	key := poolKey(e.Game, e.Tier)
	prev := t.s.pools[key]
	for _, cur := range prev {
		if cur.Participant == e.Participant {
			return wager.Conflict(wager.CodeDuplicateEntry, "%s already in %s", e.Participant, key)
		}
	}
	next := make([]models.PoolEntry, len(prev), len(prev)+1)
	copy(next, prev)
	t.s.pools[key] = append(next, e)
	t.undo = append(t.undo, func() { t.s.pools[key] = prev })
	return nil
}

func (t *tx) DeletePoolEntry(ctx context.Context, game string, tier int64, participant string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	key := poolKey(game, tier)
	prev := t.s.pools[key]
	next := make([]models.PoolEntry, 0, len(prev))
	for _, cur := range prev {
		if cur.Participant != participant {
			next = append(next, cur)
		}
	}
	if len(next) == len(prev) {
		return wager.Conflict(wager.CodeNotOccupant, "%s not in %s", participant, key)
	}
	t.s.pools[key] = next
	t.undo = append(t.undo, func() { t.s.pools[key] = prev })
	return nil
}

func (t *tx) PutChallenge(ctx context.Context, c models.Challenge) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	prev, had := t.s.challenges[c.ID]
	cp := c
	t.s.challenges[c.ID] = &cp
	t.undo = append(t.undo, func() {
		if had {
			t.s.challenges[c.ID] = prev
		} else {
			delete(t.s.challenges, c.ID)
		}
	})
	return nil
}

func (t *tx) InsertGame(ctx context.Context, g *models.Game) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, dup := t.s.games[g.ID]; dup {
		return wager.Fairness(wager.CodeAlreadyResolved, "game %s already recorded", g.ID)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = t.s.now().UTC()
	}
	cp := *g
	t.s.games[g.ID] = &cp
	t.undo = append(t.undo, func() { delete(t.s.games, g.ID) })
	return nil
}

func (t *tx) InsertRound(ctx context.Context, r *models.Round) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, dup := t.s.rounds[r.ID]; dup {
		return wager.Fairness(wager.CodeAlreadyResolved, "round %s already recorded", r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.s.now().UTC()
	}
	cp := *r
	cp.Participants = append([]string(nil), r.Participants...)
	t.s.rounds[r.ID] = &cp
	prevLast := t.s.lastRound[r.Tier]
	if r.Number > prevLast {
		t.s.lastRound[r.Tier] = r.Number
	}
	t.undo = append(t.undo, func() {
		delete(t.s.rounds, r.ID)
		t.s.lastRound[r.Tier] = prevLast
	})
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, e *models.Event) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	var seq int64 = 1
	if n := len(t.s.events); n > 0 {
		seq = t.s.events[n-1].Seq + 1
	}
	e.Seq = seq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.s.now().UTC()
	}
	t.s.events = append(t.s.events, *e)
	t.undo = append(t.undo, func() { t.s.events = t.s.events[:len(t.s.events)-1] })
	return nil
}
