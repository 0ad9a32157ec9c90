package roulette

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/fairness"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/store/memory"
	"github.com/shellsino/backend/internal/wager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedResolver struct {
	seed string
	err  error
}

func (f *fixedResolver) Resolve(ctx context.Context, key, inputs string) (fairness.Resolution, error) {
	if f.err != nil {
		return fairness.Resolution{}, f.err
	}
	return fairness.Resolution{Key: key, Inputs: inputs, Seed: f.seed}, nil
}

func testConfig() Config {
	return Config{
		Tiers:   wager.NewTiers([]int64{10, 25, 50, 100, 250}),
		FeeBps:  200,
		FeeSink: "house",
	}
}

func players(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d", i+1)
	}
	return out
}

func newEngine(t *testing.T, r Resolver, funded ...string) (*Engine, *memory.Store, *events.Recorder) {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		for _, p := range funded {
			if err := tx.Deposit(ctx, p, 100, "seed"); err != nil {
				return err
			}
		}
		return nil
	}))
	rec := &events.Recorder{}
	return New(testConfig(), s, r, Options{Publisher: rec}), s, rec
}

func balance(t *testing.T, s store.Store, owner string) models.Balance {
	t.Helper()
	b, err := s.Balance(context.Background(), owner)
	require.NoError(t, err)
	return b
}

func TestSixthEntrantFiresRound(t *testing.T) {
	ctx := context.Background()
	ps := players(6)
	e, s, rec := newEngine(t, &fixedResolver{seed: "03"}, ps...)

	for i, p := range ps[:5] {
		res, err := e.EnterChamber(ctx, p, 10)
		require.NoError(t, err)
		assert.False(t, res.Triggered)
		assert.Equal(t, i+1, res.Occupancy)
	}
	st, _ := e.ChamberStatus(10)
	assert.Equal(t, 5, st.Occupancy)
	assert.Equal(t, ps[:5], st.Occupants)

	res, err := e.EnterChamber(ctx, ps[5], 10)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, "p4", res.Eliminated)

	r := res.Round
	require.NotNil(t, r)
	assert.Equal(t, int64(60), r.Pot)
	assert.Equal(t, int64(11), r.PerSurvivor)
	assert.Equal(t, int64(5), r.Fee)
	assert.Equal(t, int64(1), r.Number)
	assert.Equal(t, []string{"p1", "p2", "p3", "p5", "p6"}, r.Survivors())

	var total int64
	for _, p := range ps {
		b := balance(t, s, p)
		assert.Equal(t, int64(0), b.Locked, p)
		if p == "p4" {
			assert.Equal(t, int64(90), b.Available)
		} else {
			assert.Equal(t, int64(101), b.Available, p)
		}
		total += b.Available
	}
	house := balance(t, s, "house").Available
	assert.Equal(t, int64(5), house)
	assert.Equal(t, int64(600), total+house)

	st, _ = e.ChamberStatus(10)
	assert.Equal(t, 0, st.Occupancy)
	assert.Equal(t, int64(2), st.NextRound)

	loser, _ := s.Agent(ctx, "p4")
	assert.Equal(t, int64(1), loser.Losses)
	assert.Equal(t, int64(10), loser.TotalLost)
	winner, _ := s.Agent(ctx, "p6")
	assert.Equal(t, int64(1), winner.Wins)
	assert.Equal(t, int64(10), winner.TotalWagered)
	assert.Equal(t, int64(11), winner.TotalWon)

	stored, err := e.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.EliminatedIndex, stored.EliminatedIndex)

	types := rec.Types()
	require.Len(t, types, 6)
	assert.Equal(t, models.EventPlayerJoined, types[0])
	assert.Equal(t, models.EventRoundFired, types[5])
}

func TestRoundPayoutConservesAcrossTiers(t *testing.T) {
	for _, tier := range []int64{10, 25, 50, 100, 250} {
		perHead, fee := wager.SplitPot(Seats*tier, Survivors, 200)
		assert.Equal(t, Seats*tier, perHead*Survivors+fee, "tier %d", tier)
	}
}

func TestRealOracleRoundIsVerifiable(t *testing.T) {
	ctx := context.Background()
	ps := players(6)
	e, s, _ := newEngine(t, fairness.NewOracle(nil), ps...)

	var res *EnterResult
	for _, p := range ps {
		var err error
		res, err = e.EnterChamber(ctx, p, 10)
		require.NoError(t, err)
	}
	require.True(t, res.Triggered)
	assert.Contains(t, ps, res.Eliminated)
	assert.NoError(t, fairness.Verify(res.Round.Resolution))
	assert.Equal(t, res.Round.EliminatedIndex, res.Round.Resolution.Index(Seats))

	var total int64
	for _, p := range append(ps, "house") {
		total += balance(t, s, p).Available
	}
	assert.Equal(t, int64(600), total)
}

func TestEnterChamberRejections(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newEngine(t, &fixedResolver{seed: "00"}, "p1")

	_, err := e.EnterChamber(ctx, "p1", 1)
	assert.Equal(t, wager.CodeUnsupportedTier, wager.CodeOf(err))

	_, err = e.EnterChamber(ctx, "p1", 10)
	require.NoError(t, err)
	_, err = e.EnterChamber(ctx, "p1", 10)
	assert.True(t, errors.Is(err, wager.ErrDuplicateEntry))
	assert.Equal(t, int64(90), balance(t, s, "p1").Available)

	_, err = e.EnterChamber(ctx, "nobody", 10)
	assert.True(t, errors.Is(err, wager.ErrInsufficientFunds))
	st, _ := e.ChamberStatus(10)
	assert.Equal(t, 1, st.Occupancy)
}

func TestExitChamber(t *testing.T) {
	ctx := context.Background()
	ps := players(3)
	e, s, rec := newEngine(t, &fixedResolver{seed: "00"}, ps...)

	for _, p := range ps {
		_, err := e.EnterChamber(ctx, p, 25)
		require.NoError(t, err)
	}
	assert.True(t, errors.Is(e.ExitChamber(ctx, "stranger", 25), wager.ErrNotOccupant))
	require.NoError(t, e.ExitChamber(ctx, "p2", 25))

	st, _ := e.ChamberStatus(25)
	assert.Equal(t, []string{"p1", "p3"}, st.Occupants)
	assert.Equal(t, models.Balance{Owner: "p2", Available: 100}, balance(t, s, "p2"))
	assert.True(t, errors.Is(e.ExitChamber(ctx, "p2", 25), wager.ErrNotOccupant))

	entries, _ := s.PoolEntries(ctx, models.GameRoulette)
	assert.Len(t, entries, 2)
	assert.Equal(t, models.EventPlayerLeft, rec.Types()[3])
}

func TestFairnessViolationAbandonsRound(t *testing.T) {
	ctx := context.Background()
	ps := players(6)
	r := &fixedResolver{seed: "00"}
	e, s, rec := newEngine(t, r, ps...)

	for _, p := range ps[:5] {
		_, err := e.EnterChamber(ctx, p, 50)
		require.NoError(t, err)
	}
	r.err = wager.Fairness(wager.CodeAlreadyResolved, "replayed")
	_, err := e.EnterChamber(ctx, ps[5], 50)
	assert.Equal(t, wager.KindFairnessViolation, wager.KindOf(err))

	for _, p := range ps {
		assert.Equal(t, models.Balance{Owner: p, Available: 100}, balance(t, s, p))
	}
	assert.Equal(t, int64(0), balance(t, s, "house").Available)
	st, _ := e.ChamberStatus(50)
	assert.Equal(t, 0, st.Occupancy)
	assert.Equal(t, int64(1), st.NextRound)
	entries, _ := s.PoolEntries(ctx, models.GameRoulette)
	assert.Empty(t, entries)
	types := rec.Types()
	assert.Equal(t, models.EventRoundAbandoned, types[len(types)-1])
}

func TestTransientResolveFailureKeepsSeats(t *testing.T) {
	ctx := context.Background()
	ps := players(6)
	r := &fixedResolver{seed: "05"}
	e, s, _ := newEngine(t, r, ps...)

	for _, p := range ps[:5] {
		_, err := e.EnterChamber(ctx, p, 10)
		require.NoError(t, err)
	}
	r.err = errors.New("entropy source unavailable")
	_, err := e.EnterChamber(ctx, ps[5], 10)
	require.Error(t, err)

	st, _ := e.ChamberStatus(10)
	assert.Equal(t, 5, st.Occupancy)
	assert.Equal(t, int64(100), balance(t, s, "p6").Available)
	entries, _ := s.PoolEntries(ctx, models.GameRoulette)
	assert.Len(t, entries, 5)

	r.err = nil
	res, err := e.EnterChamber(ctx, ps[5], 10)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, "p6", res.Eliminated)
}

func TestRehydrateRestoresSeatsAndRoundNumbers(t *testing.T) {
	ctx := context.Background()
	ps := players(9)
	e, s, _ := newEngine(t, &fixedResolver{seed: "00"}, ps...)

	for _, p := range ps {
		_, err := e.EnterChamber(ctx, p, 10)
		require.NoError(t, err)
	}

	restarted := New(testConfig(), s, &fixedResolver{seed: "00"}, Options{})
	require.NoError(t, restarted.Rehydrate(ctx))
	st, _ := restarted.ChamberStatus(10)
	assert.Equal(t, []string{"p7", "p8", "p9"}, st.Occupants)
	assert.Equal(t, int64(2), st.NextRound)

	require.NoError(t, store.RunInTx(ctx, s, func(tx store.Tx) error {
		for _, p := range []string{"q1", "q2", "q3"} {
			if err := tx.Deposit(ctx, p, 100, "seed"); err != nil {
				return err
			}
		}
		return nil
	}))
	var res *EnterResult
	for _, p := range []string{"q1", "q2", "q3"} {
		var err error
		res, err = restarted.EnterChamber(ctx, p, 10)
		require.NoError(t, err)
	}
	assert.True(t, res.Triggered)
	assert.Equal(t, int64(2), res.Round.Number)
	assert.Equal(t, "p7", res.Eliminated)
}

func TestConcurrentChambers(t *testing.T) {
	ctx := context.Background()
	ps := players(24)
	e, s, _ := newEngine(t, fairness.NewOracle(nil), ps...)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired int
	)
	for i, p := range ps {
		tier := int64(10)
		if i%2 == 1 {
			tier = 25
		}
		wg.Add(1)
		go func(p string, tier int64) {
			defer wg.Done()
			res, err := e.EnterChamber(ctx, p, tier)
			if !assert.NoError(t, err) {
				return
			}
			if res.Triggered {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}(p, tier)
	}
	wg.Wait()

	assert.Equal(t, 4, fired)
	var total, locked int64
	for _, p := range append(ps, "house") {
		b := balance(t, s, p)
		total += b.Available + b.Locked
		locked += b.Locked
	}
	assert.Equal(t, int64(2400), total)
	assert.Equal(t, int64(0), locked)
	// 60 pays 11x5 and 150 pays 29x5, both leaving 5
	assert.Equal(t, int64(4*5), balance(t, s, "house").Available)
}

func TestChambersListing(t *testing.T) {
	e, _, _ := newEngine(t, &fixedResolver{seed: "00"}, "p1")
	_, err := e.EnterChamber(context.Background(), "p1", 100)
	require.NoError(t, err)

	all := e.Chambers()
	require.Len(t, all, 5)
	assert.Equal(t, int64(100), all[3].Tier)
	assert.Equal(t, 1, all[3].Occupancy)
	assert.NotNil(t, all[3].Since)
	assert.Zero(t, all[4].Occupancy)
	assert.Nil(t, all[4].Since)

	_, err = e.EnterChamber(context.Background(), "p1", 250)
	assert.Equal(t, wager.CodeInsufficientFunds, wager.CodeOf(err))
	assert.Zero(t, e.Chambers()[4].Occupancy)
	assert.Equal(t, []int64{10, 25, 50, 100, 250}, e.Tiers())
}
