package coinflip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/wager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeCancelScenario(t *testing.T) {
	ctx := context.Background()
	e, s, rec := newEngine(t, heads, "alice", "bob")

	ch, err := e.CreateChallenge(ctx, "alice", "bob", 25, "heads")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengePending, ch.Status)
	assert.Equal(t, int64(75), available(t, s, "alice"))

	cancelled, err := e.CancelChallenge(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.ClosedAt)

	assert.Equal(t, int64(100), available(t, s, "alice"))
	assert.Equal(t, int64(100), available(t, s, "bob"))
	a, _ := s.Balance(ctx, "alice")
	assert.Equal(t, int64(0), a.Locked)

	_, err = e.AcceptChallenge(ctx, "bob", ch.ID, "tails")
	assert.True(t, errors.Is(err, wager.ErrChallengeNotPending))
	assert.Equal(t, wager.KindStateConflict, wager.KindOf(err))
	assert.Equal(t, int64(100), available(t, s, "bob"))

	_, err = e.CancelChallenge(ctx, "alice", ch.ID)
	assert.True(t, errors.Is(err, wager.ErrChallengeNotPending))

	assert.Equal(t, []string{models.EventChallengeCreated, models.EventChallengeCancelled}, rec.Types())
}

func TestAcceptChallengeOnce(t *testing.T) {
	ctx := context.Background()
	e, s, rec := newEngine(t, tails, "alice", "bob")

	ch, err := e.CreateChallenge(ctx, "alice", "bob", 50, "heads")
	require.NoError(t, err)

	g, err := e.AcceptChallenge(ctx, "bob", ch.ID, "tails")
	require.NoError(t, err)
	assert.Equal(t, "bob", g.Winner)
	assert.Equal(t, models.SourceChallenge, g.Source)
	assert.Equal(t, "alice", g.PlayerA)
	assert.Equal(t, int64(98), g.Payout)
	assert.Equal(t, int64(2), g.Fee)

	_, err = e.AcceptChallenge(ctx, "bob", ch.ID, "tails")
	assert.True(t, errors.Is(err, wager.ErrChallengeNotPending))
	assert.Equal(t, wager.KindStateConflict, wager.KindOf(err))

	got, err := e.Challenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeResolved, got.Status)
	assert.Equal(t, g.ID, got.GameID)

	assert.Equal(t, int64(50), available(t, s, "alice"))
	assert.Equal(t, int64(148), available(t, s, "bob"))
	assert.Equal(t, int64(2), available(t, s, "house"))
	assert.Equal(t, []string{models.EventChallengeCreated, models.EventChallengeAccepted}, rec.Types())
}

func TestChallengeAuthorization(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newEngine(t, heads, "alice", "bob", "carol")

	_, err := e.CreateChallenge(ctx, "alice", "alice", 10, "heads")
	assert.Equal(t, wager.CodeSelfChallenge, wager.CodeOf(err))
	assert.Equal(t, wager.KindInvalidInput, wager.KindOf(err))
	assert.Equal(t, int64(100), available(t, s, "alice"))

	_, err = e.CreateChallenge(ctx, "alice", "bob", 11, "heads")
	assert.Equal(t, wager.CodeUnsupportedTier, wager.CodeOf(err))
	_, err = e.CreateChallenge(ctx, "alice", "bob", 10, "sideways")
	assert.Equal(t, wager.CodeInvalidChoice, wager.CodeOf(err))

	ch, err := e.CreateChallenge(ctx, "alice", "bob", 10, "heads")
	require.NoError(t, err)

	_, err = e.AcceptChallenge(ctx, "carol", ch.ID, "tails")
	assert.Equal(t, wager.CodeNotOpponent, wager.CodeOf(err))
	_, err = e.AcceptChallenge(ctx, "alice", ch.ID, "tails")
	assert.Equal(t, wager.CodeNotOpponent, wager.CodeOf(err))
	_, err = e.CancelChallenge(ctx, "bob", ch.ID)
	assert.Equal(t, wager.CodeNotCreator, wager.CodeOf(err))
	_, err = e.AcceptChallenge(ctx, "bob", "missing", "tails")
	assert.Equal(t, wager.CodeChallengeNotFound, wager.CodeOf(err))

	assert.Equal(t, int64(100), available(t, s, "carol"))
	got, _ := e.Challenge(ctx, ch.ID)
	assert.Equal(t, models.ChallengePending, got.Status)
}

func TestChallengeExpiresLazily(t *testing.T) {
	ctx := context.Background()
	e, s, rec := newEngine(t, heads, "alice", "bob")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return now })

	ch, err := e.CreateChallenge(ctx, "alice", "bob", 10, "heads")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), ch.ExpiresAt)

	now = now.Add(time.Hour)
	_, err = e.AcceptChallenge(ctx, "bob", ch.ID, "tails")
	assert.Equal(t, wager.CodeChallengeExpired, wager.CodeOf(err))

	got, _ := e.Challenge(ctx, ch.ID)
	assert.Equal(t, models.ChallengeExpired, got.Status)
	assert.Equal(t, int64(100), available(t, s, "alice"))
	assert.Equal(t, int64(100), available(t, s, "bob"))

	_, err = e.AcceptChallenge(ctx, "bob", ch.ID, "tails")
	assert.True(t, errors.Is(err, wager.ErrChallengeNotPending))
	assert.Equal(t, []string{models.EventChallengeCreated, models.EventChallengeExpired}, rec.Types())
}

func TestCreatorMayCancelAfterExpiry(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newEngine(t, heads, "alice", "bob")
	now := time.Now()
	e.SetClock(func() time.Time { return now })

	ch, err := e.CreateChallenge(ctx, "alice", "bob", 5, "tails")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)

	got, err := e.CancelChallenge(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeCancelled, got.Status)
	assert.Equal(t, int64(100), available(t, s, "alice"))
}

func TestAcceptWithoutFundsLeavesChallengePending(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newEngine(t, heads, "alice")

	ch, err := e.CreateChallenge(ctx, "alice", "bob", 25, "heads")
	require.NoError(t, err)

	_, err = e.AcceptChallenge(ctx, "bob", ch.ID, "tails")
	assert.True(t, errors.Is(err, wager.ErrInsufficientFunds))

	got, _ := e.Challenge(ctx, ch.ID)
	assert.Equal(t, models.ChallengePending, got.Status)
	a, _ := s.Balance(ctx, "alice")
	assert.Equal(t, int64(25), a.Locked)
}

func TestChallengeAbandonedOnFairnessViolation(t *testing.T) {
	ctx := context.Background()
	r := &fixedResolver{err: wager.Fairness(wager.CodeAlreadyResolved, "replayed")}
	e, s, rec := newEngine(t, r, "alice", "bob")

	ch, err := e.CreateChallenge(ctx, "alice", "bob", 10, "heads")
	require.NoError(t, err)
	_, err = e.AcceptChallenge(ctx, "bob", ch.ID, "tails")
	assert.Equal(t, wager.KindFairnessViolation, wager.KindOf(err))

	got, _ := e.Challenge(ctx, ch.ID)
	assert.Equal(t, models.ChallengeAbandoned, got.Status)
	assert.Equal(t, int64(100), available(t, s, "alice"))
	assert.Equal(t, int64(100), available(t, s, "bob"))
	assert.Equal(t, []string{models.EventChallengeCreated, models.EventGameAbandoned}, rec.Types())
}

func TestPendingChallengesFilter(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t, heads, "alice", "bob", "carol")

	_, err := e.CreateChallenge(ctx, "alice", "bob", 1, "heads")
	require.NoError(t, err)
	_, err = e.CreateChallenge(ctx, "carol", "alice", 1, "heads")
	require.NoError(t, err)
	_, err = e.CreateChallenge(ctx, "bob", "carol", 1, "heads")
	require.NoError(t, err)

	mine, err := e.PendingChallenges(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}
