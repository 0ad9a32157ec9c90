package events

import (
	"context"
	"errors"
	"testing"

	"github.com/shellsino/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

type failing struct{}

func (failing) Publish(ctx context.Context, ev models.Event) error { return errors.New("down") }

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	f := Fanout{a, nil, failing{}, b}

	err := f.Publish(context.Background(), models.NewEvent(models.EventPoolEntered, models.GameCoinflip, 10, "alice", nil))
	assert.Error(t, err)
	assert.Equal(t, []string{models.EventPoolEntered}, a.Types())
	assert.Equal(t, []string{models.EventPoolEntered}, b.Types())
}

func TestEmitKeepsOrderAndSwallowsErrors(t *testing.T) {
	rec := &Recorder{}
	evs := []models.Event{
		{Seq: 1, Type: models.EventPlayerJoined},
		{Seq: 2, Type: models.EventRoundFired},
	}
	Emit(context.Background(), Fanout{failing{}, rec}, evs)
	Emit(context.Background(), nil, evs)

	got := rec.Events()
	assert.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, int64(2), got[1].Seq)

	rec.Reset()
	assert.Empty(t, rec.Events())
}
