// Package registry maps caller identities to display names and exposes the
// per-agent statistics the engines fold settlements into.
package registry

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/store"
	"github.com/shellsino/backend/internal/wager"
)

const (
	MinNameLen = 2
	MaxNameLen = 32
)

// letters, numbers, punctuation, symbols and space separators
var validName = regexp.MustCompile(`^[\p{L}\p{N}\p{P}\p{S}\p{Zs}]+$`)

// ValidateName trims name and checks it against the display-name policy.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinNameLen || n > MaxNameLen {
		return "", wager.InvalidInput(wager.CodeInvalidName, "name must be %d-%d characters", MinNameLen, MaxNameLen)
	}
	if !validName.MatchString(name) {
		return "", wager.InvalidInput(wager.CodeInvalidName, "name contains invalid characters")
	}
	return name, nil
}

type Registry struct {
	store     store.Store
	publisher events.Publisher
	required  bool
	now       func() time.Time
}

// New returns a registry over s. When required is false, Verified accepts any
// well-formed identity.
func New(s store.Store, pub events.Publisher, required bool) *Registry {
	return &Registry{store: s, publisher: pub, required: required, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Register binds name to id. First write wins: a second registration for the
// same identity is rejected with already_registered.
func (r *Registry) Register(ctx context.Context, id, name string) (*models.Agent, error) {
	if err := wager.ValidateIdentity(id); err != nil {
		return nil, err
	}
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}

	agent := &models.Agent{ID: id, Name: name, RegisteredAt: r.now().UTC()}
	var ev models.Event
	err = store.RunInTx(ctx, r.store, func(tx store.Tx) error {
		if err := tx.InsertAgent(ctx, agent); err != nil {
			return err
		}
		ev = models.NewEvent(models.EventAgentRegistered, "", 0, id, map[string]string{"name": name})
		return tx.AppendEvent(ctx, &ev)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[REGISTRY] Agent registered: id=%s name=%q", id, name)
	events.Emit(ctx, r.publisher, []models.Event{ev})
	return agent, nil
}

// Stats returns the agent's name and running statistics. Identities that have
// played without registering have an empty name.
func (r *Registry) Stats(ctx context.Context, id string) (*models.Agent, error) {
	if err := wager.ValidateIdentity(id); err != nil {
		return nil, err
	}
	return r.store.Agent(ctx, id)
}

// Leaderboard lists agents by wins.
func (r *Registry) Leaderboard(ctx context.Context, limit int) ([]models.Agent, error) {
	return r.store.Agents(ctx, limit)
}

// Verified is the capability check engines run before any state change.
// Must not be called from inside an open store Tx.
func (r *Registry) Verified(ctx context.Context, id string) error {
	if err := wager.ValidateIdentity(id); err != nil {
		return err
	}
	if !r.required {
		return nil
	}
	a, err := r.store.Agent(ctx, id)
	if wager.CodeOf(err) == wager.CodeNotFound || (err == nil && a.Name == "") {
		return wager.Unauthorized(wager.CodeNotRegistered, "%s is not a registered agent", id)
	}
	return err
}
