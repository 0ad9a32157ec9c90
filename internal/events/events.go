// Package events delivers committed life-cycle events to collaborators.
// Events are durable once their unit of work commits; publishing is a
// best-effort notification on top of the store's event log.
//
// Ordering: engines publish while still holding the pool or chamber lock, so
// events of one pool or chamber arrive in Seq order. Events of different
// tiers, challenges and account operations are published concurrently and
// may interleave out of Seq order. Subscribers that need a total order sort
// by Seq, and fill gaps from the store with Events(after).
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/shellsino/backend/internal/models"
)

// DefaultChannel is the Redis pub/sub channel events are published on.
const DefaultChannel = "game_events"

type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Emit publishes committed events in order. Failures are logged, never
// returned: the transition they describe has already happened.
func Emit(ctx context.Context, p Publisher, evs []models.Event) {
	if p == nil {
		return
	}
	for _, ev := range evs {
		if err := p.Publish(ctx, ev); err != nil {
			log.Printf("[EVENTS] publish %s seq=%d failed: %v", ev.Type, ev.Seq, err)
		}
	}
}

// RedisPublisher PUBLISHes each event as JSON on a channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscribe decodes events from channel and hands them to fn until ctx is
// done. Malformed payloads are logged and skipped.
func Subscribe(ctx context.Context, client *redis.Client, channel string, fn func(models.Event)) error {
	if channel == "" {
		channel = DefaultChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	log.Printf("[EVENTS] subscribed to %s", channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[EVENTS] invalid event payload on %s: %v", channel, err)
				continue
			}
			fn(ev)
		}
	}
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *Recorder) Publish(ctx context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
