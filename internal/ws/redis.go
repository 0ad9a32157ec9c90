package ws

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/shellsino/backend/internal/events"
	"github.com/shellsino/backend/internal/models"
)

// StartEventSubscriber feeds the hub from the Redis events channel until ctx
// is done. Used when engines publish to Redis instead of the hub directly,
// so every API instance pushes every committed event.
func StartEventSubscriber(ctx context.Context, rdb *redis.Client, channel string, h *Hub) error {
	if rdb == nil {
		log.Println("[WS] Redis client not set; event subscriber not started")
		return nil
	}
	return events.Subscribe(ctx, rdb, channel, func(ev models.Event) {
		if err := h.Publish(ctx, ev); err != nil {
			log.Printf("[WS] Failed to push event %d (%s): %v", ev.Seq, ev.Type, err)
		}
	})
}
