package permcache

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel carries role and user change notifications.
const InvalidationChannel = "rbac.invalidate"

// Event kinds.
const (
	EventRole    = "role"
	EventUser    = "user"
	EventCatalog = "catalog"
)

// Event names the role or user whose permissions changed. Catalog events
// carry no id.
type Event struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// Broadcaster publishes invalidations over Redis pub/sub so every process
// holding session caches can refresh the affected ones.
type Broadcaster struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBroadcaster builds a broadcaster on InvalidationChannel.
func NewBroadcaster(client *redis.Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, channel: InvalidationChannel, logger: logger}
}

// RoleChanged announces a change to a role's bundle or fields.
func (b *Broadcaster) RoleChanged(ctx context.Context, roleID int64) error {
	return b.publish(ctx, Event{Kind: EventRole, ID: roleID})
}

// UserChanged announces a change to a user's role or overrides.
func (b *Broadcaster) UserChanged(ctx context.Context, userID int64) error {
	return b.publish(ctx, Event{Kind: EventUser, ID: userID})
}

// CatalogChanged announces that permission definitions were added or renamed.
func (b *Broadcaster) CatalogChanged(ctx context.Context) error {
	return b.publish(ctx, Event{Kind: EventCatalog})
}

func (b *Broadcaster) publish(ctx context.Context, ev Event) error {
	if b == nil || b.client == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Listen subscribes to invalidations and hands each event to handle until ctx
// ends. It returns once the subscription is confirmed.
func (b *Broadcaster) Listen(ctx context.Context, handle func(context.Context, Event) error) error {
	if b == nil || b.client == nil {
		return nil
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("permcache malformed invalidation", slog.String("payload", msg.Payload))
					continue
				}
				if err := handle(ctx, ev); err != nil {
					b.logger.Warn("permcache invalidation", slog.String("kind", ev.Kind), slog.Int64("id", ev.ID), slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}
