package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is a room event as it travels on the bus.
type Envelope struct {
	ID          string           `json:"id"`
	InstanceID  string           `json:"instance_id"`
	PublishedAt time.Time        `json:"published_at"`
	Event       domain.RoomEvent `json:"event"`
}

// EventBus publishes room lifecycle events on a Redis channel.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

var _ ports.EventPublisher = (*EventBus)(nil)

func NewEventBus(client redis.UniversalClient, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

func (eb *EventBus) Publish(ctx context.Context, event domain.RoomEvent) error {
	env := Envelope{
		ID:          uuid.NewString(),
		InstanceID:  eb.instanceID,
		PublishedAt: time.Now().UTC(),
		Event:       event,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"guild_id", event.GuildID,
		"room_id", event.RoomID,
		"event_id", env.ID,
	)
	return nil
}

// Subscribe delivers events of other instances to handler until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(Envelope) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if env.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(env); err != nil {
				eb.logger.Warnw("error handling event",
					"type", env.Event.Type,
					"event_id", env.ID,
					"error", err,
				)
			}
		}
	}
}

func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
