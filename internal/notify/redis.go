package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/aleksmarkov/docpulse/pkg/logger"
)

// eventsChannel carries worker-side status events to every API process.
const eventsChannel = "docpulse:events"

type envelope struct {
	OwnerID string `json:"ownerId"`
	Event   Event  `json:"event"`
}

// RedisSink publishes events over Redis pub/sub. The worker holds no
// sockets itself, so this is how its status changes reach whichever API
// process the owner's clients are connected to.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink constructs a sink on an existing Redis client.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Publish sends the event to the events channel. Failures are logged and
// swallowed; a notification must never fail the job that produced it.
func (s *RedisSink) Publish(ctx context.Context, ownerID string, ev Event) {
	data, err := json.Marshal(envelope{OwnerID: ownerID, Event: ev})
	if err != nil {
		logger.Error(ctx, "marshal notification envelope", "error", err)
		return
	}
	if err := s.client.Publish(ctx, eventsChannel, data).Err(); err != nil {
		logger.Error(ctx, "publish notification", "error", err, "file_id", ev.FileID)
	}
}

// Relay subscribes to the events channel and forwards each event into the
// local sink, typically a Hub. It blocks until the context is cancelled.
func Relay(ctx context.Context, client *redis.Client, local Sink) error {
	sub := client.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn(ctx, "bad notification envelope", "error", err)
				continue
			}
			local.Publish(ctx, env.OwnerID, env.Event)
		}
	}
}
