package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"association-chat/internal/models"
)

// Relay forwards deliveries to every API instance. Target 0 means every
// connected user.
type Relay interface {
	Publish(ctx context.Context, target int64, env models.Envelope) error
	Run(ctx context.Context, deliver func(target int64, env models.Envelope)) error
}

const relayChannel = "chat:push"

type relayEvent struct {
	Target   int64           `json:"target"`
	Envelope models.Envelope `json:"envelope"`
}

// RedisRelay fans push deliveries out through Redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  logrus.FieldLogger
}

func NewRedisRelay(client *redis.Client, logger logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{client: client, channel: relayChannel, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, target int64, env models.Envelope) error {
	b, err := json.Marshal(relayEvent{Target: target, Envelope: env})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Run consumes relayed deliveries until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, deliver func(target int64, env models.Envelope)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var event relayEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			r.logger.WithError(err).Warn("drop malformed relay event")
			continue
		}
		deliver(event.Target, event.Envelope)
	}
}
