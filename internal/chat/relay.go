package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-anonchat/internal/log"
)

const DefaultRelayChannel = "general-chat"

// RedisRelay shares broadcasts between instances over redis pub/sub.
// Each frame is tagged with the publishing instance so that instance can
// skip its own frames; it already delivered them locally.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	log     zerolog.Logger
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     logger.With().Str(log.FieldComponent, "relay").Logger(),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, Payload: payload})
	if err != nil {
		return fmt.Errorf("relay: marshal: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe delivers frames published by other instances until ctx ends.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(payload []byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("subscribed to relay channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed relay frame")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(env.Payload)
		}
	}
}
