package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTransport fans changes out over a Redis pub/sub channel.
type RedisTransport struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	logger  *zerolog.Logger
}

func NewRedisTransport(client *redis.Client, channel string, logger *zerolog.Logger) *RedisTransport {
	l := logger.With().Str("component", "realtime_redis").Logger()
	return &RedisTransport{client: client, channel: channel, logger: &l}
}

func (t *RedisTransport) Publish(ctx context.Context, c Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return t.client.Publish(ctx, t.channel, body).Err()
}

// Subscribe starts delivering messages until ctx is done or Close is called.
func (t *RedisTransport) Subscribe(ctx context.Context, h Handler) error {
	t.pubsub = t.client.Subscribe(ctx, t.channel)
	if _, err := t.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", t.channel, err)
	}

	ch := t.pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					t.logger.Warn().Err(err).Msg("Dropping malformed change")
					continue
				}
				h(c)
			}
		}
	}()
	return nil
}

func (t *RedisTransport) Close() error {
	if t.pubsub == nil {
		return nil
	}
	return t.pubsub.Close()
}
