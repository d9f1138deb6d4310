package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"uploadhub/internal/redis"
)

// RelayChannel is the redis channel progress events are fanned out on.
const RelayChannel = "uploadhub:progress"

// RelayMessage is the envelope published on RelayChannel.
type RelayMessage struct {
	Session string          `json:"session"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay shares progress events between server instances over redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *logrus.Entry
}

func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: RelayChannel,
		log:     logrus.WithField("component", "relay"),
	}
}

// Publish broadcasts one event for sessionID.
func (r *RedisRelay) Publish(ctx context.Context, sessionID, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal relay payload: %w", err)
	}
	data, err := json.Marshal(RelayMessage{Session: sessionID, Event: event, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data)
}

// Listen subscribes to the relay channel and calls handler for each message until
// ctx is cancelled. It returns once the subscription is active.
func (r *RedisRelay) Listen(ctx context.Context, handler func(RelayMessage)) error {
	pubsub, err := r.client.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rm RelayMessage
				if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
					r.log.WithError(err).Warn("relay message decode failed")
					continue
				}
				handler(rm)
			}
		}
	}()
	return nil
}
