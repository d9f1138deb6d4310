package progress

import (
	"context"

	"github.com/sirupsen/logrus"

	"uploadhub/internal/models"
)

// Hub delivers events to the subscribers of one session. With a relay attached every
// event goes through redis first so subscribers connected to other instances get it too.
type Hub struct {
	registry *Registry
	relay    *RedisRelay
	log      *logrus.Entry
}

func NewHub(registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		log:      logrus.WithField("component", "progress"),
	}
}

// Registry returns the registry the hub delivers to.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// UseRelay routes broadcasts through relay and starts delivering what it receives.
// The listener stops when ctx is cancelled.
func (h *Hub) UseRelay(ctx context.Context, relay *RedisRelay) error {
	if err := relay.Listen(ctx, func(msg RelayMessage) {
		h.Deliver(msg.Session, models.PushMessage{Event: msg.Event, Payload: msg.Payload})
	}); err != nil {
		return err
	}
	h.relay = relay
	return nil
}

// BroadcastToSession sends event to every subscriber of sessionID. A session with no
// subscribers is not an error; the event is dropped.
func (h *Hub) BroadcastToSession(sessionID, event string, payload any) {
	if h.relay != nil {
		err := h.relay.Publish(context.Background(), sessionID, event, payload)
		if err == nil {
			return
		}
		h.log.WithError(err).WithField("session", sessionID).Warn("relay publish failed, delivering locally")
	}
	h.Deliver(sessionID, models.PushMessage{Event: event, Payload: payload})
}

// Deliver writes msg to the local subscribers of sessionID and returns how many
// accepted it. Subscribers that fail are closed and deregistered.
func (h *Hub) Deliver(sessionID string, msg models.PushMessage) int {
	delivered := 0
	for _, sub := range h.registry.Subscribers(sessionID) {
		if err := sub.Send(msg); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"session":    sessionID,
				"subscriber": sub.ID(),
			}).Info("dropping subscriber")
			h.registry.Deregister(sessionID, sub.ID())
			sub.Close()
			continue
		}
		delivered++
	}
	return delivered
}
