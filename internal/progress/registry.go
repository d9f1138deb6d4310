package progress

import (
	"errors"
	"sync"

	"uploadhub/internal/models"
)

// ErrSubscriberClosed is returned by Send once a subscriber has been closed.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Subscriber is one open push connection.
type Subscriber interface {
	ID() string
	Send(msg models.PushMessage) error
	Close() error
}

// Registry maps session ids to their open push connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Subscriber
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[string]Subscriber)}
}

// Register adds sub under sessionID. A subscriber registered twice is stored once.
func (r *Registry) Register(sessionID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.sessions[sessionID]
	if !ok {
		subs = make(map[string]Subscriber)
		r.sessions[sessionID] = subs
	}
	subs[sub.ID()] = sub
}

// Deregister removes the subscriber and reports whether it was present.
func (r *Registry) Deregister(sessionID, subscriberID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := subs[subscriberID]; !ok {
		return false
	}
	delete(subs, subscriberID)
	if len(subs) == 0 {
		delete(r.sessions, sessionID)
	}
	return true
}

// Subscribers returns a snapshot of the subscribers of sessionID.
func (r *Registry) Subscribers(sessionID string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.sessions[sessionID]
	out := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

// Len counts registered subscribers across all sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.sessions {
		n += len(subs)
	}
	return n
}
