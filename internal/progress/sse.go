package progress

import (
	"sync"

	"github.com/google/uuid"

	"uploadhub/internal/models"
)

const defaultSSEBuffer = 64

// SSESubscriber queues events for an HTTP handler that streams them as server-sent
// events. When the queue is full new events are dropped; progress is cumulative so
// the next event supersedes the lost one.
type SSESubscriber struct {
	id     string
	events chan models.PushMessage
	done   chan struct{}
	once   sync.Once
}

func NewSSESubscriber(buffer int) *SSESubscriber {
	if buffer <= 0 {
		buffer = defaultSSEBuffer
	}
	return &SSESubscriber{
		id:     uuid.NewString(),
		events: make(chan models.PushMessage, buffer),
		done:   make(chan struct{}),
	}
}

func (s *SSESubscriber) ID() string {
	return s.id
}

func (s *SSESubscriber) Send(msg models.PushMessage) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}
	select {
	case s.events <- msg:
	default:
	}
	return nil
}

// Events is drained by the streaming handler.
func (s *SSESubscriber) Events() <-chan models.PushMessage {
	return s.events
}

// Done is closed by Close.
func (s *SSESubscriber) Done() <-chan struct{} {
	return s.done
}

func (s *SSESubscriber) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
