package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"uploadhub/internal/models"
)

const wsWriteTimeout = 5 * time.Second

// WSSubscriber pushes events over a websocket connection.
type WSSubscriber struct {
	id     string
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{id: uuid.NewString(), conn: conn}
}

func (s *WSSubscriber) ID() string {
	return s.id
}

// Send writes msg as one JSON text frame. Writes are serialised.
func (s *WSSubscriber) Send(msg models.PushMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// Wait reads until the peer goes away. Incoming messages are ignored.
func (s *WSSubscriber) Wait() error {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return err
		}
	}
}
