package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one WebSocket connection to the hub.
//
// Frames from the hub are queued and written by WriteLoop; frames from the
// client are read by ReadLoop and handed to the hub.
type Session struct {
	// ID is the unique session identifier, sent to the client in ServerInfo.
	ID string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// RemoteAddr is the client address, for logs.
	RemoteAddr string

	conn   *websocket.Conn
	config *SessionConfig
	hub    *Hub
	logger *slog.Logger

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	lastActive    atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
}

func newSession(conn *websocket.Conn, id string, config *SessionConfig, hub *Hub, logger *slog.Logger) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		conn:      conn,
		config:    config,
		hub:       hub,
		logger:    logger.With("session_id", id),
		queue:     make(chan []byte, config.SendQueue),
		done:      make(chan struct{}),
	}
	if conn != nil {
		s.RemoteAddr = conn.RemoteAddr().String()
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Send queues a frame for the client. It never blocks: a client that does
// not read fast enough gets ErrSendQueueFull.
func (s *Session) Send(frame []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.queue <- frame:
		return nil
	default:
		return NewSessionError(s.ID, "send", ErrSendQueueFull)
	}
}

// Close closes the session. Frames already queued are still written.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

// IsClosed reports whether the session is closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done returns a channel closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// UpdateLastActive records client activity.
func (s *Session) UpdateLastActive() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last client activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// BytesSent returns the number of bytes written to the client.
func (s *Session) BytesSent() int64 {
	return s.bytesSent.Load()
}

// BytesReceived returns the number of bytes read from the client.
func (s *Session) BytesReceived() int64 {
	return s.bytesReceived.Load()
}
