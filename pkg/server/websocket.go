package server

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/tablesync/pkg/middleware"
	"github.com/vango-dev/tablesync/pkg/protocol"
)

// ReadLoop reads frames from the client and hands them to the hub. It
// blocks until the connection fails or the session is closed, then
// unregisters the session.
func (s *Session) ReadLoop() {
	defer func() {
		s.Close()
		s.hub.Unregister(s.ID)
	}()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) && !s.IsClosed() {
				s.logger.Error("read error", "error", err)
				middleware.RecordWebSocketError("read")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.logger.Warn("ignoring non-binary message", "type", msgType)
			continue
		}

		s.UpdateLastActive()
		s.bytesReceived.Add(int64(len(msg)))

		if err := s.hub.Receive(s.ID, msg); err != nil {
			return
		}
	}
}

// WriteLoop writes queued frames and sends heartbeat pings. When the
// session closes it writes the frames still queued and closes the
// connection.
func (s *Session) WriteLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.queue:
			if err := s.write(frame); err != nil {
				s.logger.Debug("write error", "error", err)
				middleware.RecordWebSocketError("write")
				s.Close()
				return
			}

		case <-ticker.C:
			if err := s.sendPing(); err != nil {
				s.logger.Debug("ping error", "error", err)
				s.Close()
				return
			}

		case <-s.done:
			for {
				select {
				case frame := <-s.queue:
					if err := s.write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) write(frame []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	s.bytesSent.Add(int64(len(frame)))
	return nil
}

// sendPing writes a protocol ping. The client answers with a pong, which
// keeps the read deadline from expiring.
func (s *Session) sendPing() error {
	ct, pp := protocol.NewPing(uint64(time.Now().UnixMilli()))
	frame, err := protocol.EncodeMessage(&protocol.Control{Type: ct, Payload: pp}, 0)
	if err != nil {
		return err
	}
	return s.write(frame)
}
