package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/tablesync/pkg/protocol"
)

// TransportConfig configures a Transport.
type TransportConfig struct {
	// URL is the WebSocket URL of the server, e.g. ws://localhost:7777/ws.
	URL string

	// Header is sent with every dial.
	Header http.Header

	// ReadTimeout is the maximum time between two inbound messages.
	// Default: 60 seconds
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to write one frame.
	// Default: 10 seconds
	WriteTimeout time.Duration

	// HeartbeatInterval is the interval between pings.
	// Default: 30 seconds
	HeartbeatInterval time.Duration

	// MinReconnectDelay and MaxReconnectDelay bound the exponential
	// reconnect backoff.
	// Defaults: 500 milliseconds and 10 seconds
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration

	// OnConnect is called after every successful dial.
	OnConnect func()

	// OnDisconnect is called when an established connection is lost.
	OnDisconnect func(err error)

	// OnReconnectAttempt is called before waiting delay for attempt.
	OnReconnectAttempt func(attempt int, delay time.Duration)

	// Logger receives transport logs. Default: slog.Default()
	Logger *slog.Logger
}

func (c *TransportConfig) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MinReconnectDelay <= 0 {
		c.MinReconnectDelay = 500 * time.Millisecond
	}
	if c.MaxReconnectDelay < c.MinReconnectDelay {
		c.MaxReconnectDelay = max(10*time.Second, c.MinReconnectDelay)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Transport connects an Engine to a server over WebSocket and keeps it
// connected.
type Transport struct {
	engine *Engine
	cfg    TransportConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewTransport returns a transport for e.
func NewTransport(e *Engine, cfg TransportConfig) *Transport {
	cfg.applyDefaults()
	return &Transport{
		engine: e,
		cfg:    cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.WriteTimeout,
		},
		logger: cfg.Logger.With("component", "transport"),
	}
}

// Run dials the server and serves the connection, reconnecting with
// exponential backoff until ctx is done. It returns ctx.Err().
func (t *Transport) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.MinReconnectDelay
	b.MaxInterval = t.cfg.MaxReconnectDelay

	attempt := 0
	for {
		conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
		if err == nil {
			b.Reset()
			attempt = 0
			t.serve(ctx, conn)
		} else if ctx.Err() == nil {
			t.logger.Warn("dial failed", "url", t.cfg.URL, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		delay := b.NextBackOff()
		if t.cfg.OnReconnectAttempt != nil {
			t.cfg.OnReconnectAttempt(attempt, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Transport) serve(ctx context.Context, ws *websocket.Conn) {
	c := &wsConn{conn: ws, writeTimeout: t.cfg.WriteTimeout}
	t.engine.Connected(c)
	if t.cfg.OnConnect != nil {
		t.cfg.OnConnect()
	}

	done := make(chan struct{})
	go t.heartbeat(ctx, c, done)

	var err error
	for {
		ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		var msg []byte
		_, msg, err = ws.ReadMessage()
		if err != nil {
			break
		}
		// Frame errors are reported through the engine's OnError.
		_ = t.engine.HandleFrame(msg)
	}
	close(done)
	ws.Close()

	if ctx.Err() != nil {
		err = ctx.Err()
	}
	t.engine.Disconnected(err)
	if t.cfg.OnDisconnect != nil {
		t.cfg.OnDisconnect(err)
	}
}

// heartbeat pings the server and closes the connection when ctx is done.
func (t *Transport) heartbeat(ctx context.Context, c *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ct, ping := protocol.NewPing(uint64(time.Now().UnixMilli()))
			frame, err := protocol.NewMessageFrame(&protocol.Control{Type: ct, Payload: ping})
			if err != nil {
				continue
			}
			if err := c.Send(frame.Encode()); err != nil {
				t.logger.Debug("ping failed", "error", err)
				c.conn.Close()
				return
			}
		case <-ctx.Done():
			ct, cm := protocol.NewClose(protocol.CloseGoingAway, "client stopping")
			if frame, err := protocol.NewMessageFrame(&protocol.Control{Type: ct, Payload: cm}); err == nil {
				_ = c.Send(frame.Encode())
			}
			c.conn.Close()
			return
		case <-done:
			return
		}
	}
}

// errConnClosed is returned by Send after the connection was closed.
var errConnClosed = errors.New("client: connection closed")

type wsConn struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       bool
}

func (c *wsConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.closed = true
		return err
	}
	return nil
}
