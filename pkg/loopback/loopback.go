package loopback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/tablesync/pkg/client"
	"github.com/vango-dev/tablesync/pkg/server"
	"github.com/vango-dev/tablesync/pkg/state"
	"github.com/vango-dev/tablesync/pkg/store"
)

// errDisconnected is returned by a client connection after it was dropped.
var errDisconnected = errors.New("loopback: disconnected")

// maxSyncRounds bounds Sync. Each round flushes the hub and delivers every
// queued frame; replies to delivered frames need another round.
const maxSyncRounds = 16

// Option configures a Table.
type Option func(*Table)

// WithStore sets the store the hub persists to. Default: a MemoryStore.
func WithStore(st store.Store) Option {
	return func(t *Table) {
		t.store = st
	}
}

// WithServerConfig sets the hub configuration. Broadcast and persistence
// timers are disabled regardless, so frames only move on Sync.
func WithServerConfig(cfg *server.ServerConfig) Option {
	return func(t *Table) {
		t.config = cfg.Clone()
	}
}

// WithHubOptions adds options to every hub the table starts.
func WithHubOptions(opts ...server.HubOption) Option {
	return func(t *Table) {
		t.hubOpts = append(t.hubOpts, opts...)
	}
}

// Table is an in-process hub with client engines attached through
// in-memory connections.
type Table struct {
	tb      testing.TB
	config  *server.ServerConfig
	store   store.Store
	hubOpts []server.HubOption

	mu      sync.Mutex
	hub     *server.Hub
	clients []*Client
}

// New starts a table. It is stopped when the test ends.
func New(tb testing.TB, opts ...Option) *Table {
	tb.Helper()
	t := &Table{
		tb:     tb,
		config: server.DefaultServerConfig(),
		store:  store.NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.config.BroadcastInterval = time.Hour
	t.config.PersistDelay = time.Hour
	t.config.PersistMaxDelay = time.Hour

	if err := t.startHub(); err != nil {
		tb.Fatalf("loopback: start hub: %v", err)
	}
	tb.Cleanup(t.Close)
	return t
}

func (t *Table) startHub() error {
	opts := append([]server.HubOption{server.WithHubStore(t.store)}, t.hubOpts...)
	hub := server.NewHub(t.config, opts...)
	if err := hub.Start(context.Background()); err != nil {
		return err
	}
	t.mu.Lock()
	t.hub = hub
	t.mu.Unlock()
	return nil
}

// Hub returns the current hub.
func (t *Table) Hub() *server.Hub {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hub
}

// Store returns the store the hub persists to.
func (t *Table) Store() store.Store {
	return t.store
}

// Clients returns the clients that joined the table.
func (t *Table) Clients() []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Client(nil), t.clients...)
}

// Join creates a started engine on a manual clock and connects it.
func (t *Table) Join(opts ...client.Option) *Client {
	t.tb.Helper()
	clock := client.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	engine := client.NewEngine(append([]client.Option{client.WithClock(clock)}, opts...)...)
	if err := engine.Start(); err != nil {
		t.tb.Fatalf("loopback: start engine: %v", err)
	}

	c := &Client{Engine: engine, Clock: clock, table: t}
	t.mu.Lock()
	t.clients = append(t.clients, c)
	t.mu.Unlock()

	if err := c.SimulateReconnect(); err != nil {
		t.tb.Fatalf("loopback: connect: %v", err)
	}
	return c
}

// Sync lets the hub handle everything clients sent, broadcasts, and
// delivers every queued frame to the clients, until nothing moves.
func (t *Table) Sync() {
	t.tb.Helper()
	for range maxSyncRounds {
		if err := t.Hub().Flush(context.Background()); err != nil {
			t.tb.Fatalf("loopback: flush: %v", err)
		}
		delivered := 0
		for _, c := range t.Clients() {
			delivered += c.Deliver()
		}
		if delivered == 0 {
			return
		}
	}
	t.tb.Fatalf("loopback: frames still moving after %d rounds", maxSyncRounds)
}

// SimulateServerRestart stops the hub, which saves the state, starts a new
// hub from the same store and reconnects every connected client.
func (t *Table) SimulateServerRestart() error {
	connected := make([]*Client, 0)
	for _, c := range t.Clients() {
		if c.Connected() {
			connected = append(connected, c)
			c.drop(nil)
		}
	}
	if err := t.Hub().Stop(context.Background()); err != nil {
		return err
	}
	if err := t.startHub(); err != nil {
		return err
	}
	for _, c := range connected {
		if err := c.SimulateReconnect(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops every engine and the hub.
func (t *Table) Close() {
	for _, c := range t.Clients() {
		c.Engine.Stop()
	}
	_ = t.Hub().Stop(context.Background())
}

// ExpectConverged fails the test unless every connected client shows the
// canonical state and has no pending updates.
func (t *Table) ExpectConverged() {
	t.tb.Helper()
	canonical := t.Hub().State()
	for i, c := range t.Clients() {
		if !c.Connected() {
			continue
		}
		if n := len(c.Engine.Pending()); n != 0 {
			t.tb.Errorf("client %d: expected no pending updates, got %d", i, n)
		}
		if !state.Equal(c.Engine.State(), canonical) {
			t.tb.Errorf("client %d: state differs from the canonical state", i)
		}
	}
}

// Client is an engine attached to a Table.
type Client struct {
	Engine *client.Engine
	Clock  *client.ManualClock

	table *Table

	mu   sync.Mutex
	link *link
}

// link is one connection between a client and the hub.
type link struct {
	sessionID string
	hub       *server.Hub

	mu     sync.Mutex
	inbox  [][]byte
	closed bool
}

// Send implements server.Sender: frames wait in the inbox until delivered.
func (l *link) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errDisconnected
	}
	l.inbox = append(l.inbox, frame)
	return nil
}

// Close implements server.Sender.
func (l *link) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *link) take() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	frames := l.inbox
	l.inbox = nil
	return frames
}

// upstream is the client side of a link.
type upstream struct{ l *link }

// Send implements client.Conn.
func (u upstream) Send(frame []byte) error {
	if u.l.isClosed() {
		return errDisconnected
	}
	return u.l.hub.Receive(u.l.sessionID, frame)
}

// SessionID returns the id of the current connection, or "" when
// disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return ""
	}
	return c.link.sessionID
}

// Connected reports whether the client has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil && !c.link.isClosed()
}

// Advance moves the client's clock, firing due dispatcher timers.
func (c *Client) Advance(d time.Duration) {
	c.Clock.Advance(d)
}

// Deliver hands every queued frame to the engine and returns how many were
// delivered. Frames queued for a dropped connection are discarded.
func (c *Client) Deliver() int {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return 0
	}
	frames := l.take()
	if l.isClosed() {
		return 0
	}
	for _, frame := range frames {
		// Frame errors reach the engine's OnError handlers.
		_ = c.Engine.HandleFrame(frame)
	}
	return len(frames)
}

// Discard drops every frame queued for the client without delivering it,
// as if the frames were lost on the way. It returns how many were dropped.
func (c *Client) Discard() int {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return 0
	}
	return len(l.take())
}

// SimulateDisconnect drops the connection. Frames the hub sent but the
// client has not received yet are lost.
func (c *Client) SimulateDisconnect() {
	c.drop(errDisconnected)
}

func (c *Client) drop(cause error) {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l == nil {
		return
	}
	l.Close()
	l.hub.Unregister(l.sessionID)
	c.Engine.Disconnected(cause)
}

// SimulateReconnect opens a new connection, replacing the current one.
func (c *Client) SimulateReconnect() error {
	c.drop(nil)

	hub := c.table.Hub()
	l := &link{sessionID: uuid.NewString(), hub: hub}
	if err := hub.Register(l.sessionID, l); err != nil {
		return err
	}
	c.mu.Lock()
	c.link = l
	c.mu.Unlock()
	c.Engine.Connected(upstream{l})
	return nil
}
