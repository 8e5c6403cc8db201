package client

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/vango-dev/tablesync/internal/errors"
	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/optimistic"
	"github.com/vango-dev/tablesync/pkg/protocol"
	"github.com/vango-dev/tablesync/pkg/reconcile"
	"github.com/vango-dev/tablesync/pkg/reducer"
	"github.com/vango-dev/tablesync/pkg/state"
)

// ErrEngineNotStarted is returned by dispatches before Start.
var ErrEngineNotStarted = stderrors.New("client: engine not started")

// Conn sends complete frames to the server.
type Conn interface {
	Send(frame []byte) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for dispatcher timers.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRoot sets the transition function used to replay pending updates.
func WithRoot(r *reducer.Root) Option {
	return func(e *Engine) {
		e.root = r
	}
}

// WithInitialState sets the state shown before the first snapshot.
func WithInitialState(s state.State) Option {
	return func(e *Engine) {
		e.initial = s
	}
}

// Engine is one client's view of the shared state. All state changes are
// serialized by the engine; its methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	sendMu sync.Mutex

	root    *reducer.Root
	tracker *optimistic.Tracker
	rec     *reconcile.Reconciler
	clock   Clock
	logger  *slog.Logger
	initial state.State

	conn      Conn
	synced    bool
	resyncing bool
	seq       uint64
	playerID state.ID
	info     *protocol.ServerInfo

	started bool
	stopped bool

	dispatchers map[*Dispatcher]struct{}

	subs      map[int]func(state.State)
	nextSub   int
	onError   []func(error)
	onMessage []func(json.RawMessage)
}

// NewEngine returns a stopped engine showing the initial state.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:       SystemClock{},
		logger:      slog.Default(),
		initial:     state.Initial(),
		dispatchers: make(map[*Dispatcher]struct{}),
		subs:        make(map[int]func(state.State)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.root == nil {
		e.root = reducer.NewRoot()
	}
	e.logger = e.logger.With("component", "client")
	e.tracker = optimistic.NewTracker(optimistic.WithNow(e.clock.Now))
	e.rec = reconcile.New(e.root, e.tracker, e.initial, reconcile.WithLogger(e.logger))
	return e
}

// Start enables dispatching. Starting a stopped engine fails.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}
	e.started = true
	return nil
}

// Stop closes every dispatcher, flushing pending edits, and disables the
// engine. Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	ds := make([]*Dispatcher, 0, len(e.dispatchers))
	for d := range e.dispatchers {
		ds = append(ds, d)
	}
	e.mu.Unlock()

	for _, d := range ds {
		d.Close()
	}

	e.mu.Lock()
	e.stopped = true
	e.conn = nil
	e.mu.Unlock()
}

// NewDispatcher returns a dispatcher with its own dispatcher key.
func (e *Engine) NewDispatcher() *Dispatcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := &Dispatcher{e: e, key: "dispatcher/" + uuid.NewString()}
	e.dispatchers[d] = struct{}{}
	return d
}

// State returns the rendered state.
func (e *Engine) State() state.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Rendered()
}

// Authoritative returns the last state received from the server.
func (e *Engine) Authoritative() state.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Authoritative()
}

// Pending returns the updates not acknowledged by the server yet.
func (e *Engine) Pending() []optimistic.Update {
	return e.tracker.Pending()
}

// Synced reports whether a snapshot was received on the current
// connection.
func (e *Engine) Synced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synced
}

// Seq returns the sequence number of the last state message applied.
func (e *Engine) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// ServerInfo returns the info sent by the server on the current connection.
func (e *Engine) ServerInfo() (protocol.ServerInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info == nil {
		return protocol.ServerInfo{}, false
	}
	return *e.info, true
}

// Subscribe registers fn to be called with the rendered state after every
// change. The returned function unsubscribes.
func (e *Engine) Subscribe(fn func(state.State)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// OnError registers fn to be called with errors that have no caller to
// return to: rejected snapshots and patches, failed sends, server error
// frames.
func (e *Engine) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = append(e.onError, fn)
}

// OnBroadcast registers fn to be called with messages other clients
// broadcast.
func (e *Engine) OnBroadcast(fn func(json.RawMessage)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMessage = append(e.onMessage, fn)
}

// DispatchNow sends actions to the server immediately without applying
// them locally. They become visible with the next state from the server.
func (e *Engine) DispatchNow(actions ...action.Action) error {
	if len(actions) == 0 {
		return nil
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	if err := e.runningLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return e.send(conn, &protocol.Dispatch{Envelopes: action.Wrap("", actions...)})
}

// SetPlayer sets the player this client acts as. It is sent now if
// connected and again after every reconnect. An empty id clears it.
func (e *Engine) SetPlayer(id state.ID) error {
	e.mu.Lock()
	e.playerID = id
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	return e.send(conn, &protocol.SetPlayer{PlayerID: id})
}

// Broadcast relays data to every other connected client.
func (e *Engine) Broadcast(data json.RawMessage) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return e.send(conn, &protocol.Broadcast{Data: data})
}

// Connected attaches conn. Every pending update is marked unsent and sent
// again in one frame, after the player id if one is set.
func (e *Engine) Connected(conn Conn) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.conn = conn
	e.synced = false
	e.resyncing = false
	e.info = nil
	e.tracker.MarkAllUnsent()
	playerID := e.playerID
	pending := e.tracker.Len()
	e.mu.Unlock()

	e.logger.Info("connected", "pending", pending)
	if playerID != "" {
		if err := e.send(conn, &protocol.SetPlayer{PlayerID: playerID}); err != nil {
			e.reportError(err)
		}
	}
	e.flush()
}

// Disconnected detaches the connection. Pending updates are kept.
func (e *Engine) Disconnected(cause error) {
	e.mu.Lock()
	wasConnected := e.conn != nil
	e.conn = nil
	e.synced = false
	e.resyncing = false
	pending := e.tracker.Len()
	e.mu.Unlock()

	if !wasConnected {
		return
	}
	e.logger.Warn("disconnected", "error", cause, "pending", pending)
	err := errors.New(errors.CodeConnectionLost)
	if cause != nil {
		err.Wrap(cause)
	}
	e.reportError(err)
}

// HandleFrame processes one frame from the server. Errors are also
// reported to the OnError handlers.
func (e *Engine) HandleFrame(data []byte) error {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		code := errors.CodeDecodeFailed
		if stderrors.Is(err, protocol.ErrInvalidFrameType) {
			code = errors.CodeUnknownFrame
		} else if stderrors.Is(err, protocol.ErrFrameTooLarge) {
			code = errors.CodeFrameTooLarge
		}
		return e.fail(errors.New(code).Wrap(err))
	}

	switch m := msg.(type) {
	case *protocol.SetState:
		e.mu.Lock()
		err := e.rec.ApplySnapshot(m.State, m.Finished)
		if err == nil {
			e.synced = true
			e.resyncing = false
			e.seq = m.Seq
		}
		e.mu.Unlock()
		if err != nil {
			return e.fail(err)
		}
		e.notify()

	case *protocol.PatchState:
		e.mu.Lock()
		if !e.synced {
			e.mu.Unlock()
			return e.fail(errors.New(errors.CodeMalformedPatch).WithDetail("patch received before any snapshot"))
		}
		if e.resyncing {
			// Sent against a base this engine never had.
			e.mu.Unlock()
			e.logger.Debug("patch dropped while resyncing", "seq", m.Seq)
			return nil
		}
		if want := e.seq + 1; m.Seq != want {
			conn, last := e.beginResyncLocked()
			e.mu.Unlock()
			e.requestResync(conn, last)
			return e.fail(errors.New(errors.CodeSequenceGap).WithDetailf("expected state message %d, got %d", want, m.Seq))
		}
		err := e.rec.ApplyPatch(m.Patch, m.Finished)
		if err != nil {
			conn, last := e.beginResyncLocked()
			e.mu.Unlock()
			e.requestResync(conn, last)
			return e.fail(err)
		}
		e.seq = m.Seq
		e.mu.Unlock()
		e.notify()

	case *protocol.ServerInfo:
		e.mu.Lock()
		info := *m
		e.info = &info
		e.mu.Unlock()
		e.logger.Info("server info", "version", m.Version, "build", m.BuildHash, "session_id", m.SessionID)

	case *protocol.Broadcast:
		e.mu.Lock()
		handlers := slices.Clone(e.onMessage)
		e.mu.Unlock()
		for _, fn := range handlers {
			fn(m.Data)
		}

	case *protocol.Control:
		if pp, ok := m.Payload.(*protocol.PingPong); ok && m.Type == protocol.ControlPing {
			e.mu.Lock()
			conn := e.conn
			e.mu.Unlock()
			if conn != nil {
				ct, pong := protocol.NewPong(pp.Timestamp)
				return e.send(conn, &protocol.Control{Type: ct, Payload: pong})
			}
		}

	case *protocol.ErrorMessage:
		e.reportError(m)

	default:
		return e.fail(errors.New(errors.CodeUnknownFrame).WithDetailf("unexpected %s frame from server", msg.FrameType()))
	}
	return nil
}

// flush sends every unsent update as one frame. Without a connection the
// updates stay queued until the next Connected.
func (e *Engine) flush() {
	e.mu.Lock()
	conn := e.conn
	if conn == nil {
		e.mu.Unlock()
		return
	}
	updates := e.tracker.TakeUnsent()
	if len(updates) == 0 {
		e.mu.Unlock()
		return
	}
	var envs []action.Envelope
	ids := make([]action.UpdateID, 0, len(updates))
	for _, u := range updates {
		envs = append(envs, u.Envelopes()...)
		ids = append(ids, u.ID)
	}
	frame, err := protocol.EncodeMessage(&protocol.Dispatch{Envelopes: envs}, 0)
	if err != nil {
		e.tracker.MarkUnsent(ids...)
		e.mu.Unlock()
		e.reportError(err)
		return
	}
	// Taking sendMu before releasing mu keeps frames in TakeUnsent order.
	e.sendMu.Lock()
	e.mu.Unlock()
	err = conn.Send(frame)
	e.sendMu.Unlock()

	if err != nil {
		e.tracker.MarkUnsent(ids...)
		e.reportError(errors.New(errors.CodeConnectionLost).Wrap(err))
		return
	}
	e.logger.Debug("dispatched", "updates", len(ids), "actions", len(envs))
}

// beginResyncLocked stops applying patches until the next snapshot and
// marks every pending update unsent. The acknowledgements of a lost or
// rejected patch are gone; the server acknowledges the resent updates it
// already applied. It returns the connection to ask on, nil when offline.
func (e *Engine) beginResyncLocked() (Conn, uint64) {
	if e.conn == nil || e.resyncing {
		return nil, e.seq
	}
	e.resyncing = true
	e.tracker.MarkAllUnsent()
	return e.conn, e.seq
}

// requestResync asks the server for a snapshot and sends the pending
// updates again behind the request.
func (e *Engine) requestResync(conn Conn, lastSeq uint64) {
	if conn == nil {
		return
	}
	e.logger.Warn("requesting resync", "last_seq", lastSeq)
	ct, rr := protocol.NewResyncRequest(lastSeq)
	if err := e.send(conn, &protocol.Control{Type: ct, Payload: rr}); err != nil {
		e.reportError(err)
		return
	}
	e.flush()
}

func (e *Engine) send(conn Conn, m protocol.Message) error {
	frame, err := protocol.EncodeMessage(m, 0)
	if err != nil {
		return err
	}
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if err := conn.Send(frame); err != nil {
		return errors.New(errors.CodeConnectionLost).Wrap(err)
	}
	return nil
}

func (e *Engine) runningLocked() error {
	if e.stopped {
		return ErrEngineStopped
	}
	if !e.started {
		return ErrEngineNotStarted
	}
	return nil
}

// notify calls the subscribers with the current rendered state.
func (e *Engine) notify() {
	e.mu.Lock()
	s := e.rec.Rendered()
	subs := make([]func(state.State), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (e *Engine) fail(err error) error {
	e.reportError(err)
	return err
}

func (e *Engine) reportError(err error) {
	e.logger.Warn("sync error", "error", err)
	e.mu.Lock()
	handlers := slices.Clone(e.onError)
	e.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}
