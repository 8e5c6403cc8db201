package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/middleware"
	"github.com/vango-dev/tablesync/pkg/protocol"
	"github.com/vango-dev/tablesync/pkg/reducer"
	"github.com/vango-dev/tablesync/pkg/state"
	"github.com/vango-dev/tablesync/pkg/store"
)

// Sender delivers encoded frames to one client.
//
// Send must not block on the network; implementations queue the frame and
// return an error when the client cannot keep up. Close disconnects the
// client.
type Sender interface {
	Send(frame []byte) error
	Close()
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubStore persists the canonical state in st.
func WithHubStore(st store.Store) HubOption {
	return func(h *Hub) {
		h.store = st
	}
}

// WithHubMigrator sets the migrator used to load the persisted state.
// Default: store.StrictMigrator.
func WithHubMigrator(m store.Migrator) HubOption {
	return func(h *Hub) {
		h.migrator = m
	}
}

// WithHubMiddleware wraps every action application in mws.
func WithHubMiddleware(mws ...middleware.Middleware) HubOption {
	return func(h *Hub) {
		h.middleware = append(h.middleware, mws...)
	}
}

// WithHubRoot sets the root reducer. Default: reducer.NewRoot().
func WithHubRoot(r *reducer.Root) HubOption {
	return func(h *Hub) {
		h.root = r
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l.With("component", "hub")
	}
}

// WithHubInitialState sets the state used when the store holds none.
func WithHubInitialState(s state.State) HubOption {
	return func(h *Hub) {
		h.state = s
	}
}

// WithHubClock overrides time.Now for snapshot timestamps.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		h.now = now
	}
}

// Hub owns the canonical state of a table and keeps every connected
// session in sync with it. All state lives on the hub's loop goroutine;
// the exported methods are safe for concurrent use.
type Hub struct {
	cfg        *ServerConfig
	logger     *slog.Logger
	root       *reducer.Root
	middleware []middleware.Middleware
	apply      middleware.Handler
	store      store.Store
	migrator   store.Migrator
	now        func() time.Time

	cmds    chan func()
	done    chan struct{}
	stopped chan struct{}
	running atomic.Bool
	stop    sync.Once

	// Owned by the loop goroutine.
	state    state.State
	rev      uint64
	peers    map[string]*peer
	seen     *updateRing
	dirty    bool
	dirtyAt  time.Time
	persistT *time.Timer
	persistC <-chan time.Time

	persistQ    chan state.State
	persistDone chan struct{}

	current atomic.Pointer[state.State]
	stats   hubCounters
}

// peer is the hub's view of one connected session.
type peer struct {
	id       string
	sender   Sender
	playerID state.ID
	seq      uint64
	last     state.State
	rev      uint64
	finished []action.UpdateID
}

type hubCounters struct {
	sessionsTotal   atomic.Int64
	actionsApplied  atomic.Int64
	actionsFailed   atomic.Int64
	duplicates      atomic.Int64
	setStatesSent   atomic.Int64
	patchesSent     atomic.Int64
	resyncs         atomic.Int64
	bytesSent       atomic.Int64
	persists        atomic.Int64
	persistFailures atomic.Int64
}

// NewHub creates a hub. Call Start before registering sessions.
func NewHub(cfg *ServerConfig, opts ...HubOption) *Hub {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	cfg = cfg.Clone()
	cfg.applyDefaults()

	h := &Hub{
		cfg:      cfg,
		logger:   slog.Default().With("component", "hub"),
		migrator: store.StrictMigrator{},
		now:      time.Now,
		cmds:     make(chan func(), 256),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		state:    state.Initial(),
		peers:    make(map[string]*peer),
		seen:     newUpdateRing(cfg.DedupWindow),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.root == nil {
		h.root = reducer.NewRoot()
	}
	h.apply = middleware.Chain(h.applyOne, h.middleware...)
	h.publish()
	return h
}

// Start loads the persisted state, if a store is configured, and starts the
// hub loop. A persisted state that cannot be migrated is an error: the hub
// does not start on top of data it cannot read.
func (h *Hub) Start(ctx context.Context) error {
	if h.store != nil {
		s, ok, err := store.LoadState(ctx, h.store, h.cfg.TableKey, h.migrator)
		if err != nil {
			return err
		}
		if ok {
			h.state = s
			h.logger.Info("state loaded", "key", h.cfg.TableKey)
		}
		h.persistQ = make(chan state.State, 1)
		h.persistDone = make(chan struct{})
		go h.persistLoop()
	}
	h.publish()
	h.running.Store(true)
	go h.loop()
	return nil
}

// Stop closes every session, saves the state and stops the loop. It is
// safe to call more than once.
func (h *Hub) Stop(ctx context.Context) error {
	if !h.running.Load() {
		return nil
	}
	h.stop.Do(func() {
		close(h.done)
	})
	select {
	case <-h.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	if h.persistQ == nil {
		return nil
	}
	select {
	case <-h.persistDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current canonical state.
func (h *Hub) State() state.State {
	return *h.current.Load()
}

// Register adds a session and sends it the server info and the current
// state.
func (h *Hub) Register(id string, s Sender) error {
	var err error
	if doErr := h.do(context.Background(), func() {
		err = h.register(id, s)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Unregister removes a session. Its player goes offline when no other
// session plays it.
func (h *Hub) Unregister(id string) {
	_ = h.enqueue(func() {
		h.unregister(id)
	})
}

// Receive hands a frame from session id to the hub. Frames of one session
// are handled in the order they are received.
func (h *Hub) Receive(id string, frame []byte) error {
	msg, err := protocol.DecodeMessage(frame)
	return h.enqueue(func() {
		p, ok := h.peers[id]
		if !ok {
			return
		}
		if err != nil {
			h.logger.Warn("frame decode error", "session_id", id, "error", err)
			h.sendError(p, protocol.NewError(protocol.ErrInvalidFrame, err.Error()))
			return
		}
		h.handle(p, msg)
	})
}

// Flush broadcasts pending changes and acknowledgements now and waits until
// they were handed to the senders.
func (h *Hub) Flush(ctx context.Context) error {
	return h.do(ctx, h.broadcast)
}

// Sessions returns the number of registered sessions.
func (h *Hub) Sessions() int {
	n := 0
	if err := h.do(context.Background(), func() { n = len(h.peers) }); err != nil {
		return 0
	}
	return n
}

func (h *Hub) enqueue(fn func()) error {
	if !h.running.Load() {
		return ErrHubStopped
	}
	select {
	case h.cmds <- fn:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// do runs fn on the loop goroutine and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := h.enqueue(func() {
		fn()
		close(finished)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.stopped:
		select {
		case <-finished:
			return nil
		default:
			return ErrHubStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.stopped)

	ticker := time.NewTicker(h.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-h.cmds:
			fn()
		case <-ticker.C:
			h.broadcast()
		case <-h.persistC:
			h.persistC = nil
			h.enqueuePersist()
		case <-h.done:
			h.shutdown()
			return
		}
	}
}

func (h *Hub) shutdown() {
	h.running.Store(false)
	// Drain commands queued before Stop so their changes are saved.
	for drained := false; !drained; {
		select {
		case fn := <-h.cmds:
			fn()
		default:
			drained = true
		}
	}
	h.broadcast()

	ct, cm := protocol.NewClose(protocol.CloseServerShutdown, "server shutting down")
	frame, err := protocol.EncodeMessage(&protocol.Control{Type: ct, Payload: cm}, 0)
	for id, p := range h.peers {
		if err == nil {
			_ = p.sender.Send(frame)
		}
		p.sender.Close()
		delete(h.peers, id)
		middleware.RecordSessionDestroy()
	}

	if h.persistT != nil {
		h.persistT.Stop()
	}
	if h.persistQ != nil {
		if h.dirty {
			h.enqueuePersist()
		}
		close(h.persistQ)
	}
	h.logger.Info("hub stopped")
}

// =============================================================================
// Sessions
// =============================================================================

func (h *Hub) register(id string, s Sender) error {
	if _, exists := h.peers[id]; exists {
		return NewSessionError(id, "register", fmt.Errorf("duplicate session id"))
	}
	if h.cfg.MaxSessions > 0 && len(h.peers) >= h.cfg.MaxSessions {
		return ErrMaxSessionsReached
	}

	p := &peer{id: id, sender: s}
	h.peers[id] = p
	h.stats.sessionsTotal.Add(1)
	middleware.RecordSessionCreate()

	if !h.send(p, &protocol.ServerInfo{
		Version:   h.cfg.Version,
		BuildHash: h.cfg.BuildHash,
		SessionID: id,
	}) {
		return NewSessionError(id, "register", ErrSessionClosed)
	}

	if err := h.sendState(p); err != nil {
		return NewSessionError(id, "register", err)
	}
	h.logger.Debug("session registered", "session_id", id)
	return nil
}

// sendState sends p the full canonical state together with the updates
// acknowledged since its last state message. Later patches are diffs
// against this state.
func (h *Hub) sendState(p *peer) error {
	data, err := json.Marshal(h.state)
	if err != nil {
		h.logger.Error("encode state", "error", err)
		h.drop(p)
		return err
	}
	m := &protocol.SetState{Seq: p.seq + 1, Finished: p.finished, State: data}
	if !h.send(p, m) {
		return ErrSessionClosed
	}
	p.seq++
	p.last = h.state
	p.rev = h.rev
	p.finished = nil
	h.stats.setStatesSent.Add(1)
	middleware.RecordStateFrame("set")
	return nil
}

func (h *Hub) unregister(id string) {
	p, ok := h.peers[id]
	if !ok {
		return
	}
	delete(h.peers, id)
	middleware.RecordSessionDestroy()
	h.leave(p.id, p.playerID)
	h.logger.Debug("session unregistered", "session_id", id)
}

// drop closes a session whose sender failed.
func (h *Hub) drop(p *peer) {
	if _, ok := h.peers[p.id]; !ok {
		return
	}
	p.sender.Close()
	h.unregister(p.id)
}

// send encodes m and hands it to the session. It reports whether the frame
// was accepted; a session that cannot accept frames is dropped.
func (h *Hub) send(p *peer, m protocol.Message) bool {
	frame, err := protocol.EncodeMessage(m, h.cfg.CompressThreshold)
	if err != nil {
		h.logger.Error("encode frame", "session_id", p.id, "type", m.FrameType(), "error", err)
		return false
	}
	if err := p.sender.Send(frame); err != nil {
		h.logger.Warn("send failed", "session_id", p.id, "error", err)
		middleware.RecordWebSocketError("send")
		h.drop(p)
		return false
	}
	h.stats.bytesSent.Add(int64(len(frame)))
	return true
}

func (h *Hub) sendError(p *peer, em *protocol.ErrorMessage) {
	h.send(p, em)
}

// =============================================================================
// Inbound frames
// =============================================================================

func (h *Hub) handle(p *peer, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Dispatch:
		h.dispatch(p, m.Envelopes)

	case *protocol.SetPlayer:
		h.setPlayer(p, m.PlayerID)

	case *protocol.Broadcast:
		for _, other := range h.peers {
			if other.id != p.id {
				h.send(other, m)
			}
		}

	case *protocol.Control:
		switch m.Type {
		case protocol.ControlPing:
			if pp, ok := m.Payload.(*protocol.PingPong); ok {
				ct, pong := protocol.NewPong(pp.Timestamp)
				h.send(p, &protocol.Control{Type: ct, Payload: pong})
			}
		case protocol.ControlResyncRequest:
			var last uint64
			if rr, ok := m.Payload.(*protocol.ResyncRequest); ok {
				last = rr.LastSeq
			}
			h.logger.Info("resync requested", "session_id", p.id, "last_seq", last, "seq", p.seq)
			h.stats.resyncs.Add(1)
			if err := h.sendState(p); err != nil {
				h.logger.Warn("resync failed", "session_id", p.id, "error", err)
			}
		case protocol.ControlClose:
			if cm, ok := m.Payload.(*protocol.CloseMessage); ok {
				h.logger.Info("client closing", "session_id", p.id, "reason", cm.Reason, "message", cm.Message)
			}
			h.drop(p)
		}

	default:
		h.logger.Warn("unexpected frame", "session_id", p.id, "type", msg.FrameType())
		h.sendError(p, protocol.NewError(protocol.ErrUnexpectedType, msg.FrameType().String()+" is not accepted from clients"))
	}
}

// dispatch applies envelopes in order. The envelopes of one optimistic
// update are applied at most once: an update resent after a reconnect is
// skipped but acknowledged again.
func (h *Hub) dispatch(p *peer, envs []action.Envelope) {
	applying := make(map[action.UpdateID]bool)
	skipping := make(map[action.UpdateID]bool)

	for _, env := range envs {
		id := env.OptimisticUpdateID
		if id != "" && !applying[id] {
			if skipping[id] {
				continue
			}
			if h.seen.Has(id) {
				skipping[id] = true
				h.stats.duplicates.Add(1)
				middleware.RecordDuplicateUpdate()
				p.finished = append(p.finished, id)
				continue
			}
			h.seen.Add(id)
			applying[id] = true
			p.finished = append(p.finished, id)
		}

		if err := env.Action.Validate(); err != nil {
			h.logger.Warn("invalid action", "session_id", p.id, "action", env.Action.Type, "error", err)
			h.sendError(p, protocol.NewError(protocol.ErrInvalidAction, err.Error()))
			continue
		}
		h.run(p, id, env.Action)
	}
}

// run applies a through the middleware chain.
func (h *Hub) run(p *peer, id action.UpdateID, a action.Action) {
	ap := middleware.Apply{
		UpdateID: id,
		Action:   a,
	}
	if p != nil {
		ap.SessionID = p.id
		ap.PlayerID = p.playerID
	}
	if err := h.apply(context.Background(), ap); err != nil {
		h.stats.actionsFailed.Add(1)
		h.logger.Warn("action failed", "session_id", ap.SessionID, "action", a.Type, "error", err)
	}
}

// applyOne is the innermost handler of the middleware chain.
func (h *Hub) applyOne(_ context.Context, ap middleware.Apply) error {
	next, err := h.root.Apply(h.state, ap.Action)
	if err != nil {
		return err
	}
	h.state = next
	h.rev++
	h.stats.actionsApplied.Add(1)
	h.publish()
	h.markDirty()
	return nil
}

// setPlayer switches the player of a session and keeps the ephemeral
// player list in step: a player is online while at least one session
// plays it.
func (h *Hub) setPlayer(p *peer, id state.ID) {
	if id != "" && !id.Valid() {
		h.sendError(p, protocol.NewError(protocol.ErrInvalidPlayer, fmt.Sprintf("invalid player id %q", id)))
		return
	}
	if id == p.playerID {
		return
	}
	old := p.playerID
	p.playerID = id
	h.leave(p.id, old)

	if id == "" || h.state.Ephemeral.Players.Has(id) {
		return
	}
	h.run(p, "", action.AddEphemeralPlayer(state.EphemeralPlayer{ID: id, IsOnline: true}))
}

// leave marks playerID offline unless a session other than sessionID still
// plays it.
func (h *Hub) leave(sessionID string, playerID state.ID) {
	if playerID == "" {
		return
	}
	for _, other := range h.peers {
		if other.id != sessionID && other.playerID == playerID {
			return
		}
	}
	if !h.state.Ephemeral.Players.Has(playerID) {
		return
	}
	h.run(nil, "", action.RemoveEphemeralPlayer(playerID))
}

// =============================================================================
// Broadcast
// =============================================================================

// broadcast sends every session the changes since its last state message
// and the updates of that session applied since then. Sessions with
// nothing new are skipped. Patches are shared between sessions that were
// sent the same state.
func (h *Hub) broadcast() {
	patches := make(map[uint64]protocol.StatePatch)

	for _, p := range h.peers {
		if p.rev == h.rev && len(p.finished) == 0 {
			continue
		}

		var patch protocol.StatePatch
		if p.rev != h.rev {
			cached, ok := patches[p.rev]
			if !ok {
				var err error
				cached, err = protocol.BuildPatch(p.last, h.state)
				if err != nil {
					h.logger.Error("build patch", "session_id", p.id, "error", err)
					continue
				}
				patches[p.rev] = cached
			}
			patch = cached
		}

		if patch.Empty() && len(p.finished) == 0 {
			p.last = h.state
			p.rev = h.rev
			continue
		}

		m := &protocol.PatchState{
			Seq:      p.seq + 1,
			Finished: p.finished,
			Patch:    patch,
		}
		if !h.send(p, m) {
			continue
		}
		p.seq++
		p.last = h.state
		p.rev = h.rev
		p.finished = nil
		h.stats.patchesSent.Add(1)
		middleware.RecordStateFrame("patch")
	}
}

// publish makes the current state visible to State.
func (h *Hub) publish() {
	s := h.state
	h.current.Store(&s)
}

// =============================================================================
// Persistence
// =============================================================================

// markDirty schedules a save. Each change pushes the save back by
// PersistDelay, up to PersistMaxDelay after the first unsaved change.
func (h *Hub) markDirty() {
	if h.persistQ == nil {
		return
	}
	now := time.Now()
	if !h.dirty {
		h.dirty = true
		h.dirtyAt = now
	}
	wait := h.cfg.PersistDelay
	if deadline := h.dirtyAt.Add(h.cfg.PersistMaxDelay); now.Add(wait).After(deadline) {
		wait = max(deadline.Sub(now), 0)
	}
	if h.persistT == nil {
		h.persistT = time.NewTimer(wait)
	} else {
		h.persistT.Stop()
		h.persistT.Reset(wait)
	}
	h.persistC = h.persistT.C
}

// enqueuePersist hands the current state to the persist goroutine,
// replacing a state still waiting to be saved.
func (h *Hub) enqueuePersist() {
	h.dirty = false
	s := h.state
	select {
	case h.persistQ <- s:
	default:
		select {
		case <-h.persistQ:
		default:
		}
		h.persistQ <- s
	}
}

func (h *Hub) persistLoop() {
	defer close(h.persistDone)
	for s := range h.persistQ {
		h.save(s)
	}
}

func (h *Hub) save(s state.State) {
	s = s.WithEphemeral(state.EmptyEphemeral())

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
	defer cancel()

	err := store.SaveState(ctx, h.store, h.cfg.TableKey, s, h.now())
	middleware.RecordPersist(err)
	if err != nil {
		h.stats.persistFailures.Add(1)
		h.logger.Error("persist failed", "key", h.cfg.TableKey, "error", err)
		return
	}
	h.stats.persists.Add(1)
	h.logger.Debug("state persisted", "key", h.cfg.TableKey)
}
