package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/tablesync/internal/errors"
	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/protocol"
	"github.com/vango-dev/tablesync/pkg/reducer"
	"github.com/vango-dev/tablesync/pkg/state"
)

const goblin state.ID = "RRID/character/goblin"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// recorder is a Conn that keeps every frame it is sent.
type recorder struct {
	mu     sync.Mutex
	frames []protocol.Message
	fail   error
}

func (r *recorder) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	m, err := protocol.DecodeMessage(frame)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, m)
	return nil
}

func (r *recorder) dispatches() []*protocol.Dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*protocol.Dispatch
	for _, m := range r.frames {
		if d, ok := m.(*protocol.Dispatch); ok {
			out = append(out, d)
		}
	}
	return out
}

func (r *recorder) resyncRequests() []*protocol.ResyncRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*protocol.ResyncRequest
	for _, m := range r.frames {
		if c, ok := m.(*protocol.Control); ok && c.Type == protocol.ControlResyncRequest {
			out = append(out, c.Payload.(*protocol.ResyncRequest))
		}
	}
	return out
}

func initialState(t *testing.T) state.State {
	t.Helper()
	s, err := reducer.NewRoot().Apply(state.Initial(), action.AddCharacter(state.Character{
		ID: goblin, Name: "Goblin", HP: 123, MaxHP: 2000, Scale: 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newEngine(t *testing.T) (*Engine, *ManualClock, *recorder) {
	t.Helper()
	clock := NewManualClock(t0)
	e := NewEngine(WithClock(clock), WithInitialState(initialState(t)))
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	e.Connected(rec)
	return e, clock, rec
}

func hpField(d *Dispatcher, throttle time.Duration) *Field[int] {
	return NewField(d, "goblin/hp", throttle,
		func(s state.State) int {
			c, _ := s.Characters.Get(goblin)
			return c.HP
		},
		func(v int) []action.Action {
			return []action.Action{action.UpdateCharacter(action.NewUpdate(goblin, map[string]any{"hp": v}))}
		})
}

func snapshotFrame(t *testing.T, s state.State, seq uint64, finished ...action.UpdateID) []byte {
	t.Helper()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := protocol.EncodeMessage(&protocol.SetState{Seq: seq, Finished: finished, State: data}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestEngine_DispatchIsVisibleImmediately(t *testing.T) {
	e, _, rec := newEngine(t)
	d := e.NewDispatcher()
	hp := hpField(d, DefaultThrottle)

	var seen []int
	e.Subscribe(func(s state.State) {
		c, _ := s.Characters.Get(goblin)
		seen = append(seen, c.HP)
	})

	if _, err := hp.Set(42); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := hp.Get(); got != 42 {
		t.Errorf("expected rendered hp 42, got %d", got)
	}
	if len(seen) != 1 || seen[0] != 42 {
		t.Errorf("expected subscriber to see 42, got %v", seen)
	}
	if len(rec.dispatches()) != 0 {
		t.Error("nothing should be sent before the throttle expires")
	}
}

func TestEngine_CoalescesWithinThrottle(t *testing.T) {
	e, clock, rec := newEngine(t)
	d := e.NewDispatcher()
	hp := hpField(d, DefaultThrottle)

	id1, _ := hp.Set(100)
	clock.Advance(200 * time.Millisecond)
	id2, _ := hp.Update(func(v int) int { return v + 5 })
	if id1 != id2 {
		t.Error("expected the second edit to replace the unsent batch")
	}
	if got := hp.Get(); got != 105 {
		t.Errorf("expected updater to compose on the rendered value, got %d", got)
	}

	clock.Advance(499 * time.Millisecond)
	if len(rec.dispatches()) != 0 {
		t.Fatal("timer should have been re-armed by the second edit")
	}
	clock.Advance(time.Millisecond)

	ds := rec.dispatches()
	if len(ds) != 1 {
		t.Fatalf("expected 1 dispatch frame, got %d", len(ds))
	}
	if len(ds[0].Envelopes) != 1 || ds[0].Envelopes[0].OptimisticUpdateID != id1 {
		t.Errorf("expected one envelope for %s, got %+v", id1, ds[0].Envelopes)
	}
}

func TestEngine_OneFrameForAllUnsentBatches(t *testing.T) {
	e, clock, rec := newEngine(t)
	d1 := e.NewDispatcher()
	d2 := e.NewDispatcher()

	hpField(d1, DefaultThrottle).Set(1)
	d2.Dispatch("visible", time.Second, func(state.State) []action.Action {
		return []action.Action{action.SetInitiativeTrackerVisible(true)}
	})

	clock.Advance(DefaultThrottle)
	ds := rec.dispatches()
	if len(ds) != 1 || len(ds[0].Envelopes) != 2 {
		t.Fatalf("expected one frame with both batches, got %+v", ds)
	}

	// d2's timer still fires but has nothing left to send.
	clock.Advance(time.Second)
	if len(rec.dispatches()) != 1 {
		t.Error("expected no second frame")
	}
}

func TestEngine_ZeroThrottleSendsNextTick(t *testing.T) {
	e, clock, rec := newEngine(t)
	d := e.NewDispatcher()
	hp := hpField(d, 0)

	hp.Set(1)
	hp.Set(2)
	hp.Set(3)
	if len(rec.dispatches()) != 0 {
		t.Fatal("zero throttle must not send synchronously")
	}
	clock.Advance(0)

	ds := rec.dispatches()
	if len(ds) != 1 || len(ds[0].Envelopes) != 1 {
		t.Fatalf("expected one coalesced envelope, got %+v", ds)
	}
	p, _ := action.Decode[action.Update](ds[0].Envelopes[0].Action)
	if string(p.Changes) != `{"hp":3}` {
		t.Errorf("expected last value, got %s", p.Changes)
	}
}

func TestEngine_EmptyBuildIsNoop(t *testing.T) {
	e, clock, rec := newEngine(t)
	d := e.NewDispatcher()

	id, err := d.Dispatch("nothing", 0, func(state.State) []action.Action { return nil })
	if err != nil || id != "" {
		t.Errorf("expected no-op, got %q, %v", id, err)
	}
	clock.Advance(time.Second)
	if len(rec.dispatches()) != 0 || len(e.Pending()) != 0 {
		t.Error("empty batch must not be registered or sent")
	}
}

func TestDispatcher_CloseFlushes(t *testing.T) {
	e, clock, rec := newEngine(t)
	d := e.NewDispatcher()
	hpField(d, time.Hour).Set(7)

	d.Close()
	if n := len(rec.dispatches()); n != 1 {
		t.Fatalf("expected exactly one frame on close, got %d", n)
	}
	if clock.Pending() != 0 {
		t.Error("expected the timer to be stopped")
	}
	if _, err := hpField(d, 0).Set(8); err != ErrDispatcherClosed {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}

	d.Close()
	if n := len(rec.dispatches()); n != 1 {
		t.Errorf("second Close must not send, got %d frames", n)
	}
}

func TestEngine_StopFlushesAndDisables(t *testing.T) {
	e, _, rec := newEngine(t)
	d := e.NewDispatcher()
	hpField(d, time.Hour).Set(9)

	e.Stop()
	if len(rec.dispatches()) != 1 {
		t.Error("expected pending edit to be flushed on Stop")
	}
	if _, err := hpField(e.NewDispatcher(), 0).Set(1); err != ErrEngineStopped {
		t.Errorf("expected ErrEngineStopped, got %v", err)
	}
	if err := e.Start(); err != ErrEngineStopped {
		t.Errorf("expected restart to fail, got %v", err)
	}
}

func TestEngine_NotStarted(t *testing.T) {
	e := NewEngine(WithClock(NewManualClock(t0)))
	if _, err := e.NewDispatcher().Dispatch("k", 0, func(state.State) []action.Action {
		return []action.Action{action.SetInitiativeTrackerVisible(true)}
	}); err != ErrEngineNotStarted {
		t.Errorf("expected ErrEngineNotStarted, got %v", err)
	}
}

func TestEngine_SnapshotRetiresAndReplays(t *testing.T) {
	e, clock, _ := newEngine(t)
	d := e.NewDispatcher()
	hp := hpField(d, DefaultThrottle)

	id, _ := hp.Set(42)
	clock.Advance(DefaultThrottle)

	// A snapshot that does not include our update yet.
	other := initialState(t)
	if err := e.HandleFrame(snapshotFrame(t, other, 1)); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if got := hp.Get(); got != 42 {
		t.Errorf("expected pending edit replayed, got %d", got)
	}

	// The acknowledging snapshot.
	applied, _ := reducer.NewRoot().Apply(other, action.UpdateCharacter(action.NewUpdate(goblin, map[string]any{"hp": 42})))
	if err := e.HandleFrame(snapshotFrame(t, applied, 2, id)); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if len(e.Pending()) != 0 {
		t.Errorf("expected no pending updates, got %d", len(e.Pending()))
	}
	if !state.Equal(e.State(), e.Authoritative()) {
		t.Error("expected rendered state to equal authoritative")
	}
	if e.Seq() != 2 {
		t.Errorf("expected seq 2, got %d", e.Seq())
	}
}

func TestEngine_RejectsMalformedState(t *testing.T) {
	e, _, _ := newEngine(t)
	var reported []error
	e.OnError(func(err error) { reported = append(reported, err) })

	before := e.State()
	frame, _ := protocol.EncodeMessage(&protocol.SetState{Seq: 1, State: []byte(`{"version":0}`)}, 0)
	if err := e.HandleFrame(frame); !errors.HasCode(err, errors.CodeMalformedState) {
		t.Errorf("expected E002, got %v", err)
	}
	if !state.Equal(e.State(), before) {
		t.Error("malformed snapshot must not change the state")
	}

	patch, _ := protocol.EncodeMessage(&protocol.PatchState{Seq: 2}, 0)
	if err := e.HandleFrame(patch); !errors.HasCode(err, errors.CodeMalformedPatch) {
		t.Errorf("expected E003 for a patch before any snapshot, got %v", err)
	}
	if len(reported) != 2 {
		t.Errorf("expected 2 reported errors, got %d", len(reported))
	}

	if err := e.HandleFrame([]byte{0x7F, 0, 0, 0, 0, 0}); !errors.HasCode(err, errors.CodeUnknownFrame) {
		t.Errorf("expected E041, got %v", err)
	}
}

func TestEngine_ReconnectResendsPending(t *testing.T) {
	e, clock, rec := newEngine(t)
	d := e.NewDispatcher()
	hp := hpField(d, DefaultThrottle)

	id, _ := hp.Set(5)
	clock.Advance(DefaultThrottle)
	if len(rec.dispatches()) != 1 {
		t.Fatal("expected first send")
	}

	var lost error
	e.OnError(func(err error) { lost = err })
	e.Disconnected(nil)
	if !errors.HasCode(lost, errors.CodeConnectionLost) {
		t.Errorf("expected E044, got %v", lost)
	}

	// Edits while offline stay queued.
	d.Dispatch("visible", 0, func(state.State) []action.Action {
		return []action.Action{action.SetInitiativeTrackerVisible(true)}
	})
	clock.Advance(time.Second)

	if err := e.SetPlayer("RRID/player/p"); err != nil {
		t.Fatalf("SetPlayer() error = %v", err)
	}

	rec2 := &recorder{}
	e.Connected(rec2)

	rec2.mu.Lock()
	frames := append([]protocol.Message(nil), rec2.frames...)
	rec2.mu.Unlock()
	if len(frames) != 2 {
		t.Fatalf("expected SetPlayer and one Dispatch, got %d frames", len(frames))
	}
	if sp, ok := frames[0].(*protocol.SetPlayer); !ok || sp.PlayerID != "RRID/player/p" {
		t.Errorf("expected SetPlayer first, got %+v", frames[0])
	}
	ds, ok := frames[1].(*protocol.Dispatch)
	if !ok || len(ds.Envelopes) != 2 {
		t.Fatalf("expected every pending update in one frame, got %+v", frames[1])
	}
	if ds.Envelopes[0].OptimisticUpdateID != id {
		t.Errorf("expected the sent update to be resent first, got %s", ds.Envelopes[0].OptimisticUpdateID)
	}
}

func TestEngine_FailedSendRequeues(t *testing.T) {
	e, clock, rec := newEngine(t)
	d := e.NewDispatcher()
	rec.fail = errors.New(errors.CodeConnectionFailed)

	hpField(d, 0).Set(3)
	clock.Advance(0)
	if len(e.tracker.Unsent()) != 1 {
		t.Fatal("expected the update to be queued again after a failed send")
	}

	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()
	d.Close()
	if len(rec.dispatches()) != 1 {
		t.Error("expected the queued update to be sent on close")
	}
}

func TestEngine_DispatchNow(t *testing.T) {
	e, _, rec := newEngine(t)
	if err := e.DispatchNow(action.SetInitiativeTrackerVisible(true)); err != nil {
		t.Fatalf("DispatchNow() error = %v", err)
	}
	ds := rec.dispatches()
	if len(ds) != 1 || ds[0].Envelopes[0].OptimisticUpdateID != "" {
		t.Fatalf("expected one untracked envelope, got %+v", ds)
	}
	if e.State().InitiativeTracker.Visible {
		t.Error("DispatchNow must not apply locally")
	}
	if err := e.DispatchNow(action.Action{}); err == nil {
		t.Error("expected error for an action without type")
	}
}

func TestEngine_ServerInfoAndBroadcast(t *testing.T) {
	e, _, rec := newEngine(t)

	info, _ := protocol.EncodeMessage(&protocol.ServerInfo{Version: "1.0.0", SessionID: "s"}, 0)
	if err := e.HandleFrame(info); err != nil {
		t.Fatal(err)
	}
	if got, ok := e.ServerInfo(); !ok || got.Version != "1.0.0" {
		t.Errorf("unexpected server info %+v", got)
	}

	var got string
	e.OnBroadcast(func(data json.RawMessage) { got = string(data) })
	bc, _ := protocol.EncodeMessage(&protocol.Broadcast{Data: []byte(`"hi"`)}, 0)
	if err := e.HandleFrame(bc); err != nil {
		t.Fatal(err)
	}
	if got != `"hi"` {
		t.Errorf("expected broadcast payload, got %q", got)
	}

	ct, ping := protocol.NewPing(7)
	pf, _ := protocol.EncodeMessage(&protocol.Control{Type: ct, Payload: ping}, 0)
	if err := e.HandleFrame(pf); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	last := rec.frames[len(rec.frames)-1]
	rec.mu.Unlock()
	if c, ok := last.(*protocol.Control); !ok || c.Type != protocol.ControlPong {
		t.Errorf("expected pong, got %+v", last)
	}
}

func patchFrame(t *testing.T, seq uint64, patch map[string]any, finished ...action.UpdateID) []byte {
	t.Helper()
	frame, err := protocol.EncodeMessage(&protocol.PatchState{
		Seq:      seq,
		Finished: finished,
		Patch:    protocol.StatePatch{Patch: patch},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestEngine_SequenceGapRequestsResync(t *testing.T) {
	e, clock, rec := newEngine(t)
	base := initialState(t)
	if err := e.HandleFrame(snapshotFrame(t, base, 1)); err != nil {
		t.Fatal(err)
	}
	hp := hpField(e.NewDispatcher(), DefaultThrottle)
	id, _ := hp.Set(42)
	clock.Advance(DefaultThrottle)

	// Patch 2 was lost.
	err := e.HandleFrame(patchFrame(t, 3, map[string]any{}, id))
	if !errors.HasCode(err, errors.CodeSequenceGap) {
		t.Fatalf("expected E045, got %v", err)
	}
	reqs := rec.resyncRequests()
	if len(reqs) != 1 || reqs[0].LastSeq != 1 {
		t.Fatalf("expected one resync request after seq 1, got %+v", reqs)
	}
	if n := len(rec.dispatches()); n != 2 {
		t.Errorf("expected the pending update to be sent again, got %d dispatches", n)
	}
	if len(e.Pending()) != 1 {
		t.Errorf("expected the update to stay pending, got %d", len(e.Pending()))
	}

	// Patches already in flight are dropped until the snapshot arrives.
	if err := e.HandleFrame(patchFrame(t, 4, map[string]any{"version": 7})); err != nil {
		t.Errorf("expected in-flight patch to be dropped, got %v", err)
	}
	if e.Seq() != 1 {
		t.Errorf("expected seq 1, got %d", e.Seq())
	}
	if n := len(rec.resyncRequests()); n != 1 {
		t.Errorf("expected a single resync request, got %d", n)
	}

	applied, _ := reducer.NewRoot().Apply(base, action.UpdateCharacter(action.NewUpdate(goblin, map[string]any{"hp": 42})))
	if err := e.HandleFrame(snapshotFrame(t, applied, 5)); err != nil {
		t.Fatal(err)
	}
	if err := e.HandleFrame(patchFrame(t, 6, map[string]any{}, id)); err != nil {
		t.Fatalf("expected patch after the snapshot to apply, got %v", err)
	}
	if len(e.Pending()) != 0 {
		t.Errorf("expected the acknowledgement to retire the update, got %d pending", len(e.Pending()))
	}
	if got := hp.Get(); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestEngine_RejectedPatchRequestsResync(t *testing.T) {
	e, _, rec := newEngine(t)
	if err := e.HandleFrame(snapshotFrame(t, initialState(t), 1)); err != nil {
		t.Fatal(err)
	}
	before := e.State()

	ghost := map[string]any{"initiativeTracker": map[string]any{"currentEntryId": "RRID/initiativeEntry/ghost"}}
	err := e.HandleFrame(patchFrame(t, 2, ghost))
	if !errors.HasCode(err, errors.CodeMalformedPatch) {
		t.Fatalf("expected E003, got %v", err)
	}
	if !state.Equal(e.State(), before) {
		t.Error("rejected patch must not change the state")
	}
	reqs := rec.resyncRequests()
	if len(reqs) != 1 || reqs[0].LastSeq != 1 {
		t.Errorf("expected one resync request after seq 1, got %+v", reqs)
	}
}
