// Package optimistic tracks locally applied updates that the server has not
// acknowledged yet.
//
// Every batch of actions a client applies optimistically is registered with
// a Tracker under a dispatcher key and a logical key ("the thing being
// edited"). Until a batch is first sent, registering another batch for the same
// pair of keys replaces it in place. Once sent, a batch stays pending until
// the server lists its id in finishedUpdateIds and the client retires it.
//
//	t := optimistic.NewTracker()
//	id := t.Register("dispatcher-1", "character/c1/hp", actions)
//	for _, u := range t.Unsent() { ... }
//	t.MarkSent(id)
//	t.Retire([]action.UpdateID{id}) // 1
//	t.Retire([]action.UpdateID{id}) // 0, already retired
package optimistic

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/tablesync/pkg/action"
)

// UpdateID identifies an update batch on the wire.
type UpdateID = action.UpdateID

// NewUpdateID returns a fresh, globally unique update id.
func NewUpdateID() UpdateID {
	return UpdateID("RRID/optimisticUpdate/" + uuid.NewString())
}

// Update is a batch of actions applied locally but not yet acknowledged.
type Update struct {
	ID            UpdateID
	DispatcherKey string
	LogicalKey    string
	Actions       []action.Action
	CreatedAt     time.Time
	Sent          bool

	// Sealed is set once the update was handed to the transport. The
	// server may have applied it, so it is never coalesced again even
	// when it is marked unsent for a resend.
	Sealed bool
}

// Envelopes wraps the update's actions for the wire.
func (u Update) Envelopes() []action.Envelope {
	return action.Wrap(u.ID, u.Actions...)
}

// Tracker records pending updates in submission order. It is safe for
// concurrent use.
type Tracker struct {
	mu      sync.Mutex
	updates []*Update
	byID    map[UpdateID]*Update
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNow sets the clock used for CreatedAt.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		byID: make(map[UpdateID]*Update),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register records a batch and returns its id.
//
// If an unsent update with the same dispatcher and logical key exists, its
// actions are replaced and its id returned: the update keeps its position in
// submission order. Otherwise a new update with a fresh id is appended.
func (t *Tracker) Register(dispatcherKey, logicalKey string, actions []action.Action) UpdateID {
	t.mu.Lock()
	defer t.mu.Unlock()

	batch := slices.Clone(actions)
	for _, u := range t.updates {
		if !u.Sealed && u.DispatcherKey == dispatcherKey && u.LogicalKey == logicalKey {
			u.Actions = batch
			return u.ID
		}
	}

	u := &Update{
		ID:            NewUpdateID(),
		DispatcherKey: dispatcherKey,
		LogicalKey:    logicalKey,
		Actions:       batch,
		CreatedAt:     t.now(),
	}
	t.updates = append(t.updates, u)
	t.byID[u.ID] = u
	return u.ID
}

// MarkSent marks updates as sent. Sent updates can no longer be coalesced.
// Unknown ids are ignored.
func (t *Tracker) MarkSent(ids ...UpdateID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if u, ok := t.byID[id]; ok {
			u.Sent = true
			u.Sealed = true
		}
	}
}

// MarkUnsent queues ids for sending again, for example after a failed
// send. The updates stay sealed.
func (t *Tracker) MarkUnsent(ids ...UpdateID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if u, ok := t.byID[id]; ok {
			u.Sent = false
		}
	}
}

// MarkAllUnsent marks every pending update as unsent so that all of them are
// sent again, as after a reconnect.
func (t *Tracker) MarkAllUnsent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.updates {
		u.Sent = false
	}
}

// Retire drops acknowledged updates and returns how many were pending.
// Retiring an unknown or already retired id is a no-op.
func (t *Tracker) Retire(ids []UpdateID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	retired := 0
	for _, id := range ids {
		if _, ok := t.byID[id]; ok {
			delete(t.byID, id)
			retired++
		}
	}
	if retired == 0 {
		return 0
	}
	t.updates = slices.DeleteFunc(t.updates, func(u *Update) bool {
		_, ok := t.byID[u.ID]
		return !ok
	})
	return retired
}

// Pending returns copies of every pending update in submission order.
func (t *Tracker) Pending() []Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect(func(*Update) bool { return true })
}

// Unsent returns copies of the pending updates not sent yet, in submission
// order.
func (t *Tracker) Unsent() []Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect(func(u *Update) bool { return !u.Sent })
}

// TakeUnsent returns the unsent updates and marks them sent in one step.
func (t *Tracker) TakeUnsent() []Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.collect(func(u *Update) bool { return !u.Sent })
	for i := range out {
		u := t.byID[out[i].ID]
		u.Sent = true
		u.Sealed = true
		out[i].Sent = true
		out[i].Sealed = true
	}
	return out
}

// Get returns the pending update with id.
func (t *Tracker) Get(id UpdateID) (Update, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.byID[id]
	if !ok {
		return Update{}, false
	}
	return copyUpdate(u), true
}

// Len returns the number of pending updates.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.updates)
}

// Actions returns the actions of every pending update, flattened in
// submission order. This is the replay sequence of the reconciler.
func (t *Tracker) Actions() []action.Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []action.Action
	for _, u := range t.updates {
		out = append(out, u.Actions...)
	}
	return out
}

func (t *Tracker) collect(keep func(*Update) bool) []Update {
	out := make([]Update, 0, len(t.updates))
	for _, u := range t.updates {
		if keep(u) {
			out = append(out, copyUpdate(u))
		}
	}
	return out
}

func copyUpdate(u *Update) Update {
	c := *u
	c.Actions = slices.Clone(u.Actions)
	return c
}
