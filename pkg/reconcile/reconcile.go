// Package reconcile keeps a client's rendered state consistent with the
// server's authoritative state and the client's own pending updates.
//
// The rendered state is never edited directly. It is always the fold of
// the pending updates, in submission order, over the latest authoritative
// state:
//
//	rendered = apply(...apply(apply(authoritative, u1), u2)..., un)
//
// When the server acknowledges updates they are retired and drop out of
// the fold, so a client never applies an update twice and never shows a
// value the server has already overwritten.
package reconcile

import (
	"log/slog"

	"github.com/vango-dev/tablesync/internal/errors"
	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/optimistic"
	"github.com/vango-dev/tablesync/pkg/protocol"
	"github.com/vango-dev/tablesync/pkg/reducer"
	"github.com/vango-dev/tablesync/pkg/state"
)

// Reconciler holds the authoritative and rendered states of one client.
// It is not safe for concurrent use; the client engine serializes access.
type Reconciler struct {
	root          *reducer.Root
	tracker       *optimistic.Tracker
	authoritative state.State
	rendered      state.State
	logger        *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// New returns a reconciler whose authoritative state is initial.
func New(root *reducer.Root, tracker *optimistic.Tracker, initial state.State, opts ...Option) *Reconciler {
	r := &Reconciler{
		root:          root,
		tracker:       tracker,
		authoritative: initial,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reconcile")
	r.Recompute()
	return r
}

// ApplySnapshot replaces the authoritative state with the JSON snapshot
// data and retires finished. A snapshot that does not decode or validate is
// rejected as a whole with an E002 error; nothing changes in that case.
func (r *Reconciler) ApplySnapshot(data []byte, finished []action.UpdateID) error {
	s, err := state.Decode(data)
	if err != nil {
		return errors.New(errors.CodeMalformedState).Wrap(err)
	}
	r.accept(s, finished)
	return nil
}

// ApplyPatch patches the authoritative state and retires finished. A patch
// that cannot be applied, or that produces an invalid state, is rejected as
// a whole with an E003 error; nothing changes in that case.
func (r *Reconciler) ApplyPatch(p protocol.StatePatch, finished []action.UpdateID) error {
	s, err := p.ApplyTo(r.authoritative)
	if err != nil {
		return errors.New(errors.CodeMalformedPatch).Wrap(err)
	}
	r.accept(s, finished)
	return nil
}

func (r *Reconciler) accept(s state.State, finished []action.UpdateID) {
	r.authoritative = s
	if n := r.tracker.Retire(finished); n > 0 {
		r.logger.Debug("retired updates", "count", n, "pending", r.tracker.Len())
	}
	r.Recompute()
}

// Recompute rebuilds the rendered state from the authoritative state and
// the pending updates, and returns it. Call it after registering updates
// with the tracker.
//
// Actions that fail to apply are skipped; the server will reject them the
// same way.
func (r *Reconciler) Recompute() state.State {
	pending := r.tracker.Pending()
	if len(pending) == 0 {
		r.rendered = r.authoritative
		return r.rendered
	}
	s := r.authoritative
	for _, u := range pending {
		for _, a := range u.Actions {
			next, err := r.root.Apply(s, a)
			if err != nil {
				r.logger.Debug("pending action skipped",
					"update_id", u.ID,
					"action", a.Type,
					"error", err,
				)
				continue
			}
			s = next
		}
	}
	r.rendered = s
	return s
}

// Authoritative returns the last state received from the server.
func (r *Reconciler) Authoritative() state.State {
	return r.authoritative
}

// Rendered returns the state the client shows: the authoritative state
// with every pending update applied.
func (r *Reconciler) Rendered() state.State {
	return r.rendered
}
