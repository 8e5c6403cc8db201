package interp

import (
	"time"

	"github.com/vango-dev/tablesync/pkg/state"
)

// Watcher feeds an Interpolator from a stream of rendered states.
type Watcher[V any] struct {
	selector func(state.State) V
	equal    func(a, b V) bool
	ip       *Interpolator[V]
}

// NewWatcher returns a watcher that selects a value from every observed
// state and retargets ip when it changes. initial is the first state shown.
func NewWatcher[V comparable](selector func(state.State) V, lerp Lerp[V], window time.Duration, initial state.State) *Watcher[V] {
	return NewWatcherFunc(selector, func(a, b V) bool { return a == b }, lerp, window, initial)
}

// NewWatcherFunc is NewWatcher for values that are not comparable with ==.
func NewWatcherFunc[V any](selector func(state.State) V, equal func(a, b V) bool, lerp Lerp[V], window time.Duration, initial state.State) *Watcher[V] {
	return &Watcher[V]{
		selector: selector,
		equal:    equal,
		ip:       New(lerp, window, selector(initial)),
	}
}

// Observe selects the value from s and starts a ramp if it differs from the
// current target. It reports whether a ramp was started.
func (w *Watcher[V]) Observe(s state.State, now time.Time) bool {
	v := w.selector(s)
	if w.equal(v, w.ip.Target()) {
		return false
	}
	w.ip.Retarget(v, now)
	return true
}

// Value returns the value to show at now.
func (w *Watcher[V]) Value(now time.Time) V {
	return w.ip.Value(now)
}

// Done reports whether the value has settled at now.
func (w *Watcher[V]) Done(now time.Time) bool {
	return w.ip.Done(now)
}
