// Package interp smooths rendered values that jump when a new
// authoritative state arrives.
//
// An Interpolator ramps from the value currently shown to a new target over
// a fixed window and then pins exactly to the target. It only affects what
// is drawn: the reconciled state used for further edits is never
// interpolated.
//
//	ip := interp.New(interp.LerpPoint, 500*time.Millisecond, start)
//	ip.Retarget(next, time.Now())
//	draw(ip.Value(time.Now()))
package interp

import (
	"time"

	"github.com/vango-dev/tablesync/pkg/state"
)

// Lerp blends from and to. amount is in [0, 1].
type Lerp[V any] func(from, to V, amount float64) V

// LerpFloat interpolates float64 values linearly.
func LerpFloat(from, to float64, amount float64) float64 {
	return from + (to-from)*amount
}

// LerpPoint interpolates points component-wise.
func LerpPoint(from, to state.Point, amount float64) state.Point {
	return state.Point{
		X: LerpFloat(from.X, to.X, amount),
		Y: LerpFloat(from.Y, to.Y, amount),
	}
}

// Interpolator ramps a value towards its latest target. It is not safe for
// concurrent use.
type Interpolator[V any] struct {
	lerp   Lerp[V]
	window time.Duration

	from   V
	to     V
	start  time.Time
	active bool
}

// New returns an interpolator resting at initial. A window <= 0 disables
// ramping: every retarget snaps.
func New[V any](lerp Lerp[V], window time.Duration, initial V) *Interpolator[V] {
	return &Interpolator[V]{
		lerp:   lerp,
		window: window,
		from:   initial,
		to:     initial,
	}
}

// Retarget starts a ramp towards to at now. The ramp starts at the value
// currently shown; if a ramp is still running it is cut short and the new
// ramp starts at the interrupted ramp's target.
func (i *Interpolator[V]) Retarget(to V, now time.Time) {
	if i.window <= 0 {
		i.Set(to)
		return
	}
	i.from = i.to
	i.to = to
	i.start = now
	i.active = true
}

// Set pins the value without ramping, as for values edited locally.
func (i *Interpolator[V]) Set(v V) {
	i.from = v
	i.to = v
	i.active = false
}

// Value returns the value to show at now. Once the window has elapsed the
// target is returned exactly.
func (i *Interpolator[V]) Value(now time.Time) V {
	if i.Done(now) {
		i.active = false
		return i.to
	}
	elapsed := now.Sub(i.start)
	if elapsed <= 0 {
		return i.from
	}
	return i.lerp(i.from, i.to, float64(elapsed)/float64(i.window))
}

// Done reports whether no ramp is running at now.
func (i *Interpolator[V]) Done(now time.Time) bool {
	return !i.active || now.Sub(i.start) >= i.window
}

// Target returns the value the interpolator is ramping to.
func (i *Interpolator[V]) Target() V {
	return i.to
}
