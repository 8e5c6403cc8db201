package client

import (
	"time"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/optimistic"
	"github.com/vango-dev/tablesync/pkg/state"
)

// DefaultThrottle is the send delay used by most edits.
const DefaultThrottle = 500 * time.Millisecond

// Dispatcher applies edits optimistically and sends them to the server
// after a delay. Every dispatcher has its own key: edits of the same
// logical key coalesce only within one dispatcher.
type Dispatcher struct {
	e      *Engine
	key    string
	timer  Timer
	gen    int
	closed bool
}

// Key returns the dispatcher key.
func (d *Dispatcher) Key() string {
	return d.key
}

// Dispatch builds a batch from the rendered state and applies it locally
// before returning. If an unsent batch for logicalKey exists it is
// replaced. The dispatcher's timer is then (re)armed for throttle; when it
// fires every unsent batch of the engine is sent in one frame. A throttle
// of zero sends on the next tick.
//
// A build function returning no actions is a no-op and returns "". build
// runs under the engine lock and must not call back into the engine.
func (d *Dispatcher) Dispatch(logicalKey string, throttle time.Duration, build func(state.State) []action.Action) (optimistic.UpdateID, error) {
	e := d.e
	e.mu.Lock()
	if d.closed {
		e.mu.Unlock()
		return "", ErrDispatcherClosed
	}
	if err := e.runningLocked(); err != nil {
		e.mu.Unlock()
		return "", err
	}
	actions := build(e.rec.Rendered())
	if len(actions) == 0 {
		e.mu.Unlock()
		return "", nil
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			e.mu.Unlock()
			return "", err
		}
	}
	id := e.tracker.Register(d.key, logicalKey, actions)
	e.rec.Recompute()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = e.clock.AfterFunc(max(throttle, 0), func() { d.fire(gen) })
	e.mu.Unlock()

	e.notify()
	return id, nil
}

func (d *Dispatcher) fire(gen int) {
	d.e.mu.Lock()
	if d.gen == gen {
		d.timer = nil
	}
	d.e.mu.Unlock()
	d.e.flush()
}

// Close stops the timer and sends every unsent batch immediately. Close is
// idempotent; later dispatches fail with ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	e := d.e
	e.mu.Lock()
	if d.closed {
		e.mu.Unlock()
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	delete(e.dispatchers, d)
	e.mu.Unlock()

	e.flush()
}
