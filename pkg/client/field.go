package client

import (
	"time"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/optimistic"
	"github.com/vango-dev/tablesync/pkg/state"
)

// Field binds one value of the state to the actions that change it.
type Field[V any] struct {
	d        *Dispatcher
	key      string
	throttle time.Duration
	selector func(state.State) V
	build    func(V) []action.Action
}

// NewField returns a field edited through d under logicalKey. selector
// reads the value from a state; build returns the actions that set it.
func NewField[V any](d *Dispatcher, logicalKey string, throttle time.Duration, selector func(state.State) V, build func(V) []action.Action) *Field[V] {
	return &Field[V]{
		d:        d,
		key:      logicalKey,
		throttle: throttle,
		selector: selector,
		build:    build,
	}
}

// Get returns the rendered value.
func (f *Field[V]) Get() V {
	return f.selector(f.d.e.State())
}

// Set sets the value.
func (f *Field[V]) Set(v V) (optimistic.UpdateID, error) {
	return f.d.Dispatch(f.key, f.throttle, func(state.State) []action.Action {
		return f.build(v)
	})
}

// Update sets the value to fn applied to the rendered value, so that rapid
// successive updates compose.
func (f *Field[V]) Update(fn func(V) V) (optimistic.UpdateID, error) {
	return f.d.Dispatch(f.key, f.throttle, func(s state.State) []action.Action {
		return f.build(fn(f.selector(s)))
	})
}
