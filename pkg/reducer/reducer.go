// Package reducer implements the deterministic transition function shared by
// the server and every client.
//
// A Reducer maps (state, action) to the next state. Slice reducers handle one
// part of the state and are lifted into whole-state reducers with Lift; a
// Registry folds named reducers into one. Root wraps the combined reducer and
// makes it total: unknown actions are no-ops and a failing action leaves the
// input state untouched.
package reducer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vango-dev/tablesync/pkg/action"
)

// Reducer computes the state that results from applying an action.
//
// Implementations must not mutate s. Returning s unchanged with a nil error
// means the action does not concern this reducer.
type Reducer[S any] interface {
	Reduce(s S, a action.Action) (S, error)
}

// Func adapts a function to the Reducer interface.
type Func[S any] func(s S, a action.Action) (S, error)

func (f Func[S]) Reduce(s S, a action.Action) (S, error) {
	return f(s, a)
}

// Lift turns a reducer of part P of S into a reducer of S.
func Lift[S, P any](get func(S) P, set func(S, P) S, r Reducer[P]) Reducer[S] {
	return Func[S](func(s S, a action.Action) (S, error) {
		next, err := r.Reduce(get(s), a)
		if err != nil {
			return s, err
		}
		return set(s, next), nil
	})
}

// Enhancer wraps a reducer with cross-slice behavior.
type Enhancer[S any] func(Reducer[S]) Reducer[S]

// ErrDuplicateReducer is returned when a name is registered twice.
var ErrDuplicateReducer = errors.New("reducer: duplicate name")

// Registry holds named reducers. The zero value is ready to use.
type Registry[S any] struct {
	names    []string
	reducers map[string]Reducer[S]
}

// NewRegistry returns an empty registry.
func NewRegistry[S any]() *Registry[S] {
	return &Registry[S]{reducers: make(map[string]Reducer[S])}
}

// Register adds r under name.
func (g *Registry[S]) Register(name string, r Reducer[S]) error {
	if g.reducers == nil {
		g.reducers = make(map[string]Reducer[S])
	}
	if _, exists := g.reducers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateReducer, name)
	}
	g.names = append(g.names, name)
	g.reducers[name] = r
	return nil
}

// MustRegister is like Register but panics on a duplicate name.
func (g *Registry[S]) MustRegister(name string, r Reducer[S]) *Registry[S] {
	if err := g.Register(name, r); err != nil {
		panic(err)
	}
	return g
}

// Names returns the registered names in sorted order.
func (g *Registry[S]) Names() []string {
	out := append([]string(nil), g.names...)
	sort.Strings(out)
	return out
}

// Combine folds every registered reducer, in registration order, into one.
// If any reducer fails the input state is returned with the error, so an
// action is applied to all slices or to none.
func (g *Registry[S]) Combine() Reducer[S] {
	reducers := make([]Reducer[S], 0, len(g.names))
	names := append([]string(nil), g.names...)
	for _, name := range names {
		reducers = append(reducers, g.reducers[name])
	}
	return Func[S](func(s S, a action.Action) (S, error) {
		next := s
		for i, r := range reducers {
			var err error
			next, err = r.Reduce(next, a)
			if err != nil {
				return s, fmt.Errorf("%s: %w", names[i], err)
			}
		}
		return next, nil
	})
}
