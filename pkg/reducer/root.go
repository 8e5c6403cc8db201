package reducer

import (
	"fmt"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/state"
)

// Slice names in the default registry.
const (
	SliceGlobalSettings    = "globalSettings"
	SliceInitiativeTracker = "initiativeTracker"
	SlicePlayers           = "players"
	SliceCharacters        = "characters"
	SliceMaps              = "maps"
	SliceLogEntries        = "logEntries"
	SlicePrivateChats      = "privateChats"
	SliceSoundSets         = "soundSets"
	SliceEphemeralPlayers  = "ephemeral.players"
	SliceEphemeralMusic    = "ephemeral.activeMusic"
)

// DefaultRegistry returns a registry with every slice reducer lifted to the
// whole state.
func DefaultRegistry() *Registry[state.State] {
	g := NewRegistry[state.State]()
	g.MustRegister(SliceGlobalSettings, Lift(
		func(s state.State) state.GlobalSettings { return s.GlobalSettings },
		state.State.WithGlobalSettings,
		GlobalSettings(),
	))
	g.MustRegister(SliceInitiativeTracker, Lift(
		func(s state.State) state.InitiativeTracker { return s.InitiativeTracker },
		state.State.WithInitiativeTracker,
		InitiativeTracker(),
	))
	g.MustRegister(SlicePlayers, Lift(
		func(s state.State) state.Collection[state.Player] { return s.Players },
		state.State.WithPlayers,
		Players(),
	))
	g.MustRegister(SliceCharacters, Lift(
		func(s state.State) state.Collection[state.Character] { return s.Characters },
		state.State.WithCharacters,
		Characters(),
	))
	g.MustRegister(SliceMaps, Lift(
		func(s state.State) state.Collection[state.Map] { return s.Maps },
		state.State.WithMaps,
		Maps(),
	))
	g.MustRegister(SliceLogEntries, Lift(
		func(s state.State) state.Collection[state.LogEntry] { return s.LogEntries },
		state.State.WithLogEntries,
		LogEntries(),
	))
	g.MustRegister(SlicePrivateChats, Lift(
		func(s state.State) state.Collection[state.PrivateChat] { return s.PrivateChats },
		state.State.WithPrivateChats,
		PrivateChats(),
	))
	g.MustRegister(SliceSoundSets, Lift(
		func(s state.State) state.Collection[state.SoundSet] { return s.SoundSets },
		state.State.WithSoundSets,
		SoundSets(),
	))
	g.MustRegister(SliceEphemeralPlayers, Lift(
		func(s state.State) state.Collection[state.EphemeralPlayer] { return s.Ephemeral.Players },
		func(s state.State, c state.Collection[state.EphemeralPlayer]) state.State {
			return s.WithEphemeral(s.Ephemeral.WithPlayers(c))
		},
		EphemeralPlayers(),
	))
	g.MustRegister(SliceEphemeralMusic, Lift(
		func(s state.State) state.Collection[state.ActiveMusic] { return s.Ephemeral.ActiveMusic },
		func(s state.State, c state.Collection[state.ActiveMusic]) state.State {
			return s.WithEphemeral(s.Ephemeral.WithActiveMusic(c))
		},
		EphemeralMusic(),
	))
	return g
}

// ApplyError describes an action that could not be applied.
type ApplyError struct {
	Type string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Type, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Root is the whole-state transition function. It is total: for any action
// it returns a valid state. Unknown action types leave the state unchanged;
// an action that fails (or panics) in any slice, or that would produce a
// state failing state.Validate, leaves the state unchanged and is reported
// as an *ApplyError.
//
// Root is safe for concurrent use.
type Root struct {
	reducer Reducer[state.State]
}

// NewRoot builds the root transition function from the default registry and
// the concentration enhancer.
func NewRoot() *Root {
	return NewRootFrom(DefaultRegistry(), WithConcentration)
}

// NewRootFrom builds a root from g, applying enhancers in order.
func NewRootFrom(g *Registry[state.State], enhancers ...Enhancer[state.State]) *Root {
	r := g.Combine()
	for _, enhance := range enhancers {
		r = enhance(r)
	}
	return &Root{reducer: r}
}

// Apply applies a single action.
func (r *Root) Apply(s state.State, a action.Action) (next state.State, err error) {
	defer func() {
		if p := recover(); p != nil {
			next = s
			err = &ApplyError{Type: a.Type, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	next, err = r.reducer.Reduce(s, a)
	if err != nil {
		return s, &ApplyError{Type: a.Type, Err: err}
	}
	if err := state.Validate(next); err != nil {
		return s, &ApplyError{Type: a.Type, Err: err}
	}
	return next, nil
}

// ApplyAll folds Apply over actions. Failing actions are skipped and their
// errors returned; the remaining actions still apply.
func (r *Root) ApplyAll(s state.State, actions []action.Action) (state.State, []error) {
	var errs []error
	for _, a := range actions {
		next, err := r.Apply(s, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s = next
	}
	return s, errs
}

// Reduce implements Reducer.
func (r *Root) Reduce(s state.State, a action.Action) (state.State, error) {
	return r.Apply(s, a)
}
