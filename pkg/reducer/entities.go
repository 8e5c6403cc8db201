package reducer

import (
	"slices"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/state"
)

// cases lists the action types an entity collection reducer handles.
type cases struct {
	add    []string
	update []string
	remove []string
	// keep lists fields an update never replaces.
	keep []string
}

// entities returns a reducer of a collection that handles the add, update
// and remove action types named in c. Add overwrites an existing entity,
// update and remove of an absent id are no-ops.
func entities[E state.Entity](adapter state.Adapter[E], c cases) Reducer[state.Collection[E]] {
	return Func[state.Collection[E]](func(col state.Collection[E], a action.Action) (state.Collection[E], error) {
		switch {
		case slices.Contains(c.add, a.Type):
			e, err := action.Decode[E](a)
			if err != nil {
				return col, err
			}
			return adapter.AddOne(col, e), nil

		case slices.Contains(c.update, a.Type):
			u, err := action.Decode[action.Update](a)
			if err != nil {
				return col, err
			}
			return updateOne(adapter, col, u, c.keep...)

		case slices.Contains(c.remove, a.Type):
			id, err := action.Decode[state.ID](a)
			if err != nil {
				return col, err
			}
			next, _ := adapter.RemoveOne(col, id)
			return next, nil
		}
		return col, nil
	})
}

// updateOne merges u into the entity it names, ignoring the keep fields.
func updateOne[E state.Entity](adapter state.Adapter[E], col state.Collection[E], u action.Update, keep ...string) (state.Collection[E], error) {
	current, ok := col.Get(u.ID)
	if !ok {
		return col, nil
	}
	merged, err := state.MergeOmit(current, u.Changes, keep...)
	if err != nil {
		return col, err
	}
	next, _ := adapter.UpdateOne(col, u.ID, func(E) E { return merged })
	return next, nil
}
