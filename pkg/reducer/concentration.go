package reducer

import (
	"fmt"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/state"
)

// WithConcentration ends and counts down concentration spells when the
// initiative tracker advances.
//
// When the current entry changes from one existing entry to a different
// one, characters of the outgoing entry whose concentration has no rounds
// left stop concentrating. After the wrapped reducer has run, characters of
// the incoming entry lose one round. Starting or ending an encounter does
// neither.
func WithConcentration(next Reducer[state.State]) Reducer[state.State] {
	return Func[state.State](func(s state.State, a action.Action) (state.State, error) {
		if a.Type != action.InitiativeTrackerSetCurrentEntry {
			return next.Reduce(s, a)
		}
		target, err := action.Decode[state.ID](a)
		if err != nil {
			return s, err
		}
		current := s.InitiativeTracker.CurrentEntryID
		if target == "" || current == "" || current == target || !s.InitiativeTracker.Entries.Has(current) {
			return next.Reduce(s, a)
		}

		ended := forEachCharacterOfCurrentEntry(s, func(c state.Character) state.Character {
			if c.CurrentlyConcentratingOn != nil && c.CurrentlyConcentratingOn.RoundsLeft <= 0 {
				c.CurrentlyConcentratingOn = nil
			}
			return c
		})

		advanced, err := next.Reduce(ended, a)
		if err != nil {
			return s, err
		}
		if advanced.InitiativeTracker.CurrentEntryID != target {
			return s, fmt.Errorf("current entry is %q after advancing to %q", advanced.InitiativeTracker.CurrentEntryID, target)
		}

		return forEachCharacterOfCurrentEntry(advanced, func(c state.Character) state.Character {
			if c.CurrentlyConcentratingOn != nil {
				con := *c.CurrentlyConcentratingOn
				con.RoundsLeft--
				c.CurrentlyConcentratingOn = &con
			}
			return c
		}), nil
	})
}

func forEachCharacterOfCurrentEntry(s state.State, fn func(state.Character) state.Character) state.State {
	entry, ok := s.InitiativeTracker.Entries.Get(s.InitiativeTracker.CurrentEntryID)
	if !ok || entry.Type == state.InitiativeEntryLairAction {
		return s
	}
	chars := s.Characters
	for _, id := range entry.CharacterIDs {
		chars, _ = characters.UpdateOne(chars, id, fn)
	}
	return s.WithCharacters(chars)
}
