// Package state defines the normalized, versioned tabletop state shared by the
// server and every client.
//
// The state is a tree of named slices. Scalar slices (global settings) are
// plain structs; homogeneous sets of records are stored in entity collections:
//
//	type Collection[E Entity] struct {
//	    Entities map[ID]E // id -> entity
//	    IDs      []ID     // ordered key set of Entities
//	}
//
// # Immutability
//
// State values are never mutated in place. Every operation of an Adapter
// returns a new Collection that shares the untouched entities with its input,
// so a reducer can return a new State while the old one remains valid for
// reconciliation and patch computation:
//
//	players := state.NewAdapter[state.Player]()
//	next := s.WithPlayers(players.AddOne(s.Players, p))
//	// s is unchanged
//
// Pointer fields inside entities are treated as immutable as well: code that
// needs a different value allocates a new one.
//
// # Ordering
//
// By default a collection keeps insertion order. A sorted adapter re-applies
// its comparator with a stable sort after every add and update, so entities
// that compare equal keep their previous relative order:
//
//	byInitiative := state.NewSortedAdapter(func(a, b state.InitiativeEntry) int {
//	    return b.Initiative - a.Initiative
//	})
//
// # Validation
//
// Validate checks every collection invariant (ids is exactly the key set of
// entities) and cross references such as the current initiative entry. It is
// used by the reconciler and the snapshot loader to fail closed on malformed
// input.
package state
