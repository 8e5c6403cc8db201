package server

import "github.com/vango-dev/tablesync/pkg/action"

// updateRing remembers the most recent update ids. When full, the oldest
// id is forgotten.
type updateRing struct {
	ids  []action.UpdateID
	set  map[action.UpdateID]struct{}
	next int
}

func newUpdateRing(size int) *updateRing {
	return &updateRing{
		ids: make([]action.UpdateID, 0, size),
		set: make(map[action.UpdateID]struct{}, size),
	}
}

// Has reports whether id is remembered.
func (r *updateRing) Has(id action.UpdateID) bool {
	_, ok := r.set[id]
	return ok
}

// Add remembers id.
func (r *updateRing) Add(id action.UpdateID) {
	if cap(r.ids) == 0 || r.Has(id) {
		return
	}
	if len(r.ids) < cap(r.ids) {
		r.ids = append(r.ids, id)
	} else {
		delete(r.set, r.ids[r.next])
		r.ids[r.next] = id
		r.next = (r.next + 1) % len(r.ids)
	}
	r.set[id] = struct{}{}
}

// Len returns the number of remembered ids.
func (r *updateRing) Len() int {
	return len(r.ids)
}
