package state

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Entity is implemented by every record stored in a Collection.
type Entity interface {
	EntityID() ID
}

// Collection is a normalized set of entities: a map from id to entity plus the
// ordered list of ids. IDs is always exactly the key set of Entities.
type Collection[E Entity] struct {
	Entities map[ID]E `json:"entities"`
	IDs      []ID     `json:"ids"`
}

// EmptyCollection returns a collection with no entities.
func EmptyCollection[E Entity]() Collection[E] {
	return Collection[E]{
		Entities: map[ID]E{},
		IDs:      []ID{},
	}
}

// CollectionOf builds a collection containing entities in the given order.
// Later entities with a duplicate id overwrite earlier ones in place.
func CollectionOf[E Entity](entities ...E) Collection[E] {
	return NewAdapter[E]().AddMany(EmptyCollection[E](), entities...)
}

// Get returns the entity with the given id.
func (c Collection[E]) Get(id ID) (E, bool) {
	e, ok := c.Entities[id]
	return e, ok
}

// Has reports whether the collection contains id.
func (c Collection[E]) Has(id ID) bool {
	_, ok := c.Entities[id]
	return ok
}

// Len returns the number of entities.
func (c Collection[E]) Len() int {
	return len(c.IDs)
}

// All returns the entities in collection order.
func (c Collection[E]) All() []E {
	out := make([]E, 0, len(c.IDs))
	for _, id := range c.IDs {
		out = append(out, c.Entities[id])
	}
	return out
}

// IndexOf returns the position of id in the ordered id list, or -1.
func (c Collection[E]) IndexOf(id ID) int {
	for i, each := range c.IDs {
		if each == id {
			return i
		}
	}
	return -1
}

// Validate checks that IDs is exactly the key set of Entities and that every
// entity is stored under its own id.
func (c Collection[E]) Validate() error {
	if len(c.IDs) != len(c.Entities) {
		return fmt.Errorf("state: collection has %d ids but %d entities", len(c.IDs), len(c.Entities))
	}
	seen := make(map[ID]struct{}, len(c.IDs))
	for _, id := range c.IDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("state: duplicate id %q", id)
		}
		seen[id] = struct{}{}
		e, ok := c.Entities[id]
		if !ok {
			return fmt.Errorf("state: dangling id %q", id)
		}
		if e.EntityID() != id {
			return fmt.Errorf("state: entity %q stored under id %q", e.EntityID(), id)
		}
	}
	return nil
}

// MarshalJSON encodes nil maps and slices as empty values so that the wire
// form never contains null collections.
func (c Collection[E]) MarshalJSON() ([]byte, error) {
	type wire struct {
		Entities map[ID]E `json:"entities"`
		IDs      []ID     `json:"ids"`
	}
	w := wire{Entities: c.Entities, IDs: c.IDs}
	if w.Entities == nil {
		w.Entities = map[ID]E{}
	}
	if w.IDs == nil {
		w.IDs = []ID{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a collection and normalizes missing fields to empty.
func (c *Collection[E]) UnmarshalJSON(data []byte) error {
	type wire struct {
		Entities map[ID]E `json:"entities"`
		IDs      []ID     `json:"ids"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Entities == nil {
		w.Entities = map[ID]E{}
	}
	if w.IDs == nil {
		w.IDs = []ID{}
	}
	c.Entities = w.Entities
	c.IDs = w.IDs
	return nil
}

// clone returns a shallow copy: a fresh map and id slice sharing the entities.
func (c Collection[E]) clone() Collection[E] {
	entities := make(map[ID]E, len(c.Entities)+1)
	for id, e := range c.Entities {
		entities[id] = e
	}
	ids := make([]ID, len(c.IDs), len(c.IDs)+1)
	copy(ids, c.IDs)
	return Collection[E]{Entities: entities, IDs: ids}
}

// Adapter performs copy-on-write operations on collections of one entity
// type. A zero Adapter keeps insertion order.
type Adapter[E Entity] struct {
	compare func(a, b E) int
}

// NewAdapter returns an adapter that keeps insertion order.
func NewAdapter[E Entity]() Adapter[E] {
	return Adapter[E]{}
}

// NewSortedAdapter returns an adapter that keeps ids sorted by compare after
// every add and update. compare returns a negative number when a sorts before
// b. Ties keep their previous relative order.
func NewSortedAdapter[E Entity](compare func(a, b E) int) Adapter[E] {
	return Adapter[E]{compare: compare}
}

// AddOne adds e, overwriting an existing entity with the same id in place.
func (a Adapter[E]) AddOne(c Collection[E], e E) Collection[E] {
	next := c.clone()
	a.put(&next, e)
	a.sort(&next)
	return next
}

// AddMany adds every entity in order.
func (a Adapter[E]) AddMany(c Collection[E], entities ...E) Collection[E] {
	next := c.clone()
	for _, e := range entities {
		a.put(&next, e)
	}
	a.sort(&next)
	return next
}

// UpdateOne replaces the entity with id by fn(entity). It returns the input
// collection and false if id is absent.
func (a Adapter[E]) UpdateOne(c Collection[E], id ID, fn func(E) E) (Collection[E], bool) {
	e, ok := c.Entities[id]
	if !ok {
		return c, false
	}
	updated := fn(e)
	if updated.EntityID() != id {
		// Re-keying would break the ids/entities invariant.
		return c, false
	}
	next := c.clone()
	next.Entities[id] = updated
	a.sort(&next)
	return next, true
}

// RemoveOne removes the entity with id. It returns the input collection and
// false if id is absent.
func (a Adapter[E]) RemoveOne(c Collection[E], id ID) (Collection[E], bool) {
	if _, ok := c.Entities[id]; !ok {
		return c, false
	}
	next := c.clone()
	delete(next.Entities, id)
	ids := next.IDs[:0]
	for _, each := range next.IDs {
		if each != id {
			ids = append(ids, each)
		}
	}
	next.IDs = ids
	return next, true
}

// Sorted reports whether the adapter carries a comparator.
func (a Adapter[E]) Sorted() bool {
	return a.compare != nil
}

func (a Adapter[E]) put(c *Collection[E], e E) {
	id := e.EntityID()
	if _, exists := c.Entities[id]; !exists {
		c.IDs = append(c.IDs, id)
	}
	c.Entities[id] = e
}

func (a Adapter[E]) sort(c *Collection[E]) {
	if a.compare == nil {
		return
	}
	entities := c.Entities
	sort.SliceStable(c.IDs, func(i, j int) bool {
		return a.compare(entities[c.IDs[i]], entities[c.IDs[j]]) < 0
	})
}
